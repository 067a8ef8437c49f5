package roomsync

import (
	"encoding/binary"
	"fmt"
)

// One stored envelope per room:
// [revision:4 bytes BE][iv:12 bytes][ciphertext:rest]
// The layout is fixed by the storage backend contract and replaced wholesale
// on every save.

const RevisionLengthBytes = 4
const IvLengthBytes = 12

type StoredScene struct {
	Revision   uint32
	Iv         []byte
	Ciphertext []byte
}

func EncodeEnvelope(scene *StoredScene) ([]byte, error) {
	if len(scene.Iv) != IvLengthBytes {
		return nil, fmt.Errorf("envelope iv must be %d bytes, got %d", IvLengthBytes, len(scene.Iv))
	}
	envelope := make([]byte, RevisionLengthBytes+IvLengthBytes+len(scene.Ciphertext))
	binary.BigEndian.PutUint32(envelope[0:RevisionLengthBytes], scene.Revision)
	copy(envelope[RevisionLengthBytes:RevisionLengthBytes+IvLengthBytes], scene.Iv)
	copy(envelope[RevisionLengthBytes+IvLengthBytes:], scene.Ciphertext)
	return envelope, nil
}

func DecodeEnvelope(envelope []byte) (*StoredScene, error) {
	if len(envelope) < RevisionLengthBytes+IvLengthBytes {
		return nil, fmt.Errorf("envelope too short: %d bytes", len(envelope))
	}
	scene := &StoredScene{
		Revision:   binary.BigEndian.Uint32(envelope[0:RevisionLengthBytes]),
		Iv:         envelope[RevisionLengthBytes : RevisionLengthBytes+IvLengthBytes],
		Ciphertext: envelope[RevisionLengthBytes+IvLengthBytes:],
	}
	return scene, nil
}

// ParseRevision reads just the revision counter without touching the rest of
// the envelope.
func ParseRevision(envelope []byte) (uint32, error) {
	if len(envelope) < RevisionLengthBytes {
		return 0, fmt.Errorf("envelope too short: %d bytes", len(envelope))
	}
	return binary.BigEndian.Uint32(envelope[0:RevisionLengthBytes]), nil
}
