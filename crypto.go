package roomsync

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const roomKeyLengthBytes = 16

// RoomCrypto encrypts and decrypts scene payloads under a room key. The
// default implementation is AES-128-GCM with a 12 byte IV, which is what the
// web clients write, so envelopes stay readable across client types.
type RoomCrypto interface {
	Encrypt(roomKey string, plaintext []byte) (ciphertext []byte, iv []byte, err error)
	Decrypt(roomKey string, iv []byte, ciphertext []byte) ([]byte, error)
}

type aesGcmCrypto struct {
}

func NewAesGcmCrypto() RoomCrypto {
	return &aesGcmCrypto{}
}

func (self *aesGcmCrypto) Encrypt(roomKey string, plaintext []byte) ([]byte, []byte, error) {
	aead, err := roomAead(roomKey)
	if err != nil {
		return nil, nil, err
	}
	iv := make([]byte, IvLengthBytes)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, err
	}
	ciphertext := aead.Seal(nil, iv, plaintext, nil)
	return ciphertext, iv, nil
}

func (self *aesGcmCrypto) Decrypt(roomKey string, iv []byte, ciphertext []byte) ([]byte, error) {
	aead, err := roomAead(roomKey)
	if err != nil {
		return nil, err
	}
	if len(iv) != IvLengthBytes {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", IvLengthBytes, len(iv))
	}
	return aead.Open(nil, iv, ciphertext, nil)
}

func roomAead(roomKey string) (cipher.AEAD, error) {
	keyBytes, err := ParseRoomKey(roomKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// GenerateRoomKey mints a new room key: 16 random bytes, base64url without
// padding, the format room links embed.
func GenerateRoomKey() (string, error) {
	keyBytes := make([]byte, roomKeyLengthBytes)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(keyBytes), nil
}

func ParseRoomKey(roomKey string) ([]byte, error) {
	keyBytes, err := base64.RawURLEncoding.DecodeString(roomKey)
	if err != nil {
		return nil, fmt.Errorf("malformed room key: %w", err)
	}
	if len(keyBytes) != roomKeyLengthBytes {
		return nil, fmt.Errorf("room key must be %d bytes, got %d", roomKeyLengthBytes, len(keyBytes))
	}
	return keyBytes, nil
}
