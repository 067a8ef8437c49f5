package roomsync

import (
	"encoding/json"
)

// Element is one drawing primitive as the editing engine serializes it.
// The element schema is owned by the engine; this library only relies on the
// identity and version fields below and passes everything else through
// untouched.
type Element map[string]any

func (self Element) Id() string {
	s, _ := self["id"].(string)
	return s
}

func (self Element) Type() string {
	s, _ := self["type"].(string)
	return s
}

func (self Element) Version() int64 {
	return intField(self, "version")
}

func (self Element) VersionNonce() int64 {
	return intField(self, "versionNonce")
}

func (self Element) Updated() int64 {
	return intField(self, "updated")
}

func (self Element) IsDeleted() bool {
	b, _ := self["isDeleted"].(bool)
	return b
}

// FileId returns the referenced asset id for image elements.
func (self Element) FileId() (FileId, bool) {
	if self.Type() != "image" {
		return "", false
	}
	s, ok := self["fileId"].(string)
	if !ok || s == "" {
		return "", false
	}
	return FileId(s), true
}

// numeric fields arrive as float64 after a JSON round trip
func intField(element Element, key string) int64 {
	switch v := element[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		i, _ := v.Int64()
		return i
	default:
		return 0
	}
}

// SceneVersion derives the scene revision counter from an element
// collection: the sum of the per-element edit counters, truncated to 32 bits.
// Element-wise identical collections always map to the same value.
func SceneVersion(elements []Element) uint32 {
	var version int64
	for _, element := range elements {
		version += element.Version()
	}
	return uint32(version)
}

// ImageFileIds returns the distinct asset ids referenced by image elements,
// in first-reference order.
func ImageFileIds(elements []Element) []FileId {
	seen := map[FileId]bool{}
	fileIds := []FileId{}
	for _, element := range elements {
		fileId, ok := element.FileId()
		if !ok || seen[fileId] {
			continue
		}
		seen[fileId] = true
		fileIds = append(fileIds, fileId)
	}
	return fileIds
}

func ElementsToJson(elements []Element) ([]byte, error) {
	if elements == nil {
		elements = []Element{}
	}
	return json.Marshal(elements)
}

func ElementsFromJson(elementsJson []byte) ([]Element, error) {
	var elements []Element
	if err := json.Unmarshal(elementsJson, &elements); err != nil {
		return nil, err
	}
	return elements, nil
}

// AppState is the ambient editor state handed through to the merge function.
// Opaque to this library.
type AppState map[string]any

// MergeFunc combines a local and a remote element collection into one
// consistent collection. Must be pure and idempotent on already-consistent
// inputs.
type MergeFunc func(localElements []Element, remoteElements []Element, appState AppState) []Element

// RestoreFunc normalizes elements loaded from storage before they are handed
// back to the editing engine.
type RestoreFunc func(elements []Element) []Element

// MergeByVersion is the default merge: per element id the higher version
// wins, with versionNonce as the tiebreak for equal versions. Local ordering
// is kept for elements both sides know; remote-only elements are appended in
// remote order.
func MergeByVersion(localElements []Element, remoteElements []Element, appState AppState) []Element {
	remoteById := map[string]Element{}
	for _, element := range remoteElements {
		remoteById[element.Id()] = element
	}

	merged := []Element{}
	seen := map[string]bool{}
	for _, local := range localElements {
		elementId := local.Id()
		seen[elementId] = true
		remote, ok := remoteById[elementId]
		if !ok {
			merged = append(merged, local)
			continue
		}
		merged = append(merged, newerElement(local, remote))
	}
	for _, remote := range remoteElements {
		if !seen[remote.Id()] {
			merged = append(merged, remote)
		}
	}
	return merged
}

func newerElement(a Element, b Element) Element {
	if a.Version() != b.Version() {
		if b.Version() < a.Version() {
			return a
		}
		return b
	}
	if b.VersionNonce() < a.VersionNonce() {
		return a
	}
	return b
}
