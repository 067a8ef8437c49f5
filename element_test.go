package roomsync

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func testElement(id string, version int64) Element {
	return Element{
		"id":           id,
		"type":         "rectangle",
		"version":      version,
		"versionNonce": int64(1),
		"isDeleted":    false,
		"updated":      int64(1000),
	}
}

func testImageElement(id string, version int64, fileId FileId) Element {
	element := testElement(id, version)
	element["type"] = "image"
	element["fileId"] = string(fileId)
	return element
}

func TestSceneVersionSumsElementVersions(t *testing.T) {
	elements := []Element{
		testElement("a", 2),
		testElement("b", 3),
	}
	assert.Equal(t, uint32(5), SceneVersion(elements))
	assert.Equal(t, uint32(0), SceneVersion([]Element{}))
	assert.Equal(t, uint32(0), SceneVersion(nil))
}

func TestSceneVersionStableAcrossJsonRoundTrip(t *testing.T) {
	elements := []Element{
		testElement("a", 2),
		testImageElement("b", 3, "file-1"),
	}

	elementsJson, err := ElementsToJson(elements)
	assert.Equal(t, nil, err)
	decoded, err := ElementsFromJson(elementsJson)
	assert.Equal(t, nil, err)

	// numbers come back as float64, the accessors must not care
	assert.Equal(t, SceneVersion(elements), SceneVersion(decoded))
	assert.Equal(t, "a", decoded[0].Id())
	assert.Equal(t, int64(2), decoded[0].Version())
	assert.Equal(t, false, decoded[0].IsDeleted())

	fileId, ok := decoded[1].FileId()
	assert.Equal(t, true, ok)
	assert.Equal(t, FileId("file-1"), fileId)
}

func TestImageFileIds(t *testing.T) {
	elements := []Element{
		testElement("a", 1),
		testImageElement("b", 1, "file-1"),
		testImageElement("c", 1, "file-2"),
		testImageElement("d", 1, "file-1"),
		// image without a file reference
		{"id": "e", "type": "image", "version": int64(1)},
	}
	assert.Equal(t, []FileId{"file-1", "file-2"}, ImageFileIds(elements))
	assert.Equal(t, []FileId{}, ImageFileIds(nil))
}

func TestMergeByVersionHigherVersionWins(t *testing.T) {
	localA := testElement("a", 5)
	remoteA := testElement("a", 7)
	remoteA["updated"] = int64(2000)

	merged := MergeByVersion([]Element{localA}, []Element{remoteA}, nil)
	assert.Equal(t, 1, len(merged))
	assert.Equal(t, int64(7), merged[0].Version())
	assert.Equal(t, int64(2000), merged[0].Updated())
}

func TestMergeByVersionNonceTiebreak(t *testing.T) {
	localA := testElement("a", 5)
	localA["versionNonce"] = int64(10)
	remoteA := testElement("a", 5)
	remoteA["versionNonce"] = int64(3)

	merged := MergeByVersion([]Element{localA}, []Element{remoteA}, nil)
	assert.Equal(t, 1, len(merged))
	assert.Equal(t, int64(10), merged[0].VersionNonce())
}

func TestMergeByVersionUnion(t *testing.T) {
	local := []Element{testElement("a", 1), testElement("b", 2)}
	remote := []Element{testElement("b", 1), testElement("c", 4)}

	merged := MergeByVersion(local, remote, nil)
	assert.Equal(t, 3, len(merged))
	assert.Equal(t, "a", merged[0].Id())
	assert.Equal(t, "b", merged[1].Id())
	assert.Equal(t, int64(2), merged[1].Version())
	assert.Equal(t, "c", merged[2].Id())
}

func TestMergeByVersionIdempotent(t *testing.T) {
	local := []Element{testElement("a", 1), testElement("b", 2)}

	merged := MergeByVersion(local, local, nil)
	assert.Equal(t, SceneVersion(local), SceneVersion(merged))
	assert.Equal(t, len(local), len(merged))
}
