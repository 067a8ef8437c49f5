package roomsync

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

const MimeTypeBinary = "application/octet-stream"

type AssetPayload struct {
	Id     FileId
	Buffer []byte
}

// BinaryAsset is a loaded asset with its decoded payload.
type BinaryAsset struct {
	Id       FileId
	MimeType string
	Data     []byte
	Created  time.Time
}

type AssetMetadata struct {
	MimeType string
	// unix millis, 0 when the stored payload carries no timestamp
	Created int64
}

// AssetCodec decodes the stored asset payload body (compression and
// encryption live in the editing engine's codec, not here).
type AssetCodec interface {
	Decode(payload []byte, decryptionKey string) ([]byte, *AssetMetadata, error)
}

type passthroughAssetCodec struct {
}

// NewPassthroughAssetCodec returns a codec for backends that store raw asset
// bytes: payloads pass through unchanged with empty metadata.
func NewPassthroughAssetCodec() AssetCodec {
	return &passthroughAssetCodec{}
}

func (self *passthroughAssetCodec) Decode(payload []byte, decryptionKey string) ([]byte, *AssetMetadata, error) {
	return payload, &AssetMetadata{}, nil
}

type AssetSyncSettings struct {
	Codec AssetCodec
}

func DefaultAssetSyncSettings() *AssetSyncSettings {
	return &AssetSyncSettings{
		Codec: NewPassthroughAssetCodec(),
	}
}

// AssetSyncClient persists and retrieves binary assets addressed by FileId,
// independently of the scene envelope.
type AssetSyncClient struct {
	api    *StorageApi
	scenes SceneLoader

	settings *AssetSyncSettings
}

func NewAssetSyncClientWithDefaults(api *StorageApi, scenes SceneLoader) *AssetSyncClient {
	return NewAssetSyncClient(api, scenes, DefaultAssetSyncSettings())
}

func NewAssetSyncClient(api *StorageApi, scenes SceneLoader, settings *AssetSyncSettings) *AssetSyncClient {
	return &AssetSyncClient{
		api:      api,
		scenes:   scenes,
		settings: settings,
	}
}

// SaveAssets writes each asset independently and concurrently. One failed
// write never aborts the others; the result partitions the ids.
func (self *AssetSyncClient) SaveAssets(assets []AssetPayload) (savedFiles []FileId, erroredFiles []FileId) {
	savedFiles = []FileId{}
	erroredFiles = []FileId{}

	mutex := sync.Mutex{}
	wg := sync.WaitGroup{}
	for _, asset := range assets {
		wg.Add(1)
		go func(asset AssetPayload) {
			defer wg.Done()
			err := self.api.PutFile(asset.Id, asset.Buffer)

			mutex.Lock()
			defer mutex.Unlock()
			if err != nil {
				glog.Infof("[as]put %s err = %s\n", asset.Id, err)
				erroredFiles = append(erroredFiles, asset.Id)
			} else {
				savedFiles = append(savedFiles, asset.Id)
			}
		}(asset)
	}
	wg.Wait()

	return savedFiles, erroredFiles
}

// LoadAssets fetches and decodes each distinct requested asset concurrently.
// A status >= 400 or any decode failure marks that id in the errored map and
// leaves the rest alone.
func (self *AssetSyncClient) LoadAssets(fileIds []FileId, decryptionKey string) (loadedFiles []BinaryAsset, erroredFiles map[FileId]bool) {
	loadedFiles = []BinaryAsset{}
	erroredFiles = map[FileId]bool{}

	distinctFileIds := dedupeFileIds(fileIds)

	mutex := sync.Mutex{}
	wg := sync.WaitGroup{}
	for _, fileId := range distinctFileIds {
		wg.Add(1)
		go func(fileId FileId) {
			defer wg.Done()
			asset, err := self.loadAsset(fileId, decryptionKey)

			mutex.Lock()
			defer mutex.Unlock()
			if err != nil {
				glog.Infof("[as]get %s err = %s\n", fileId, err)
				erroredFiles[fileId] = true
			} else {
				loadedFiles = append(loadedFiles, *asset)
			}
		}(fileId)
	}
	wg.Wait()

	return loadedFiles, erroredFiles
}

func (self *AssetSyncClient) loadAsset(fileId FileId, decryptionKey string) (*BinaryAsset, error) {
	payload, err := self.api.GetFile(fileId)
	if err != nil {
		return nil, err
	}
	data, metadata, err := self.settings.Codec.Decode(payload, decryptionKey)
	if err != nil {
		return nil, err
	}

	mimeType := metadata.MimeType
	if mimeType == "" {
		mimeType = MimeTypeBinary
	}
	created := time.Now()
	if 0 < metadata.Created {
		created = time.UnixMilli(metadata.Created)
	}
	return &BinaryAsset{
		Id:       fileId,
		MimeType: mimeType,
		Data:     data,
		Created:  created,
	}, nil
}

// RefreshAssetTimestamps touches the refresh timestamp of every asset the
// room's image elements reference. The touches run one at a time so the
// sweep never bursts the backend. A failed touch is recorded and the sweep
// moves on. When the scene itself cannot be loaded there is nothing to
// sweep: both lists come back empty and the condition is logged.
func (self *AssetSyncClient) RefreshAssetTimestamps(roomId string, roomKey string) (refreshed []FileId, errored []FileId) {
	refreshed = []FileId{}
	errored = []FileId{}

	elements, err := self.scenes.Load(roomId, roomKey)
	if err != nil {
		glog.Warningf("[as]refresh %s no elements = %s\n", roomId, err)
		return refreshed, errored
	}

	for _, fileId := range ImageFileIds(elements) {
		if err := self.api.PatchFileTimestamp(fileId); err != nil {
			glog.Infof("[as]refresh %s err = %s\n", fileId, err)
			errored = append(errored, fileId)
			continue
		}
		refreshed = append(refreshed, fileId)
	}
	return refreshed, errored
}

func dedupeFileIds(fileIds []FileId) []FileId {
	seen := map[FileId]bool{}
	distinct := []FileId{}
	for _, fileId := range fileIds {
		if seen[fileId] {
			continue
		}
		seen[fileId] = true
		distinct = append(distinct, fileId)
	}
	return distinct
}
