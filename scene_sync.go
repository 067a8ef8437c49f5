package roomsync

import (
	"errors"
	"fmt"
	"slices"

	"github.com/golang/glog"
)

type SceneSyncSettings struct {
	// ComputeRevision derives the scene revision counter from an element
	// collection. Must be deterministic.
	ComputeRevision func(elements []Element) uint32
	// Merge reconciles a local and a remote collection.
	Merge MergeFunc
	// Restore optionally normalizes elements coming out of storage.
	Restore RestoreFunc
}

func DefaultSceneSyncSettings() *SceneSyncSettings {
	return &SceneSyncSettings{
		ComputeRevision: SceneVersion,
		Merge:           MergeByVersion,
	}
}

// SceneLoader is the read side of the scene protocol, consumed by the asset
// refresh sweep.
type SceneLoader interface {
	Load(roomId string, roomKey string) ([]Element, error)
}

// SceneSyncClient implements the optimistic-concurrency save protocol
// against the storage backend.
//
// The revision counter is computed from content, not issued by the server,
// so two clients can race fetch-then-put and both believe they are ahead.
// There is no backend-side locking; merging in every branch is the entire
// concurrency control. A true simultaneous write can still lose an update
// inside the fetch-to-put window.
type SceneSyncClient struct {
	api    *StorageApi
	crypto RoomCrypto
	cache  *RevisionCache

	settings *SceneSyncSettings

	// set after construction, see SetAssetSync
	assets *AssetSyncClient
}

func NewSceneSyncClientWithDefaults(api *StorageApi, cache *RevisionCache) *SceneSyncClient {
	return NewSceneSyncClient(api, NewAesGcmCrypto(), cache, DefaultSceneSyncSettings())
}

func NewSceneSyncClient(api *StorageApi, crypto RoomCrypto, cache *RevisionCache, settings *SceneSyncSettings) *SceneSyncClient {
	return &SceneSyncClient{
		api:      api,
		crypto:   crypto,
		cache:    cache,
		settings: settings,
	}
}

// SetAssetSync attaches the asset client whose timestamp sweep runs after
// room-creating and local-ahead saves. Without it the sweep is skipped.
func (self *SceneSyncClient) SetAssetSync(assets *AssetSyncClient) {
	self.assets = assets
}

// IsUpToDate reports whether the backend already holds this collection for
// the session's room. Pure cache lookup, never a network call. A session
// without a live room binding has nothing to compare against and counts as
// up to date.
func (self *SceneSyncClient) IsUpToDate(session *Session, elements []Element) bool {
	if session == nil || !session.Active() {
		return true
	}
	revision, ok := self.cache.Get(session.SessionId())
	return ok && revision == self.settings.ComputeRevision(elements)
}

// Save runs one fetch-decide-write round of the save protocol and returns
// the collection that is now authoritative. saved=false means nothing was
// written: no live binding, nothing changed since the last successful save,
// or a transport/backend failure. Failures never panic past this boundary.
func (self *SceneSyncClient) Save(session *Session, localElements []Element, appState AppState) ([]Element, bool) {
	if session == nil || !session.Active() || self.IsUpToDate(session, localElements) {
		return nil, false
	}

	roomId := session.RoomId()
	roomKey := session.RoomKey()
	localRevision := self.settings.ComputeRevision(localElements)

	remoteScene, err := self.api.GetRoom(roomId)
	if err != nil {
		if !errors.Is(err, ErrRoomNotFound) {
			glog.Infof("[ss]get %s err = %s\n", roomId, err)
			return nil, false
		}

		// new room
		if err := self.putScene(roomId, roomKey, localElements, localRevision); err != nil {
			glog.Infof("[ss]create %s err = %s\n", roomId, err)
			return nil, false
		}
		self.cache.Set(session.SessionId(), localRevision)
		self.triggerAssetRefresh(roomId, roomKey)
		return slices.Clone(localElements), true
	}

	remoteElements, err := self.decryptElements(remoteScene, roomKey)
	if err != nil {
		glog.Infof("[ss]decrypt %s err = %s\n", roomId, err)
		return nil, false
	}

	// Merge in both branches. The counter is a content heuristic, not a
	// total order over writers, so it is never trusted as proof that one
	// side strictly contains the other.
	reconciledElements := self.settings.Merge(localElements, remoteElements, appState)

	if localRevision <= remoteScene.Revision {
		// local is stale or racing a concurrent writer. The +1 keeps the
		// counter moving even when both sides computed the same value.
		newRevision := remoteScene.Revision + 1
		if err := self.putScene(roomId, roomKey, reconciledElements, newRevision); err != nil {
			glog.Infof("[ss]put %s@%d err = %s\n", roomId, newRevision, err)
			return nil, false
		}
		self.cache.Set(session.SessionId(), newRevision)
		return reconciledElements, true
	}

	// local strictly ahead by the counter
	if err := self.putScene(roomId, roomKey, reconciledElements, localRevision); err != nil {
		glog.Infof("[ss]put %s@%d err = %s\n", roomId, localRevision, err)
		return nil, false
	}
	self.cache.Set(session.SessionId(), localRevision)
	self.triggerAssetRefresh(roomId, roomKey)
	return reconciledElements, true
}

// Load fetches and decrypts a room's elements without reconciliation, for
// read-only joins. Returns ErrRoomNotFound when the room does not exist yet.
func (self *SceneSyncClient) Load(roomId string, roomKey string) ([]Element, error) {
	scene, err := self.api.GetRoom(roomId)
	if err != nil {
		return nil, err
	}
	elements, err := self.decryptElements(scene, roomKey)
	if err != nil {
		return nil, err
	}
	if self.settings.Restore != nil {
		elements = self.settings.Restore(elements)
	}
	return elements, nil
}

type SaveResult struct {
	Elements []Element
	Saved    bool
}

func (self *SceneSyncClient) SaveAsync(session *Session, localElements []Element, appState AppState, callback apiCallback[*SaveResult]) {
	if session == nil {
		callback.Result(&SaveResult{Saved: false}, nil)
		return
	}
	go HandleError(func() {
		var result *SaveResult
		save := func() *SaveResult {
			elements, saved := self.Save(session, localElements, appState)
			return &SaveResult{Elements: elements, Saved: saved}
		}
		if glog.V(2) {
			result = TraceWithReturn(fmt.Sprintf("[ss]save %s", session.RoomId()), save)
		} else {
			result = save()
		}
		callback.Result(result, nil)
	}, func(err error) {
		callback.Result(nil, err)
	})
}

func (self *SceneSyncClient) LoadAsync(roomId string, roomKey string, callback apiCallback[[]Element]) {
	go HandleError(func() {
		elements, err := self.Load(roomId, roomKey)
		callback.Result(elements, err)
	}, func(err error) {
		callback.Result(nil, err)
	})
}

func (self *SceneSyncClient) putScene(roomId string, roomKey string, elements []Element, revision uint32) error {
	elementsJson, err := ElementsToJson(elements)
	if err != nil {
		return err
	}
	ciphertext, iv, err := self.crypto.Encrypt(roomKey, elementsJson)
	if err != nil {
		return err
	}
	return self.api.PutRoom(roomId, &StoredScene{
		Revision:   revision,
		Iv:         iv,
		Ciphertext: ciphertext,
	})
}

func (self *SceneSyncClient) decryptElements(scene *StoredScene, roomKey string) ([]Element, error) {
	elementsJson, err := self.crypto.Decrypt(roomKey, scene.Iv, scene.Ciphertext)
	if err != nil {
		return nil, err
	}
	return ElementsFromJson(elementsJson)
}

// fire and forget. Sweep failures are logged, never propagated into the
// triggering save.
func (self *SceneSyncClient) triggerAssetRefresh(roomId string, roomKey string) {
	assets := self.assets
	if assets == nil {
		return
	}
	go HandleError(func() {
		refreshed, errored := assets.RefreshAssetTimestamps(roomId, roomKey)
		if glog.V(2) {
			glog.Infof("[ss]refresh %s refreshed=%d errored=%d\n", roomId, len(refreshed), len(errored))
		}
	})
}
