package roomsync

import (
	"sync"

	"golang.org/x/exp/maps"
)

// RevisionCache remembers the last revision each session successfully wrote,
// so a save with nothing new skips the network entirely. Owned by the
// collaboration layer and passed into the scene sync client; scoped to the
// process, never persisted. Last writer wins.
type RevisionCache struct {
	mutex     sync.Mutex
	revisions map[Id]uint32
}

func NewRevisionCache() *RevisionCache {
	return &RevisionCache{
		revisions: map[Id]uint32{},
	}
}

func (self *RevisionCache) Get(sessionId Id) (uint32, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	revision, ok := self.revisions[sessionId]
	return revision, ok
}

func (self *RevisionCache) Set(sessionId Id, revision uint32) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.revisions[sessionId] = revision
}

func (self *RevisionCache) Remove(sessionId Id) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.revisions, sessionId)
}

func (self *RevisionCache) SessionIds() []Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return maps.Keys(self.revisions)
}
