package roomsync

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// in-memory storage backend implementing the room and file endpoints
type testBackend struct {
	server *httptest.Server

	mutex sync.Mutex

	rooms map[string][]byte
	files map[FileId][]byte

	roomGets int
	roomPuts int

	failRoomGetStatus int
	failRoomPutStatus int
	failPutFile       map[FileId]bool
	failPatch         map[FileId]bool
	patchBody         string

	patches              []FileId
	activePatches        int
	maxConcurrentPatches int
}

func newTestBackend() *testBackend {
	backend := &testBackend{
		rooms:       map[string][]byte{},
		files:       map[FileId][]byte{},
		failPutFile: map[FileId]bool{},
		failPatch:   map[FileId]bool{},
	}
	backend.server = httptest.NewServer(http.HandlerFunc(backend.handle))
	return backend
}

func (self *testBackend) Url() string {
	return self.server.URL
}

func (self *testBackend) Close() {
	self.server.Close()
}

func (self *testBackend) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/rooms/"):
		self.handleRoom(w, r, strings.TrimPrefix(r.URL.Path, "/rooms/"))
	case strings.HasPrefix(r.URL.Path, "/files/") && strings.HasSuffix(r.URL.Path, "/timestamp"):
		fileId := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/files/"), "/timestamp")
		self.handleTimestamp(w, r, FileId(fileId))
	case strings.HasPrefix(r.URL.Path, "/files/"):
		self.handleFile(w, r, FileId(strings.TrimPrefix(r.URL.Path, "/files/")))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (self *testBackend) handleRoom(w http.ResponseWriter, r *http.Request, roomId string) {
	switch r.Method {
	case "GET":
		self.mutex.Lock()
		self.roomGets += 1
		failStatus := self.failRoomGetStatus
		envelope, ok := self.rooms[roomId]
		self.mutex.Unlock()

		if failStatus != 0 {
			w.WriteHeader(failStatus)
			return
		}
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(envelope)
	case "PUT":
		envelope := readAll(r)

		self.mutex.Lock()
		self.roomPuts += 1
		failStatus := self.failRoomPutStatus
		if failStatus == 0 {
			self.rooms[roomId] = envelope
		}
		self.mutex.Unlock()

		if failStatus != 0 {
			w.WriteHeader(failStatus)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (self *testBackend) handleFile(w http.ResponseWriter, r *http.Request, fileId FileId) {
	switch r.Method {
	case "PUT":
		payload := readAll(r)

		self.mutex.Lock()
		fail := self.failPutFile[fileId]
		if !fail {
			self.files[fileId] = payload
		}
		self.mutex.Unlock()

		if fail {
			w.WriteHeader(http.StatusInternalServerError)
		}
	case "GET":
		self.mutex.Lock()
		payload, ok := self.files[fileId]
		self.mutex.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(payload)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (self *testBackend) handleTimestamp(w http.ResponseWriter, r *http.Request, fileId FileId) {
	if r.Method != "PATCH" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	self.mutex.Lock()
	self.activePatches += 1
	if self.maxConcurrentPatches < self.activePatches {
		self.maxConcurrentPatches = self.activePatches
	}
	self.patches = append(self.patches, fileId)
	fail := self.failPatch[fileId]
	patchBody := self.patchBody
	self.mutex.Unlock()

	// hold the request open briefly so overlapping touches would show up
	time.Sleep(2 * time.Millisecond)

	self.mutex.Lock()
	self.activePatches -= 1
	self.mutex.Unlock()

	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if patchBody != "" {
		w.Write([]byte(patchBody))
	}
}

func (self *testBackend) seedRoom(t *testing.T, crypto RoomCrypto, roomId string, roomKey string, elements []Element, revision uint32) {
	elementsJson, err := ElementsToJson(elements)
	if err != nil {
		t.Fatal(err)
	}
	ciphertext, iv, err := crypto.Encrypt(roomKey, elementsJson)
	if err != nil {
		t.Fatal(err)
	}
	envelope, err := EncodeEnvelope(&StoredScene{
		Revision:   revision,
		Iv:         iv,
		Ciphertext: ciphertext,
	})
	if err != nil {
		t.Fatal(err)
	}

	self.mutex.Lock()
	self.rooms[roomId] = envelope
	self.mutex.Unlock()
}

func (self *testBackend) roomRevision(t *testing.T, roomId string) uint32 {
	self.mutex.Lock()
	envelope, ok := self.rooms[roomId]
	self.mutex.Unlock()

	if !ok {
		t.Fatalf("no envelope for room %s", roomId)
	}
	revision, err := ParseRevision(envelope)
	if err != nil {
		t.Fatal(err)
	}
	return revision
}

func readAll(r *http.Request) []byte {
	payload, _ := io.ReadAll(r.Body)
	return payload
}

// minimal collab socket endpoint for live sessions
func newTestSocketServer() *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			defer ws.Close()
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
}

func socketUrl(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newLiveSession(t *testing.T, socketServer *httptest.Server, roomId string, roomKey string) *Session {
	session := NewSessionWithDefaults(context.Background(), roomId, roomKey)
	if err := session.Connect(socketUrl(socketServer)); err != nil {
		t.Fatal(err)
	}
	return session
}

func testRoomKey(t *testing.T) string {
	roomKey, err := GenerateRoomKey()
	if err != nil {
		t.Fatal(err)
	}
	return roomKey
}
