package roomsync

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type SessionSettings struct {
	WsHandshakeTimeout time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
}

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		WsHandshakeTimeout: 2 * time.Second,
		PingTimeout:        15 * time.Second,
		WriteTimeout:       5 * time.Second,
	}
}

// Session is one live collaboration binding: a room id, the room key, and
// the collab socket the client is currently joined through. Saves are gated
// on the full binding; a session without a live socket never writes.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	sessionId Id
	roomId    string
	roomKey   string

	settings *SessionSettings

	mutex sync.Mutex
	ws    *websocket.Conn
}

func NewSessionWithDefaults(ctx context.Context, roomId string, roomKey string) *Session {
	return NewSession(ctx, roomId, roomKey, DefaultSessionSettings())
}

func NewSession(ctx context.Context, roomId string, roomKey string, settings *SessionSettings) *Session {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &Session{
		ctx:       cancelCtx,
		cancel:    cancel,
		sessionId: NewId(),
		roomId:    roomId,
		roomKey:   roomKey,
		settings:  settings,
	}
}

func (self *Session) SessionId() Id {
	return self.sessionId
}

func (self *Session) RoomId() string {
	return self.roomId
}

func (self *Session) RoomKey() string {
	return self.roomKey
}

// Connect dials the collab socket and starts a ping keepalive. The socket
// carries presence and live updates for the collaboration layer; this
// library only needs it as the liveness signal for the room binding.
func (self *Session) Connect(socketUrl string) error {
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(self.ctx, socketUrl, nil)
	if err != nil {
		return err
	}

	self.mutex.Lock()
	if self.ws != nil {
		self.ws.Close()
	}
	self.ws = ws
	self.mutex.Unlock()

	go self.pingLoop(ws)
	return nil
}

func (self *Session) pingLoop(ws *websocket.Conn) {
	defer self.detach(ws)

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.PingTimeout):
		}

		deadline := time.Now().Add(self.settings.WriteTimeout)
		if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			glog.Infof("[s]ping error %s = %s\n", self.sessionId, err)
			return
		}
	}
}

func (self *Session) detach(ws *websocket.Conn) {
	ws.Close()
	self.mutex.Lock()
	if self.ws == ws {
		self.ws = nil
	}
	self.mutex.Unlock()
}

func (self *Session) Connected() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.ws != nil
}

// Active means the session can sync: room id, room key, and a live socket.
func (self *Session) Active() bool {
	return self.roomId != "" && self.roomKey != "" && self.Connected()
}

func (self *Session) Close() {
	self.cancel()

	self.mutex.Lock()
	if self.ws != nil {
		self.ws.Close()
		self.ws = nil
	}
	self.mutex.Unlock()
}
