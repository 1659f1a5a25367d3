package realtime

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4 * 1024
)

// NewUpgrader accepts any origin when allowedOrigins is empty or contains "*".
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[strings.TrimRight(origin, "/")]
			return ok
		},
	}
}

// WSSink delivers events as JSON text frames over a WebSocket.
type WSSink struct {
	conn     *websocket.Conn
	pongWait time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewWSSink wraps conn. pongWait must be longer than the hub's ping interval.
func NewWSSink(conn *websocket.Conn, pongWait time.Duration) *WSSink {
	return &WSSink{conn: conn, pongWait: pongWait, done: make(chan struct{})}
}

func (s *WSSink) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(ev); err != nil {
		s.shutdown()
		return err
	}
	return nil
}

func (s *WSSink) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		s.shutdown()
		return err
	}
	return nil
}

func (s *WSSink) Done() <-chan struct{} {
	return s.done
}

func (s *WSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown()
	return nil
}

// ReadPump consumes inbound frames until the peer goes away. Inbound data is
// ignored; reading is what drives pong and close handling.
func (s *WSSink) ReadPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws][read][err] %v", err)
			}
			return
		}
	}
}

// shutdown must be called with s.mu held.
func (s *WSSink) shutdown() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	_ = s.conn.Close()
}
