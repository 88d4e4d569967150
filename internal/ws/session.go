package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Session is one client connection: auth state plus a bounded outbound
// queue. Replies and fan-out both go through the queue, so a single writer
// goroutine owns the socket.
type Session struct {
	ID        uuid.UUID
	AccountID *int64 // nil until the token validates

	conn *websocket.Conn
	out  chan []byte

	closeOnce sync.Once
	connOnce  sync.Once
	done      chan struct{}
}

// NewSession wraps an upgraded connection. queueSize bounds the outbound
// channel; a full queue marks the session a slow consumer.
func NewSession(conn *websocket.Conn, accountID *int64, queueSize int) *Session {
	return &Session{
		ID:        uuid.New(),
		AccountID: accountID,
		conn:      conn,
		out:       make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
}

// Authenticated reports whether the session carries a validated account.
func (s *Session) Authenticated() bool { return s.AccountID != nil }

// TrySend queues a message without blocking. Reports false when the queue is
// full or the session is closed; the caller decides whether that evicts the
// session.
func (s *Session) TrySend(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

// WriteLoop forwards queued messages to the socket until the session closes,
// then drains whatever is already queued within the drain budget, tells the
// client this is a normal closure, and releases the socket.
func (s *Session) WriteLoop(drainTimeout time.Duration) {
	defer s.closeConn()
	for {
		select {
		case msg := <-s.out:
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("session", s.ID.String()).Msg("ws.write_failed")
				s.Close()
				return
			}
		case <-s.done:
			s.drain(drainTimeout)
			return
		}
	}
}

func (s *Session) drain(budget time.Duration) {
	s.conn.SetWriteDeadline(time.Now().Add(budget))
	for {
		select {
		case msg := <-s.out:
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Close marks the session closed. The writer goroutine finishes the socket:
// it drains the queue, sends the closure frame, and closes the connection.
// Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// closeConn releases the socket. Sessions whose writer never started call it
// directly.
func (s *Session) closeConn() {
	s.connOnce.Do(func() { _ = s.conn.Close() })
}

// Done is closed when the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }
