package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/anypay/eventhub/internal/config"
	"github.com/anypay/eventhub/internal/events"
	"github.com/anypay/eventhub/internal/metrics"
	"github.com/anypay/eventhub/internal/storage"
)

// Server owns the WebSocket endpoint: handshake and auth, the session table,
// per-session dispatch, and event fan-out to subscribers.
type Server struct {
	store      storage.Store
	dispatcher *Dispatcher
	registry   *SubscriptionRegistry
	metrics    *metrics.Metrics // optional
	upgrader   websocket.Upgrader

	queueSize    int
	drainTimeout config.Duration

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	closed   bool
}

// NewServer constructs the WebSocket front end.
func NewServer(store storage.Store, dispatcher *Dispatcher, registry *SubscriptionRegistry,
	m *metrics.Metrics, cfg config.ServerConfig, sessions config.SessionsConfig) *Server {
	return &Server{
		store:      store,
		dispatcher: dispatcher,
		registry:   registry,
		metrics:    m,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout.Duration,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		queueSize:    sessions.QueueSize,
		drainTimeout: sessions.DrainTimeout,
		sessions:     make(map[uuid.UUID]*Session),
	}
}

// Handle upgrades the request and runs the session until its socket closes.
// A missing or invalid token leaves the session connected but anonymous;
// commands that need auth reject it individually.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	var accountID *int64
	if token != "" {
		if id, err := s.store.GetAccountIDByToken(r.Context(), token); err == nil {
			accountID = &id
		} else if err != storage.ErrNotFound {
			log.Error().Err(err).Msg("ws.token_lookup_failed")
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("ws.upgrade_failed")
		return
	}

	sess := NewSession(conn, accountID, s.queueSize)
	if !s.register(sess) {
		sess.Close()
		sess.closeConn()
		return
	}

	log.Info().
		Str("session", sess.ID.String()).
		Bool("authenticated", sess.Authenticated()).
		Msg("ws.session_opened")

	go sess.WriteLoop(s.drainTimeout.Duration)
	s.readLoop(r.Context(), sess)
	s.remove(sess)
}

// bearerToken pulls the token from the Authorization header, falling back to
// the Authorization query parameter for clients that cannot set headers.
func bearerToken(r *http.Request) string {
	raw := r.Header.Get("Authorization")
	if raw == "" {
		raw = r.URL.Query().Get("Authorization")
	}
	return strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
}

func (s *Server) readLoop(ctx context.Context, sess *Session) {
	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("session", sess.ID.String()).Msg("ws.read_closed")
			return
		}
		resp := s.dispatcher.Dispatch(ctx, sess, raw)
		if !sess.TrySend(resp) {
			s.noteDrop(sess)
			return
		}
	}
}

func (s *Server) register(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess.ID] = sess
	if s.metrics != nil {
		s.metrics.SessionsActive.Inc()
	}
	return true
}

// remove closes the session and purges it from the session table and every
// subscription it holds.
func (s *Server) remove(sess *Session) {
	sess.Close()

	s.mu.Lock()
	_, present := s.sessions[sess.ID]
	delete(s.sessions, sess.ID)
	s.mu.Unlock()

	if !present {
		return
	}
	s.registry.PurgeSession(sess.ID)
	if s.metrics != nil {
		s.metrics.SessionsActive.Dec()
	}
	log.Info().Str("session", sess.ID.String()).Msg("ws.session_closed")
}

func (s *Server) noteDrop(sess *Session) {
	if s.metrics != nil {
		s.metrics.SlowConsumerDrops.Inc()
	}
	log.Warn().Str("session", sess.ID.String()).Msg("ws.slow_consumer_evicted")
}

// Deliver implements events.Sink: payment confirmations fan out to every
// session subscribed to the invoice. A session whose queue is full is
// evicted; the others still get the event.
func (s *Server) Deliver(_ context.Context, ev events.Event) error {
	if ev.Topic != events.TopicPaymentConfirmed {
		return nil
	}
	payload, ok := ev.Payload.(events.PaymentConfirmed)
	if !ok {
		return nil
	}

	frame, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	sub := Subscription{Type: "invoice", ID: payload.Invoice.UID}
	for _, id := range s.registry.SubscribersOf(sub) {
		s.mu.RLock()
		sess, ok := s.sessions[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		if !sess.TrySend(frame) {
			s.noteDrop(sess)
			s.remove(sess)
			continue
		}
		if s.metrics != nil {
			s.metrics.EventsFanout.Inc()
		}
	}
	return nil
}

// Shutdown closes every live session. New connections are refused once it
// has run.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	open := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		s.remove(sess)
	}
	log.Info().Int("sessions", len(open)).Msg("ws.shutdown_complete")
}
