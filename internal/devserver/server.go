// Package devserver is a self-contained marketplace backend simulator:
// the REST endpoints and push stream the sync client talks to, backed
// by an in-memory collection. Used for local development and
// integration tests; it is not part of the production client.
package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bazaarhq/livesync/internal/event"
	"github.com/bazaarhq/livesync/internal/metrics"
	"github.com/bazaarhq/livesync/internal/notify"
)

// Server holds the simulated backend state.
type Server struct {
	token  string
	logger *zap.Logger

	mu    sync.Mutex
	items map[string]notify.Record
	order []string
	subs  map[chan []byte]struct{}
}

// New creates a simulator accepting the given bearer token, seeded with
// the given notifications.
func New(token string, seed []notify.Record, logger *zap.Logger) *Server {
	s := &Server{
		token:  token,
		logger: logger,
		items:  make(map[string]notify.Record, len(seed)),
		subs:   make(map[chan []byte]struct{}),
	}
	for _, rec := range seed {
		s.items[rec.ID] = rec
		s.order = append(s.order, rec.ID)
	}
	return s
}

// Router builds the HTTP surface: snapshot, mark-read, push stream,
// health and metrics.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/notifications", s.handleSnapshot)
		r.Post("/notifications/{id}/read", s.handleMarkRead)
		r.Get("/stream", s.handleStream)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	return r
}

// Inject applies an event to the simulator state and broadcasts it to
// every connected stream.
func (s *Server) Inject(env event.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	switch env.Kind {
	case event.KindNotification:
		s.upsert(*env.Notification)
	case event.KindBulkReplay:
		for _, rec := range env.Replay {
			s.upsert(rec)
		}
	}
	for ch := range s.subs {
		select {
		case ch <- frame:
		default:
			// Slow consumer; the next bulk replay converges it.
		}
	}
	s.mu.Unlock()
	return nil
}

// upsert stores one record. Caller holds s.mu.
func (s *Server) upsert(rec notify.Record) {
	if rec.ID == "" {
		return
	}
	if _, ok := s.items[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.items[rec.ID] = rec
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	records := s.snapshotLocked()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")

	s.mu.Lock()
	rec, ok := s.items[id]
	if ok {
		rec.Read = true
		s.items[id] = rec
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("stream accept failed", zap.Error(err))
		return
	}
	defer c.CloseNow()

	ctx := c.CloseRead(r.Context())

	// Full resync right after the handshake, before live events.
	s.mu.Lock()
	replay := event.Envelope{Kind: event.KindBulkReplay, Replay: s.snapshotLocked()}
	ch := make(chan []byte, 32)
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}()

	frame, err := replay.Encode()
	if err == nil {
		err = c.Write(ctx, websocket.MessageText, frame)
	}
	if err != nil {
		s.logger.Debug("stream replay write failed", zap.Error(err))
		return
	}

	s.logger.Info("stream subscriber connected", zap.String("remote", r.RemoteAddr))

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// snapshotLocked returns the collection in insertion order. Caller
// holds s.mu.
func (s *Server) snapshotLocked() []notify.Record {
	records := make([]notify.Record, 0, len(s.order))
	for _, id := range s.order {
		records = append(records, s.items[id])
	}
	return records
}

// authorized accepts the bearer token via header, or via query
// parameter for browser WebSocket clients that cannot set headers.
func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ") == s.token
	}
	return r.URL.Query().Get("token") == s.token
}
