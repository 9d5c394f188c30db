// Package conn owns the lifecycle of the single push subscription:
// candidate-endpoint dialing, bounded exponential backoff, and the
// connection-state value the rest of the client observes. Failures are
// represented as state, never as errors thrown to callers.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/bazaarhq/livesync/internal/event"
	"github.com/bazaarhq/livesync/internal/metrics"
	"github.com/bazaarhq/livesync/internal/token"
)

const readLimit = 1 << 20

// wsConn abstracts the WebSocket connection so the manager can be
// tested without a real server.
type wsConn interface {
	Read(ctx context.Context) ([]byte, error)
	Close(code websocket.StatusCode, reason string) error
}

// Dialer performs one handshake against one endpoint with the given
// bearer credential.
type Dialer func(ctx context.Context, url, bearer string) (wsConn, error)

// Config holds connection policy.
type Config struct {
	// Endpoints is the prioritized candidate list. All candidates are
	// dialed concurrently; the first completed handshake wins and the
	// rest are aborted. A batch where every candidate fails counts as
	// one failed attempt.
	Endpoints []string

	// MaxAttempts bounds consecutive failed attempts before the
	// manager gives up and requires an explicit Connect() to retry.
	MaxAttempts int

	BackoffBase time.Duration
	BackoffCap  time.Duration
	DialTimeout time.Duration

	// EventBuffer sizes the inbound event channel.
	EventBuffer int
}

// Manager owns the single push subscription for a client session.
type Manager struct {
	cfg    Config
	tokens token.Source
	logger *zap.Logger
	dial   Dialer

	events chan event.Envelope

	mu      sync.Mutex
	state   State
	subs    []func(State)
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a disconnected manager.
func New(cfg Config, tokens token.Source, logger *zap.Logger) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 6
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}

	return &Manager{
		cfg:    cfg,
		tokens: tokens,
		logger: logger,
		dial:   dialWebsocket,
		events: make(chan event.Envelope, cfg.EventBuffer),
	}
}

// Events returns the stream of decoded inbound events, in arrival order.
func (m *Manager) Events() <-chan event.Envelope {
	return m.events
}

// GetState returns the current connection state.
func (m *Manager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers an observer invoked on every transition.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// Connect starts the subscription loop. Calling it while a session is
// already running is a no-op; calling it after Failed or Disconnected
// starts a fresh attempt sequence.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go m.run(runCtx, done)
}

// Disconnect tears the subscription down. Any backoff wait in progress
// is cancelled; no automatic retry follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.mu.Unlock()
		close(done)
	}()

	attempts := 0
	backoff := m.cfg.BackoffBase
	connectedBefore := false

	for {
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return
		}

		if connectedBefore {
			m.setState(StateReconnecting)
		} else {
			m.setState(StateConnecting)
		}

		c, err := m.dialAny(ctx)
		if err != nil {
			metrics.RecordConnectAttempt("error")
			attempts++
			if attempts >= m.cfg.MaxAttempts {
				m.logger.Warn("connection attempts exhausted",
					zap.Int("attempts", attempts),
					zap.Error(err),
				)
				m.setState(StateFailed)
				return
			}

			m.logger.Warn("connection attempt failed, backing off",
				zap.Int("attempt", attempts),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				m.setState(StateDisconnected)
				return
			case <-timer.C:
			}

			backoff = min(backoff*2, m.cfg.BackoffCap)
			continue
		}

		metrics.RecordConnectAttempt("ok")
		attempts = 0
		backoff = m.cfg.BackoffBase
		connectedBefore = true
		m.setState(StateConnected)

		err = m.readLoop(ctx, c)
		c.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return
		}

		if isPermanentClose(err) {
			// Server closed the session for good; an explicit
			// Connect() is required to resubscribe.
			m.logger.Info("push channel closed by server", zap.Error(err))
			m.setState(StateDisconnected)
			return
		}

		m.logger.Warn("push channel dropped, reconnecting", zap.Error(err))
	}
}

// dialAny races all candidate endpoints with a fresh credential; the
// first completed handshake wins and late winners are closed.
func (m *Manager) dialAny(ctx context.Context) (wsConn, error) {
	bearer, err := m.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving credential: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	type result struct {
		c   wsConn
		err error
	}
	results := make(chan result, len(m.cfg.Endpoints))
	for _, url := range m.cfg.Endpoints {
		go func(u string) {
			c, err := m.dial(dialCtx, u, bearer)
			if err != nil {
				results <- result{err: fmt.Errorf("dialing %s: %w", u, err)}
				return
			}
			results <- result{c: c}
		}(url)
	}

	var errs []error
	for remaining := len(m.cfg.Endpoints); remaining > 0; remaining-- {
		r := <-results
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}

		// Winner. Abort the rest and close any that complete anyway.
		cancel()
		go func(pending int) {
			for i := 0; i < pending; i++ {
				if late := <-results; late.err == nil {
					late.c.Close(websocket.StatusNormalClosure, "superseded")
				}
			}
		}(remaining - 1)
		return r.c, nil
	}

	return nil, errors.Join(errs...)
}

func (m *Manager) readLoop(ctx context.Context, c wsConn) error {
	for {
		data, err := c.Read(ctx)
		if err != nil {
			return err
		}

		env, err := event.Decode(data)
		if err != nil {
			m.logger.Debug("discarding unroutable frame", zap.Error(err))
			continue
		}
		metrics.RecordEvent(string(env.Kind))

		select {
		case m.events <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = s
	subs := m.subs
	m.mu.Unlock()

	metrics.SetConnectionState(int(s))
	m.logger.Debug("connection state transition",
		zap.String("from", old.String()),
		zap.String("to", s.String()),
	)
	for _, fn := range subs {
		fn(s)
	}
}

// isPermanentClose distinguishes "closed, needs explicit reconnect"
// from "dropped, will self-heal".
func isPermanentClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusPolicyViolation:
		return true
	default:
		return false
	}
}

func dialWebsocket(ctx context.Context, url, bearer string) (wsConn, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + bearer},
			"User-Agent":    []string{"livesync/1.0"},
		},
	})
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(readLimit)
	return wsAdapter{c}, nil
}

type wsAdapter struct {
	c *websocket.Conn
}

func (w wsAdapter) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w wsAdapter) Close(code websocket.StatusCode, reason string) error {
	return w.c.Close(code, reason)
}
