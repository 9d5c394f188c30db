package chat

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Acker is the source of delivery acknowledgments for outbound
// messages. The store tells it about every send; implementations feed
// status advances back through Store.ApplyAck. Keeping this behind an
// interface means swapping the simulated timers for real transport acks
// requires no caller changes.
type Acker interface {
	MessageSent(threadID, messageID string)
}

// NopAcker is used when acknowledgments arrive from the transport as
// events; the store does not need to schedule anything on send.
type NopAcker struct{}

func (NopAcker) MessageSent(string, string) {}

// TimerAcker simulates the acknowledgment channel: each sent message is
// advanced to delivered and then read on timers, followed by a
// synthesized counterparty reply. Demo behavior only; a deployment with
// a real ack channel uses NopAcker and routes transport acks to
// Store.ApplyAck instead.
type TimerAcker struct {
	AckDelay   time.Duration
	ReplyDelay time.Duration

	logger *zap.Logger

	mu     sync.Mutex
	store  *Store
	timers []*time.Timer
	closed bool
}

// NewTimerAcker creates an unbound simulator. Bind must be called with
// the store before any sends happen.
func NewTimerAcker(ackDelay, replyDelay time.Duration, logger *zap.Logger) *TimerAcker {
	if ackDelay <= 0 {
		ackDelay = time.Second
	}
	if replyDelay <= 0 {
		replyDelay = 3 * time.Second
	}
	return &TimerAcker{AckDelay: ackDelay, ReplyDelay: replyDelay, logger: logger}
}

// Bind attaches the store the simulated acks are delivered to. Bind is
// separate from construction because the store takes the acker as a
// constructor argument.
func (a *TimerAcker) Bind(store *Store) {
	a.mu.Lock()
	a.store = store
	a.mu.Unlock()
}

// MessageSent schedules delivered, read, and a counterparty reply.
func (a *TimerAcker) MessageSent(threadID, messageID string) {
	a.mu.Lock()
	store := a.store
	closed := a.closed
	a.mu.Unlock()

	if store == nil || closed {
		return
	}

	a.schedule(a.AckDelay, func() {
		if err := store.ApplyAck(threadID, messageID, StatusDelivered); err != nil {
			a.logger.Debug("simulated delivered ack skipped", zap.Error(err))
		}
	})
	a.schedule(2*a.AckDelay, func() {
		if err := store.ApplyAck(threadID, messageID, StatusRead); err != nil {
			a.logger.Debug("simulated read ack skipped", zap.Error(err))
		}
	})
	a.schedule(a.ReplyDelay, func() {
		store.ApplyInbound(threadID, "", "Thanks, got your message!", time.Now())
	})
}

// Close stops all pending timers. Safe to call more than once.
func (a *TimerAcker) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for _, t := range a.timers {
		t.Stop()
	}
	a.timers = nil
}

func (a *TimerAcker) schedule(d time.Duration, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.timers = append(a.timers, time.AfterFunc(d, fn))
}
