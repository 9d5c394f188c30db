// Package chat implements the per-thread message log: optimistic sends
// with a monotonic delivery state machine, edit and logical delete, and
// the inbound arrival path shared with the notification stream.
package chat

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bazaarhq/livesync/internal/metrics"
)

var (
	// ErrUnknownThread is returned when an operation references a
	// thread the store does not hold.
	ErrUnknownThread = errors.New("unknown thread id")

	// ErrUnknownMessage is returned when an operation references a
	// message not present in its thread.
	ErrUnknownMessage = errors.New("unknown message id")

	// ErrNotSelf is returned when editing a counterparty message.
	ErrNotSelf = errors.New("only own messages can be edited")
)

// Config controls store behavior.
type Config struct {
	// AutoCreateThreads makes an inbound message for an unknown thread
	// create that thread instead of being dropped. Threads are normally
	// pre-provisioned server-side, so this defaults to off.
	AutoCreateThreads bool
}

type thread struct {
	Thread
	messages []*Message
}

// Store owns all threads and their message logs.
type Store struct {
	cfg    Config
	acker  Acker
	logger *zap.Logger

	mu      sync.Mutex
	threads map[string]*thread
	order   []string
	focused string

	listeners []func()
}

// NewStore creates a store seeded with the initial thread list.
func NewStore(seed []Thread, acker Acker, cfg Config, logger *zap.Logger) *Store {
	s := &Store{
		cfg:     cfg,
		acker:   acker,
		logger:  logger,
		threads: make(map[string]*thread, len(seed)),
	}
	if s.acker == nil {
		s.acker = NopAcker{}
	}
	for _, t := range seed {
		s.threads[t.ID] = &thread{Thread: t}
		s.order = append(s.order, t.ID)
	}
	return s
}

// OnChange registers a listener invoked after every settled mutation.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// SelectThread sets the focused thread and clears its unread flag.
// Focus has no effect on message state or in-flight sends.
func (s *Store) SelectThread(id string) error {
	s.mu.Lock()
	t, ok := s.threads[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownThread, id)
	}
	s.focused = id
	t.Unread = false
	s.mu.Unlock()
	s.settled()
	return nil
}

// Send appends an outbound message with status "sent" and a locally
// generated ID, updates the thread preview immediately, and hands the
// message to the acker which drives the delivered/read transitions.
func (s *Store) Send(threadID, text string) (Message, error) {
	s.mu.Lock()
	t, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}

	msg := &Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      RoleSelf,
		Body:      text,
		CreatedAt: time.Now(),
		Status:    StatusSent,
	}
	t.messages = append(t.messages, msg)
	t.Preview = text
	t.LastActivity = msg.CreatedAt
	out := *msg
	s.mu.Unlock()

	metrics.RecordDeliveryTransition(StatusSent)
	s.settled()
	s.acker.MessageSent(threadID, out.ID)
	return out, nil
}

// EditMessage sets a new body and the edited flag on one of our own
// messages. Delivery status is untouched.
func (s *Store) EditMessage(threadID, messageID, newText string) error {
	s.mu.Lock()
	t, msg, err := s.find(threadID, messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if msg.Role != RoleSelf {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotSelf, messageID)
	}

	msg.Body = newText
	msg.Edited = true
	if s.latestVisible(t) == msg {
		t.Preview = newText
	}
	s.mu.Unlock()
	s.settled()
	return nil
}

// DeleteMessage logically removes a message and recomputes the thread
// preview from the most recent non-deleted message. The record itself
// is kept so IDs and ordering stay stable.
func (s *Store) DeleteMessage(threadID, messageID string) error {
	s.mu.Lock()
	t, msg, err := s.find(threadID, messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	msg.Deleted = true
	if latest := s.latestVisible(t); latest != nil {
		t.Preview = latest.Body
	} else {
		t.Preview = ""
	}
	s.mu.Unlock()
	s.settled()
	return nil
}

// ApplyInbound appends a counterparty message arriving from the push
// channel and marks the thread unread unless it is currently focused.
// Messages without a server-assigned ID get a local one so the log
// never holds an unaddressable entry.
func (s *Store) ApplyInbound(threadID, messageID, body string, sentAt time.Time) {
	s.mu.Lock()
	t, ok := s.threads[threadID]
	if !ok {
		if !s.cfg.AutoCreateThreads {
			s.mu.Unlock()
			s.logger.Warn("inbound message for unknown thread dropped",
				zap.String("thread_id", threadID),
			)
			return
		}
		t = &thread{Thread: Thread{ID: threadID, Title: threadID}}
		s.threads[threadID] = t
		s.order = append(s.order, threadID)
	}

	if messageID == "" {
		messageID = uuid.NewString()
	}
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	msg := &Message{
		ID:        messageID,
		ThreadID:  threadID,
		Role:      RoleCounterparty,
		Body:      body,
		CreatedAt: sentAt,
	}
	t.messages = append(t.messages, msg)
	t.Preview = body
	t.LastActivity = sentAt
	if s.focused != threadID {
		t.Unread = true
	}
	s.mu.Unlock()
	s.settled()
}

// ApplyAck advances an outbound message's delivery status. Transitions
// are monotonic: a backward ack is ignored, and a "read" ack arriving
// before "delivered" jumps straight forward, implying both.
func (s *Store) ApplyAck(threadID, messageID, status string) error {
	target, ok := statusRank[status]
	if !ok {
		return fmt.Errorf("invalid delivery status %q", status)
	}

	s.mu.Lock()
	_, msg, err := s.find(threadID, messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if msg.Role != RoleSelf {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s has no delivery status", ErrNotSelf, messageID)
	}

	current := statusRank[msg.Status]
	if target <= current {
		s.mu.Unlock()
		return nil
	}
	msg.Status = status
	s.mu.Unlock()

	metrics.RecordDeliveryTransition(status)
	s.settled()
	return nil
}

// Threads returns thread summaries in seed order.
func (s *Store) Threads() []Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Thread, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.threads[id].Thread)
	}
	return out
}

// Messages returns the non-deleted messages of a thread in log order.
func (s *Store) Messages(threadID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}
	out := make([]Message, 0, len(t.messages))
	for _, m := range t.messages {
		if !m.Deleted {
			out = append(out, *m)
		}
	}
	return out, nil
}

// Focused returns the currently selected thread ID, or "".
func (s *Store) Focused() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

// find locates a thread and message pair. Caller holds s.mu.
func (s *Store) find(threadID, messageID string) (*thread, *Message, error) {
	t, ok := s.threads[threadID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}
	for _, m := range t.messages {
		if m.ID == messageID {
			return t, m, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
}

// latestVisible returns the most recent non-deleted message of a
// thread, or nil. Caller holds s.mu.
func (s *Store) latestVisible(t *thread) *Message {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if !t.messages[i].Deleted {
			return t.messages[i]
		}
	}
	return nil
}

// settled notifies listeners. Must be called without s.mu held.
func (s *Store) settled() {
	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
