// Package client wires the connection manager, the notification
// reconciliation engine, and the chat store into one sync client, and
// exposes the imperative surface the UI layer calls.
package client

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/bazaarhq/livesync/internal/chat"
	"github.com/bazaarhq/livesync/internal/conn"
	"github.com/bazaarhq/livesync/internal/event"
	"github.com/bazaarhq/livesync/internal/notify"
)

// EventSource is the push subscription surface the client consumes.
// *conn.Manager satisfies it; tests substitute stubs.
type EventSource interface {
	Connect(ctx context.Context)
	Disconnect()
	GetState() conn.State
	OnStateChange(fn func(conn.State))
	Events() <-chan event.Envelope
}

// Client is the application-facing facade over the three sync
// components. All push events flow through a single dispatch goroutine,
// preserving the channel's arrival order.
type Client struct {
	source EventSource
	engine *notify.Engine
	chats  *chat.Store
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New assembles a client from its three components.
func New(source EventSource, engine *notify.Engine, chats *chat.Store, logger *zap.Logger) *Client {
	return &Client{
		source: source,
		engine: engine,
		chats:  chats,
		logger: logger,
	}
}

// Start fetches the initial snapshot, establishes the push
// subscription, and begins dispatching inbound events. A snapshot
// failure is returned but does not prevent the subscription: the bulk
// replay on connect converges the collection anyway.
func (c *Client) Start(ctx context.Context) error {
	snapErr := c.engine.Refresh(ctx)
	if snapErr != nil {
		c.logger.Warn("initial snapshot failed, relying on push replay", zap.Error(snapErr))
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.stopped = make(chan struct{})
	stopped := c.stopped
	c.mu.Unlock()

	c.source.Connect(ctx)
	go c.dispatch(dispatchCtx, stopped)

	return snapErr
}

// Stop tears down the subscription and the dispatch loop.
func (c *Client) Stop() {
	c.source.Disconnect()

	c.mu.Lock()
	cancel := c.cancel
	stopped := c.stopped
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (c *Client) dispatch(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.source.Events():
			c.route(env)
		}
	}
}

func (c *Client) route(env event.Envelope) {
	switch env.Kind {
	case event.KindNotification:
		c.engine.ApplyPushEvent(*env.Notification)

	case event.KindBulkReplay:
		c.engine.ApplyBulkReplay(env.Replay)

	case event.KindChatMessage:
		c.chats.ApplyInbound(env.Chat.ThreadID, env.Chat.MessageID, env.Chat.Body, env.Chat.SentAt)

	case event.KindUnreadCount:
		c.engine.AdvisoryUnread(env.Unread)

	default:
		c.logger.Debug("ignoring event of unknown kind", zap.String("kind", string(env.Kind)))
	}
}

// ConnectionState reports the push subscription state.
func (c *Client) ConnectionState() conn.State { return c.source.GetState() }

// OnConnectionState registers a connection-state observer.
func (c *Client) OnConnectionState(fn func(conn.State)) { c.source.OnStateChange(fn) }

// Reconnect restarts the subscription after the attempt cap was
// exhausted. External intervention is the only way out of Failed.
func (c *Client) Reconnect(ctx context.Context) { c.source.Connect(ctx) }

// Notifications returns the merged collection, most recent first.
func (c *Client) Notifications() []notify.Notification { return c.engine.Notifications() }

// Unread returns the derived unread counter.
func (c *Client) Unread() int { return c.engine.Unread() }

// MarkAsRead flips one notification read with optimistic update.
func (c *Client) MarkAsRead(ctx context.Context, id string) error {
	return c.engine.MarkAsRead(ctx, id)
}

// MarkAllAsRead marks every unread notification, independently per item.
func (c *Client) MarkAllAsRead(ctx context.Context) error {
	return c.engine.MarkAllAsRead(ctx)
}

// Threads returns all thread summaries.
func (c *Client) Threads() []chat.Thread { return c.chats.Threads() }

// Messages returns a thread's visible message log.
func (c *Client) Messages(threadID string) ([]chat.Message, error) {
	return c.chats.Messages(threadID)
}

// SelectThread focuses a thread.
func (c *Client) SelectThread(id string) error { return c.chats.SelectThread(id) }

// Send appends an optimistic outbound message to a thread.
func (c *Client) Send(threadID, text string) (chat.Message, error) {
	return c.chats.Send(threadID, text)
}

// EditMessage edits one of our own messages.
func (c *Client) EditMessage(threadID, messageID, newText string) error {
	return c.chats.EditMessage(threadID, messageID, newText)
}

// DeleteMessage logically deletes a message.
func (c *Client) DeleteMessage(threadID, messageID string) error {
	return c.chats.DeleteMessage(threadID, messageID)
}
