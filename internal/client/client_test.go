package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bazaarhq/livesync/internal/chat"
	"github.com/bazaarhq/livesync/internal/conn"
	"github.com/bazaarhq/livesync/internal/event"
	"github.com/bazaarhq/livesync/internal/notify"
)

// stubSource feeds scripted envelopes into the client's dispatch loop.
type stubSource struct {
	events chan event.Envelope

	mu          sync.Mutex
	state       conn.State
	connects    int
	disconnects int
	subs        []func(conn.State)
}

func newStubSource() *stubSource {
	return &stubSource{events: make(chan event.Envelope, 16)}
}

func (s *stubSource) Connect(ctx context.Context) {
	s.mu.Lock()
	s.connects++
	s.mu.Unlock()
	s.setState(conn.StateConnected)
}

func (s *stubSource) Disconnect() {
	s.mu.Lock()
	s.disconnects++
	s.mu.Unlock()
	s.setState(conn.StateDisconnected)
}

func (s *stubSource) GetState() conn.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stubSource) OnStateChange(fn func(conn.State)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func (s *stubSource) Events() <-chan event.Envelope { return s.events }

func (s *stubSource) setState(st conn.State) {
	s.mu.Lock()
	s.state = st
	subs := s.subs
	s.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

type stubBackend struct {
	snapshot    []notify.Record
	snapshotErr error
}

func (b *stubBackend) FetchSnapshot(context.Context) ([]notify.Record, error) {
	return b.snapshot, b.snapshotErr
}

func (b *stubBackend) MarkRead(context.Context, string) error { return nil }

func newTestClient(t *testing.T, backend *stubBackend) (*Client, *stubSource) {
	t.Helper()
	source := newStubSource()
	engine := notify.NewEngine(backend, zap.NewNop())
	chats := chat.NewStore([]chat.Thread{{ID: "t1", Title: "Acme"}}, chat.NopAcker{}, chat.Config{}, zap.NewNop())
	c := New(source, engine, chats, zap.NewNop())
	t.Cleanup(c.Stop)
	return c, source
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestClient_StartFetchesSnapshotAndConnects(t *testing.T) {
	backend := &stubBackend{snapshot: []notify.Record{
		{ID: "n1", Kind: "order", Title: "Order shipped", CreatedAt: time.Now()},
	}}
	c, source := newTestClient(t, backend)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := len(c.Notifications()); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}
	if c.ConnectionState() != conn.StateConnected {
		t.Fatalf("state = %s, want connected", c.ConnectionState())
	}
	_ = source
}

func TestClient_SnapshotFailureStillConnects(t *testing.T) {
	backend := &stubBackend{snapshotErr: errors.New("backend down")}
	c, source := newTestClient(t, backend)

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected snapshot error surfaced from Start")
	}

	source.mu.Lock()
	connects := source.connects
	source.mu.Unlock()
	if connects != 1 {
		t.Fatalf("connects = %d, want 1 despite snapshot failure", connects)
	}

	// The bulk replay on connect converges the collection anyway.
	source.events <- event.Envelope{Kind: event.KindBulkReplay, Replay: []notify.Record{
		{ID: "n1", Kind: "order", CreatedAt: time.Now()},
	}}
	waitFor(t, func() bool { return len(c.Notifications()) == 1 },
		"bulk replay never reached the engine")
}

func TestClient_RoutesNotificationEvents(t *testing.T) {
	c, source := newTestClient(t, &stubBackend{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	source.events <- event.Envelope{Kind: event.KindNotification, Notification: &notify.Record{
		ID: "n1", Kind: "price_drop", Title: "Price dropped", CreatedAt: time.Now(),
	}}

	waitFor(t, func() bool { return c.Unread() == 1 }, "notification never merged")
	if got := c.Notifications(); len(got) != 1 || got[0].ID != "n1" {
		t.Fatalf("notifications = %+v", got)
	}
}

func TestClient_RoutesChatEvents(t *testing.T) {
	c, source := newTestClient(t, &stubBackend{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	source.events <- event.Envelope{Kind: event.KindChatMessage, Chat: &event.ChatMessage{
		ThreadID: "t1", MessageID: "m1", Body: "Is this available?", SentAt: time.Now(),
	}}

	waitFor(t, func() bool {
		msgs, err := c.Messages("t1")
		return err == nil && len(msgs) == 1
	}, "chat message never reached the store")

	threads := c.Threads()
	if !threads[0].Unread {
		t.Fatal("inbound chat message should mark the thread unread")
	}
}

func TestClient_AdvisoryUnreadDoesNotOverrideCounter(t *testing.T) {
	c, source := newTestClient(t, &stubBackend{snapshot: []notify.Record{
		{ID: "n1", Kind: "order", CreatedAt: time.Now()},
	}})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	source.events <- event.Envelope{Kind: event.KindUnreadCount, Unread: 99}
	source.events <- event.Envelope{Kind: event.KindNotification, Notification: &notify.Record{
		ID: "n2", Kind: "order", CreatedAt: time.Now(),
	}}

	waitFor(t, func() bool { return len(c.Notifications()) == 2 }, "push event never merged")
	if got := c.Unread(); got != 2 {
		t.Fatalf("unread = %d, want derived value 2, not advisory 99", got)
	}
}

func TestClient_EventOrderPreserved(t *testing.T) {
	c, source := newTestClient(t, &stubBackend{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ts := time.Now()
	source.events <- event.Envelope{Kind: event.KindNotification, Notification: &notify.Record{
		ID: "n1", Kind: "order", Title: "v1", CreatedAt: ts,
	}}
	source.events <- event.Envelope{Kind: event.KindNotification, Notification: &notify.Record{
		ID: "n1", Kind: "order", Title: "v2", CreatedAt: ts.Add(time.Second),
	}}

	waitFor(t, func() bool {
		got := c.Notifications()
		return len(got) == 1 && got[0].Title == "v2"
	}, "later event never won the merge")
}

func TestClient_StopShutsDownDispatch(t *testing.T) {
	c, source := newTestClient(t, &stubBackend{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.Stop()
	source.mu.Lock()
	disconnects := source.disconnects
	source.mu.Unlock()
	if disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", disconnects)
	}

	// Events after Stop are not dispatched.
	source.events <- event.Envelope{Kind: event.KindNotification, Notification: &notify.Record{
		ID: "n1", Kind: "order", CreatedAt: time.Now(),
	}}
	time.Sleep(20 * time.Millisecond)
	if got := len(c.Notifications()); got != 0 {
		t.Fatalf("notifications = %d after stop, want 0", got)
	}
}

func TestClient_ReconnectDelegates(t *testing.T) {
	c, source := newTestClient(t, &stubBackend{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.Reconnect(context.Background())
	source.mu.Lock()
	connects := source.connects
	source.mu.Unlock()
	if connects != 2 {
		t.Fatalf("connects = %d, want 2", connects)
	}
}

func TestClient_ConnectionStateObserver(t *testing.T) {
	c, source := newTestClient(t, &stubBackend{})

	var mu sync.Mutex
	var seen []conn.State
	c.OnConnectionState(func(s conn.State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = source

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[0] != conn.StateConnected {
		t.Fatalf("observed transitions = %v", seen)
	}
}
