// Package notify implements the notification reconciliation engine: it
// merges the REST snapshot, push bulk replays, and individual push events
// into one deduplicated collection with a derived unread counter, and
// drives mark-as-read with optimistic updates rolled back on rejection.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bazaarhq/livesync/internal/metrics"
)

// ErrUnknownNotification is returned when an operation references an ID
// that is not in the collection.
var ErrUnknownNotification = errors.New("unknown notification id")

// Backend is the server-side surface the engine depends on. The REST
// client satisfies it; tests substitute mocks.
type Backend interface {
	FetchSnapshot(ctx context.Context) ([]Record, error)
	MarkRead(ctx context.Context, id string) error
}

// Engine owns the canonical notification collection.
//
// The unread counter is maintained incrementally with every merge and
// mutation, and is always equal to the number of collection entries with
// Read == false. Externally pushed counter values are advisory only and
// never overwrite the derived count.
type Engine struct {
	backend Backend
	logger  *zap.Logger

	mu     sync.Mutex
	items  map[string]*Notification
	order  []string // insertion order; display order is recomputed on read
	unread int

	listeners []func()
}

// NewEngine creates an empty engine backed by the given server surface.
func NewEngine(backend Backend, logger *zap.Logger) *Engine {
	return &Engine{
		backend: backend,
		logger:  logger,
		items:   make(map[string]*Notification),
	}
}

// OnChange registers a listener invoked after every settled mutation of
// the collection or the unread counter. Listeners run outside the
// engine's lock, on the goroutine that performed the mutation.
func (e *Engine) OnChange(fn func()) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// Refresh fetches a REST snapshot and merges it into the collection.
func (e *Engine) Refresh(ctx context.Context) error {
	start := time.Now()

	records, err := e.backend.FetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("fetching notification snapshot: %w", err)
	}
	metrics.RecordSnapshotFetch(time.Since(start))

	e.LoadSnapshot(records)
	return nil
}

// LoadSnapshot merges a REST-fetched batch into the collection.
func (e *Engine) LoadSnapshot(records []Record) {
	e.applyBatch(records, SourceSnapshot)
}

// ApplyBulkReplay merges a push-delivered full resync, typically sent by
// the server right after (re)connecting.
func (e *Engine) ApplyBulkReplay(records []Record) {
	e.applyBatch(records, SourcePush)
}

// ApplyPushEvent merges exactly one push-delivered record.
func (e *Engine) ApplyPushEvent(rec Record) {
	e.mu.Lock()
	e.merge(rec, SourcePush)
	e.mu.Unlock()
	e.settled()
}

func (e *Engine) applyBatch(records []Record, source Source) {
	e.mu.Lock()
	for _, rec := range records {
		e.merge(rec, source)
	}
	e.mu.Unlock()
	e.settled()
}

// merge upserts one record by ID. Caller holds e.mu.
//
// Tie-break: the record with the later creation/modification timestamp
// wins; on equal or absent timestamps the push-sourced record wins, since
// push is assumed more current than a possibly stale snapshot.
func (e *Engine) merge(rec Record, source Source) {
	if rec.ID == "" {
		// Identity is the one field safe defaults cannot replace.
		e.logger.Warn("dropping notification without id",
			zap.String("source", string(source)),
			zap.String("title", rec.Title),
		)
		metrics.RecordMalformedEvent()
		return
	}

	incoming := normalize(rec, source)

	existing, ok := e.items[rec.ID]
	if !ok {
		n := incoming
		e.items[n.ID] = &n
		e.order = append(e.order, n.ID)
		if !n.Read {
			e.unread++
		}
		metrics.RecordMerge(string(source), "inserted")
		return
	}

	if !e.wins(existing, &incoming) {
		metrics.RecordMerge(string(source), "unchanged")
		return
	}

	if existing.Read && !incoming.Read {
		e.unread++
	} else if !existing.Read && incoming.Read {
		e.unread--
	}

	// Keep the earliest observed creation time as the record's identity
	// timestamp when the incoming one is absent.
	if incoming.CreatedAt.IsZero() {
		incoming.CreatedAt = existing.CreatedAt
	}
	*existing = incoming
	metrics.RecordMerge(string(source), "updated")
}

// wins reports whether the incoming record should overwrite the existing
// one. Caller holds e.mu.
func (e *Engine) wins(existing, incoming *Notification) bool {
	switch {
	case incoming.CreatedAt.After(existing.CreatedAt):
		return true
	case existing.CreatedAt.After(incoming.CreatedAt):
		return false
	default:
		return incoming.Source == SourcePush
	}
}

// Notifications returns the collection sorted most-recent-first.
func (e *Engine) Notifications() []Notification {
	e.mu.Lock()
	out := make([]Notification, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.items[id])
	}
	e.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Unread returns the derived unread counter.
func (e *Engine) Unread() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unread
}

// Get returns a copy of one notification.
func (e *Engine) Get(id string) (Notification, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.items[id]
	if !ok {
		return Notification{}, false
	}
	return *n, true
}

// MarkAsRead optimistically flips the read flag and decrements the
// unread counter, then issues the server-side request. On rejection both
// are reverted together and the error is surfaced to the caller. Calling
// it on an already-read item is a no-op success.
func (e *Engine) MarkAsRead(ctx context.Context, id string) error {
	e.mu.Lock()
	n, ok := e.items[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownNotification, id)
	}
	if n.Read {
		e.mu.Unlock()
		return nil
	}
	// Flag and counter move together under one lock acquisition.
	n.Read = true
	e.unread--
	e.mu.Unlock()
	e.settled()

	if err := e.backend.MarkRead(ctx, id); err != nil {
		e.mu.Lock()
		if n, ok := e.items[id]; ok && n.Read {
			n.Read = false
			e.unread++
		}
		e.mu.Unlock()
		e.settled()

		metrics.RecordMarkReadRollback()
		e.logger.Warn("mark-as-read rejected, rolled back",
			zap.String("id", id),
			zap.Error(err),
		)
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}

	return nil
}

// MarkAllAsRead applies MarkAsRead to every currently-unread item. Each
// item is confirmed or rolled back independently; one rejection does not
// undo the others. The returned error joins the per-item failures.
func (e *Engine) MarkAllAsRead(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, e.unread)
	for _, id := range e.order {
		if !e.items[id].Read {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := e.MarkAsRead(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AdvisoryUnread receives an externally pushed unread count. The derived
// counter is the source of truth; a divergent advisory value is logged
// and otherwise ignored.
func (e *Engine) AdvisoryUnread(count int) {
	e.mu.Lock()
	derived := e.unread
	e.mu.Unlock()

	if count != derived {
		e.logger.Warn("pushed unread count diverges from derived count",
			zap.Int("pushed", count),
			zap.Int("derived", derived),
		)
	}
}

// settled publishes the unread gauge and notifies listeners. Must be
// called without e.mu held.
func (e *Engine) settled() {
	e.mu.Lock()
	unread := e.unread
	listeners := e.listeners
	e.mu.Unlock()

	metrics.SetUnread(unread)
	for _, fn := range listeners {
		fn()
	}
}
