package notify

import (
	"strings"
	"time"
)

// Source tags which channel most recently produced a record.
type Source string

const (
	SourceSnapshot Source = "snapshot"
	SourcePush     Source = "push"
)

// Priority constants
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Record is the provenance-neutral inbound shape of a notification.
// Both the REST snapshot and the push channel deliver this shape; fields
// the sender omits decode to zero values and are kept as safe defaults.
type Record struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	SubjectID  string    `json:"subject_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Read       bool      `json:"read"`
	Priority   string    `json:"priority"`
	OutOfStock bool      `json:"out_of_stock"`
}

// Notification is the canonical client-side record. Exactly one live
// Notification exists per ID regardless of how many sources delivered it.
type Notification struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	SubjectID  string    `json:"subject_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Read       bool      `json:"read"`
	Priority   string    `json:"priority"`
	OutOfStock bool      `json:"out_of_stock"`
	Source     Source    `json:"source"`
}

// outOfStockKinds is the fixed vocabulary of kind tags that classify a
// notification as out-of-stock even when the explicit flag is absent.
// The REST and push channels historically disagree on which field
// carries this signal, so classification is computed, never copied.
var outOfStockKinds = map[string]struct{}{
	"out_of_stock": {},
	"out-of-stock": {},
	"outofstock":   {},
	"stockout":     {},
}

// normalize maps an inbound record to the canonical shape, filling safe
// defaults for missing fields and computing the out-of-stock
// classification from the explicit flag or the kind vocabulary.
func normalize(rec Record, source Source) Notification {
	priority := rec.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	_, stockKind := outOfStockKinds[strings.ToLower(rec.Kind)]

	return Notification{
		ID:         rec.ID,
		Kind:       rec.Kind,
		Title:      rec.Title,
		Body:       rec.Body,
		SubjectID:  rec.SubjectID,
		CreatedAt:  rec.CreatedAt,
		Read:       rec.Read,
		Priority:   priority,
		OutOfStock: rec.OutOfStock || stockKind,
		Source:     source,
	}
}
