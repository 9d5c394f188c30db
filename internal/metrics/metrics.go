package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_connect_attempts_total",
			Help: "Push-channel connection attempts by outcome",
		},
		[]string{"outcome"},
	)

	connectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livesync_connection_state",
			Help: "Current connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=failed)",
		},
	)

	eventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_events_received_total",
			Help: "Inbound push events by kind",
		},
		[]string{"kind"},
	)

	eventsMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livesync_events_malformed_total",
			Help: "Inbound records dropped for missing identity",
		},
	)

	notificationsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_notifications_merged_total",
			Help: "Notification records merged into the collection by source and result",
		},
		[]string{"source", "result"},
	)

	unreadCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livesync_unread_notifications",
			Help: "Derived count of unread notifications",
		},
	)

	markReadRollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livesync_mark_read_rollbacks_total",
			Help: "Optimistic mark-as-read mutations rolled back after server rejection",
		},
	)

	deliveryTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_delivery_transitions_total",
			Help: "Outbound message delivery status transitions",
		},
		[]string{"to"},
	)

	snapshotLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livesync_snapshot_fetch_seconds",
			Help:    "Latency of REST snapshot fetches",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordConnectAttempt records one connection attempt outcome ("ok" or "error")
func RecordConnectAttempt(outcome string) {
	connectAttempts.WithLabelValues(outcome).Inc()
}

// SetConnectionState publishes the numeric connection state
func SetConnectionState(state int) {
	connectionState.Set(float64(state))
}

// RecordEvent records one inbound event by kind
func RecordEvent(kind string) {
	eventsReceived.WithLabelValues(kind).Inc()
}

// RecordMalformedEvent records an event that arrived with missing fields
func RecordMalformedEvent() {
	eventsMalformed.Inc()
}

// RecordMerge records a merge into the notification collection.
// result is "inserted", "updated", or "unchanged".
func RecordMerge(source, result string) {
	notificationsMerged.WithLabelValues(source, result).Inc()
}

// SetUnread publishes the derived unread counter
func SetUnread(count int) {
	unreadCount.Set(float64(count))
}

// RecordMarkReadRollback records a rolled-back optimistic mark-as-read
func RecordMarkReadRollback() {
	markReadRollbacks.Inc()
}

// RecordDeliveryTransition records an outbound message moving to a new status
func RecordDeliveryTransition(to string) {
	deliveryTransitions.WithLabelValues(to).Inc()
}

// RecordSnapshotFetch records the latency of one snapshot fetch
func RecordSnapshotFetch(d time.Duration) {
	snapshotLatency.Observe(d.Seconds())
}
