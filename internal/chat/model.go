package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleSelf         Role = "self"
	RoleCounterparty Role = "counterparty"
)

// Delivery status constants for outbound messages. Status only ever
// moves forward through this sequence.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// statusRank orders delivery statuses for the monotonic-forward check.
var statusRank = map[string]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

// Message is one entry in a thread's ordered log. Outbound messages
// carry a locally-generated ID and a delivery status; inbound messages
// carry the server-assigned ID and no status. Deleted messages stay in
// the log with the flag set so ordering and ID stability survive
// concurrent operations referencing them.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Role      Role      `json:"role"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status,omitempty"`
	Edited    bool      `json:"edited"`
	Deleted   bool      `json:"deleted"`
}

// Thread is the summary view of one conversation.
type Thread struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Preview      string    `json:"preview"`
	LastActivity time.Time `json:"last_activity"`
	Unread       bool      `json:"unread"`
}
