package conn

// State represents the push subscription lifecycle.
//
// State transitions:
//
//	Disconnected -> Connecting:    Connect() called
//	Connecting   -> Connected:     handshake completed
//	Connecting   -> Failed:        attempt cap exhausted
//	Connected    -> Reconnecting:  mid-session drop, will self-heal
//	Connected    -> Disconnected:  transport-reported permanent close
//	Reconnecting -> Connected:     re-handshake completed
//	Reconnecting -> Failed:        attempt cap exhausted
//	any          -> Disconnected:  Disconnect() called
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
