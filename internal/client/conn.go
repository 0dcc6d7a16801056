package client

import "time"

// ConnState is the WebSocket connection state.
type ConnState int

// Connection states. Failed is terminal: reconnects were exhausted and
// sends go over HTTP only.
const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Failed
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	backoffBase = 500 * time.Millisecond
	backoffMax  = 8 * time.Second
)

// Backoff is the wait before reconnect attempt n (zero based).
func Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return backoffBase
	}
	d := backoffBase
	for range attempt {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	return d
}

// transition reports whether the machine may move from one state to
// another. Failed is only left by starting over with a new Run.
func transition(from, to ConnState) bool {
	switch from {
	case Disconnected:
		return to == Connecting || to == Failed
	case Connecting:
		return to == Connected || to == Disconnected || to == Failed
	case Connected:
		return to == Disconnected
	case Failed:
		return to == Connecting
	}
	return false
}
