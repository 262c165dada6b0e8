package rews

import "github.com/rewsgo/rews/pkg/transport"

// ReadyState is the session's view of its connection. The first four values
// mirror transport.ReadyState; StateFinalClosed is the terminal marker set by
// CloseFinal, after which the session never reconnects.
type ReadyState int32

const (
	StateConnecting  = ReadyState(transport.StateConnecting)
	StateOpen        = ReadyState(transport.StateOpen)
	StateClosing     = ReadyState(transport.StateClosing)
	StateClosed      = ReadyState(transport.StateClosed)
	StateFinalClosed = ReadyState(transport.StateClosed + 1)
)

func (s ReadyState) String() string {
	if s == StateFinalClosed {
		return "FINAL_CLOSED"
	}
	return transport.ReadyState(s).String()
}

// reconnectable reports whether a due reconnect timer may act in this state.
func (s ReadyState) reconnectable() bool {
	return s == StateClosing || s == StateClosed
}
