// Package transport defines the narrow contract between a session and the
// WebSocket implementation underneath it.
//
// A Factory creates one Handle per connection attempt. Create must not block:
// it returns a Handle in StateConnecting and finishes the handshake in the
// background, reporting the outcome through the Handlers it was given.
//
// Implementations must uphold the following for every Handle:
//   - OnOpen fires at most once, before any OnMessage.
//   - OnClose fires exactly once, after which no other handler fires.
//   - A failed handshake is reported as OnError followed by an unclean OnClose.
//   - Handlers are never invoked from inside Create, Send or Close.
//   - After Close on an open Handle, the close event reports the requested
//     code and reason.
//
// Sub-packages gorillaws and gws provide implementations backed by
// github.com/gorilla/websocket and github.com/lxzan/gws respectively.
package transport

import "errors"

// ReadyState mirrors the four states a WebSocket connection reports.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Close codes used by the session and the bundled transports.
// See RFC 6455 section 7.4.1.
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseNoStatus        = 1005
	CloseAbnormalClosure = 1006
)

var (
	// ErrNotOpen is returned by Handle.Send when the connection is not open.
	ErrNotOpen = errors.New("connection is not open")
	// ErrInvalidCloseCode is returned by Handle.Close for codes a client may not send.
	ErrInvalidCloseCode = errors.New("invalid close code")
)

// CloseEvent describes how a connection ended.
//
// For a close initiated by Handle.Close, Code and Reason are the values
// passed to Close, whatever the peer echoes back. For a close initiated by
// the peer they are taken from the peer's close frame.
type CloseEvent struct {
	Code   int
	Reason string
	// WasClean reports whether the closing handshake completed.
	WasClean bool
}

// Message is a single inbound data frame.
type Message struct {
	Data   []byte
	Binary bool
}

// Handlers receives the events of one Handle. Nil fields are skipped.
type Handlers struct {
	OnOpen    func()
	OnMessage func(Message)
	OnClose   func(CloseEvent)
	OnError   func(error)
	// OnPong fires when the peer answers a ping sent through Pinger.
	OnPong func()
}

func (h Handlers) Open() {
	if h.OnOpen != nil {
		h.OnOpen()
	}
}

func (h Handlers) Message(m Message) {
	if h.OnMessage != nil {
		h.OnMessage(m)
	}
}

func (h Handlers) Close(e CloseEvent) {
	if h.OnClose != nil {
		h.OnClose(e)
	}
}

func (h Handlers) Error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h Handlers) Pong() {
	if h.OnPong != nil {
		h.OnPong()
	}
}

// Handle is one physical connection attempt.
type Handle interface {
	ReadyState() ReadyState
	// Send transmits one data frame. It returns ErrNotOpen unless the
	// handle is in StateOpen.
	Send(data []byte) error
	// Close starts the closing handshake. Closing a handle that is already
	// closing or closed is a no-op.
	Close(code int, reason string) error
	// SetBinaryMode selects binary (true) or text (false) frames for Send.
	SetBinaryMode(binary bool)
}

// Pinger is implemented by handles that can send WebSocket pings.
type Pinger interface {
	Ping(payload []byte) error
}

type Factory interface {
	Create(address string, protocols []string, handlers Handlers) Handle
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(address string, protocols []string, handlers Handlers) Handle

func (f FactoryFunc) Create(address string, protocols []string, handlers Handlers) Handle {
	return f(address, protocols, handlers)
}

// ValidCloseCode reports whether an endpoint may send code in a close frame.
// 1000 and the 3000-4999 range are allowed, as browsers do.
func ValidCloseCode(code int) bool {
	return code == CloseNormalClosure || (code >= 3000 && code <= 4999)
}
