// Package mock provides an in-memory transport whose events are driven by
// the test, one call at a time.
package mock

import (
	"errors"
	"sync"

	"github.com/rewsgo/rews/pkg/transport"
)

// ErrSendFailed is returned by Handle.Send while FailSends is set.
var ErrSendFailed = errors.New("mock: send failed")

type CloseCall struct {
	Code   int
	Reason string
}

// Factory records every handle it creates.
type Factory struct {
	mu      sync.Mutex
	handles []*Handle
}

var _ transport.Factory = (*Factory)(nil)

func Create() *Factory {
	return &Factory{}
}

func (f *Factory) Create(address string, protocols []string, handlers transport.Handlers) transport.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()

	h := &Handle{
		Address:   address,
		Protocols: protocols,
		handlers:  handlers,
		state:     transport.StateConnecting,
	}
	f.handles = append(f.handles, h)
	return h
}

// Handles returns every handle created so far, oldest first.
func (f *Factory) Handles() []*Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Handle(nil), f.handles...)
}

// Count returns the number of Create calls.
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

// Last returns the most recently created handle, or nil.
func (f *Factory) Last() *Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

type Handle struct {
	Address   string
	Protocols []string

	mu        sync.Mutex
	handlers  transport.Handlers
	state     transport.ReadyState
	binary    bool
	sent      [][]byte
	closes    []CloseCall
	pings     int
	failSends bool
}

var (
	_ transport.Handle = (*Handle)(nil)
	_ transport.Pinger = (*Handle)(nil)
)

func (h *Handle) ReadyState() transport.ReadyState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) Send(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != transport.StateOpen {
		return transport.ErrNotOpen
	}
	if h.failSends {
		return ErrSendFailed
	}
	h.sent = append(h.sent, append([]byte(nil), data...))
	return nil
}

func (h *Handle) Close(code int, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closes = append(h.closes, CloseCall{Code: code, Reason: reason})
	if h.state == transport.StateConnecting || h.state == transport.StateOpen {
		h.state = transport.StateClosing
	}
	return nil
}

func (h *Handle) SetBinaryMode(binary bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.binary = binary
}

func (h *Handle) Ping(payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != transport.StateOpen {
		return transport.ErrNotOpen
	}
	h.pings++
	return nil
}

// FailSends makes subsequent Send calls fail (true) or succeed (false).
func (h *Handle) FailSends(fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failSends = fail
}

// Sent returns the frames transmitted so far, as strings.
func (h *Handle) Sent() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, len(h.sent))
	for _, b := range h.sent {
		out = append(out, string(b))
	}
	return out
}

func (h *Handle) Closes() []CloseCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]CloseCall(nil), h.closes...)
}

func (h *Handle) Binary() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.binary
}

func (h *Handle) Pings() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pings
}

// EmitOpen moves the handle to StateOpen and fires OnOpen.
func (h *Handle) EmitOpen() {
	h.setState(transport.StateOpen)
	h.handlers.Open()
}

func (h *Handle) EmitMessage(data string) {
	h.handlers.Message(transport.Message{Data: []byte(data)})
}

func (h *Handle) EmitPong() {
	h.handlers.Pong()
}

// EmitClose moves the handle to StateClosed and fires OnClose.
func (h *Handle) EmitClose(code int, reason string, wasClean bool) {
	h.setState(transport.StateClosed)
	h.handlers.Close(transport.CloseEvent{Code: code, Reason: reason, WasClean: wasClean})
}

// EmitError fires OnError without changing state, as a transport would
// before tearing the connection down.
func (h *Handle) EmitError(err error) {
	h.handlers.Error(err)
}

// Fail reports a failed connection the way the bundled transports do:
// an error followed by an unclean close.
func (h *Handle) Fail(err error) {
	h.EmitError(err)
	h.EmitClose(transport.CloseAbnormalClosure, "", false)
}

func (h *Handle) setState(s transport.ReadyState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}
