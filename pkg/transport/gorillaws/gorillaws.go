// Package gorillaws implements transport.Factory on top of
// github.com/gorilla/websocket.
//
// Each Handle dials in its own goroutine and then runs a read loop until the
// connection ends. Handlers are invoked from that goroutine.
package gorillaws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/rewsgo/rews/pkg/logger"
	"github.com/rewsgo/rews/pkg/transport"
)

// DefaultCloseTimeout bounds how long a Handle waits for the peer to answer
// its close frame before dropping the TCP connection.
const DefaultCloseTimeout = 5 * time.Second

// DefaultDialer is the dialer used by New.
//
// It is the default gorilla dialer as of gorilla/websocket v1.5.3 with
// EnableCompression set to true.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

type Factory struct {
	// Dialer is copied for every connection; its Subprotocols are replaced
	// by the protocols passed to Create.
	Dialer *gorilla.Dialer
	// Header is sent with every handshake request.
	Header http.Header
	// CloseTimeout bounds the closing handshake.
	CloseTimeout time.Duration
	// ReadLimit is the maximum inbound message size. Zero means no limit.
	ReadLimit int64
	Logger    logger.Logger
}

var _ transport.Factory = (*Factory)(nil)

func New() *Factory {
	return &Factory{
		Dialer:       DefaultDialer,
		CloseTimeout: DefaultCloseTimeout,
		Logger:       logger.Nop(),
	}
}

// Create starts dialing address and returns immediately.
func (f *Factory) Create(address string, protocols []string, handlers transport.Handlers) transport.Handle {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Handle{
		factory:  f,
		handlers: handlers,
		cancel:   cancel,
	}
	h.state.Store(int32(transport.StateConnecting))

	go h.run(ctx, address, protocols)

	return h
}

type Handle struct {
	factory  *Factory
	handlers transport.Handlers
	cancel   context.CancelFunc

	state  atomic.Int32
	binary atomic.Bool

	// connLock guards conn and the close request, and serializes data writes.
	connLock  sync.Mutex
	conn      *gorilla.Conn
	closeCode int
	closeText string
}

var (
	_ transport.Handle = (*Handle)(nil)
	_ transport.Pinger = (*Handle)(nil)
)

func (h *Handle) ReadyState() transport.ReadyState {
	return transport.ReadyState(h.state.Load())
}

func (h *Handle) SetBinaryMode(binary bool) {
	h.binary.Store(binary)
}

func (h *Handle) Send(data []byte) error {
	if h.ReadyState() != transport.StateOpen {
		return transport.ErrNotOpen
	}

	messageType := gorilla.TextMessage
	if h.binary.Load() {
		messageType = gorilla.BinaryMessage
	}

	h.connLock.Lock()
	defer h.connLock.Unlock()
	if h.conn == nil {
		return transport.ErrNotOpen
	}
	return h.conn.WriteMessage(messageType, data)
}

func (h *Handle) Ping(payload []byte) error {
	if h.ReadyState() != transport.StateOpen {
		return transport.ErrNotOpen
	}

	h.connLock.Lock()
	conn := h.conn
	h.connLock.Unlock()
	if conn == nil {
		return transport.ErrNotOpen
	}
	return conn.WriteControl(gorilla.PingMessage, payload, time.Now().Add(h.closeTimeout()))
}

// Close starts the closing handshake. While still dialing, it aborts the
// dial instead; the handle then reports an unclean close.
func (h *Handle) Close(code int, reason string) error {
	if !transport.ValidCloseCode(code) {
		return transport.ErrInvalidCloseCode
	}

	h.connLock.Lock()
	defer h.connLock.Unlock()

	switch h.ReadyState() {
	case transport.StateConnecting:
		h.closeCode, h.closeText = code, reason
		h.state.Store(int32(transport.StateClosing))
		h.cancel()
		return nil
	case transport.StateOpen:
		h.closeCode, h.closeText = code, reason
		h.state.Store(int32(transport.StateClosing))
		return h.writeClose()
	default:
		return nil
	}
}

// writeClose sends the close frame and arms the deadline after which the
// read loop gives up waiting for the peer. connLock must be held.
func (h *Handle) writeClose() error {
	conn := h.conn
	timeout := h.closeTimeout()
	err := conn.WriteControl(gorilla.CloseMessage,
		gorilla.FormatCloseMessage(h.closeCode, h.closeText), time.Now().Add(timeout))
	if derr := conn.SetReadDeadline(time.Now().Add(timeout)); derr != nil && err == nil {
		err = derr
	}
	if err != nil {
		// The peer cannot hear us; end the read loop now.
		_ = conn.Close()
	}
	return err
}

func (h *Handle) closeTimeout() time.Duration {
	if h.factory.CloseTimeout > 0 {
		return h.factory.CloseTimeout
	}
	return DefaultCloseTimeout
}

func (h *Handle) logger() logger.Logger {
	if h.factory.Logger != nil {
		return h.factory.Logger
	}
	return logger.Nop()
}

func (h *Handle) run(ctx context.Context, address string, protocols []string) {
	defer h.cancel()

	dialer := *h.factory.Dialer
	dialer.Subprotocols = protocols

	conn, res, err := dialer.DialContext(ctx, address, h.factory.Header)
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
	if err != nil {
		if ctx.Err() == nil {
			h.logger().Debug("dial failed", "address", address, "error", err)
			h.handlers.Error(err)
		}
		h.finish(transport.CloseEvent{Code: transport.CloseAbnormalClosure})
		return
	}

	if h.factory.ReadLimit > 0 {
		conn.SetReadLimit(h.factory.ReadLimit)
	}
	conn.SetPongHandler(func(string) error {
		h.handlers.Pong()
		return nil
	})

	h.connLock.Lock()
	h.conn = conn
	aborted := !h.state.CompareAndSwap(int32(transport.StateConnecting), int32(transport.StateOpen))
	h.connLock.Unlock()

	if aborted {
		// Close was called after the handshake finished but before we
		// published the connection.
		_ = conn.Close()
		h.finish(transport.CloseEvent{Code: transport.CloseAbnormalClosure})
		return
	}

	h.handlers.Open()
	h.readLoop(conn)
}

func (h *Handle) readLoop(conn *gorilla.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			h.finish(h.closeEvent(err))
			return
		}
		h.handlers.Message(transport.Message{
			Data:   data,
			Binary: messageType == gorilla.BinaryMessage,
		})
	}
}

// closeEvent translates the error that ended the read loop. A close frame
// from the peer means the handshake completed; anything else is abnormal.
// gorilla reports an unexpected EOF as a CloseError with code 1006.
//
// When Close was called first, the peer's frame is only the echo of ours and
// the event carries the code and reason passed to Close.
func (h *Handle) closeEvent(err error) transport.CloseEvent {
	h.connLock.Lock()
	code, reason := h.closeCode, h.closeText
	h.connLock.Unlock()

	var ce *gorilla.CloseError
	if errors.As(err, &ce) && ce.Code != gorilla.CloseAbnormalClosure {
		if code != 0 {
			return transport.CloseEvent{Code: code, Reason: reason, WasClean: true}
		}
		return transport.CloseEvent{Code: ce.Code, Reason: ce.Text, WasClean: true}
	}

	if h.ReadyState() == transport.StateOpen {
		h.logger().Debug("connection lost", "error", err)
		h.handlers.Error(err)
	}
	return transport.CloseEvent{Code: transport.CloseAbnormalClosure}
}

func (h *Handle) finish(e transport.CloseEvent) {
	h.connLock.Lock()
	if h.conn != nil {
		_ = h.conn.Close()
		h.conn = nil
	}
	h.state.Store(int32(transport.StateClosed))
	h.connLock.Unlock()

	h.handlers.Close(e)
}
