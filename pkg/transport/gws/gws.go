// Package gws implements transport.Factory on top of github.com/lxzan/gws.
//
// gws dials synchronously and cannot abort a handshake in flight, so a Close
// issued while connecting takes effect once the handshake finishes or times
// out.
package gws

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lxzan/gws"

	"github.com/rewsgo/rews/pkg/logger"
	"github.com/rewsgo/rews/pkg/transport"
)

const DefaultHandshakeTimeout = 10 * time.Second

type Factory struct {
	// Header is sent with every handshake request.
	Header           http.Header
	HandshakeTimeout time.Duration
	// Compression enables permessage-deflate.
	Compression bool
	// ReadMaxPayloadSize limits inbound messages. Zero keeps the gws default.
	ReadMaxPayloadSize int
	Logger             logger.Logger
}

var _ transport.Factory = (*Factory)(nil)

func New() *Factory {
	return &Factory{
		HandshakeTimeout: DefaultHandshakeTimeout,
		Compression:      true,
		Logger:           logger.Nop(),
	}
}

func (f *Factory) Create(address string, protocols []string, handlers transport.Handlers) transport.Handle {
	h := &Handle{
		factory:  f,
		handlers: handlers,
	}
	h.state.Store(int32(transport.StateConnecting))

	go h.run(f.clientOption(address, protocols))

	return h
}

func (f *Factory) clientOption(address string, protocols []string) *gws.ClientOption {
	header := f.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if len(protocols) > 0 {
		header.Set("Sec-WebSocket-Protocol", strings.Join(protocols, ", "))
	}

	option := &gws.ClientOption{
		Addr:             address,
		RequestHeader:    header,
		HandshakeTimeout: f.HandshakeTimeout,
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: f.Compression,
		},
	}
	if f.ReadMaxPayloadSize > 0 {
		option.ReadMaxPayloadSize = f.ReadMaxPayloadSize
	}
	return option
}

type Handle struct {
	factory  *Factory
	handlers transport.Handlers

	state  atomic.Int32
	binary atomic.Bool

	connLock  sync.Mutex
	conn      *gws.Conn
	closeCode int
	closeText string
	closeSet  bool
	aborted   bool
}

var (
	_ transport.Handle = (*Handle)(nil)
	_ transport.Pinger = (*Handle)(nil)
	_ gws.Event        = (*Handle)(nil)
)

func (h *Handle) ReadyState() transport.ReadyState {
	return transport.ReadyState(h.state.Load())
}

func (h *Handle) SetBinaryMode(binary bool) {
	h.binary.Store(binary)
}

func (h *Handle) Send(data []byte) error {
	conn := h.openConn()
	if conn == nil {
		return transport.ErrNotOpen
	}

	opcode := gws.OpcodeText
	if h.binary.Load() {
		opcode = gws.OpcodeBinary
	}
	return conn.WriteMessage(opcode, data)
}

func (h *Handle) Ping(payload []byte) error {
	conn := h.openConn()
	if conn == nil {
		return transport.ErrNotOpen
	}
	return conn.WritePing(payload)
}

func (h *Handle) openConn() *gws.Conn {
	if h.ReadyState() != transport.StateOpen {
		return nil
	}
	h.connLock.Lock()
	defer h.connLock.Unlock()
	return h.conn
}

func (h *Handle) Close(code int, reason string) error {
	if !transport.ValidCloseCode(code) {
		return transport.ErrInvalidCloseCode
	}

	h.connLock.Lock()
	defer h.connLock.Unlock()

	switch h.ReadyState() {
	case transport.StateConnecting:
		h.requestClose(code, reason)
	case transport.StateOpen:
		h.requestClose(code, reason)
		h.conn.WriteClose(uint16(code), []byte(reason))
	}
	return nil
}

// requestClose records a locally initiated close. connLock must be held.
func (h *Handle) requestClose(code int, reason string) {
	h.closeCode, h.closeText, h.closeSet = code, reason, true
	h.state.Store(int32(transport.StateClosing))
}

func (h *Handle) logger() logger.Logger {
	if h.factory.Logger != nil {
		return h.factory.Logger
	}
	return logger.Nop()
}

func (h *Handle) run(option *gws.ClientOption) {
	conn, res, err := gws.NewClient(h, option)
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
	if err != nil {
		if h.ReadyState() == transport.StateConnecting {
			h.logger().Debug("dial failed", "address", option.Addr, "error", err)
			h.handlers.Error(err)
		}
		h.finish(transport.CloseEvent{Code: transport.CloseAbnormalClosure})
		return
	}

	h.connLock.Lock()
	h.conn = conn
	h.connLock.Unlock()

	conn.ReadLoop()
}

// OnOpen runs at the start of ReadLoop.
func (h *Handle) OnOpen(socket *gws.Conn) {
	if h.state.CompareAndSwap(int32(transport.StateConnecting), int32(transport.StateOpen)) {
		h.handlers.Open()
		return
	}

	// Close was requested during the handshake: drop the connection the
	// way an aborted dial would.
	h.connLock.Lock()
	h.aborted = true
	h.connLock.Unlock()
	_ = socket.NetConn().Close()
}

func (h *Handle) OnClose(socket *gws.Conn, err error) {
	h.finish(h.closeEvent(err))
}

func (h *Handle) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

func (h *Handle) OnPong(socket *gws.Conn, payload []byte) {
	h.handlers.Pong()
}

func (h *Handle) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	h.handlers.Message(transport.Message{
		Data:   append([]byte(nil), message.Bytes()...),
		Binary: message.Opcode == gws.OpcodeBinary,
	})
}

// closeEvent translates the error gws ends the read loop with. gws tears the
// connection down itself after writing a close frame, so a locally initiated
// close is reported as clean with the requested code.
func (h *Handle) closeEvent(err error) transport.CloseEvent {
	h.connLock.Lock()
	closeSet, code, reason, aborted := h.closeSet, h.closeCode, h.closeText, h.aborted
	h.connLock.Unlock()

	var ce *gws.CloseError
	switch {
	case aborted:
		return transport.CloseEvent{Code: transport.CloseAbnormalClosure}
	case errors.As(err, &ce) && ce.Code != transport.CloseAbnormalClosure:
		return transport.CloseEvent{Code: int(ce.Code), Reason: string(ce.Reason), WasClean: true}
	case closeSet:
		return transport.CloseEvent{Code: code, Reason: reason, WasClean: true}
	default:
		h.logger().Debug("connection lost", "error", err)
		h.handlers.Error(err)
		return transport.CloseEvent{Code: transport.CloseAbnormalClosure}
	}
}

func (h *Handle) finish(e transport.CloseEvent) {
	h.connLock.Lock()
	h.conn = nil
	h.state.Store(int32(transport.StateClosed))
	h.connLock.Unlock()

	h.handlers.Close(e)
}
