// Package fakews provides a WebSocket echo server with failure injection for
// exercising sessions against real network connections.
//
// The server is implemented using the `gws` library.
//
// By default every data frame is echoed back with the same opcode. Stubs
// replace the echo for matching messages, and failures attached to stubs or
// set globally make the server misbehave: go silent, close with a chosen
// code, or drop the TCP connection without a closing handshake.
package fakews

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/lxzan/gws"

	"github.com/rewsgo/rews/internal/rand"
)

// FailureType represents the type of failure to inject while handling a message
type FailureType string

const (
	// FailureNone indicates no failure injection
	FailureNone FailureType = "none"
	// FailureTCPReset forcefully resets the TCP connection
	FailureTCPReset FailureType = "tcp_reset"
	// FailureWebSocketClose sends a close frame with configurable code/reason
	FailureWebSocketClose FailureType = "websocket_close"
	// FailureDropConnection immediately closes the underlying network connection
	FailureDropConnection FailureType = "drop_connection"
	// FailureSwallow mutes the connection: neither this message nor any
	// later message or ping on it is answered
	FailureSwallow FailureType = "swallow"
)

// MessageMatcher selects the inbound messages a stub applies to.
type MessageMatcher func(data []byte) bool

// MatchText matches messages whose payload equals text.
func MatchText(text string) MessageMatcher {
	return func(data []byte) bool { return string(data) == text }
}

// Stub replaces the echo for matching messages.
type Stub struct {
	Matcher MessageMatcher
	// Reply is sent instead of the echo. Nil means echo.
	Reply []byte
	// Failures are applied, in order, before replying.
	Failures []FailureConfig
}

// FailureConfig defines how and when to inject a specific failure type
type FailureConfig struct {
	// Type specifies the type of failure to inject
	Type FailureType
	// Probability of triggering this failure (0.0 to 1.0)
	Probability float64
	// CloseCode is the WebSocket close code for FailureWebSocketClose
	CloseCode uint16
	// CloseReason is the WebSocket close reason for FailureWebSocketClose
	CloseReason string
}

// Server is a fake WebSocket server. Use "127.0.0.1:0" to bind to a random
// available port.
type Server struct {
	addr     string
	listener net.Listener
	server   *gws.Server
	rand     rand.Source

	mu             sync.RWMutex
	stubs          []Stub
	globalFailures []FailureConfig
	connections    map[*gws.Conn]bool
	muted          map[*gws.Conn]bool
	received       []string
	accepted       int
	rejecting      bool
	opened         chan struct{}
}

// Handler implements the gws.Event interface for server connections
type Handler struct {
	server *Server
}

func NewServer(addr string) *Server {
	s := &Server{
		addr:        addr,
		rand:        rand.New(),
		connections: make(map[*gws.Conn]bool),
		muted:       make(map[*gws.Conn]bool),
		opened:      make(chan struct{}, 64),
	}

	handler := &Handler{server: s}
	s.server = gws.NewServer(handler, &gws.ServerOption{})
	s.server.OnError = func(_ net.Conn, err error) {
		if !errors.Is(err, net.ErrClosed) && !isUseOfClosedNetworkError(err) {
			log.Printf("fakews: server error: %v", err)
		}
	}

	return s
}

// Start binds the listener and begins accepting WebSocket connections.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.server.RunListener(listener); err != nil {
			if !errors.Is(err, net.ErrClosed) && !isUseOfClosedNetworkError(err) {
				log.Printf("fakews: server error: %v", err)
			}
		}
	}()

	return nil
}

// Stop closes the listener and drops every open connection.
func (s *Server) Stop() error {
	s.DropAll()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Address returns the actual address the server is listening on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) URL() string {
	return fmt.Sprintf("ws://%s/", s.Address())
}

// AddStub registers a stub. Stubs are matched in the order they were added.
func (s *Server) AddStub(stub Stub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = append(s.stubs, stub)
}

// SetGlobalFailures sets failure configurations applied to every message.
// These are checked before stub-specific failures.
func (s *Server) SetGlobalFailures(failures []FailureConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalFailures = failures
}

// SetRejecting makes the server drop new connections right after the
// handshake, as a backend that is still starting up would.
func (s *Server) SetRejecting(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejecting = reject
}

// Accepted reports how many connections completed the handshake.
func (s *Server) Accepted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accepted
}

// Connections reports how many connections are currently open.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Received returns every data frame received so far, as strings.
func (s *Server) Received() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.received...)
}

// WaitAccepted blocks until another connection completes the handshake.
func (s *Server) WaitAccepted(timeout time.Duration) error {
	select {
	case <-s.opened:
		return nil
	case <-time.After(timeout):
		return errors.New("fakews: timed out waiting for a connection")
	}
}

// DropAll closes every open TCP connection without a closing handshake.
func (s *Server) DropAll() {
	for _, socket := range s.sockets() {
		_ = socket.NetConn().Close()
	}
}

// CloseAll sends a close frame with code and reason on every open connection.
func (s *Server) CloseAll(code uint16, reason string) {
	for _, socket := range s.sockets() {
		socket.WriteClose(code, []byte(reason))
	}
}

func (s *Server) sockets() []*gws.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*gws.Conn, 0, len(s.connections))
	for socket := range s.connections {
		out = append(out, socket)
	}
	return out
}

func (h *Handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	h.server.accepted++
	reject := h.server.rejecting
	if !reject {
		h.server.connections[socket] = true
	}
	h.server.mu.Unlock()

	if reject {
		_ = socket.NetConn().Close()
		return
	}

	select {
	case h.server.opened <- struct{}{}:
	default:
	}
}

func (h *Handler) OnClose(socket *gws.Conn, err error) {
	h.server.mu.Lock()
	delete(h.server.connections, socket)
	delete(h.server.muted, socket)
	h.server.mu.Unlock()
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if h.server.isMuted(socket) {
		return
	}
	if err := socket.WritePong(payload); err != nil {
		log.Printf("fakews: error writing pong: %v", err)
	}
}

func (h *Handler) OnPong(socket *gws.Conn, payload []byte) {
}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	data := append([]byte(nil), message.Bytes()...)
	opcode := message.Opcode

	h.server.mu.Lock()
	h.server.received = append(h.server.received, string(data))
	muted := h.server.muted[socket]
	globalFailures := h.server.globalFailures
	var matched *Stub
	for i := range h.server.stubs {
		if h.server.stubs[i].Matcher(data) {
			matched = &h.server.stubs[i]
			break
		}
	}
	h.server.mu.Unlock()

	if muted {
		return
	}

	reply := data
	failures := globalFailures
	if matched != nil {
		if matched.Reply != nil {
			reply = matched.Reply
		}
		failures = append(append([]FailureConfig(nil), globalFailures...), matched.Failures...)
	}

	for _, failure := range failures {
		if h.server.shouldTrigger(failure.Probability) {
			if err := h.applyFailure(socket, failure); err != nil {
				return
			}
		}
	}

	if err := socket.WriteMessage(opcode, reply); err != nil {
		log.Printf("fakews: error writing reply: %v", err)
	}
}

// applyFailure returns a non-nil error when the message must not be answered
// inline.
func (h *Handler) applyFailure(socket *gws.Conn, failure FailureConfig) error {
	switch failure.Type {
	case FailureTCPReset:
		conn := socket.NetConn()
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			if err := tcpConn.SetLinger(0); err != nil {
				log.Printf("fakews: error setting TCP linger: %v", err)
			}
		}
		_ = conn.Close()
		return fmt.Errorf("tcp reset")

	case FailureWebSocketClose:
		code := failure.CloseCode
		if code == 0 {
			code = 1001
		}
		reason := failure.CloseReason
		if reason == "" {
			reason = "failure injection"
		}
		socket.WriteClose(code, []byte(reason))
		return fmt.Errorf("websocket close")

	case FailureDropConnection:
		_ = socket.NetConn().Close()
		return fmt.Errorf("connection dropped")

	case FailureSwallow:
		h.server.mu.Lock()
		h.server.muted[socket] = true
		h.server.mu.Unlock()
		return fmt.Errorf("swallowed")
	}

	return nil
}

func (s *Server) shouldTrigger(probability float64) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}
	return s.rand.Float64() < probability
}

func (s *Server) isMuted(socket *gws.Conn) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted[socket]
}

func isUseOfClosedNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Err.Error() == "use of closed network connection"
	}
	return false
}
