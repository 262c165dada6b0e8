package rews

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rewsgo/rews/internal/clock"
	"github.com/rewsgo/rews/internal/rand"
	"github.com/rewsgo/rews/internal/serial"
	"github.com/rewsgo/rews/pkg/logger"
	"github.com/rewsgo/rews/pkg/transport"
)

// Session is a logical WebSocket connection that outlives the physical
// connections underneath it.
//
// All state changes happen on a serial context: transport events, timer
// callbacks and the caller's Open/Send/Close/HeartbeatFailed calls are
// processed one at a time, in arrival order. Public methods never block on
// the network; when another goroutine is currently processing an event they
// only enqueue their work and return.
type Session struct {
	id        string
	url       string
	protocols []string
	opts      Options

	log      logger.Logger
	observer Observer
	clock    clock.Clock
	rand     rand.Source

	exec      serial.Queue
	listeners listenerSet

	// Owned by exec.
	state     ReadyState
	binding   *binding
	attempts  int
	timer     clock.Timer
	timerGen  uint64
	queue     outboundQueue
	heartbeat *heartbeat

	// Snapshots readable from any goroutine.
	readyState   atomic.Int32
	bufferedSnap atomic.Int64
	attemptsSnap atomic.Int64
}

// binding ties transport events to the handle they came from. Events of a
// binding that is no longer the session's current one are discarded.
type binding struct {
	handle transport.Handle
}

// New creates a session for url. Options start from DefaultOptions and are
// then modified by opts. Unless AutomaticOpen was disabled, the first
// connection attempt starts before New returns.
func New(url string, protocols []string, opts ...Option) (*Session, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return NewWithOptions(url, protocols, o)
}

// NewWithOptions is New for callers that already hold a complete Options
// value, for example one loaded by pkg/config.
func NewWithOptions(url string, protocols []string, o Options) (*Session, error) {
	return newSession(url, protocols, o, clock.Real(), rand.Default())
}

func newSession(url string, protocols []string, o Options, clk clock.Clock, src rand.Source) (*Session, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: url must not be empty", ErrInvalidOptions)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	o = o.withDefaults()

	s := &Session{
		id:        uuid.NewString(),
		url:       url,
		protocols: append([]string(nil), protocols...),
		opts:      o,
		log:       o.Logger,
		observer:  o.Observer,
		clock:     clk,
		rand:      src,
		state:     StateConnecting,
	}
	s.readyState.Store(int32(StateConnecting))
	s.listeners.l = o.Listeners

	if o.AutomaticOpen {
		s.exec.Do(s.open)
	}

	return s, nil
}

// ID returns the random identifier that tags this session's log lines.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) URL() string {
	return s.url
}

func (s *Session) Protocols() []string {
	return append([]string(nil), s.protocols...)
}

// Options returns a copy of the frozen configuration, defaults applied.
func (s *Session) Options() Options {
	return s.opts
}

// ReadyState reports the state as of the last processed event.
func (s *Session) ReadyState() ReadyState {
	return ReadyState(s.readyState.Load())
}

// BufferedAmount reports how many messages are waiting for a connection.
func (s *Session) BufferedAmount() int {
	return int(s.bufferedSnap.Load())
}

// ReconnectAttempts reports the consecutive reconnect attempts made since
// the last successful open.
func (s *Session) ReconnectAttempts() int {
	return int(s.attemptsSnap.Load())
}

func (s *Session) OnOpen(fn func()) {
	s.listeners.update(func(l *Listeners) { l.OnOpen = fn })
}

func (s *Session) OnMessage(fn func(Message)) {
	s.listeners.update(func(l *Listeners) { l.OnMessage = fn })
}

func (s *Session) OnClose(fn func(CloseEvent)) {
	s.listeners.update(func(l *Listeners) { l.OnClose = fn })
}

func (s *Session) OnError(fn func(error)) {
	s.listeners.update(func(l *Listeners) { l.OnError = fn })
}

// Open establishes a new connection, replacing the current one.
//
// A pending reconnect is cancelled, so a timer racing with a manual Open
// cannot create a second connection. If the reconnect ceiling was exhausted
// the attempt counter is reset, which makes Open the way to revive a session
// that gave up. Open does nothing after CloseFinal.
func (s *Session) Open() {
	s.exec.Do(func() {
		if s.state == StateFinalClosed {
			s.debug("open ignored: session is final-closed")
			return
		}
		s.cancelReconnect()
		if s.ceilingReached() {
			s.setAttempts(0)
		}
		s.open()
	})
}

// Send transmits data, or queues it until the next successful open.
//
// The message goes out immediately only when the connection is open and no
// older message is still queued, so messages always leave in submission
// order. data is copied. Messages sent after CloseFinal are dropped.
func (s *Session) Send(data []byte) {
	msg := append([]byte(nil), data...)
	s.exec.Do(func() { s.send(msg) })
}

// SendValue encodes v with the configured codec and sends the result.
// Only encoding errors are returned; delivery follows Send.
func (s *Session) SendValue(v any) error {
	if s.opts.Codec == nil {
		return ErrNoCodec
	}
	data, err := s.opts.Codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T with %s: %w", v, s.opts.Codec.Name(), err)
	}
	s.exec.Do(func() { s.send(data) })
	return nil
}

// Decode unmarshals an inbound message with the configured codec.
func (s *Session) Decode(m Message, dst any) error {
	if s.opts.Codec == nil {
		return ErrNoCodec
	}
	return s.opts.Codec.Unmarshal(m.Data, dst)
}

// Close asks the current connection to close. A zero code means 1000.
// Whether the session reconnects afterwards depends on how the connection
// ends, exactly as for a close initiated by the peer. Use CloseFinal to stop
// for good.
func (s *Session) Close(code int, reason string) {
	s.exec.Do(func() { s.close(code, reason, false) })
}

// CloseFinal closes the connection and permanently disables reconnection.
// The session moves to StateFinalClosed before the close is issued, so the
// resulting close event cannot schedule a reconnect.
func (s *Session) CloseFinal(code int, reason string) {
	s.exec.Do(func() { s.close(code, reason, true) })
}

// HeartbeatFailed reports that an external liveness check failed.
//
// The session treats it like an unclean close: the current connection is
// closed with CloseHeartbeatFailed and a reconnect is scheduled, even if the
// transport has not noticed anything wrong yet.
func (s *Session) HeartbeatFailed() {
	s.exec.Do(s.heartbeatFailed)
}

func (s *Session) open() {
	if s.state == StateFinalClosed {
		return
	}
	// tryReconnect stops scheduling at the ceiling and Open resets the
	// counter, so this only trips if attempts is advanced some other way.
	if limit := s.opts.MaxReconnectAttempts; limit > 0 && s.attempts > limit {
		s.debug("open refused: reconnect ceiling reached", "attempts", s.attempts, "max", limit)
		return
	}

	s.detach()

	b := &binding{}
	handlers := transport.Handlers{
		OnOpen: func() {
			s.exec.Do(func() { s.dispatch(b, "open", s.handleOpen) })
		},
		OnMessage: func(m transport.Message) {
			s.exec.Do(func() { s.dispatch(b, "message", func() { s.handleMessage(m) }) })
		},
		OnClose: func(e transport.CloseEvent) {
			s.exec.Do(func() { s.dispatch(b, "close", func() { s.handleClose(e) }) })
		},
		OnError: func(err error) {
			s.exec.Do(func() { s.dispatch(b, "error", func() { s.handleError(err) }) })
		},
		OnPong: func() {
			s.exec.Do(func() { s.dispatch(b, "pong", s.handlePong) })
		},
	}

	b.handle = s.opts.Transport.Create(s.url, s.protocols, handlers)
	b.handle.SetBinaryMode(s.opts.BinaryMode)
	s.binding = b

	s.debug("connecting", "url", s.url, "attempt", s.attempts)
	s.syncState()
}

// detach drops the current handle. Its later events are ignored, and if it
// is still alive it is asked to close.
func (s *Session) detach() {
	old := s.binding
	if old == nil {
		return
	}
	s.binding = nil
	s.stopHeartbeat()

	switch old.handle.ReadyState() {
	case transport.StateConnecting, transport.StateOpen:
		if err := old.handle.Close(CloseSuperseded, "superseded"); err != nil {
			s.debug("failed to close superseded connection", "error", err)
		}
	}
}

func (s *Session) dispatch(b *binding, event string, fn func()) {
	if b != s.binding {
		s.debug("ignoring event from detached connection", "event", event)
		return
	}
	fn()
}

func (s *Session) handleOpen() {
	s.syncState()
	s.debug("connection open")
	s.flush()
	if !s.opts.ReconnectOnCleanClose {
		s.setAttempts(0)
	}
	s.startHeartbeat()
	s.listeners.open()
}

func (s *Session) handleMessage(m transport.Message) {
	s.beat()
	s.listeners.message(m)
}

func (s *Session) handlePong() {
	s.beat()
}

func (s *Session) handleClose(e transport.CloseEvent) {
	prior := s.state
	s.stopHeartbeat()
	s.syncState()
	s.debug("connection closed", "code", e.Code, "reason", e.Reason, "was_clean", e.WasClean)

	s.listeners.close(e)

	if prior == StateFinalClosed {
		return
	}
	s.tryReconnect(e.WasClean)
}

func (s *Session) handleError(err error) {
	// A connection that reported an error is not trusted any more;
	// closing it avoids lingering in a half-open state.
	if h := s.handle(); h != nil {
		if cerr := h.Close(transport.CloseNormalClosure, ""); cerr != nil {
			s.debug("failed to close errored connection", "error", cerr)
		}
	}
	s.syncState()
	s.log.Error("connection error", "session", s.id, "error", err)

	s.listeners.error(err)

	if s.opts.ReconnectOnError {
		s.tryReconnect(false)
	}
}

func (s *Session) heartbeatFailed() {
	if s.state == StateFinalClosed {
		return
	}
	s.stopHeartbeat()
	s.log.Warn("heartbeat failed", "session", s.id)

	if h := s.handle(); h != nil {
		switch h.ReadyState() {
		case transport.StateConnecting, transport.StateOpen:
			if err := h.Close(CloseHeartbeatFailed, "heartbeat failed"); err != nil {
				s.debug("failed to close stale connection", "error", err)
			}
		}
	}
	s.syncState()
	s.tryReconnect(false)
}

func (s *Session) close(code int, reason string, final bool) {
	if code == 0 {
		code = transport.CloseNormalClosure
	}
	if !transport.ValidCloseCode(code) {
		s.log.Warn("invalid close code, using 1000", "session", s.id, "code", code)
		code = transport.CloseNormalClosure
	}

	if final {
		s.cancelReconnect()
		s.stopHeartbeat()
		s.setState(StateFinalClosed)
	}

	if h := s.handle(); h != nil {
		if err := h.Close(code, reason); err != nil {
			s.debug("close failed", "error", err)
		}
	}
	s.syncState()
}

// tryReconnect arms the reconnect timer unless policy, the final-closed
// marker or the attempt ceiling forbid it. Any timer already armed is
// replaced.
func (s *Session) tryReconnect(wasClean bool) {
	if s.state == StateFinalClosed {
		return
	}
	if wasClean && !s.opts.ReconnectOnCleanClose {
		s.debug("clean close, not reconnecting")
		return
	}
	if s.ceilingReached() {
		s.debug("reconnect ceiling reached, giving up", "attempts", s.attempts)
		return
	}

	s.cancelReconnect()

	delay := s.opts.delay(s.attempts, s.rand)
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(delay, func() {
		s.exec.Do(func() { s.reconnectDue(gen) })
	})

	s.debug("reconnect scheduled", "attempt", s.attempts+1, "delay", delay)
	s.observer.ReconnectScheduled(s.attempts+1, delay)
}

func (s *Session) reconnectDue(gen uint64) {
	if gen != s.timerGen || s.timer == nil {
		return
	}
	s.timer = nil
	s.timerGen++

	if !s.state.reconnectable() {
		s.debug("reconnect skipped", "state", s.state)
		return
	}

	s.setAttempts(s.attempts + 1)
	s.observer.ReconnectAttempted(s.attempts)
	s.open()
}

// cancelReconnect stops the pending timer. Bumping the generation also
// voids a timer that already fired but whose callback is still queued.
func (s *Session) cancelReconnect() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Session) ceilingReached() bool {
	limit := s.opts.MaxReconnectAttempts
	return limit > 0 && s.attempts >= limit
}

func (s *Session) send(msg []byte) {
	if s.state == StateFinalClosed {
		s.debug("message dropped: session is final-closed", "bytes", len(msg))
		s.observer.MessageDropped()
		return
	}

	if h := s.handle(); h != nil && h.ReadyState() == transport.StateOpen && s.queue.len() == 0 {
		err := h.Send(msg)
		if err == nil {
			s.observer.MessageSent(0)
			return
		}
		s.debug("send failed, queueing", "error", err)
	}

	s.queue.push(msg)
	s.bufferedSnap.Store(int64(s.queue.len()))
	s.observer.MessageQueued(s.queue.len())
}

// flush hands queued messages to the transport in order. It stops at the
// first failure and leaves that message at the head of the queue; the close
// or error event that follows a broken connection takes it from there.
func (s *Session) flush() {
	for s.queue.len() > 0 {
		h := s.handle()
		if h == nil || h.ReadyState() != transport.StateOpen {
			return
		}
		if err := h.Send(s.queue.peek()); err != nil {
			s.debug("flush interrupted", "error", err, "remaining", s.queue.len())
			return
		}
		s.queue.pop()
		s.bufferedSnap.Store(int64(s.queue.len()))
		s.observer.MessageSent(s.queue.len())
	}
}

func (s *Session) handle() transport.Handle {
	if s.binding == nil {
		return nil
	}
	return s.binding.handle
}

// syncState copies the handle's state. StateFinalClosed is sticky.
func (s *Session) syncState() {
	if s.state == StateFinalClosed {
		return
	}
	next := StateClosed
	if h := s.handle(); h != nil {
		next = ReadyState(h.ReadyState())
	}
	s.setState(next)
}

func (s *Session) setState(next ReadyState) {
	prev := s.state
	if prev == next {
		return
	}
	s.state = next
	s.readyState.Store(int32(next))
	s.debug("state changed", "from", prev, "to", next)
	s.observer.StateChanged(prev, next)
}

func (s *Session) setAttempts(n int) {
	s.attempts = n
	s.attemptsSnap.Store(int64(n))
}

func (s *Session) debug(msg string, args ...any) {
	s.log.Debug(msg, append([]any{"session", s.id}, args...)...)
}
