package rews

import (
	"time"

	"github.com/rewsgo/rews/internal/clock"
	"github.com/rewsgo/rews/pkg/transport"
)

// heartbeat watches one open connection. Every interval it pings the peer
// (when the transport can) and declares the connection dead once nothing,
// neither a message nor a pong, arrived for the configured timeout.
type heartbeat struct {
	binding  *binding
	lastSeen time.Time
	timer    clock.Timer
}

func (s *Session) startHeartbeat() {
	s.stopHeartbeat()
	if s.opts.HeartbeatInterval <= 0 || s.binding == nil {
		return
	}
	s.heartbeat = &heartbeat{
		binding:  s.binding,
		lastSeen: s.clock.Now(),
	}
	s.scheduleHeartbeat(s.heartbeat)
}

func (s *Session) stopHeartbeat() {
	if s.heartbeat == nil {
		return
	}
	if s.heartbeat.timer != nil {
		s.heartbeat.timer.Stop()
	}
	s.heartbeat = nil
}

// beat records inbound traffic on the current connection.
func (s *Session) beat() {
	if s.heartbeat != nil {
		s.heartbeat.lastSeen = s.clock.Now()
	}
}

func (s *Session) scheduleHeartbeat(hb *heartbeat) {
	hb.timer = s.clock.AfterFunc(s.opts.HeartbeatInterval, func() {
		s.exec.Do(func() { s.heartbeatTick(hb) })
	})
}

func (s *Session) heartbeatTick(hb *heartbeat) {
	if s.heartbeat != hb || s.binding != hb.binding {
		return
	}

	if elapsed := s.clock.Now().Sub(hb.lastSeen); elapsed >= s.opts.HeartbeatTimeout {
		s.debug("no traffic within heartbeat timeout", "elapsed", elapsed)
		s.heartbeatFailed()
		return
	}

	if p, ok := hb.binding.handle.(transport.Pinger); ok {
		if err := p.Ping(nil); err != nil {
			s.debug("ping failed", "error", err)
		}
	}
	s.scheduleHeartbeat(hb)
}
