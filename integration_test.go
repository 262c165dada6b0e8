package rews_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewsgo/rews"
	"github.com/rewsgo/rews/internal/fakews"
	"github.com/rewsgo/rews/pkg/transport"
	"github.com/rewsgo/rews/pkg/transport/gorillaws"
	"github.com/rewsgo/rews/pkg/transport/gws"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func transports() map[string]func() transport.Factory {
	return map[string]func() transport.Factory{
		"gorillaws": func() transport.Factory { return gorillaws.New() },
		"gws":       func() transport.Factory { return gws.New() },
	}
}

type sessionEvents struct {
	opened   chan struct{}
	messages chan string
	closed   chan rews.CloseEvent
}

func newSessionEvents() *sessionEvents {
	return &sessionEvents{
		opened:   make(chan struct{}, 8),
		messages: make(chan string, 32),
		closed:   make(chan rews.CloseEvent, 8),
	}
}

func (e *sessionEvents) listeners() rews.Listeners {
	return rews.Listeners{
		OnOpen:    func() { e.opened <- struct{}{} },
		OnMessage: func(m rews.Message) { e.messages <- string(m.Data) },
		OnClose:   func(c rews.CloseEvent) { e.closed <- c },
	}
}

func (e *sessionEvents) waitOpen(t *testing.T) {
	t.Helper()
	select {
	case <-e.opened:
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for open")
	}
}

func (e *sessionEvents) waitMessage(t *testing.T) string {
	t.Helper()
	select {
	case m := <-e.messages:
		return m
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func (e *sessionEvents) waitClose(t *testing.T) rews.CloseEvent {
	t.Helper()
	select {
	case c := <-e.closed:
		return c
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for close")
		return rews.CloseEvent{}
	}
}

func startFakeServer(t *testing.T) *fakews.Server {
	t.Helper()
	server := fakews.NewServer("127.0.0.1:0")
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func TestIntegration_ReconnectAfterDrop(t *testing.T) {
	drops := map[string]func(*fakews.Server, *rews.Session){
		"connection dropped": func(server *fakews.Server, _ *rews.Session) {
			server.DropAll()
		},
		"tcp reset": func(_ *fakews.Server, s *rews.Session) {
			s.Send([]byte("reset"))
		},
	}

	for name, factory := range transports() {
		for dropName, drop := range drops {
			t.Run(name+"/"+dropName, func(t *testing.T) {
				server := startFakeServer(t)
				server.AddStub(fakews.Stub{
					Matcher:  fakews.MatchText("reset"),
					Failures: []fakews.FailureConfig{{Type: fakews.FailureTCPReset, Probability: 1}},
				})
				ev := newSessionEvents()

				s, err := rews.New(server.URL(), nil,
					rews.WithTransport(factory()),
					rews.WithBackoff(20*time.Millisecond, 200*time.Millisecond, 1.5),
					rews.WithListeners(ev.listeners()),
				)
				require.NoError(t, err)
				defer s.CloseFinal(0, "")

				ev.waitOpen(t)
				s.Send([]byte("one"))
				assert.Equal(t, "one", ev.waitMessage(t))

				drop(server, s)

				c := ev.waitClose(t)
				assert.False(t, c.WasClean)
				assert.Equal(t, 1006, c.Code)

				ev.waitOpen(t)
				assert.Equal(t, rews.StateOpen, s.ReadyState())
				assert.Equal(t, 0, s.ReconnectAttempts())
				require.Eventually(t, func() bool { return server.Accepted() == 2 }, waitFor, tick)

				s.Send([]byte("two"))
				assert.Equal(t, "two", ev.waitMessage(t))
			})
		}
	}
}

func TestIntegration_QueuedMessagesFlushInOrder(t *testing.T) {
	for name, factory := range transports() {
		t.Run(name, func(t *testing.T) {
			server := startFakeServer(t)
			ev := newSessionEvents()

			s, err := rews.New(server.URL(), nil,
				rews.WithAutomaticOpen(false),
				rews.WithTransport(factory()),
				rews.WithListeners(ev.listeners()),
			)
			require.NoError(t, err)
			defer s.CloseFinal(0, "")

			for _, m := range []string{"a", "b", "c"} {
				s.Send([]byte(m))
			}
			assert.Equal(t, 3, s.BufferedAmount())

			s.Open()
			ev.waitOpen(t)

			got := []string{ev.waitMessage(t), ev.waitMessage(t), ev.waitMessage(t)}
			assert.Equal(t, []string{"a", "b", "c"}, got)
			assert.Equal(t, []string{"a", "b", "c"}, server.Received())
			assert.Equal(t, 0, s.BufferedAmount())
		})
	}
}

func TestIntegration_ServerCloseCode(t *testing.T) {
	for name, factory := range transports() {
		t.Run(name, func(t *testing.T) {
			server := startFakeServer(t)
			server.AddStub(fakews.Stub{
				Matcher: fakews.MatchText("leave"),
				Failures: []fakews.FailureConfig{{
					Type:        fakews.FailureWebSocketClose,
					Probability: 1,
					CloseCode:   4002,
					CloseReason: "maintenance",
				}},
			})
			ev := newSessionEvents()

			s, err := rews.New(server.URL(), nil,
				rews.WithTransport(factory()),
				rews.WithListeners(ev.listeners()),
			)
			require.NoError(t, err)
			defer s.CloseFinal(0, "")

			ev.waitOpen(t)
			s.Send([]byte("leave"))

			select {
			case c := <-ev.closed:
				assert.Equal(t, 4002, c.Code)
				assert.Equal(t, "maintenance", c.Reason)
				assert.True(t, c.WasClean)
			case <-time.After(waitFor):
				t.Fatal("timed out waiting for close")
			}

			// A clean close does not reconnect by default.
			assert.Never(t, func() bool { return server.Accepted() > 1 }, 200*time.Millisecond, tick)
			assert.Equal(t, rews.StateClosed, s.ReadyState())
		})
	}
}

func TestIntegration_CloseFinal(t *testing.T) {
	for name, factory := range transports() {
		t.Run(name, func(t *testing.T) {
			server := startFakeServer(t)
			ev := newSessionEvents()

			s, err := rews.New(server.URL(), nil,
				rews.WithTransport(factory()),
				rews.WithBackoff(10*time.Millisecond, 50*time.Millisecond, 1.5),
				rews.WithReconnectOnCleanClose(true),
				rews.WithListeners(ev.listeners()),
			)
			require.NoError(t, err)

			ev.waitOpen(t)
			s.CloseFinal(1000, "bye")
			assert.Equal(t, rews.StateFinalClosed, s.ReadyState())

			select {
			case <-ev.closed:
			case <-time.After(waitFor):
				t.Fatal("timed out waiting for close")
			}

			assert.Never(t, func() bool { return server.Accepted() > 1 }, 200*time.Millisecond, tick)
			assert.Equal(t, rews.StateFinalClosed, s.ReadyState())
		})
	}
}

func TestIntegration_HeartbeatFailedReconnects(t *testing.T) {
	for name, factory := range transports() {
		t.Run(name, func(t *testing.T) {
			server := startFakeServer(t)
			ev := newSessionEvents()

			s, err := rews.New(server.URL(), nil,
				rews.WithTransport(factory()),
				rews.WithBackoff(20*time.Millisecond, 100*time.Millisecond, 1.5),
				rews.WithListeners(ev.listeners()),
			)
			require.NoError(t, err)
			defer s.CloseFinal(0, "")

			ev.waitOpen(t)
			s.HeartbeatFailed()

			ev.waitOpen(t)
			require.Eventually(t, func() bool { return server.Accepted() == 2 }, waitFor, tick)
		})
	}
}

func TestIntegration_HeartbeatDetectsSilentServer(t *testing.T) {
	for name, factory := range transports() {
		t.Run(name, func(t *testing.T) {
			server := startFakeServer(t)
			server.AddStub(fakews.Stub{
				Matcher:  fakews.MatchText("hush"),
				Failures: []fakews.FailureConfig{{Type: fakews.FailureSwallow, Probability: 1}},
			})
			ev := newSessionEvents()

			s, err := rews.New(server.URL(), nil,
				rews.WithTransport(factory()),
				rews.WithBackoff(20*time.Millisecond, 100*time.Millisecond, 1.5),
				rews.WithHeartbeat(50*time.Millisecond, 200*time.Millisecond),
				rews.WithListeners(ev.listeners()),
			)
			require.NoError(t, err)
			defer s.CloseFinal(0, "")

			ev.waitOpen(t)

			// Pongs keep an idle connection alive.
			assert.Never(t, func() bool { return len(ev.closed) > 0 }, 400*time.Millisecond, tick)

			s.Send([]byte("hush"))

			c := ev.waitClose(t)
			assert.Equal(t, rews.CloseHeartbeatFailed, c.Code)
			assert.Equal(t, "heartbeat failed", c.Reason)

			ev.waitOpen(t)
			require.Eventually(t, func() bool { return server.Accepted() == 2 }, waitFor, tick)
		})
	}
}
