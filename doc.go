// Package rews implements a WebSocket session that reconnects on its own.
//
// A [Session] wraps one physical connection at a time. When that connection
// drops, the session schedules a new attempt with exponential backoff and
// jitter, keeps the messages submitted in the meantime, and delivers them in
// order once the next connection opens.
//
// # Lifecycle
//
// [Session.ReadyState] reports one of [StateConnecting], [StateOpen],
// [StateClosing], [StateClosed] or [StateFinalClosed]. The first four follow
// the underlying connection. [StateFinalClosed] is set by [Session.CloseFinal]
// and is terminal: nothing reconnects a final-closed session.
//
// # Reconnect policy
//
// The delay before attempt n+1 is ReconnectInterval * ReconnectDecay^n,
// capped at MaxReconnectInterval. With RandomRatio r > 0 the delay is drawn
// uniformly from [delay/r, delay). At most one reconnect timer is pending at
// any time, and MaxReconnectAttempts bounds how many consecutive attempts are
// made before the session gives up. [Session.Open] revives a session that
// gave up.
//
// By default an unclean close schedules a reconnect and a clean close does
// not. See [Options] for the switches that change this.
//
// # Liveness
//
// Call [Session.HeartbeatFailed] when an application-level liveness check
// fails, or set HeartbeatInterval to let the session ping the peer and
// detect silence itself.
//
// # Transports
//
// Connections are created through a [transport.Factory]. The default is
// [github.com/rewsgo/rews/pkg/transport/gorillaws]; an implementation on top
// of github.com/lxzan/gws lives in [github.com/rewsgo/rews/pkg/transport/gws].
//
// [transport.Factory]: https://pkg.go.dev/github.com/rewsgo/rews/pkg/transport#Factory
package rews
