package rews

import "time"

// Observer is notified of session lifecycle events. Calls are made from the
// session's serial context and must not block. See pkg/metrics for a
// Prometheus implementation.
type Observer interface {
	StateChanged(from, to ReadyState)
	// ReconnectScheduled reports the timer armed for the given attempt number.
	ReconnectScheduled(attempt int, delay time.Duration)
	// ReconnectAttempted reports that the timer fired and a new connection is
	// being created.
	ReconnectAttempted(attempt int)
	// MessageQueued reports the queue depth after a message was buffered.
	MessageQueued(depth int)
	// MessageSent reports the queue depth after a message reached the transport.
	MessageSent(depth int)
	// MessageDropped reports a message submitted after CloseFinal.
	MessageDropped()
}

// NopObserver ignores every notification.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) StateChanged(ReadyState, ReadyState)   {}
func (NopObserver) ReconnectScheduled(int, time.Duration) {}
func (NopObserver) ReconnectAttempted(int)                {}
func (NopObserver) MessageQueued(int)                     {}
func (NopObserver) MessageSent(int)                       {}
func (NopObserver) MessageDropped()                       {}
