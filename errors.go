package rews

import "errors"

var (
	// ErrInvalidOptions wraps every validation failure returned by New.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrNoCodec is returned by SendValue and Decode when no codec is configured.
	ErrNoCodec = errors.New("no codec configured")
)

// Close codes the session sends on its own behalf.
const (
	// CloseHeartbeatFailed is sent when HeartbeatFailed tears down a
	// connection that still looks alive to the transport.
	CloseHeartbeatFailed = 4000
	// CloseSuperseded is sent to a live connection replaced by Open.
	CloseSuperseded = 4001
)
