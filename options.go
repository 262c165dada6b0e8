package rews

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rewsgo/rews/internal/rand"
	"github.com/rewsgo/rews/pkg/codec"
	"github.com/rewsgo/rews/pkg/logger"
	"github.com/rewsgo/rews/pkg/transport"
	"github.com/rewsgo/rews/pkg/transport/gorillaws"
)

const (
	DefaultReconnectInterval    = 1000 * time.Millisecond
	DefaultMaxReconnectInterval = 30000 * time.Millisecond
	DefaultReconnectDecay       = 1.5
	DefaultRandomRatio          = 3
)

// Options configures a Session. Start from DefaultOptions; the zero value
// is not valid. A Session copies its Options at construction and never
// mutates them afterwards.
type Options struct {
	// AutomaticOpen makes New call Open before returning.
	AutomaticOpen bool
	// ReconnectOnError schedules a reconnect on transport errors, in addition
	// to the one an unclean close schedules.
	ReconnectOnError bool
	// ReconnectOnCleanClose schedules a reconnect even when the closing
	// handshake completed. It also keeps the attempt counter from resetting
	// on open, so a server that accepts and immediately closes still backs off.
	ReconnectOnCleanClose bool

	// ReconnectInterval is the delay before the first reconnect attempt.
	ReconnectInterval time.Duration
	// MaxReconnectInterval caps the backoff delay.
	MaxReconnectInterval time.Duration
	// ReconnectDecay is the growth factor applied per attempt. Must be >= 1.
	ReconnectDecay float64
	// MaxReconnectAttempts bounds consecutive reconnect attempts.
	// Zero means unbounded.
	MaxReconnectAttempts int
	// RandomRatio enables jitter: the delay is drawn uniformly from
	// [delay/RandomRatio, delay]. Zero disables jitter; otherwise it must be >= 1.
	RandomRatio float64

	// BinaryMode sends frames as binary instead of text. It is forced on
	// when Codec produces binary output.
	BinaryMode bool

	// Debug logs lifecycle events to the console when Logger is nil.
	Debug bool
	// Logger is a custom sink for lifecycle events. It takes precedence over Debug.
	Logger logger.Logger

	// HeartbeatInterval enables the liveness monitor while the connection is
	// open: every interval the session pings (when the transport supports it)
	// and calls HeartbeatFailed if nothing arrived for HeartbeatTimeout.
	// Zero disables the monitor.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// Codec encodes values for SendValue and decodes them in Decode.
	// Defaults to JSON, or CBOR when BinaryMode is set.
	Codec codec.Codec

	// Observer receives lifecycle notifications, e.g. for metrics.
	Observer Observer

	// Transport creates the underlying connections.
	// Defaults to a gorilla/websocket transport.
	Transport transport.Factory

	// Listeners are installed before the first connection attempt, so that
	// no event can be missed when AutomaticOpen is set.
	Listeners Listeners
}

// Option mutates Options before they are validated and frozen by New.
type Option func(*Options)

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		AutomaticOpen:        true,
		ReconnectInterval:    DefaultReconnectInterval,
		MaxReconnectInterval: DefaultMaxReconnectInterval,
		ReconnectDecay:       DefaultReconnectDecay,
		RandomRatio:          DefaultRandomRatio,
	}
}

func WithAutomaticOpen(open bool) Option {
	return func(o *Options) { o.AutomaticOpen = open }
}

func WithReconnectOnError(enabled bool) Option {
	return func(o *Options) { o.ReconnectOnError = enabled }
}

func WithReconnectOnCleanClose(enabled bool) Option {
	return func(o *Options) { o.ReconnectOnCleanClose = enabled }
}

// WithBackoff sets the base interval, cap and decay of the reconnect delay.
func WithBackoff(interval, maxInterval time.Duration, decay float64) Option {
	return func(o *Options) {
		o.ReconnectInterval = interval
		o.MaxReconnectInterval = maxInterval
		o.ReconnectDecay = decay
	}
}

func WithMaxReconnectAttempts(n int) Option {
	return func(o *Options) { o.MaxReconnectAttempts = n }
}

// WithRandomRatio sets the jitter divisor. Zero disables jitter.
func WithRandomRatio(ratio float64) Option {
	return func(o *Options) { o.RandomRatio = ratio }
}

func WithBinaryMode(binary bool) Option {
	return func(o *Options) { o.BinaryMode = binary }
}

func WithDebug(debug bool) Option {
	return func(o *Options) { o.Debug = debug }
}

func WithLogger(l logger.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(o *Options) {
		o.HeartbeatInterval = interval
		o.HeartbeatTimeout = timeout
	}
}

func WithCodec(c codec.Codec) Option {
	return func(o *Options) { o.Codec = c }
}

func WithObserver(obs Observer) Option {
	return func(o *Options) { o.Observer = obs }
}

func WithTransport(f transport.Factory) Option {
	return func(o *Options) { o.Transport = f }
}

func WithListeners(l Listeners) Option {
	return func(o *Options) { o.Listeners = l }
}

// Validate reports every invalid field, joined into one error.
func (o Options) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidOptions}, args...)...))
	}

	if o.ReconnectInterval <= 0 {
		invalid("ReconnectInterval must be positive, got %v", o.ReconnectInterval)
	}
	if o.MaxReconnectInterval < o.ReconnectInterval {
		invalid("MaxReconnectInterval (%v) must not be below ReconnectInterval (%v)", o.MaxReconnectInterval, o.ReconnectInterval)
	}
	if o.ReconnectDecay < 1 || math.IsNaN(o.ReconnectDecay) || math.IsInf(o.ReconnectDecay, 0) {
		invalid("ReconnectDecay must be a finite number >= 1, got %v", o.ReconnectDecay)
	}
	if o.MaxReconnectAttempts < 0 {
		invalid("MaxReconnectAttempts must not be negative, got %d", o.MaxReconnectAttempts)
	}
	if o.RandomRatio != 0 && (o.RandomRatio < 1 || math.IsNaN(o.RandomRatio) || math.IsInf(o.RandomRatio, 0)) {
		invalid("RandomRatio must be 0 or a finite number >= 1, got %v", o.RandomRatio)
	}
	if o.HeartbeatInterval < 0 || o.HeartbeatTimeout < 0 {
		invalid("heartbeat durations must not be negative")
	}
	if o.HeartbeatInterval > 0 && o.HeartbeatTimeout <= 0 {
		invalid("HeartbeatTimeout must be positive when HeartbeatInterval is set")
	}

	return errors.Join(errs...)
}

// BaseDelay returns the un-jittered reconnect delay after attempts
// previous attempts: ReconnectInterval * ReconnectDecay^attempts, capped at
// MaxReconnectInterval.
func (o Options) BaseDelay(attempts int) time.Duration {
	d := float64(o.ReconnectInterval) * math.Pow(o.ReconnectDecay, float64(attempts))
	limit := float64(o.MaxReconnectInterval)
	if math.IsNaN(d) || d > limit {
		return o.MaxReconnectInterval
	}
	return time.Duration(d)
}

// delay applies jitter to BaseDelay.
func (o Options) delay(attempts int, src rand.Source) time.Duration {
	base := o.BaseDelay(attempts)
	if o.RandomRatio <= 0 {
		return base
	}
	return time.Duration(rand.Between(src, float64(base)/o.RandomRatio, float64(base)))
}

// withDefaults fills the collaborators a caller left nil.
func (o Options) withDefaults() Options {
	if o.Transport == nil {
		o.Transport = gorillaws.New()
	}
	if o.Codec == nil {
		if o.BinaryMode {
			o.Codec = codec.CBOR()
		} else {
			o.Codec = codec.JSON()
		}
	}
	// Binary payloads are not valid UTF-8 and must not travel as text frames.
	if o.Codec.Binary() {
		o.BinaryMode = true
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.Logger == nil {
		if o.Debug {
			o.Logger = logger.Console()
		} else {
			o.Logger = logger.Nop()
		}
	}
	return o
}
