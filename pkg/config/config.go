// Package config loads session settings from TOML files and the environment.
//
// A file looks like this; every key is optional and falls back to
// rews.DefaultOptions:
//
//	url = "wss://example.com/socket"
//	protocols = ["v1.rews"]
//	transport = "gws"
//	codec = "cbor"
//
//	reconnect_interval = "500ms"
//	max_reconnect_interval = "1m"
//	reconnect_decay = 2.0
//	max_reconnect_attempts = 20
//	random_ratio = 3
//
//	heartbeat_interval = "15s"
//	heartbeat_timeout = "45s"
//
//	log_level = "debug"
//	log_path = "/var/log/app/rews.log"
//
// Environment variables prefixed with REWS_ override the file, see ApplyEnv.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/rewsgo/rews"
	"github.com/rewsgo/rews/pkg/codec"
	"github.com/rewsgo/rews/pkg/logger"
	"github.com/rewsgo/rews/pkg/transport"
	"github.com/rewsgo/rews/pkg/transport/gorillaws"
	"github.com/rewsgo/rews/pkg/transport/gws"
)

// EnvPrefix prefixes every environment variable ApplyEnv reads.
const EnvPrefix = "REWS_"

var ErrInvalidConfig = errors.New("invalid config")

type fileConfig struct {
	URL                   string   `toml:"url"`
	Protocols             []string `toml:"protocols"`
	Transport             string   `toml:"transport"`
	Codec                 string   `toml:"codec"`
	AutomaticOpen         bool     `toml:"automatic_open"`
	ReconnectOnError      bool     `toml:"reconnect_on_error"`
	ReconnectOnCleanClose bool     `toml:"reconnect_on_clean_close"`
	ReconnectInterval     Duration `toml:"reconnect_interval"`
	MaxReconnectInterval  Duration `toml:"max_reconnect_interval"`
	ReconnectDecay        float64  `toml:"reconnect_decay"`
	MaxReconnectAttempts  int      `toml:"max_reconnect_attempts"`
	RandomRatio           float64  `toml:"random_ratio"`
	BinaryMode            bool     `toml:"binary_mode"`
	Debug                 bool     `toml:"debug"`
	HeartbeatInterval     Duration `toml:"heartbeat_interval"`
	HeartbeatTimeout      Duration `toml:"heartbeat_timeout"`
	LogLevel              string   `toml:"log_level"`
	LogPath               string   `toml:"log_path"`
}

// Duration is a time.Duration that decodes from strings such as "1.5s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is a resolved session configuration.
type Config struct {
	URL       string
	Protocols []string
	Options   rews.Options

	// TransportName and CodecName record what Options.Transport and
	// Options.Codec were built from.
	TransportName string
	CodecName     string

	LogLevel string
	LogPath  string

	logData *logger.LogData
}

// Default returns a configuration without URL, holding rews.DefaultOptions.
func Default() Config {
	return Config{
		Options:       rews.DefaultOptions(),
		TransportName: "gorillaws",
	}
}

// Load reads a TOML file.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load rews config: %w", err)
	}
	return fromFile(meta, raw)
}

// Parse reads TOML from a string.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse rews config: %w", err)
	}
	return fromFile(meta, raw)
}

//nolint:gocyclo
func fromFile(meta toml.MetaData, raw fileConfig) (Config, error) {
	cfg := Default()
	o := &cfg.Options

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}

	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("protocols") {
		cfg.Protocols = normalize(raw.Protocols)
	}
	if meta.IsDefined("transport") {
		cfg.TransportName = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("codec") {
		cfg.CodecName = strings.TrimSpace(raw.Codec)
	}
	if meta.IsDefined("automatic_open") {
		o.AutomaticOpen = raw.AutomaticOpen
	}
	if meta.IsDefined("reconnect_on_error") {
		o.ReconnectOnError = raw.ReconnectOnError
	}
	if meta.IsDefined("reconnect_on_clean_close") {
		o.ReconnectOnCleanClose = raw.ReconnectOnCleanClose
	}
	if meta.IsDefined("reconnect_interval") {
		o.ReconnectInterval = time.Duration(raw.ReconnectInterval)
	}
	if meta.IsDefined("max_reconnect_interval") {
		o.MaxReconnectInterval = time.Duration(raw.MaxReconnectInterval)
	}
	if meta.IsDefined("reconnect_decay") {
		o.ReconnectDecay = raw.ReconnectDecay
	}
	if meta.IsDefined("max_reconnect_attempts") {
		o.MaxReconnectAttempts = raw.MaxReconnectAttempts
	}
	if meta.IsDefined("random_ratio") {
		o.RandomRatio = raw.RandomRatio
	}
	if meta.IsDefined("binary_mode") {
		o.BinaryMode = raw.BinaryMode
	}
	if meta.IsDefined("debug") {
		o.Debug = raw.Debug
	}
	if meta.IsDefined("heartbeat_interval") {
		o.HeartbeatInterval = time.Duration(raw.HeartbeatInterval)
	}
	if meta.IsDefined("heartbeat_timeout") {
		o.HeartbeatTimeout = time.Duration(raw.HeartbeatTimeout)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_path") {
		cfg.LogPath = strings.TrimSpace(raw.LogPath)
	}

	return cfg, nil
}

// ApplyEnv overrides cfg with REWS_* environment variables:
// REWS_URL, REWS_TRANSPORT, REWS_CODEC, REWS_DEBUG, REWS_RECONNECT_INTERVAL,
// REWS_MAX_RECONNECT_INTERVAL, REWS_MAX_RECONNECT_ATTEMPTS, REWS_LOG_LEVEL
// and REWS_LOG_PATH.
func ApplyEnv(cfg *Config) error {
	cfg.URL = GetEnvOrDefault(EnvPrefix+"URL", cfg.URL)
	cfg.TransportName = GetEnvOrDefault(EnvPrefix+"TRANSPORT", cfg.TransportName)
	cfg.CodecName = GetEnvOrDefault(EnvPrefix+"CODEC", cfg.CodecName)
	cfg.LogLevel = GetEnvOrDefault(EnvPrefix+"LOG_LEVEL", cfg.LogLevel)
	cfg.LogPath = GetEnvOrDefault(EnvPrefix+"LOG_PATH", cfg.LogPath)

	if v := GetEnvOrDefault(EnvPrefix+"DEBUG", ""); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sDEBUG: %w", ErrInvalidConfig, EnvPrefix, err)
		}
		cfg.Options.Debug = debug
	}
	if v := GetEnvOrDefault(EnvPrefix+"RECONNECT_INTERVAL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sRECONNECT_INTERVAL: %w", ErrInvalidConfig, EnvPrefix, err)
		}
		cfg.Options.ReconnectInterval = d
	}
	if v := GetEnvOrDefault(EnvPrefix+"MAX_RECONNECT_INTERVAL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sMAX_RECONNECT_INTERVAL: %w", ErrInvalidConfig, EnvPrefix, err)
		}
		cfg.Options.MaxReconnectInterval = d
	}
	if v := GetEnvOrDefault(EnvPrefix+"MAX_RECONNECT_ATTEMPTS", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sMAX_RECONNECT_ATTEMPTS: %w", ErrInvalidConfig, EnvPrefix, err)
		}
		cfg.Options.MaxReconnectAttempts = n
	}

	return nil
}

func GetEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}

// Resolve builds the collaborators named by the configuration: transport,
// codec and logger. A log file opened by an earlier call is closed first. Options is complete afterwards, apart from fields only
// code can set, such as Listeners and Observer.
func (c *Config) Resolve() error {
	t, err := transportByName(c.TransportName)
	if err != nil {
		return err
	}
	c.Options.Transport = t

	if c.CodecName != "" {
		cd, ok := codec.ByName(c.CodecName)
		if !ok {
			return fmt.Errorf("%w: unknown codec %q", ErrInvalidConfig, c.CodecName)
		}
		c.Options.Codec = cd
	}

	if c.LogLevel != "" || c.LogPath != "" {
		level := zerolog.DebugLevel
		if c.LogLevel != "" {
			level, err = zerolog.ParseLevel(c.LogLevel)
			if err != nil {
				return fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err)
			}
		}
		if err := c.Close(); err != nil {
			return fmt.Errorf("close previous log: %w", err)
		}
		logData, err := logger.NewBuild().FromPath(c.LogPath).Level(level).Make()
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		c.logData = logData
		c.Options.Logger = logData
	}

	return nil
}

// NewSession resolves the configuration and creates a session from it.
// Additional options are applied last.
func (c *Config) NewSession(opts ...rews.Option) (*rews.Session, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	if err := c.Resolve(); err != nil {
		return nil, err
	}

	o := c.Options
	for _, opt := range opts {
		opt(&o)
	}
	return rews.NewWithOptions(c.URL, c.Protocols, o)
}

// Close releases the log file opened by Resolve, if any.
func (c *Config) Close() error {
	if c.logData == nil {
		return nil
	}
	err := c.logData.Close()
	c.logData = nil
	return err
}

func transportByName(name string) (transport.Factory, error) {
	switch name {
	case "", "gorillaws":
		return gorillaws.New(), nil
	case "gws":
		return gws.New(), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, name)
	}
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
