package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewsgo/rews"
	"github.com/rewsgo/rews/internal/mock"
	"github.com/rewsgo/rews/pkg/transport/gorillaws"
	"github.com/rewsgo/rews/pkg/transport/gws"
)

const sample = `
url = " wss://example.com/socket "
protocols = ["v1.rews", " ", "v2.rews"]
transport = "gws"
codec = "cbor"
automatic_open = false
reconnect_on_error = true
reconnect_interval = "500ms"
max_reconnect_interval = "1m"
reconnect_decay = 2.0
max_reconnect_attempts = 20
random_ratio = 0
heartbeat_interval = "15s"
heartbeat_timeout = "45s"
`

func TestParse(t *testing.T) {
	cfg, err := Parse(sample)
	require.NoError(t, err)

	assert.Equal(t, "wss://example.com/socket", cfg.URL)
	assert.Equal(t, []string{"v1.rews", "v2.rews"}, cfg.Protocols)
	assert.Equal(t, "gws", cfg.TransportName)
	assert.Equal(t, "cbor", cfg.CodecName)

	o := cfg.Options
	assert.False(t, o.AutomaticOpen)
	assert.True(t, o.ReconnectOnError)
	assert.False(t, o.ReconnectOnCleanClose)
	assert.Equal(t, 500*time.Millisecond, o.ReconnectInterval)
	assert.Equal(t, time.Minute, o.MaxReconnectInterval)
	assert.InDelta(t, 2.0, o.ReconnectDecay, 0)
	assert.Equal(t, 20, o.MaxReconnectAttempts)
	assert.InDelta(t, 0, o.RandomRatio, 0)
	assert.Equal(t, 15*time.Second, o.HeartbeatInterval)
	assert.Equal(t, 45*time.Second, o.HeartbeatTimeout)
	require.NoError(t, o.Validate())
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(`url = "ws://localhost"`)
	require.NoError(t, err)

	assert.Equal(t, rews.DefaultOptions(), cfg.Options)
	assert.Equal(t, "gorillaws", cfg.TransportName)
	assert.Empty(t, cfg.CodecName)
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"bad duration", `reconnect_interval = "soon"`},
		{"unknown key", `reconect_interval = "1s"`},
		{"wrong type", `max_reconnect_attempts = "many"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.data)
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rews.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/socket", cfg.URL)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("REWS_URL", "ws://override")
	t.Setenv("REWS_TRANSPORT", "gws")
	t.Setenv("REWS_DEBUG", "true")
	t.Setenv("REWS_RECONNECT_INTERVAL", "2s")
	t.Setenv("REWS_MAX_RECONNECT_ATTEMPTS", "7")

	cfg := Default()
	cfg.URL = "ws://file"
	require.NoError(t, ApplyEnv(&cfg))

	assert.Equal(t, "ws://override", cfg.URL)
	assert.Equal(t, "gws", cfg.TransportName)
	assert.True(t, cfg.Options.Debug)
	assert.Equal(t, 2*time.Second, cfg.Options.ReconnectInterval)
	assert.Equal(t, 7, cfg.Options.MaxReconnectAttempts)

	t.Run("invalid", func(t *testing.T) {
		t.Setenv("REWS_MAX_RECONNECT_ATTEMPTS", "lots")
		cfg := Default()
		assert.ErrorIs(t, ApplyEnv(&cfg), ErrInvalidConfig)
	})
}

func TestResolve(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Resolve())
	assert.IsType(t, &gorillaws.Factory{}, cfg.Options.Transport)
	assert.Nil(t, cfg.Options.Codec)

	cfg.TransportName = "gws"
	cfg.CodecName = "cbor"
	require.NoError(t, cfg.Resolve())
	assert.IsType(t, &gws.Factory{}, cfg.Options.Transport)
	assert.Equal(t, "cbor", cfg.Options.Codec.Name())

	cfg.TransportName = "carrier-pigeon"
	assert.ErrorIs(t, cfg.Resolve(), ErrInvalidConfig)

	cfg.TransportName = ""
	cfg.CodecName = "xml"
	assert.ErrorIs(t, cfg.Resolve(), ErrInvalidConfig)
}

func TestResolve_LogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rews.log")

	cfg := Default()
	cfg.LogLevel = "info"
	cfg.LogPath = path
	require.NoError(t, cfg.Resolve())
	t.Cleanup(func() { require.NoError(t, cfg.Close()) })

	cfg.Options.Logger.Debug("hidden")
	cfg.Options.Logger.Info("visible", "key", "value")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"visible"`)
	assert.Contains(t, string(data), `"key":"value"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestResolve_ReopensLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rews.log")

	cfg := Default()
	cfg.LogPath = path
	require.NoError(t, cfg.Resolve())
	first := cfg.logData.LogFile

	require.NoError(t, cfg.Resolve())
	t.Cleanup(func() { require.NoError(t, cfg.Close()) })

	assert.NotSame(t, first, cfg.logData.LogFile)
	assert.ErrorIs(t, first.Close(), os.ErrClosed, "the earlier log file must be released")
	assert.NoError(t, (&Config{}).Close())
}

func TestNewSession(t *testing.T) {
	cfg, err := Parse(`
url = "ws://example.test"
automatic_open = true
`)
	require.NoError(t, err)

	f := mock.Create()
	s, err := cfg.NewSession(rews.WithTransport(f))
	require.NoError(t, err)
	defer s.CloseFinal(0, "")

	assert.Equal(t, "ws://example.test", s.URL())
	assert.Equal(t, 1, f.Count())

	_, err = (&Config{Options: rews.DefaultOptions()}).NewSession()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
