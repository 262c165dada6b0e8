package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rewsgo/rews/pkg/logger"
)

func TestLog(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := logger.NewBuild().FromBuffer(buff).Make()
	require.NoError(t, err)
	require.NotNil(t, templogger)
	// Get Stats Before
	require.Equal(t, buff.Len(), 0)
	templogger.Logger.Info().Msg("Test")
	// Get Stats After
	require.Contains(t, buff.String(), "Test")
}

func TestLogFields(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l, err := logger.NewBuild().FromBuffer(buff).Make()
	require.NoError(t, err)

	l.Info("reconnect scheduled", "attempt", 3, "delay", 1500*time.Millisecond, "error", errors.New("boom"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buff.Bytes(), &line))
	require.Equal(t, "info", line["level"])
	require.Equal(t, "reconnect scheduled", line["message"])
	require.EqualValues(t, 3, line["attempt"])
	require.Equal(t, "1.5s", line["delay"])
	require.Equal(t, "boom", line["error"])
}

func TestLogOddArgs(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l, err := logger.NewBuild().FromBuffer(buff).Make()
	require.NoError(t, err)

	l.Warn("dangling", "key")
	require.Contains(t, buff.String(), "!BADKEY")
}

func TestLogLevel(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l, err := logger.NewBuild().FromBuffer(buff).Level(zerolog.WarnLevel).Make()
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("hidden")
	require.Equal(t, 0, buff.Len())

	l.Error("shown")
	require.Contains(t, buff.String(), "shown")
}

func TestLogFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rews.log")
	l, err := logger.NewBuild().FromPath(path).Make()
	require.NoError(t, err)

	l.Debug("to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "to file")
}

func TestNop(t *testing.T) {
	require.NotPanics(t, func() {
		l := logger.Nop()
		l.Error("x")
		l.Warn("x")
		l.Info("x")
		l.Debug("x")
	})
}
