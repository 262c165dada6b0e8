// Package logger defines the logging sink used across rews and ships a
// zerolog-backed implementation.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

// Logger is the sink for session diagnostics. args are alternating
// key/value pairs, as with log/slog.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

type LogBuild struct {
	writer io.Writer
	path   string
	level  zerolog.Level
}

type LogData struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

var _ Logger = (*LogData)(nil)

func NewBuild() *LogBuild {
	return &LogBuild{level: zerolog.DebugLevel}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

func (build *LogBuild) Level(level zerolog.Level) *LogBuild {
	build.level = level
	return build
}

func (build *LogBuild) Make() (logData *LogData, err error) {
	logData = new(LogData)
	writer := build.writer
	if writer == nil {
		writer = os.Stdout
	}
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		writer = zerolog.SyncWriter(logData.LogFile)
	}
	logData.Logger = zerolog.New(writer).Level(build.level).With().Timestamp().Logger()
	return logData, nil
}

// Console returns a human-readable logger writing to stderr.
// Sessions configured with Debug and no explicit sink use it.
func Console() *LogData {
	w := zerolog.ConsoleWriter{Out: os.Stderr}
	return &LogData{
		Logger: zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger(),
	}
}

// Close releases the log file opened by FromPath, if any.
func (l *LogData) Close() error {
	if l.LogFile == nil {
		return nil
	}
	return l.LogFile.Close()
}

func (l *LogData) Error(msg string, args ...any) {
	withFields(l.Logger.Error(), args).Msg(msg)
}

func (l *LogData) Warn(msg string, args ...any) {
	withFields(l.Logger.Warn(), args).Msg(msg)
}

func (l *LogData) Info(msg string, args ...any) {
	withFields(l.Logger.Info(), args).Msg(msg)
}

func (l *LogData) Debug(msg string, args ...any) {
	withFields(l.Logger.Debug(), args).Msg(msg)
}

func withFields(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 >= len(args) {
			e = e.Interface("!BADKEY", args[i])
			break
		}
		switch v := args[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case fmt.Stringer:
			e = e.Stringer(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	return e
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nop{}
}

type nop struct{}

func (nop) Error(string, ...any) {}
func (nop) Warn(string, ...any)  {}
func (nop) Info(string, ...any)  {}
func (nop) Debug(string, ...any) {}
