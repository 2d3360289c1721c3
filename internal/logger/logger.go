package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures a Logger at construction time.
type Options struct {
	// Level is a zerolog level name ("trace" through "error"). Empty
	// means info.
	Level string
	// HumanReadable switches output from JSON lines to the console
	// format.
	HumanReadable bool
	// Writer receives the output. Defaults to os.Stderr so event and
	// progress output on stdout stays clean.
	Writer io.Writer
}

// Logger is the module's leveled logging facade over zerolog. A nil
// *Logger is safe to call and logs nothing.
type Logger struct {
	base zerolog.Logger
}

// New builds a logger from Options.
func New(opts Options) (*Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	out := opts.Writer
	if out == nil {
		out = os.Stderr
	}
	if opts.HumanReadable {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &Logger{base: base}, nil
}

// Noop returns a logger that discards everything. Useful in tests.
func Noop() *Logger {
	return &Logger{base: zerolog.Nop()}
}

// WithFields derives a logger that stamps every entry with the given
// fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}

	builder := l.base.With()
	for key, value := range fields {
		builder = builder.Interface(key, value)
	}
	return &Logger{base: builder.Logger()}
}

// WithStep derives a logger scoped to one step.
func (l *Logger) WithStep(stepID string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{base: l.base.With().Str("step_id", stepID).Logger()}
}

// Info logs msg at info level.
func (l *Logger) Info(msg string) {
	if l == nil {
		return
	}
	l.base.Info().Msg(msg)
}

// Debug logs msg at debug level.
func (l *Logger) Debug(msg string) {
	if l == nil {
		return
	}
	l.base.Debug().Msg(msg)
}

// Warn logs msg at warn level.
func (l *Logger) Warn(msg string) {
	if l == nil {
		return
	}
	l.base.Warn().Msg(msg)
}

// Error logs msg at error level, attaching err when non-nil.
func (l *Logger) Error(err error, msg string) {
	if l == nil {
		return
	}
	event := l.base.Error()
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(msg)
}
