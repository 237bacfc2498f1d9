package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger carrying the fields netconverge attaches to
// every line of a run: component, device, run id, resource and trace id.
type Logger struct {
	zlog zerolog.Logger
}

// NewLogger opens the configured output and builds a logger on it. Output
// is stderr, stdout or a file path opened for appending.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	w, err := openLogOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return NewLoggerWithWriter(cfg, w), nil
}

func openLogOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

var timeFieldFormats = map[string]string{
	"unix":   zerolog.TimeFormatUnix,
	"unixms": zerolog.TimeFormatUnixMs,
}

// NewLoggerWithWriter builds a logger writing to w. An unknown or empty
// level means info.
func NewLoggerWithWriter(cfg LoggingConfig, w io.Writer) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if f, ok := timeFieldFormats[cfg.TimeFormat]; ok {
		zerolog.TimeFieldFormat = f
	}

	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}
	return &Logger{zlog: ctx.Logger()}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Zerolog exposes the underlying logger for packages that take a
// zerolog.Logger directly.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

func (l *Logger) with(key, value string) *Logger {
	return &Logger{zlog: l.zlog.With().Str(key, value).Logger()}
}

// Component names the subsystem writing the line.
func (l *Logger) Component(name string) *Logger {
	return l.with("component", name)
}

// ForDevice tags lines with the managed switch.
func (l *Logger) ForDevice(host string) *Logger {
	return l.with("device", host)
}

// ForRun tags lines with the journal run id.
func (l *Logger) ForRun(runID string) *Logger {
	return l.with("run_id", runID)
}

// ForResource tags lines with the resource family and identifier.
func (l *Logger) ForResource(family, id string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("family", family).Str("resource_id", id).Logger()}
}

// WithTrace tags lines with the trace id of the cycle.
func (l *Logger) WithTrace(traceID string) *Logger {
	return l.with("trace_id", traceID)
}

// WithField adds one field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zlog: l.zlog.With().Interface(key, value).Logger()}
}

// WithFields adds several fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{zlog: l.zlog.With().Fields(fields).Logger()}
}

// WithError attaches err.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger()}
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.zlog.Debug().Msgf(format, args...) }

func (l *Logger) Info(msg string) { l.zlog.Info().Msg(msg) }

func (l *Logger) Infof(format string, args ...interface{}) { l.zlog.Info().Msgf(format, args...) }

func (l *Logger) Warn(msg string) { l.zlog.Warn().Msg(msg) }

func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }
