// Package logging builds the zap loggers used by the bml client and worker.
package logging

import (
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DebugFlags selects verbose logging areas. The bit values match the
// BML_DEBUG environment variable.
type DebugFlags uint

const (
	// DebugLoader enables logging from the plugin machinery.
	DebugLoader DebugFlags = 1 << 0
	// DebugProtocol enables tracing of every message exchanged.
	DebugProtocol DebugFlags = 1 << 1
)

// EnvDebug is the environment variable holding DebugFlags.
const EnvDebug = "BML_DEBUG"

// ParseDebugFlags parses a decimal or 0x-prefixed flag value. Unparseable
// input yields no flags.
func ParseDebugFlags(s string) DebugFlags {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0
	}
	return DebugFlags(v)
}

// FlagsFromEnv reads DebugFlags from BML_DEBUG.
func FlagsFromEnv() DebugFlags {
	return ParseDebugFlags(os.Getenv(EnvDebug))
}

// Has reports whether all bits of f2 are set.
func (f DebugFlags) Has(f2 DebugFlags) bool { return f&f2 == f2 }

// Level returns the minimum level for the flags: debug when any area is
// enabled, warn otherwise.
func (f DebugFlags) Level() zapcore.Level {
	if f != 0 {
		return zapcore.DebugLevel
	}
	return zapcore.WarnLevel
}

// New builds a console logger on stderr named after the component.
func New(component string, flags DebugFlags) *zap.Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.Lock(os.Stderr),
		flags.Level(),
	)
	return zap.New(core, zap.AddCaller()).Named(component)
}

// Tracer wraps a logger with per-area switches so hot paths can skip field
// construction when an area is off.
type Tracer struct {
	log   *zap.Logger
	flags DebugFlags
}

// NewTracer creates a tracer. A nil logger disables all output.
func NewTracer(log *zap.Logger, flags DebugFlags) *Tracer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracer{log: log, flags: flags}
}

// Logger returns the underlying logger.
func (t *Tracer) Logger() *zap.Logger { return t.log }

// Flags returns the enabled areas.
func (t *Tracer) Flags() DebugFlags { return t.flags }

// Protocol reports whether protocol tracing is on.
func (t *Tracer) Protocol() bool { return t.flags.Has(DebugProtocol) }

// Loader reports whether plugin machinery logging is on.
func (t *Tracer) Loader() bool { return t.flags.Has(DebugLoader) }

// Trace logs a protocol message at debug level when protocol tracing is on.
func (t *Tracer) Trace(msg string, fields ...zap.Field) {
	if t.Protocol() {
		t.log.Debug(msg, fields...)
	}
}

// LoaderTrace logs a plugin machinery message when loader logging is on.
func (t *Tracer) LoaderTrace(msg string, fields ...zap.Field) {
	if t.Loader() {
		t.log.Debug(msg, fields...)
	}
}
