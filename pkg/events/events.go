// Package events defines the structured event sink webcc's server reports
// through instead of writing to stdout/stderr directly: server lifecycle,
// connection errors, request handling, and worker panic recovery. The
// client-side packages emit no events.
package events

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field is one structured key/value attached to an event.
type Field = zap.Field

func String(key, value string) Field       { return zap.String(key, value) }
func Int(key string, value int) Field       { return zap.Int(key, value) }
func Int64(key string, value int64) Field   { return zap.Int64(key, value) }
func Duration(key string, d time.Duration) Field { return zap.Duration(key, d) }
func Err(err error) Field                   { return zap.Error(err) }
func Bool(key string, value bool) Field     { return zap.Bool(key, value) }

// Sink is the logging collaborator the server accepts instead of calling a
// package-level logger. Embedders supply their own implementation
// to route events wherever they like; Nop and the zap-backed default cover
// the common cases.
type Sink interface {
	Debug(event string, fields ...Field)
	Info(event string, fields ...Field)
	Warn(event string, fields ...Field)
	Error(event string, fields ...Field)
}

// Nop discards every event. It is the zero-value Sink so components never
// need a nil check before logging.
type Nop struct{}

func (Nop) Debug(string, ...Field) {}
func (Nop) Info(string, ...Field)  {}
func (Nop) Warn(string, ...Field)  {}
func (Nop) Error(string, ...Field) {}

var _ Sink = Nop{}

// Options configures the default zap-backed sink.
type Options struct {
	Stdout     bool
	Level      string // "debug", "info", "warn", "error"
	Filename   string
	MaxSize    int // MB
	MaxAge     int // days
	MaxBackups int
}

func toZapLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// zapSink is the default Sink, backed by go.uber.org/zap. It writes to
// stdout when Stdout is set or no Filename is given, and to a
// lumberjack-rotated file when Filename is set; both at once when both apply.
type zapSink struct {
	logger *zap.Logger
}

// New builds a zap-backed Sink from Options.
func New(opts Options) Sink {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	var syncers []zapcore.WriteSyncer
	if opts.Stdout || opts.Filename == "" {
		syncers = append(syncers, zapcore.AddSync(os.Stdout))
	}
	if opts.Filename != "" {
		if dir := filepath.Dir(opts.Filename); dir != "." {
			os.MkdirAll(dir, 0o755)
		}
		syncers = append(syncers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.Filename,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			LocalTime:  true,
		}))
	}
	w := zapcore.NewMultiWriteSyncer(syncers...)

	core := zapcore.NewCore(encoder, w, toZapLevel(opts.Level))
	return &zapSink{logger: zap.New(core)}
}

func (s *zapSink) Debug(event string, fields ...Field) { s.logger.Debug(event, fields...) }
func (s *zapSink) Info(event string, fields ...Field)  { s.logger.Info(event, fields...) }
func (s *zapSink) Warn(event string, fields ...Field)  { s.logger.Warn(event, fields...) }
func (s *zapSink) Error(event string, fields ...Field) { s.logger.Error(event, fields...) }

// LevelFromEnv reads RAWCORE_LOG_LEVEL, defaulting to "info" when unset.
func LevelFromEnv() string {
	if v := os.Getenv("RAWCORE_LOG_LEVEL"); v != "" {
		return v
	}
	return "info"
}
