package canarystore

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger is the Logger used by the canarystore binary. Fields are
// alternating key/value pairs, as with zap's sugared "w" methods.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

func NewZapLogger(base *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: base.Sugar()}
}

// NewDevelopmentZapLogger logs everything to stderr in console format.
func NewDevelopmentZapLogger() (*ZapLogger, error) {
	return NewZapLoggerAtLevel("debug", true)
}

// NewZapLoggerAtLevel writes to stderr at level and above. The default
// encoding is JSON; development switches to colored console output and adds
// caller and stack information on warnings.
func NewZapLoggerAtLevel(level string, development bool) (*ZapLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "server.log_level",
			"value":  level,
			"reason": err.Error(),
		})
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	var (
		encoder zapcore.Encoder
		opts    = []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	)
	if development {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(enc)
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		encoder = zapcore.NewJSONEncoder(enc)
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(lvl))
	return NewZapLogger(zap.New(core, opts...)), nil
}

// Named tags entries with a component, e.g. "index" or "query".
func (l *ZapLogger) Named(component string) *ZapLogger {
	return &ZapLogger{sugar: l.sugar.Named(component)}
}

// With returns a child logger that adds fields to every entry.
func (l *ZapLogger) With(fields ...interface{}) *ZapLogger {
	return &ZapLogger{sugar: l.sugar.With(fields...)}
}

func (l *ZapLogger) Debug(msg string, fields ...interface{}) { l.sugar.Debugw(msg, fields...) }
func (l *ZapLogger) Info(msg string, fields ...interface{})  { l.sugar.Infow(msg, fields...) }
func (l *ZapLogger) Warn(msg string, fields ...interface{})  { l.sugar.Warnw(msg, fields...) }
func (l *ZapLogger) Error(msg string, fields ...interface{}) { l.sugar.Errorw(msg, fields...) }

// Sync flushes buffered entries; call it before exit.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}
