package logger

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// Config mirrors config.LoggerConfig without importing the config package.
type Config struct {
	Level    string
	Encoding string
	// Service is attached to every entry when set.
	Service string
	// Output defaults to stdout.
	Output io.Writer
}

// New builds a zap.Logger using the provided configuration.
func New(cfg Config) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		// fall back to info level if parsing fails
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	switch cfg.Encoding {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(out)), level)

	log := zap.New(core, zap.AddCaller())
	if cfg.Service != "" {
		log = log.With(zap.String("service", cfg.Service))
	}
	return log, nil
}

// ContextWithRequestID attaches a request ID to the provided context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request ID stored by ContextWithRequestID.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	reqID, _ := ctx.Value(requestIDKey).(string)
	return reqID
}

// WithRequestID enriches the logger with the request ID stored in the context.
func WithRequestID(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		return base
	}
	if reqID := RequestID(ctx); reqID != "" {
		return base.With(zap.String("request_id", reqID))
	}
	return base
}
