// Package gwlog provides structured logging helpers built on zerolog,
// mirroring the teacher's internal/log: components receive a
// zerolog.Logger at construction time, and request-scoped fields travel
// through context.Context rather than globals.
package gwlog

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

type ctxKey string

const loggerKey ctxKey = "gwlog.logger"

// New builds the base process logger. level is a zerolog level name
// ("debug", "info", "warn", "error"); unrecognized values fall back to info.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

// WithContext attaches logger to ctx.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// FromContext returns the logger embedded in ctx, or zerolog's
// DefaultContextLogger if none was attached (a disabled logger when that
// is unset).
func FromContext(ctx context.Context) zerolog.Logger {
	return *zerolog.Ctx(ctx)
}

// WithSession returns a child logger scoped to a session_id field, the
// field every streaming-plane log line carries per SPEC_FULL's ambient
// logging section.
func WithSession(logger zerolog.Logger, sessionID string) zerolog.Logger {
	return logger.With().Str("session_id", sessionID).Logger()
}
