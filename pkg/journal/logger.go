package journal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm/logger"
)

// slowQuery is the threshold above which a statement is logged at warn.
const slowQuery = time.Second

// GormLogger routes gorm's log output to slog.
type GormLogger struct {
	log      *slog.Logger
	LogLevel logger.LogLevel
}

// NewGormLogger logs warnings and errors only; SQL traces go to debug when
// the level is raised to Info.
func NewGormLogger(l *slog.Logger) *GormLogger {
	return &GormLogger{
		log:      l,
		LogLevel: logger.Warn,
	}
}

func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	next := *l
	next.LogLevel = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.log.InfoContext(ctx, msg, "data", data)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.log.WarnContext(ctx, msg, "data", data)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.log.ErrorContext(ctx, msg, "data", data)
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []any{
		"sql", sql,
		"rows", rows,
		"time_ms", float64(elapsed.Nanoseconds()) / 1e6,
	}

	switch {
	case err != nil && !errors.Is(err, logger.ErrRecordNotFound) && l.LogLevel >= logger.Error:
		l.log.ErrorContext(ctx, "journal query failed", append(fields, "error", err)...)
	case elapsed > slowQuery && l.LogLevel >= logger.Warn:
		l.log.WarnContext(ctx, "slow journal query", fields...)
	case l.LogLevel == logger.Info:
		l.log.DebugContext(ctx, "journal query", fields...)
	}
}
