package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/observability"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSlowQuery = 200 * time.Millisecond

var _ gormlogger.Interface = (*GormLogger)(nil)

// GormLogger routes gorm output to zap. Record-not-found is expected on the
// issuance lookups and is never logged.
type GormLogger struct {
	logger    *zap.Logger
	level     gormlogger.LogLevel
	slowQuery time.Duration
}

func NewGormLogger(logger *zap.Logger, slowQuery time.Duration) *GormLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if slowQuery <= 0 {
		slowQuery = defaultSlowQuery
	}
	return &GormLogger{
		logger:    logger.Named("gorm"),
		level:     gormlogger.Warn,
		slowQuery: slowQuery,
	}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		observability.WithContextLogger(l.logger, ctx).Info(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		observability.WithContextLogger(l.logger, ctx).Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		observability.WithContextLogger(l.logger, ctx).Error(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		observability.WithContextLogger(l.logger, ctx).Error("query failed",
			zap.Error(err),
			zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows),
			zap.String("sql", sql),
		)
	case elapsed > l.slowQuery && l.level >= gormlogger.Warn:
		sql, rows := fc()
		observability.WithContextLogger(l.logger, ctx).Warn("slow query",
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", l.slowQuery),
			zap.Int64("rows", rows),
			zap.String("sql", sql),
		)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		observability.WithContextLogger(l.logger, ctx).Debug("query",
			zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows),
			zap.String("sql", sql),
		)
	}
}
