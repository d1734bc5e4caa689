package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mercato/mercato-backend/pkg/logger"
)

// queryLogger routes GORM diagnostics into the service logger. Only failed
// and slow statements are reported.
type queryLogger struct {
	logg  *logger.Logger
	slow  time.Duration
	level gormlogger.LogLevel
}

func newQueryLogger(logg *logger.Logger, slow time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &queryLogger{logg: logg, slow: slow, level: gormlogger.Warn}
}

func (q *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *q
	clone.level = level
	return &clone
}

func (q *queryLogger) Info(ctx context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Info {
		q.logg.Info(ctx, fmt.Sprintf(msg, args...))
	}
}

func (q *queryLogger) Warn(ctx context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Warn {
		q.logg.Warn(ctx, fmt.Sprintf(msg, args...))
	}
}

func (q *queryLogger) Error(ctx context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Error {
		q.logg.Error(ctx, "gorm", fmt.Errorf(msg, args...))
	}
}

func (q *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && q.level >= gormlogger.Error && reportable(err):
		query, rows := fc()
		fields := Describe(err)
		fields["sql"] = query
		fields["rows"] = rows
		fields["elapsed_ms"] = elapsed.Milliseconds()
		q.logg.Error(q.logg.WithFields(ctx, fields), "query failed", err)
	case q.slow > 0 && elapsed > q.slow && q.level >= gormlogger.Warn:
		query, rows := fc()
		q.logg.Warn(q.logg.WithFields(ctx, map[string]any{
			"sql":        query,
			"rows":       rows,
			"elapsed_ms": elapsed.Milliseconds(),
		}), "slow query")
	}
}

// reportable skips errors callers routinely branch on: missing rows and the
// unique violations that mark idempotent replays.
func reportable(err error) bool {
	return !errors.Is(err, gorm.ErrRecordNotFound) && !IsUniqueViolation(err, "")
}
