package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"trekmate/pkg/logger"
)

// GormLogger gorm日志转入业务日志，只记录出错和慢查询
type GormLogger struct {
	log           logger.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger slowThreshold 为0时不记录慢查询
func NewGormLogger(log logger.Logger, slowThreshold time.Duration) *GormLogger {
	return &GormLogger{log: log, level: gormlogger.Warn, slowThreshold: slowThreshold}
}

func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *GormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Info {
		g.log.Info(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *GormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Warn {
		g.log.Warn(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *GormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Error {
		g.log.Error(ctx, fmt.Sprintf(msg, args...))
	}
}

// Trace 记录未找到以外的错误，以及超过阈值的查询
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= gormlogger.Error:
		sql, rows := fc()
		g.log.Error(ctx, "SQL failed",
			logger.F("sql", sql),
			logger.F("rows", rows),
			logger.F("elapsed", elapsed.String()),
			logger.F("error", err))
	case g.slowThreshold > 0 && elapsed > g.slowThreshold && g.level >= gormlogger.Warn:
		sql, rows := fc()
		g.log.Warn(ctx, "Slow SQL",
			logger.F("sql", sql),
			logger.F("rows", rows),
			logger.F("elapsed", elapsed.String()))
	case g.level >= gormlogger.Info:
		sql, rows := fc()
		g.log.Debug(ctx, "SQL", logger.F("sql", sql), logger.F("rows", rows), logger.F("elapsed", elapsed.String()))
	}
}
