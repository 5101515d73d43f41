package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	glog "gorm.io/gorm/logger"
)

const slowQuery = time.Second

// gormLogger routes GORM output through zerolog.
type gormLogger struct {
	zl    zerolog.Logger
	level glog.LogLevel
}

func newGormLogger() *gormLogger {
	return &gormLogger{zl: log.With().Str("component", "gorm").Logger(), level: glog.Warn}
}

func (l *gormLogger) LogMode(level glog.LogLevel) glog.Interface {
	n := *l
	n.level = level
	return &n
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.level >= glog.Info {
		l.zl.Info().Msg(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.level >= glog.Warn {
		l.zl.Warn().Msg(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.level >= glog.Error {
		l.zl.Error().Msg(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= glog.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	ev := func(e *zerolog.Event) *zerolog.Event {
		return e.Str("sql", sql).Int64("rows", rows).Float64("elapsed_ms", float64(elapsed.Nanoseconds())/1e6)
	}
	switch {
	// record-not-found is a normal lookup outcome here
	case err != nil && !errors.Is(err, glog.ErrRecordNotFound) && l.level >= glog.Error:
		ev(l.zl.Error()).Err(err).Msg("sql failed")
	case elapsed > slowQuery && l.level >= glog.Warn:
		ev(l.zl.Warn()).Dur("threshold", slowQuery).Msg("slow sql")
	case l.level == glog.Info:
		ev(l.zl.Debug()).Msg("sql")
	}
}
