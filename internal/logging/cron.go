package logging

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type cronLogger struct {
	sugar *zap.SugaredLogger
}

// CronLogger adapts l to the cron.Logger interface. cron's routine
// scheduling messages are logged at debug.
func CronLogger(l *zap.Logger) cron.Logger {
	return cronLogger{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.sugar.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
