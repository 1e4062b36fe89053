package observability

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// CronLogger adapts Logger to cron.Logger
type CronLogger struct {
	logger *Logger
}

var _ cron.Logger = (*CronLogger)(nil)

// NewCronLogger wraps logger for use with cron.WithLogger and job wrappers
func NewCronLogger(logger *Logger) *CronLogger {
	return &CronLogger{logger: logger.WithField("component", "cron")}
}

// Info logs routine cron messages at debug level; cron is chatty about every wake-up
func (c *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (c *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.WithFields(kvFields(keysAndValues)).WithError(err).Error(msg)
}

func kvFields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
