package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions, an optional leading seconds
// field, and descriptors such as "@hourly" or "@every 5m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Schedule is anything that can be rendered to a cron expression.
type Schedule interface {
	CronExpression() (string, error)
}

// Expression is a literal cron expression.
type Expression string

func (e Expression) CronExpression() (string, error) {
	if e == "" {
		return "", fmt.Errorf("empty cron expression")
	}
	return string(e), nil
}

// Every fires at a fixed interval.
type Every time.Duration

func (e Every) CronExpression() (string, error) {
	d := time.Duration(e)
	if d <= 0 {
		return "", fmt.Errorf("interval must be positive, got %s", d)
	}
	return "@every " + d.String(), nil
}
