package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Schedule is a parsed job cadence: a cron expression or an @every
// duration descriptor.
type Schedule struct {
	expr  string
	sched cron.Schedule
}

// NewSchedule parses a cadence expression.
func NewSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Schedule{}, fmt.Errorf("schedule is required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return Schedule{expr: expr, sched: sched}, nil
}

// String returns the original expression.
func (s Schedule) String() string { return s.expr }

// Next returns the next run time strictly after now.
func (s Schedule) Next(now time.Time) time.Time {
	if s.sched == nil {
		return time.Time{}
	}
	return s.sched.Next(now)
}
