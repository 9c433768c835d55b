// Package schedule drives timed and cron-style triggers. On each fire it
// hands a freshly built job to the engine's executor; it also owns the
// checker's own recurring trigger.
package schedule

import (
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/quantor/scheduler/errors"
)

// Trigger computes fire times. Implementations are pure: the scheduler
// holds the only mutable state (the next computed fire time).
type Trigger interface {
	// Next returns the first fire time strictly after the given instant.
	Next(after time.Time) time.Time
}

// IntervalTrigger fires at a fixed period.
type IntervalTrigger struct {
	Every time.Duration
}

// Every is a shorthand constructor for IntervalTrigger.
func Every(d time.Duration) IntervalTrigger {
	return IntervalTrigger{Every: d}
}

func (t IntervalTrigger) Next(after time.Time) time.Time {
	return after.Add(t.Every)
}

// cronParser supports standard 5-field cron and descriptors like "@hourly".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

type cronTrigger struct {
	schedule cronlib.Schedule
}

// Cron parses a cron expression into a trigger.
func Cron(expr string) (Trigger, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid cron expression %q", expr)
	}
	return cronTrigger{schedule: schedule}, nil
}

func (t cronTrigger) Next(after time.Time) time.Time {
	return t.schedule.Next(after)
}
