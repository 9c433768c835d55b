// Package cleanup registers the built-in periodic maintenance jobs.
//
// Each definition dispatches a job to the worker pool on a fixed
// interval; the workers own the actual deletion logic. The scheduler
// only cares that the jobs fire on time and complete within their
// acknowledgment deadline.
package cleanup

import (
	"encoding/json"
	"time"

	"github.com/quantor/scheduler/engine"
	"github.com/quantor/scheduler/schedule"
)

// Job types consumed by the maintenance workers.
const (
	TypeMFAExpiry          = "cleanup.mfa_expiry"
	TypeExpiredFiles       = "cleanup.expired_files"
	TypeRegistrationExpiry = "cleanup.registration_expiry"
)

// Settings tunes the built-in definitions as a group.
type Settings struct {
	Interval    time.Duration // how often each definition fires
	Timeout     time.Duration // acknowledgment deadline per attempt
	MaxAttempts int
}

// DefaultSettings returns sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		Interval:    time.Hour,
		Timeout:     5 * time.Minute,
		MaxAttempts: 3,
	}
}

// RegisterAll adds every built-in maintenance definition to the scheduler.
func RegisterAll(s *schedule.Scheduler, settings Settings) {
	for _, jobType := range []string{
		TypeMFAExpiry,
		TypeExpiredFiles,
		TypeRegistrationExpiry,
	} {
		s.RegisterDefinition(definition(jobType, settings))
	}
}

func definition(jobType string, settings Settings) schedule.Definition {
	return schedule.Definition{
		Name:    jobType,
		Trigger: schedule.Every(settings.Interval),
		Factory: func() (string, json.RawMessage, engine.DispatchOptions) {
			return jobType, json.RawMessage(`{}`), engine.DispatchOptions{
				Timeout:     settings.Timeout,
				MaxAttempts: settings.MaxAttempts,
			}
		},
	}
}
