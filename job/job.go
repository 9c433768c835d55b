// Package job defines the dispatch-tracked job model and its durable store.
//
// A Job is a single unit of trackable work. The scheduler decides when a
// job must run and whether it succeeded; the payload itself is executed by
// an external worker reached over the message broker. The status state
// machine is the contract every other component coordinates through:
//
//	pending --dispatch--> dispatched
//	dispatched --success result--> acknowledged   [terminal]
//	dispatched --failure result--> failed         [terminal]
//	dispatched --deadline, attempts remain--> retrying
//	retrying --redispatch--> dispatched
//	dispatched --deadline, attempts exhausted--> expired [terminal]
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a job in its dispatch lifecycle.
type Status string

const (
	StatusPending      Status = "pending"
	StatusDispatched   Status = "dispatched"
	StatusAcknowledged Status = "acknowledged"
	StatusFailed       Status = "failed"
	StatusRetrying     Status = "retrying"
	StatusExpired      Status = "expired"
)

// IsValidStatus returns true if the status string is a valid Status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusDispatched, StatusAcknowledged,
		StatusFailed, StatusRetrying, StatusExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether a job in this status is never mutated again.
func (s Status) Terminal() bool {
	switch s {
	case StatusAcknowledged, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// Outcome is the worker-reported result of a dispatched job.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// TerminalStatus maps an outcome to the terminal status it commits.
func (o Outcome) TerminalStatus() Status {
	if o == OutcomeSuccess {
		return StatusAcknowledged
	}
	return StatusFailed
}

// Job is the unit of trackable work dispatched to the remote worker pool.
//
// Type and Payload are opaque to the scheduler: interpretation happens in
// the external worker and in the pluggable periodic definitions that
// produce jobs. AttemptCount never decreases; AckDeadline is set exactly
// while the job is dispatched.
type Job struct {
	ID           string          `json:"id"`
	Type         string          `json:"job_type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       Status          `json:"status"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	Timeout      time.Duration   `json:"timeout"`
	DispatchedAt *time.Time      `json:"dispatched_at,omitempty"`
	AckDeadline  *time.Time      `json:"ack_deadline,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	DurationMs   *int64          `json:"duration_ms,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// New creates a pending job with zero attempts. The timeout is the
// acknowledgment deadline applied on every dispatch of this job.
func New(jobType string, payload json.RawMessage, maxAttempts int, timeout time.Duration) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     payload,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		Timeout:     timeout,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Overdue reports whether the job is dispatched and its acknowledgment
// deadline has elapsed at the given instant.
func (j *Job) Overdue(now time.Time) bool {
	return j.Status == StatusDispatched && j.AckDeadline != nil && j.AckDeadline.Before(now)
}

// AttemptsRemaining reports whether another dispatch attempt is allowed.
func (j *Job) AttemptsRemaining() bool {
	return j.AttemptCount < j.MaxAttempts
}
