package job

import "github.com/quantor/scheduler/errors"

// Error taxonomy for store operations. Callers classify with errors.Is.
var (
	// ErrNotFound means the referenced job row is absent. Non-fatal:
	// a stale broker redelivery for an unknown id is logged and discarded.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidState means the attempted transition violates the state
	// machine (e.g. dispatching a job that is already dispatched).
	ErrInvalidState = errors.New("invalid job state transition")

	// ErrConflict means a conditional update lost a race to a concurrent
	// writer. Expected under concurrency; always treated as a no-op by
	// the loser.
	ErrConflict = errors.New("job transition conflict")

	// ErrStore means the persistence layer itself failed. The triggering
	// operation is aborted and retried on the next loop iteration.
	ErrStore = errors.New("job store unavailable")
)
