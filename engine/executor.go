// Package engine coordinates the job dispatch lifecycle: the executor
// publishes work requests, the result consumer applies worker outcomes,
// and the checker sweeps overdue jobs into retry or expiry.
//
// The three run concurrently and coordinate only through the job store's
// conditional transitions; none holds a lock the others share.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/quantor/scheduler/broker"
	"github.com/quantor/scheduler/errors"
	"github.com/quantor/scheduler/job"
)

// Publisher sends dispatch envelopes to the worker pool. Satisfied by
// *broker.Gateway; tests substitute a fake.
type Publisher interface {
	Publish(ctx context.Context, env *broker.DispatchEnvelope) error
}

// DispatchOptions carries per-job overrides for dispatch.
type DispatchOptions struct {
	Timeout     time.Duration // acknowledgment deadline per attempt; 0 uses the default
	MaxAttempts int           // dispatch ceiling; 0 uses the default
}

// Executor creates job rows and dispatches them to the worker pool.
//
// Dispatch is fire-and-forget from the caller's perspective: a publish
// failure is never surfaced as a synchronous error. The row stays
// pending/retrying and the checker sweep re-attempts the publish.
type Executor struct {
	store              *job.Store
	publisher          Publisher
	defaultTimeout     time.Duration
	defaultMaxAttempts int
	logger             *zap.SugaredLogger
}

// NewExecutor creates an executor with defaults applied to dispatches that
// do not override them.
func NewExecutor(store *job.Store, publisher Publisher, defaultTimeout time.Duration, defaultMaxAttempts int, logger *zap.SugaredLogger) *Executor {
	return &Executor{
		store:              store,
		publisher:          publisher,
		defaultTimeout:     defaultTimeout,
		defaultMaxAttempts: defaultMaxAttempts,
		logger:             logger.Named("executor"),
	}
}

// Dispatch creates a job row and publishes its first attempt. The returned
// job is dispatched on publish success, or still pending when the publish
// failed and recovery is left to the checker.
func (e *Executor) Dispatch(ctx context.Context, jobType string, payload json.RawMessage, opts DispatchOptions) (*job.Job, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.defaultMaxAttempts
	}

	j, err := e.store.Create(jobType, payload, maxAttempts, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create job of type %s", jobType)
	}

	e.logger.Infow("Job created",
		"job_id", j.ID,
		"job_type", j.Type,
		"max_attempts", j.MaxAttempts,
		"timeout", j.Timeout,
	)

	return e.publishAndMark(ctx, j)
}

// Redispatch publishes an existing pending or retrying job. Used by the
// checker for retries and for rows whose earlier publish failed.
func (e *Executor) Redispatch(ctx context.Context, j *job.Job) (*job.Job, error) {
	return e.publishAndMark(ctx, j)
}

// publishAndMark sends the dispatch envelope, then commits the dispatched
// transition. On publish failure the row is left untouched so the sweep
// recovers it; the failure is logged, not returned.
func (e *Executor) publishAndMark(ctx context.Context, j *job.Job) (*job.Job, error) {
	env := broker.NewDispatchEnvelope(j)

	if err := e.publisher.Publish(ctx, env); err != nil {
		e.logger.Warnw("Publish failed, leaving job for checker recovery",
			"job_id", j.ID,
			"job_type", j.Type,
			"status", j.Status,
			"error", err,
		)
		return j, nil
	}

	dispatched, err := e.store.MarkDispatched(j.ID, j.Timeout)
	if err != nil {
		// The message is already on the wire. An invalid-state error here
		// means a concurrent writer moved the row; the store's status
		// guards keep the bookkeeping consistent either way.
		e.logger.Errorw("Failed to mark job dispatched after publish",
			"job_id", j.ID,
			"error", err,
		)
		return j, err
	}

	e.logger.Infow("Job dispatched",
		"job_id", dispatched.ID,
		"job_type", dispatched.Type,
		"attempt", dispatched.AttemptCount,
		"ack_deadline", dispatched.AckDeadline,
	)
	return dispatched, nil
}
