package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/quantor/scheduler/broker"
	"github.com/quantor/scheduler/errors"
	"github.com/quantor/scheduler/job"
)

// ResultConsumer applies worker outcomes to dispatched jobs.
//
// Everything that is not a store outage is idempotent: unknown job ids,
// duplicate deliveries, and transitions lost to the checker are all
// discarded without error so the broker message gets acknowledged.
type ResultConsumer struct {
	store  *job.Store
	logger *zap.SugaredLogger
}

// NewResultConsumer creates a consumer over the given store.
func NewResultConsumer(store *job.Store, logger *zap.SugaredLogger) *ResultConsumer {
	return &ResultConsumer{
		store:  store,
		logger: logger.Named("consumer"),
	}
}

// Handle processes one inbound result event. A returned error means the
// store was unreachable and the message should be redelivered; every other
// path consumes the message.
func (c *ResultConsumer) Handle(ctx context.Context, event *broker.ResultEvent) error {
	j, err := c.store.Get(event.JobID)
	if errors.Is(err, job.ErrNotFound) {
		// Stale broker redelivery for a row we never created or already
		// archived. Tolerated, not an error.
		c.logger.Infow("Discarding result for unknown job",
			"job_id", event.JobID,
			"outcome", event.Outcome,
		)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to look up job for result event")
	}

	if j.Status != job.StatusDispatched {
		// Duplicate or late delivery for an already-terminal or
		// already-retried job.
		c.logger.Debugw("Discarding duplicate or late result",
			"job_id", j.ID,
			"status", j.Status,
			"outcome", event.Outcome,
		)
		return nil
	}

	updated, err := c.store.MarkTerminal(j.ID, job.StatusDispatched, event.Outcome, event.Result, event.ErrorDetail, event.DurationMs)
	if errors.Is(err, job.ErrConflict) {
		// The checker raced this event into retrying/expired first; its
		// committed decision wins and the event is stale.
		c.logger.Infow("Discarding stale result, checker transition won",
			"job_id", j.ID,
			"outcome", event.Outcome,
		)
		return nil
	}
	if errors.Is(err, job.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to commit terminal transition")
	}

	if event.Outcome == job.OutcomeSuccess {
		c.logger.Infow("Job acknowledged",
			"job_id", updated.ID,
			"job_type", updated.Type,
			"attempts", updated.AttemptCount,
			"duration_ms", event.DurationMs,
		)
	} else {
		c.logger.Warnw("Job failed",
			"job_id", updated.ID,
			"job_type", updated.Type,
			"attempts", updated.AttemptCount,
			"error", event.ErrorDetail,
		)
	}
	return nil
}
