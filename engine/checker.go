package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quantor/scheduler/errors"
	"github.com/quantor/scheduler/job"
)

// Notifier receives terminal expiry notifications. External collaborator
// (alerting); may be nil.
type Notifier interface {
	JobExpired(j *job.Job)
}

// CheckerConfig tunes the periodic sweep.
type CheckerConfig struct {
	BatchSize int // max jobs examined per category per sweep
	// PendingGrace is how long a pending/retrying row must sit untouched
	// before the sweep re-attempts its publish. Keeps the sweep from
	// racing a dispatch that is still in flight.
	PendingGrace time.Duration
}

// DefaultCheckerConfig returns sensible defaults.
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		BatchSize:    100,
		PendingGrace: 10 * time.Second,
	}
}

// Checker detects jobs that were dispatched but never acknowledged within
// their deadline, and re-dispatches or expires them. It also recovers rows
// whose publish failed. Each job is processed independently; one job's
// failure never aborts the sweep.
type Checker struct {
	store    *job.Store
	executor *Executor
	notifier Notifier
	cfg      CheckerConfig
	logger   *zap.SugaredLogger
}

// NewChecker creates a checker. notifier may be nil.
func NewChecker(store *job.Store, executor *Executor, notifier Notifier, cfg CheckerConfig, logger *zap.SugaredLogger) *Checker {
	return &Checker{
		store:    store,
		executor: executor,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.Named("checker"),
	}
}

// Sweep runs one checker pass at the given instant. A returned error means
// the store query itself failed and the whole pass was meaningless; the
// owning loop logs it and backs off until the next interval.
func (c *Checker) Sweep(ctx context.Context, now time.Time) error {
	if err := c.sweepOverdue(ctx, now); err != nil {
		return err
	}
	return c.sweepUnpublished(ctx, now)
}

// sweepOverdue moves deadline-elapsed dispatched jobs to retrying (and
// redispatches them) or to expired once attempts are exhausted.
func (c *Checker) sweepOverdue(ctx context.Context, now time.Time) error {
	overdue, err := c.store.FindOverdue(now, c.cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "overdue sweep query failed")
	}

	if len(overdue) > 0 {
		c.logger.Infow("Found overdue jobs", "count", len(overdue))
	}

	for _, j := range overdue {
		updated, err := c.store.MarkRetryOrExpire(j.ID)
		if errors.Is(err, job.ErrConflict) || errors.Is(err, job.ErrNotFound) {
			// A result arrived between the query and the update; the
			// consumer's committed transition wins.
			c.logger.Debugw("Skipping overdue job, result arrived first",
				"job_id", j.ID,
			)
			continue
		}
		if err != nil {
			c.logger.Errorw("Failed to transition overdue job",
				"job_id", j.ID,
				"error", err,
			)
			continue
		}

		switch updated.Status {
		case job.StatusRetrying:
			c.logger.Warnw("Job overdue, redispatching",
				"job_id", updated.ID,
				"job_type", updated.Type,
				"attempt", updated.AttemptCount,
				"max_attempts", updated.MaxAttempts,
			)
			if _, err := c.executor.Redispatch(ctx, updated); err != nil {
				c.logger.Errorw("Redispatch failed",
					"job_id", updated.ID,
					"error", err,
				)
			}
		case job.StatusExpired:
			c.logger.Errorw("Job expired, attempts exhausted",
				"job_id", updated.ID,
				"job_type", updated.Type,
				"attempts", updated.AttemptCount,
			)
			if c.notifier != nil {
				c.notifier.JobExpired(updated)
			}
		}
	}

	return nil
}

// sweepUnpublished re-attempts the publish of pending/retrying rows that
// have sat untouched past the grace period, i.e. rows whose publish failed
// while the broker was unreachable.
func (c *Checker) sweepUnpublished(ctx context.Context, now time.Time) error {
	stuck, err := c.store.FindUnpublished(now.Add(-c.cfg.PendingGrace), c.cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "unpublished sweep query failed")
	}

	for _, j := range stuck {
		c.logger.Infow("Recovering unpublished job",
			"job_id", j.ID,
			"job_type", j.Type,
			"status", j.Status,
		)
		if _, err := c.executor.Redispatch(ctx, j); err != nil {
			c.logger.Errorw("Recovery redispatch failed",
				"job_id", j.ID,
				"error", err,
			)
		}
	}

	return nil
}
