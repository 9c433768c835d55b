package schedule

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantor/scheduler/engine"
)

// Definition is a named recurring job template: a trigger rule plus a
// factory producing a fresh job spec on each fire. Stateless apart from
// the next computed fire time, which lives in the scheduler's in-memory
// trigger table.
type Definition struct {
	Name    string
	Trigger Trigger
	Factory func() (jobType string, payload json.RawMessage, opts engine.DispatchOptions)
}

// TaskFunc is an internal recurring action (e.g. the checker sweep).
type TaskFunc func(ctx context.Context, now time.Time) error

// entry is one row of the in-memory trigger table.
type entry struct {
	name    string
	trigger Trigger
	task    TaskFunc
	nextRun time.Time
}

// Config contains scheduler settings.
type Config struct {
	TickInterval time.Duration // how often the coordinating loop wakes up
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
	}
}

// Scheduler runs a single coordinating tick loop over registered entries.
//
// A misfire (tick loop delayed past a fire time) executes the entry
// exactly once on the next tick and recomputes forward from now; missed
// fires are never backfilled.
type Scheduler struct {
	executor *engine.Executor
	interval time.Duration

	mu      sync.Mutex
	entries []*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

// New creates a scheduler dispatching through the given executor.
func New(executor *engine.Executor, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		executor: executor,
		interval: cfg.TickInterval,
		logger:   logger.Named("scheduler"),
	}
}

// RegisterTask adds an internal recurring action to the trigger table.
// The first fire happens one trigger period after registration.
func (s *Scheduler) RegisterTask(name string, trigger Trigger, task TaskFunc) {
	now := time.Now()
	s.mu.Lock()
	s.entries = append(s.entries, &entry{
		name:    name,
		trigger: trigger,
		task:    task,
		nextRun: trigger.Next(now),
	})
	s.mu.Unlock()

	s.logger.Infow("Registered recurring task",
		"name", name,
		"next_run", trigger.Next(now),
	)
}

// RegisterDefinition adds a periodic job definition: each fire builds a
// fresh job via the factory and dispatches it.
func (s *Scheduler) RegisterDefinition(def Definition) {
	s.RegisterTask(def.Name, def.Trigger, func(ctx context.Context, _ time.Time) error {
		jobType, payload, opts := def.Factory()
		_, err := s.executor.Dispatch(ctx, jobType, payload, opts)
		return err
	})
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
	s.logger.Infow("Scheduler started",
		"tick_interval", s.interval,
		"entries", len(s.entries),
	)
}

// Stop gracefully stops the tick loop.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Infow("Scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick fires every entry whose next fire time has elapsed, exactly once,
// and recomputes the next fire time from now.
func (s *Scheduler) tick(now time.Time) {
	due := s.collectDue(now)

	for _, e := range due {
		if err := e.task(s.ctx, now); err != nil {
			// One entry's failure never blocks the others; the entry
			// fires again at its next computed time.
			s.logger.Errorw("Recurring task failed",
				"name", e.name,
				"error", err,
			)
		}
	}
}

// collectDue advances the trigger table under the lock and returns the
// entries to fire, so task execution happens outside the lock.
func (s *Scheduler) collectDue(now time.Time) []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*entry
	for _, e := range s.entries {
		if !e.nextRun.After(now) {
			due = append(due, e)
			e.nextRun = e.trigger.Next(now)
		}
	}
	return due
}
