package job

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/quantor/scheduler/errors"
)

// Store handles durable persistence of jobs.
//
// Every mutation is a single conditional UPDATE keyed on the row's current
// status. Whichever concurrent writer commits first wins; the loser sees
// ErrConflict and discards its own action. This replaces in-process
// locking between the tick loop, the consumer loop, and the checker sweep.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store on the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new pending job and returns it.
func (s *Store) Create(jobType string, payload json.RawMessage, maxAttempts int, timeout time.Duration) (*Job, error) {
	j := New(jobType, payload, maxAttempts, timeout)

	query := `
		INSERT INTO jobs (
			id, job_type, payload, status,
			attempt_count, max_attempts, timeout_seconds,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	payloadCol := sql.NullString{String: string(j.Payload), Valid: len(j.Payload) > 0}

	_, err := s.db.Exec(query,
		j.ID,
		j.Type,
		payloadCol,
		j.Status,
		j.AttemptCount,
		j.MaxAttempts,
		int64(j.Timeout/time.Second),
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		return nil, storeErr(err, "failed to create job")
	}

	return j, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(id string) (*Job, error) {
	query := `SELECT ` + selectColumns + ` FROM jobs WHERE id = ?`

	j, err := scanJobRow(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Mark(errors.Newf("job not found: %s", id), ErrNotFound)
	}
	if err != nil {
		return nil, storeErr(err, "failed to get job")
	}

	return j, nil
}

// MarkDispatched transitions a pending or retrying job to dispatched,
// incrementing attempt_count and setting the acknowledgment deadline to
// now+timeout. Returns ErrNotFound if the row is absent, ErrInvalidState
// if it is in any other status.
func (s *Store) MarkDispatched(id string, timeout time.Duration) (*Job, error) {
	now := time.Now().UTC()
	deadline := now.Add(timeout)

	query := `
		UPDATE jobs
		SET status = ?,
		    attempt_count = attempt_count + 1,
		    dispatched_at = ?,
		    ack_deadline = ?,
		    updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`

	res, err := s.db.Exec(query,
		StatusDispatched,
		now,
		deadline,
		now,
		id,
		StatusPending,
		StatusRetrying,
	)
	if err != nil {
		return nil, storeErr(err, "failed to mark job dispatched")
	}

	if err := s.checkAffected(res, id, ErrInvalidState); err != nil {
		return nil, err
	}

	return s.Get(id)
}

// MarkTerminal commits the terminal status for the given outcome, guarded
// on the row still being in the expected status. A zero-row update on an
// existing row means a concurrent writer got there first: ErrConflict.
//
// The winning transition clears the acknowledgment deadline and records
// the outcome detail (result payload, error message, worker duration).
func (s *Store) MarkTerminal(id string, expected Status, outcome Outcome, result json.RawMessage, errDetail string, durationMs *int64) (*Job, error) {
	now := time.Now().UTC()

	query := `
		UPDATE jobs
		SET status = ?,
		    result = ?,
		    error = ?,
		    duration_ms = ?,
		    ack_deadline = NULL,
		    updated_at = ?
		WHERE id = ? AND status = ?
	`

	resultCol := sql.NullString{String: string(result), Valid: len(result) > 0}
	errorCol := sql.NullString{String: errDetail, Valid: errDetail != ""}
	durationCol := sql.NullInt64{}
	if durationMs != nil {
		durationCol = sql.NullInt64{Int64: *durationMs, Valid: true}
	}

	res, err := s.db.Exec(query,
		outcome.TerminalStatus(),
		resultCol,
		errorCol,
		durationCol,
		now,
		id,
		expected,
	)
	if err != nil {
		return nil, storeErr(err, "failed to mark job terminal")
	}

	if err := s.checkAffected(res, id, ErrConflict); err != nil {
		return nil, err
	}

	return s.Get(id)
}

// MarkRetryOrExpire transitions an overdue dispatched job to retrying when
// attempts remain, or to expired once attempts are exhausted. Conditional
// on the row still being dispatched so a late-arriving result that already
// committed wins the race; the checker then observes ErrConflict.
func (s *Store) MarkRetryOrExpire(id string) (*Job, error) {
	now := time.Now().UTC()

	query := `
		UPDATE jobs
		SET status = CASE WHEN attempt_count < max_attempts THEN ? ELSE ? END,
		    ack_deadline = NULL,
		    updated_at = ?
		WHERE id = ? AND status = ?
	`

	res, err := s.db.Exec(query,
		StatusRetrying,
		StatusExpired,
		now,
		id,
		StatusDispatched,
	)
	if err != nil {
		return nil, storeErr(err, "failed to mark job for retry or expiry")
	}

	if err := s.checkAffected(res, id, ErrConflict); err != nil {
		return nil, err
	}

	return s.Get(id)
}

// FindOverdue returns dispatched jobs whose acknowledgment deadline
// elapsed before now, oldest deadline first. Safe to page via limit.
func (s *Store) FindOverdue(now time.Time, limit int) ([]*Job, error) {
	query := `SELECT ` + selectColumns + `
		FROM jobs
		WHERE status = ? AND ack_deadline < ?
		ORDER BY ack_deadline ASC
		LIMIT ?`

	rows, err := s.db.Query(query, StatusDispatched, now.UTC(), limit)
	if err != nil {
		return nil, storeErr(err, "failed to find overdue jobs")
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, storeErr(err, "failed to scan overdue jobs")
	}
	return jobs, nil
}

// FindUnpublished returns pending or retrying jobs untouched since the
// given cutoff. These are rows whose publish failed (or whose redispatch
// never happened); the checker sweep re-attempts them. The cutoff keeps
// the sweep from racing a dispatch that is still in flight.
func (s *Store) FindUnpublished(updatedBefore time.Time, limit int) ([]*Job, error) {
	query := `SELECT ` + selectColumns + `
		FROM jobs
		WHERE status IN (?, ?) AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?`

	rows, err := s.db.Query(query, StatusPending, StatusRetrying, updatedBefore.UTC(), limit)
	if err != nil {
		return nil, storeErr(err, "failed to find unpublished jobs")
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, storeErr(err, "failed to scan unpublished jobs")
	}
	return jobs, nil
}

// ListRecent returns the most recently created jobs.
func (s *Store) ListRecent(limit int) ([]*Job, error) {
	query := `SELECT ` + selectColumns + `
		FROM jobs
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, storeErr(err, "failed to list recent jobs")
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, storeErr(err, "failed to scan recent jobs")
	}
	return jobs, nil
}

// Ping verifies the store is reachable. Used by the health predicate.
func (s *Store) Ping() error {
	if err := s.db.Ping(); err != nil {
		return storeErr(err, "store unreachable")
	}
	return nil
}

// checkAffected classifies a zero-row conditional update: a missing row is
// ErrNotFound, an existing row in the wrong status is guardErr.
func (s *Store) checkAffected(res sql.Result, id string, guardErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(err, "failed to get rows affected")
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM jobs WHERE id = ?)", id).Scan(&exists); err != nil {
		return storeErr(err, "failed to check job existence")
	}
	if !exists {
		return errors.Mark(errors.Newf("job not found: %s", id), ErrNotFound)
	}
	return errors.Mark(errors.Newf("job %s not in expected status", id), guardErr)
}

func storeErr(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrStore)
}
