package job

import (
	"database/sql"
	"time"
)

// jobScanArgs holds the nullable column targets needed for scanning a job
// row. Populated targets are folded back into the Job by processScanArgs.
type jobScanArgs struct {
	Payload        sql.NullString
	TimeoutSeconds int64
	DispatchedAt   sql.NullTime
	AckDeadline    sql.NullTime
	Result         sql.NullString
	ErrorMsg       sql.NullString
	DurationMs     sql.NullInt64
}

// selectColumns is the column list every job SELECT uses, in the order
// expected by scanTargets.
const selectColumns = `id, job_type, payload, status, attempt_count, max_attempts,
	timeout_seconds, dispatched_at, ack_deadline, result, error, duration_ms, created_at, updated_at`

func scanTargets(j *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&j.ID,
		&j.Type,
		&args.Payload,
		&j.Status,
		&j.AttemptCount,
		&j.MaxAttempts,
		&args.TimeoutSeconds,
		&args.DispatchedAt,
		&args.AckDeadline,
		&args.Result,
		&args.ErrorMsg,
		&args.DurationMs,
		&j.CreatedAt,
		&j.UpdatedAt,
	}
}

func processScanArgs(j *Job, args *jobScanArgs) {
	if args.Payload.Valid {
		j.Payload = []byte(args.Payload.String)
	}
	j.Timeout = time.Duration(args.TimeoutSeconds) * time.Second
	if args.DispatchedAt.Valid {
		t := args.DispatchedAt.Time
		j.DispatchedAt = &t
	}
	if args.AckDeadline.Valid {
		t := args.AckDeadline.Time
		j.AckDeadline = &t
	}
	if args.Result.Valid {
		j.Result = []byte(args.Result.String)
	}
	if args.ErrorMsg.Valid {
		j.Error = args.ErrorMsg.String
	}
	if args.DurationMs.Valid {
		d := args.DurationMs.Int64
		j.DurationMs = &d
	}
}

// scanJobRow scans a single job from a QueryRow result.
func scanJobRow(row *sql.Row) (*Job, error) {
	var j Job
	args := &jobScanArgs{}
	if err := row.Scan(scanTargets(&j, args)...); err != nil {
		return nil, err
	}
	processScanArgs(&j, args)
	return &j, nil
}

// scanJobs scans multiple jobs from query rows.
func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var j Job
		args := &jobScanArgs{}
		if err := rows.Scan(scanTargets(&j, args)...); err != nil {
			return nil, err
		}
		processScanArgs(&j, args)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}
