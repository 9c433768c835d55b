// Package broker publishes job-dispatch messages and consumes result
// messages over RabbitMQ, managing the connection lifecycle.
//
// Topology: one durable topic exchange. Dispatch envelopes go out on
// jobs.execute.<job_type>; results come back on a durable queue bound to
// jobs.completed and jobs.failed. The broker owns message durability;
// unacknowledged messages are redelivered after a reconnect.
package broker

import (
	"encoding/json"
	"time"

	"github.com/quantor/scheduler/errors"
	"github.com/quantor/scheduler/job"
)

// Routing keys on the topic exchange.
const (
	RoutingKeyExecutePrefix = "jobs.execute."
	RoutingKeyCompleted     = "jobs.completed"
	RoutingKeyFailed        = "jobs.failed"
)

// DispatchEnvelope is the outbound work-request message.
type DispatchEnvelope struct {
	JobID        string          `json:"job_id"`
	JobType      string          `json:"job_type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	AttemptCount int             `json:"attempt_count"`
	SentAt       time.Time       `json:"sent_at"`
}

// NewDispatchEnvelope builds the envelope for a job's current attempt.
// The attempt count reflects the dispatch being made, so the first publish
// carries attempt_count 1 even though the row still reads 0 until
// MarkDispatched commits.
func NewDispatchEnvelope(j *job.Job) *DispatchEnvelope {
	return &DispatchEnvelope{
		JobID:        j.ID,
		JobType:      j.Type,
		Payload:      j.Payload,
		AttemptCount: j.AttemptCount + 1,
		SentAt:       time.Now().UTC(),
	}
}

// RoutingKey returns the topic routing key for this envelope.
func (e *DispatchEnvelope) RoutingKey() string {
	return RoutingKeyExecutePrefix + e.JobType
}

// Encode serializes the envelope for publishing.
func (e *DispatchEnvelope) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode dispatch envelope")
	}
	return body, nil
}

// ResultEvent is the inbound result/ack message from the worker pool.
type ResultEvent struct {
	JobID       string          `json:"job_id"`
	Outcome     job.Outcome     `json:"outcome"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	EmittedAt   time.Time       `json:"emitted_at"`
	DurationMs  *int64          `json:"duration_ms,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// ParseResultEvent decodes and validates an inbound result message body.
func ParseResultEvent(body []byte) (*ResultEvent, error) {
	var event ResultEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, errors.Wrap(err, "failed to decode result event")
	}
	if event.JobID == "" {
		return nil, errors.New("result event missing job_id")
	}
	if event.Outcome != job.OutcomeSuccess && event.Outcome != job.OutcomeFailure {
		return nil, errors.Newf("result event has unknown outcome: %q", event.Outcome)
	}
	return &event, nil
}
