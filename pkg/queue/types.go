package queue

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Job is the unit stored in a queue table. DedupeID makes enqueue
// idempotent: enqueueing the same id twice stores one job.
type Job struct {
	Topic    string
	DedupeID uuid.UUID
	Payload  json.RawMessage
}

// Meta is the stable dispatch metadata (idempotency + ops).
type Meta struct {
	Table    pgx.Identifier
	Topic    string
	DedupeID uuid.UUID
	Sequence int64
	Attempts int
}

// Delivery is the unit handed by the Relay to a Handler.
type Delivery struct {
	Meta    Meta
	Payload json.RawMessage
}

// Handler consumes deliveries. A nil error acks the job; an error schedules
// a retry with backoff until MaxAttempts, then dead-letters it.
type Handler interface {
	Handle(ctx context.Context, d Delivery) error
}
