package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/perch-social/perch/pkg/repo"
)

// Publisher enqueues jobs inside the caller's transaction, so a job is
// durably queued if and only if the surrounding business write commits.
type Publisher interface {
	Enqueue(ctx context.Context, tx repo.Tx, table pgx.Identifier, job Job) (sequence int64, err error)
}

type publisher struct {
	m *metrics
}

func NewPublisher() Publisher {
	return &publisher{m: getMetrics()}
}

func (p *publisher) Enqueue(ctx context.Context, tx repo.Tx, table pgx.Identifier, job Job) (int64, error) {
	if job.DedupeID == uuid.Nil {
		return 0, fmt.Errorf("%w: dedupe_id is required", ErrInvalidConfig)
	}
	if job.Topic == "" {
		return 0, fmt.Errorf("%w: topic is required", ErrInvalidConfig)
	}
	if len(table) == 0 {
		return 0, fmt.Errorf("%w: table is required", ErrInvalidConfig)
	}

	q := fmt.Sprintf(
		`INSERT INTO %s (topic, payload, dedupe_id, available_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (dedupe_id) DO UPDATE SET dedupe_id = EXCLUDED.dedupe_id
		 RETURNING sequence`,
		table.Sanitize(),
	)

	var sequence int64
	if err := tx.QueryRow(ctx, q, job.Topic, job.Payload, job.DedupeID).Scan(&sequence); err != nil {
		return 0, fmt.Errorf("queue enqueue: %w", err)
	}

	p.m.enqueueTotal.WithLabelValues(TableLabel(table), job.Topic).Inc()

	return sequence, nil
}
