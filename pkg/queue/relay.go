package queue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perch-social/perch/pkg/logging"
)

// Relay polls a queue table and hands claimed jobs to a Handler. Delivery
// is at-least-once: a job is acked only after the handler returns nil, so
// handlers must be idempotent.
type Relay struct {
	pool    *pgxpool.Pool
	table   pgx.Identifier
	handler Handler
	opts    RelayOptions

	lockKey int64

	m          *metrics
	tableLabel string
}

func NewRelay(pool *pgxpool.Pool, table pgx.Identifier, handler Handler, opts RelayOptions) (*Relay, error) {
	if pool == nil {
		return nil, invalidConfig("pool is required")
	}
	if len(table) == 0 {
		return nil, invalidConfig("table is required")
	}
	if handler == nil {
		return nil, invalidConfig("handler is required")
	}

	opts.setDefaults()

	r := &Relay{
		pool:       pool,
		table:      table,
		handler:    handler,
		opts:       opts,
		m:          getMetrics(),
		tableLabel: TableLabel(table),
		lockKey:    advisoryLockKey("queue:" + TableLabel(table)),
	}
	if r.opts.Logger == nil {
		r.opts.Logger = logging.Nop()
	}
	return r, nil
}

func (r *Relay) Run(ctx context.Context) error {
	if ctx == nil {
		return invalidConfig("ctx is required")
	}

	if r.opts.SingleActive {
		return r.runSingleActive(ctx)
	}

	r.m.relayLeader.WithLabelValues(r.tableLabel).Set(1)
	return r.runLoop(ctx)
}

func (r *Relay) runSingleActive(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := r.pool.Acquire(ctx)
		if err != nil {
			r.opts.Logger.WithError(err).Warn("queue: failed to acquire connection for single-active relay")
			if err := sleep(ctx, r.opts.PollInterval); err != nil {
				return err
			}
			continue
		}

		var leader bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, r.lockKey).Scan(&leader); err != nil {
			conn.Release()
			r.opts.Logger.WithError(err).Warn("queue: failed to attempt advisory lock")
			if err := sleep(ctx, r.opts.PollInterval); err != nil {
				return err
			}
			continue
		}

		if !leader {
			r.m.relayLeader.WithLabelValues(r.tableLabel).Set(0)
			conn.Release()
			if err := sleep(ctx, r.opts.PollInterval); err != nil {
				return err
			}
			continue
		}

		r.m.relayLeader.WithLabelValues(r.tableLabel).Set(1)
		r.opts.Logger.WithField("table", r.tableLabel).Info("queue: relay became leader")

		err = r.runLoop(ctx)
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, r.lockKey)
		conn.Release()
		return err
	}
}

func (r *Relay) runLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		r.observePending(ctx)

		if err := r.processOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.opts.Logger.WithError(err).Warn("queue: process tick failed")
		}
	}
}

type claimed struct {
	ID       uuid.UUID
	Topic    string
	Payload  []byte
	DedupeID uuid.UUID
	Sequence int64
	Attempts int
}

func (r *Relay) processOnce(ctx context.Context) error {
	now := time.Now()
	cutoff := now.Add(-r.opts.LockTTL)

	jobs, err := r.claim(ctx, now, cutoff)
	if err != nil {
		return err
	}

	for _, c := range jobs {
		dispatchCtx := ctx
		var cancel func()
		if r.opts.DispatchTimeout > 0 {
			dispatchCtx, cancel = context.WithTimeout(ctx, r.opts.DispatchTimeout)
		}

		start := time.Now()
		err := r.handler.Handle(dispatchCtx, Delivery{
			Meta: Meta{
				Table:    r.table,
				Topic:    c.Topic,
				DedupeID: c.DedupeID,
				Sequence: c.Sequence,
				Attempts: c.Attempts,
			},
			Payload: c.Payload,
		})
		if cancel != nil {
			cancel()
		}

		latency := time.Since(start)
		if err == nil {
			r.m.dispatchTotal.WithLabelValues(r.tableLabel, c.Topic, "success").Inc()
			r.m.dispatchLatency.WithLabelValues(r.tableLabel, c.Topic, "success").Observe(latency.Seconds())
			if ackErr := r.ack(ctx, c.ID); ackErr != nil {
				r.opts.Logger.WithError(ackErr).WithField("job_id", c.ID).Warn("queue: ack failed")
			}
			continue
		}

		r.m.dispatchTotal.WithLabelValues(r.tableLabel, c.Topic, "failure").Inc()
		r.m.dispatchLatency.WithLabelValues(r.tableLabel, c.Topic, "failure").Observe(latency.Seconds())
		lastErr := truncateError(err, r.opts.LastErrorMaxLen)

		if c.Attempts >= r.opts.MaxAttempts {
			r.m.deadTotal.WithLabelValues(r.tableLabel, c.Topic).Inc()
			if deadErr := r.dead(ctx, c.ID, lastErr); deadErr != nil {
				r.opts.Logger.WithError(deadErr).WithField("job_id", c.ID).Warn("queue: dead update failed")
			}
			continue
		}

		next := time.Now().Add(backoff(c.Attempts, r.opts.MaxBackoff) + jitter(r.opts.Rand, r.opts.JitterMax))
		if nackErr := r.nack(ctx, c.ID, lastErr, next); nackErr != nil {
			r.opts.Logger.WithError(nackErr).WithField("job_id", c.ID).Warn("queue: nack failed")
		}
	}

	return nil
}

func (r *Relay) claim(ctx context.Context, now, lockCutoff time.Time) ([]claimed, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := fmt.Sprintf(
		`SELECT id, topic, payload, dedupe_id, sequence, attempts
		   FROM %s
		  WHERE dispatched_at IS NULL
		    AND available_at <= $1
		    AND attempts < $2
		    AND (locked_at IS NULL OR locked_at < $3)
		  ORDER BY available_at, sequence
		  LIMIT $4
		  FOR UPDATE SKIP LOCKED`,
		r.table.Sanitize(),
	)
	rows, err := tx.Query(ctx, q, now, r.opts.MaxAttempts, lockCutoff, r.opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("queue claim select: %w", err)
	}
	defer rows.Close()

	var items []claimed
	var ids []uuid.UUID
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.ID, &c.Topic, &c.Payload, &c.DedupeID, &c.Sequence, &c.Attempts); err != nil {
			return nil, fmt.Errorf("queue claim scan: %w", err)
		}
		c.Attempts++
		items = append(items, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue claim rows: %w", err)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	update := fmt.Sprintf(`UPDATE %s SET locked_at = $1, attempts = attempts + 1 WHERE id = ANY($2)`, r.table.Sanitize())
	if _, err := tx.Exec(ctx, update, now, pgtype.FlatArray[uuid.UUID](ids)); err != nil {
		return nil, fmt.Errorf("queue claim update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return items, nil
}

func (r *Relay) ack(ctx context.Context, id uuid.UUID) error {
	q := fmt.Sprintf(
		`UPDATE %s
		    SET dispatched_at = now(),
		        locked_at = NULL,
		        last_error = NULL
		  WHERE id = $1 AND dispatched_at IS NULL`,
		r.table.Sanitize(),
	)
	if _, err := r.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("queue ack: %w", err)
	}
	return nil
}

func (r *Relay) nack(ctx context.Context, id uuid.UUID, lastError string, nextAvailable time.Time) error {
	q := fmt.Sprintf(
		`UPDATE %s
		    SET locked_at = NULL,
		        last_error = $2,
		        available_at = $3
		  WHERE id = $1 AND dispatched_at IS NULL`,
		r.table.Sanitize(),
	)
	if _, err := r.pool.Exec(ctx, q, id, lastError, nextAvailable); err != nil {
		return fmt.Errorf("queue nack: %w", err)
	}
	return nil
}

func (r *Relay) dead(ctx context.Context, id uuid.UUID, lastError string) error {
	q := fmt.Sprintf(
		`UPDATE %s
		    SET locked_at = NULL,
		        last_error = $2
		  WHERE id = $1 AND dispatched_at IS NULL`,
		r.table.Sanitize(),
	)
	if _, err := r.pool.Exec(ctx, q, id, lastError); err != nil {
		return fmt.Errorf("queue dead: %w", err)
	}
	return nil
}

func (r *Relay) observePending(ctx context.Context) {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE dispatched_at IS NULL`, r.table.Sanitize())
	var pending int64
	if err := r.pool.QueryRow(ctx, q).Scan(&pending); err != nil {
		r.opts.Logger.WithError(err).Debug("queue: observe pending failed")
		return
	}
	r.m.pending.WithLabelValues(r.tableLabel).Set(float64(pending))
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func advisoryLockKey(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64()) //nolint:gosec
}
