package importjob

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create persists the import and its rows atomically: both or neither.
	Create(ctx context.Context, imp *Import, payloads []RowPayload) (*Import, error)

	// GetByID returns the import only when owned by accountID, any state.
	GetByID(ctx context.Context, accountID, id uuid.UUID) (*Import, error)

	// ListRecent returns the owner's imports, most recent first.
	ListRecent(ctx context.Context, accountID uuid.UUID, limit int) ([]*Import, error)

	// Transition moves an owned import from one state to the next and
	// reports whether a row was affected. It never moves backward because
	// the expected current state is part of the predicate.
	Transition(ctx context.Context, accountID, id uuid.UUID, from, to State) (bool, error)

	// Delete removes an owned, unconfirmed import and its rows; reports
	// whether anything was deleted.
	Delete(ctx context.Context, accountID, id uuid.UUID) (bool, error)

	// GetForProcessing loads an import by id alone; the worker runs
	// without the owning request's context.
	GetForProcessing(ctx context.Context, id uuid.UUID) (*Import, error)

	// ClaimScheduled moves scheduled -> in_progress; false when the
	// import is in any other state (redelivery no-op guard).
	ClaimScheduled(ctx context.Context, id uuid.UUID) (bool, error)

	// Rows returns the import's rows in original upload order.
	Rows(ctx context.Context, importID uuid.UUID) ([]Row, error)

	// FailedRows returns rows with outcome != imported in original order.
	FailedRows(ctx context.Context, importID uuid.UUID) ([]Row, error)

	// RecordOutcome sets one row's outcome and bumps the import counters:
	// processed always, imported only when the outcome is imported.
	RecordOutcome(ctx context.Context, importID, rowID uuid.UUID, outcome Outcome) error

	// Finish moves in_progress -> finished.
	Finish(ctx context.Context, id uuid.UUID) error
}
