package services

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/perch-social/perch/modules/social/domain/importjob"
	"github.com/perch-social/perch/modules/social/infrastructure/persistence"
	"github.com/perch-social/perch/pkg/composables"
	"github.com/perch-social/perch/pkg/eventbus"
	"github.com/perch-social/perch/pkg/queue"
)

// QueueTable is the durable queue table carrying confirmed imports to the
// row processor.
var QueueTable = pgx.Identifier{"social_import_queue"}

const defaultListLimit = 40

type ImportServiceConfig struct {
	// MaxRows caps upload size in rows; 0 means unlimited.
	MaxRows int
	// ListLimit bounds ListRecent; 0 falls back to a sane default.
	ListLimit int
}

// ImportService governs the import lifecycle: create (validated, atomic),
// confirm (schedule + durable enqueue), destroy, detail/listing, and the
// failure report. All operations are scoped to the acting account; a job
// that exists but is not actionable is reported as not found.
type ImportService struct {
	repo      importjob.Repository
	publisher queue.Publisher
	bus       eventbus.EventBus
	config    ImportServiceConfig
}

func NewImportService(
	repo importjob.Repository,
	publisher queue.Publisher,
	bus eventbus.EventBus,
	config ImportServiceConfig,
) *ImportService {
	if config.ListLimit == 0 {
		config.ListLimit = defaultListLimit
	}
	return &ImportService{
		repo:      repo,
		publisher: publisher,
		bus:       bus,
		config:    config,
	}
}

func (s *ImportService) ListRecent(ctx context.Context) ([]*importjob.Import, error) {
	accountID, err := composables.UseAccountID(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListRecent(ctx, accountID, s.config.ListLimit)
}

// GetByID returns an owned import awaiting confirmation. Confirmed and
// processed imports are not shown through the detail flow.
func (s *ImportService) GetByID(ctx context.Context, id uuid.UUID) (*importjob.Import, error) {
	accountID, err := composables.UseAccountID(ctx)
	if err != nil {
		return nil, err
	}
	imp, err := s.repo.GetByID(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if imp.State != importjob.StateUnconfirmed {
		return nil, errors.Wrap(persistence.ErrImportNotFound, id.String())
	}
	return imp, nil
}

// Create validates the upload for the declared kind and persists the
// import with its rows atomically. Nothing is stored when validation
// rejects the batch.
func (s *ImportService) Create(ctx context.Context, kind importjob.Kind, mode importjob.Mode, upload []byte) (*importjob.Import, error) {
	accountID, err := composables.UseAccountID(ctx)
	if err != nil {
		return nil, err
	}

	payloads, err := importjob.ParseUpload(kind, upload, s.config.MaxRows)
	if err != nil {
		return nil, err
	}

	imp := &importjob.Import{
		AccountID: accountID,
		Kind:      kind,
		Mode:      mode,
	}
	err = composables.InTx(ctx, func(txCtx context.Context) error {
		created, err := s.repo.Create(txCtx, imp, payloads)
		if err != nil {
			return err
		}
		imp = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(importjob.TopicImportCreatedV1, importjob.NewImportEvent(imp))
	return imp, nil
}

// Confirm schedules an owned, unconfirmed import and durably enqueues a
// processing job in the same transaction; it returns without waiting for
// processing.
func (s *ImportService) Confirm(ctx context.Context, id uuid.UUID) error {
	accountID, err := composables.UseAccountID(ctx)
	if err != nil {
		return err
	}

	err = composables.InTx(ctx, func(txCtx context.Context) error {
		ok, err := s.repo.Transition(txCtx, accountID, id, importjob.StateUnconfirmed, importjob.StateScheduled)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrap(persistence.ErrImportNotFound, id.String())
		}

		tx, err := composables.UseTx(txCtx)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(importjob.ProcessImportPayload{ImportID: id})
		if err != nil {
			return errors.Wrap(err, "failed to encode processing payload")
		}
		_, err = s.publisher.Enqueue(txCtx, tx, QueueTable, queue.Job{
			Topic:    importjob.TopicProcessImport,
			DedupeID: id,
			Payload:  payload,
		})
		return err
	})
	if err != nil {
		return err
	}

	if imp, err := s.repo.GetByID(ctx, accountID, id); err == nil {
		s.bus.Publish(importjob.TopicImportConfirmedV1, importjob.NewImportEvent(imp))
	}
	return nil
}

// Destroy deletes an owned, unconfirmed import and its rows.
func (s *ImportService) Destroy(ctx context.Context, id uuid.UUID) error {
	accountID, err := composables.UseAccountID(ctx)
	if err != nil {
		return err
	}
	ok, err := s.repo.Delete(ctx, accountID, id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrap(persistence.ErrImportNotFound, id.String())
	}
	return nil
}

// ExportFormat selects the failure report encoding.
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportXLSX ExportFormat = "xlsx"
)

// ExportFailures renders rows whose outcome is not imported, in original
// upload order, encoded per the import kind's codec.
func (s *ImportService) ExportFailures(ctx context.Context, id uuid.UUID, format ExportFormat) ([]byte, string, error) {
	accountID, err := composables.UseAccountID(ctx)
	if err != nil {
		return nil, "", err
	}

	imp, err := s.repo.GetByID(ctx, accountID, id)
	if err != nil {
		return nil, "", err
	}
	if imp.State == importjob.StateUnconfirmed {
		return nil, "", errors.Wrap(persistence.ErrImportNotFound, id.String())
	}

	rows, err := s.repo.FailedRows(ctx, id)
	if err != nil {
		return nil, "", err
	}
	payloads := make([]importjob.RowPayload, 0, len(rows))
	for _, r := range rows {
		payloads = append(payloads, r.Payload)
	}

	if format == ExportXLSX {
		data, err := writeFailureWorkbook(imp.Kind, payloads)
		if err != nil {
			return nil, "", err
		}
		return data, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", nil
	}

	var buf bytes.Buffer
	if err := importjob.WriteFailureReport(&buf, imp.Kind, payloads); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "text/csv", nil
}

// ParseExportFormat maps a caller-supplied format string; unknown values
// fall back to CSV.
func ParseExportFormat(s string) ExportFormat {
	if s == string(ExportXLSX) {
		return ExportXLSX
	}
	return ExportCSV
}
