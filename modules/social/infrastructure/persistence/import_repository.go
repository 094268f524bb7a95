package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/perch-social/perch/modules/social/domain/importjob"
	"github.com/perch-social/perch/modules/social/infrastructure/persistence/models"
	"github.com/perch-social/perch/pkg/composables"
	"github.com/perch-social/perch/pkg/repo"
)

var ErrImportNotFound = errors.New("import not found")

const (
	importFindQuery = `
        SELECT
            i.id,
            i.account_id,
            i.type,
            i.mode,
            i.state,
            i.total_items,
            i.processed_items,
            i.imported_items,
            i.created_at,
            i.updated_at
        FROM bulk_imports i`

	importRowFindQuery = `
        SELECT
            r.id,
            r.import_id,
            r.position,
            r.data,
            r.outcome
        FROM bulk_import_rows r`

	importRowInsertQuery = `INSERT INTO bulk_import_rows (id, import_id, position, data, outcome) VALUES`

	importTransitionQuery = `
        UPDATE bulk_imports
           SET state = $1, updated_at = now()
         WHERE id = $2 AND account_id = $3 AND state = $4`

	importClaimQuery = `
        UPDATE bulk_imports
           SET state = $1, updated_at = now()
         WHERE id = $2 AND state = $3`

	importDeleteQuery = `DELETE FROM bulk_imports WHERE id = $1 AND account_id = $2 AND state = $3`

	importRecordOutcomeRowQuery = `UPDATE bulk_import_rows SET outcome = $1 WHERE id = $2 AND import_id = $3`

	importBumpCountersQuery = `
        UPDATE bulk_imports
           SET processed_items = processed_items + 1,
               imported_items = imported_items + $1,
               updated_at = now()
         WHERE id = $2`
)

type PgImportRepository struct{}

func NewImportRepository() importjob.Repository {
	return &PgImportRepository{}
}

func (g *PgImportRepository) Create(ctx context.Context, imp *importjob.Import, payloads []importjob.RowPayload) (*importjob.Import, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}

	if imp.ID == uuid.Nil {
		imp.ID = uuid.New()
	}
	imp.State = importjob.StateUnconfirmed
	imp.TotalItems = len(payloads)
	now := time.Now()
	imp.CreatedAt = now
	imp.UpdatedAt = now

	dbImport := toDBImport(imp)
	fields := []string{
		"id",
		"account_id",
		"type",
		"mode",
		"state",
		"total_items",
		"processed_items",
		"imported_items",
		"created_at",
		"updated_at",
	}
	values := []interface{}{
		dbImport.ID,
		dbImport.AccountID,
		dbImport.Type,
		dbImport.Mode,
		dbImport.State,
		dbImport.TotalItems,
		dbImport.ProcessedItems,
		dbImport.ImportedItems,
		dbImport.CreatedAt,
		dbImport.UpdatedAt,
	}

	if _, err := tx.Exec(ctx, repo.Insert("bulk_imports", fields), values...); err != nil {
		return nil, errors.Wrap(err, "failed to insert import")
	}

	if len(payloads) > 0 {
		rows := make([][]interface{}, 0, len(payloads))
		for position, payload := range payloads {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, errors.Wrap(err, "failed to encode row payload")
			}
			rows = append(rows, []interface{}{
				uuid.New().String(),
				dbImport.ID,
				position,
				data,
				string(importjob.OutcomePending),
			})
		}
		q, args := repo.BatchInsertQueryN(importRowInsertQuery, rows)
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return nil, errors.Wrap(err, "failed to insert import rows")
		}
	}

	return imp, nil
}

func (g *PgImportRepository) GetByID(ctx context.Context, accountID, id uuid.UUID) (*importjob.Import, error) {
	imports, err := g.queryImports(ctx, importFindQuery+" WHERE i.id = $1 AND i.account_id = $2", id.String(), accountID.String())
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to query import with id: %s", id))
	}
	if len(imports) == 0 {
		return nil, errors.Wrap(ErrImportNotFound, id.String())
	}
	return imports[0], nil
}

func (g *PgImportRepository) ListRecent(ctx context.Context, accountID uuid.UUID, limit int) ([]*importjob.Import, error) {
	query := repo.Join(
		importFindQuery,
		"WHERE i.account_id = $1",
		"ORDER BY i.created_at DESC, i.id DESC",
		repo.FormatLimitOffset(limit, 0),
	)
	imports, err := g.queryImports(ctx, query, accountID.String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recent imports")
	}
	return imports, nil
}

func (g *PgImportRepository) Transition(ctx context.Context, accountID, id uuid.UUID, from, to importjob.State) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, errors.Wrap(err, "failed to get transaction")
	}
	tag, err := tx.Exec(ctx, importTransitionQuery, string(to), id.String(), accountID.String(), string(from))
	if err != nil {
		return false, errors.Wrap(err, fmt.Sprintf("failed to transition import %s to %s", id, to))
	}
	return tag.RowsAffected() > 0, nil
}

func (g *PgImportRepository) Delete(ctx context.Context, accountID, id uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, errors.Wrap(err, "failed to get transaction")
	}
	tag, err := tx.Exec(ctx, importDeleteQuery, id.String(), accountID.String(), string(importjob.StateUnconfirmed))
	if err != nil {
		return false, errors.Wrap(err, fmt.Sprintf("failed to delete import with id: %s", id))
	}
	return tag.RowsAffected() > 0, nil
}

func (g *PgImportRepository) GetForProcessing(ctx context.Context, id uuid.UUID) (*importjob.Import, error) {
	imports, err := g.queryImports(ctx, importFindQuery+" WHERE i.id = $1", id.String())
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to query import with id: %s", id))
	}
	if len(imports) == 0 {
		return nil, errors.Wrap(ErrImportNotFound, id.String())
	}
	return imports[0], nil
}

func (g *PgImportRepository) ClaimScheduled(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, errors.Wrap(err, "failed to get transaction")
	}
	tag, err := tx.Exec(ctx, importClaimQuery, string(importjob.StateInProgress), id.String(), string(importjob.StateScheduled))
	if err != nil {
		return false, errors.Wrap(err, fmt.Sprintf("failed to claim import with id: %s", id))
	}
	return tag.RowsAffected() > 0, nil
}

func (g *PgImportRepository) Rows(ctx context.Context, importID uuid.UUID) ([]importjob.Row, error) {
	return g.queryRows(ctx, importRowFindQuery+" WHERE r.import_id = $1 ORDER BY r.position", importID.String())
}

func (g *PgImportRepository) FailedRows(ctx context.Context, importID uuid.UUID) ([]importjob.Row, error) {
	return g.queryRows(
		ctx,
		importRowFindQuery+" WHERE r.import_id = $1 AND r.outcome != $2 ORDER BY r.position",
		importID.String(),
		string(importjob.OutcomeImported),
	)
}

func (g *PgImportRepository) RecordOutcome(ctx context.Context, importID, rowID uuid.UUID, outcome importjob.Outcome) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}

	tag, err := tx.Exec(ctx, importRecordOutcomeRowQuery, string(outcome), rowID.String(), importID.String())
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("failed to record outcome for row %s", rowID))
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(ErrImportNotFound, rowID.String())
	}

	imported := 0
	if outcome == importjob.OutcomeImported {
		imported = 1
	}
	if _, err := tx.Exec(ctx, importBumpCountersQuery, imported, importID.String()); err != nil {
		return errors.Wrap(err, fmt.Sprintf("failed to bump counters for import %s", importID))
	}
	return nil
}

func (g *PgImportRepository) Finish(ctx context.Context, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	q := `UPDATE bulk_imports SET state = $1, updated_at = now() WHERE id = $2 AND state = $3`
	if _, err := tx.Exec(ctx, q, string(importjob.StateFinished), id.String(), string(importjob.StateInProgress)); err != nil {
		return errors.Wrap(err, fmt.Sprintf("failed to finish import %s", id))
	}
	return nil
}

func (g *PgImportRepository) queryImports(ctx context.Context, query string, args ...interface{}) ([]*importjob.Import, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute query")
	}
	defer rows.Close()

	var dbImports []*models.BulkImport
	for rows.Next() {
		var m models.BulkImport
		if err := rows.Scan(
			&m.ID,
			&m.AccountID,
			&m.Type,
			&m.Mode,
			&m.State,
			&m.TotalItems,
			&m.ProcessedItems,
			&m.ImportedItems,
			&m.CreatedAt,
			&m.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan import row")
		}
		dbImports = append(dbImports, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "row iteration error")
	}

	entities := make([]*importjob.Import, 0, len(dbImports))
	for _, m := range dbImports {
		entity, err := toDomainImport(m)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert import to domain entity")
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

func (g *PgImportRepository) queryRows(ctx context.Context, query string, args ...interface{}) ([]importjob.Row, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute query")
	}
	defer rows.Close()

	var entities []importjob.Row
	for rows.Next() {
		var m models.BulkImportRow
		if err := rows.Scan(&m.ID, &m.ImportID, &m.Position, &m.Data, &m.Outcome); err != nil {
			return nil, errors.Wrap(err, "failed to scan import row record")
		}
		entity, err := toDomainRow(&m)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert row to domain entity")
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "row iteration error")
	}
	return entities, nil
}
