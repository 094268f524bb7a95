package persistence

import (
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/perch-social/perch/modules/social/domain/importjob"
	"github.com/perch-social/perch/modules/social/infrastructure/persistence/models"
)

func toDBImport(imp *importjob.Import) *models.BulkImport {
	return &models.BulkImport{
		ID:             imp.ID.String(),
		AccountID:      imp.AccountID.String(),
		Type:           string(imp.Kind),
		Mode:           string(imp.Mode),
		State:          string(imp.State),
		TotalItems:     imp.TotalItems,
		ProcessedItems: imp.ProcessedItems,
		ImportedItems:  imp.ImportedItems,
		CreatedAt:      imp.CreatedAt,
		UpdatedAt:      imp.UpdatedAt,
	}
}

func toDomainImport(m *models.BulkImport) (*importjob.Import, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse import id")
	}
	accountID, err := uuid.Parse(m.AccountID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse account id")
	}
	return &importjob.Import{
		ID:             id,
		AccountID:      accountID,
		Kind:           importjob.Kind(m.Type),
		Mode:           importjob.Mode(m.Mode),
		State:          importjob.State(m.State),
		TotalItems:     m.TotalItems,
		ProcessedItems: m.ProcessedItems,
		ImportedItems:  m.ImportedItems,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

func toDomainRow(m *models.BulkImportRow) (importjob.Row, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return importjob.Row{}, errors.Wrap(err, "failed to parse row id")
	}
	importID, err := uuid.Parse(m.ImportID)
	if err != nil {
		return importjob.Row{}, errors.Wrap(err, "failed to parse row import id")
	}
	var payload importjob.RowPayload
	if err := json.Unmarshal(m.Data, &payload); err != nil {
		return importjob.Row{}, errors.Wrap(err, "failed to decode row payload")
	}
	return importjob.Row{
		ID:       id,
		ImportID: importID,
		Position: m.Position,
		Payload:  payload,
		Outcome:  importjob.Outcome(m.Outcome),
	}, nil
}
