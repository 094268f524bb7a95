package importjob

import (
	"time"

	"github.com/google/uuid"
)

const (
	TopicImportCreatedV1   = "social.import.created.v1"
	TopicImportConfirmedV1 = "social.import.confirmed.v1"
	TopicImportFinishedV1  = "social.import.finished.v1"

	// TopicProcessImport is the queue topic carrying confirmed imports to
	// the row processor.
	TopicProcessImport = "social.import.process"
)

type ImportEventV1 struct {
	EventID        uuid.UUID `json:"event_id"`
	ImportID       uuid.UUID `json:"import_id"`
	AccountID      uuid.UUID `json:"account_id"`
	Kind           Kind      `json:"type"`
	Mode           Mode      `json:"mode"`
	State          State     `json:"state"`
	TotalItems     int       `json:"total_items"`
	ProcessedItems int       `json:"processed_items"`
	ImportedItems  int       `json:"imported_items"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func NewImportEvent(imp *Import) ImportEventV1 {
	return ImportEventV1{
		EventID:        uuid.New(),
		ImportID:       imp.ID,
		AccountID:      imp.AccountID,
		Kind:           imp.Kind,
		Mode:           imp.Mode,
		State:          imp.State,
		TotalItems:     imp.TotalItems,
		ProcessedItems: imp.ProcessedItems,
		ImportedItems:  imp.ImportedItems,
		OccurredAt:     time.Now(),
	}
}

// ProcessImportPayload is the queue message body for TopicProcessImport.
type ProcessImportPayload struct {
	ImportID uuid.UUID `json:"import_id"`
}
