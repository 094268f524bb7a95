package models

import (
	"encoding/json"
	"time"
)

type BulkImport struct {
	ID             string
	AccountID      string
	Type           string
	Mode           string
	State          string
	TotalItems     int
	ProcessedItems int
	ImportedItems  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type BulkImportRow struct {
	ID       string
	ImportID string
	Position int
	Data     json.RawMessage
	Outcome  string
}
