package importjob

import (
	"time"

	"github.com/google/uuid"

	"github.com/perch-social/perch/pkg/serrors"
)

// Kind identifies which relationship collection an import feeds.
type Kind string

const (
	KindFollowing      Kind = "following"
	KindBlocking       Kind = "blocking"
	KindMuting         Kind = "muting"
	KindDomainBlocking Kind = "domain_blocking"
	KindBookmarks      Kind = "bookmarks"
	KindLists          Kind = "lists"
)

func NewKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.IsValid() {
		return "", serrors.NewInvalidFieldError("type", "unknown import type", "Social.Imports.Errors.unknown_type")
	}
	return k, nil
}

func (k Kind) IsValid() bool {
	switch k {
	case KindFollowing, KindBlocking, KindMuting, KindDomainBlocking, KindBookmarks, KindLists:
		return true
	}
	return false
}

// Mode controls what happens to existing relationships absent from the
// import set: merge leaves them alone, overwrite removes them.
type Mode string

const (
	ModeMerge     Mode = "merge"
	ModeOverwrite Mode = "overwrite"
)

func NewMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.IsValid() {
		return "", serrors.NewInvalidFieldError("mode", "unknown import mode", "Social.Imports.Errors.unknown_mode")
	}
	return m, nil
}

func (m Mode) IsValid() bool {
	return m == ModeMerge || m == ModeOverwrite
}

// State is the import lifecycle position. Transitions only ever move
// forward: unconfirmed -> scheduled -> in_progress -> finished.
type State string

const (
	StateUnconfirmed State = "unconfirmed"
	StateScheduled   State = "scheduled"
	StateInProgress  State = "in_progress"
	StateFinished    State = "finished"
)

// Outcome is the per-row processing result.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeImported Outcome = "imported"
	OutcomeFailed   Outcome = "failed"
)

// Import is one bulk import request and its lifecycle state.
type Import struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	Kind           Kind
	Mode           Mode
	State          State
	TotalItems     int
	ProcessedItems int
	ImportedItems  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Row is one normalized record belonging to an import. Position preserves
// the original upload order.
type Row struct {
	ID       uuid.UUID
	ImportID uuid.UUID
	Position int
	Payload  RowPayload
	Outcome  Outcome
}

// RowPayload is the kind-specific decoded record. Only the fields relevant
// to the owning import's kind are meaningful; decode fills the rest with
// zero values.
type RowPayload struct {
	Acct              string   `json:"acct,omitempty"`
	ShowReblogs       bool     `json:"show_reblogs,omitempty"`
	Notify            bool     `json:"notify,omitempty"`
	Languages         []string `json:"languages,omitempty"`
	HideNotifications bool     `json:"hide_notifications,omitempty"`
	Domain            string   `json:"domain,omitempty"`
	URI               string   `json:"uri,omitempty"`
	ListName          string   `json:"list_name,omitempty"`
}
