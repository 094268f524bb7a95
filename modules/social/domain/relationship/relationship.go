package relationship

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"golang.org/x/net/idna"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrStatusNotFound  = errors.New("status not found")
	ErrSelfReference   = errors.New("relationship target is the owning account")
	ErrInvalidDomain   = errors.New("invalid domain")
)

// Following carries the per-follow attributes an import can set.
type Following struct {
	TargetID    uuid.UUID
	ShowReblogs bool
	Notify      bool
	Languages   []string
}

// Graph is the account's relationship store. Mutations are upserts; Prune*
// removes entries of one kind absent from the keep set (overwrite-mode
// imports). Implementations run inside the caller's transaction.
type Graph interface {
	ResolveAccount(ctx context.Context, acct string) (uuid.UUID, error)
	ResolveStatus(ctx context.Context, uri string) (uuid.UUID, error)

	Follow(ctx context.Context, accountID uuid.UUID, f Following) error
	PruneFollowing(ctx context.Context, accountID uuid.UUID, keep []uuid.UUID) error

	Block(ctx context.Context, accountID, targetID uuid.UUID) error
	PruneBlocks(ctx context.Context, accountID uuid.UUID, keep []uuid.UUID) error

	Mute(ctx context.Context, accountID, targetID uuid.UUID, hideNotifications bool) error
	PruneMutes(ctx context.Context, accountID uuid.UUID, keep []uuid.UUID) error

	BlockDomain(ctx context.Context, accountID uuid.UUID, domain string) error
	PruneDomainBlocks(ctx context.Context, accountID uuid.UUID, keep []string) error

	Bookmark(ctx context.Context, accountID, statusID uuid.UUID) error
	PruneBookmarks(ctx context.Context, accountID uuid.UUID, keep []uuid.UUID) error

	AddToList(ctx context.Context, accountID uuid.UUID, listTitle string, memberID uuid.UUID) (listID uuid.UUID, err error)
	PruneListMemberships(ctx context.Context, accountID uuid.UUID, keep map[uuid.UUID][]uuid.UUID) error
}

// NormalizeDomain lowercases and punycode-normalizes a domain name.
func NormalizeDomain(domain string) (string, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || strings.ContainsAny(domain, " /@") || !strings.Contains(domain, ".") {
		return "", errors.Wrap(ErrInvalidDomain, domain)
	}
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", errors.Wrap(ErrInvalidDomain, domain)
	}
	return ascii, nil
}
