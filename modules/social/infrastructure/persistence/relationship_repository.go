package persistence

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/perch-social/perch/modules/social/domain/relationship"
	"github.com/perch-social/perch/pkg/composables"
)

const (
	accountResolveQuery = `SELECT id FROM accounts WHERE lower(acct) = lower($1)`
	statusResolveQuery  = `SELECT id FROM statuses WHERE uri = $1`

	followUpsertQuery = `
        INSERT INTO follows (account_id, target_account_id, show_reblogs, notify, languages)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (account_id, target_account_id)
        DO UPDATE SET show_reblogs = EXCLUDED.show_reblogs,
                      notify = EXCLUDED.notify,
                      languages = EXCLUDED.languages`

	blockUpsertQuery = `
        INSERT INTO blocks (account_id, target_account_id)
        VALUES ($1, $2)
        ON CONFLICT (account_id, target_account_id) DO NOTHING`

	muteUpsertQuery = `
        INSERT INTO mutes (account_id, target_account_id, hide_notifications)
        VALUES ($1, $2, $3)
        ON CONFLICT (account_id, target_account_id)
        DO UPDATE SET hide_notifications = EXCLUDED.hide_notifications`

	domainBlockUpsertQuery = `
        INSERT INTO account_domain_blocks (account_id, domain)
        VALUES ($1, $2)
        ON CONFLICT (account_id, domain) DO NOTHING`

	bookmarkUpsertQuery = `
        INSERT INTO bookmarks (account_id, status_id)
        VALUES ($1, $2)
        ON CONFLICT (account_id, status_id) DO NOTHING`

	listUpsertQuery = `
        INSERT INTO lists (id, account_id, title)
        VALUES ($1, $2, $3)
        ON CONFLICT (account_id, title)
        DO UPDATE SET title = EXCLUDED.title
        RETURNING id`

	listMemberInsertQuery = `
        INSERT INTO list_accounts (list_id, account_id)
        VALUES ($1, $2)
        ON CONFLICT (list_id, account_id) DO NOTHING`

	listMembershipsQuery = `
        SELECT la.list_id, la.account_id
        FROM list_accounts la
        JOIN lists l ON l.id = la.list_id
        WHERE l.account_id = $1`

	listMemberDeleteQuery = `DELETE FROM list_accounts WHERE list_id = $1 AND account_id = $2`
)

type PgRelationshipRepository struct{}

func NewRelationshipRepository() relationship.Graph {
	return &PgRelationshipRepository{}
}

func (g *PgRelationshipRepository) ResolveAccount(ctx context.Context, acct string) (uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to get transaction")
	}
	var id uuid.UUID
	if err := tx.QueryRow(ctx, accountResolveQuery, acct).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, errors.Wrap(relationship.ErrAccountNotFound, acct)
		}
		return uuid.Nil, errors.Wrap(err, fmt.Sprintf("failed to resolve account %s", acct))
	}
	return id, nil
}

func (g *PgRelationshipRepository) ResolveStatus(ctx context.Context, uri string) (uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to get transaction")
	}
	var id uuid.UUID
	if err := tx.QueryRow(ctx, statusResolveQuery, uri).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, errors.Wrap(relationship.ErrStatusNotFound, uri)
		}
		return uuid.Nil, errors.Wrap(err, fmt.Sprintf("failed to resolve status %s", uri))
	}
	return id, nil
}

func (g *PgRelationshipRepository) Follow(ctx context.Context, accountID uuid.UUID, f relationship.Following) error {
	return g.execQuery(ctx, followUpsertQuery, accountID, f.TargetID, f.ShowReblogs, f.Notify, f.Languages)
}

func (g *PgRelationshipRepository) PruneFollowing(ctx context.Context, accountID uuid.UUID, keep []uuid.UUID) error {
	return g.pruneByTarget(ctx, "follows", accountID, keep)
}

func (g *PgRelationshipRepository) Block(ctx context.Context, accountID, targetID uuid.UUID) error {
	return g.execQuery(ctx, blockUpsertQuery, accountID, targetID)
}

func (g *PgRelationshipRepository) PruneBlocks(ctx context.Context, accountID uuid.UUID, keep []uuid.UUID) error {
	return g.pruneByTarget(ctx, "blocks", accountID, keep)
}

func (g *PgRelationshipRepository) Mute(ctx context.Context, accountID, targetID uuid.UUID, hideNotifications bool) error {
	return g.execQuery(ctx, muteUpsertQuery, accountID, targetID, hideNotifications)
}

func (g *PgRelationshipRepository) PruneMutes(ctx context.Context, accountID uuid.UUID, keep []uuid.UUID) error {
	return g.pruneByTarget(ctx, "mutes", accountID, keep)
}

func (g *PgRelationshipRepository) BlockDomain(ctx context.Context, accountID uuid.UUID, domain string) error {
	return g.execQuery(ctx, domainBlockUpsertQuery, accountID, domain)
}

func (g *PgRelationshipRepository) PruneDomainBlocks(ctx context.Context, accountID uuid.UUID, keep []string) error {
	if keep == nil {
		keep = []string{}
	}
	q := `DELETE FROM account_domain_blocks WHERE account_id = $1 AND domain != ALL($2)`
	return g.execQuery(ctx, q, accountID, keep)
}

func (g *PgRelationshipRepository) Bookmark(ctx context.Context, accountID, statusID uuid.UUID) error {
	return g.execQuery(ctx, bookmarkUpsertQuery, accountID, statusID)
}

func (g *PgRelationshipRepository) PruneBookmarks(ctx context.Context, accountID uuid.UUID, keep []uuid.UUID) error {
	if keep == nil {
		keep = []uuid.UUID{}
	}
	q := `DELETE FROM bookmarks WHERE account_id = $1 AND status_id != ALL($2)`
	return g.execQuery(ctx, q, accountID, pgtype.FlatArray[uuid.UUID](keep))
}

func (g *PgRelationshipRepository) AddToList(ctx context.Context, accountID uuid.UUID, listTitle string, memberID uuid.UUID) (uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to get transaction")
	}

	var listID uuid.UUID
	if err := tx.QueryRow(ctx, listUpsertQuery, uuid.New(), accountID, listTitle).Scan(&listID); err != nil {
		return uuid.Nil, errors.Wrap(err, fmt.Sprintf("failed to upsert list %q", listTitle))
	}
	if _, err := tx.Exec(ctx, listMemberInsertQuery, listID, memberID); err != nil {
		return uuid.Nil, errors.Wrap(err, fmt.Sprintf("failed to add member to list %q", listTitle))
	}
	return listID, nil
}

func (g *PgRelationshipRepository) PruneListMemberships(ctx context.Context, accountID uuid.UUID, keep map[uuid.UUID][]uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}

	rows, err := tx.Query(ctx, listMembershipsQuery, accountID)
	if err != nil {
		return errors.Wrap(err, "failed to query list memberships")
	}
	defer rows.Close()

	type membership struct {
		listID   uuid.UUID
		memberID uuid.UUID
	}
	var stale []membership
	for rows.Next() {
		var m membership
		if err := rows.Scan(&m.listID, &m.memberID); err != nil {
			return errors.Wrap(err, "failed to scan list membership")
		}
		kept := false
		for _, id := range keep[m.listID] {
			if id == m.memberID {
				kept = true
				break
			}
		}
		if !kept {
			stale = append(stale, m)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "row iteration error")
	}
	rows.Close()

	for _, m := range stale {
		if _, err := tx.Exec(ctx, listMemberDeleteQuery, m.listID, m.memberID); err != nil {
			return errors.Wrap(err, "failed to delete list membership")
		}
	}
	return nil
}

func (g *PgRelationshipRepository) pruneByTarget(ctx context.Context, table string, accountID uuid.UUID, keep []uuid.UUID) error {
	if keep == nil {
		keep = []uuid.UUID{}
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE account_id = $1 AND target_account_id != ALL($2)`, table)
	return g.execQuery(ctx, q, accountID, pgtype.FlatArray[uuid.UUID](keep))
}

func (g *PgRelationshipRepository) execQuery(ctx context.Context, query string, args ...interface{}) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get transaction")
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return errors.Wrap(err, "failed to execute query")
	}
	return nil
}
