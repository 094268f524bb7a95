package services

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/perch-social/perch/modules/social/domain/importjob"
	"github.com/perch-social/perch/modules/social/domain/relationship"
	"github.com/perch-social/perch/pkg/composables"
	"github.com/perch-social/perch/pkg/eventbus"
	"github.com/perch-social/perch/pkg/queue"
)

// ImportProcessor consumes confirmed imports off the durable queue and
// applies their rows to the relationship graph. Delivery is at least
// once; the scheduled -> in_progress claim makes redeliveries no-ops.
type ImportProcessor struct {
	pool  *pgxpool.Pool
	repo  importjob.Repository
	graph relationship.Graph
	bus   eventbus.EventBus
	log   *logrus.Entry
}

func NewImportProcessor(
	pool *pgxpool.Pool,
	repo importjob.Repository,
	graph relationship.Graph,
	bus eventbus.EventBus,
	log *logrus.Entry,
) *ImportProcessor {
	return &ImportProcessor{
		pool:  pool,
		repo:  repo,
		graph: graph,
		bus:   bus,
		log:   log,
	}
}

var _ queue.Handler = (*ImportProcessor)(nil)

func (p *ImportProcessor) Handle(ctx context.Context, d queue.Delivery) error {
	var payload importjob.ProcessImportPayload
	if err := json.Unmarshal(d.Payload, &payload); err != nil {
		return errors.Wrap(err, "failed to decode processing payload")
	}
	ctx = composables.WithPool(ctx, p.pool)

	var claimed bool
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		ok, err := p.repo.ClaimScheduled(txCtx, payload.ImportID)
		if err != nil {
			return err
		}
		claimed = ok
		return nil
	})
	if err != nil {
		return err
	}
	if !claimed {
		p.log.WithField("import_id", payload.ImportID).Info("import not scheduled, skipping delivery")
		return nil
	}

	err = composables.InTx(ctx, func(txCtx context.Context) error {
		return p.process(txCtx, payload.ImportID)
	})
	if err != nil {
		return err
	}

	if imp, err := p.repo.GetForProcessing(ctx, payload.ImportID); err == nil {
		p.bus.Publish(importjob.TopicImportFinishedV1, importjob.NewImportEvent(imp))
	}
	return nil
}

func (p *ImportProcessor) process(ctx context.Context, id uuid.UUID) error {
	imp, err := p.repo.GetForProcessing(ctx, id)
	if err != nil {
		return err
	}
	rows, err := p.repo.Rows(ctx, id)
	if err != nil {
		return err
	}

	keep := newKeepSet()
	for _, row := range rows {
		outcome, err := p.applyRow(ctx, imp, row.Payload, keep)
		if err != nil {
			return err
		}
		if err := p.repo.RecordOutcome(ctx, id, row.ID, outcome); err != nil {
			return err
		}
	}

	if imp.Mode == importjob.ModeOverwrite {
		if err := p.prune(ctx, imp, keep); err != nil {
			return err
		}
	}
	return p.repo.Finish(ctx, id)
}

// keepSet collects the identities successfully imported in this run so
// overwrite mode can prune everything else.
type keepSet struct {
	accounts []uuid.UUID
	statuses []uuid.UUID
	domains  []string
	lists    map[uuid.UUID][]uuid.UUID
}

func newKeepSet() *keepSet {
	return &keepSet{lists: make(map[uuid.UUID][]uuid.UUID)}
}

func (p *ImportProcessor) applyRow(ctx context.Context, imp *importjob.Import, payload importjob.RowPayload, keep *keepSet) (importjob.Outcome, error) {
	err := p.applyPayload(ctx, imp, payload, keep)
	if err == nil {
		return importjob.OutcomeImported, nil
	}
	if isRowFailure(err) {
		p.log.WithFields(logrus.Fields{
			"import_id": imp.ID,
			"kind":      imp.Kind,
		}).WithError(err).Debug("import row failed")
		return importjob.OutcomeFailed, nil
	}
	return importjob.OutcomeFailed, err
}

func (p *ImportProcessor) applyPayload(ctx context.Context, imp *importjob.Import, payload importjob.RowPayload, keep *keepSet) error {
	switch imp.Kind {
	case importjob.KindFollowing:
		targetID, err := p.resolveOther(ctx, imp.AccountID, payload.Acct)
		if err != nil {
			return err
		}
		if err := p.graph.Follow(ctx, imp.AccountID, relationship.Following{
			TargetID:    targetID,
			ShowReblogs: payload.ShowReblogs,
			Notify:      payload.Notify,
			Languages:   payload.Languages,
		}); err != nil {
			return err
		}
		keep.accounts = append(keep.accounts, targetID)
		return nil
	case importjob.KindBlocking:
		targetID, err := p.resolveOther(ctx, imp.AccountID, payload.Acct)
		if err != nil {
			return err
		}
		if err := p.graph.Block(ctx, imp.AccountID, targetID); err != nil {
			return err
		}
		keep.accounts = append(keep.accounts, targetID)
		return nil
	case importjob.KindMuting:
		targetID, err := p.resolveOther(ctx, imp.AccountID, payload.Acct)
		if err != nil {
			return err
		}
		if err := p.graph.Mute(ctx, imp.AccountID, targetID, payload.HideNotifications); err != nil {
			return err
		}
		keep.accounts = append(keep.accounts, targetID)
		return nil
	case importjob.KindDomainBlocking:
		domain, err := relationship.NormalizeDomain(payload.Domain)
		if err != nil {
			return err
		}
		if err := p.graph.BlockDomain(ctx, imp.AccountID, domain); err != nil {
			return err
		}
		keep.domains = append(keep.domains, domain)
		return nil
	case importjob.KindBookmarks:
		statusID, err := p.graph.ResolveStatus(ctx, payload.URI)
		if err != nil {
			return err
		}
		if err := p.graph.Bookmark(ctx, imp.AccountID, statusID); err != nil {
			return err
		}
		keep.statuses = append(keep.statuses, statusID)
		return nil
	case importjob.KindLists:
		memberID, err := p.graph.ResolveAccount(ctx, payload.Acct)
		if err != nil {
			return err
		}
		listID, err := p.graph.AddToList(ctx, imp.AccountID, payload.ListName, memberID)
		if err != nil {
			return err
		}
		keep.lists[listID] = append(keep.lists[listID], memberID)
		return nil
	default:
		return errors.Errorf("unknown import kind: %s", imp.Kind)
	}
}

func (p *ImportProcessor) resolveOther(ctx context.Context, accountID uuid.UUID, acct string) (uuid.UUID, error) {
	targetID, err := p.graph.ResolveAccount(ctx, acct)
	if err != nil {
		return uuid.Nil, err
	}
	if targetID == accountID {
		return uuid.Nil, errors.Wrap(relationship.ErrSelfReference, acct)
	}
	return targetID, nil
}

func (p *ImportProcessor) prune(ctx context.Context, imp *importjob.Import, keep *keepSet) error {
	switch imp.Kind {
	case importjob.KindFollowing:
		return p.graph.PruneFollowing(ctx, imp.AccountID, keep.accounts)
	case importjob.KindBlocking:
		return p.graph.PruneBlocks(ctx, imp.AccountID, keep.accounts)
	case importjob.KindMuting:
		return p.graph.PruneMutes(ctx, imp.AccountID, keep.accounts)
	case importjob.KindDomainBlocking:
		return p.graph.PruneDomainBlocks(ctx, imp.AccountID, keep.domains)
	case importjob.KindBookmarks:
		return p.graph.PruneBookmarks(ctx, imp.AccountID, keep.statuses)
	case importjob.KindLists:
		return p.graph.PruneListMemberships(ctx, imp.AccountID, keep.lists)
	default:
		return errors.Errorf("unknown import kind: %s", imp.Kind)
	}
}

// isRowFailure reports whether the error condemns a single row rather
// than the whole run. Anything else aborts and lets the queue retry.
func isRowFailure(err error) bool {
	return errors.Is(err, relationship.ErrAccountNotFound) ||
		errors.Is(err, relationship.ErrStatusNotFound) ||
		errors.Is(err, relationship.ErrSelfReference) ||
		errors.Is(err, relationship.ErrInvalidDomain)
}
