package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/storesync/internal/row"
	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/syncerr"
	"github.com/roach88/storesync/internal/translate"
	"github.com/roach88/storesync/internal/wire"
)

// DefaultMaxAttempts is the number of failed integration attempts after
// which a buffered record is quarantined.
const DefaultMaxAttempts = 20

// Integrator applies buffered peer records to the local repository, one
// table at a time in dependency order.
//
// A record that fails (translation, validation or storage) is marked with
// its error and left pending; the rest of the table and every later table
// still run. Records that keep failing are quarantined after maxAttempts.
type Integrator struct {
	st          *store.Store
	reg         *translate.Registry
	maxAttempts int
	logger      *slog.Logger
}

// NewIntegrator creates an Integrator. maxAttempts <= 0 uses DefaultMaxAttempts.
func NewIntegrator(st *store.Store, reg *translate.Registry, maxAttempts int, logger *slog.Logger) *Integrator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Integrator{st: st, reg: reg, maxAttempts: maxAttempts, logger: logger.With("component", "integrator")}
}

// Integrate walks the buffer in dependency order.
func (in *Integrator) Integrate(ctx context.Context, sess *Session) error {
	order, err := in.reg.Resolve()
	if err != nil {
		return err
	}
	log := sess.Logger.With("component", "integrator")

	total, err := in.st.CountPending(ctx)
	if err != nil {
		return fmt.Errorf("integrate: %w", err)
	}
	sess.Record.Integration.Total = total
	log.Info("integration starting", "pending", total)

	for _, tr := range order {
		if err := in.integrateTable(ctx, sess, tr, log); err != nil {
			return err
		}
		if tr.LocalTable() == translate.StoreTable && sess.Role == RoleRemote {
			active, err := LoadActiveStores(ctx, in.st, sess.SiteID())
			if err != nil {
				return fmt.Errorf("integrate: %w", err)
			}
			sess.Active = active
			log.Debug("active stores refreshed", "stores", active.IDs())
		}
		if err := sess.Save(ctx); err != nil {
			return err
		}
	}

	log.Info("integration finished",
		"integrated", sess.Record.Integration.Done,
		"failed", sess.Record.Integration.Failed,
	)
	return nil
}

func (in *Integrator) integrateTable(ctx context.Context, sess *Session, tr translate.Translator, log *slog.Logger) error {
	wires := tr.WireTables()
	superseded, err := in.st.SupersedeStale(ctx, wires)
	if err != nil {
		return fmt.Errorf("integrate %s: %w", tr.LocalTable(), err)
	}
	if superseded > 0 {
		log.Debug("superseded stale records", "table", tr.LocalTable(), "count", superseded)
		sess.Record.Integration.Done += superseded
	}

	pending, err := in.st.PendingRecords(ctx, wires)
	if err != nil {
		return fmt.Errorf("integrate %s: %w", tr.LocalTable(), err)
	}

	for _, rec := range pending {
		// Each record is applied atomically, so stopping between records is safe.
		if err := ctx.Err(); err != nil {
			return err
		}

		applyErr := in.apply(ctx, sess, tr, rec)
		if applyErr == nil {
			if err := in.st.MarkIntegrated(ctx, rec.ID); err != nil {
				return fmt.Errorf("integrate %s: %w", tr.LocalTable(), err)
			}
			sess.Record.Integration.Done++
			continue
		}
		if !syncerr.IsRecordLevel(applyErr) {
			return applyErr
		}

		quarantined, err := in.st.MarkFailed(ctx, rec.ID, applyErr.Error(), in.maxAttempts)
		if err != nil {
			return fmt.Errorf("integrate %s: %w", tr.LocalTable(), err)
		}
		sess.Record.Integration.Failed++
		attrs := []any{
			"table", tr.LocalTable(),
			"record_id", rec.RecordID,
			"buffer_id", rec.ID,
			"kind", syncerr.KindOf(applyErr),
			"error", applyErr,
		}
		if quarantined {
			log.Error("record quarantined", append(attrs, "attempts", in.maxAttempts)...)
		} else {
			log.Warn("record failed to integrate", attrs...)
		}
	}
	return nil
}

// apply translates one buffered record and writes it as a sync-originated change.
func (in *Integrator) apply(ctx context.Context, sess *Session, tr translate.Translator, rec store.BufferRecord) error {
	table := tr.LocalTable()
	prov := store.Provenance{SyncOriginated: true, OriginSite: rec.SourceSite}

	switch rec.Action {
	case wire.ActionDelete:
		id, err := tr.DecodeDelete(rec.Payload)
		if err != nil {
			return err
		}
		if id != rec.RecordID {
			return syncerr.Validation(table, rec.RecordID, fmt.Sprintf("payload id %q does not match record id", id))
		}
		if _, err := in.st.Delete(ctx, table, id, prov); err != nil {
			return syncerr.Storage(table, id, err)
		}
		return nil

	case wire.ActionUpsert:
		r, err := tr.DecodeUpsert(rec.Payload)
		if err != nil {
			return err
		}
		if r.ID() != rec.RecordID {
			return syncerr.Validation(table, rec.RecordID, fmt.Sprintf("payload id %q does not match record id", r.ID()))
		}
		if err := in.checkReferences(ctx, tr, r.ID(), r); err != nil {
			return err
		}
		scope, err := scopeOf(ctx, in.st, tr, r)
		if err != nil {
			return err
		}
		if sess.Role == RoleRemote && !sess.Active.Contains(scope) {
			return syncerr.Validation(table, r.ID(), fmt.Sprintf("store %s is not active on site %s", scope, sess.SiteID()))
		}
		prov.StoreScope = scope
		if _, err := in.st.Upsert(ctx, table, r, prov); err != nil {
			return syncerr.Storage(table, r.ID(), err)
		}
		return nil

	default:
		return syncerr.Translation(table, rec.RecordID, fmt.Sprintf("unknown action %q", rec.Action), nil)
	}
}

// checkReferences requires every non-null reference to name a stored row.
func (in *Integrator) checkReferences(ctx context.Context, tr translate.Translator, id string, r row.Row) error {
	for _, ref := range tr.References() {
		target, ok := r.Str(ref.Column)
		if !ok || target == "" {
			continue
		}
		if ref.Table == tr.LocalTable() && target == id {
			continue
		}
		exists, err := in.st.Exists(ctx, ref.Table, target)
		if err != nil {
			return syncerr.Storage(tr.LocalTable(), id, err)
		}
		if !exists {
			return syncerr.Validation(tr.LocalTable(), id,
				fmt.Sprintf("%s references missing %s %q", ref.Column, ref.Table, target))
		}
	}
	return nil
}

