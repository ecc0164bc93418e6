package engine

import (
	"context"
	"fmt"

	"github.com/roach88/storesync/internal/row"
	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/translate"
)

// Writer records changes made by the site's own application. Its writes are
// not sync-originated, so the Pusher sends them on the next session.
//
// Rows of replicated tables must encode with their translator, so a row
// that could never be pushed is refused at write time.
type Writer struct {
	st     *store.Store
	reg    *translate.Registry
	siteID string
}

// NewWriter creates a Writer for siteID.
func NewWriter(st *store.Store, reg *translate.Registry, siteID string) *Writer {
	return &Writer{st: st, reg: reg, siteID: siteID}
}

// Upsert writes a row. Rows of tables without a translator are local-only
// and carry no store scope.
func (w *Writer) Upsert(ctx context.Context, table string, r row.Row) (store.WriteResult, error) {
	if r.ID() == "" {
		return store.WriteResult{}, fmt.Errorf("upsert %s: row has no id", table)
	}
	prov := store.Provenance{OriginSite: w.siteID}
	if tr, ok := w.reg.ForLocal(table); ok {
		if _, err := tr.Encode(r); err != nil {
			return store.WriteResult{}, err
		}
		scope, err := scopeOf(ctx, w.st, tr, r)
		if err != nil {
			return store.WriteResult{}, err
		}
		prov.StoreScope = scope
	}
	return w.st.Upsert(ctx, table, r, prov)
}

// Delete removes a row. Deleting an absent row is a no-op.
func (w *Writer) Delete(ctx context.Context, table, id string) (store.WriteResult, error) {
	return w.st.Delete(ctx, table, id, store.Provenance{OriginSite: w.siteID})
}
