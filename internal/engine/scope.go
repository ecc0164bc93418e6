package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/storesync/internal/row"
	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/syncerr"
	"github.com/roach88/storesync/internal/translate"
)

// ActiveStores is the set of stores active on one site.
//
// It is computed per session from the replicated store table and is never
// cached beyond it. Global rows (empty store id) are always in scope.
type ActiveStores struct {
	all bool
	ids map[string]bool
}

// AllStores is the scope of a site that holds every store's data.
func AllStores() ActiveStores {
	return ActiveStores{all: true}
}

// LoadActiveStores reads the stores whose site column names siteID.
func LoadActiveStores(ctx context.Context, st *store.Store, siteID string) (ActiveStores, error) {
	rows, err := st.List(ctx, translate.StoreTable)
	if err != nil {
		return ActiveStores{}, fmt.Errorf("load active stores: %w", err)
	}
	ids := make(map[string]bool)
	for _, r := range rows {
		if site, ok := r.Str(translate.SiteColumn); ok && site == siteID {
			ids[r.ID()] = true
		}
	}
	return ActiveStores{ids: ids}, nil
}

// Contains reports whether rows scoped to storeID belong on the site.
func (a ActiveStores) Contains(storeID string) bool {
	return a.all || storeID == "" || a.ids[storeID]
}

// IDs returns the active store ids in sorted order. Empty for AllStores.
func (a ActiveStores) IDs() []string {
	ids := make([]string, 0, len(a.ids))
	for id := range a.ids {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of active stores.
func (a ActiveStores) Len() int {
	return len(a.ids)
}

// scopeOf derives the owning store of a row from its translator's scope rule.
// A scoped-via row whose parent is not stored yet is a ValidationError.
func scopeOf(ctx context.Context, st *store.Store, tr translate.Translator, r row.Row) (string, error) {
	rule := tr.Scope()
	if rule.Global() {
		return "", nil
	}
	key, ok := r.Str(rule.Column)
	if !ok || key == "" {
		return "", nil
	}
	if rule.Via == "" {
		return key, nil
	}

	scope, err := st.StoreScopeOf(ctx, rule.Via, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", syncerr.Validation(tr.LocalTable(), r.ID(),
			fmt.Sprintf("scope parent %s %q does not exist", rule.Via, key))
	}
	if err != nil {
		return "", syncerr.Storage(tr.LocalTable(), r.ID(), err)
	}
	return scope, nil
}
