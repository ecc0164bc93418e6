package translate

import (
	"fmt"
	"strings"
)

// Registry holds translators keyed by local and wire table name.
// It is built once at startup and read-only afterwards.
type Registry struct {
	byLocal map[string]Translator
	byWire  map[string]Translator
	order   []Translator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byLocal: make(map[string]Translator),
		byWire:  make(map[string]Translator),
	}
}

// Register adds a translator. Claiming a local or wire table name that is
// already claimed is an error.
func (r *Registry) Register(t Translator) error {
	local := t.LocalTable()
	if local == "" {
		return fmt.Errorf("register translator: empty local table")
	}
	if _, dup := r.byLocal[local]; dup {
		return fmt.Errorf("register translator: local table %q already registered", local)
	}
	wires := t.WireTables()
	if len(wires) == 0 {
		return fmt.Errorf("register translator %s: no wire tables", local)
	}
	for _, w := range wires {
		if other, dup := r.byWire[w]; dup {
			return fmt.Errorf("register translator %s: wire table %q already claimed by %s", local, w, other.LocalTable())
		}
	}

	r.byLocal[local] = t
	for _, w := range wires {
		r.byWire[w] = t
	}
	r.order = append(r.order, t)
	return nil
}

// MustRegister is Register that panics.
func (r *Registry) MustRegister(ts ...Translator) *Registry {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// ForWire returns the translator claiming a wire table name.
func (r *Registry) ForWire(table string) (Translator, bool) {
	t, ok := r.byWire[table]
	return t, ok
}

// ForLocal returns the translator for a local table name.
func (r *Registry) ForLocal(table string) (Translator, bool) {
	t, ok := r.byLocal[table]
	return t, ok
}

// Translators returns translators in registration order.
func (r *Registry) Translators() []Translator {
	return append([]Translator(nil), r.order...)
}

// Len returns the number of registered translators.
func (r *Registry) Len() int {
	return len(r.order)
}

// String lists local table names, for logging.
func (r *Registry) String() string {
	names := make([]string, len(r.order))
	for i, t := range r.order {
		names[i] = t.LocalTable()
	}
	return strings.Join(names, ",")
}
