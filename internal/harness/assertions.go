package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/storesync/internal/row"
	"github.com/roach88/storesync/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Site     string
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s on %s\n", e.Type, e.Site)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages, in assertion order.
func EvaluateAssertions(ctx context.Context, h *Harness, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		st := h.Store(a.Site)
		if st == nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: unknown site %q", i, a.Site))
			continue
		}
		if err := evaluate(ctx, st, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err))
		}
	}
	return errs
}

func evaluate(ctx context.Context, st *store.Store, a Assertion) error {
	switch a.Type {
	case AssertRecord:
		return assertRecord(ctx, st, a)
	case AssertAbsent:
		return assertAbsent(ctx, st, a)
	case AssertBuffer:
		return assertBuffer(ctx, st, a)
	case AssertCursor:
		return assertCursor(ctx, st, a)
	case AssertSessions:
		return assertSessions(ctx, st, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertRecord checks that the row exists and matches Expect on the listed
// columns (subset semantics).
func assertRecord(ctx context.Context, st *store.Store, a Assertion) error {
	got, err := st.Get(ctx, a.Table, a.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return &AssertionError{
			Type:     AssertRecord,
			Site:     a.Site,
			Expected: fmt.Sprintf("row %s/%s", a.Table, a.ID),
			Actual:   "row not found",
		}
	}
	if err != nil {
		return fmt.Errorf("read %s/%s: %w", a.Table, a.ID, err)
	}

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, col := range keys {
		want, err := row.FromAny(a.Expect[col])
		if err != nil {
			return fmt.Errorf("expected %s.%s: %w", a.Table, col, err)
		}
		actual, exists := got[col]
		if !exists {
			return &AssertionError{
				Type:     AssertRecord,
				Site:     a.Site,
				Expected: fmt.Sprintf("column %q in %s/%s", col, a.Table, a.ID),
				Actual:   fmt.Sprintf("columns %v", got.SortedKeys()),
			}
		}
		if !row.Equal(row.Row{col: want}, row.Row{col: actual}) {
			return &AssertionError{
				Type:     AssertRecord,
				Site:     a.Site,
				Expected: fmt.Sprintf("%s/%s %s = %v (%T)", a.Table, a.ID, col, want, want),
				Actual:   fmt.Sprintf("%s = %v (%T)", col, actual, actual),
			}
		}
	}
	return nil
}

func assertAbsent(ctx context.Context, st *store.Store, a Assertion) error {
	exists, err := st.Exists(ctx, a.Table, a.ID)
	if err != nil {
		return fmt.Errorf("read %s/%s: %w", a.Table, a.ID, err)
	}
	if exists {
		return &AssertionError{
			Type:     AssertAbsent,
			Site:     a.Site,
			Expected: fmt.Sprintf("no row %s/%s", a.Table, a.ID),
			Actual:   "row exists",
		}
	}
	return nil
}

func assertBuffer(ctx context.Context, st *store.Store, a Assertion) error {
	stats, err := st.BufferStats(ctx)
	if err != nil {
		return err
	}
	checks := []struct {
		name string
		want *int64
		got  int64
	}{
		{"pending", a.Pending, stats.Pending},
		{"failing", a.Failing, stats.Failing},
		{"quarantined", a.Quarantined, stats.Quarantined},
		{"integrated", a.Integrated, stats.Integrated},
	}
	for _, c := range checks {
		if c.want != nil && *c.want != c.got {
			return &AssertionError{
				Type:     AssertBuffer,
				Site:     a.Site,
				Expected: fmt.Sprintf("%d %s", *c.want, c.name),
				Actual:   fmt.Sprintf("%d %s (%+v)", c.got, c.name, stats),
			}
		}
	}
	return nil
}

func assertCursor(ctx context.Context, st *store.Store, a Assertion) error {
	got, err := st.Cursor(ctx, a.Cursor)
	if err != nil {
		return err
	}
	if got != a.Value {
		return &AssertionError{
			Type:     AssertCursor,
			Site:     a.Site,
			Expected: fmt.Sprintf("cursor %s = %d", a.Cursor, a.Value),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

func assertSessions(ctx context.Context, st *store.Store, a Assertion) error {
	sessions, err := st.ListSessions(ctx, a.Site, 0)
	if err != nil {
		return err
	}
	if a.Count != nil && len(sessions) != *a.Count {
		return &AssertionError{
			Type:     AssertSessions,
			Site:     a.Site,
			Expected: fmt.Sprintf("%d sessions", *a.Count),
			Actual:   fmt.Sprintf("%d sessions", len(sessions)),
		}
	}
	if a.State != "" {
		if len(sessions) == 0 {
			return &AssertionError{
				Type:     AssertSessions,
				Site:     a.Site,
				Expected: fmt.Sprintf("last session %s", a.State),
				Actual:   "no sessions",
			}
		}
		if got := string(sessions[0].State); got != a.State {
			return &AssertionError{
				Type:     AssertSessions,
				Site:     a.Site,
				Expected: fmt.Sprintf("last session %s", a.State),
				Actual:   got,
			}
		}
	}
	return nil
}
