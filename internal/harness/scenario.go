package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/storesync/internal/engine"
	"github.com/roach88/storesync/internal/wire"
)

// Scenario defines a multi-site sync scenario: a set of sites, the writes
// and sessions run against them in order, and assertions on the final
// state of every site.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Transport selects how remote sites reach the central site:
	// "direct" (default) calls the central Hub in-process, "http" goes
	// through the HTTP client and server with bearer-token auth.
	Transport string `yaml:"transport,omitempty"`

	// PageSize and MaxAttempts override the coordinator defaults.
	PageSize    int `yaml:"page_size,omitempty"`
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Sites lists the sites; at most one may be central, and remote sites
	// require one.
	Sites []SiteSpec `yaml:"sites"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate every site's final state.
	Assertions []Assertion `yaml:"assertions"`
}

// SiteSpec declares one site.
type SiteSpec struct {
	ID   string `yaml:"id"`
	Role string `yaml:"role"`
}

// Step is one action against one site. Exactly one of Write, Delete,
// Sync, Push and Release is set.
type Step struct {
	Site string `yaml:"site"`

	// Write upserts a local row through the site's Writer.
	Write *WriteStep `yaml:"write,omitempty"`

	// Delete removes a local row.
	Delete *DeleteStep `yaml:"delete,omitempty"`

	// Sync runs one session on the site.
	Sync bool `yaml:"sync,omitempty"`

	// Push sends raw wire records to a central site's Hub as if pushed by
	// another site, for payloads no Writer would produce.
	Push *PushStep `yaml:"push,omitempty"`

	// Release returns every quarantined buffer record to pending.
	Release bool `yaml:"release,omitempty"`

	// Expect checks the step's outcome. Without it a failed write or
	// session fails the scenario.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// WriteStep upserts Row into the local Table.
type WriteStep struct {
	Table string         `yaml:"table"`
	Row   map[string]any `yaml:"row"`
}

// DeleteStep deletes the row ID from the local Table.
type DeleteStep struct {
	Table string `yaml:"table"`
	ID    string `yaml:"id"`
}

// PushStep pushes Records to the central Hub on behalf of From.
type PushStep struct {
	From    string      `yaml:"from"`
	Records []RawRecord `yaml:"records"`
}

// RawRecord is a wire record written out in the scenario.
type RawRecord struct {
	Table    string         `yaml:"table"`
	ID       string         `yaml:"id"`
	Action   string         `yaml:"action"`
	Data     map[string]any `yaml:"data"`
	Sequence int64          `yaml:"sequence"`
}

// StepExpect is the expected outcome of a step.
type StepExpect struct {
	// State is the expected session state (sync steps).
	State string `yaml:"state,omitempty"`

	// Error is a substring the step's error must contain.
	Error string `yaml:"error,omitempty"`

	// Rejected is the expected number of rejected records (push steps).
	Rejected *int `yaml:"rejected,omitempty"`
}

// Assertion validates the final state of one site.
type Assertion struct {
	// Type is one of record, absent, buffer, cursor, sessions.
	Type string `yaml:"type"`

	Site string `yaml:"site"`

	// Table and ID select a row (record, absent).
	Table string `yaml:"table,omitempty"`
	ID    string `yaml:"id,omitempty"`

	// Expect holds a subset of the row's columns (record).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Buffer counts (buffer). Unset counts are not checked.
	Pending     *int64 `yaml:"pending,omitempty"`
	Failing     *int64 `yaml:"failing,omitempty"`
	Quarantined *int64 `yaml:"quarantined,omitempty"`
	Integrated  *int64 `yaml:"integrated,omitempty"`

	// Cursor names a cursor and Value its expected position (cursor).
	Cursor string `yaml:"cursor,omitempty"`
	Value  int64  `yaml:"value,omitempty"`

	// Count is the expected number of sessions and State the last one's
	// state (sessions).
	Count *int   `yaml:"count,omitempty"`
	State string `yaml:"state,omitempty"`
}

// Assertion type constants.
const (
	AssertRecord   = "record"
	AssertAbsent   = "absent"
	AssertBuffer   = "buffer"
	AssertCursor   = "cursor"
	AssertSessions = "sessions"
)

// Transport modes.
const (
	TransportDirect = "direct"
	TransportHTTP   = "http"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so a typo cannot silently skip a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Transport {
	case "", TransportDirect, TransportHTTP:
	default:
		return fmt.Errorf("unknown transport %q", s.Transport)
	}
	if len(s.Sites) == 0 {
		return fmt.Errorf("sites list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	sites := make(map[string]engine.Role, len(s.Sites))
	centrals, remotes := 0, 0
	for i, site := range s.Sites {
		if site.ID == "" {
			return fmt.Errorf("sites[%d]: id is required", i)
		}
		if _, dup := sites[site.ID]; dup {
			return fmt.Errorf("sites[%d]: duplicate site %q", i, site.ID)
		}
		role, err := engine.ParseRole(site.Role)
		if err != nil {
			return fmt.Errorf("sites[%d]: %w", i, err)
		}
		sites[site.ID] = role
		if role == engine.RoleCentral {
			centrals++
		} else {
			remotes++
		}
	}
	if centrals > 1 {
		return fmt.Errorf("at most one central site is allowed, got %d", centrals)
	}
	if remotes > 0 && centrals == 0 {
		return fmt.Errorf("remote sites need a central site")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, sites); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, sites); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step, sites map[string]engine.Role) error {
	role, ok := sites[step.Site]
	if !ok {
		return fmt.Errorf("steps[%d]: unknown site %q", index, step.Site)
	}

	actions := 0
	for _, set := range []bool{step.Write != nil, step.Delete != nil, step.Sync, step.Push != nil, step.Release} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one of write, delete, sync, push, release is required", index)
	}

	switch {
	case step.Write != nil:
		if step.Write.Table == "" || step.Write.Row == nil {
			return fmt.Errorf("steps[%d].write: table and row are required", index)
		}
	case step.Delete != nil:
		if step.Delete.Table == "" || step.Delete.ID == "" {
			return fmt.Errorf("steps[%d].delete: table and id are required", index)
		}
	case step.Push != nil:
		if role != engine.RoleCentral {
			return fmt.Errorf("steps[%d].push: site %q is not central", index, step.Site)
		}
		if _, ok := sites[step.Push.From]; !ok {
			return fmt.Errorf("steps[%d].push: unknown site %q", index, step.Push.From)
		}
		for j, rec := range step.Push.Records {
			if !wire.Action(rec.Action).Valid() {
				return fmt.Errorf("steps[%d].push.records[%d]: invalid action %q", index, j, rec.Action)
			}
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion, sites map[string]engine.Role) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if _, ok := sites[a.Site]; !ok {
		return fmt.Errorf("assertions[%d]: unknown site %q", index, a.Site)
	}

	switch a.Type {
	case AssertRecord:
		if a.Table == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: table and id are required for record", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for record", index)
		}
	case AssertAbsent:
		if a.Table == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: table and id are required for absent", index)
		}
	case AssertBuffer:
		if a.Pending == nil && a.Failing == nil && a.Quarantined == nil && a.Integrated == nil {
			return fmt.Errorf("assertions[%d]: at least one count is required for buffer", index)
		}
	case AssertCursor:
		if a.Cursor == "" {
			return fmt.Errorf("assertions[%d]: cursor is required for cursor", index)
		}
	case AssertSessions:
		if a.Count == nil && a.State == "" {
			return fmt.Errorf("assertions[%d]: count or state is required for sessions", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
