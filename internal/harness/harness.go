package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/roach88/storesync/internal/engine"
	"github.com/roach88/storesync/internal/row"
	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/testutil"
	"github.com/roach88/storesync/internal/translate"
	"github.com/roach88/storesync/internal/transport"
	"github.com/roach88/storesync/internal/wire"
)

// authSecret signs site tokens between harness sites over HTTP.
const authSecret = "harness-shared-secret"

// Harness holds the sites of one scenario run.
type Harness struct {
	scenario *Scenario
	reg      *translate.Registry
	clock    *testutil.DeterministicClock
	logger   *slog.Logger

	sites   map[string]*siteEnv
	central *siteEnv
	servers []*httptest.Server
}

type siteEnv struct {
	id     string
	role   engine.Role
	st     *store.Store
	writer *engine.Writer
	coord  *engine.Coordinator
	hub    *engine.Hub // central only
}

// Run executes a scenario and returns the result.
//
// Every site gets a fresh in-memory database. Sessions use a deterministic
// clock and per-site sequential session ids so traces are reproducible.
// Remote sites have no retries: a transport failure fails the session.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	result := NewResult()
	for i, step := range scenario.Steps {
		h.clock.Advance(time.Second)
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	for _, msg := range EvaluateAssertions(ctx, h, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	h := &Harness{
		scenario: scenario,
		reg:      translate.Default(),
		clock:    testutil.NewDeterministicClock(testutil.Epoch).WithStep(time.Millisecond),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		sites:    make(map[string]*siteEnv, len(scenario.Sites)),
	}

	// Central first: remote sites need its Hub as their peer.
	ordered := make([]SiteSpec, 0, len(scenario.Sites))
	for _, s := range scenario.Sites {
		if engine.Role(s.Role) == engine.RoleCentral {
			ordered = append([]SiteSpec{s}, ordered...)
		} else {
			ordered = append(ordered, s)
		}
	}

	for _, spec := range ordered {
		env, err := h.openSite(spec)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("open site %s: %w", spec.ID, err)
		}
		h.sites[spec.ID] = env
		if env.role == engine.RoleCentral {
			h.central = env
		}
	}
	return h, nil
}

func (h *Harness) openSite(spec SiteSpec) (*siteEnv, error) {
	st, err := store.Open(":memory:", store.WithClock(h.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	env := &siteEnv{
		id:     spec.ID,
		role:   engine.Role(spec.Role),
		st:     st,
		writer: engine.NewWriter(st, h.reg, spec.ID),
	}

	var peer engine.Peer
	if env.role == engine.RoleCentral {
		env.hub = engine.NewHub(st, h.reg, spec.ID, engine.WithHubLogger(h.logger))
	} else {
		if peer, err = h.peerFor(spec.ID); err != nil {
			st.Close()
			return nil, err
		}
	}

	env.coord, err = engine.NewCoordinator(st, h.reg, peer, engine.Config{
		SiteID:      spec.ID,
		Role:        env.role,
		PageSize:    h.scenario.PageSize,
		MaxAttempts: h.scenario.MaxAttempts,
		MaxRetries:  -1,
	},
		engine.WithLogger(h.logger),
		engine.WithClock(h.clock),
		engine.WithIDGenerator(testutil.NewSequentialIDGenerator(spec.ID)),
		engine.WithLeaseHolder(spec.ID),
	)
	if err != nil {
		st.Close()
		return nil, err
	}
	return env, nil
}

// peerFor returns how remote site siteID reaches the central site.
func (h *Harness) peerFor(siteID string) (engine.Peer, error) {
	if h.scenario.Transport != TransportHTTP {
		return h.central.hub, nil
	}

	auth, err := transport.NewAuthenticator(authSecret, time.Minute)
	if err != nil {
		return nil, err
	}
	srv := httptest.NewServer(transport.NewServer(h.central.hub, auth, h.logger))
	h.servers = append(h.servers, srv)
	return transport.NewClient(srv.URL, siteID, auth, transport.WithClientLogger(h.logger)), nil
}

// Close shuts down test servers and closes every site's database.
func (h *Harness) Close() {
	for _, srv := range h.servers {
		srv.Close()
	}
	for _, env := range h.sites {
		env.st.Close()
	}
}

// Store returns the database of site id, or nil.
func (h *Harness) Store(id string) *store.Store {
	if env, ok := h.sites[id]; ok {
		return env.st
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	env := h.sites[step.Site]
	ev := TraceEvent{Step: index, Site: step.Site}

	var stepErr error
	switch {
	case step.Write != nil:
		ev.Action = "write"
		ev.Table = step.Write.Table
		r, err := row.FromMap(step.Write.Row)
		if err != nil {
			return fmt.Errorf("convert row: %w", err)
		}
		ev.RecordID = r.ID()
		res, err := env.writer.Upsert(ctx, step.Write.Table, r)
		ev.Changed, stepErr = res.Changed, err

	case step.Delete != nil:
		ev.Action = "delete"
		ev.Table, ev.RecordID = step.Delete.Table, step.Delete.ID
		res, err := env.writer.Delete(ctx, step.Delete.Table, step.Delete.ID)
		ev.Changed, stepErr = res.Changed, err

	case step.Sync:
		ev.Action = "sync"
		rec, err := env.coord.RunSession(ctx)
		ev.SessionID = rec.ID
		ev.State = string(rec.State)
		ev.Pulled = rec.Pull.Done
		ev.Integrated = rec.Integration.Done
		ev.IntegrationFailed = rec.Integration.Failed
		ev.Pushed = rec.Push.Done
		ev.PushFailed = rec.Push.Failed
		stepErr = err
		if errors.Is(err, engine.ErrSessionInProgress) {
			return err
		}

	case step.Push != nil:
		ev.Action = "push"
		req, err := buildPush(step.Push)
		if err != nil {
			return err
		}
		resp, err := env.hub.Push(ctx, req)
		ev.Accepted, ev.Rejected, stepErr = resp.AcceptedCursor, len(resp.Rejections), err

	case step.Release:
		ev.Action = "release"
		n, err := env.st.ReleaseQuarantined(ctx)
		ev.Released, stepErr = n, err
	}

	if stepErr != nil {
		ev.Error = stepErr.Error()
	}
	result.AddTrace(ev)

	for _, msg := range checkStep(index, step, ev) {
		result.AddError(msg)
	}
	return nil
}

// checkStep compares a step's outcome with its expect clause.
func checkStep(index int, step Step, ev TraceEvent) []string {
	var errs []string
	exp := step.Expect
	if exp == nil {
		if ev.Error != "" {
			errs = append(errs, fmt.Sprintf("step %d (%s on %s): unexpected error: %s", index, ev.Action, ev.Site, ev.Error))
		}
		return errs
	}

	switch {
	case exp.Error != "" && !strings.Contains(ev.Error, exp.Error):
		errs = append(errs, fmt.Sprintf("step %d (%s on %s): expected error containing %q, got %q", index, ev.Action, ev.Site, exp.Error, ev.Error))
	case exp.Error == "" && ev.Error != "":
		errs = append(errs, fmt.Sprintf("step %d (%s on %s): unexpected error: %s", index, ev.Action, ev.Site, ev.Error))
	}
	if exp.State != "" && exp.State != ev.State {
		errs = append(errs, fmt.Sprintf("step %d (%s on %s): expected state %s, got %s", index, ev.Action, ev.Site, exp.State, ev.State))
	}
	if exp.Rejected != nil && *exp.Rejected != ev.Rejected {
		errs = append(errs, fmt.Sprintf("step %d (%s on %s): expected %d rejected, got %d", index, ev.Action, ev.Site, *exp.Rejected, ev.Rejected))
	}
	return errs
}

func buildPush(p *PushStep) (wire.PushRequest, error) {
	req := wire.PushRequest{SiteID: p.From, Records: make([]wire.Record, 0, len(p.Records))}
	for _, rec := range p.Records {
		data, err := json.Marshal(rec.Data)
		if err != nil {
			return wire.PushRequest{}, fmt.Errorf("encode push record %s/%s: %w", rec.Table, rec.ID, err)
		}
		req.Records = append(req.Records, wire.Record{
			TableName: rec.Table,
			RecordID:  rec.ID,
			Action:    wire.Action(rec.Action),
			Data:      data,
			Sequence:  rec.Sequence,
		})
	}
	return req, nil
}
