package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/storesync/internal/store"
)

// Role is a site's part in the sync protocol.
type Role string

const (
	// RoleRemote pulls from and pushes to the central site.
	RoleRemote Role = "remote"

	// RoleCentral serves remote sites through a Hub and integrates what
	// they push.
	RoleCentral Role = "central"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleRemote, RoleCentral:
		return Role(s), nil
	default:
		return "", fmt.Errorf("invalid role %q: must be remote or central", s)
	}
}

// transitions lists the allowed state changes. Failed is reachable from any
// non-terminal state and is handled separately.
var transitions = map[store.SessionState][]store.SessionState{
	store.StateCreated:     {store.StatePulling, store.StateIntegrating},
	store.StatePulling:     {store.StateIntegrating},
	store.StateIntegrating: {store.StatePushing, store.StateFinished},
	store.StatePushing:     {store.StateFinished},
}

// Session is the context of one sync run, passed explicitly to each phase.
// Its lifetime is a single run.
type Session struct {
	Record store.SyncSession
	Role   Role

	// Peer names the other side; it keys the pull and push cursors.
	Peer string

	// Active is the site's store scope, refreshed when store rows change.
	Active ActiveStores

	Logger *slog.Logger
	clock  Clock
	st     *store.Store
}

func newSession(st *store.Store, clock Clock, logger *slog.Logger, id, siteID, peer string, role Role) *Session {
	return &Session{
		Record: store.SyncSession{
			ID:        id,
			SiteID:    siteID,
			Role:      string(role),
			State:     store.StateCreated,
			StartedAt: clock.Now(),
		},
		Role:   role,
		Peer:   peer,
		Logger: logger.With("session", id),
		clock:  clock,
		st:     st,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.Record.ID }

// SiteID returns the local site id.
func (s *Session) SiteID() string { return s.Record.SiteID }

// Save persists progress. Called at page and table boundaries so an
// interrupted session shows partial progress.
func (s *Session) Save(ctx context.Context) error {
	if err := s.st.SaveSession(ctx, s.Record); err != nil {
		return fmt.Errorf("save session progress: %w", err)
	}
	return nil
}

// enter moves the session to the next phase state and stamps the phase start.
func (s *Session) enter(ctx context.Context, to store.SessionState) error {
	from := s.Record.State
	allowed := false
	for _, next := range transitions[from] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("invalid session transition %s -> %s", from, to)
	}

	now := s.clock.Now()
	s.Record.State = to
	switch to {
	case store.StatePulling:
		s.Record.Pull.StartedAt = &now
	case store.StateIntegrating:
		s.Record.Integration.StartedAt = &now
	case store.StatePushing:
		s.Record.Push.StartedAt = &now
	case store.StateFinished:
		s.Record.FinishedAt = &now
	}
	s.Logger.Debug("session state", "from", from, "to", to)
	return s.Save(ctx)
}

// finishPhase stamps the end of a phase.
func (s *Session) finishPhase(phase *store.Phase) {
	now := s.clock.Now()
	phase.FinishedAt = &now
}

// fail marks the session Failed with err. A finished session is left as is.
func (s *Session) fail(ctx context.Context, err error) error {
	if s.Record.State.Terminal() {
		return nil
	}
	now := s.clock.Now()
	s.Record.State = store.StateFailed
	s.Record.FinishedAt = &now
	s.Record.Error = err.Error()
	// The failure must be recorded even if the run was cancelled.
	return s.st.SaveSession(context.WithoutCancel(ctx), s.Record)
}

func (s *Session) elapsed() time.Duration {
	return s.clock.Now().Sub(s.Record.StartedAt)
}
