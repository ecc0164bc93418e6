package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/storesync/internal/notify"
	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/syncerr"
	"github.com/roach88/storesync/internal/translate"
)

// DefaultRetryDelays is the backoff between whole-session retries after a
// transport failure.
var DefaultRetryDelays = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	45 * time.Second,
	135 * time.Second,
	405 * time.Second,
}

const (
	// DefaultInterval is the schedule period of Run.
	DefaultInterval = 5 * time.Minute

	// DefaultLeaseTTL bounds how long a crashed holder blocks the site.
	DefaultLeaseTTL = 10 * time.Minute

	// DefaultPeerName keys the cursors of a remote site's only peer.
	DefaultPeerName = "central"
)

// ErrCoordinatorStopped is returned to callers waiting on a trigger when
// Run exits.
var ErrCoordinatorStopped = errors.New("coordinator stopped")

// Config holds the coordinator's site settings.
type Config struct {
	SiteID string
	Role   Role

	// PeerName keys the pull and push cursors. Defaults to DefaultPeerName.
	PeerName string

	PageSize    int
	MaxAttempts int

	// RetryDelays is the backoff schedule for transport failures; the last
	// delay repeats. MaxRetries of 0 retries once per delay, negative
	// disables retries.
	RetryDelays []time.Duration
	MaxRetries  int

	Interval time.Duration
	LeaseTTL time.Duration
}

// Notifier receives the outcome of every session.
// notify.Notifier implements it.
type Notifier interface {
	Publish(ctx context.Context, ev notify.Event) error
}

// Coordinator runs sync sessions for one site and enforces that at most
// one is active at a time, in this process (mutex) and across processes
// sharing the database (lease).
type Coordinator struct {
	st   *store.Store
	reg  *translate.Registry
	peer Peer
	cfg  Config

	puller     *Puller
	integrator *Integrator
	pusher     *Pusher

	clock    Clock
	ids      IDGenerator
	notifier Notifier
	holder   string
	logger   *slog.Logger

	mu      sync.Mutex // held for the duration of a session
	active  atomic.Bool
	running atomic.Bool
	queue   *triggerQueue
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithClock sets the clock used for session timestamps.
func WithClock(clock Clock) CoordinatorOption {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithIDGenerator sets the session id generator.
func WithIDGenerator(ids IDGenerator) CoordinatorOption {
	return func(c *Coordinator) {
		c.ids = ids
	}
}

// WithNotifier publishes session outcomes to n.
func WithNotifier(n Notifier) CoordinatorOption {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithLeaseHolder names this process in the session lease.
func WithLeaseHolder(holder string) CoordinatorOption {
	return func(c *Coordinator) {
		c.holder = holder
	}
}

// NewCoordinator creates a Coordinator. A remote site needs a peer; a
// central site integrates what its Hub receives and takes none.
//
// The translator registry is resolved here so a cyclic or incomplete
// registry is a startup error rather than a failed session.
func NewCoordinator(st *store.Store, reg *translate.Registry, peer Peer, cfg Config, opts ...CoordinatorOption) (*Coordinator, error) {
	if cfg.SiteID == "" {
		return nil, syncerr.FatalConfiguration("", "site id is required")
	}
	if _, err := ParseRole(string(cfg.Role)); err != nil {
		return nil, syncerr.FatalConfiguration("", err.Error())
	}
	if cfg.Role == RoleRemote && peer == nil {
		return nil, syncerr.FatalConfiguration("", "remote site requires a peer")
	}
	if _, err := reg.Resolve(); err != nil {
		return nil, err
	}
	if cfg.PeerName == "" {
		cfg.PeerName = DefaultPeerName
	}
	if cfg.RetryDelays == nil {
		cfg.RetryDelays = DefaultRetryDelays
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = len(cfg.RetryDelays)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}

	c := &Coordinator{
		st:     st,
		reg:    reg,
		peer:   peer,
		cfg:    cfg,
		clock:  SystemClock{},
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
		queue:  newTriggerQueue(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.holder == "" {
		c.holder = UUIDv7Generator{}.Generate()
	}
	c.logger = c.logger.With("component", "coordinator", "site", cfg.SiteID)

	c.integrator = NewIntegrator(st, reg, cfg.MaxAttempts, c.logger)
	if peer != nil {
		c.puller = NewPuller(st, peer, reg, cfg.PageSize, c.logger)
		c.pusher = NewPusher(st, peer, reg, cfg.PageSize, c.logger)
	}
	return c, nil
}

// RunSession runs one session to completion and returns its final record.
// It returns ErrSessionInProgress if the site is busy.
func (c *Coordinator) RunSession(ctx context.Context) (store.SyncSession, error) {
	if !c.mu.TryLock() {
		return store.SyncSession{}, ErrSessionInProgress
	}
	defer c.mu.Unlock()

	acquired, err := c.st.AcquireLease(ctx, c.cfg.SiteID, c.holder, c.cfg.LeaseTTL)
	if err != nil {
		return store.SyncSession{}, fmt.Errorf("run session: %w", err)
	}
	if !acquired {
		return store.SyncSession{}, ErrSessionInProgress
	}
	c.active.Store(true)
	defer func() {
		c.active.Store(false)
		if err := c.st.ReleaseLease(context.WithoutCancel(ctx), c.cfg.SiteID, c.holder); err != nil {
			c.logger.Error("failed to release session lease", "error", err)
		}
	}()

	// With the lease held, any unfinished session of this site was left by
	// a crashed or killed coordinator.
	interrupted, err := c.st.FailInterruptedSessions(ctx, c.cfg.SiteID, "interrupted before completion")
	if err != nil {
		return store.SyncSession{}, fmt.Errorf("run session: %w", err)
	}
	if interrupted > 0 {
		c.logger.Warn("marked interrupted sessions failed", "count", interrupted)
	}

	sess := newSession(c.st, c.clock, c.logger, c.ids.Generate(), c.cfg.SiteID, c.cfg.PeerName, c.cfg.Role)
	if err := c.st.CreateSession(ctx, sess.Record); err != nil {
		return store.SyncSession{}, fmt.Errorf("run session: %w", err)
	}
	sess.Logger.Info("session started", "role", c.cfg.Role, "peer", c.cfg.PeerName)

	runErr := c.runPhases(ctx, sess)
	if runErr != nil {
		if err := sess.fail(ctx, runErr); err != nil {
			sess.Logger.Error("failed to record session failure", "error", err)
		}
		sess.Logger.Error("session failed",
			"state", sess.Record.State, "kind", syncerr.KindOf(runErr), "error", runErr,
			"elapsed", sess.elapsed())
	} else {
		sess.Logger.Info("session finished",
			"pulled", sess.Record.Pull.Done,
			"integrated", sess.Record.Integration.Done,
			"integration_failed", sess.Record.Integration.Failed,
			"pushed", sess.Record.Push.Done,
			"push_failed", sess.Record.Push.Failed,
			"elapsed", sess.elapsed())
	}
	c.publish(ctx, sess.Record, runErr)
	return sess.Record, runErr
}

func (c *Coordinator) runPhases(ctx context.Context, sess *Session) error {
	if c.cfg.Role == RoleCentral {
		sess.Active = AllStores()
		return c.integrateAndFinish(ctx, sess)
	}

	active, err := LoadActiveStores(ctx, c.st, c.cfg.SiteID)
	if err != nil {
		return err
	}
	sess.Active = active

	if err := sess.enter(ctx, store.StatePulling); err != nil {
		return err
	}
	if err := c.puller.Pull(ctx, sess); err != nil {
		return err
	}
	sess.finishPhase(&sess.Record.Pull)
	if err := c.renewLease(ctx); err != nil {
		return err
	}

	if err := sess.enter(ctx, store.StateIntegrating); err != nil {
		return err
	}
	if err := c.integrator.Integrate(ctx, sess); err != nil {
		return err
	}
	sess.finishPhase(&sess.Record.Integration)
	if err := c.renewLease(ctx); err != nil {
		return err
	}

	if err := sess.enter(ctx, store.StatePushing); err != nil {
		return err
	}
	if err := c.pusher.Push(ctx, sess); err != nil {
		return err
	}
	sess.finishPhase(&sess.Record.Push)
	return sess.enter(ctx, store.StateFinished)
}

func (c *Coordinator) integrateAndFinish(ctx context.Context, sess *Session) error {
	if err := sess.enter(ctx, store.StateIntegrating); err != nil {
		return err
	}
	if err := c.integrator.Integrate(ctx, sess); err != nil {
		return err
	}
	sess.finishPhase(&sess.Record.Integration)
	return sess.enter(ctx, store.StateFinished)
}

// renewLease extends the lease between phases so a long session keeps it.
func (c *Coordinator) renewLease(ctx context.Context) error {
	ok, err := c.st.AcquireLease(ctx, c.cfg.SiteID, c.holder, c.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if !ok {
		return ErrSessionInProgress
	}
	return nil
}

func (c *Coordinator) publish(ctx context.Context, rec store.SyncSession, runErr error) {
	if c.notifier == nil {
		return
	}
	ev := notify.Event{
		SessionID: rec.ID,
		SiteID:    rec.SiteID,
		State:     string(rec.State),
		Error:     rec.Error,
		Fatal:     syncerr.IsFatal(runErr),
		Counters: notify.Counters{
			Pulled:            rec.Pull.Done,
			Integrated:        rec.Integration.Done,
			IntegrationFailed: rec.Integration.Failed,
			Pushed:            rec.Push.Done,
			PushFailed:        rec.Push.Failed,
		},
		FinishedAt: c.clock.Now(),
	}
	if rec.FinishedAt != nil {
		ev.FinishedAt = *rec.FinishedAt
	}
	if err := c.notifier.Publish(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.Warn("session notification failed", "session", rec.ID, "error", err)
	}
}

// RunWithRetry runs a session and retries the whole session after transport
// failures, waiting out the configured backoff. Record-level failures are
// not retried here; they are retried by the next session.
func (c *Coordinator) RunWithRetry(ctx context.Context) (store.SyncSession, error) {
	for attempt := 0; ; attempt++ {
		rec, err := c.RunSession(ctx)
		if err == nil || !syncerr.IsTransport(err) || attempt >= c.cfg.MaxRetries {
			return rec, err
		}
		delay := c.retryDelay(attempt)
		c.logger.Warn("session failed, retrying",
			"attempt", attempt+1, "max_retries", c.cfg.MaxRetries, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return rec, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Coordinator) retryDelay(attempt int) time.Duration {
	if len(c.cfg.RetryDelays) == 0 {
		return 0
	}
	if attempt < len(c.cfg.RetryDelays) {
		return c.cfg.RetryDelays[attempt]
	}
	return c.cfg.RetryDelays[len(c.cfg.RetryDelays)-1]
}

// Run schedules a session at startup and every Interval, plus one per
// TriggerNow, until ctx is cancelled or Stop is called.
func (c *Coordinator) Run(ctx context.Context) error {
	c.running.Store(true)
	defer c.running.Store(false)
	c.logger.Info("coordinator starting", "role", c.cfg.Role, "interval", c.cfg.Interval)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	c.queue.Enqueue(trigger{reason: TriggerStartup})

	for {
		if t, ok := c.queue.TryDequeue(); ok {
			c.serve(ctx, t)
			continue
		}

		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopping: context cancelled")
			c.queue.Close(ErrCoordinatorStopped)
			return ctx.Err()

		case <-ticker.C:
			c.queue.Enqueue(trigger{reason: TriggerSchedule})

		case <-c.queue.Wait():
			// The signal channel closes with the queue.
			if c.queue.Len() == 0 && c.queue.Closed() {
				c.logger.Info("coordinator stopping: stopped")
				return nil
			}
		}
	}
}

// Stop makes Run return after the current session.
func (c *Coordinator) Stop() {
	c.queue.Close(ErrCoordinatorStopped)
}

func (c *Coordinator) serve(ctx context.Context, t trigger) {
	c.logger.Debug("session triggered", "reason", t.reason)
	rec, err := c.RunWithRetry(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("scheduled session ended with error", "reason", t.reason, "error", err)
	}
	if t.done != nil {
		t.done <- triggerResult{session: rec, err: err}
	}
}

// TriggerNow requests a session immediately and waits for its result. When
// Run is active the request is queued behind any session in progress;
// otherwise the session runs on the caller's goroutine.
func (c *Coordinator) TriggerNow(ctx context.Context) (store.SyncSession, error) {
	if !c.running.Load() {
		return c.RunWithRetry(ctx)
	}
	done := make(chan triggerResult, 1)
	if !c.queue.Enqueue(trigger{reason: TriggerManual, done: done}) {
		return store.SyncSession{}, ErrCoordinatorStopped
	}
	select {
	case <-ctx.Done():
		return store.SyncSession{}, ctx.Err()
	case res := <-done:
		return res.session, res.err
	}
}

// Status is a snapshot of a site's sync state for dashboards and the CLI.
type Status struct {
	SiteID         string              `json:"site_id"`
	Role           Role                `json:"role,omitempty"`
	InProgress     bool                `json:"in_progress"`
	Queued         int                 `json:"queued"`
	LeaseHolder    string              `json:"lease_holder,omitempty"`
	Sessions       []store.SyncSession `json:"sessions"`
	Cursors        map[string]int64    `json:"cursors"`
	ChangelogHead  int64               `json:"changelog_head"`
	Buffer         store.BufferStats   `json:"buffer"`
	ActiveStoreIDs []string            `json:"active_stores,omitempty"`
}

// Status returns the coordinator's current status with its last sessions.
func (c *Coordinator) Status(ctx context.Context, sessions int) (Status, error) {
	s, err := ReadStatus(ctx, c.st, c.cfg.SiteID, sessions)
	if err != nil {
		return Status{}, err
	}
	s.Role = c.cfg.Role
	s.InProgress = s.InProgress || c.active.Load()
	s.Queued = c.queue.Len()
	return s, nil
}

// ReadStatus reads a site's status from its store alone, without a
// running coordinator.
func ReadStatus(ctx context.Context, st *store.Store, siteID string, sessions int) (Status, error) {
	var (
		s   = Status{SiteID: siteID}
		err error
	)
	if s.Sessions, err = st.ListSessions(ctx, siteID, sessions); err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}
	if len(s.Sessions) > 0 && !s.Sessions[0].State.Terminal() {
		s.InProgress = true
	}
	if s.Cursors, err = st.Cursors(ctx); err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}
	if s.ChangelogHead, err = st.MaxSequence(ctx); err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}
	if s.Buffer, err = st.BufferStats(ctx); err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}
	if s.LeaseHolder, err = st.LeaseHolder(ctx, siteID); err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}
	active, err := LoadActiveStores(ctx, st, siteID)
	if err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}
	s.ActiveStoreIDs = active.IDs()
	return s, nil
}
