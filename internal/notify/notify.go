// Package notify publishes sync session outcomes to operational backends.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Counters summarises a session's phase progress.
type Counters struct {
	Pulled            int64 `json:"pulled"`
	Integrated        int64 `json:"integrated"`
	IntegrationFailed int64 `json:"integration_failed"`
	Pushed            int64 `json:"pushed"`
	PushFailed        int64 `json:"push_failed"`
}

// Event is published when a session finishes or fails.
type Event struct {
	SessionID  string    `json:"session_id"`
	SiteID     string    `json:"site_id"`
	State      string    `json:"state"`
	Error      string    `json:"error,omitempty"`
	Fatal      bool      `json:"fatal,omitempty"`
	Counters   Counters  `json:"counters"`
	FinishedAt time.Time `json:"finished_at"`
}

// Backend is the interface for notification delivery backends.
type Backend interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Notifier encodes events as JSON and fans them out to every backend.
// A failing backend is logged and does not stop delivery to the others.
type Notifier struct {
	mu       sync.Mutex
	backends []Backend
	logger   *slog.Logger
}

// NewNotifier creates a Notifier with the given backends.
func NewNotifier(logger *slog.Logger, backends ...Backend) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{backends: backends, logger: logger.With("component", "notify")}
}

// AddBackend registers a notification backend.
func (n *Notifier) AddBackend(b Backend) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.backends = append(n.backends, b)
	n.logger.Info("notification backend registered", "backend", b.Name())
}

// Backends returns the registered backend names.
func (n *Notifier) Backends() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	names := make([]string, len(n.backends))
	for i, b := range n.backends {
		names[i] = b.Name()
	}
	return names
}

// Publish delivers ev to all backends. The returned error joins every
// backend failure.
func (n *Notifier) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	n.mu.Lock()
	backends := make([]Backend, len(n.backends))
	copy(backends, n.backends)
	n.mu.Unlock()

	var errs []error
	for _, b := range backends {
		if err := b.Publish(ctx, payload); err != nil {
			n.logger.Error("notify backend publish error", "backend", b.Name(), "session", ev.SessionID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every backend.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var errs []error
	for _, b := range n.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	n.backends = nil
	return errors.Join(errs...)
}
