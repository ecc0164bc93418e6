package notify

import (
	"context"
	"encoding/json"
	"log/slog"
)

// LogBackend writes events to a structured logger. Failed sessions are
// logged at error level.
type LogBackend struct {
	logger *slog.Logger
}

func NewLogBackend(logger *slog.Logger) *LogBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogBackend{logger: logger}
}

func (l *LogBackend) Name() string {
	return "log"
}

func (l *LogBackend) Publish(ctx context.Context, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	level := slog.LevelInfo
	if ev.Error != "" {
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, "sync session ended",
		"session", ev.SessionID,
		"site", ev.SiteID,
		"state", ev.State,
		"error", ev.Error,
		"pulled", ev.Counters.Pulled,
		"integrated", ev.Counters.Integrated,
		"integration_failed", ev.Counters.IntegrationFailed,
		"pushed", ev.Counters.Pushed,
		"push_failed", ev.Counters.PushFailed,
	)
	return nil
}

func (l *LogBackend) Close() error {
	return nil
}
