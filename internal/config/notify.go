package config

import (
	"fmt"
	"log/slog"

	"github.com/roach88/storesync/internal/notify"
)

// Notifier builds the session notifier from the notify section. Backends
// with an empty address are skipped; a NATS server that cannot be reached
// is a startup error.
func (c Config) Notifier(logger *slog.Logger) (*notify.Notifier, error) {
	n := notify.NewNotifier(logger)
	if c.Notify.Log {
		n.AddBackend(notify.NewLogBackend(logger))
	}
	if c.Notify.NATS.URL != "" {
		b, err := notify.NewNATSBackend(c.Notify.NATS.URL, c.Notify.NATS.Subject)
		if err != nil {
			_ = n.Close()
			return nil, fmt.Errorf("connect nats notifier: %w", err)
		}
		n.AddBackend(b)
	}
	if c.Notify.Redis.Addr != "" {
		n.AddBackend(notify.NewRedisBackend(c.Notify.Redis.Addr, c.Notify.Redis.Channel, c.Notify.Redis.ListKey))
	}
	if len(c.Notify.Kafka.Brokers) > 0 {
		n.AddBackend(notify.NewKafkaBackend(c.Notify.Kafka.Brokers, c.Notify.Kafka.Topic))
	}
	if c.Notify.Webhook.URL != "" {
		n.AddBackend(notify.NewWebhookBackend(c.Notify.Webhook.URL, c.Notify.Webhook.Timeout.Std()))
	}
	return n, nil
}
