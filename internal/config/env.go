package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STORESYNC_"

// LoadDotEnv loads the named .env files into the process environment
// without overriding variables that are already set. With no names it
// loads ./.env if present.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return godotenv.Load()
	}
	return godotenv.Load(files...)
}

type envBinding struct {
	name string
	set  func(c *Config, v string) error
}

var envBindings = []envBinding{
	{"SITE_ID", func(c *Config, v string) error { c.Site.ID = v; return nil }},
	{"SITE_ROLE", func(c *Config, v string) error { c.Site.Role = v; return nil }},
	{"DATABASE_PATH", func(c *Config, v string) error { c.Database.Path = v; return nil }},
	{"PEER_NAME", func(c *Config, v string) error { c.Peer.Name = v; return nil }},
	{"PEER_URL", func(c *Config, v string) error { c.Peer.URL = v; return nil }},
	{"PEER_TIMEOUT", durationSetter(func(c *Config) *Duration { return &c.Peer.Timeout })},
	{"AUTH_SECRET", func(c *Config, v string) error { c.Auth.Secret = v; return nil }},
	{"AUTH_TOKEN_TTL", durationSetter(func(c *Config) *Duration { return &c.Auth.TokenTTL })},
	{"SYNC_PAGE_SIZE", intSetter(func(c *Config) *int { return &c.Sync.PageSize })},
	{"SYNC_MAX_ATTEMPTS", intSetter(func(c *Config) *int { return &c.Sync.MaxAttempts })},
	{"SYNC_INTERVAL", durationSetter(func(c *Config) *Duration { return &c.Sync.Interval })},
	{"SYNC_MAX_RETRIES", intSetter(func(c *Config) *int { return &c.Sync.MaxRetries })},
	{"SYNC_LEASE_TTL", durationSetter(func(c *Config) *Duration { return &c.Sync.LeaseTTL })},
	{"SERVER_LISTEN", func(c *Config, v string) error { c.Server.Listen = v; return nil }},
	{"SERVER_MAX_PAGE_SIZE", intSetter(func(c *Config) *int { return &c.Server.MaxPageSize })},
	{"NATS_URL", func(c *Config, v string) error { c.Notify.NATS.URL = v; return nil }},
	{"NATS_SUBJECT", func(c *Config, v string) error { c.Notify.NATS.Subject = v; return nil }},
	{"REDIS_ADDR", func(c *Config, v string) error { c.Notify.Redis.Addr = v; return nil }},
	{"KAFKA_BROKERS", func(c *Config, v string) error { c.Notify.Kafka.Brokers = splitList(v); return nil }},
	{"KAFKA_TOPIC", func(c *Config, v string) error { c.Notify.Kafka.Topic = v; return nil }},
	{"WEBHOOK_URL", func(c *Config, v string) error { c.Notify.Webhook.URL = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = strings.ToLower(v); return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Logging.Format = strings.ToLower(v); return nil }},
}

// ApplyEnv overrides cfg with every STORESYNC_* variable lookup finds.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return configError(fmt.Sprintf("environment %s%s", EnvPrefix, b.name), err)
		}
	}
	return nil
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse integer %q: %w", v, err)
		}
		*field(c) = n
		return nil
	}
}

func durationSetter(field func(*Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func splitList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
