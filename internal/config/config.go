// Package config loads the storesync configuration.
//
// Configuration is read from a YAML file, overlaid with STORESYNC_*
// environment variables (optionally seeded from .env files), and then
// validated against an embedded CUE schema before anything is opened.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/storesync/internal/engine"
	"github.com/roach88/storesync/internal/syncerr"
)

// Config is the complete configuration of one storesync process.
type Config struct {
	Site     SiteConfig     `yaml:"site" json:"site"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Peer     PeerConfig     `yaml:"peer" json:"peer"`
	Auth     AuthConfig     `yaml:"auth" json:"auth"`
	Sync     SyncConfig     `yaml:"sync" json:"sync"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Notify   NotifyConfig   `yaml:"notify" json:"notify"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// SiteConfig identifies this site.
type SiteConfig struct {
	ID   string `yaml:"id" json:"id"`
	Role string `yaml:"role" json:"role"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// PeerConfig describes the central server a remote site syncs with.
type PeerConfig struct {
	Name    string   `yaml:"name" json:"name"`
	URL     string   `yaml:"url" json:"url"`
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// AuthConfig holds the shared secret used to sign site tokens.
type AuthConfig struct {
	Secret   string   `yaml:"secret" json:"secret"`
	TokenTTL Duration `yaml:"token_ttl" json:"token_ttl"`
}

// SyncConfig tunes sessions.
type SyncConfig struct {
	PageSize    int        `yaml:"page_size" json:"page_size"`
	MaxAttempts int        `yaml:"max_attempts" json:"max_attempts"`
	Interval    Duration   `yaml:"interval" json:"interval"`
	RetryDelays []Duration `yaml:"retry_delays" json:"retry_delays"`
	MaxRetries  int        `yaml:"max_retries" json:"max_retries"`
	LeaseTTL    Duration   `yaml:"lease_ttl" json:"lease_ttl"`
}

// ServerConfig configures the central HTTP server.
type ServerConfig struct {
	Listen          string   `yaml:"listen" json:"listen"`
	MaxPageSize     int      `yaml:"max_page_size" json:"max_page_size"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// NotifyConfig enables session notification backends. A backend with an
// empty address is disabled.
type NotifyConfig struct {
	Log     bool          `yaml:"log" json:"log"`
	NATS    NATSConfig    `yaml:"nats" json:"nats"`
	Redis   RedisConfig   `yaml:"redis" json:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka" json:"kafka"`
	Webhook WebhookConfig `yaml:"webhook" json:"webhook"`
}

type NATSConfig struct {
	URL     string `yaml:"url" json:"url"`
	Subject string `yaml:"subject" json:"subject"`
}

type RedisConfig struct {
	Addr    string `yaml:"addr" json:"addr"`
	Channel string `yaml:"channel" json:"channel"`
	ListKey string `yaml:"list_key" json:"list_key"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url" json:"url"`
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used for any field the file and
// environment leave unset.
func Default() Config {
	delays := make([]Duration, len(engine.DefaultRetryDelays))
	for i, d := range engine.DefaultRetryDelays {
		delays[i] = Duration(d)
	}
	return Config{
		Site:     SiteConfig{Role: string(engine.RoleRemote)},
		Database: DatabaseConfig{Path: "storesync.db"},
		Peer: PeerConfig{
			Name:    engine.DefaultPeerName,
			Timeout: Duration(60 * time.Second),
		},
		Auth: AuthConfig{TokenTTL: Duration(5 * time.Minute)},
		Sync: SyncConfig{
			PageSize:    500,
			MaxAttempts: 20,
			Interval:    Duration(engine.DefaultInterval),
			RetryDelays: delays,
			LeaseTTL:    Duration(engine.DefaultLeaseTTL),
		},
		Server: ServerConfig{
			Listen:          ":8080",
			MaxPageSize:     1000,
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Notify: NotifyConfig{
			Log:     true,
			NATS:    NATSConfig{Subject: "storesync.sessions"},
			Redis:   RedisConfig{Channel: "storesync:sessions"},
			Kafka:   KafkaConfig{Brokers: []string{}, Topic: "storesync-sessions"},
			Webhook: WebhookConfig{Timeout: Duration(10 * time.Second)},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path (if path is non-empty), applies the
// environment overlay and validates the result. Every failure is a
// FatalConfigurationError.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, configError("read config", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := LoadDotEnv(envFiles...); err != nil {
		return Config{}, configError("load env file", err)
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over cfg. Unknown keys are rejected so a typo does
// not silently fall back to a default.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return configError("parse config", err)
	}
	return nil
}

// Validate checks the configuration against the embedded schema.
func (c Config) Validate() error {
	encoded, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return validateSchema(encoded)
}

// EngineConfig converts the site and sync sections to a coordinator
// configuration.
func (c Config) EngineConfig() engine.Config {
	delays := make([]time.Duration, len(c.Sync.RetryDelays))
	for i, d := range c.Sync.RetryDelays {
		delays[i] = d.Std()
	}
	return engine.Config{
		SiteID:      c.Site.ID,
		Role:        engine.Role(c.Site.Role),
		PeerName:    c.Peer.Name,
		PageSize:    c.Sync.PageSize,
		MaxAttempts: c.Sync.MaxAttempts,
		RetryDelays: delays,
		MaxRetries:  c.Sync.MaxRetries,
		Interval:    c.Sync.Interval.Std(),
		LeaseTTL:    c.Sync.LeaseTTL.Std(),
	}
}

// SlogLevel maps logging.level to a slog level. verbose forces Debug.
func (c Config) SlogLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func configError(msg string, err error) error {
	return &syncerr.Error{Kind: syncerr.KindFatalConfiguration, Message: msg, Err: err}
}
