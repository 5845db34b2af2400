package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"

	"github.com/tjfontaine/interactions-gateway/internal/signature"
	"github.com/tjfontaine/interactions-gateway/internal/storage/dialect"
)

const (
	// DefaultPath is read when no config file is named; it may be absent.
	DefaultPath = "config.yaml"
	// EnvPrefix marks environment overrides. A double underscore separates
	// nesting levels: GATEWAY_WORKERS__COUNT=8 sets workers.count.
	EnvPrefix = "GATEWAY_"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Discord   DiscordConfig   `koanf:"discord"`
	Workers   WorkersConfig   `koanf:"workers"`
	Commands  CommandsConfig  `koanf:"commands"`
	Storage   StorageConfig   `koanf:"storage"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// Admin mounts the read-only control plane API under /admin.
	Admin bool `koanf:"admin"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DiscordConfig struct {
	APIBaseURL       string        `koanf:"api_base_url"`
	PublicKey        string        `koanf:"public_key"`
	BotToken         string        `koanf:"bot_token"`
	ApplicationID    string        `koanf:"application_id"`
	RegisterCommands bool          `koanf:"register_commands"`
	ReplayWindow     time.Duration `koanf:"replay_window"`
	// MaxTimestampSkew rejects requests whose signed timestamp is further
	// than this from the local clock. Zero disables the check.
	MaxTimestampSkew time.Duration `koanf:"max_timestamp_skew"`
	// DenyPrivateNetworks refuses outbound calls that resolve to loopback or
	// private addresses.
	DenyPrivateNetworks bool `koanf:"deny_private_networks"`
}

type WorkersConfig struct {
	Count           int           `koanf:"count"`
	QueueCapacity   int           `koanf:"queue_capacity"`
	Overflow        string        `koanf:"overflow"`
	EnqueueTimeout  time.Duration `koanf:"enqueue_timeout"`
	DeliveryTimeout time.Duration `koanf:"delivery_timeout"`
	MaxRetries      int           `koanf:"max_retries"`
	RetryBackoff    time.Duration `koanf:"retry_backoff"`
	MaxBackoff      time.Duration `koanf:"max_backoff"`
	UnknownCommand  string        `koanf:"unknown_command"`
	FallbackMessage string        `koanf:"fallback_message"`
}

type CommandsConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

type StorageConfig struct {
	// Type is "memory", "sql" or "none".
	Type          string         `koanf:"type"`
	Database      DatabaseConfig `koanf:"database"`
	Retention     time.Duration  `koanf:"retention"`
	PruneSchedule string         `koanf:"prune_schedule"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

type TelemetryConfig struct {
	Tracing     bool   `koanf:"tracing"`
	ServiceName string `koanf:"service_name"`
	Metrics     bool   `koanf:"metrics"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

var defaults = map[string]any{
	"server.host":             "",
	"server.port":             8080,
	"server.max_body_bytes":   64 << 10,
	"server.request_timeout":  10 * time.Second,
	"server.idle_timeout":     75 * time.Second,
	"server.shutdown_timeout": 30 * time.Second,
	"server.admin":            false,

	"discord.api_base_url":          "https://discord.com/api/v10",
	"discord.register_commands":     true,
	"discord.replay_window":         5 * time.Minute,
	"discord.max_timestamp_skew":    time.Duration(0),
	"discord.deny_private_networks": false,

	"workers.count":            5,
	"workers.queue_capacity":   1024,
	"workers.overflow":         "reject",
	"workers.enqueue_timeout":  time.Second,
	"workers.delivery_timeout": 10 * time.Second,
	"workers.max_retries":      0,
	"workers.retry_backoff":    500 * time.Millisecond,
	"workers.max_backoff":      30 * time.Second,
	"workers.unknown_command":  "fallback",
	"workers.fallback_message": "Sorry, I don't know that command.",

	"commands.path":  "Commands.yml",
	"commands.watch": true,

	"storage.type":           "memory",
	"storage.retention":      7 * 24 * time.Hour,
	"storage.prune_schedule": "@hourly",

	"telemetry.tracing":      false,
	"telemetry.service_name": "interactions-gateway",
	"telemetry.metrics":      true,

	"logging.level":  "info",
	"logging.format": "json",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (or DefaultPath when empty), applies GATEWAY_ environment
// overrides and defaults, and expands ${VAR} references in secrets. A missing
// default file is not an error; a missing named file is.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	required := path != ""
	if path == "" {
		path = DefaultPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	// Environment variables override the file.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Discord.PublicKey = substituteEnvVars(cfg.Discord.PublicKey)
	cfg.Discord.BotToken = substituteEnvVars(cfg.Discord.BotToken)
	cfg.Discord.ApplicationID = substituteEnvVars(cfg.Discord.ApplicationID)
	cfg.Storage.Database.DSN = substituteEnvVars(cfg.Storage.Database.DSN)

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks everything needed to serve interactions.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}

	if c.Discord.PublicKey == "" {
		errs = append(errs, errors.New("discord.public_key is required"))
	} else if _, err := signature.ParsePublicKey(c.Discord.PublicKey); err != nil {
		errs = append(errs, fmt.Errorf("discord.public_key: %w", err))
	}
	if c.Workers.Count < 1 {
		errs = append(errs, fmt.Errorf("workers.count must be at least 1, got %d", c.Workers.Count))
	}
	if c.Workers.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("workers.queue_capacity must be at least 1, got %d", c.Workers.QueueCapacity))
	}
	switch c.Workers.Overflow {
	case "reject", "block":
	default:
		errs = append(errs, fmt.Errorf("workers.overflow %q: must be reject or block", c.Workers.Overflow))
	}
	if c.Workers.MaxRetries < 0 {
		errs = append(errs, errors.New("workers.max_retries must not be negative"))
	}
	switch c.Workers.UnknownCommand {
	case "fallback", "silent":
	default:
		errs = append(errs, fmt.Errorf("workers.unknown_command %q: must be fallback or silent", c.Workers.UnknownCommand))
	}

	if c.Commands.Path == "" {
		errs = append(errs, errors.New("commands.path is required"))
	}

	switch c.Storage.Type {
	case "memory", "none":
	case "sql":
		if _, err := dialect.FromDriverName(c.Storage.Database.Driver); err != nil {
			errs = append(errs, fmt.Errorf("storage.database.driver: %w", err))
		}
		if c.Storage.Database.DSN == "" {
			errs = append(errs, errors.New("storage.database.dsn is required for sql storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type %q: must be memory, sql or none", c.Storage.Type))
	}
	if c.Storage.Type != "none" && c.Storage.Retention > 0 {
		if _, err := cron.ParseStandard(c.Storage.PruneSchedule); err != nil {
			errs = append(errs, fmt.Errorf("storage.prune_schedule: %w", err))
		}
	}

	return errors.Join(errs...)
}

// ValidateRegistration checks what command registration needs. Serving does
// not require it; startup registration is skipped without a bot token.
func (c *Config) ValidateRegistration() error {
	if c.Discord.BotToken == "" {
		return errors.New("discord.bot_token is required to register commands")
	}
	return nil
}
