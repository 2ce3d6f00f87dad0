package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. A double underscore
// separates nesting levels: TASKGATE_HOOKS__MAX_CONCURRENCY.
const EnvPrefix = "TASKGATE_"

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Hooks     HooksConfig     `koanf:"hooks"`
	Lock      LockConfig      `koanf:"lock"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Seed      SeedConfig      `koanf:"seed"`
}

type ServerConfig struct {
	Port           int    `koanf:"port"`
	RequestTimeout string `koanf:"request_timeout"` // Duration string like "75s"
}

// DefaultRequestTimeout covers a completion that runs two gates back to back,
// each bounded by the 30s maximum hook timeout.
const DefaultRequestTimeout = 75 * time.Second

// Timeout returns the parsed request timeout, falling back to DefaultRequestTimeout.
func (s ServerConfig) Timeout() time.Duration {
	return parseDuration(s.RequestTimeout, DefaultRequestTimeout)
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, postgres, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
	// Database is the generic database configuration for multi-dialect support
	Database DatabaseConfig `koanf:"database"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// DatabaseConfig is the generic database configuration supporting multiple dialects.
type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres
	DSN    string `koanf:"dsn"`    // Data source name / connection string
}

// HooksConfig tunes the hook gating engine.
type HooksConfig struct {
	MaxConcurrency       int    `koanf:"max_concurrency"`        // Simultaneous outbound deliveries
	FailureThreshold     int    `koanf:"failure_threshold"`      // Consecutive failures before a hook is disabled
	AllowPrivateNetworks bool   `koanf:"allow_private_networks"` // Local development only
	UserAgent            string `koanf:"user_agent"`
	MaxResponseBytes     int64  `koanf:"max_response_bytes"`
	DialTimeout          string `koanf:"dial_timeout"`
}

// DialTimeoutDuration returns the parsed dial timeout, falling back to 5s.
func (h HooksConfig) DialTimeoutDuration() time.Duration {
	return parseDuration(h.DialTimeout, 5*time.Second)
}

// LockConfig selects how concurrent transitions on one task are serialized.
type LockConfig struct {
	Type  string      `koanf:"type"` // memory, redis
	Redis RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
	TTL      string `koanf:"ttl"` // Lease duration, e.g. "45s"
}

// TTLDuration returns the parsed lease duration, falling back to 45s.
func (r RedisConfig) TTLDuration() time.Duration {
	return parseDuration(r.TTL, 45*time.Second)
}

type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// SeedConfig lists records inserted at startup, mainly for local development.
type SeedConfig struct {
	Hooks        []HookSeed       `koanf:"hooks"`
	Tasks        []TaskSeed       `koanf:"tasks"`
	Dependencies []DependencySeed `koanf:"dependencies"`
}

type HookSeed struct {
	ID        string   `koanf:"id"`
	OrgID     string   `koanf:"org_id"`
	Name      string   `koanf:"name"`
	URL       string   `koanf:"url"`
	Secret    string   `koanf:"secret"`
	Events    []string `koanf:"events"`
	HookType  string   `koanf:"hook_type"` // pre, post (default post)
	CanBlock  bool     `koanf:"can_block"`
	TimeoutMs int      `koanf:"timeout_ms"`
	Disabled  bool     `koanf:"disabled"`
}

type TaskSeed struct {
	ID               string `koanf:"id"`
	OrgID            string `koanf:"org_id"`
	Identifier       string `koanf:"identifier"`
	Title            string `koanf:"title"`
	Status           string `koanf:"status"`
	Priority         string `koanf:"priority"`
	AssigneeID       string `koanf:"assignee_id"`
	CreatorID        string `koanf:"creator_id"`
	ApprovalRequired bool   `koanf:"approval_required"`
	DueDate          string `koanf:"due_date"` // RFC 3339
}

type DependencySeed struct {
	TaskID      string `koanf:"task_id"`
	DependsOnID string `koanf:"depends_on_id"`
	NonBlocking bool   `koanf:"non_blocking"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configuration from path (DefaultPath when empty) and applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute environment variables in secrets
	for i := range cfg.Seed.Hooks {
		cfg.Seed.Hooks[i].Secret = substituteEnvVars(cfg.Seed.Hooks[i].Secret)
		cfg.Seed.Hooks[i].URL = substituteEnvVars(cfg.Seed.Hooks[i].URL)
	}
	cfg.Lock.Redis.Password = substituteEnvVars(cfg.Lock.Redis.Password)
	cfg.Storage.Database.DSN = substituteEnvVars(cfg.Storage.Database.DSN)

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":              8080,
		"server.request_timeout":   "75s",
		"storage.type":             "sqlite",
		"storage.sqlite.path":      "./data/taskgate.db",
		"hooks.max_concurrency":    16,
		"hooks.failure_threshold":  10,
		"hooks.user_agent":         "taskgate-hooks/1.0",
		"hooks.max_response_bytes": 1 << 20,
		"hooks.dial_timeout":       "5s",
		"lock.type":                "memory",
		"lock.redis.prefix":        "taskgate:lock:",
		"lock.redis.ttl":           "45s",
		"logging.level":            "info",
		"logging.format":           "json",
		"telemetry.service_name":   "taskgate",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
