// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/tutorquota/domain/plan"
	"github.com/artpar/tutorquota/domain/usage"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TUTORQUOTA_"

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Quota     QuotaConfig     `yaml:"quota"`
	Session   SessionConfig   `yaml:"session"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig selects the usage event store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite", "postgres" or "redis"
	DSN    string `yaml:"dsn"`
}

// QuotaConfig configures daily limits.
type QuotaConfig struct {
	StoreTimeout time.Duration `yaml:"store_timeout"`
	DefaultPlan  string        `yaml:"default_plan"`
	// Plans maps plan ID to per-action daily limits.
	Plans map[string]map[string]int64 `yaml:"plans"`
	// FailOpen lists actions allowed through while the store is unavailable.
	FailOpen []string `yaml:"fail_open"`
}

// SessionConfig configures cookie session lookup.
type SessionConfig struct {
	CookieName string `yaml:"cookie_name"`
}

// UpstreamConfig configures the model provider and generation options.
type UpstreamConfig struct {
	BaseURL          string        `yaml:"base_url"`
	APIKey           string        `yaml:"api_key"`
	Timeout          time.Duration `yaml:"timeout"`
	Model            string        `yaml:"model"`
	Temperature      float64       `yaml:"temperature"`
	TopP             float64       `yaml:"top_p"`
	PresencePenalty  float64       `yaml:"presence_penalty"`
	FrequencyPenalty float64       `yaml:"frequency_penalty"`
	MaxTokens        int           `yaml:"max_tokens"`
}

// RetentionConfig configures pruning of old usage events.
type RetentionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // Standard 5-field cron expression
	Days     int    `yaml:"days"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// Default limits applied when no plans are configured.
var defaultPlans = map[string]map[string]int64{
	plan.Free: {
		string(usage.ActionChat):          50,
		string(usage.ActionSpeech):        20,
		string(usage.ActionTranscription): 20,
	},
	plan.Premium: {
		string(usage.ActionChat):          500,
		string(usage.ActionSpeech):        200,
		string(usage.ActionTranscription): 200,
	},
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	TUTORQUOTA_SERVER_HOST          - Server host (default: 0.0.0.0)
//	TUTORQUOTA_SERVER_PORT          - Server port (default: 8080)
//	TUTORQUOTA_DATABASE_DRIVER      - sqlite, postgres or redis (default: sqlite)
//	TUTORQUOTA_DATABASE_DSN         - Store DSN (default: tutorquota.db)
//	TUTORQUOTA_QUOTA_DEFAULT_PLAN   - Plan for users without one (default: free)
//	TUTORQUOTA_QUOTA_STORE_TIMEOUT  - Per-call store timeout (default: 5s)
//	TUTORQUOTA_QUOTA_FAIL_OPEN      - Comma-separated actions that fail open
//	TUTORQUOTA_SESSION_COOKIE_NAME  - Session cookie (default: session)
//	TUTORQUOTA_UPSTREAM_BASE_URL    - Model provider URL
//	TUTORQUOTA_UPSTREAM_API_KEY     - Model provider key
//	TUTORQUOTA_UPSTREAM_MODEL       - Chat model (default: gpt-4o-mini)
//	TUTORQUOTA_RETENTION_ENABLED    - Enable pruning (default: false)
//	TUTORQUOTA_RETENTION_DAYS       - Days of events to keep (default: 30)
//	TUTORQUOTA_LOG_LEVEL            - debug, info, warn, error (default: info)
//	TUTORQUOTA_LOG_FORMAT           - json or console (default: json)
//	TUTORQUOTA_METRICS_ENABLED      - Enable /metrics endpoint (default: false)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads path when it exists and falls back to the
// environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies TUTORQUOTA_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	// Server configuration
	if v := env("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := env("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// Database configuration
	if v := env("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := env("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Quota configuration
	if v := env("QUOTA_DEFAULT_PLAN"); v != "" {
		cfg.Quota.DefaultPlan = v
	}
	if v := env("QUOTA_STORE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Quota.StoreTimeout = d
		}
	}
	if v := env("QUOTA_FAIL_OPEN"); v != "" {
		cfg.Quota.FailOpen = nil
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				cfg.Quota.FailOpen = append(cfg.Quota.FailOpen, a)
			}
		}
	}

	if v := env("SESSION_COOKIE_NAME"); v != "" {
		cfg.Session.CookieName = v
	}

	// Upstream configuration
	if v := env("UPSTREAM_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := env("UPSTREAM_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := env("UPSTREAM_MODEL"); v != "" {
		cfg.Upstream.Model = v
	}

	// Retention configuration
	if v := env("RETENTION_ENABLED"); v != "" {
		cfg.Retention.Enabled = parseBool(v)
	}
	if v := env("RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention.Days = n
		}
	}

	// Logging configuration
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := env("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "tutorquota.db"
	}

	if cfg.Quota.StoreTimeout == 0 {
		cfg.Quota.StoreTimeout = 5 * time.Second
	}
	if cfg.Quota.DefaultPlan == "" {
		cfg.Quota.DefaultPlan = plan.Free
	}
	if len(cfg.Quota.Plans) == 0 {
		cfg.Quota.Plans = make(map[string]map[string]int64, len(defaultPlans))
		for id, limits := range defaultPlans {
			cp := make(map[string]int64, len(limits))
			for a, n := range limits {
				cp[a] = n
			}
			cfg.Quota.Plans[id] = cp
		}
	}

	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "session"
	}

	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 60 * time.Second
	}
	if cfg.Upstream.Model == "" {
		cfg.Upstream.Model = "gpt-4o-mini"
	}
	if cfg.Upstream.Temperature == 0 {
		cfg.Upstream.Temperature = 0.7
	}
	if cfg.Upstream.TopP == 0 {
		cfg.Upstream.TopP = 1.0
	}
	if cfg.Upstream.MaxTokens == 0 {
		cfg.Upstream.MaxTokens = 1024
	}

	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "0 3 * * *"
	}
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = 30
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	switch cfg.Database.Driver {
	case "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("database.driver must be 'sqlite', 'postgres' or 'redis', got %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %q", cfg.Database.Driver)
	}

	if cfg.Quota.StoreTimeout < 0 {
		return errors.New("quota.store_timeout must not be negative")
	}
	if _, ok := cfg.Quota.Plans[cfg.Quota.DefaultPlan]; !ok {
		return fmt.Errorf("quota.default_plan %q is not a configured plan", cfg.Quota.DefaultPlan)
	}
	for id, limits := range cfg.Quota.Plans {
		if strings.TrimSpace(id) == "" {
			return errors.New("quota.plans: plan id must not be empty")
		}
		for action, n := range limits {
			if strings.TrimSpace(action) == "" {
				return fmt.Errorf("quota.plans.%s: action must not be empty", id)
			}
			if n < 0 {
				return fmt.Errorf("quota.plans.%s.%s must not be negative, got %d", id, action, n)
			}
		}
	}
	for _, a := range cfg.Quota.FailOpen {
		if strings.TrimSpace(a) == "" {
			return errors.New("quota.fail_open: action must not be empty")
		}
	}

	if cfg.Upstream.Temperature < 0 || cfg.Upstream.Temperature > 2 {
		return fmt.Errorf("upstream.temperature must be between 0 and 2, got %v", cfg.Upstream.Temperature)
	}
	if cfg.Upstream.TopP < 0 || cfg.Upstream.TopP > 1 {
		return fmt.Errorf("upstream.top_p must be between 0 and 1, got %v", cfg.Upstream.TopP)
	}
	for name, v := range map[string]float64{
		"presence_penalty":  cfg.Upstream.PresencePenalty,
		"frequency_penalty": cfg.Upstream.FrequencyPenalty,
	} {
		if v < -2 || v > 2 {
			return fmt.Errorf("upstream.%s must be between -2 and 2, got %v", name, v)
		}
	}
	if cfg.Upstream.MaxTokens < 0 {
		return fmt.Errorf("upstream.max_tokens must not be negative, got %d", cfg.Upstream.MaxTokens)
	}

	if cfg.Retention.Enabled {
		if cfg.Retention.Days < 1 {
			return fmt.Errorf("retention.days must be at least 1, got %d", cfg.Retention.Days)
		}
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			return fmt.Errorf("retention.schedule: %w", err)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}

// PlanList converts the configured limit table into plans, sorted by ID.
func (q QuotaConfig) PlanList() []plan.Plan {
	ids := make([]string, 0, len(q.Plans))
	for id := range q.Plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	plans := make([]plan.Plan, 0, len(ids))
	for _, id := range ids {
		limits := make(map[usage.Action]int64, len(q.Plans[id]))
		for a, n := range q.Plans[id] {
			limits[usage.Action(a)] = n
		}
		plans = append(plans, plan.Plan{ID: id, Name: planName(id), Limits: limits})
	}
	return plans
}

// FailOpenActions returns the fail-open list as a set.
func (q QuotaConfig) FailOpenActions() map[usage.Action]bool {
	out := make(map[usage.Action]bool, len(q.FailOpen))
	for _, a := range q.FailOpen {
		out[usage.Action(a)] = true
	}
	return out
}

func planName(id string) string {
	if id == "" {
		return ""
	}
	return strings.ToUpper(id[:1]) + id[1:]
}
