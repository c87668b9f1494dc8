// Package config loads the service configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/dvloznov/invoice-verifier/internal/pipeline"
	"github.com/dvloznov/invoice-verifier/internal/rules"
)

// Config holds the invoice-verifier configuration.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Log         LogConfig          `yaml:"log"`
	Departments DepartmentConfig   `yaml:"departments"`
	Budgets     []AllocationConfig `yaml:"budgets"`
	Normalizer  NormalizerConfig   `yaml:"normalizer"`
	Rules       []rules.Definition `yaml:"rules"`
	// RulesFile, when set, replaces Rules with the definitions in that file.
	RulesFile string       `yaml:"rules_file"`
	Audit     AuditConfig  `yaml:"audit"`
	Ledger    LedgerConfig `yaml:"ledger"`
	Retry     RetryConfig  `yaml:"retry"`
	Queue     QueueConfig  `yaml:"queue"`
	Redis     RedisConfig  `yaml:"redis"`
	GCP       GCPConfig    `yaml:"gcp"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	// APIKey, when set, is required on every /api request.
	APIKey string `yaml:"api_key"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
}

type DepartmentConfig struct {
	Names   []string          `yaml:"names"`
	Aliases map[string]string `yaml:"aliases"`
}

// AllocationConfig is the budget ceiling for one department and period.
type AllocationConfig struct {
	Department string       `yaml:"department"`
	Period     string       `yaml:"period"`
	Ceiling    rules.Amount `yaml:"ceiling"`
}

type NormalizerConfig struct {
	// PeriodGranularity is month, quarter or year.
	PeriodGranularity string        `yaml:"period_granularity"`
	Tolerance         *rules.Amount `yaml:"tolerance"`
}

// Audit backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendBigQuery = "bigquery"
	BackendNone     = "none"
)

type AuditConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type LedgerConfig struct {
	// Journal is "none" or "bigquery".
	Journal string `yaml:"journal"`
}

type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	MaxDelay    string `yaml:"max_delay"`
}

type QueueConfig struct {
	Workers    int `yaml:"workers"`
	Buffer     int `yaml:"buffer"`
	MaxRetries int `yaml:"max_retries"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type GCPConfig struct {
	ProjectID   string `yaml:"project_id"`
	Dataset     string `yaml:"dataset"`
	Bucket      string `yaml:"bucket"`
	Location    string `yaml:"location"`
	GeminiModel string `yaml:"gemini_model"`
}

// DefaultConfig returns the default configuration: in-memory stores, one
// month budget periods and no rules.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  "15s",
			WriteTimeout: "15s",
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Normalizer: NormalizerConfig{
			PeriodGranularity: string(domain.PeriodMonth),
		},
		Audit: AuditConfig{
			Backend: BackendMemory,
			Path:    filepath.Join(home, ".local", "share", "invoice-verifier", "audit.jsonl"),
		},
		Ledger: LedgerConfig{Journal: BackendNone},
		Retry: RetryConfig{
			MaxAttempts: pipeline.DefaultRetryPolicy.MaxAttempts,
			BaseDelay:   pipeline.DefaultRetryPolicy.BaseDelay.String(),
			MaxDelay:    pipeline.DefaultRetryPolicy.MaxDelay.String(),
		},
		Queue: QueueConfig{Workers: 5, Buffer: 100, MaxRetries: 3},
		Redis: RedisConfig{Channel: "invoice-verifier:activity"},
		GCP: GCPConfig{
			Dataset:     "invoices",
			Location:    "europe-west1",
			GeminiModel: "gemini-2.5-flash",
		},
	}
}

// LoadFrom reads the config from the given path. A missing file yields the
// default configuration. Environment overrides are applied last.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.ApplyEnv(os.Getenv)

	if cfg.Audit.Path != "" && cfg.Audit.Path[0] == '~' {
		home, _ := os.UserHomeDir()
		cfg.Audit.Path = filepath.Join(home, cfg.Audit.Path[1:])
	}

	if cfg.RulesFile != "" {
		cfg.RulesFile = resolveRelative(path, cfg.RulesFile)
		defs, err := rules.ReadDefinitions(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		cfg.Rules = defs
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// resolveRelative interprets p relative to the directory of the config file.
func resolveRelative(configPath, p string) string {
	if filepath.IsAbs(p) || configPath == "" {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

// ApplyEnv overrides settings from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	setString(getenv, "HTTP_ADDR", &c.Server.Addr)
	setString(getenv, "API_KEY", &c.Server.APIKey)
	setString(getenv, "LOG_LEVEL", &c.Log.Level)
	setString(getenv, "LOG_FORMAT", &c.Log.Format)
	setString(getenv, "AUDIT_BACKEND", &c.Audit.Backend)
	setString(getenv, "AUDIT_PATH", &c.Audit.Path)
	setString(getenv, "LEDGER_JOURNAL", &c.Ledger.Journal)
	setString(getenv, "RULES_FILE", &c.RulesFile)
	setString(getenv, "REDIS_ADDR", &c.Redis.Addr)
	setString(getenv, "REDIS_PASSWORD", &c.Redis.Password)
	setInt(getenv, "REDIS_DB", &c.Redis.DB)
	setString(getenv, "GCP_PROJECT_ID", &c.GCP.ProjectID)
	setString(getenv, "BQ_DATASET", &c.GCP.Dataset)
	setString(getenv, "GCS_BUCKET", &c.GCP.Bucket)
	setString(getenv, "GEMINI_MODEL", &c.GCP.GeminiModel)
	setInt(getenv, "QUEUE_WORKERS", &c.Queue.Workers)
}

func setString(getenv func(string) string, key string, dst *string) {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(getenv func(string) string, key string, dst *int) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	if _, err := c.Granularity(); err != nil {
		return err
	}
	switch c.Audit.Backend {
	case BackendMemory, BackendBigQuery:
	case BackendFile:
		if c.Audit.Path == "" {
			return fmt.Errorf("audit.path is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown audit backend %q", c.Audit.Backend)
	}
	switch c.Ledger.Journal {
	case BackendNone, "", BackendBigQuery:
	default:
		return fmt.Errorf("unknown ledger journal %q", c.Ledger.Journal)
	}
	if (c.Audit.Backend == BackendBigQuery || c.Ledger.Journal == BackendBigQuery) && c.GCP.ProjectID == "" {
		return fmt.Errorf("gcp.project_id is required for BigQuery storage")
	}
	for i, b := range c.Budgets {
		if strings.TrimSpace(b.Department) == "" || strings.TrimSpace(b.Period) == "" {
			return fmt.Errorf("budgets[%d]: department and period are required", i)
		}
		if b.Ceiling.IsNegative() {
			return fmt.Errorf("budgets[%d]: ceiling must not be negative", i)
		}
	}
	if _, err := c.RetryPolicy(); err != nil {
		return err
	}
	if _, err := rules.Compile(c.Rules); err != nil {
		return err
	}
	return nil
}

// Granularity returns the configured budget period granularity.
func (c *Config) Granularity() (domain.PeriodGranularity, error) {
	return domain.ParsePeriodGranularity(c.Normalizer.PeriodGranularity)
}

// RetryPolicy returns the persistence retry policy.
func (c *Config) RetryPolicy() (pipeline.RetryPolicy, error) {
	p := pipeline.RetryPolicy{MaxAttempts: c.Retry.MaxAttempts}
	var err error
	if p.BaseDelay, err = parseDuration("retry.base_delay", c.Retry.BaseDelay); err != nil {
		return p, err
	}
	if p.MaxDelay, err = parseDuration("retry.max_delay", c.Retry.MaxDelay); err != nil {
		return p, err
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = pipeline.DefaultRetryPolicy.MaxAttempts
	}
	return p, nil
}

// ReadTimeoutDuration returns the server read timeout, defaulting to 15s.
func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	d, err := parseDuration("server.read_timeout", s.ReadTimeout)
	if err != nil || d == 0 {
		return 15 * time.Second
	}
	return d
}

// WriteTimeoutDuration returns the server write timeout, defaulting to 15s.
func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	d, err := parseDuration("server.write_timeout", s.WriteTimeout)
	if err != nil || d == 0 {
		return 15 * time.Second
	}
	return d
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
