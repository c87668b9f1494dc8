package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/invoice-verifier/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, BackendMemory, cfg.Audit.Backend)

	g, err := cfg.Granularity()
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodMonth, g)
}

func TestLoadFrom_File(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
server:
  addr: ":9090"
departments:
  names: [Marketing, Engineering]
  aliases:
    MKT: Marketing
budgets:
  - department: Marketing
    period: 2024-03
    ceiling: 10000
  - department: Engineering
    period: 2024-Q1
    ceiling: "25000.50"
normalizer:
  period_granularity: quarter
  tolerance: 0.05
rules:
  - type: budget_limit
  - type: authorized_vendor
    vendors: [Globex, Initech]
  - type: amount_threshold
    threshold: 5000
audit:
  backend: file
  path: `+filepath.Join(dir, "audit.jsonl")+`
retry:
  max_attempts: 5
  base_delay: 50ms
  max_delay: 1s
`)
	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"Marketing", "Engineering"}, cfg.Departments.Names)
	assert.Equal(t, "Marketing", cfg.Departments.Aliases["MKT"])
	require.Len(t, cfg.Budgets, 2)
	assert.Equal(t, "10000", cfg.Budgets[0].Ceiling.String())
	assert.Equal(t, "25000.5", cfg.Budgets[1].Ceiling.String())
	require.NotNil(t, cfg.Normalizer.Tolerance)
	assert.Equal(t, "0.05", cfg.Normalizer.Tolerance.String())
	assert.Len(t, cfg.Rules, 3)
	assert.Equal(t, BackendFile, cfg.Audit.Backend)

	g, err := cfg.Granularity()
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodQuarter, g)

	policy, err := cfg.RetryPolicy()
	require.NoError(t, err)
	assert.Equal(t, 5, policy.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, policy.BaseDelay)
	assert.Equal(t, time.Second, policy.MaxDelay)
}

func TestLoadFrom_RulesFileRelativeToConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "rules.yaml", `
rules:
  - type: AmountThresholdRule
    name: big-invoice
    threshold: 1000
`)
	path := writeFile(t, dir, "config.yaml", "rules_file: rules.yaml\n")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, "big-invoice", cfg.Rules[0].Name)
	assert.Equal(t, filepath.Join(dir, "rules.yaml"), cfg.RulesFile)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad yaml", content: "server: [unclosed"},
		{name: "unknown granularity", content: "normalizer:\n  period_granularity: fortnight\n"},
		{name: "unknown audit backend", content: "audit:\n  backend: postgres\n"},
		{name: "bigquery without project", content: "audit:\n  backend: bigquery\n"},
		{name: "unknown journal", content: "ledger:\n  journal: kafka\n"},
		{name: "negative ceiling", content: "budgets:\n  - department: Ops\n    period: 2024-01\n    ceiling: -1\n"},
		{name: "budget without period", content: "budgets:\n  - department: Ops\n    ceiling: 1\n"},
		{name: "unknown rule type", content: "rules:\n  - type: astrology\n"},
		{name: "bad retry delay", content: "retry:\n  base_delay: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tt.content)
			_, err := LoadFrom(path)
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"HTTP_ADDR":      ":7000",
		"LOG_LEVEL":      "debug",
		"AUDIT_BACKEND":  "file",
		"AUDIT_PATH":     "/var/lib/iv/audit.jsonl",
		"REDIS_ADDR":     "localhost:6379",
		"REDIS_DB":       "2",
		"GCP_PROJECT_ID": "acme-finance",
		"GCS_BUCKET":     "acme-invoices",
		"QUEUE_WORKERS":  "not-a-number",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, BackendFile, cfg.Audit.Backend)
	assert.Equal(t, "/var/lib/iv/audit.jsonl", cfg.Audit.Path)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "acme-finance", cfg.GCP.ProjectID)
	assert.Equal(t, "acme-invoices", cfg.GCP.Bucket)
	assert.Equal(t, 5, cfg.Queue.Workers)
}

func TestServerTimeouts(t *testing.T) {
	s := ServerConfig{ReadTimeout: "3s", WriteTimeout: "bogus"}
	assert.Equal(t, 3*time.Second, s.ReadTimeoutDuration())
	assert.Equal(t, 15*time.Second, s.WriteTimeoutDuration())
}
