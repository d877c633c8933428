package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestDefaultWorkerAsymmetry(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 4, cfg.Queue.WorkersFor("scripting"))
	assert.Equal(t, 1, cfg.Queue.WorkersFor("assembling"))
	assert.Equal(t, 1, cfg.Queue.WorkersFor("publishing"))
	assert.Equal(t, 1, cfg.Queue.WorkersFor("unknown_stage"))
}

func TestPathsLayout(t *testing.T) {
	p := PathsConfig{RootDir: "/data"}
	assert.Equal(t, "/data/state/items.db", p.ItemsDB())
	assert.Equal(t, "/data/state/circuit-breakers.json", p.BreakerSnapshot())
	assert.Equal(t, "/data/artifacts", p.ArtifactsDir())
	assert.Equal(t, "/data/credentials", p.CredentialsDir())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty root", func(c *Config) { c.Paths.RootDir = "" }},
		{"zero capacity", func(c *Config) { c.Queue.QueueCapacity = 0 }},
		{"tiny discovery", func(c *Config) { c.Queue.DiscoveryInterval = time.Millisecond }},
		{"worker overflow", func(c *Config) { c.Queue.Workers["scripting"] = 100 }},
		{"bad privacy", func(c *Config) { c.Providers.UploadPrivacy = "everyone" }},
		{"bad schedule", func(c *Config) { c.Schedule.DailyRunAt = "9am" }},
		{"retry cap below base", func(c *Config) { c.Resilience.RetryCap = time.Millisecond }},
		{"negative retention", func(c *Config) { c.Retention.GracePeriod = -time.Hour }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("SHORTSFORGE_ROOT", "/tmp/forge-test")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("WORKERS_SCRIPTING", "8")
	t.Setenv("UPLOAD_MADE_FOR_KIDS", "true")
	t.Setenv("RETENTION_GRACE_DAYS", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/forge-test", cfg.Paths.RootDir)
	assert.Equal(t, "g-key", cfg.Providers.TextGenAPIKey)
	assert.Equal(t, 8, cfg.Queue.WorkersFor("scripting"))
	assert.True(t, cfg.Providers.UploadMadeForKids)
	assert.Equal(t, 3*24*time.Hour, cfg.Retention.GracePeriod)
}

func TestLoadRejectsMalformedEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-port")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadAppliesYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	yaml := `
queue:
  queue_capacity: 16
providers:
  upload_category_id: "24"
  ideas_per_run: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Queue.QueueCapacity)
	assert.Equal(t, "24", cfg.Providers.UploadCategoryID)
	assert.Equal(t, 3, cfg.Providers.IdeasPerRun)
	// Untouched values keep defaults.
	assert.Equal(t, 5*time.Second, cfg.Queue.DiscoveryInterval)
}

func TestValidateForRun(t *testing.T) {
	cfg := Default()
	assert.Error(t, ValidateForRun(cfg))

	cfg.Providers.TextGenAPIKey = "a"
	cfg.Providers.TTSAPIKey = "b"
	cfg.Providers.StockAPIKey = "c"
	cfg.Providers.SpreadsheetID = "d"
	assert.NoError(t, ValidateForRun(cfg))
}

func TestTrendSourceConfigured(t *testing.T) {
	p := ProvidersConfig{}
	assert.False(t, p.TrendSourceConfigured())
	p.TrendClientID = "id"
	p.TrendClientSecret = "sec"
	assert.True(t, p.TrendSourceConfigured())
}
