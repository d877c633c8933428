package config

import (
	"fmt"
	"time"

	"github.com/shortsforge/shortsforge/pkg/validation"
)

// Validate performs comprehensive validation with clear error messages.
// Fail-fast: stops at the first error.
func Validate(cfg *Config) error {
	if cfg.Paths.RootDir == "" {
		return fmt.Errorf("paths: root_dir must not be empty")
	}
	if err := validation.CheckText("root_dir", cfg.Paths.RootDir, 4096); err != nil {
		return fmt.Errorf("paths: %w", err)
	}

	if cfg.Queue.QueueCapacity < 1 {
		return fmt.Errorf("queue: queue_capacity must be at least 1")
	}
	if cfg.Queue.DiscoveryInterval < time.Second {
		return fmt.Errorf("queue: discovery_interval must be at least 1s")
	}
	if cfg.Queue.DrainTimeout < time.Second {
		return fmt.Errorf("queue: drain_timeout must be at least 1s")
	}
	for stage, n := range cfg.Queue.Workers {
		if n < 1 || n > 64 {
			return fmt.Errorf("queue: workers[%s] must be in [1, 64], got %d", stage, n)
		}
	}

	if cfg.Retention.GracePeriod < 0 {
		return fmt.Errorf("retention: grace_period must not be negative")
	}

	r := cfg.Resilience
	if r.BreakerFailureThreshold < 1 {
		return fmt.Errorf("resilience: breaker_failure_threshold must be at least 1")
	}
	if r.BreakerWindow <= 0 || r.BreakerCooldown <= 0 {
		return fmt.Errorf("resilience: breaker_window and breaker_cooldown must be positive")
	}
	if r.RetryBase <= 0 || r.RetryCap < r.RetryBase {
		return fmt.Errorf("resilience: retry_base must be positive and retry_cap >= retry_base")
	}

	p := cfg.Providers
	if _, err := validation.SafeEnum(p.UploadPrivacy,
		[]string{"private", "unlisted", "public"}, ""); err != nil {
		return fmt.Errorf("providers: upload_privacy: %w", err)
	}
	if p.ScriptWordCount < 50 || p.ScriptWordCount > 400 {
		return fmt.Errorf("providers: script_word_count must be in [50, 400]")
	}
	if p.IdeasPerRun < 1 {
		return fmt.Errorf("providers: ideas_per_run must be at least 1")
	}

	if _, err := time.Parse("15:04", cfg.Schedule.DailyRunAt); err != nil {
		return fmt.Errorf("schedule: daily_run_at must be HH:MM, got %q", cfg.Schedule.DailyRunAt)
	}

	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be in [1, 65535]")
	}

	return nil
}

// ValidateForRun checks the credentials a production run needs. Separated
// from Validate so status/gc/reset work without provider credentials.
func ValidateForRun(cfg *Config) error {
	p := cfg.Providers
	if p.TextGenAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if p.TTSAPIKey == "" {
		return fmt.Errorf("ELEVENLABS_API_KEY is required")
	}
	if p.StockAPIKey == "" {
		return fmt.Errorf("PEXELS_API_KEY is required")
	}
	if p.SpreadsheetID == "" {
		return fmt.Errorf("SPREADSHEET_ID is required")
	}
	// Trend source is optional: when absent the pipeline runs AI-only
	// ideation. Publishing credentials are checked lazily by the adapter
	// so earlier stages can run in a dry environment.
	return nil
}
