package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shortsforge/shortsforge/pkg/validation"
)

// Load builds the effective configuration:
//
//  1. Built-in defaults
//  2. forge.yaml overrides (if the file exists)
//  3. Environment variables (credentials and operational overrides)
//  4. Validation
//
// The caller is expected to have loaded .env into the environment already
// (godotenv in cmd). configFile may be empty.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := applyYAML(cfg, configFile); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("No config file, using defaults", "path", path)
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	slog.Info("Applied config overrides", "path", path)
	return nil
}

// applyEnv reads credentials and operational overrides from the environment.
// All numeric parsing goes through the safe coercers.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("SHORTSFORGE_ROOT"); v != "" {
		cfg.Paths.RootDir = v
	}

	cfg.Providers.TextGenAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.Providers.TTSAPIKey = os.Getenv("ELEVENLABS_API_KEY")
	cfg.Providers.StockAPIKey = os.Getenv("PEXELS_API_KEY")
	cfg.Providers.TrendClientID = os.Getenv("REDDIT_CLIENT_ID")
	cfg.Providers.TrendClientSecret = os.Getenv("REDDIT_CLIENT_SECRET")
	if v := os.Getenv("REDDIT_USER_AGENT"); v != "" {
		cfg.Providers.TrendUserAgent = v
	}
	if v := os.Getenv("SPREADSHEET_ID"); v != "" {
		cfg.Providers.SpreadsheetID = v
	}
	cfg.Providers.SheetsCredentialFile = os.Getenv("GOOGLE_CREDENTIALS_FILE")
	cfg.Providers.UploadClientSecretsFile = os.Getenv("YOUTUBE_CLIENT_SECRETS_FILE")
	cfg.Providers.UploadTokenFile = os.Getenv("YOUTUBE_TOKEN_FILE")

	port, err := validation.SafeInt(os.Getenv("HTTP_PORT"), 1, 65535, cfg.HTTPPort)
	if err != nil {
		return fmt.Errorf("HTTP_PORT: %w", err)
	}
	cfg.HTTPPort = port

	ideas, err := validation.SafeInt(os.Getenv("IDEAS_PER_RUN"), 1, 50, cfg.Providers.IdeasPerRun)
	if err != nil {
		return fmt.Errorf("IDEAS_PER_RUN: %w", err)
	}
	cfg.Providers.IdeasPerRun = ideas

	kids, err := validation.SafeBool(os.Getenv("UPLOAD_MADE_FOR_KIDS"), cfg.Providers.UploadMadeForKids)
	if err != nil {
		return fmt.Errorf("UPLOAD_MADE_FOR_KIDS: %w", err)
	}
	cfg.Providers.UploadMadeForKids = kids

	privacy, err := validation.SafeEnum(os.Getenv("UPLOAD_PRIVACY"),
		[]string{"private", "unlisted", "public"}, cfg.Providers.UploadPrivacy)
	if err != nil {
		return fmt.Errorf("UPLOAD_PRIVACY: %w", err)
	}
	cfg.Providers.UploadPrivacy = privacy

	if v := os.Getenv("RETENTION_GRACE_DAYS"); v != "" {
		days, err := validation.SafeInt(v, 0, 365, 7)
		if err != nil {
			return fmt.Errorf("RETENTION_GRACE_DAYS: %w", err)
		}
		cfg.Retention.GracePeriod = time.Duration(days) * 24 * time.Hour
	}

	// Per-stage worker overrides: WORKERS_SCRIPTING=8 etc.
	for stage := range cfg.Queue.Workers {
		env := "WORKERS_" + envName(stage)
		if v := os.Getenv(env); v != "" {
			n, err := validation.SafeInt(v, 1, 32, cfg.Queue.Workers[stage])
			if err != nil {
				return fmt.Errorf("%s: %w", env, err)
			}
			cfg.Queue.Workers[stage] = n
		}
	}

	return nil
}

func envName(stage string) string {
	out := make([]byte, 0, len(stage))
	for i := 0; i < len(stage); i++ {
		c := stage[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
