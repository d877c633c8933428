// Package config loads and validates all runtime configuration: environment
// variables (via .env), optional forge.yaml overrides, and built-in defaults.
package config

import (
	"path/filepath"
	"time"
)

// Config is the root configuration object passed to every component.
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Queue      QueueConfig      `yaml:"queue"`
	Retention  RetentionConfig  `yaml:"retention"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	HTTPPort   int              `yaml:"http_port"`
}

// PathsConfig roots the on-disk layout. Everything lives under RootDir:
//
//	state/items.db, state/circuit-breakers.json, artifacts/<kind>/<item>/,
//	logs/, credentials/
type PathsConfig struct {
	RootDir string `yaml:"root_dir"`
}

// StateDir returns the local state directory.
func (p PathsConfig) StateDir() string { return filepath.Join(p.RootDir, "state") }

// ItemsDB returns the path of the item state database.
func (p PathsConfig) ItemsDB() string { return filepath.Join(p.StateDir(), "items.db") }

// BreakerSnapshot returns the path of the persisted circuit-breaker state.
func (p PathsConfig) BreakerSnapshot() string {
	return filepath.Join(p.StateDir(), "circuit-breakers.json")
}

// ArtifactsDir returns the artifact store root.
func (p PathsConfig) ArtifactsDir() string { return filepath.Join(p.RootDir, "artifacts") }

// LogsDir returns the log directory.
func (p PathsConfig) LogsDir() string { return filepath.Join(p.RootDir, "logs") }

// CredentialsDir returns the credentials directory (0700, files 0600).
func (p PathsConfig) CredentialsDir() string { return filepath.Join(p.RootDir, "credentials") }

// QueueConfig controls discovery, queueing, and worker pools.
type QueueConfig struct {
	// Workers maps stage name to pool size. Stages absent from the map
	// get one worker.
	Workers map[string]int `yaml:"workers"`

	// QueueCapacity bounds each per-stage queue.
	QueueCapacity int `yaml:"queue_capacity"`

	// DiscoveryInterval is how often the supervisor scans for ready items.
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`

	// StageTimeout caps a single stage execution regardless of class.
	StageTimeout time.Duration `yaml:"stage_timeout"`

	// DrainTimeout is the graceful-shutdown deadline for running jobs.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// WorkersFor returns the pool size for a stage.
func (q QueueConfig) WorkersFor(stage string) int {
	if n, ok := q.Workers[stage]; ok && n > 0 {
		return n
	}
	return 1
}

// RetentionConfig controls artifact garbage collection.
type RetentionConfig struct {
	// GracePeriod is how long artifacts of terminal items are kept.
	GracePeriod time.Duration `yaml:"grace_period"`

	// Interval is how often the GC loop runs.
	Interval time.Duration `yaml:"interval"`
}

// ResilienceConfig controls the resilient call layer.
type ResilienceConfig struct {
	// BreakerFailureThreshold opens a circuit after this many failures
	// inside BreakerWindow.
	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerWindow           time.Duration `yaml:"breaker_window"`
	BreakerCooldown         time.Duration `yaml:"breaker_cooldown"`

	// BulkheadLimits caps concurrent in-flight calls per service.
	BulkheadLimits map[string]int `yaml:"bulkhead_limits"`

	// BulkheadQueueTimeout bounds the wait for a bulkhead slot.
	BulkheadQueueTimeout time.Duration `yaml:"bulkhead_queue_timeout"`

	// RetryBase, RetryCap shape the exponential backoff (factor 2, full jitter).
	RetryBase time.Duration `yaml:"retry_base"`
	RetryCap  time.Duration `yaml:"retry_cap"`
}

// BulkheadFor returns the in-flight cap for a service.
func (r ResilienceConfig) BulkheadFor(service string) int {
	if n, ok := r.BulkheadLimits[service]; ok && n > 0 {
		return n
	}
	return 4
}

// ProvidersConfig carries external collaborator credentials and settings.
// Secrets are never logged; see pkg/masking.
type ProvidersConfig struct {
	TextGenAPIKey string `yaml:"-"` // GEMINI_API_KEY
	TTSAPIKey     string `yaml:"-"` // ELEVENLABS_API_KEY
	StockAPIKey   string `yaml:"-"` // PEXELS_API_KEY

	// Trend source is optional; pipeline degrades to AI-only ideation
	// when these are absent.
	TrendClientID     string   `yaml:"-"` // REDDIT_CLIENT_ID
	TrendClientSecret string   `yaml:"-"` // REDDIT_CLIENT_SECRET
	TrendUserAgent    string   `yaml:"trend_user_agent"`
	TrendCategories   []string `yaml:"trend_categories"`
	TrendMinScore     int      `yaml:"trend_min_score"`

	SpreadsheetID        string `yaml:"spreadsheet_id"` // dashboard row store
	SheetsCredentialFile string `yaml:"-"`              // GOOGLE_CREDENTIALS_FILE

	UploadClientSecretsFile string `yaml:"-"` // YOUTUBE_CLIENT_SECRETS_FILE
	UploadTokenFile         string `yaml:"-"` // YOUTUBE_TOKEN_FILE

	// Publication settings, surfaced as configuration rather than constants.
	UploadCategoryID  string `yaml:"upload_category_id"`
	UploadMadeForKids bool   `yaml:"upload_made_for_kids"`
	UploadPrivacy     string `yaml:"upload_privacy"` // private | unlisted | public

	IdeasPerRun     int `yaml:"ideas_per_run"`
	ScriptWordCount int `yaml:"script_word_count"`
}

// TrendSourceConfigured reports whether the optional trend source has
// credentials.
func (p ProvidersConfig) TrendSourceConfigured() bool {
	return p.TrendClientID != "" && p.TrendClientSecret != ""
}

// ScheduleConfig controls loop-mode timing.
type ScheduleConfig struct {
	// DailyRunAt is the local time (HH:MM) of the full production tick.
	DailyRunAt string `yaml:"daily_run_at"`
}

// Default returns the built-in configuration. Worker asymmetry reflects
// which stages are CPU- or rate-limit-bound.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{RootDir: "./shortsforge-data"},
		Queue: QueueConfig{
			Workers: map[string]int{
				"scripting":      4,
				"narrating":      2,
				"sourcing_clips": 2,
				"assembling":     1,
				"captioning":     1,
				"metadata":       4,
				"publishing":     1,
			},
			QueueCapacity:     64,
			DiscoveryInterval: 5 * time.Second,
			StageTimeout:      10 * time.Minute,
			DrainTimeout:      120 * time.Second,
		},
		Retention: RetentionConfig{
			GracePeriod: 7 * 24 * time.Hour,
			Interval:    1 * time.Hour,
		},
		Resilience: ResilienceConfig{
			BreakerFailureThreshold: 5,
			BreakerWindow:           60 * time.Second,
			BreakerCooldown:         30 * time.Second,
			BulkheadLimits: map[string]int{
				"textgen":    4,
				"tts":        2,
				"stockclips": 4,
				"trends":     2,
				"aligner":    2,
				"dashboard":  4,
				"upload":     1,
			},
			BulkheadQueueTimeout: 10 * time.Second,
			RetryBase:            500 * time.Millisecond,
			RetryCap:             30 * time.Second,
		},
		Providers: ProvidersConfig{
			TrendUserAgent:   "shortsforge/1.0",
			TrendCategories:  []string{"LifeProTips", "todayilearned", "GetMotivated"},
			TrendMinScore:    500,
			UploadCategoryID: "27",
			UploadPrivacy:    "private",
			IdeasPerRun:      5,
			ScriptWordCount:  160,
		},
		Schedule: ScheduleConfig{DailyRunAt: "09:00"},
		HTTPPort: 8080,
	}
}
