package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment  string             `toml:"environment"` // "development" or "production"
	Storage      StorageConfig      `toml:"storage"`
	Logging      LoggingConfig      `toml:"logging"`
	Site         SiteConfig         `toml:"site"`
	Scraper      ScraperConfig      `toml:"scraper"`
	Extractor    ExtractorConfig    `toml:"extractor"`
	MultiVersion MultiVersionConfig `toml:"multiversion"`
	Reconcile    ReconcileConfig    `toml:"reconcile"`
	Retry        RetryConfig        `toml:"retry"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=debug info warn error"` // "debug", "info", "warn", "error"
	Output []string `toml:"output"`                                      // "stdout", "file"
}

// SiteConfig describes the legislative site URL layout.
// The defaults target the California legislative information portal; tests
// point BaseURL at a local fixture server.
type SiteConfig struct {
	BaseURL     string `toml:"base_url" validate:"required,url"`
	TocPath     string `toml:"toc_path"`     // index page path, takes tocCode=<CODE>
	TextPath    string `toml:"text_path"`    // text page path, lists sections under a subtree
	SectionPath string `toml:"section_path"` // section page path, takes sectionNum=<ID>&lawCode=<CODE>
}

// ScraperConfig contains static (HTTP) scraper configuration
type ScraperConfig struct {
	UserAgent      string        `toml:"user_agent"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	RequestDelay   time.Duration `toml:"request_delay"` // minimum delay between requests to the host
	MaxBodySize    int           `toml:"max_body_size"` // maximum response body size in bytes
}

// ExtractorConfig contains Stage 2 worker-pool configuration
type ExtractorConfig struct {
	WorkerCount    int           `toml:"worker_count" validate:"min=1"`
	BatchSize      int           `toml:"batch_size" validate:"min=1"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	MaxAttempts    int           `toml:"max_attempts" validate:"min=1"` // attempts per request, including the first
}

// HangTimeout is the hard cancellation deadline for a single fetch.
// Fetches not finished by then are cancelled and recorded as timeouts.
func (c ExtractorConfig) HangTimeout() time.Duration {
	return 2 * c.RequestTimeout
}

// MultiVersionConfig contains Stage 3 rendered-scraper configuration
type MultiVersionConfig struct {
	SectionTimeout time.Duration `toml:"section_timeout"` // covers load + click + extract per section
	PoolSize       int           `toml:"pool_size" validate:"min=1"`
	Headless       bool          `toml:"headless"`
	NoSandbox      bool          `toml:"no_sandbox"`
	DisableGPU     bool          `toml:"disable_gpu"`
}

// ReconcileConfig bounds the post-stage reconciliation sweeps
type ReconcileConfig struct {
	MaxAttempts int `toml:"max_attempts" validate:"min=0"`
}

// RetryConfig controls the failure-log retry pass and the optional
// standing retry scheduler
type RetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // cron format; empty disables the scheduler
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Site: SiteConfig{
			BaseURL:     "https://leginfo.legislature.ca.gov",
			TocPath:     "/faces/codedisplayexpand.xhtml",
			TextPath:    "/faces/codes_displayText.xhtml",
			SectionPath: "/faces/codes_displaySection.xhtml",
		},
		Scraper: ScraperConfig{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestTimeout: 30 * time.Second,
			RequestDelay:   250 * time.Millisecond,
			MaxBodySize:    10 * 1024 * 1024, // 10MB
		},
		Extractor: ExtractorConfig{
			WorkerCount:    15,
			BatchSize:      50,
			RequestTimeout: 60 * time.Second,
			MaxAttempts:    3,
		},
		MultiVersion: MultiVersionConfig{
			SectionTimeout: 90 * time.Second,
			PoolSize:       2,
			Headless:       true,
			NoSandbox:      true,
			DisableGPU:     true,
		},
		Reconcile: ReconcileConfig{
			MaxAttempts: 2,
		},
		Retry: RetryConfig{
			Enabled:  true,
			Schedule: "", // one-shot retry pass only; set a cron expression for a standing scheduler
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// files; CLI flag overrides are applied separately by the caller and take
// the highest priority.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CALEGIS_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Storage configuration
	if badgerPath := os.Getenv("CALEGIS_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("CALEGIS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CALEGIS_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if o = strings.TrimSpace(o); o != "" {
				outputs = append(outputs, o)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Site configuration
	if baseURL := os.Getenv("CALEGIS_BASE_URL"); baseURL != "" {
		config.Site.BaseURL = baseURL
	}

	// Scraper configuration
	if timeout := os.Getenv("CALEGIS_REQUEST_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Scraper.RequestTimeout = d
			config.Extractor.RequestTimeout = d
		}
	}

	// Extractor configuration
	if workers := os.Getenv("CALEGIS_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil && w > 0 {
			config.Extractor.WorkerCount = w
		}
	}
	if batchSize := os.Getenv("CALEGIS_BATCH_SIZE"); batchSize != "" {
		if b, err := strconv.Atoi(batchSize); err == nil && b > 0 {
			config.Extractor.BatchSize = b
		}
	}

	// Retry configuration
	if schedule := os.Getenv("CALEGIS_RETRY_SCHEDULE"); schedule != "" {
		config.Retry.Schedule = schedule
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority).
// Zero values mean "not set" and leave the config untouched.
func ApplyFlagOverrides(config *Config, workers, maxRetry int, skipRetry bool) {
	if workers > 0 {
		config.Extractor.WorkerCount = workers
	}
	if maxRetry >= 0 {
		config.Reconcile.MaxAttempts = maxRetry
	}
	if skipRetry {
		config.Retry.Enabled = false
	}
}

// Validate checks structural constraints and the retry schedule
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Retry.Schedule != "" {
		if err := ValidateRetrySchedule(c.Retry.Schedule); err != nil {
			return err
		}
	}

	return nil
}

// ValidateRetrySchedule validates a cron schedule expression for the
// standing retry scheduler
func ValidateRetrySchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid retry schedule %q: %w", schedule, err)
	}
	return nil
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
