// Load .env, then the optional YAML file, then env overrides, then defaults
// and validation.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type SyncConfig struct {
	BatchSize            int           `yaml:"batch_size"`
	MaxFetchAttempts     int           `yaml:"max_fetch_attempts"`
	RetryBackoff         time.Duration `yaml:"retry_backoff"`
	StalenessThreshold   time.Duration `yaml:"staleness_threshold"`
	SchedulerInterval    time.Duration `yaml:"scheduler_interval"`
	SchedulerConcurrency int           `yaml:"scheduler_concurrency"`
	DefaultLookback      time.Duration `yaml:"default_lookback"`
	// InterruptedAfter is how long a processing run may go without progress
	// before it is treated as abandoned.
	InterruptedAfter time.Duration `yaml:"interrupted_after"`
}

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`

	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	GoogleRedirectURI  string `yaml:"google_redirect_uri"`

	GeminiAPIKey string `yaml:"-"`
	GeminiModel  string `yaml:"gemini_model"`

	SessionSecret      string `yaml:"-"`
	TokenEncryptionKey string `yaml:"-"`

	RulesPath           string   `yaml:"rules_path"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
	PageSize            int      `yaml:"page_size"`
	ExportRatePerMinute int      `yaml:"export_rate_per_minute"`

	Sync SyncConfig `yaml:"sync"`
}

// Load reads configuration from CONFIG_FILE (if set) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.GoogleClientID, "GOOGLE_CLIENT_ID")
	setString(&c.GoogleClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&c.GoogleRedirectURI, "GOOGLE_REDIRECT_URI")
	setString(&c.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&c.GeminiModel, "GEMINI_MODEL")
	setString(&c.SessionSecret, "SESSION_SECRET")
	setString(&c.TokenEncryptionKey, "TOKEN_ENCRYPTION_KEY")
	setString(&c.RulesPath, "RULES_PATH")

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}

	if err := setInt(&c.PageSize, "PAGE_SIZE"); err != nil {
		return err
	}
	if err := setInt(&c.ExportRatePerMinute, "EXPORT_RATE_PER_MINUTE"); err != nil {
		return err
	}
	if err := setInt(&c.Sync.BatchSize, "SYNC_BATCH_SIZE"); err != nil {
		return err
	}
	if err := setDuration(&c.Sync.StalenessThreshold, "SYNC_STALENESS_THRESHOLD"); err != nil {
		return err
	}
	if err := setDuration(&c.Sync.SchedulerInterval, "SYNC_SCHEDULER_INTERVAL"); err != nil {
		return err
	}
	return setDuration(&c.Sync.InterruptedAfter, "SYNC_INTERRUPTED_AFTER")
}

func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.GoogleRedirectURI == "" {
		c.GoogleRedirectURI = "http://localhost:8080/auth/google"
	}
	if c.GeminiModel == "" {
		c.GeminiModel = "gemini-2.5-flash"
	}
	if c.RulesPath == "" {
		c.RulesPath = "configs/rules.yaml"
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.PageSize <= 0 {
		c.PageSize = 25
	}
	if c.ExportRatePerMinute <= 0 {
		c.ExportRatePerMinute = 2
	}

	s := &c.Sync
	if s.BatchSize <= 0 {
		s.BatchSize = 50
	}
	if s.MaxFetchAttempts <= 0 {
		s.MaxFetchAttempts = 3
	}
	if s.RetryBackoff <= 0 {
		s.RetryBackoff = time.Second
	}
	if s.StalenessThreshold <= 0 {
		s.StalenessThreshold = 12 * time.Hour
	}
	if s.SchedulerInterval <= 0 {
		s.SchedulerInterval = 15 * time.Minute
	}
	if s.SchedulerConcurrency <= 0 {
		s.SchedulerConcurrency = 4
	}
	if s.DefaultLookback <= 0 {
		s.DefaultLookback = 30 * 24 * time.Hour
	}
	if s.InterruptedAfter <= 0 {
		s.InterruptedAfter = 15 * time.Minute
	}
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	if c.TokenEncryptionKey == "" {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY is required")
	}
	if c.Sync.BatchSize > 500 {
		return fmt.Errorf("sync.batch_size must be <= 500, got %d", c.Sync.BatchSize)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
