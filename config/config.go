// Package config loads service configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "MEDREG_CONFIG"

	storageBucketEnv = "STORAGE_BUCKET"
	localStorageEnv  = "LOCAL_STORAGE"
	tokenSaltEnv     = "TOKEN_SALT"
	baseURLEnv       = "BASE_URL"
	logLevelEnv      = "LOG_LEVEL"

	mailProviderEnv = "MAIL_PROVIDER"
	mailFromEnv     = "MAIL_FROM"
	mailFromNameEnv = "MAIL_FROM_NAME"
	brevoAPIKeyEnv  = "BREVO_API_KEY"
	googleCredsEnv  = "GOOGLE_CREDENTIALS_JSON"

	pollIntervalEnv   = "POLL_INTERVAL_HOURS"
	digestIntervalEnv = "DIGEST_INTERVAL_HOURS"
)

// Config holds all settings for the monitoring pipeline.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	BaseURL  string         `yaml:"base_url"` // For unsubscribe/settings links
	Storage  StorageConfig  `yaml:"storage"`
	Mail     MailConfig     `yaml:"mail"`
	Poll     PollConfig     `yaml:"poll"`
	Digest   DigestConfig   `yaml:"digest"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Diff     DiffConfig     `yaml:"diff"`
	Sources  []SourceConfig `yaml:"sources"`
}

// StorageConfig selects the persistence backend: a GCS bucket in
// production, a local directory for development.
type StorageConfig struct {
	Bucket    string `yaml:"bucket"`
	LocalPath string `yaml:"local_path"`
	TokenSalt string `yaml:"token_salt"`
	// RetainContent keeps the last fetched text on each tracked document so
	// the next cycle can produce a structural diff. When false the engine
	// degrades to hash-only change detection.
	RetainContent *bool `yaml:"retain_content"`
}

// RetainsContent reports whether document content is persisted between
// cycles. Defaults to true.
func (s StorageConfig) RetainsContent() bool {
	return s.RetainContent == nil || *s.RetainContent
}

// MailConfig describes the outbound mail transport.
type MailConfig struct {
	Provider    string `yaml:"provider"` // "gmail", "brevo" or "mock"
	FromAddress string `yaml:"from_address"`
	FromName    string `yaml:"from_name"`
	BrevoAPIKey string `yaml:"brevo_api_key"`
	GoogleCreds string `yaml:"google_credentials_json"`
}

// PollConfig controls the scraping cycle.
type PollConfig struct {
	IntervalHours        int `yaml:"interval_hours"`
	FetchTimeoutSeconds  int `yaml:"fetch_timeout_seconds"`
	RenderTimeoutSeconds int `yaml:"render_timeout_seconds"`
	Concurrency          int `yaml:"concurrency"`
	MaxCandidatesPerPath int `yaml:"max_candidates_per_path"`
}

// DigestConfig controls digest assembly and sending.
type DigestConfig struct {
	IntervalHours      int     `yaml:"interval_hours"`
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
	SendEmpty          bool    `yaml:"send_empty"`
	SendConcurrency    int     `yaml:"send_concurrency"`
}

// CleanupConfig bounds how long processed records are kept.
type CleanupConfig struct {
	ChangeRetentionDays int `yaml:"change_retention_days"`
	DigestRetentionDays int `yaml:"digest_retention_days"`
}

// DiffConfig holds the similarity thresholds that map a similarity score
// to a change classification. Design constants, overridable here.
type DiffConfig struct {
	MinorThreshold    float64 `yaml:"minor_threshold"`
	ModerateThreshold float64 `yaml:"moderate_threshold"`
	MajorThreshold    float64 `yaml:"major_threshold"`
}

// SourceConfig describes one external origin to poll.
type SourceConfig struct {
	Name string `yaml:"name"`
	// Kind selects the fetcher implementation: "html" fetches pages
	// directly, "rendered" routes through a JS-rendering proxy.
	Kind           string   `yaml:"kind"`
	BaseURL        string   `yaml:"base_url"`
	Paths          []string `yaml:"paths"`
	LinkKeywords   []string `yaml:"link_keywords"`
	RenderProxyURL string   `yaml:"render_proxy_url"`
}

// Load reads YAML configuration (if MEDREG_CONFIG points at a file) and
// applies environment overrides on top of defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if len(cfg.Sources) == 0 {
		cfg.Sources = defaultSources()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(storageBucketEnv); v != "" {
		c.Storage.Bucket = v
	}
	if v := os.Getenv(localStorageEnv); v != "" {
		c.Storage.LocalPath = v
	}
	if v := os.Getenv(tokenSaltEnv); v != "" {
		c.Storage.TokenSalt = v
	}
	if v := os.Getenv(baseURLEnv); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(mailProviderEnv); v != "" {
		c.Mail.Provider = v
	}
	if v := os.Getenv(mailFromEnv); v != "" {
		c.Mail.FromAddress = v
	}
	if v := os.Getenv(mailFromNameEnv); v != "" {
		c.Mail.FromName = v
	}
	if v := os.Getenv(brevoAPIKeyEnv); v != "" {
		c.Mail.BrevoAPIKey = v
	}
	if v := os.Getenv(googleCredsEnv); v != "" {
		c.Mail.GoogleCreds = v
	}
	if v := os.Getenv(pollIntervalEnv); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			c.Poll.IntervalHours = hours
		}
	}
	if v := os.Getenv(digestIntervalEnv); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			c.Digest.IntervalHours = hours
		}
	}
}

func (c *Config) validate() error {
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("source %d: name is required", i)
		}
		if src.BaseURL == "" {
			return fmt.Errorf("source %q: base_url is required", src.Name)
		}
		if len(src.Paths) == 0 {
			return fmt.Errorf("source %q: at least one path is required", src.Name)
		}
	}
	if c.Digest.RelevanceThreshold < 0 || c.Digest.RelevanceThreshold > 1 {
		return errors.New("digest.relevance_threshold must be in [0,1]")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		BaseURL:  "http://localhost:8080",
		Storage: StorageConfig{
			TokenSalt: "dev-salt-change-in-production",
		},
		Mail: MailConfig{
			Provider: "mock",
			FromName: "MedTech Regulatory Monitor",
		},
		Poll: PollConfig{
			IntervalHours:        24,
			FetchTimeoutSeconds:  30,
			RenderTimeoutSeconds: 180,
			Concurrency:          4,
			MaxCandidatesPerPath: 25,
		},
		Digest: DigestConfig{
			IntervalHours:      168, // Weekly
			RelevanceThreshold: 0.3,
			SendConcurrency:    4,
		},
		Cleanup: CleanupConfig{
			ChangeRetentionDays: 90,
			DigestRetentionDays: 180,
		},
		Diff: DiffConfig{
			MinorThreshold:    0.9,
			ModerateThreshold: 0.7,
			MajorThreshold:    0.3,
		},
	}
}

func defaultSources() []SourceConfig {
	return []SourceConfig{
		{
			Name:    "FDA",
			Kind:    "html",
			BaseURL: "https://www.fda.gov",
			Paths: []string{
				"/medical-devices/device-regulation-and-guidance",
				"/medical-devices/guidance-documents-medical-devices-and-radiation-emitting-products",
			},
			LinkKeywords: []string{"guidance", "regulation", "standard", "requirement", "device"},
		},
		{
			Name:    "BfArM",
			Kind:    "html",
			BaseURL: "https://www.bfarm.de",
			Paths: []string{
				"/DE/Medizinprodukte/_node.html",
				"/DE/Arzneimittel/_node.html",
			},
			LinkKeywords: []string{"richtlinie", "verordnung", "leitfaden", "norm", "medizinprodukt"},
		},
		{
			Name:    "ISO",
			Kind:    "rendered",
			BaseURL: "https://www.iso.org",
			Paths: []string{
				"/committee/54892.html", // ISO/TC 210 quality management for medical devices
				"/committee/54808.html", // ISO/TC 194 biological evaluation of medical devices
			},
			LinkKeywords: []string{"iso", "standard", "medical", "device", "quality"},
		},
		{
			Name:    "TUV",
			Kind:    "html",
			BaseURL: "https://www.tuv.com",
			Paths: []string{
				"/world/en/services/testing/medical-devices-testing.html",
			},
			LinkKeywords: []string{"medical", "device", "testing", "certification", "standard"},
		},
	}
}
