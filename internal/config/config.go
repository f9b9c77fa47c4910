// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Harvest   HarvestConfig   `mapstructure:"harvest"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Disk      DiskConfig      `mapstructure:"disk"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Git       GitConfig       `mapstructure:"git"`
	Replica   ReplicaConfig   `mapstructure:"replica"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SourceConfig locates the remote archive.
type SourceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	AcceptLanguage string `mapstructure:"accept_language"`
}

// HarvestConfig bounds the harvested tree and its on-disk root.
type HarvestConfig struct {
	RootDir      string `mapstructure:"root_dir"`
	ManifestDir  string `mapstructure:"manifest_dir"`
	StartDate    string `mapstructure:"start_date"`
	EndDate      string `mapstructure:"end_date"`
	MinLeafBytes int64  `mapstructure:"min_leaf_bytes"`
}

// DiscoveryConfig paces the discovery phase, independent from fetch.
type DiscoveryConfig struct {
	Concurrency int     `mapstructure:"concurrency"`
	RPS         float64 `mapstructure:"rps"`
}

// FetchConfig governs the executor and the adaptive governor.
type FetchConfig struct {
	Floor            int `mapstructure:"floor"`
	Ceiling          int `mapstructure:"ceiling"`
	Step             int `mapstructure:"step"`
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
	PacingMaxSec     int `mapstructure:"pacing_max_seconds"`
	PacingDecaySec   int `mapstructure:"pacing_decay_seconds"`
	PacingSmallSec   int `mapstructure:"pacing_small_seconds"`
	PacingMediumSec  int `mapstructure:"pacing_medium_seconds"`
	PacingLargeSec   int `mapstructure:"pacing_large_seconds"`
}

// DiskConfig holds the hard disk-space abort threshold.
type DiskConfig struct {
	CriticalFreeBytes uint64 `mapstructure:"critical_free_bytes"`
}

// BudgetConfig bounds time-boxed runs; zero disables the budget.
type BudgetConfig struct {
	WallClockMinutes    int `mapstructure:"wall_clock_minutes"`
	SafetyMarginMinutes int `mapstructure:"safety_margin_minutes"`
}

// GitConfig controls the partition committer.
type GitConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AuthorName string `mapstructure:"author_name"`
	AuthorMail string `mapstructure:"author_mail"`
	Push       bool   `mapstructure:"push"`
}

// ReplicaConfig enables the optional GCS mirror when a bucket is set.
type ReplicaConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for harvest-event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig exposes the optional status/metrics listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ZETURF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", "https://www.zeturf.fr")
	v.SetDefault("source.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36")
	v.SetDefault("source.accept_language", "fr-FR,fr;q=0.9,en;q=0.8")
	v.SetDefault("harvest.root_dir", "resultats-et-rapports")
	v.SetDefault("harvest.manifest_dir", "manifests")
	// Empty defaults register the keys so environment overrides bind.
	v.SetDefault("harvest.start_date", "")
	v.SetDefault("harvest.end_date", "")
	v.SetDefault("harvest.min_leaf_bytes", 512)
	v.SetDefault("discovery.concurrency", 4)
	v.SetDefault("discovery.rps", 2.0)
	v.SetDefault("fetch.floor", 2)
	v.SetDefault("fetch.ceiling", 16)
	v.SetDefault("fetch.step", 2)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_initial_ms", 250)
	v.SetDefault("fetch.backoff_max_ms", 5000)
	v.SetDefault("fetch.pacing_max_seconds", 60)
	v.SetDefault("fetch.pacing_decay_seconds", 1)
	v.SetDefault("fetch.pacing_small_seconds", 2)
	v.SetDefault("fetch.pacing_medium_seconds", 5)
	v.SetDefault("fetch.pacing_large_seconds", 15)
	v.SetDefault("disk.critical_free_bytes", 500*1024*1024)
	v.SetDefault("budget.wall_clock_minutes", 0)
	v.SetDefault("budget.safety_margin_minutes", 10)
	v.SetDefault("git.enabled", true)
	v.SetDefault("git.author_name", "GitHub Actions Bot")
	v.SetDefault("git.author_mail", "actions@github.com")
	v.SetDefault("git.push", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Harvest.StartDate == "" || c.Harvest.EndDate == "" {
		return fmt.Errorf("harvest.start_date and harvest.end_date must be set")
	}
	for _, d := range []string{c.Harvest.StartDate, c.Harvest.EndDate} {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("invalid harvest date %q: %w", d, err)
		}
	}
	if c.Fetch.Floor <= 0 {
		return fmt.Errorf("fetch.floor must be > 0")
	}
	if c.Fetch.Ceiling < c.Fetch.Floor {
		return fmt.Errorf("fetch.ceiling must be >= fetch.floor")
	}
	if c.Fetch.Step <= 0 {
		return fmt.Errorf("fetch.step must be > 0")
	}
	if c.Discovery.Concurrency <= 0 {
		return fmt.Errorf("discovery.concurrency must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// WallClockBudget converts the budget knobs into durations; zero disables it.
func (c Config) WallClockBudget() time.Duration {
	return time.Duration(c.Budget.WallClockMinutes) * time.Minute
}

// SafetyMargin returns the budget safety margin.
func (c Config) SafetyMargin() time.Duration {
	return time.Duration(c.Budget.SafetyMarginMinutes) * time.Minute
}
