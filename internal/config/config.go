// Package config resolves runtime settings for the shuttlr CLI.
//
// Viper stays contained in this package; the rest of the codebase
// receives explicit Config structs. Sources are resolved in this
// order: env > .env file > config file > defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the explicit configuration struct the rest of the
// codebase sees.
type Config struct {
	SourceRegion string
	TargetRegion string
	StatePath    string
	LogLevel     string
	Dashboard    DashboardConfig
	Poll         PollConfig
}

// DashboardConfig holds the read-only dashboard server settings.
type DashboardConfig struct {
	Port int
}

// PollConfig holds the fixed-interval wait settings for the
// verification steps.
type PollConfig struct {
	ReplicationInterval time.Duration
	ReplicationTimeout  time.Duration
	CrawlerInterval     time.Duration
	CrawlerTimeout      time.Duration
	QueryInterval       time.Duration
	QueryTimeout        time.Duration
}

// Init initializes viper with defaults, config file paths and env
// binding. A .env file in the working directory is loaded first if
// present.
func Init() error {
	// Ignore a missing .env; it is optional local convenience.
	_ = godotenv.Load()

	viper.SetConfigName("shuttlr")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.shuttlr")
	viper.AddConfigPath(".")

	viper.SetDefault("source-region", "us-east-1")
	viper.SetDefault("target-region", "us-west-2")
	viper.SetDefault("state-path", "run_data.json")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("dashboard-port", 8888)
	viper.SetDefault("poll-replication-interval", 10*time.Second)
	viper.SetDefault("poll-replication-timeout", 120*time.Second)
	viper.SetDefault("poll-crawler-interval", 15*time.Second)
	viper.SetDefault("poll-crawler-timeout", 300*time.Second)
	viper.SetDefault("poll-query-interval", 5*time.Second)
	viper.SetDefault("poll-query-timeout", 60*time.Second)

	viper.SetEnvPrefix("SHUTTLR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return nil
}

// Load reads from all sources and returns the explicit Config.
func Load() (*Config, error) {
	cfg := &Config{
		SourceRegion: viper.GetString("source-region"),
		TargetRegion: viper.GetString("target-region"),
		StatePath:    viper.GetString("state-path"),
		LogLevel:     viper.GetString("log-level"),
		Dashboard: DashboardConfig{
			Port: viper.GetInt("dashboard-port"),
		},
		Poll: PollConfig{
			ReplicationInterval: viper.GetDuration("poll-replication-interval"),
			ReplicationTimeout:  viper.GetDuration("poll-replication-timeout"),
			CrawlerInterval:     viper.GetDuration("poll-crawler-interval"),
			CrawlerTimeout:      viper.GetDuration("poll-crawler-timeout"),
			QueryInterval:       viper.GetDuration("poll-query-interval"),
			QueryTimeout:        viper.GetDuration("poll-query-timeout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures the config is sane.
func (c *Config) Validate() error {
	if c.SourceRegion == "" || c.TargetRegion == "" {
		return fmt.Errorf("source and target regions must both be set")
	}
	if c.SourceRegion == c.TargetRegion {
		return fmt.Errorf("source and target regions must differ (both %s)", c.SourceRegion)
	}
	if c.StatePath == "" {
		return fmt.Errorf("state-path must not be empty")
	}
	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("invalid dashboard port: %d", c.Dashboard.Port)
	}
	for name, d := range map[string]time.Duration{
		"poll-replication-interval": c.Poll.ReplicationInterval,
		"poll-replication-timeout":  c.Poll.ReplicationTimeout,
		"poll-crawler-interval":     c.Poll.CrawlerInterval,
		"poll-crawler-timeout":      c.Poll.CrawlerTimeout,
		"poll-query-interval":       c.Poll.QueryInterval,
		"poll-query-timeout":        c.Poll.QueryTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
