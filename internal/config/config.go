// Package config loads rostersync configuration from a YAML file plus
// RS_* environment overrides, with sane defaults for everything.
//
// Precedence: explicit flag values > environment > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved configuration tree.
type Config struct {
	// ControlDB locates the control-plane database (path or mysql:// DSN).
	ControlDB string
	// LockDir holds per-school sync lock files for non-file locators.
	LockDir string

	Sync SyncConfig
	SIS  SISConfig
	Log  LogConfig
}

// SyncConfig tunes orchestration.
type SyncConfig struct {
	SchoolConcurrency     int
	EventBatchLimit       int
	AttemptTimeout        time.Duration
	FullOnMissingCursor   bool
	StaleAttemptThreshold time.Duration
}

// SISConfig configures the upstream roster API client.
type SISConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
}

// LogConfig configures structured logging output.
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("control.db", "rostersync.db")
	v.SetDefault("control.lock_dir", os.TempDir())

	v.SetDefault("sync.school_concurrency", 5)
	v.SetDefault("sync.event_batch_limit", 1000)
	v.SetDefault("sync.attempt_timeout", time.Duration(0))
	v.SetDefault("sync.full_on_missing_cursor", false)
	v.SetDefault("sync.stale_attempt_threshold", 2*time.Hour)

	v.SetDefault("sis.base_url", "")
	v.SetDefault("sis.token", "")
	v.SetDefault("sis.timeout", 30*time.Second)
	v.SetDefault("sis.max_retries", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads configuration. path may be empty, in which case only defaults,
// rostersync.yaml in the working directory (if present), and RS_* env vars
// apply. A missing explicit path is an error; a missing implicit one is not.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("rostersync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		ControlDB: v.GetString("control.db"),
		LockDir:   v.GetString("control.lock_dir"),
		Sync: SyncConfig{
			SchoolConcurrency:     v.GetInt("sync.school_concurrency"),
			EventBatchLimit:       v.GetInt("sync.event_batch_limit"),
			AttemptTimeout:        v.GetDuration("sync.attempt_timeout"),
			FullOnMissingCursor:   v.GetBool("sync.full_on_missing_cursor"),
			StaleAttemptThreshold: v.GetDuration("sync.stale_attempt_threshold"),
		},
		SIS: SISConfig{
			BaseURL:    v.GetString("sis.base_url"),
			Token:      v.GetString("sis.token"),
			Timeout:    v.GetDuration("sis.timeout"),
			MaxRetries: v.GetInt("sis.max_retries"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ControlDB == "" {
		return fmt.Errorf("control.db must not be empty")
	}
	if c.Sync.SchoolConcurrency < 1 {
		return fmt.Errorf("sync.school_concurrency must be at least 1, got %d", c.Sync.SchoolConcurrency)
	}
	if c.Sync.EventBatchLimit < 1 {
		return fmt.Errorf("sync.event_batch_limit must be at least 1, got %d", c.Sync.EventBatchLimit)
	}
	return nil
}
