// Package config loads the run configuration (altsource.yaml) and the
// per-source package lists (apps.json).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ralt/altsource/internal/cache"
	"github.com/ralt/altsource/internal/github"
	"github.com/ralt/altsource/internal/icon"
	"github.com/ralt/altsource/internal/retention"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ALTSOURCE_CACHE_REPO
const EnvPrefix = "ALTSOURCE"

// DefaultConcurrency is the package worker pool size
const DefaultConcurrency = 5

// ErrSourceNotFound is returned when a named source is not configured
var ErrSourceNotFound = errors.New("source not found")

// SourceConfig describes one catalog and the package list it is built from
type SourceConfig struct {
	Name       string `mapstructure:"name"`
	Identifier string `mapstructure:"identifier"`
	Apps       string `mapstructure:"apps"`
	Output     string `mapstructure:"output"`
}

type GitHubConfig struct {
	APIURL            string        `mapstructure:"api_url"`
	UploadsURL        string        `mapstructure:"uploads_url"`
	Token             string        `mapstructure:"token"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DownloadTimeout   time.Duration `mapstructure:"download_timeout"`
	Retries           int           `mapstructure:"retries"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

type CacheConfig struct {
	Repo          string `mapstructure:"repo"`
	TagPrefix     string `mapstructure:"tag_prefix"`
	LegacyTag     string `mapstructure:"legacy_tag"`
	RetentionDays int    `mapstructure:"retention_days"`
	KeepBuckets   int    `mapstructure:"keep_buckets"`
	RollbackDays  int    `mapstructure:"rollback_days"`
}

type IconConfig struct {
	ImprovementThreshold int `mapstructure:"improvement_threshold"`
	MaxCandidates        int `mapstructure:"max_candidates"`
}

type SigningConfig struct {
	Key        string `mapstructure:"key"`
	Passphrase string `mapstructure:"passphrase"`
}

type MetricsConfig struct {
	Textfile    string `mapstructure:"textfile"`
	Pushgateway string `mapstructure:"pushgateway"`
	Job         string `mapstructure:"job"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the immutable run configuration
type Config struct {
	Sources     []SourceConfig `mapstructure:"sources"`
	Concurrency int            `mapstructure:"concurrency"`
	WorkDir     string         `mapstructure:"work_dir"`
	GitHub      GitHubConfig   `mapstructure:"github"`
	Cache       CacheConfig    `mapstructure:"cache"`
	Icon        IconConfig     `mapstructure:"icon"`
	Signing     SigningConfig  `mapstructure:"signing"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
	Log         LogConfig      `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("github.api_url", github.DefaultAPIURL)
	v.SetDefault("github.uploads_url", github.DefaultUploadsURL)
	v.SetDefault("github.timeout", github.DefaultTimeout)
	v.SetDefault("github.download_timeout", github.DefaultDownloadTimeout)
	v.SetDefault("github.retries", github.DefaultRetries)
	v.SetDefault("cache.tag_prefix", cache.DefaultTagPrefix)
	v.SetDefault("cache.legacy_tag", cache.DefaultLegacyTag)
	v.SetDefault("cache.retention_days", retention.DefaultRetentionDays)
	v.SetDefault("cache.keep_buckets", retention.DefaultKeepBuckets)
	v.SetDefault("cache.rollback_days", retention.DefaultRollbackDays)
	v.SetDefault("icon.improvement_threshold", icon.DefaultImprovementThreshold)
	v.SetDefault("icon.max_candidates", icon.DefaultMaxCandidates)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Keys without a value still need registering for env overrides to
	// reach Unmarshal.
	for _, key := range []string{
		"work_dir", "github.token", "cache.repo", "signing.key", "signing.passphrase",
		"metrics.textfile", "metrics.pushgateway", "metrics.job",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("github.requests_per_second", 0.0)
}

// Load reads the configuration from path, or from altsource.yaml in the
// working directory when path is empty. Environment variables prefixed with
// ALTSOURCE_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("altsource")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.GitHub.Token == "" {
		cfg.GitHub.Token = github.TokenFromEnv()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values no run could use
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return errors.New("no sources configured")
	}

	seen := make(map[string]bool)
	for i, s := range c.Sources {
		if s.Name == "" || s.Identifier == "" {
			return fmt.Errorf("source %d: name and identifier are required", i)
		}
		if s.Apps == "" || s.Output == "" {
			return fmt.Errorf("source %q: apps and output paths are required", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("source %q is configured twice", s.Name)
		}
		seen[s.Name] = true
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Cache.Repo != "" && !repoPattern.MatchString(c.Cache.Repo) {
		return fmt.Errorf("invalid cache repository %q", c.Cache.Repo)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Source returns the source named name
func (c *Config) Source(name string) (SourceConfig, error) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, nil
		}
	}
	return SourceConfig{}, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
}

// RetentionPolicy returns the cache retention settings
func (c *Config) RetentionPolicy() retention.Policy {
	return retention.Policy{
		TagPrefix:     c.Cache.TagPrefix,
		LegacyTag:     c.Cache.LegacyTag,
		RetentionDays: c.Cache.RetentionDays,
		KeepBuckets:   c.Cache.KeepBuckets,
		RollbackDays:  c.Cache.RollbackDays,
	}
}

// ClientOptions returns the remote API client settings
func (c *Config) ClientOptions() github.Options {
	return github.Options{
		APIURL:            c.GitHub.APIURL,
		UploadsURL:        c.GitHub.UploadsURL,
		Token:             c.GitHub.Token,
		Timeout:           c.GitHub.Timeout,
		DownloadTimeout:   c.GitHub.DownloadTimeout,
		Retries:           c.GitHub.Retries,
		RequestsPerSecond: c.GitHub.RequestsPerSecond,
	}
}
