// Package config loads deps settings.
//
// Settings come from three layers, each overriding the previous one:
//
//  1. Built-in defaults ([Default]).
//  2. A TOML file, by default $XDG_CONFIG_HOME/smoothdeps/config.toml.
//  3. DEPS_* environment variables. A ".env" file in the working directory
//     is loaded first and never overrides variables already set.
//
// Durations are written as strings ("3s", "10m").
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/matzehuels/smoothdeps/pkg/cache"
	smerrors "github.com/matzehuels/smoothdeps/pkg/errors"
	"github.com/matzehuels/smoothdeps/pkg/health"
	"github.com/matzehuels/smoothdeps/pkg/httputil"
	"github.com/matzehuels/smoothdeps/pkg/installer"
)

// AppName names the XDG subdirectories.
const AppName = "smoothdeps"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DEPS_"

// =============================================================================
// Config
// =============================================================================

// Config is the complete set of tunables.
type Config struct {
	Paths   Paths   `toml:"paths"`
	Health  Health  `toml:"health"`
	Install Install `toml:"install"`
	Cache   Cache   `toml:"cache"`
	Stores  Stores  `toml:"stores"`
	S3      S3      `toml:"s3"`
	Daemon  Daemon  `toml:"daemon"`

	// File is the config file that was read, empty when none was.
	File string `toml:"-"`
}

// Paths locates on-disk state. Empty fields fall back to XDG directories.
type Paths struct {
	CacheDir string `toml:"cache_dir"`
	StateDir string `toml:"state_dir"`
	Registry string `toml:"registry"`
}

// Health tunes probing and classification.
type Health struct {
	FailureThreshold int           `toml:"failure_threshold"`
	DegradedLatency  time.Duration `toml:"degraded_latency"`
	ProbeTimeout     time.Duration `toml:"probe_timeout"`
	Concurrency      int           `toml:"concurrency"`
	Freshness        time.Duration `toml:"freshness"`
}

// Install tunes retries, failover and the package manager commands.
type Install struct {
	Attempts         int           `toml:"attempts"`
	BackoffBase      time.Duration `toml:"backoff_base"`
	BackoffFactor    float64       `toml:"backoff_factor"`
	MaxSourceRetries int           `toml:"max_source_retries"`
	CommandTimeout   time.Duration `toml:"command_timeout"`
	HTTPTimeout      time.Duration `toml:"http_timeout"`
	Pip              []string      `toml:"pip"`
	Npm              []string      `toml:"npm"`
	// Python is the interpreter version used to skip files whose
	// Requires-Python excludes it. Empty asks pip.
	Python           string        `toml:"python"`
}

// Cache bounds the artifact store and the registry metadata cache.
type Cache struct {
	MaxBytes    int64         `toml:"max_bytes"`
	MaxAge      time.Duration `toml:"max_age"`
	MetadataTTL time.Duration `toml:"metadata_ttl"`
}

// Stores selects optional shared backends. Empty URLs keep local files.
type Stores struct {
	RedisURL      string        `toml:"redis_url"`
	HealthTTL     time.Duration `toml:"health_ttl"`
	MongoURI      string        `toml:"mongo_uri"`
	MongoDatabase string        `toml:"mongo_database"`
}

// S3 holds credentials for s3:// cache exports.
type S3 struct {
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Daemon configures "deps serve".
type Daemon struct {
	Addr          string        `toml:"addr"`
	ProbeInterval time.Duration `toml:"probe_interval"`
	RateLimit     float64       `toml:"rate_limit"`
	RateBurst     int           `toml:"rate_burst"`
}

// Default returns the built-in settings.
func Default() *Config {
	policy := health.DefaultPolicy()
	backoff := httputil.DefaultBackoff()
	cmds := installer.DefaultCommands()
	return &Config{
		Health: Health{
			FailureThreshold: policy.FailureThreshold,
			DegradedLatency:  policy.DegradedLatency,
			ProbeTimeout:     policy.ProbeTimeout,
			Concurrency:      policy.Concurrency,
			Freshness:        policy.Freshness,
		},
		Install: Install{
			Attempts:         backoff.Attempts,
			BackoffBase:      backoff.Base,
			BackoffFactor:    backoff.Factor,
			MaxSourceRetries: installer.DefaultMaxSourceRetries,
			CommandTimeout:   installer.DefaultCommandTimeout,
			HTTPTimeout:      30 * time.Second,
			Pip:              cmds.Pip,
			Npm:              cmds.Npm,
		},
		Cache: Cache{
			MaxBytes:    5 << 30,
			MaxAge:      30 * 24 * time.Hour,
			MetadataTTL: 24 * time.Hour,
		},
		Stores: Stores{
			HealthTTL:     time.Hour,
			MongoDatabase: "smoothdeps",
		},
		S3: S3{
			Region: "us-east-1",
			UseSSL: true,
		},
		Daemon: Daemon{
			Addr:          "127.0.0.1:7878",
			ProbeInterval: time.Minute,
			RateLimit:     10,
			RateBurst:     20,
		},
	}
}

// =============================================================================
// Loading
// =============================================================================

// DefaultPath returns $XDG_CONFIG_HOME/smoothdeps/config.toml.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads settings. An empty path uses [DefaultPath], which may be
// missing; an explicit path must exist.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, smerrors.Wrap(smerrors.ErrCodeInvalidConfig, err, "read .env")
	}

	cfg := Default()
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	switch _, err := os.Stat(path); {
	case err == nil:
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	case errors.Is(err, fs.ErrNotExist):
		return nil, smerrors.New(smerrors.ErrCodeFileNotFound, "config file %s not found", path)
	default:
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return smerrors.Wrap(smerrors.ErrCodeInvalidConfig, err, "parse %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return smerrors.New(smerrors.ErrCodeInvalidConfig, "%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	c.File = path
	return nil
}

// applyEnv overlays DEPS_* variables.
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"CACHE_DIR":     &c.Paths.CacheDir,
		"STATE_DIR":     &c.Paths.StateDir,
		"REGISTRY":      &c.Paths.Registry,
		"REDIS_URL":     &c.Stores.RedisURL,
		"MONGO_URI":     &c.Stores.MongoURI,
		"MONGO_DB":      &c.Stores.MongoDatabase,
		"S3_ENDPOINT":   &c.S3.Endpoint,
		"S3_REGION":     &c.S3.Region,
		"S3_ACCESS_KEY": &c.S3.AccessKey,
		"S3_SECRET_KEY": &c.S3.SecretKey,
		"ADDR":          &c.Daemon.Addr,
		"PYTHON":        &c.Install.Python,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	cmds := map[string]*[]string{
		"PIP": &c.Install.Pip,
		"NPM": &c.Install.Npm,
	}
	for name, dst := range cmds {
		if v, ok := lookup(name); ok {
			*dst = strings.Fields(v)
		}
	}

	durations := map[string]*time.Duration{
		"PROBE_TIMEOUT":   &c.Health.ProbeTimeout,
		"FRESHNESS":       &c.Health.Freshness,
		"COMMAND_TIMEOUT": &c.Install.CommandTimeout,
		"HTTP_TIMEOUT":    &c.Install.HTTPTimeout,
	}
	for name, dst := range durations {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return smerrors.Wrap(smerrors.ErrCodeInvalidConfig, err, "%s%s", EnvPrefix, name)
		}
		*dst = d
	}

	ints := map[string]*int{
		"MAX_SOURCE_RETRIES": &c.Install.MaxSourceRetries,
		"PROBE_CONCURRENCY":  &c.Health.Concurrency,
	}
	for name, dst := range ints {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return smerrors.Wrap(smerrors.ErrCodeInvalidConfig, err, "%s%s", EnvPrefix, name)
		}
		*dst = n
	}

	if v, ok := lookup("S3_USE_SSL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return smerrors.Wrap(smerrors.ErrCodeInvalidConfig, err, "%sS3_USE_SSL", EnvPrefix)
		}
		c.S3.UseSSL = b
	}
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	switch {
	case c.Health.FailureThreshold < 1:
		return smerrors.New(smerrors.ErrCodeInvalidConfig, "health.failure_threshold must be at least 1")
	case c.Health.Concurrency < 1:
		return smerrors.New(smerrors.ErrCodeInvalidConfig, "health.concurrency must be at least 1")
	case c.Health.ProbeTimeout <= 0:
		return smerrors.New(smerrors.ErrCodeInvalidConfig, "health.probe_timeout must be positive")
	case c.Install.Attempts < 1:
		return smerrors.New(smerrors.ErrCodeInvalidConfig, "install.attempts must be at least 1")
	case c.Install.MaxSourceRetries < 1:
		return smerrors.New(smerrors.ErrCodeInvalidConfig, "install.max_source_retries must be at least 1")
	case c.Install.BackoffFactor < 1:
		return smerrors.New(smerrors.ErrCodeInvalidConfig, "install.backoff_factor must be at least 1")
	case len(c.Install.Pip) == 0 || len(c.Install.Npm) == 0:
		return smerrors.New(smerrors.ErrCodeInvalidConfig, "install.pip and install.npm must name a command")
	case c.Cache.MaxBytes < 0 || c.Cache.MaxAge < 0:
		return smerrors.New(smerrors.ErrCodeInvalidConfig, "cache bounds must not be negative")
	case c.Daemon.RateLimit < 0:
		return smerrors.New(smerrors.ErrCodeInvalidConfig, "daemon.rate_limit must not be negative")
	}
	return nil
}

// =============================================================================
// Component settings
// =============================================================================

// HealthPolicy returns the prober thresholds.
func (c *Config) HealthPolicy() health.Policy {
	return health.Policy{
		FailureThreshold: c.Health.FailureThreshold,
		DegradedLatency:  c.Health.DegradedLatency,
		ProbeTimeout:     c.Health.ProbeTimeout,
		Concurrency:      c.Health.Concurrency,
		Freshness:        c.Health.Freshness,
	}
}

// Backoff returns the per-source retry policy.
func (c *Config) Backoff() httputil.Backoff {
	return httputil.Backoff{
		Attempts: c.Install.Attempts,
		Base:     c.Install.BackoffBase,
		Factor:   c.Install.BackoffFactor,
	}
}

// Commands returns the package manager entry points.
func (c *Config) Commands() installer.Commands {
	return installer.Commands{Pip: c.Install.Pip, Npm: c.Install.Npm}
}

// PruneOptions returns the cache bounds.
func (c *Config) PruneOptions() cache.PruneOptions {
	return cache.PruneOptions{MaxBytes: c.Cache.MaxBytes, MaxAge: c.Cache.MaxAge}
}

// S3Config returns the connection settings for an s3://bucket/prefix URL.
func (c *Config) S3Config(url string) (cache.S3Config, error) {
	bucket, prefix, err := cache.ParseS3URL(url)
	if err != nil {
		return cache.S3Config{}, err
	}
	if c.S3.Endpoint == "" {
		return cache.S3Config{}, smerrors.New(smerrors.ErrCodeInvalidConfig, "s3.endpoint (or %sS3_ENDPOINT) is required for %s", EnvPrefix, url)
	}
	return cache.S3Config{
		Endpoint:  c.S3.Endpoint,
		Region:    c.S3.Region,
		AccessKey: c.S3.AccessKey,
		SecretKey: c.S3.SecretKey,
		Bucket:    bucket,
		Prefix:    prefix,
		UseSSL:    c.S3.UseSSL,
	}, nil
}
