// Package config provides configuration loading and management for semguard.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/c360studio/semstreams/pkg/retry"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Lock modes.
const (
	LockModeLocal = "local"
	LockModeNATS  = "nats"
)

// Config represents the complete semguard configuration
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Retry     RetryConfig     `yaml:"retry"`
	Lock      LockConfig      `yaml:"lock"`
	Journal   JournalConfig   `yaml:"journal"`
	Plan      PlanConfig      `yaml:"plan"`
	Inference InferenceConfig `yaml:"inference"`
}

// StoreConfig configures the remote graph store
type StoreConfig struct {
	// URL is the GraphDB / RDF4J server base URL
	URL      string `yaml:"url" validate:"required,url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Timeout bounds every remote call
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
	// RateLimit is the maximum requests per second (0 = unlimited)
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	// StagingPrefix prefixes staging repository ids
	StagingPrefix string `yaml:"staging_prefix" validate:"required"`
}

// RetryConfig bounds retries of transient remote failures
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" validate:"gte=1,lte=20"`
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gt=0"`
	MaxDelay     time.Duration `yaml:"max_delay" validate:"gtefield=InitialDelay"`
}

// LockConfig configures per-repository mutual exclusion
type LockConfig struct {
	// Mode is "local" (in-process) or "nats" (JetStream KV leases)
	Mode string `yaml:"mode" validate:"oneof=local nats"`
	// NATSURL is required in nats mode
	NATSURL  string        `yaml:"nats_url" validate:"required_if=Mode nats"`
	Bucket   string        `yaml:"bucket" validate:"required_if=Mode nats"`
	LeaseTTL time.Duration `yaml:"lease_ttl" validate:"gt=0"`
	// Wait blocks until the lock is free instead of failing fast
	Wait bool `yaml:"wait"`
}

// JournalConfig configures the run journal
type JournalConfig struct {
	// Path is the SQLite file (empty = journal disabled)
	Path string `yaml:"path"`
}

// PlanConfig configures plan validation
type PlanConfig struct {
	BackupSuffix string `yaml:"backup_suffix" validate:"required,startswith=."`
	// RequiredPrefixes overrides the default prefix bindings (prefix -> namespace)
	RequiredPrefixes map[string]string `yaml:"required_prefixes" validate:"omitempty,dive,keys,required,endkeys,url"`
	// Patterns are the default globs for batch validation
	Patterns []string      `yaml:"patterns"`
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// InferenceConfig configures reasoner management
type InferenceConfig struct {
	DefaultRuleset string        `yaml:"default_ruleset"`
	PollInterval   time.Duration `yaml:"poll_interval" validate:"gt=0"`
	PollTimeout    time.Duration `yaml:"poll_timeout" validate:"gtfield=PollInterval"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			URL:           "http://localhost:7200",
			Timeout:       30 * time.Second,
			StagingPrefix: "staging-",
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		Lock: LockConfig{
			Mode:     LockModeLocal,
			Bucket:   "semguard-locks",
			LeaseTTL: 10 * time.Minute,
		},
		Plan: PlanConfig{
			BackupSuffix: ".bak",
			Patterns:     []string{"plans/**/*.ttl"},
			Debounce:     500 * time.Millisecond,
		},
		Inference: InferenceConfig{
			DefaultRuleset: "rdfsplus-optimized",
			PollInterval:   500 * time.Millisecond,
			PollTimeout:    2 * time.Minute,
		},
	}
}

var validate = newValidator()

// newValidator reports fields by their yaml names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "Config.store.url"; drop the root type.
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		msgs = append(msgs, fmt.Sprintf("%s failed %q", field, fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// RetryPolicy converts the retry section to a semstreams retry config.
func (c *Config) RetryPolicy() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = c.Retry.MaxAttempts
	cfg.InitialDelay = c.Retry.InitialDelay
	cfg.MaxDelay = c.Retry.MaxDelay
	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file may carry store credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Store
	if other.Store.URL != "" {
		c.Store.URL = other.Store.URL
	}
	if other.Store.Username != "" {
		c.Store.Username = other.Store.Username
		c.Store.Password = other.Store.Password
	}
	if other.Store.Timeout != 0 {
		c.Store.Timeout = other.Store.Timeout
	}
	if other.Store.RateLimit != 0 {
		c.Store.RateLimit = other.Store.RateLimit
	}
	if other.Store.StagingPrefix != "" {
		c.Store.StagingPrefix = other.Store.StagingPrefix
	}

	// Retry
	if other.Retry.MaxAttempts != 0 {
		c.Retry.MaxAttempts = other.Retry.MaxAttempts
	}
	if other.Retry.InitialDelay != 0 {
		c.Retry.InitialDelay = other.Retry.InitialDelay
	}
	if other.Retry.MaxDelay != 0 {
		c.Retry.MaxDelay = other.Retry.MaxDelay
	}

	// Lock
	if other.Lock.Mode != "" {
		c.Lock.Mode = other.Lock.Mode
	}
	if other.Lock.NATSURL != "" {
		c.Lock.NATSURL = other.Lock.NATSURL
	}
	if other.Lock.Bucket != "" {
		c.Lock.Bucket = other.Lock.Bucket
	}
	if other.Lock.LeaseTTL != 0 {
		c.Lock.LeaseTTL = other.Lock.LeaseTTL
	}
	if other.Lock.Wait {
		c.Lock.Wait = true
	}

	// Journal
	if other.Journal.Path != "" {
		c.Journal.Path = other.Journal.Path
	}

	// Plan
	if other.Plan.BackupSuffix != "" {
		c.Plan.BackupSuffix = other.Plan.BackupSuffix
	}
	if len(other.Plan.RequiredPrefixes) > 0 {
		c.Plan.RequiredPrefixes = other.Plan.RequiredPrefixes
	}
	if len(other.Plan.Patterns) > 0 {
		c.Plan.Patterns = other.Plan.Patterns
	}
	if other.Plan.Debounce != 0 {
		c.Plan.Debounce = other.Plan.Debounce
	}

	// Inference
	if other.Inference.DefaultRuleset != "" {
		c.Inference.DefaultRuleset = other.Inference.DefaultRuleset
	}
	if other.Inference.PollInterval != 0 {
		c.Inference.PollInterval = other.Inference.PollInterval
	}
	if other.Inference.PollTimeout != 0 {
		c.Inference.PollTimeout = other.Inference.PollTimeout
	}
}
