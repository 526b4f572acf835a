// Package config loads the agent's flat configuration schema (spec.md §6)
// from CLI flags, environment variables, a YAML file, and built-in defaults,
// using spf13/viper the way the teacher-adjacent dittofs repo's
// pkg/config/config.go does: a single Load entrypoint that layers a viper
// instance, unmarshals into a typed struct via mapstructure decode hooks,
// then runs aggregate validation.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the flat configuration schema of spec.md §6.
type Config struct {
	MonitoringPaths []string `mapstructure:"monitoring_paths"`
	FileFilter      string   `mapstructure:"file_filter"`

	StabilizationPeriodSeconds int `mapstructure:"stabilization_period_seconds"`
	MaxConcurrency             int `mapstructure:"max_concurrency"`

	BatchMaxBytes                  int `mapstructure:"batch_max_bytes"`
	BatchMaxRecords                int `mapstructure:"batch_max_records"`
	BatchProcessingIntervalSeconds int `mapstructure:"batch_processing_interval_seconds"`
	BatchIdleTimeoutSeconds        int `mapstructure:"batch_idle_timeout_seconds"`
	BatchQueueCapacity             int `mapstructure:"batch_queue_capacity"`

	RetryMaxAttempts    int     `mapstructure:"retry_max_attempts"`
	RetryInitialSeconds float64 `mapstructure:"retry_initial_seconds"`
	RetryMaxSeconds     float64 `mapstructure:"retry_max_seconds"`
	RetryMultiplier     float64 `mapstructure:"retry_multiplier"`

	UploadConnectionString string `mapstructure:"upload_connection_string"`
	UploadDeviceId         string `mapstructure:"upload_device_id"`
	UploadRoot             string `mapstructure:"upload_root"`

	DeadLetterPath        string `mapstructure:"dead_letter_path"`
	ShutdownBudgetSeconds int    `mapstructure:"shutdown_budget_seconds"`

	MetricsPort int    `mapstructure:"metrics_port"`
	HealthAddr  string `mapstructure:"health_addr"`
}

// StabilizationPeriod returns StabilizationPeriodSeconds as a time.Duration.
func (c *Config) StabilizationPeriod() time.Duration {
	return time.Duration(c.StabilizationPeriodSeconds) * time.Second
}

// BatchProcessingInterval returns BatchProcessingIntervalSeconds as a time.Duration.
func (c *Config) BatchProcessingInterval() time.Duration {
	return time.Duration(c.BatchProcessingIntervalSeconds) * time.Second
}

// BatchIdleTimeout returns BatchIdleTimeoutSeconds as a time.Duration.
func (c *Config) BatchIdleTimeout() time.Duration {
	return time.Duration(c.BatchIdleTimeoutSeconds) * time.Second
}

// ShutdownBudget returns ShutdownBudgetSeconds as a time.Duration.
func (c *Config) ShutdownBudget() time.Duration {
	return time.Duration(c.ShutdownBudgetSeconds) * time.Second
}

// RetryInitialInterval returns RetryInitialSeconds as a time.Duration.
func (c *Config) RetryInitialInterval() time.Duration {
	return time.Duration(c.RetryInitialSeconds * float64(time.Second))
}

// RetryMaxInterval returns RetryMaxSeconds as a time.Duration.
func (c *Config) RetryMaxInterval() time.Duration {
	return time.Duration(c.RetryMaxSeconds * float64(time.Second))
}

// LoadDefault returns the documented defaults of spec.md §6, used as the
// base Load overlays and directly by tests that don't need file/env/flag
// layering.
func LoadDefault() *Config {
	return &Config{
		FileFilter:                      "*.jsonl",
		StabilizationPeriodSeconds:      5,
		MaxConcurrency:                  runtime.NumCPU(),
		BatchMaxBytes:                   1048576,
		BatchMaxRecords:                 10000,
		BatchProcessingIntervalSeconds:  30,
		BatchIdleTimeoutSeconds:         10,
		BatchQueueCapacity:              100000,
		RetryMaxAttempts:                5,
		RetryInitialSeconds:             1.0,
		RetryMaxSeconds:                 30.0,
		RetryMultiplier:                 2.0,
		UploadRoot:                      "logs",
		ShutdownBudgetSeconds:           30,
		MetricsPort:                     9090,
		HealthAddr:                      ":8080",
	}
}

// Load loads configuration from the given YAML file (if non-empty and
// present), environment variables prefixed FIELDLOG_ (with "." replaced by
// "_"), and flags bound via flags, layered over LoadDefault's values, in
// that increasing order of precedence: defaults < file < env < flags.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, LoadDefault())

	v.SetEnvPrefix("FIELDLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return nil, fmt.Errorf("config: read %s: %w", configPath, err)
				}
			}
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.StringToSliceHookFunc(","))); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults seeds v with every field of d under its mapstructure key, so
// viper's precedence layering (file/env/flag override default) applies per
// field rather than requiring a full struct overwrite.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("monitoring_paths", d.MonitoringPaths)
	v.SetDefault("file_filter", d.FileFilter)
	v.SetDefault("stabilization_period_seconds", d.StabilizationPeriodSeconds)
	v.SetDefault("max_concurrency", d.MaxConcurrency)
	v.SetDefault("batch_max_bytes", d.BatchMaxBytes)
	v.SetDefault("batch_max_records", d.BatchMaxRecords)
	v.SetDefault("batch_processing_interval_seconds", d.BatchProcessingIntervalSeconds)
	v.SetDefault("batch_idle_timeout_seconds", d.BatchIdleTimeoutSeconds)
	v.SetDefault("batch_queue_capacity", d.BatchQueueCapacity)
	v.SetDefault("retry_max_attempts", d.RetryMaxAttempts)
	v.SetDefault("retry_initial_seconds", d.RetryInitialSeconds)
	v.SetDefault("retry_max_seconds", d.RetryMaxSeconds)
	v.SetDefault("retry_multiplier", d.RetryMultiplier)
	v.SetDefault("upload_connection_string", d.UploadConnectionString)
	v.SetDefault("upload_device_id", d.UploadDeviceId)
	v.SetDefault("upload_root", d.UploadRoot)
	v.SetDefault("dead_letter_path", d.DeadLetterPath)
	v.SetDefault("shutdown_budget_seconds", d.ShutdownBudgetSeconds)
	v.SetDefault("metrics_port", d.MetricsPort)
	v.SetDefault("health_addr", d.HealthAddr)
}

// Validate checks required fields and numeric bounds, accumulating every
// violation into a single aggregate error instead of failing on the first
// (a generalization of the gurre-ddb-pitr config package's Validate style).
func Validate(c *Config) error {
	var errs []string

	if len(c.MonitoringPaths) == 0 {
		errs = append(errs, "MonitoringPaths must contain at least one path")
	}
	if c.UploadDeviceId == "" {
		errs = append(errs, "UploadDeviceId must be set")
	}
	if c.FileFilter == "" {
		errs = append(errs, "FileFilter must not be empty")
	}
	if c.StabilizationPeriodSeconds <= 0 {
		errs = append(errs, "StabilizationPeriodSeconds must be positive")
	}
	if c.MaxConcurrency <= 0 {
		errs = append(errs, "MaxConcurrency must be positive")
	}
	if c.BatchMaxBytes <= 0 {
		errs = append(errs, "BatchMaxBytes must be positive")
	}
	if c.BatchMaxRecords <= 0 {
		errs = append(errs, "BatchMaxRecords must be positive")
	}
	if c.BatchProcessingIntervalSeconds <= 0 {
		errs = append(errs, "BatchProcessingIntervalSeconds must be positive")
	}
	if c.BatchIdleTimeoutSeconds <= 0 {
		errs = append(errs, "BatchIdleTimeoutSeconds must be positive")
	}
	if c.BatchQueueCapacity <= 0 {
		errs = append(errs, "BatchQueueCapacity must be positive")
	}
	if c.RetryMaxAttempts <= 0 {
		errs = append(errs, "RetryMaxAttempts must be positive")
	}
	if c.RetryInitialSeconds <= 0 {
		errs = append(errs, "RetryInitialSeconds must be positive")
	}
	if c.RetryMaxSeconds < c.RetryInitialSeconds {
		errs = append(errs, "RetryMaxSeconds must be >= RetryInitialSeconds")
	}
	if c.RetryMultiplier <= 1.0 {
		errs = append(errs, "RetryMultiplier must be greater than 1.0")
	}
	if c.UploadRoot == "" {
		errs = append(errs, "UploadRoot must not be empty")
	}
	if c.DeadLetterPath == "" {
		errs = append(errs, "DeadLetterPath must be set")
	}
	if c.ShutdownBudgetSeconds <= 0 {
		errs = append(errs, "ShutdownBudgetSeconds must be positive")
	}

	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Violations: errs}
}

// ValidationError aggregates every schema violation found by Validate.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %d validation error(s): %s", len(e.Violations), strings.Join(e.Violations, "; "))
}
