// Package config loads pipeline configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"progression-pipeline/internal/resilience"
	"progression-pipeline/internal/skilltree"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration shared by the api and worker binaries
type Config struct {
	DBPath           string                 `yaml:"db_path" validate:"required"`
	Port             int                    `yaml:"port" validate:"gte=1,lte=65535"`
	LogMode          string                 `yaml:"log_mode" validate:"omitempty,oneof=dev development prod production"`
	SkillTreePath    string                 `yaml:"skill_tree_path" validate:"required"`
	BaseSubmissionXP int64                  `yaml:"base_submission_xp" validate:"gte=0,lte=1000000"`
	CORSOrigins      []string               `yaml:"cors_origins"`
	Worker           WorkerConfig           `yaml:"worker"`
	Retry            RetryConfig            `yaml:"retry"`
	Breaker          BreakerConfig          `yaml:"breaker"`
	Mastery          skilltree.MasteryBands `yaml:"mastery"`
	Reviewer         ReviewerConfig         `yaml:"reviewer"`
	Redis            RedisConfig            `yaml:"redis"`
	Tracing          TracingConfig          `yaml:"tracing"`
}

// WorkerConfig controls the worker pool
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency" validate:"gte=1,lte=256"`
	LeaseDuration   time.Duration `yaml:"lease_duration" validate:"gt=0"`
	PollInterval    time.Duration `yaml:"poll_interval" validate:"gt=0"`
	ReviewerTimeout time.Duration `yaml:"reviewer_timeout" validate:"gt=0"`
	HealthPort      int           `yaml:"health_port" validate:"gte=0,lte=65535"`
}

// RetryConfig mirrors resilience.RetryPolicy
type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay" validate:"gt=0"`
	Factor      float64       `yaml:"factor" validate:"gte=1"`
	MaxDelay    time.Duration `yaml:"max_delay" validate:"gtefield=BaseDelay"`
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1,lte=20"`
}

// Policy converts the config into a retry policy
func (c RetryConfig) Policy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		BaseDelay:   c.BaseDelay,
		Factor:      c.Factor,
		MaxDelay:    c.MaxDelay,
		MaxAttempts: c.MaxAttempts,
	}
}

// BreakerConfig configures the reviewer circuit breaker
type BreakerConfig struct {
	Threshold int           `yaml:"threshold" validate:"gte=1"`
	CoolDown  time.Duration `yaml:"cool_down" validate:"gt=0"`
}

// ReviewerConfig configures the Gemini reviewer
type ReviewerConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model" validate:"required"`
}

// RedisConfig enables publishing pipeline events to a Redis channel
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel" validate:"required_with=Addr"`
}

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter" validate:"omitempty,oneof=stdout otlp"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// Default returns the built-in configuration
func Default() *Config {
	retry := resilience.DefaultRetryPolicy()
	return &Config{
		DBPath:           "pipeline.db",
		Port:             8080,
		LogMode:          "dev",
		SkillTreePath:    "configs/skilltree.yaml",
		BaseSubmissionXP: 100,
		CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
		Worker: WorkerConfig{
			Concurrency:     4,
			LeaseDuration:   2 * time.Minute,
			PollInterval:    time.Second,
			ReviewerTimeout: 30 * time.Second,
			HealthPort:      8081,
		},
		Retry: RetryConfig{
			BaseDelay:   retry.BaseDelay,
			Factor:      retry.Factor,
			MaxDelay:    retry.MaxDelay,
			MaxAttempts: retry.MaxAttempts,
		},
		Breaker: BreakerConfig{
			Threshold: 5,
			CoolDown:  30 * time.Second,
		},
		Mastery:  skilltree.DefaultMasteryBands(),
		Reviewer: ReviewerConfig{Model: "gemini-2.5-flash"},
		Redis:    RedisConfig{Channel: "pipeline-events"},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "progression-pipeline",
			SampleRatio: 1,
		},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Mastery.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Worker.LeaseDuration <= c.Worker.ReviewerTimeout {
		return fmt.Errorf("invalid config: worker lease_duration (%s) must exceed reviewer_timeout (%s)",
			c.Worker.LeaseDuration, c.Worker.ReviewerTimeout)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.DBPath = envString("PIPELINE_DB_PATH", c.DBPath)
	c.LogMode = envString("LOG_MODE", c.LogMode)
	c.SkillTreePath = envString("PIPELINE_SKILL_TREE", c.SkillTreePath)
	c.Reviewer.APIKey = envString("GEMINI_API_KEY", c.Reviewer.APIKey)
	c.Reviewer.Model = envString("PIPELINE_REVIEWER_MODEL", c.Reviewer.Model)
	c.Redis.Addr = envString("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Channel = envString("REDIS_CHANNEL", c.Redis.Channel)
	c.Tracing.Endpoint = envString("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)

	var err error
	if c.Port, err = envInt("PIPELINE_PORT", c.Port); err != nil {
		return err
	}
	if c.Worker.Concurrency, err = envInt("WORKER_CONCURRENCY", c.Worker.Concurrency); err != nil {
		return err
	}
	if c.Worker.HealthPort, err = envInt("WORKER_HEALTH_PORT", c.Worker.HealthPort); err != nil {
		return err
	}
	if c.Worker.ReviewerTimeout, err = envDuration("PIPELINE_REVIEWER_TIMEOUT", c.Worker.ReviewerTimeout); err != nil {
		return err
	}
	if c.Worker.LeaseDuration, err = envDuration("PIPELINE_LEASE_DURATION", c.Worker.LeaseDuration); err != nil {
		return err
	}
	if c.Tracing.Enabled, err = envBool("OTEL_ENABLED", c.Tracing.Enabled); err != nil {
		return err
	}
	return nil
}

func envString(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", name, err)
	}
	return i, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

func envBool(name string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}
