// Package config loads the playbookd configuration file.
//
// The file is YAML. Every field has a default (see Default), so a missing or
// partial file is valid. Values are checked with struct tags after loading.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/playbookd/internal/engine"
	"github.com/roach88/playbookd/internal/stream"
)

// Lock backends.
const (
	LockBackendSQLite = "sqlite"
	LockBackendEtcd   = "etcd"
)

// DefaultDatabasePath is used when no database path is configured.
const DefaultDatabasePath = "playbookd.db"

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Lock     LockConfig     `yaml:"lock"`
	Executor ExecutorConfig `yaml:"executor"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// ConsumerConfig tunes the stream consumer and its polling source.
type ConsumerConfig struct {
	Name         string        `yaml:"name" validate:"required"`
	LockName     string        `yaml:"lock_name" validate:"required"`
	Interval     time.Duration `yaml:"interval" validate:"min=10ms"`
	BatchSize    int           `yaml:"batch_size" validate:"min=1,max=10000"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=1ms"`
}

// LockConfig selects and tunes the leader lock.
type LockConfig struct {
	Backend string        `yaml:"backend" validate:"oneof=sqlite etcd"`
	TTL     time.Duration `yaml:"ttl" validate:"min=1s"`
	// Owner identifies this process; empty means a random id per process.
	Owner string     `yaml:"owner"`
	Etcd  EtcdConfig `yaml:"etcd"`
}

// EtcdConfig is only consulted when Lock.Backend is "etcd".
type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints" validate:"dive,required"`
	DialTimeout time.Duration `yaml:"dial_timeout" validate:"min=0"`
	Prefix      string        `yaml:"prefix"`
}

// Tracing exporters.
const (
	TracingExporterNone   = "none"
	TracingExporterStdout = "stdout"
	TracingExporterOTLP   = "otlp"
)

// TracingConfig selects where step spans are exported.
type TracingConfig struct {
	Exporter    string  `yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name" validate:"required"`
	SampleRate  float64 `yaml:"sample_rate" validate:"min=0,max=1"`
}

// ExecutorConfig tunes the step executor. MaxSteps 0 disables the quota.
type ExecutorConfig struct {
	MaxSteps int `yaml:"max_steps" validate:"min=0"`
}

// Default returns a Config with every field set to its default.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: DefaultDatabasePath},
		Log:      LogConfig{Level: "info", Format: "text"},
		Consumer: ConsumerConfig{
			Name:         engine.DefaultConsumerName,
			LockName:     engine.DefaultLockName,
			Interval:     engine.DefaultInterval,
			BatchSize:    stream.DefaultBatchSize,
			PollInterval: stream.DefaultPollInterval,
		},
		Lock: LockConfig{
			Backend: LockBackendSQLite,
			TTL:     3 * engine.DefaultInterval,
			Etcd: EtcdConfig{
				DialTimeout: 5 * time.Second,
				Prefix:      "playbookd",
			},
		},
		Executor: ExecutorConfig{MaxSteps: engine.DefaultMaxSteps},
		Tracing: TracingConfig{
			Exporter:    TracingExporterNone,
			ServiceName: "playbookd",
			SampleRate:  1,
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg (which should already hold defaults) and
// validates it. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse: %w", err)
	}
	return cfg.Validate()
}

// Validate checks struct tags plus the cross-section rules tags cannot
// express.
func (c *Config) Validate() error {
	var msgs []string
	if err := validatorInstance().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validation error: %w", err)
		}
		for _, e := range verrs {
			msgs = append(msgs, formatValidationError(e))
		}
	}

	if c.Lock.Backend == LockBackendEtcd && len(c.Lock.Etcd.Endpoints) == 0 {
		msgs = append(msgs, "lock.etcd.endpoints must be non-empty when lock.backend is 'etcd'")
	}
	if c.Tracing.Exporter == TracingExporterOTLP && c.Tracing.Endpoint == "" {
		msgs = append(msgs, "tracing.endpoint is required when tracing.exporter is 'otlp'")
	}
	if c.Lock.TTL <= c.Consumer.Interval {
		msgs = append(msgs, fmt.Sprintf("lock.ttl must be greater than consumer.interval (got: %s <= %s)", c.Lock.TTL, c.Consumer.Interval))
	}

	if len(msgs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
	}
	return nil
}
