package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultDatabasePath, cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, LockBackendSQLite, cfg.Lock.Backend)
	assert.Equal(t, 1000, cfg.Executor.MaxSteps)
	assert.Equal(t, 5*time.Second, cfg.Consumer.Interval)
	assert.Greater(t, cfg.Lock.TTL, cfg.Consumer.Interval)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playbookd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /var/lib/playbookd/state.db
log:
  level: debug
  format: json
consumer:
  interval: 2s
  batch_size: 25
lock:
  backend: etcd
  ttl: 10s
  owner: node-a
  etcd:
    endpoints: ["127.0.0.1:2379"]
executor:
  max_steps: 0
tracing:
  exporter: otlp
  endpoint: collector:4317
  sample_rate: 0.25
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/playbookd/state.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 2*time.Second, cfg.Consumer.Interval)
	assert.Equal(t, 25, cfg.Consumer.BatchSize)
	assert.Equal(t, "playbook-engine", cfg.Consumer.Name, "unset fields keep defaults")
	assert.Equal(t, LockBackendEtcd, cfg.Lock.Backend)
	assert.Equal(t, 10*time.Second, cfg.Lock.TTL)
	assert.Equal(t, "node-a", cfg.Lock.Owner)
	assert.Equal(t, []string{"127.0.0.1:2379"}, cfg.Lock.Etcd.Endpoints)
	assert.Equal(t, "playbookd", cfg.Lock.Etcd.Prefix)
	assert.Equal(t, 0, cfg.Executor.MaxSteps)
	assert.Equal(t, TracingExporterOTLP, cfg.Tracing.Exporter)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
	assert.Equal(t, 0.25, cfg.Tracing.SampleRate)
	assert.Equal(t, "playbookd", cfg.Tracing.ServiceName)
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	err := Parse([]byte("databse:\n  path: x.db\n"), Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "databse")
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	err := Parse([]byte("log: [unterminated"), Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "empty database path",
			mutate: func(c *Config) { c.Database.Path = "" },
			want:   "database.path is required",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Log.Level = "trace" },
			want:   "log.level must be one of",
		},
		{
			name:   "bad log format",
			mutate: func(c *Config) { c.Log.Format = "xml" },
			want:   "log.format must be one of",
		},
		{
			name:   "unknown lock backend",
			mutate: func(c *Config) { c.Lock.Backend = "zookeeper" },
			want:   "lock.backend must be one of",
		},
		{
			name:   "etcd without endpoints",
			mutate: func(c *Config) { c.Lock.Backend = LockBackendEtcd },
			want:   "lock.etcd.endpoints must be non-empty",
		},
		{
			name:   "blank etcd endpoint",
			mutate: func(c *Config) { c.Lock.Etcd.Endpoints = []string{""} },
			want:   "lock.etcd.endpoints[0] is required",
		},
		{
			name:   "ttl not above interval",
			mutate: func(c *Config) { c.Lock.TTL = c.Consumer.Interval },
			want:   "lock.ttl must be greater than consumer.interval",
		},
		{
			name:   "batch size zero",
			mutate: func(c *Config) { c.Consumer.BatchSize = 0 },
			want:   "consumer.batch_size must be at least 1",
		},
		{
			name:   "negative max steps",
			mutate: func(c *Config) { c.Executor.MaxSteps = -1 },
			want:   "executor.max_steps must be at least 0",
		},
		{
			name:   "empty consumer name",
			mutate: func(c *Config) { c.Consumer.Name = "" },
			want:   "consumer.name is required",
		},
		{
			name:   "unknown tracing exporter",
			mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" },
			want:   "tracing.exporter must be one of",
		},
		{
			name:   "sample rate above one",
			mutate: func(c *Config) { c.Tracing.SampleRate = 1.5 },
			want:   "tracing.sample_rate must be at most 1",
		},
		{
			name:   "otlp without endpoint",
			mutate: func(c *Config) { c.Tracing.Exporter = TracingExporterOTLP },
			want:   "tracing.endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Database.Path = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "database.path")
}
