package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "COM17", cfg.Serial.Port)
	assert.Equal(t, 19200, cfg.Serial.BaudRate)
	assert.Equal(t, 50*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.Equal(t, 10*time.Millisecond, cfg.Acquisition.PollInterval)
	assert.Equal(t, 10*time.Millisecond, cfg.Acquisition.MaxPollInterval)
	assert.Equal(t, 2.0, cfg.Acquisition.Backoff)
	assert.Equal(t, 100, cfg.Acquisition.BufferSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Sinks.JSON.Enabled)
	assert.Equal(t, "logs", cfg.Sinks.JSON.Dir)
	assert.Equal(t, "chiller.telemetry", cfg.Sinks.Kafka.Topic)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "COM17", cfg.Serial.Port)
}

func writeTemp(t *testing.T, pattern, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", pattern)
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	_, err = tmpfile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestLoad_ValidYAML(t *testing.T) {
	name := writeTemp(t, "test_config_*.yaml", `
serial:
  port: "/dev/ttyACM0"
  baud_rate: 9600
  read_timeout: 20ms

acquisition:
  poll_interval: 5ms
  max_poll_interval: 200ms
  backoff: 1.5
  buffer_size: 32

log:
  level: debug
  format: json

sinks:
  json:
    enabled: true
    dir: /var/log/chiller
    time_zone: UTC
  kafka:
    enabled: true
    brokers: ["k1:9092", "k2:9092"]
    topic: cw5200

mock:
  frame_rate: 1s
  error_rate: 0.5
`)

	cfg, err := Load(name)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, 20*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.Equal(t, 5*time.Millisecond, cfg.Acquisition.PollInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.Acquisition.MaxPollInterval)
	assert.Equal(t, 1.5, cfg.Acquisition.Backoff)
	assert.Equal(t, 32, cfg.Acquisition.BufferSize)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Sinks.JSON.Enabled)
	assert.Equal(t, "UTC", cfg.Sinks.JSON.TimeZone)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Sinks.Kafka.Brokers)
	assert.Equal(t, "cw5200", cfg.Sinks.Kafka.Topic)
	assert.Equal(t, time.Second, cfg.Mock.FrameRate)
	assert.Equal(t, 0.5, cfg.Mock.ErrorRate)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ValidTOML(t *testing.T) {
	name := writeTemp(t, "test_config_*.toml", `
[serial]
port = "/dev/ttyUSB1"
baud_rate = 115200

[acquisition]
poll_interval = "25ms"

[sinks.postgres]
enabled = true
dsn = "host=localhost user=chiller dbname=telemetry"
`)

	cfg, err := Load(name)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 25*time.Millisecond, cfg.Acquisition.PollInterval)
	assert.Equal(t, 25*time.Millisecond, cfg.Acquisition.MaxPollInterval) // raised to poll interval
	assert.True(t, cfg.Sinks.Postgres.Enabled)
	assert.Equal(t, "host=localhost user=chiller dbname=telemetry", cfg.Sinks.Postgres.DSN)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	name := writeTemp(t, "test_config_*.yaml", "invalid: yaml: content: [")

	cfg, err := Load(name)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_InvalidTOML(t *testing.T) {
	name := writeTemp(t, "test_config_*.toml", "[serial\nport = ")

	cfg, err := Load(name)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	name := writeTemp(t, "test_config_*.yaml", `
serial:
  port: "/dev/ttyACM0"
`)

	cfg, err := Load(name)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)

	// Should use defaults for missing fields
	assert.Equal(t, 19200, cfg.Serial.BaudRate)
	assert.Equal(t, 10*time.Millisecond, cfg.Acquisition.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Mock.FrameRate)
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Acquisition.PollInterval = 15 * time.Millisecond
	cfg.Acquisition.MaxPollInterval = time.Second

	name := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.Save(name))

	loaded, err := Load(name)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", loaded.Serial.Port)
	assert.Equal(t, 15*time.Millisecond, loaded.Acquisition.PollInterval)
	assert.Equal(t, time.Second, loaded.Acquisition.MaxPollInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero poll interval", func(c *Config) { c.Acquisition.PollInterval = 0 }},
		{"max below poll", func(c *Config) { c.Acquisition.MaxPollInterval = time.Millisecond }},
		{"backoff below one", func(c *Config) { c.Acquisition.Backoff = 0.5 }},
		{"error rate above one", func(c *Config) { c.Mock.ErrorRate = 1.5 }},
		{"json without dir", func(c *Config) { c.Sinks.JSON.Enabled = true; c.Sinks.JSON.Dir = "" }},
		{"kafka without brokers", func(c *Config) { c.Sinks.Kafka.Enabled = true }},
		{"postgres without dsn", func(c *Config) { c.Sinks.Postgres.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvPort, "/dev/ttyS3")
	t.Setenv(EnvBaudRate, "57600")
	t.Setenv(EnvPollInterval, "40ms")
	t.Setenv(EnvKafkaBrokers, "a:9092, b:9092,")
	t.Setenv(EnvPostgresDSN, "host=db")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv("does-not-exist.env"))

	assert.Equal(t, "/dev/ttyS3", cfg.Serial.Port)
	assert.Equal(t, 57600, cfg.Serial.BaudRate)
	assert.Equal(t, 40*time.Millisecond, cfg.Acquisition.PollInterval)
	assert.Equal(t, 40*time.Millisecond, cfg.Acquisition.MaxPollInterval)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Sinks.Kafka.Brokers)
	assert.True(t, cfg.Sinks.Kafka.Enabled)
	assert.True(t, cfg.Sinks.Postgres.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_DotenvFile(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvJSONDir, "")
	os.Unsetenv(EnvLogLevel)
	os.Unsetenv(EnvJSONDir)

	name := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(name, []byte("CHILLER_LOG_LEVEL=debug\nCHILLER_JSON_DIR=/tmp/chiller\n"), 0644))

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(name))
	t.Cleanup(func() {
		os.Unsetenv(EnvLogLevel)
		os.Unsetenv(EnvJSONDir)
	})

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/chiller", cfg.Sinks.JSON.Dir)
	assert.True(t, cfg.Sinks.JSON.Enabled)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	t.Setenv(EnvBaudRate, "fast")
	assert.Error(t, Default().ApplyEnv())

	t.Setenv(EnvBaudRate, "")
	t.Setenv(EnvPollInterval, "soon")
	assert.Error(t, Default().ApplyEnv())
}
