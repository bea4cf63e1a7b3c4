package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial" toml:"serial"`
	Acquisition AcquisitionConfig `yaml:"acquisition" toml:"acquisition"`
	Log         LogConfig         `yaml:"log" toml:"log"`
	Sinks       SinksConfig       `yaml:"sinks" toml:"sinks"`
	Mock        MockConfig        `yaml:"mock" toml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port        string        `yaml:"port" toml:"port"`
	BaudRate    int           `yaml:"baud_rate" toml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout" toml:"read_timeout"`
}

// AcquisitionConfig controls the polling loop.
type AcquisitionConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	MaxPollInterval time.Duration `yaml:"max_poll_interval" toml:"max_poll_interval"` // > PollInterval enables idle backoff
	Backoff         float64       `yaml:"backoff" toml:"backoff"`                     // idle interval multiplier
	BufferSize      int           `yaml:"buffer_size" toml:"buffer_size"`             // per-sink delivery queue
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "console" or "json"
}

// SinksConfig selects where readings go. The log sink is always on.
type SinksConfig struct {
	JSON     JSONSinkConfig     `yaml:"json" toml:"json"`
	Kafka    KafkaSinkConfig    `yaml:"kafka" toml:"kafka"`
	Postgres PostgresSinkConfig `yaml:"postgres" toml:"postgres"`
}

// JSONSinkConfig writes one JSON file per reading.
type JSONSinkConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Dir      string `yaml:"dir" toml:"dir"`
	TimeZone string `yaml:"time_zone" toml:"time_zone"`
}

// KafkaSinkConfig publishes events to a topic.
type KafkaSinkConfig struct {
	Enabled bool     `yaml:"enabled" toml:"enabled"`
	Brokers []string `yaml:"brokers" toml:"brokers"`
	Topic   string   `yaml:"topic" toml:"topic"`
}

// PostgresSinkConfig stores events in a database.
type PostgresSinkConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	DSN     string `yaml:"dsn" toml:"dsn"`
}

// MockConfig contains simulated controller configuration.
type MockConfig struct {
	FrameRate time.Duration `yaml:"frame_rate" toml:"frame_rate"` // time between frames
	ErrorRate float64       `yaml:"error_rate" toml:"error_rate"` // fraction of corrupted packets (0..1)
	Setpoint  float64       `yaml:"setpoint" toml:"setpoint"`     // reservoir setpoint (°C)
	Seed      int64         `yaml:"seed" toml:"seed"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:        "COM17", // "/dev/ttyACM0" on Linux/Mac
			BaudRate:    19200,
			ReadTimeout: 50 * time.Millisecond,
		},
		Acquisition: AcquisitionConfig{
			PollInterval:    10 * time.Millisecond,
			MaxPollInterval: 10 * time.Millisecond, // no backoff by default
			Backoff:         2.0,
			BufferSize:      100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Sinks: SinksConfig{
			JSON: JSONSinkConfig{
				Enabled:  false,
				Dir:      "logs",
				TimeZone: "America/Detroit",
			},
			Kafka: KafkaSinkConfig{
				Topic: "chiller.telemetry",
			},
		},
		Mock: MockConfig{
			FrameRate: 500 * time.Millisecond,
			ErrorRate: 0.05,
			Setpoint:  20.0,
			Seed:      1,
		},
	}
}

// Load loads configuration from a YAML or TOML file (chosen by extension).
// If the file doesn't exist or fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if isTOML(filename) {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML or TOML file (chosen by extension).
func (c *Config) Save(filename string) error {
	var (
		data []byte
		err  error
	)
	if isTOML(filename) {
		var sb strings.Builder
		err = toml.NewEncoder(&sb).Encode(c)
		data = []byte(sb.String())
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks settings the defaults cannot repair.
func (c *Config) Validate() error {
	if c.Acquisition.PollInterval <= 0 {
		return fmt.Errorf("acquisition.poll_interval must be > 0")
	}
	if c.Acquisition.MaxPollInterval < c.Acquisition.PollInterval {
		return fmt.Errorf("acquisition.max_poll_interval must be >= poll_interval")
	}
	if c.Acquisition.Backoff < 1 {
		return fmt.Errorf("acquisition.backoff must be >= 1")
	}
	if c.Mock.ErrorRate < 0 || c.Mock.ErrorRate > 1 {
		return fmt.Errorf("mock.error_rate must be within [0, 1]")
	}
	if c.Sinks.JSON.Enabled && c.Sinks.JSON.Dir == "" {
		return fmt.Errorf("sinks.json.dir is required when the JSON sink is enabled")
	}
	if c.Sinks.Kafka.Enabled && (len(c.Sinks.Kafka.Brokers) == 0 || c.Sinks.Kafka.Topic == "") {
		return fmt.Errorf("sinks.kafka needs brokers and a topic when enabled")
	}
	if c.Sinks.Postgres.Enabled && c.Sinks.Postgres.DSN == "" {
		return fmt.Errorf("sinks.postgres.dsn is required when the Postgres sink is enabled")
	}
	return nil
}

func isTOML(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".toml")
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = def.Serial.ReadTimeout
	}

	if c.Acquisition.PollInterval == 0 {
		c.Acquisition.PollInterval = def.Acquisition.PollInterval
	}
	if c.Acquisition.MaxPollInterval < c.Acquisition.PollInterval {
		c.Acquisition.MaxPollInterval = c.Acquisition.PollInterval
	}
	if c.Acquisition.Backoff == 0 {
		c.Acquisition.Backoff = def.Acquisition.Backoff
	}
	if c.Acquisition.BufferSize == 0 {
		c.Acquisition.BufferSize = def.Acquisition.BufferSize
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}

	if c.Sinks.JSON.Dir == "" {
		c.Sinks.JSON.Dir = def.Sinks.JSON.Dir
	}
	if c.Sinks.Kafka.Topic == "" {
		c.Sinks.Kafka.Topic = def.Sinks.Kafka.Topic
	}

	if c.Mock.FrameRate == 0 {
		c.Mock.FrameRate = def.Mock.FrameRate
	}
	if c.Mock.Setpoint == 0 {
		c.Mock.Setpoint = def.Mock.Setpoint
	}
}
