package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvPort         = "CHILLER_PORT"
	EnvBaudRate     = "CHILLER_BAUD_RATE"
	EnvPollInterval = "CHILLER_POLL_INTERVAL"
	EnvLogLevel     = "CHILLER_LOG_LEVEL"
	EnvJSONDir      = "CHILLER_JSON_DIR"
	EnvKafkaBrokers = "CHILLER_KAFKA_BROKERS" // comma separated
	EnvKafkaTopic   = "CHILLER_KAFKA_TOPIC"
	EnvPostgresDSN  = "CHILLER_POSTGRES_DSN"
)

// ApplyEnv loads the given dotenv files (missing files are skipped) and then
// applies CHILLER_* variables on top of c. Variables already present in the
// process environment win over dotenv values.
func (c *Config) ApplyEnv(dotenvFiles ...string) error {
	for _, f := range dotenvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	if v := os.Getenv(EnvPort); v != "" {
		c.Serial.Port = v
	}
	if v := os.Getenv(EnvBaudRate); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvBaudRate, err)
		}
		c.Serial.BaudRate = baud
	}
	if v := os.Getenv(EnvPollInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPollInterval, err)
		}
		c.Acquisition.PollInterval = d
		if c.Acquisition.MaxPollInterval < d {
			c.Acquisition.MaxPollInterval = d
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvJSONDir); v != "" {
		c.Sinks.JSON.Dir = v
		c.Sinks.JSON.Enabled = true
	}
	if v := os.Getenv(EnvKafkaBrokers); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		c.Sinks.Kafka.Brokers = brokers
		c.Sinks.Kafka.Enabled = len(brokers) > 0
	}
	if v := os.Getenv(EnvKafkaTopic); v != "" {
		c.Sinks.Kafka.Topic = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		c.Sinks.Postgres.DSN = v
		c.Sinks.Postgres.Enabled = true
	}

	return nil
}
