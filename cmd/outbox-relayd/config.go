package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageConfig selects and configures the store backend.
type StorageConfig struct {
	// Backend is "file" or "mysql".
	Backend string `yaml:"backend"`
	// Path is the outbox log location for the file backend.
	Path string `yaml:"path"`
	// DSN is the MySQL data source name for the mysql backend.
	DSN string `yaml:"dsn"`
}

// SinkConfig selects and configures the delivery target.
type SinkConfig struct {
	// Kind is "nop", "kafka", "nats" or "amqp".
	Kind string `yaml:"kind"`

	// Kafka settings.
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`

	// NATS settings.
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`

	// AMQP settings.
	AMQPURL    string `yaml:"amqp_url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// RelayConfig tunes the engine and its poll loop.
type RelayConfig struct {
	PollIntervalMS   int `yaml:"poll_interval_ms"`
	Concurrency      int `yaml:"concurrency"`
	MaxAttempts      int `yaml:"max_attempts"`
	BaseDelayMS      int `yaml:"base_delay_ms"`
	MaxDelayMS       int `yaml:"max_delay_ms"`
	DeliverTimeoutMS int `yaml:"deliver_timeout_ms"`
}

// CleanupConfig tunes the processed-event purge worker.
type CleanupConfig struct {
	Enabled        bool `yaml:"enabled"`
	IntervalMin    int  `yaml:"interval_minutes"`
	RetentionHours int  `yaml:"retention_hours"`
}

// Config is the daemon configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Sink    SinkConfig    `yaml:"sink"`
	Relay   RelayConfig   `yaml:"relay"`
	Cleanup CleanupConfig `yaml:"cleanup"`
}

// LoadConfig reads and validates the YAML config at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "outbox.log"
	}
	if c.Sink.Kind == "" {
		c.Sink.Kind = "nop"
	}
	if c.Relay.PollIntervalMS <= 0 {
		c.Relay.PollIntervalMS = 2000
	}
	if c.Relay.Concurrency <= 0 {
		c.Relay.Concurrency = 4
	}
	if c.Relay.MaxAttempts <= 0 {
		c.Relay.MaxAttempts = 3
	}
	if c.Relay.BaseDelayMS <= 0 {
		c.Relay.BaseDelayMS = 100
	}
	if c.Relay.MaxDelayMS <= 0 {
		c.Relay.MaxDelayMS = 60_000
	}
	if c.Cleanup.IntervalMin <= 0 {
		c.Cleanup.IntervalMin = 5
	}
	if c.Cleanup.RetentionHours <= 0 {
		c.Cleanup.RetentionHours = 24
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "file":
	case "mysql":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the mysql backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Sink.Kind {
	case "nop":
	case "kafka":
		if c.Sink.Brokers == "" {
			return fmt.Errorf("sink.brokers is required for the kafka sink")
		}
	case "nats":
		if c.Sink.NATSURL == "" {
			return fmt.Errorf("sink.nats_url is required for the nats sink")
		}
	case "amqp":
		if c.Sink.AMQPURL == "" {
			return fmt.Errorf("sink.amqp_url is required for the amqp sink")
		}
	default:
		return fmt.Errorf("unknown sink kind %q", c.Sink.Kind)
	}
	return nil
}

func (c *RelayConfig) pollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *RelayConfig) baseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

func (c *RelayConfig) maxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

func (c *RelayConfig) deliverTimeout() time.Duration {
	return time.Duration(c.DeliverTimeoutMS) * time.Millisecond
}

func (c *CleanupConfig) interval() time.Duration {
	return time.Duration(c.IntervalMin) * time.Minute
}

func (c *CleanupConfig) retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}
