// Package config provides configuration management for the ledgerd server.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the ledgerd configuration
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Snapshots configuration
	Snapshots SnapshotConfig `yaml:"snapshots"`

	// Commands configuration
	Commands CommandConfig `yaml:"commands"`

	// Relay configuration for outbound event delivery
	Relay RelayConfig `yaml:"relay"`

	// Tracing configuration
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Address the HTTP server listens on
	Address string `yaml:"address"`

	// ReadTimeout for incoming requests
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout for outgoing responses
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout for graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	// Driver is the database driver (postgres, memory)
	Driver string `yaml:"driver"`

	// URL is the database connection string
	URL string `yaml:"url,omitempty"`

	// Schema is the database schema to use
	Schema string `yaml:"schema"`

	// MaxConnections for the connection pool
	MaxConnections int `yaml:"max_connections"`
}

// SnapshotConfig contains snapshot settings
type SnapshotConfig struct {
	// Enabled toggles snapshot creation
	Enabled bool `yaml:"enabled"`

	// Interval is the number of events between snapshots
	Interval int64 `yaml:"interval"`
}

// CommandConfig contains command execution settings
type CommandConfig struct {
	// RetryAttempts is the number of attempts for a command
	// that hits a sequence conflict
	RetryAttempts int `yaml:"retry_attempts"`
}

// RelayConfig contains outbound event delivery settings
type RelayConfig struct {
	// Kafka delivery settings
	Kafka KafkaConfig `yaml:"kafka"`

	// SNS delivery settings
	SNS SNSConfig `yaml:"sns"`

	// Webhook delivery settings
	Webhook WebhookConfig `yaml:"webhook"`
}

// KafkaConfig contains Kafka publisher settings
type KafkaConfig struct {
	// Enabled toggles Kafka delivery
	Enabled bool `yaml:"enabled"`

	// Brokers is the list of bootstrap brokers
	Brokers []string `yaml:"brokers,omitempty"`

	// Topic events are published to
	Topic string `yaml:"topic,omitempty"`
}

// SNSConfig contains AWS SNS publisher settings
type SNSConfig struct {
	// Enabled toggles SNS delivery
	Enabled bool `yaml:"enabled"`

	// TopicARN events are published to
	TopicARN string `yaml:"topic_arn,omitempty"`
}

// WebhookConfig contains webhook publisher settings
type WebhookConfig struct {
	// Enabled toggles webhook delivery
	Enabled bool `yaml:"enabled"`

	// URL events are POSTed to
	URL string `yaml:"url,omitempty"`
}

// TracingConfig contains tracing settings
type TracingConfig struct {
	// Enabled toggles span export
	Enabled bool `yaml:"enabled"`

	// ServiceName reported on spans
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Schema:         "ledgerkit",
			MaxConnections: 25,
		},
		Snapshots: SnapshotConfig{
			Enabled:  true,
			Interval: 50,
		},
		Commands: CommandConfig{
			RetryAttempts: 3,
		},
		Tracing: TracingConfig{
			ServiceName: "ledgerd",
		},
	}
}

// ConfigFileName is the default config file name
const ConfigFileName = "ledgerd.yaml"

// Load loads configuration from the specified directory
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save saves the configuration to the specified directory
func (c *Config) Save(dir string) error {
	path := filepath.Join(dir, ConfigFileName)
	return c.SaveFile(path)
}

// SaveFile saves the configuration to a specific file path
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Exists checks if a config file exists in the directory
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Reached root, config not found
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// Validate validates the configuration
func (c *Config) Validate() []string {
	var errors []string

	if c.Server.Address == "" {
		errors = append(errors, "server.address is required")
	}

	if c.Database.Driver == "" {
		errors = append(errors, "database.driver is required")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		errors = append(errors, "database.driver must be 'postgres' or 'memory'")
	}

	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		errors = append(errors, "database.url is required for postgres driver")
	}

	if c.Snapshots.Enabled && c.Snapshots.Interval <= 0 {
		errors = append(errors, "snapshots.interval must be positive when snapshots are enabled")
	}

	if c.Commands.RetryAttempts < 1 {
		errors = append(errors, "commands.retry_attempts must be at least 1")
	}

	if c.Relay.Kafka.Enabled && len(c.Relay.Kafka.Brokers) == 0 {
		errors = append(errors, "relay.kafka.brokers is required when kafka delivery is enabled")
	}

	if c.Relay.SNS.Enabled && c.Relay.SNS.TopicARN == "" {
		errors = append(errors, "relay.sns.topic_arn is required when sns delivery is enabled")
	}

	if c.Relay.Webhook.Enabled && c.Relay.Webhook.URL == "" {
		errors = append(errors, "relay.webhook.url is required when webhook delivery is enabled")
	}

	return errors
}

// GenerateYAML generates YAML content with comments
func GenerateYAML(cfg *Config) string {
	return `# Ledgerd Configuration File
# This file configures the ledgerd account ledger server

version: "1"

# HTTP server settings
server:
  # Listen address
  address: "` + cfg.Server.Address + `"
  read_timeout: 10s
  write_timeout: 30s
  shutdown_timeout: 15s

# Database configuration
database:
  # Driver: postgres or memory
  driver: "` + cfg.Database.Driver + `"

  # Connection URL (required for postgres)
  url: "${DATABASE_URL}"

  # Database schema (postgres only)
  schema: "` + cfg.Database.Schema + `"
  max_connections: 25

# Snapshot settings
snapshots:
  enabled: true
  # Events between snapshots
  interval: 50

# Command execution
commands:
  # Attempts before a sequence conflict is surfaced
  retry_attempts: 3

# Outbound event delivery
relay:
  kafka:
    enabled: false
    brokers: ["localhost:9092"]
    topic: "account-events"
  sns:
    enabled: false
    topic_arn: ""
  webhook:
    enabled: false
    url: ""

# Tracing
tracing:
  enabled: false
  service_name: "` + cfg.Tracing.ServiceName + `"
`
}
