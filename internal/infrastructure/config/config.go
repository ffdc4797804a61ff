package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for fluxquery.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Query     QueryConfig     `yaml:"query"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Relay     RelayConfig     `yaml:"relay"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// InfluxDBConfig contains InfluxDB connection settings shared by the query
// client and the write path.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// QueryConfig contains Flux query client settings.
type QueryConfig struct {
	// Timeout is the per-request timeout in seconds. 0 disables it.
	Timeout int `yaml:"timeout"`

	// Gzip requests gzip-compressed responses.
	Gzip bool `yaml:"gzip"`

	// Mode is "full" for annotated responses or "only-names" for bare headers.
	Mode string `yaml:"mode"`

	// MaxRawSize caps raw (unparsed) responses, in bytes.
	MaxRawSize int64 `yaml:"max_raw_size"`
}

// DatabaseConfig contains SQLite settings for the snapshot store.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// RelayConfig contains settings for publishing query records over MQTT.
type RelayConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Query       string `yaml:"query"`
	TopicPrefix string `yaml:"topic_prefix"`

	// Interval between runs in seconds. 0 runs the query once.
	Interval int  `yaml:"interval"`
	Retained bool `yaml:"retained"`
}

// APIConfig contains HTTP gateway settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FLUXQUERY_SECTION_KEY
// For example: FLUXQUERY_INFLUXDB_URL, FLUXQUERY_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		InfluxDB: InfluxDBConfig{
			Enabled:       true,
			URL:           "http://localhost:8086",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Query: QueryConfig{
			Timeout:    60,
			Gzip:       true,
			Mode:       "full",
			MaxRawSize: 10 << 20,
		},
		Database: DatabaseConfig{
			Path:        "./data/fluxquery.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fluxquery",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Relay: RelayConfig{
			TopicPrefix: "fluxquery",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 120,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/stream",
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FLUXQUERY_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// InfluxDB
	if v := os.Getenv("FLUXQUERY_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("FLUXQUERY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("FLUXQUERY_INFLUXDB_ORG"); v != "" {
		cfg.InfluxDB.Org = v
	}
	if v := os.Getenv("FLUXQUERY_INFLUXDB_BUCKET"); v != "" {
		cfg.InfluxDB.Bucket = v
	}

	// Database
	if v := os.Getenv("FLUXQUERY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FLUXQUERY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FLUXQUERY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FLUXQUERY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("FLUXQUERY_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("FLUXQUERY_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Logging
	if v := os.Getenv("FLUXQUERY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of all validation failures, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required")
		} else if u, err := url.Parse(c.InfluxDB.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "influxdb.url must be an absolute http(s) URL")
		}
	}

	// Query validation
	switch c.Query.Mode {
	case "", "full", "only-names":
	default:
		errs = append(errs, `query.mode must be "full" or "only-names"`)
	}
	if c.Query.Timeout < 0 {
		errs = append(errs, "query.timeout must not be negative")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the snapshot store is enabled")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Relay validation
	if c.Relay.Enabled {
		if !c.MQTT.Enabled {
			errs = append(errs, "relay requires mqtt.enabled")
		}
		if strings.TrimSpace(c.Relay.Query) == "" {
			errs = append(errs, "relay.query is required when the relay is enabled")
		}
		if c.Relay.TopicPrefix == "" {
			errs = append(errs, "relay.topic_prefix is required when the relay is enabled")
		}
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// QueryTimeout returns the query request timeout as a Duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Query.Timeout) * time.Second
}

// RelayInterval returns the relay period as a Duration.
func (c *Config) RelayInterval() time.Duration {
	return time.Duration(c.Relay.Interval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
