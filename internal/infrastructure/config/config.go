package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Access.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Adapters AdaptersConfig `yaml:"adapters"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	API      APIConfig      `yaml:"api"`
}

// DatabaseConfig contains SQLite device registry settings.
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	// Enabled turns on the broker connection. The MQTT bridge adapter and
	// command events are only available when it is set.
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
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig controls the Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// AdaptersConfig holds per-adapter tuning. An empty manufacturer list keeps
// the adapter's built-in claim set.
type AdaptersConfig struct {
	TCP        TCPAdapterConfig        `yaml:"tcp"`
	HTTP       HTTPAdapterConfig       `yaml:"http"`
	MQTTBridge MQTTBridgeAdapterConfig `yaml:"mqtt_bridge"`
}

// TCPAdapterConfig tunes the byte-stream adapter.
type TCPAdapterConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
	Manufacturers  []string      `yaml:"manufacturers"`
}

// HTTPAdapterConfig tunes the HTTP-family adapter.
type HTTPAdapterConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	MaxAttempts        int           `yaml:"max_attempts"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Manufacturers      []string      `yaml:"manufacturers"`
}

// MQTTBridgeAdapterConfig tunes the MQTT bridge adapter. The adapter is only
// registered when both this and mqtt.enabled are set.
type MQTTBridgeAdapterConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	Manufacturers   []string      `yaml:"manufacturers"`

	// Helper is the vendor SDK bridge program supervised by the monitor
	// command. Leave Binary empty when the helper runs elsewhere.
	Helper HelperConfig `yaml:"helper"`
}

// HelperConfig describes the supervised SDK bridge helper.
type HelperConfig struct {
	Binary          string        `yaml:"binary"`
	Args            []string      `yaml:"args"`
	Env             []string      `yaml:"env"`
	RestartDelay    time.Duration `yaml:"restart_delay"`
	MaxRestartDelay time.Duration `yaml:"max_restart_delay"`
	MaxRestarts     int           `yaml:"max_restarts"`
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`
}

// MonitorConfig controls the periodic connectivity sweep.
type MonitorConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

// APIConfig contains the read-only ops HTTP server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  time.Duration `yaml:"read"`
	Write time.Duration `yaml:"write"`
	Idle  time.Duration `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains live sweep feed settings.
type WebSocketConfig struct {
	Path           string        `yaml:"path"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/graylogic-access.db",
			WALMode:     true,
			BusyTimeout: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-access",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: time.Second,
				MaxDelay:     time.Minute,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "graylogic",
			Bucket:        "access",
			BatchSize:     100,
			FlushInterval: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "graylogic_access",
		},
		Adapters: AdaptersConfig{
			TCP: TCPAdapterConfig{
				ConnectTimeout: 5 * time.Second,
				ReadTimeout:    3 * time.Second,
				RetryDelay:     500 * time.Millisecond,
				MaxAttempts:    3,
			},
			HTTP: HTTPAdapterConfig{
				Timeout:     5 * time.Second,
				RetryDelay:  250 * time.Millisecond,
				MaxAttempts: 2,
			},
			MQTTBridge: MQTTBridgeAdapterConfig{
				ResponseTimeout: 5 * time.Second,
				Helper: HelperConfig{
					RestartDelay:    time.Second,
					MaxRestartDelay: time.Minute,
					GracefulTimeout: 10 * time.Second,
				},
			},
		},
		Monitor: MonitorConfig{
			Interval:    time.Minute,
			Concurrency: 8,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9470,
			Timeouts: APITimeoutConfig{
				Read:  10 * time.Second,
				Write: 30 * time.Second,
				Idle:  60 * time.Second,
			},
			WebSocket: WebSocketConfig{
				Path:           "/ws",
				MaxMessageSize: 8192,
				PingInterval:   30 * time.Second,
				PongTimeout:    10 * time.Second,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GRAYLOGIC_MQTT_ENABLED: %w", err)
		}
		cfg.MQTT.Enabled = b
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GRAYLOGIC_MQTT_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GRAYLOGIC_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	return nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
	}
	if c.Adapters.MQTTBridge.Enabled && !c.MQTT.Enabled {
		errs = append(errs, "adapters.mqtt_bridge requires mqtt.enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"adapters.tcp.connect_timeout", c.Adapters.TCP.ConnectTimeout},
		{"adapters.tcp.read_timeout", c.Adapters.TCP.ReadTimeout},
		{"adapters.tcp.retry_delay", c.Adapters.TCP.RetryDelay},
		{"adapters.http.timeout", c.Adapters.HTTP.Timeout},
		{"adapters.http.retry_delay", c.Adapters.HTTP.RetryDelay},
		{"adapters.mqtt_bridge.response_timeout", c.Adapters.MQTTBridge.ResponseTimeout},
	}
	for _, f := range durations {
		if f.d < 0 {
			errs = append(errs, f.name+" must not be negative")
		}
	}
	if c.Adapters.MQTTBridge.Helper.Binary != "" && !c.Adapters.MQTTBridge.Enabled {
		errs = append(errs, "adapters.mqtt_bridge.helper requires adapters.mqtt_bridge.enabled")
	}
	if c.Adapters.MQTTBridge.Helper.MaxRestarts < 0 {
		errs = append(errs, "adapters.mqtt_bridge.helper.max_restarts must not be negative")
	}

	if c.Adapters.TCP.MaxAttempts < 0 || c.Adapters.HTTP.MaxAttempts < 0 {
		errs = append(errs, "adapters max_attempts must not be negative")
	}

	if c.Monitor.Interval <= 0 {
		errs = append(errs, "monitor.interval must be positive")
	}
	if c.Monitor.Concurrency < 1 {
		errs = append(errs, "monitor.concurrency must be at least 1")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Address returns the host:port the ops server listens on.
func (c *APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
