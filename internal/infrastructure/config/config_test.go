package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/access.db"
  busy_timeout: 2s
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
    client_id: "access-test"
  qos: 1
adapters:
  tcp:
    connect_timeout: 2s
    read_timeout: 1500ms
    retry_delay: 100ms
    max_attempts: 5
    manufacturers: ["zkteco", "anviz", "suprema"]
  http:
    timeout: 3s
    insecure_skip_verify: true
  mqtt_bridge:
    enabled: true
    response_timeout: 8s
monitor:
  interval: 30s
  concurrency: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/access.db", cfg.Database.Path)
	assert.Equal(t, 2*time.Second, cfg.Database.BusyTimeout)
	assert.True(t, cfg.Database.WALMode, "unset keys keep their defaults")
	assert.Equal(t, "broker.local", cfg.MQTT.Broker.Host)
	assert.Equal(t, 1500*time.Millisecond, cfg.Adapters.TCP.ReadTimeout)
	assert.Equal(t, 5, cfg.Adapters.TCP.MaxAttempts)
	assert.Equal(t, []string{"zkteco", "anviz", "suprema"}, cfg.Adapters.TCP.Manufacturers)
	assert.True(t, cfg.Adapters.HTTP.InsecureSkipVerify)
	assert.Equal(t, 8*time.Second, cfg.Adapters.MQTTBridge.ResponseTimeout)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 4, cfg.Monitor.Concurrency)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig().Database.Path, cfg.Database.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	assert.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "adapters:\n  tcp:\n    read_timeout: soon\n"))
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeConfig(t, "database:\n  path: \"\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name: "mqtt enabled without host",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.Broker.Host = ""
			},
			wantErr: "mqtt.broker.host",
		},
		{
			name:    "bridge without mqtt",
			mutate:  func(c *Config) { c.Adapters.MQTTBridge.Enabled = true },
			wantErr: "adapters.mqtt_bridge requires mqtt.enabled",
		},
		{
			name:    "helper without bridge",
			mutate:  func(c *Config) { c.Adapters.MQTTBridge.Helper.Binary = "/opt/zk/bridge" },
			wantErr: "adapters.mqtt_bridge.helper requires adapters.mqtt_bridge.enabled",
		},
		{
			name: "negative helper restarts",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.Adapters.MQTTBridge.Enabled = true
				c.Adapters.MQTTBridge.Helper.MaxRestarts = -1
			},
			wantErr: "helper.max_restarts",
		},
		{
			name:    "influx enabled without bucket",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Bucket = "" },
			wantErr: "influxdb.bucket",
		},
		{
			name:    "negative retry delay",
			mutate:  func(c *Config) { c.Adapters.TCP.RetryDelay = -time.Second },
			wantErr: "adapters.tcp.retry_delay",
		},
		{
			name:    "zero monitor interval",
			mutate:  func(c *Config) { c.Monitor.Interval = 0 },
			wantErr: "monitor.interval",
		},
		{
			name:    "api port out of range",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name: "api port ignored when disabled",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Database.Path = ""
	cfg.MQTT.QoS = -1
	cfg.Monitor.Concurrency = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"database.path", "mqtt.qos", "monitor.concurrency"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_MQTT_ENABLED", "true")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_PORT", "8883")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_LOG_LEVEL", "debug")
	t.Setenv("GRAYLOGIC_API_PORT", "9999")

	require.NoError(t, applyEnvOverrides(cfg))

	assert.Equal(t, "/custom/path.db", cfg.Database.Path)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "mqtt.example.com", cfg.MQTT.Broker.Host)
	assert.Equal(t, 8883, cfg.MQTT.Broker.Port)
	assert.Equal(t, "testuser", cfg.MQTT.Auth.Username)
	assert.Equal(t, "testpass", cfg.MQTT.Auth.Password)
	assert.Equal(t, "secret-token", cfg.InfluxDB.Token)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 9999, cfg.API.Port)
}

func TestApplyEnvOverrides_BadValues(t *testing.T) {
	t.Setenv("GRAYLOGIC_MQTT_PORT", "not-a-port")
	assert.Error(t, applyEnvOverrides(defaultConfig()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	assert.NotEmpty(t, cfg.Database.Path)
	assert.Equal(t, 1883, cfg.MQTT.Broker.Port)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "graylogic_access", cfg.Metrics.Namespace)
	assert.Equal(t, "127.0.0.1:9470", cfg.API.Address())
	assert.Equal(t, 3, cfg.Adapters.TCP.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Adapters.TCP.RetryDelay)
	assert.Equal(t, 2, cfg.Adapters.HTTP.MaxAttempts)
	assert.Nil(t, cfg.Adapters.TCP.Manufacturers, "manufacturer defaults live in the adapters")
}
