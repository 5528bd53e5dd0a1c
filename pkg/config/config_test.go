package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 10, cfg.Logging.MaxSizeMB)
	assert.Equal(t, 10*time.Second, cfg.BLE.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.BLE.ConnectTimeout)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, "lbridge", cfg.MQTT.Prefix)
	assert.Equal(t, 1, cfg.MQTT.QoS)
	assert.Equal(t, uint32(5), cfg.Cloud.MaxFailures)
	assert.Empty(t, cfg.MQTT.Broker, "cloud mirror is off by default")
	assert.Empty(t, cfg.Database.Path, "persistence is off by default")
	assert.NoError(t, cfg.Validate())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
ble:
  address: AA:BB:CC:DD:EE:FF
  device_id: grill-1
  connect_timeout: 5s
mqtt:
  broker: tcp://localhost:1883
  qos: 0
database:
  path: /var/lib/lbridge/values.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.BLE.Address)
	assert.Equal(t, "grill-1", cfg.BLE.DeviceID)
	assert.Equal(t, 5*time.Second, cfg.BLE.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.BLE.ScanTimeout, "unset keys keep defaults")
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, 0, cfg.MQTT.QoS)
	assert.Equal(t, "lbridge", cfg.MQTT.ClientID)
	assert.Equal(t, "/var/lib/lbridge/values.db", cfg.Database.Path)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "mqtt:\n  broker: tcp://file:1883\n")
	t.Setenv("LBRIDGE_MQTT_BROKER", "tcp://env:1883")
	t.Setenv("LBRIDGE_MQTT_PASSWORD", "secret")
	t.Setenv("LBRIDGE_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://env:1883", cfg.MQTT.Broker)
	assert.Equal(t, "secret", cfg.MQTT.Password)
	assert.Equal(t, logrus.WarnLevel, cfg.Level())
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr string
	}{
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.yaml") },
			wantErr: "reading config file",
		},
		{
			name:    "malformed yaml",
			path:    func(t *testing.T) string { return writeConfig(t, "ble: [unterminated") },
			wantErr: "parsing config file",
		},
		{
			name:    "invalid values",
			path:    func(t *testing.T) string { return writeConfig(t, "mqtt:\n  qos: 3\n") },
			wantErr: "mqtt.qos must be 0, 1, or 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path(t))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:   "json output is valid",
			mutate: func(c *Config) { c.OutputFormat = "json" },
		},
		{
			name:    "unknown output format",
			mutate:  func(c *Config) { c.OutputFormat = "xml" },
			wantErr: "output_format must be table or json",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "chatty" },
			wantErr: `logging.level "chatty" is not a log level`,
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format must be text or json",
		},
		{
			name:    "negative rotation",
			mutate:  func(c *Config) { c.Logging.MaxBackups = -1 },
			wantErr: "logging rotation limits cannot be negative",
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.BLE.ConnectTimeout = 0 },
			wantErr: "ble.connect_timeout must be positive",
		},
		{
			name: "broker without client id",
			mutate: func(c *Config) {
				c.MQTT.Broker = "tcp://localhost:1883"
				c.MQTT.ClientID = ""
			},
			wantErr: "mqtt.client_id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected logrus.Level
	}{
		{name: "creates logger with debug level", level: "debug", expected: logrus.DebugLevel},
		{name: "creates logger with warn level", level: "warn", expected: logrus.WarnLevel},
		{name: "falls back to info", level: "bogus", expected: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Logging.Level = tt.level

			logger := cfg.NewLogger()

			assert.Equal(t, tt.expected, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestConfig_NewLoggerJSON(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"

	_, ok := cfg.NewLogger().Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestConfig_NewLoggerWritesFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.File = filepath.Join(t.TempDir(), "lbridge.log")

	logger := cfg.NewLogger()
	logger.WithField("device_id", "grill-1").Info("Bridge started")

	data, err := os.ReadFile(cfg.Logging.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Bridge started")
	assert.Contains(t, string(data), "device_id=grill-1")
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}

func TestConfig_NewLoggerTo(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"

	cfg.NewLoggerTo(&buf).Debug("Probe subscribed")

	assert.Contains(t, buf.String(), "Probe subscribed")
}
