package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable that overrides the file.
const EnvPrefix = "LBRIDGE_"

// Config holds application configuration
type Config struct {
	Logging      LoggingConfig  `yaml:"logging"`
	OutputFormat string         `yaml:"output_format" default:"table"`
	BLE          BLEConfig      `yaml:"ble"`
	MQTT         MQTTConfig     `yaml:"mqtt"`
	Cloud        CloudConfig    `yaml:"cloud"`
	Database     DatabaseConfig `yaml:"database"`
}

// LoggingConfig controls the logger built by NewLogger. When File is set, log lines
// also go to a size-rotated file.
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"text"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"10"`
	MaxBackups int    `yaml:"max_backups" default:"3"`
	MaxAgeDays int    `yaml:"max_age_days" default:"28"`
	Compress   bool   `yaml:"compress"`
}

// BLEConfig names the bridged peripheral and the radio timeouts.
type BLEConfig struct {
	Address        string        `yaml:"address"`
	Name           string        `yaml:"name"`
	DeviceID       string        `yaml:"device_id"`
	DSN            string        `yaml:"dsn"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
}

// MQTTConfig is the cloud mirror broker. An empty Broker disables the mirror.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id" default:"lbridge"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Prefix         string        `yaml:"prefix" default:"lbridge"`
	QoS            int           `yaml:"qos" default:"1"`
	PublishTimeout time.Duration `yaml:"publish_timeout" default:"5s"`
}

// CloudConfig tunes the push circuit breaker.
type CloudConfig struct {
	PushTimeout time.Duration `yaml:"push_timeout" default:"10s"`
	MaxFailures uint32        `yaml:"max_failures" default:"5"`
	OpenTimeout time.Duration `yaml:"open_timeout" default:"30s"`
}

// DatabaseConfig is the last-known-good value store. An empty Path disables it.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults, applies LBRIDGE_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

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

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]*string{
		"LOG_LEVEL":      &cfg.Logging.Level,
		"LOG_FILE":       &cfg.Logging.File,
		"DEVICE_ADDRESS": &cfg.BLE.Address,
		"DEVICE_ID":      &cfg.BLE.DeviceID,
		"MQTT_BROKER":    &cfg.MQTT.Broker,
		"MQTT_USERNAME":  &cfg.MQTT.Username,
		"MQTT_PASSWORD":  &cfg.MQTT.Password,
		"DB_PATH":        &cfg.Database.Path,
	}
	for name, field := range overrides {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*field = v
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Sprintf("logging.level %q is not a log level", c.Logging.Level))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, "logging.format must be text or json")
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		errs = append(errs, "logging rotation limits cannot be negative")
	}
	if c.OutputFormat != "table" && c.OutputFormat != "json" {
		errs = append(errs, "output_format must be table or json")
	}
	if c.BLE.ScanTimeout < 0 {
		errs = append(errs, "ble.scan_timeout cannot be negative")
	}
	if c.BLE.ConnectTimeout <= 0 {
		errs = append(errs, "ble.connect_timeout must be positive")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker != "" && c.MQTT.ClientID == "" {
		errs = append(errs, "mqtt.client_id is required when a broker is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Level returns the parsed log level, info if it does not parse.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance writing to stderr
func (c *Config) NewLogger() *logrus.Logger {
	return c.NewLoggerTo(os.Stderr)
}

// NewLoggerTo is NewLogger writing to w, and to the rotated log file if one is set.
func (c *Config) NewLoggerTo(w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(c.Level())

	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	if f := c.logFile(); f != nil {
		logger.SetOutput(io.MultiWriter(w, f))
	}
	return logger
}

func (c *Config) logFile() *lumberjack.Logger {
	if c.Logging.File == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   c.Logging.File,
		MaxSize:    c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}
