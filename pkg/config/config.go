// Package config holds the blex configuration: logging, timeouts, output, and
// the discovery criteria handed to the explorer.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blex/internal/explorer"
)

// Output formats accepted by OutputFormat.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// CriteriaConfig is the YAML form of explorer.ScanCriteria.
type CriteriaConfig struct {
	Peripherals     []string `yaml:"peripherals,omitempty"`
	Services        []string `yaml:"services,omitempty"`
	Characteristics []string `yaml:"characteristics,omitempty"`
	// MinRSSI in dBm; zero disables the floor.
	MinRSSI         int  `yaml:"min_rssi,omitempty"`
	AllowUnnamed    bool `yaml:"allow_unnamed"`
	ConnectableOnly bool `yaml:"connectable_only"`
}

// Config holds application configuration
type Config struct {
	LogLevel         string         `yaml:"log_level" default:"panic"`
	ConnectTimeout   time.Duration  `yaml:"connect_timeout" default:"3s"`
	DiscoveryTimeout time.Duration  `yaml:"discovery_timeout"`
	ScanDuration     time.Duration  `yaml:"scan_duration"`
	CallbackQueue    int            `yaml:"callback_queue" default:"64"`
	OutputFormat     string         `yaml:"output_format" default:"table"`
	MonitorAddr      string         `yaml:"monitor_addr" default:":8080"`
	Criteria         CriteriaConfig `yaml:"criteria"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file. Keys missing from the file keep their
// defaults. An empty path returns DefaultConfig.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	defaults.SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown output formats, unknown log levels, and negative durations.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.OutputFormat {
	case FormatTable, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("output_format: unsupported format %q", c.OutputFormat))
	}
	for name, d := range map[string]time.Duration{
		"connect_timeout":   c.ConnectTimeout,
		"discovery_timeout": c.DiscoveryTimeout,
		"scan_duration":     c.ScanDuration,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative, got %s", name, d))
		}
	}
	if c.CallbackQueue < 0 {
		errs = append(errs, fmt.Errorf("callback_queue: must not be negative, got %d", c.CallbackQueue))
	}
	return errors.Join(errs...)
}

// Level returns the configured log level, falling back to PanicLevel.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.PanicLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// ScanCriteria builds the immutable discovery criteria.
func (c *Config) ScanCriteria() explorer.ScanCriteria {
	cc := c.Criteria
	opts := []explorer.CriteriaOption{
		explorer.WithUnnamed(cc.AllowUnnamed),
		explorer.WithConnectableOnly(cc.ConnectableOnly),
	}
	if len(cc.Peripherals) > 0 {
		opts = append(opts, explorer.WithPeripherals(cc.Peripherals...))
	}
	if len(cc.Services) > 0 {
		opts = append(opts, explorer.WithServices(cc.Services...))
	}
	if len(cc.Characteristics) > 0 {
		opts = append(opts, explorer.WithCharacteristics(cc.Characteristics...))
	}
	if cc.MinRSSI != 0 {
		opts = append(opts, explorer.WithMinRSSI(cc.MinRSSI))
	}
	return explorer.NewScanCriteria(opts...)
}

// ExplorerOptions maps the configuration onto explorer.Options. Radio and
// Delegate are left for the caller.
func (c *Config) ExplorerOptions(logger *logrus.Logger) explorer.Options {
	return explorer.Options{
		QueueSize:        c.CallbackQueue,
		Criteria:         c.ScanCriteria(),
		ConnectTimeout:   c.ConnectTimeout,
		DiscoveryTimeout: c.DiscoveryTimeout,
		ScanDuration:     c.ScanDuration,
		Logger:           logger,
	}
}
