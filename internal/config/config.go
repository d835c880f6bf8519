package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	License LicenseConfig `yaml:"license" envconfig:"LICENSE"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
	Paths   PathsConfig   `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LicenseConfig contains the licensing subsystem configuration
type LicenseConfig struct {
	// TrialLimit is the number of transactions permitted before activation.
	TrialLimit int `yaml:"trial_limit" envconfig:"TRIAL_LIMIT" default:"99"`
	// SerialPrefix is the fixed literal leading every serial number.
	SerialPrefix string `yaml:"serial_prefix" envconfig:"SERIAL_PREFIX" default:"POS"`
	// ServerURL is the base URL of the authoritative licensing server.
	ServerURL string `yaml:"server_url" envconfig:"SERVER_URL" default:"https://license.possuite.io"`
	// RequestTimeout bounds every call to the licensing server.
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"10s"`
	// GracePeriod is how long an offline-accepted unknown serial stays valid.
	GracePeriod time.Duration `yaml:"grace_period" envconfig:"GRACE_PERIOD" default:"720h"`
	// ProbeTimeout bounds the motherboard identity probe subprocess.
	ProbeTimeout time.Duration `yaml:"probe_timeout" envconfig:"PROBE_TIMEOUT" default:"3s"`
	// ReconcileInterval is the period of the validation-queue drain job, in minutes.
	ReconcileInterval uint64 `yaml:"reconcile_interval_minutes" envconfig:"RECONCILE_INTERVAL_MINUTES" default:"60"`
	// ActivationRPS and ActivationBurst bound activation attempts per instance.
	ActivationRPS   float64 `yaml:"activation_rps" envconfig:"ACTIVATION_RPS" default:"1"`
	ActivationBurst int     `yaml:"activation_burst" envconfig:"ACTIVATION_BURST" default:"5"`
	// ResetToken gates the reset-trial support endpoint. Empty disables the endpoint.
	ResetToken string `yaml:"reset_token" envconfig:"RESET_TOKEN"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir      string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	DatabaseFile string `yaml:"database_file" envconfig:"DATABASE_FILE" default:"license.db"`
	LogsDir      string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// Load loads configuration from environment variables layered over an
// optional YAML file. Environment variables take precedence.
func Load() (*Config, error) {
	cfg := Default()

	if configFile := findConfigFile(); configFile != "" {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		*cfg = *fileCfg
	}

	if err := envconfig.Process("POSD", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := cfg.ensureDirectories(); err != nil {
		return nil, fmt.Errorf("path validation failed: %w", err)
	}

	return cfg, nil
}

// DatabasePath returns the resolved path of the embedded license database.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Paths.DatabaseFile) {
		return c.Paths.DatabaseFile
	}
	return filepath.Join(c.Paths.DataDir, c.Paths.DatabaseFile)
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}
	if c.License.TrialLimit <= 0 {
		return fmt.Errorf("trial limit must be positive, got %d", c.License.TrialLimit)
	}
	if c.License.SerialPrefix == "" {
		return fmt.Errorf("serial prefix must not be empty")
	}
	if c.License.RequestTimeout <= 0 {
		return fmt.Errorf("license request timeout must be positive")
	}
	if c.License.GracePeriod <= 0 {
		return fmt.Errorf("license grace period must be positive")
	}

	if c.Logging.Format != "json" {
		// Structured JSON is the only supported log format.
		c.Logging.Format = "json"
	}
	if c.Logging.Output != "both" && c.Logging.Output != "file" && c.Logging.Output != "stdout" {
		c.Logging.Output = "both"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/app.log"
	}

	return nil
}

func (c *Config) ensureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// findConfigFile returns the path to the config file, checking common locations
func findConfigFile() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
		},
		License: LicenseConfig{
			TrialLimit:        99,
			SerialPrefix:      "POS",
			ServerURL:         "https://license.possuite.io",
			RequestTimeout:    10 * time.Second,
			GracePeriod:       30 * 24 * time.Hour,
			ProbeTimeout:      3 * time.Second,
			ReconcileInterval: 60,
			ActivationRPS:     1,
			ActivationBurst:   5,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: "logs/app.log",
		},
		Paths: PathsConfig{
			DataDir:      "data",
			DatabaseFile: "license.db",
			LogsDir:      "logs",
		},
	}
}
