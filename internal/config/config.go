package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// URLEnv overrides the extraction endpoint from the environment
const URLEnv = "EMAILPARSER_EXTRACTION_URL"

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config holds application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Store      StoreConfig      `yaml:"store"`
	Log        LogConfig        `yaml:"log"`
	Importer   ImporterConfig   `yaml:"importer"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

type ExtractionConfig struct {
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"` // ex: "30s"
	// RateLimit is requests per second, 0 disables limiting
	RateLimit float64 `yaml:"rateLimit"`
	Burst     int     `yaml:"burst"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ImporterConfig points at a folder of .eml/.msg files parsed at startup
type ImporterConfig struct {
	Path    string `yaml:"path"`
	Workers int    `yaml:"workers"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: "5001",
		},
		Extraction: ExtractionConfig{
			URL:     "http://localhost:8000/extract",
			Model:   "aggregated_email_model",
			Timeout: 30 * time.Second,
			Burst:   1,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
			Path:   filepath.Join(homeDir, ".emailparser", "emails.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Importer: ImporterConfig{
			Workers: 4,
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file keeps
// the defaults when allowMissing is set.
func Load(path string, allowMissing bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && allowMissing:
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if url := os.Getenv(URLEnv); url != "" {
		cfg.Extraction.URL = url
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.Extraction.URL == "" {
		return errors.New("extraction.url is required")
	}
	if c.Extraction.Timeout <= 0 {
		return fmt.Errorf("extraction.timeout must be positive, got %s", c.Extraction.Timeout)
	}
	if c.Extraction.RateLimit < 0 {
		return fmt.Errorf("extraction.rateLimit must not be negative, got %v", c.Extraction.RateLimit)
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Importer.Workers < 1 {
		c.Importer.Workers = 1
	}
	return nil
}

// Address returns the full server address
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// URL returns the full server URL
func (c *Config) URL() string {
	return "http://" + c.Address()
}
