package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full daemon configuration
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Device  DeviceConfig  `yaml:"device"`
	API     APIConfig     `yaml:"api"`

	// DatabasePath is the location of the local sync queue database
	DatabasePath string `yaml:"database_path"`

	Debug bool `yaml:"debug"`
}

// BackendConfig holds the connection parameters for the measurement backend
type BackendConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	Timeout       time.Duration `yaml:"timeout"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// DeviceConfig holds optional overrides pinning the analyzer to connect to
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Mock replaces the bluetooth transport with a synthetic analyzer
	Mock bool `yaml:"mock"`
}

// APIConfig holds the local REST API parameters
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a configuration populated with sensible defaults
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Timeout:       30 * time.Second,
			RetryInterval: time.Minute,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8090",
		},
		DatabasePath: "measurements.db",
	}
}

// Load reads and validates a configuration file, filling in defaults for
// omitted values
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url must be set")
	}
	if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.url is not a valid URL: %s", c.Backend.URL)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if c.Backend.RetryInterval <= 0 {
		return fmt.Errorf("backend.retry_interval must be positive")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must be set")
	}
	if c.API.Listen == "" {
		return fmt.Errorf("api.listen must be set")
	}

	return nil
}
