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
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
backend:
  url: https://roastery.example.com
  token: secret-token
  retry_interval: 30s
device:
  id: "AA:BB:CC:DD:EE:FF"
database_path: /var/lib/btanalyzer/measurements.db
debug: true
`))
	require.NoError(t, err)

	assert.Equal(t, "https://roastery.example.com", cfg.Backend.URL)
	assert.Equal(t, "secret-token", cfg.Backend.Token)
	assert.Equal(t, 30*time.Second, cfg.Backend.RetryInterval)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Device.ID)
	assert.Equal(t, "/var/lib/btanalyzer/measurements.db", cfg.DatabasePath)
	assert.True(t, cfg.Debug)

	// Omitted values keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "127.0.0.1:8090", cfg.API.Listen)
	assert.False(t, cfg.Device.Mock)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "backend: [not a mapping"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Backend.URL = "https://roastery.example.com"
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing backend url", func(c *Config) { c.Backend.URL = "" }, true},
		{"malformed backend url", func(c *Config) { c.Backend.URL = "not a url" }, true},
		{"zero timeout", func(c *Config) { c.Backend.Timeout = 0 }, true},
		{"zero retry interval", func(c *Config) { c.Backend.RetryInterval = 0 }, true},
		{"missing database path", func(c *Config) { c.DatabasePath = "" }, true},
		{"missing api listen", func(c *Config) { c.API.Listen = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
