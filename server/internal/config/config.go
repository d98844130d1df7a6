package config

import (
	"fmt"
	"os"
	"time"

	"github.com/AstarVienna/irdb/internal/usagelog"
	"gopkg.in/yaml.v3"
)

// Config holds the server configuration
type Config struct {
	Addr     string `yaml:"addr"`
	Path     string `yaml:"path"`
	LogFile  string `yaml:"log_file"`
	Timezone string `yaml:"timezone"`
}

// Default returns the configuration used when no file or environment
// overrides are present
func Default() *Config {
	return &Config{
		Addr:     ":8080",
		Path:     "/api.php",
		LogFile:  usagelog.DefaultPath,
		Timezone: "UTC",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and then the environment (PORT, LOG_FILE, TZ_NAME)
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Addr = ":" + port
	}
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.Timezone = getEnv("TZ_NAME", cfg.Timezone)

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location resolves the time zone used for the time field of records
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
