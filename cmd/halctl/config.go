package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the halctl configuration file.
type Config struct {
	BaseURL string `yaml:"base_url"`
	Store   string `yaml:"store"`
	Path    string `yaml:"path"`
	Prefix  string `yaml:"prefix"`

	// DumpInterval adds a periodic dump on top of the auto dump.
	DumpInterval time.Duration     `yaml:"dump_interval"`
	Timeout      time.Duration     `yaml:"timeout"`
	RateLimit    float64           `yaml:"rate_limit"`
	Retries      int               `yaml:"retries"`
	Headers      map[string]string `yaml:"headers"`
	LogLevel     string            `yaml:"log_level"`
	Trace        bool              `yaml:"trace"`
	Redis        RedisConfig       `yaml:"redis"`
}

// RedisConfig selects the Redis server used by the redis store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

func defaultConfig() Config {
	return Config{
		Store:    "file",
		Path:     "hal-cache.json",
		Timeout:  30 * time.Second,
		Retries:  2,
		LogLevel: "info",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Namespace: "hal:",
		},
	}
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store {
	case "memory", "file", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown store %q (memory, file, sqlite, redis)", c.Store)
	}
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if (c.Store == "file" || c.Store == "sqlite") && c.Path == "" {
		return fmt.Errorf("store %s needs a path", c.Store)
	}
	return nil
}
