// Package config loads daemon settings from an optional YAML file and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thiagokokada/gitcore/internal/logging"
	"github.com/thiagokokada/gitcore/internal/watch"
)

const (
	defaultListen    = "127.0.0.1:7420"
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// Environment overrides, applied after the file.
const (
	EnvListen    = "GITCORE_LISTEN"
	EnvGitPath   = "GITCORE_GIT_PATH"
	EnvLogLevel  = "GITCORE_LOG_LEVEL"
	EnvLogFormat = "GITCORE_LOG_FORMAT"
)

type Config struct {
	Listen  string        `yaml:"listen"`
	Git     GitConfig     `yaml:"git"`
	Log     LogConfig     `yaml:"log"`
	Watch   WatchConfig   `yaml:"watch"`
	Askpass AskpassConfig `yaml:"askpass"`
	Server  ServerConfig  `yaml:"server"`
}

type GitConfig struct {
	// Path overrides git detection when set.
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

type AskpassConfig struct {
	// Dir holds the ephemeral askpass helpers; empty means os.TempDir.
	Dir string `yaml:"dir"`
}

type ServerConfig struct {
	// AllowedOrigins lists extra Origin values accepted by the API and the
	// WebSocket endpoints. Same-host origins are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowedHosts lists Host header names accepted besides loopback ones,
	// for daemons reachable under another name.
	AllowedHosts []string `yaml:"allowed_hosts"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Listen: defaultListen,
		Log:    LogConfig{Level: defaultLogLevel, Format: defaultLogFormat},
		Watch:  WatchConfig{Debounce: watch.DefaultDelay},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvListen)); v != "" {
		cfg.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvGitPath)); v != "" {
		cfg.Git.Path = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Log.Format = v
	}
}

func (c *Config) Validate() error {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = defaultLogFormat
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative, got %s", c.Watch.Debounce)
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = watch.DefaultDelay
	}
	return nil
}
