// Package config loads scribe settings from an optional YAML file and
// SCRIBE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix      = "SCRIBE_"
	DefaultPort    = 8760
	DefaultDataDir = "~/.scribe"

	maxConfigFileSize = 1 << 20
)

type Config struct {
	Port              int           `koanf:"port"`
	LogLevel          string        `koanf:"log_level"`
	DataDir           string        `koanf:"data_dir"`
	DatabaseURL       string        `koanf:"database_url"`
	NatsURL           string        `koanf:"nats_url"`
	NatsToken         string        `koanf:"nats_token"`
	RedisAddr         string        `koanf:"redis_addr"`
	PolicyFile        string        `koanf:"policy_file"`
	Debounce          time.Duration `koanf:"debounce"`
	APIToken          string        `koanf:"api_token"`
	BrowserURL        string        `koanf:"browser_url"`
	Headless          *bool         `koanf:"headless"`
	StorageQuotaBytes int64         `koanf:"storage_quota_bytes"`
}

// Load reads path (skipped when empty or missing), overlays the environment,
// fills defaults and validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	// SCRIBE_LOG_LEVEL -> log_level
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}

func (c *Config) applyDefaults() error {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	dir, err := ExpandHome(c.DataDir)
	if err != nil {
		return err
	}
	c.DataDir = dir
	if c.PolicyFile == "" {
		c.PolicyFile = filepath.Join(c.DataDir, "policy.yaml")
	}
	if c.PolicyFile, err = ExpandHome(c.PolicyFile); err != nil {
		return err
	}
	if c.Debounce == 0 {
		c.Debounce = time.Second
	}
	if c.Headless == nil {
		t := true
		c.Headless = &t
	}
	return nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	if c.Debounce < 0 {
		errs = append(errs, errors.New("debounce must not be negative"))
	}
	if c.StorageQuotaBytes < 0 {
		errs = append(errs, errors.New("storage_quota_bytes must not be negative"))
	}
	return errors.Join(errs...)
}

// SQLitePath is where the local database lives when no database_url is set.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "scribe.db")
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
