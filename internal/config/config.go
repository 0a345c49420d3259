package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"netaccess/internal/monitor"
	"netaccess/internal/paths"
	"netaccess/internal/portal"
	pkgerrors "netaccess/pkg/errors"
)

// Environment overrides.
const (
	EnvUsername = "NETACCESS_USERNAME"
	EnvPassword = "NETACCESS_PASSWORD"
	EnvBaseURL  = "NETACCESS_BASE_URL"
)

// FileName is the config file name inside the config directory.
const FileName = "config.yaml"

// Config is the user configuration.
type Config struct {
	BaseURL         string        `yaml:"base_url"`
	Username        string        `yaml:"username"`
	ApproveDuration string        `yaml:"approve_duration"`
	SuspendDuration time.Duration `yaml:"suspend_duration"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	DBPath          string        `yaml:"db_path"`

	Log     LogConfig     `yaml:"log"`
	Notify  NotifyConfig  `yaml:"notify"`
	History HistoryConfig `yaml:"history"`
	API     APIConfig     `yaml:"api"`

	// Password is only ever taken from the environment.
	Password string `yaml:"-"`
}

// LogConfig controls the log sink.
type LogConfig struct {
	Level string `yaml:"level"`
	// File is the log path. Empty selects the cache directory, "-" selects stderr.
	File string `yaml:"file"`
	JSON bool   `yaml:"json"`
}

// NotifyConfig lists shoutrrr service URLs.
type NotifyConfig struct {
	URLs []string `yaml:"urls"`
}

// HistoryConfig controls the action history database.
type HistoryConfig struct {
	Retention time.Duration `yaml:"retention"`
}

// APIConfig controls the local status API. An empty Listen disables it.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		BaseURL:         portal.DefaultBaseURL,
		ApproveDuration: portal.TierDay.String(),
		SuspendDuration: 5 * time.Minute,
		RequestTimeout:  5 * time.Second,
		Log: LogConfig{
			Level: "info",
		},
		History: HistoryConfig{
			Retention: 30 * 24 * time.Hour,
		},
	}
}

// DefaultPath returns ~/.config/netaccess/config.yaml.
func DefaultPath() (string, error) {
	dir, err := paths.ConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the config file at path, or the default path when empty. A
// missing file yields defaults. A .env file in the working directory is
// loaded first and environment overrides are applied last.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvUsername); ok && v != "" {
		c.Username = v
	}
	if v, ok := lookup(EnvPassword); ok && v != "" {
		c.Password = v
	}
	if v, ok := lookup(EnvBaseURL); ok && v != "" {
		c.BaseURL = v
	}
}

// Validate checks every field and reports the first problem.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url %q: must be an http(s) URL", c.BaseURL)
	}

	if _, err := c.Tier(); err != nil {
		return fmt.Errorf("approve_duration: %w", err)
	}

	if c.SuspendDuration < monitor.MinSuspend {
		return fmt.Errorf("suspend_duration %s (minimum %s): %w",
			c.SuspendDuration, monitor.MinSuspend, pkgerrors.ErrSuspendTooShort)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if c.History.Retention < 0 {
		return fmt.Errorf("history.retention must not be negative, got %s", c.History.Retention)
	}

	for i, raw := range c.Notify.URLs {
		if strings.TrimSpace(raw) == "" {
			return fmt.Errorf("notify.urls[%d]: empty url", i)
		}
	}

	return nil
}

// Tier returns the configured approval tier.
func (c *Config) Tier() (portal.DurationTier, error) {
	return portal.ParseDurationTier(c.ApproveDuration)
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	paths.ChownToRealUser(path)
	return nil
}
