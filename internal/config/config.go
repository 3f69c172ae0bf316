// Package config loads frontdesk settings from a config file, a .env file
// and FRONTDESK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration consumed by the core.
type Config struct {
	Remote    RemoteConfig    `mapstructure:"remote"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	TimeClock TimeClockConfig `mapstructure:"timeclock"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Health    HealthConfig    `mapstructure:"health"`
	Cloud     CloudConfig     `mapstructure:"cloud"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// RemoteConfig describes the remote member directory.
type RemoteConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	TokenURL     string        `mapstructure:"token_url"`
	APIKey       string        `mapstructure:"api_key"`
	SiteID       string        `mapstructure:"site_id"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// HasCredentials reports whether at least one authentication strategy can
// be attempted.
func (r RemoteConfig) HasCredentials() bool {
	if r.BaseURL == "" {
		return false
	}
	return r.APIKey != "" || (r.ClientID != "" && r.ClientSecret != "")
}

type ScannerConfig struct {
	ExportPath string `mapstructure:"export_path"`
	Watch      bool   `mapstructure:"watch"`
}

type TimeClockConfig struct {
	Path     string `mapstructure:"path"`
	Discover bool   `mapstructure:"discover"`
}

type CacheConfig struct {
	Path string `mapstructure:"path"`
}

type HealthConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// CloudConfig points at the libSQL database that local writes are pushed to.
type CloudConfig struct {
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
	Schedule  string `mapstructure:"schedule"`
}

type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Validate checks values that would make a component misbehave rather than
// merely report DISCONNECTED.
func (c *Config) Validate() error {
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be positive (got %s)", c.Health.Interval)
	}
	if c.Health.ProbeTimeout <= 0 {
		return fmt.Errorf("health.probe_timeout must be positive (got %s)", c.Health.ProbeTimeout)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive (got %s)", c.Remote.Timeout)
	}
	if c.Remote.BaseURL != "" && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		return fmt.Errorf("remote.base_url must use HTTPS (got %q)", c.Remote.BaseURL)
	}
	if c.Cache.Path == "" {
		return fmt.Errorf("cache.path is required")
	}
	return nil
}

// Loader owns the viper instance so that discovered settings can be written
// back to the same file they were read from.
type Loader struct {
	mu          sync.Mutex
	v           *viper.Viper
	defaultFile string
}

// NewLoader reads configFile (or frontdesk.{yaml,toml,json} from the working
// directory or ~/.frontdesk when configFile is empty). A missing config file
// is not an error; a missing .env file is not either.
func NewLoader(configFile string) (*Loader, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	home := homeDir()
	v := viper.New()
	setDefaults(v, home)

	v.SetEnvPrefix("FRONTDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("frontdesk")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(home, ".frontdesk"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(configFile != "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	defaultFile := configFile
	if defaultFile == "" {
		defaultFile = filepath.Join(home, ".frontdesk", "frontdesk.yaml")
	}

	return &Loader{v: v, defaultFile: defaultFile}, nil
}

// Viper exposes the underlying instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load decodes and validates the current settings.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Cache.Path = expandHome(cfg.Cache.Path)
	cfg.Scanner.ExportPath = expandHome(cfg.Scanner.ExportPath)
	cfg.TimeClock.Path = expandHome(cfg.TimeClock.Path)
	cfg.Log.File = expandHome(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetTimeClockPath records a discovered time-clock database location and
// writes it to the config file so later runs skip discovery.
func (l *Loader) SetTimeClockPath(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.v.Set("timeclock.path", path)

	target := l.v.ConfigFileUsed()
	if target == "" {
		target = l.defaultFile
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := l.v.WriteConfigAs(target); err != nil {
		return fmt.Errorf("failed to persist timeclock.path: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token_url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.site_id", "")
	v.SetDefault("remote.client_id", "")
	v.SetDefault("remote.client_secret", "")
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("scanner.export_path", "")
	v.SetDefault("scanner.watch", true)

	v.SetDefault("timeclock.path", "")
	v.SetDefault("timeclock.discover", true)

	v.SetDefault("cache.path", filepath.Join(home, ".frontdesk", "cache.db"))

	v.SetDefault("health.interval", 30*time.Second)
	v.SetDefault("health.probe_timeout", 10*time.Second)

	v.SetDefault("cloud.url", "")
	v.SetDefault("cloud.auth_token", "")
	v.SetDefault("cloud.schedule", "@every 5m")

	v.SetDefault("dashboard.port", 8787)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func expandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
