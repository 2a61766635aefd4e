// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Preference backends understood by preference.Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Browser allocators understood by browser.NewManager.
const (
	AllocatorExec   = "exec"
	AllocatorRemote = "remote"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	Selectors  SelectorsConfig  `mapstructure:"selectors" yaml:"selectors"`
	Preference PreferenceConfig `mapstructure:"preference" yaml:"preference"`
	Control    ControlConfig    `mapstructure:"control" yaml:"control"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls how the browser is reached and which tabs get an agent.
type BrowserConfig struct {
	Allocator string   `mapstructure:"allocator" yaml:"allocator"`
	RemoteURL string   `mapstructure:"remote_url" yaml:"remote_url"`
	Headless  bool     `mapstructure:"headless" yaml:"headless"`
	Args      []string `mapstructure:"args" yaml:"args"`
	Hosts     []string `mapstructure:"hosts" yaml:"hosts"`
	StartURLs []string `mapstructure:"start_urls" yaml:"start_urls"`
}

// AgentConfig tunes each per-tab agent instance.
type AgentConfig struct {
	DebounceWindow time.Duration `mapstructure:"debounce_window" yaml:"debounce_window"`
	PassTimeout    time.Duration `mapstructure:"pass_timeout" yaml:"pass_timeout"`
	// Dataset is "embedded", a filesystem path, or an http(s) URL.
	Dataset   string `mapstructure:"dataset" yaml:"dataset"`
	InboxSize int    `mapstructure:"inbox_size" yaml:"inbox_size"`
}

// PageSelectors names the DOM hooks used for one page type.
type PageSelectors struct {
	Link   string `mapstructure:"link" yaml:"link"`
	Anchor string `mapstructure:"anchor" yaml:"anchor"`
}

// SelectorsConfig holds the host page selectors per supported page type.
type SelectorsConfig struct {
	SingleItem PageSelectors `mapstructure:"single_item" yaml:"single_item"`
	ShortForm  PageSelectors `mapstructure:"short_form" yaml:"short_form"`
	Collection PageSelectors `mapstructure:"collection" yaml:"collection"`
}

// PreferenceConfig selects and configures the shared preference backend.
type PreferenceConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Path        string `mapstructure:"path" yaml:"path"`
	DatabaseURL string `mapstructure:"database_url" yaml:"-"`
	Key         string `mapstructure:"key" yaml:"key"`
	Channel     string `mapstructure:"channel" yaml:"channel"`
	WallClock   bool   `mapstructure:"wall_clock" yaml:"wall_clock"`
}

// ControlConfig configures the local control endpoint.
type ControlConfig struct {
	Addr      string  `mapstructure:"addr" yaml:"addr"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "woy")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.allocator", AllocatorExec)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.hosts", []string{"www.youtube.com", "youtube.com", "m.youtube.com"})
	v.SetDefault("browser.start_urls", []string{"https://www.youtube.com/"})

	// -- Agent --
	v.SetDefault("agent.debounce_window", "200ms")
	v.SetDefault("agent.pass_timeout", "10s")
	v.SetDefault("agent.dataset", "embedded")
	v.SetDefault("agent.inbox_size", 8)

	// -- Selectors --
	v.SetDefault("selectors.single_item.link", "ytd-video-owner-renderer a")
	v.SetDefault("selectors.single_item.anchor", "ytd-watch-flexy #above-the-fold")
	v.SetDefault("selectors.short_form.link", "yt-reel-channel-bar-view-model a")
	v.SetDefault("selectors.short_form.anchor", "yt-reel-metapanel-view-model")
	v.SetDefault("selectors.collection.anchor", "yt-page-header-renderer")

	// -- Preference --
	v.SetDefault("preference.backend", BackendFile)
	v.SetDefault("preference.path", "~/.woy/preference.json")
	v.SetDefault("preference.key", "woy_enabled")
	v.SetDefault("preference.channel", "woy_preferences")
	v.SetDefault("preference.wall_clock", true)

	// -- Control --
	v.SetDefault("control.addr", "")
	v.SetDefault("control.rate_limit", 2.0)
	v.SetDefault("control.burst", 4)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The database URL carries credentials and is only read from the environment.
	_ = v.BindEnv("preference.database_url", "WOY_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.DebounceWindow <= 0 {
		return fmt.Errorf("agent.debounce_window must be a positive duration")
	}
	if c.Agent.PassTimeout <= 0 {
		return fmt.Errorf("agent.pass_timeout must be a positive duration")
	}
	if c.Agent.InboxSize <= 0 {
		return fmt.Errorf("agent.inbox_size must be a positive integer")
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Selectors.Validate(); err != nil {
		return fmt.Errorf("selectors configuration invalid: %w", err)
	}
	if err := c.Preference.Validate(); err != nil {
		return fmt.Errorf("preference configuration invalid: %w", err)
	}
	if c.Control.RateLimit <= 0 || c.Control.Burst <= 0 {
		return fmt.Errorf("control.rate_limit and control.burst must be positive")
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	switch strings.ToLower(b.Allocator) {
	case AllocatorExec:
	case AllocatorRemote:
		if b.RemoteURL == "" {
			return fmt.Errorf("remote_url is required for the remote allocator")
		}
	default:
		return fmt.Errorf("unknown allocator %q", b.Allocator)
	}
	if len(b.Hosts) == 0 {
		return fmt.Errorf("at least one host is required")
	}
	return nil
}

// Validate checks that every supported page type has an overlay anchor.
func (s *SelectorsConfig) Validate() error {
	if s.SingleItem.Link == "" || s.SingleItem.Anchor == "" {
		return fmt.Errorf("single_item.link and single_item.anchor are required")
	}
	if s.ShortForm.Link == "" || s.ShortForm.Anchor == "" {
		return fmt.Errorf("short_form.link and short_form.anchor are required")
	}
	if s.Collection.Anchor == "" {
		return fmt.Errorf("collection.anchor is required")
	}
	return nil
}

// Validate checks the preference backend settings.
func (p *PreferenceConfig) Validate() error {
	if p.Key == "" {
		return fmt.Errorf("key is required")
	}
	switch strings.ToLower(p.Backend) {
	case BackendMemory:
	case BackendFile:
		if p.Path == "" {
			return fmt.Errorf("path is required for the file backend")
		}
	case BackendPostgres:
		if p.DatabaseURL == "" {
			return fmt.Errorf("database_url is required for the postgres backend. Ensure WOY_DATABASE_URL is set")
		}
		if p.Channel == "" {
			return fmt.Errorf("channel is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", p.Backend)
	}
	return nil
}
