// Package config loads appshot defaults from a config file and the
// environment.
//
// Settings are resolved in this order, later wins:
//
//  1. Built-in defaults
//  2. appshot.yaml in the working directory or $HOME/.config/appshot
//     (or the file named by --config)
//  3. APPSHOT_* environment variables (nested keys use underscores, so
//     browser.viewport is APPSHOT_BROWSER_VIEWPORT)
//
// Command-line flags override all of these; that happens in the CLI.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "APPSHOT"

// Config holds every configurable default.
type Config struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ExitGrace    time.Duration `mapstructure:"exit_grace"`
	Headless     bool          `mapstructure:"headless"`
	Driver       string        `mapstructure:"driver"`
	DB           string        `mapstructure:"db"`
	NoSandbox    bool          `mapstructure:"no_sandbox"`

	Browser Browser `mapstructure:"browser"`
	Display Display `mapstructure:"display"`
	Preview Preview `mapstructure:"preview"`

	// File is the config file that was read, empty if none.
	File string `mapstructure:"-"`
}

// Browser configures the cdp drivers.
type Browser struct {
	Bin      string        `mapstructure:"bin"`
	Viewport string        `mapstructure:"viewport"`
	Settle   time.Duration `mapstructure:"settle"`
	Idle     time.Duration `mapstructure:"idle"` // network quiet window before load-complete; negative disables
	Flags    []string      `mapstructure:"flags"`
}

// Display configures the display driver.
type Display struct {
	Index  int           `mapstructure:"index"`
	Settle time.Duration `mapstructure:"settle"`
}

// Preview configures the preview server readiness check.
type Preview struct {
	URL      string        `mapstructure:"url"`
	Attempts int           `mapstructure:"attempts"`
	Interval time.Duration `mapstructure:"interval"`
	Grace    time.Duration `mapstructure:"grace"`
	FullPage bool          `mapstructure:"full_page"`
	Build    string        `mapstructure:"build"`
	Serve    string        `mapstructure:"serve"`
}

// Options controls where Load looks.
type Options struct {
	// File is an explicit config file. It must exist.
	File string

	// SearchPaths are tried for appshot.yaml when File is empty.
	// Defaults to the working directory and $HOME/.config/appshot.
	SearchPaths []string

	// IgnoreEnv skips APPSHOT_* environment overrides.
	IgnoreEnv bool
}

// DefaultSearchPaths are used when Options.SearchPaths is nil.
var DefaultSearchPaths = []string{".", "$HOME/.config/appshot"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("poll_interval", 100*time.Millisecond)
	v.SetDefault("exit_grace", 5*time.Second)
	v.SetDefault("headless", true)
	v.SetDefault("driver", "app")
	v.SetDefault("db", "")
	v.SetDefault("no_sandbox", false)

	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.viewport", "1365x768")
	v.SetDefault("browser.settle", time.Second)
	v.SetDefault("browser.idle", 500*time.Millisecond)
	v.SetDefault("browser.flags", []string{})

	v.SetDefault("display.index", 0)
	v.SetDefault("display.settle", 2*time.Second)

	v.SetDefault("preview.url", "http://localhost:4173")
	v.SetDefault("preview.attempts", 30)
	v.SetDefault("preview.interval", 500*time.Millisecond)
	v.SetDefault("preview.grace", 5*time.Second)
	v.SetDefault("preview.full_page", true)
	v.SetDefault("preview.build", "")
	v.SetDefault("preview.serve", "")
}

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if !opts.IgnoreEnv {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.File, err)
		}
	} else {
		v.SetConfigName("appshot")
		v.SetConfigType("yaml")
		paths := opts.SearchPaths
		if paths == nil {
			paths = DefaultSearchPaths
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration. Config files and the
// environment are not consulted.
func Default() *Config {
	cfg, err := Load(Options{SearchPaths: []string{}, IgnoreEnv: true})
	if err != nil {
		panic(fmt.Sprintf("built-in config invalid: %v", err))
	}
	return cfg
}

// Validate rejects settings no command could use.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid config: timeout must be positive, got %s", c.Timeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid config: poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.ExitGrace <= 0 {
		return fmt.Errorf("invalid config: exit_grace must be positive, got %s", c.ExitGrace)
	}
	switch c.Driver {
	case "app", "display":
	default:
		return fmt.Errorf("invalid config: driver must be app or display, got %q", c.Driver)
	}
	if c.Display.Index < 0 {
		return fmt.Errorf("invalid config: display.index must not be negative")
	}
	if c.Preview.Attempts <= 0 {
		return fmt.Errorf("invalid config: preview.attempts must be positive")
	}
	return nil
}
