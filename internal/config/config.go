// Package config holds compiler constants and the pybc.yaml loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the project configuration file searched by FindConfig.
const ConfigFileName = "pybc.yaml"

// Color modes for CLI output.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config represents a pybc.yaml configuration.
type Config struct {
	// Futures lists future features enabled for every compiled unit, as if
	// each file started with the matching __future__ import.
	Futures []string `yaml:"futures,omitempty"`

	// LineNumbers controls whether line table entries are recorded.
	// Defaults to true.
	LineNumbers *bool `yaml:"line_numbers,omitempty"`

	// PrintResults compiles modules in interactive mode, printing the value
	// of every expression statement.
	PrintResults bool `yaml:"print_results,omitempty"`

	// Store is the path of the SQLite bundle store. Empty disables it.
	Store string `yaml:"store,omitempty"`

	// Jobs is the number of files compiled concurrently. Defaults to 4.
	Jobs int `yaml:"jobs,omitempty"`

	// Color is one of auto, always or never. Defaults to auto.
	Color string `yaml:"color,omitempty"`
}

// Default returns the configuration used when no pybc.yaml exists.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// LoadConfig reads and parses a pybc.yaml file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses pybc.yaml content from bytes.
// The path argument is used only for error messages.
func ParseConfig(data []byte, path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(path); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	return &cfg, nil
}

// FindConfig searches for pybc.yaml starting from dir and walking up
// to parent directories. Returns an empty path and nil error if none exists.
func FindConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		candidate = filepath.Join(dir, "pybc.yml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// validate checks the configuration for semantic errors.
func (c *Config) validate(path string) error {
	for i, name := range c.Futures {
		if !isSelectable(name) {
			return fmt.Errorf("%s: futures[%d]: unknown future feature %q", path, i, name)
		}
	}
	if c.Jobs < 0 {
		return fmt.Errorf("%s: jobs must not be negative", path)
	}
	switch c.Color {
	case "", ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("%s: color must be one of auto, always, never (got %q)", path, c.Color)
	}
	return nil
}

// setDefaults fills in default values for omitted fields.
func (c *Config) setDefaults() {
	if c.LineNumbers == nil {
		on := true
		c.LineNumbers = &on
	}
	if c.Jobs == 0 {
		c.Jobs = 4
	}
	if c.Color == "" {
		c.Color = ColorAuto
	}
}

// WantLineNumbers reports whether line tables should be recorded.
func (c *Config) WantLineNumbers() bool {
	return c.LineNumbers == nil || *c.LineNumbers
}

// ResolveStore returns the store path relative to the config file directory.
func (c *Config) ResolveStore(configPath string) string {
	if c.Store == "" || filepath.IsAbs(c.Store) || configPath == "" {
		return c.Store
	}
	return filepath.Join(filepath.Dir(configPath), c.Store)
}

func isSelectable(name string) bool {
	for _, f := range SelectableFeatures {
		if f == name {
			return true
		}
	}
	return false
}
