package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Modules a keychain may be stored in.
var Modules = []string{"sqlite", "memory"}

// DefaultHistory is the number of events kept in memory when history is unset.
const DefaultHistory = 256

// Keychain declares one keychain.
type Keychain struct {
	Name       string `yaml:"name"`
	Module     string `yaml:"module,omitempty"`
	Subservice uint32 `yaml:"subservice,omitempty"`
}

// Config holds the keychain configuration loaded from ~/.keycache/config.yaml.
type Config struct {
	Dir        string     `yaml:"dir,omitempty"`
	Default    string     `yaml:"default,omitempty"`
	SearchList []string   `yaml:"search_list,omitempty"`
	Keychains  []Keychain `yaml:"keychains,omitempty"`
	Journal    string     `yaml:"journal,omitempty"`
	History    int        `yaml:"history,omitempty"`
	LogLevel   string     `yaml:"log_level,omitempty"`
}

// DefaultPath returns the default config file path: ~/.keycache/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".keycache", "config.yaml")
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns a Config with defaults applied and no error. An empty or
// all-comment file behaves the same way.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults(path)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults(path string) {
	if c.Dir == "" && path != "" {
		c.Dir = filepath.Join(filepath.Dir(path), "keychains")
	}
	if c.History == 0 {
		c.History = DefaultHistory
	}
	for i := range c.Keychains {
		if c.Keychains[i].Module == "" {
			c.Keychains[i].Module = "sqlite"
		}
	}
}

// Validate checks that keychain names are unique, modules are known and the
// search list and default only name declared keychains.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, kc := range c.Keychains {
		if kc.Name == "" {
			return errors.New("keychain with empty name")
		}
		if seen[kc.Name] {
			return fmt.Errorf("duplicate keychain %q", kc.Name)
		}
		seen[kc.Name] = true
		if !knownModule(kc.Module) {
			return fmt.Errorf("keychain %q: unknown module %q (want one of %s)",
				kc.Name, kc.Module, strings.Join(Modules, ", "))
		}
	}
	for _, name := range c.SearchList {
		if !seen[name] {
			return fmt.Errorf("search list names undeclared keychain %q", name)
		}
	}
	if c.Default != "" && !seen[c.Default] {
		return fmt.Errorf("default names undeclared keychain %q", c.Default)
	}
	if c.History < 0 {
		return fmt.Errorf("history must not be negative, got %d", c.History)
	}
	if c.LogLevel != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}
	return nil
}

func knownModule(m string) bool {
	return slices.Contains(Modules, m)
}

// Level returns the configured log level, Info when unset.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if c.LogLevel != "" {
		_ = l.UnmarshalText([]byte(c.LogLevel))
	}
	return l
}

// Keychain returns the declaration of name.
func (c *Config) Keychain(name string) (Keychain, bool) {
	for _, kc := range c.Keychains {
		if kc.Name == name {
			return kc, true
		}
	}
	return Keychain{}, false
}

// AddKeychain declares kc, appends it to the search list and makes it the
// default if there is none.
func (c *Config) AddKeychain(kc Keychain) error {
	if kc.Module == "" {
		kc.Module = "sqlite"
	}
	if _, ok := c.Keychain(kc.Name); ok {
		return fmt.Errorf("duplicate keychain %q", kc.Name)
	}
	c.Keychains = append(c.Keychains, kc)
	c.SearchList = append(c.SearchList, kc.Name)
	if c.Default == "" {
		c.Default = kc.Name
	}
	return c.Validate()
}

// Save writes the config to path, creating its directory.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
