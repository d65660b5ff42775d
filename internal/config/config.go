// Package config handles parsing and writing of the confsync configuration
// file (config.toml). The file is the persistent store for profiles and
// their tracked entries; the active profile name and watch settings live
// here too.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

// ErrNotInitialized is returned when the configuration file does not exist.
// The CLI maps this to a "run confsync init" hint.
var ErrNotInitialized = errors.New("confsync is not initialized")

// DefaultDebounceMs is the default watch debounce window in milliseconds.
const DefaultDebounceMs = 2000

// DefaultProfileName is the name of the profile created by init.
const DefaultProfileName = "default"

// Settings holds tunables shared by all profiles.
type Settings struct {
	// DebounceMs is the watch-mode debounce window in milliseconds.
	DebounceMs int `toml:"debounce_ms,omitempty" json:"debounce_ms,omitempty" jsonschema:"description=Watch-mode debounce window in milliseconds"`
	// Exclude lists glob patterns skipped when scanning tracked directories.
	Exclude []string `toml:"exclude,omitempty" json:"exclude,omitempty" jsonschema:"description=Glob patterns excluded from tracked directories"`
}

// Entry is one tracked path as persisted in the configuration file.
type Entry struct {
	Path      string `toml:"path" json:"path" jsonschema:"required,description=Tracked path (may use a ~ prefix)"`
	Alias     string `toml:"alias,omitempty" json:"alias,omitempty" jsonschema:"description=Short name for the tracked path"`
	Kind      string `toml:"kind" json:"kind" jsonschema:"enum=file,enum=directory,description=Whether the path is a file or a directory"`
	Encrypted bool   `toml:"encrypted,omitempty" json:"encrypted,omitempty" jsonschema:"description=Marks the entry for encrypted storage"`
}

// Profile is an isolated tracked-set plus repository binding.
type Profile struct {
	ID      string  `toml:"id" json:"id" jsonschema:"required,description=Stable profile identity (UUID)"`
	Name    string  `toml:"name" json:"name" jsonschema:"required,description=Profile name"`
	Remote  string  `toml:"remote,omitempty" json:"remote,omitempty" jsonschema:"description=Remote repository URL (empty for local-only)"`
	Entries []Entry `toml:"entries,omitempty" json:"entries,omitempty" jsonschema:"description=Tracked entries in insertion order"`
}

// Config is the root of config.toml.
type Config struct {
	ActiveProfile string    `toml:"active_profile" json:"active_profile" jsonschema:"required,description=Name of the active profile"`
	Settings      Settings  `toml:"settings,omitempty" json:"settings,omitempty" jsonschema:"description=Shared settings"`
	Profiles      []Profile `toml:"profiles" json:"profiles" jsonschema:"required,description=All known profiles"`
}

// DefaultExcludes are the directory-scan exclusion patterns applied when the
// user configures none.
func DefaultExcludes() []string {
	return []string{".git", "*.swp", "*.tmp", ".DS_Store"}
}

// Default returns a Config with a single default profile and no remote.
func Default() *Config {
	return &Config{
		ActiveProfile: DefaultProfileName,
		Settings: Settings{
			DebounceMs: DefaultDebounceMs,
			Exclude:    DefaultExcludes(),
		},
		Profiles: []Profile{},
	}
}

// Exists reports whether the configuration file is present.
func Exists(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads and parses the configuration file.
// Returns ErrNotInitialized if the file does not exist.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotInitialized, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes the configuration to path, creating parent directories as
// needed.
func Save(fs afero.Fs, path string, cfg *Config) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Settings.DebounceMs <= 0 {
		c.Settings.DebounceMs = DefaultDebounceMs
	}
	if c.Settings.Exclude == nil {
		c.Settings.Exclude = DefaultExcludes()
	}
}

// FindProfile returns the profile with the given name, or nil.
func (c *Config) FindProfile(name string) *Profile {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i]
		}
	}
	return nil
}

// Active returns the active profile, or nil if the active name is dangling.
func (c *Config) Active() *Profile {
	return c.FindProfile(c.ActiveProfile)
}

// RemoveProfile deletes the named profile. Reports whether it was present.
func (c *Config) RemoveProfile(name string) bool {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			c.Profiles = append(c.Profiles[:i], c.Profiles[i+1:]...)
			return true
		}
	}
	return false
}
