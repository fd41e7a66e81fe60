package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mindraft/mindraft-core/paths"
	"github.com/mindraft/mindraft-core/workspace"
)

const (
	// DefaultAutosaveInterval is the quiet period after the last edit before
	// an autosave fires.
	DefaultAutosaveInterval = 30 * time.Second

	// DefaultEditGuardWindow is how long a user edit suppresses external
	// content pushes. A heuristic for "edit settled", not a lock.
	DefaultEditGuardWindow = 100 * time.Millisecond
)

// Preferences holds user-tunable behavior loaded from preferences.yaml.
type Preferences struct {
	AutosaveInterval Duration `yaml:"autosave_interval,omitempty"`
	EditGuardWindow  Duration `yaml:"edit_guard_window,omitempty"`
	Extensions       []string `yaml:"extensions,omitempty"` // File extensions shown in the tree
	SkipDirs         []string `yaml:"skip_dirs,omitempty"`  // Directory names hidden from the tree
	ShowHidden       bool     `yaml:"show_hidden,omitempty"`
	Debug            bool     `yaml:"debug,omitempty"`
	MetricsAddr      string   `yaml:"metrics_addr,omitempty"` // host:port for /metrics, empty disables
}

// Duration is a wrapper around time.Duration that implements YAML unmarshaling
// from human-readable strings like "30s", "100ms".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// DefaultPreferences returns the preferences used when no file exists.
func DefaultPreferences() *Preferences {
	return &Preferences{
		AutosaveInterval: Duration{DefaultAutosaveInterval},
		EditGuardWindow:  Duration{DefaultEditGuardWindow},
		Extensions:       []string{".md"},
		SkipDirs:         []string{workspace.AssetsDir},
	}
}

// LoadPreferences reads preferences.yaml from the config directory and merges
// it over the defaults.
func LoadPreferences() (*Preferences, error) {
	path, err := paths.PreferencesFilePath()
	if err != nil {
		return nil, err
	}
	return LoadPreferencesFrom(path)
}

// LoadPreferencesFrom reads preferences from path. A missing file yields the
// defaults.
func LoadPreferencesFrom(path string) (*Preferences, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPreferences(), nil
		}
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}

	var p Preferences
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse preferences: %w", err)
	}

	merged := mergePreferences(&p, DefaultPreferences())
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// mergePreferences fills zero-valued fields of p from defaults.
func mergePreferences(p, defaults *Preferences) *Preferences {
	out := *p
	if out.AutosaveInterval.Duration == 0 {
		out.AutosaveInterval = defaults.AutosaveInterval
	}
	if out.EditGuardWindow.Duration == 0 {
		out.EditGuardWindow = defaults.EditGuardWindow
	}
	if out.Extensions == nil {
		out.Extensions = defaults.Extensions
	}
	if out.SkipDirs == nil {
		out.SkipDirs = defaults.SkipDirs
	}
	return &out
}

// Validate rejects preferences that would break the edit session.
func (p *Preferences) Validate() error {
	if p.AutosaveInterval.Duration < time.Second {
		return fmt.Errorf("autosave_interval must be at least 1s, got %s", p.AutosaveInterval.Duration)
	}
	if p.EditGuardWindow.Duration < 0 {
		return fmt.Errorf("edit_guard_window must not be negative, got %s", p.EditGuardWindow.Duration)
	}
	if p.EditGuardWindow.Duration >= p.AutosaveInterval.Duration {
		return fmt.Errorf("edit_guard_window (%s) must be shorter than autosave_interval (%s)",
			p.EditGuardWindow.Duration, p.AutosaveInterval.Duration)
	}
	for _, ext := range p.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	return nil
}
