package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mindraft/mindraft-core/paths"
)

// Namespace is the fixed key-value store namespace. It names the settings
// file on disk (mindraft.json).
const Namespace = "mindraft"

// MaxRecentWorkspaces bounds the most-recently-used workspace list.
const MaxRecentWorkspaces = 10

// Store is the persisted key-value settings store. It is read once at
// startup and written every time a workspace loads successfully.
type Store struct {
	WorkspacePath    string            `json:"workspacePath,omitempty"`    // Last opened workspace
	RecentWorkspaces []string          `json:"recentWorkspaces,omitempty"` // Most recent first
	Values           map[string]string `json:"values,omitempty"`           // Free-form string keys

	mu       sync.RWMutex
	filePath string
}

// Load reads the settings store from disk, or returns an empty one if the
// file doesn't exist yet.
func Load() (*Store, error) {
	path, err := paths.SettingsFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the settings store from an explicit path.
func LoadFrom(path string) (*Store, error) {
	s := &Store{
		RecentWorkspaces: []string{},
		Values:           make(map[string]string),
		filePath:         path,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// Must happen before Validate(), which only reads
	s.ensureInitialized()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureInitialized replaces nil collections after unmarshaling.
// Only called from LoadFrom before the store is shared.
func (s *Store) ensureInitialized() {
	if s.RecentWorkspaces == nil {
		s.RecentWorkspaces = []string{}
	}
	if s.Values == nil {
		s.Values = make(map[string]string)
	}
}

// Validate checks that the store is internally consistent.
func (s *Store) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.RecentWorkspaces) > MaxRecentWorkspaces {
		return fmt.Errorf("too many recent workspaces: %d (max %d)", len(s.RecentWorkspaces), MaxRecentWorkspaces)
	}
	seen := make(map[string]bool, len(s.RecentWorkspaces))
	for _, p := range s.RecentWorkspaces {
		if p == "" {
			return fmt.Errorf("recent workspace with empty path found")
		}
		if seen[p] {
			return fmt.Errorf("duplicate recent workspace: %s", p)
		}
		seen[p] = true
	}
	return nil
}

// Save writes the store to disk. The write goes through a temp file and a
// rename so a crash never leaves a truncated settings file behind.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filePath == "" {
		return fmt.Errorf("settings store has no file path")
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+Namespace+"-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.filePath)
}

// FilePath returns the file the store is persisted to.
func (s *Store) FilePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filePath
}

// SetFilePath sets the store file path (for testing).
func (s *Store) SetFilePath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filePath = path
}

// LastWorkspace returns the last successfully loaded workspace path, or "".
func (s *Store) LastWorkspace() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.WorkspacePath
}

// SetLastWorkspace records path as the last opened workspace and moves it to
// the front of the recent list.
func (s *Store) SetLastWorkspace(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.WorkspacePath = path

	recent := make([]string, 0, len(s.RecentWorkspaces)+1)
	recent = append(recent, path)
	for _, p := range s.RecentWorkspaces {
		if SamePath(p, path) {
			continue
		}
		recent = append(recent, p)
	}
	if len(recent) > MaxRecentWorkspaces {
		recent = recent[:MaxRecentWorkspaces]
	}
	s.RecentWorkspaces = recent
}

// ForgetWorkspace removes path from the recent list and clears it as the last
// workspace if it matches. Returns true if anything changed.
func (s *Store) ForgetWorkspace(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	if s.WorkspacePath != "" && SamePath(s.WorkspacePath, path) {
		s.WorkspacePath = ""
		changed = true
	}
	remaining := make([]string, 0, len(s.RecentWorkspaces))
	for _, p := range s.RecentWorkspaces {
		if SamePath(p, path) {
			changed = true
			continue
		}
		remaining = append(remaining, p)
	}
	s.RecentWorkspaces = remaining
	return changed
}

// GetRecentWorkspaces returns a copy of the recent workspace list.
func (s *Store) GetRecentWorkspaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.RecentWorkspaces))
	copy(out, s.RecentWorkspaces)
	return out
}

// Get returns the value stored under key and whether it was present.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Values[key]
	return v, ok
}

// Set stores a free-form string value. An empty value deletes the key.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Values == nil {
		s.Values = make(map[string]string)
	}
	if value == "" {
		delete(s.Values, key)
		return
	}
	s.Values[key] = value
}
