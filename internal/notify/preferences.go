package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Preferences are the user's notification switches.
type Preferences struct {
	SoundEnabled         bool `json:"soundEnabled"`
	NotificationsEnabled bool `json:"browserNotificationsEnabled"`
	PermissionPrompted   bool `json:"permissionPrompted"`
}

// DefaultPreferences has sound on and notifications off until permission is granted.
func DefaultPreferences() Preferences {
	return Preferences{SoundEnabled: true}
}

type PreferenceStore interface {
	Load() (Preferences, error)
	Save(Preferences) error
}

// FilePreferences persists preferences as JSON at Path.
type FilePreferences struct {
	Path string

	mu sync.Mutex
}

func NewFilePreferences(path string) *FilePreferences {
	return &FilePreferences{Path: path}
}

// Load returns the defaults when the file does not exist yet.
func (f *FilePreferences) Load() (Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultPreferences(), nil
	}
	if err != nil {
		return DefaultPreferences(), fmt.Errorf("failed to read preferences: %w", err)
	}
	prefs := DefaultPreferences()
	if err := json.Unmarshal(data, &prefs); err != nil {
		return DefaultPreferences(), fmt.Errorf("failed to parse preferences: %w", err)
	}
	return prefs, nil
}

func (f *FilePreferences) Save(p Preferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	return writeFileAtomic(f.Path, data, 0o600)
}

// writeFileAtomic writes to a temp file in the target directory, syncs it and
// renames it over path, so readers see either the old or the new file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".prefs-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	ok := false
	defer func() {
		if !ok {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync preferences: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp, perm); err != nil {
		return fmt.Errorf("failed to set preferences permissions: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace preferences: %w", err)
	}
	ok = true
	return nil
}
