package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// atomicFile abstracts the temp-file operations Save needs, so tests can
// substitute a mock without touching the real filesystem.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes s to path as YAML, atomically: write to a temp file in the
// same directory, fsync, chmod, then rename over path. Adapted from the
// teacher's internal/config/config.go Save/saveWith (create-temp, write,
// sync, chmod, close, rename, with cleanup-on-error via a success flag).
func (s Settings) Save(path string) error {
	return s.saveWith(path, defaultCreateTemp)
}

func (s Settings) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmpFile, err := createTemp(dir, ".settings.*.yaml")
	if err != nil {
		return fmt.Errorf("settings: create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("settings: write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("settings: sync temp file: %w", err)
	}
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("settings: chmod temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("settings: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("settings: rename temp file: %w", err)
	}

	success = true
	return nil
}
