package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileStore keeps Settings in a YAML file.
type FileStore struct {
	path     string
	defaults Settings
}

// NewFileStore returns a store at path. defaults is returned by Load when the
// file does not exist yet.
func NewFileStore(path string, defaults Settings) *FileStore {
	return &FileStore{path: path, defaults: defaults}
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the file. A missing file yields the defaults; an unknown cap tier
// is an error wrapping ErrInvalidTier.
func (s *FileStore) Load() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s.defaults.Clone(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	out := s.defaults.Clone()
	out.LastUserCap = nil
	if err := yaml.Unmarshal(data, &out); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	if out.Version == 0 {
		out.Version = currentVersion
	}
	return out, nil
}

// Save writes the file atomically via a temp file in the same directory.
func (s *FileStore) Save(cfg Settings) error {
	if !cfg.CombatCap.Valid() || !cfg.OutOfCombatCap.Valid() {
		return fmt.Errorf("save settings: %w", ErrInvalidTier)
	}
	if cfg.Version == 0 {
		cfg.Version = currentVersion
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("save settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("save settings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
