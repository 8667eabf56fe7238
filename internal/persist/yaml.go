package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/motionlightd/internal/entity"
)

// File keeps the snapshot in one human-readable YAML file.
type File struct {
	path string
}

// NewFile creates a file persister for path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Load reads the snapshot file.
func (f *File) Load() (*entity.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return entity.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	return decode(data)
}

// Save writes the snapshot to a temp file and renames it over the old one.
func (f *File) Save(snap *entity.Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Reset removes the snapshot file.
func (f *File) Reset() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

func decode(data []byte) (*entity.Snapshot, error) {
	snap := entity.NewSnapshot()
	if err := yaml.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	return normalize(snap), nil
}
