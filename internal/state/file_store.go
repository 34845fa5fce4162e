package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"salon/internal/model"
)

// FileStore writes the snapshot to <baseDir>/<session>/basket.json.
type FileStore struct {
	path string
}

func NewFileStore(baseDir string, session string) (*FileStore, error) {
	if session == "" {
		session = "default"
	}
	dir := filepath.Join(baseDir, session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, "basket.json")}, nil
}

// Save writes to a temp file and renames it over the previous snapshot.
func (f *FileStore) Save(items []model.LineItem) error {
	b, err := encodeItems(items)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".basket-*.json")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (f *FileStore) Load() (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return decodeItems(data), nil
}

func (f *FileStore) Close() error { return nil }
