package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/captain/pkg/log"
)

// FileStore is the generic whole-file JSON implementation of Store[V].
// Modeled on the original's per-store load/save helper (boat_chest.py):
// one lock, one file, read-modify-write, atomic rename.
type FileStore[V any] struct {
	mu   sync.Mutex
	path string
}

// NewFileStore opens (without yet reading) a JSON store at path. The
// parent directory is created if missing.
func NewFileStore[V any](path string) (*FileStore[V], error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create dir %s: %w", dir, err)
		}
	}
	return &FileStore[V]{path: path}, nil
}

func (s *FileStore[V]) Path() string { return s.path }

// Read loads the current snapshot. Per §4.1/§7, a missing or malformed
// file is treated as an empty map after logging — never an error to the
// caller, since loss of a readable snapshot is an accepted durability
// tradeoff, not an operation failure.
func (s *FileStore[V]) Read() (map[string]V, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *FileStore[V]) readLocked() (map[string]V, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Logger.Warn().Err(err).Str("path", s.path).Msg("storage: read failed, treating as empty")
		}
		return map[string]V{}, nil
	}
	if len(data) == 0 {
		return map[string]V{}, nil
	}
	out := map[string]V{}
	if err := json.Unmarshal(data, &out); err != nil {
		log.Logger.Warn().Err(err).Str("path", s.path).Msg("storage: malformed snapshot, treating as empty")
		return map[string]V{}, nil
	}
	return out, nil
}

// Update performs the locked read-modify-write-atomically-rename cycle.
// fn must not block on network I/O or another store's lock.
func (s *FileStore[V]) Update(fn func(map[string]V) (map[string]V, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readLocked()
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return s.writeLocked(next)
}

func (s *FileStore[V]) writeLocked(data map[string]V) error {
	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", s.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp for %s: %w", s.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write temp for %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp for %s: %w", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("storage: rename into %s: %w", s.path, err)
	}
	return nil
}
