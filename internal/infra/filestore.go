package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/domain"
)

// FileStore implements domain.KeyValueStore using one JSON file per key
// in a directory. Writes are atomic (temp file + rename). Used when no
// encryption key material is available.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) pathFor(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get unmarshals the stored JSON for key into out. Missing file,
// malformed payload and read errors all report false.
func (s *FileStore) Get(key string, out any) bool {
	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("config read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Warn("malformed config payload", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Set marshals v as JSON and writes it atomically.
func (s *FileStore) Set(key string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("config marshal failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := s.atomicWrite(s.pathFor(key), data); err != nil {
		s.logger.Warn("config write failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *FileStore) Delete(key string) error {
	err := os.Remove(s.pathFor(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ListKeys returns all stored keys.
func (s *FileStore) ListKeys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

// atomicWrite writes data to path atomically (write + rename).
func (s *FileStore) atomicWrite(path string, data []byte) error {
	// Write to temp file first (unique per process to avoid race)
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return err
	}
	return nil
}

// Ensure FileStore implements domain.KeyValueStore.
var _ domain.KeyValueStore = (*FileStore)(nil)
