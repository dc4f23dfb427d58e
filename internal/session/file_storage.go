package session

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authdemo/internal/config"
)

const (
	storageFileName = "storage.json"
	storageVersion  = 1
)

// storageFile is the on-disk layout of FileStorage.
type storageFile struct {
	Version   int               `json:"version"`
	Items     map[string]string `json:"items"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// FileStorage persists items in a single JSON file readable only by the current user.
type FileStorage struct {
	mu      sync.Mutex
	baseDir string
}

// StorageDir returns the directory holding sessions for one provider, so sessions for
// different projects never collide. An empty baseDir uses ~/.authdemo.
func StorageDir(baseDir string, cfg config.Provider) (string, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".authdemo")
	}

	hash := sha256.Sum256([]byte(cfg.URL))
	fingerprint := base58.Encode(hash[:])[:16]

	return filepath.Join(baseDir, "sessions", fingerprint), nil
}

// NewFileStorage creates the storage directory with 0700 permissions.
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if baseDir == "" {
		return nil, errors.New("storage directory is required")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	log.Debug().Str("baseDir", baseDir).Msg("session storage initialized")

	return &FileStorage{baseDir: baseDir}, nil
}

func (s *FileStorage) GetItem(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return "", false, err
	}

	value, ok := f.Items[key]
	return value, ok, nil
}

func (s *FileStorage) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}

	f.Items[key] = value
	return s.save(f)
}

func (s *FileStorage) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := f.Items[key]; !ok {
		return nil
	}

	delete(f.Items, key)
	return s.save(f)
}

func (s *FileStorage) path() string {
	return filepath.Join(s.baseDir, storageFileName)
}

func (s *FileStorage) load() (*storageFile, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &storageFile{Version: storageVersion, Items: make(map[string]string)}, nil
		}
		return nil, fmt.Errorf("failed to read storage: %w", err)
	}

	var f storageFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse storage: %w", err)
	}

	if f.Items == nil {
		f.Items = make(map[string]string)
	}

	return &f, nil
}

// save writes the storage file atomically.
func (s *FileStorage) save(f *storageFile) error {
	f.Version = storageVersion
	f.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage: %w", err)
	}

	path := s.path()
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write storage: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save storage: %w", err)
	}

	return nil
}
