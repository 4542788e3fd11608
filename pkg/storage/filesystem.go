package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/platinummonkey/featurestore/pkg/apperrors"
	"github.com/platinummonkey/featurestore/pkg/features"
)

// FileSystemStore implements features.Store on the local filesystem. Each
// record is a JSON file at {root}/{entity_type}/{entity_value}/{category}.json
// with the value and category path-escaped.
type FileSystemStore struct {
	rootDir string
	mu      sync.RWMutex
}

type fileRecord struct {
	Data     map[string]interface{} `json:"data"`
	Metadata features.Metadata      `json:"metadata"`
}

// NewFileSystemStore creates a new filesystem-based store
func NewFileSystemStore(rootDir string) (*FileSystemStore, error) {
	if rootDir == "" {
		return nil, errors.New("filesystem root is required")
	}
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemStore{rootDir: rootDir}, nil
}

func (s *FileSystemStore) recordPath(entityType features.EntityType, entityValue, category string) string {
	return filepath.Join(
		s.rootDir,
		string(entityType),
		escapeSegment(entityValue),
		escapeSegment(category)+".json",
	)
}

func escapeSegment(s string) string {
	escaped := url.PathEscape(s)
	if escaped == "." || escaped == ".." {
		return strings.ReplaceAll(escaped, ".", "%2E")
	}
	return escaped
}

// Get implements features.Store
func (s *FileSystemStore) Get(ctx context.Context, entityType features.EntityType, entityValue, category string) (*features.Record, error) {
	if !entityType.Valid() {
		return nil, apperrors.Validationf("invalid entity_type '%s'", entityType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, err := os.ReadFile(s.recordPath(entityType, entityValue, category))
	s.mu.RUnlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, features.ErrRecordNotFound
	}
	if err != nil {
		return nil, apperrors.ServiceUnavailable(err, "failed to read record file")
	}

	var stored fileRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to unmarshal record: %w", err), "corrupt feature record")
	}
	if stored.Data == nil {
		stored.Data = map[string]interface{}{}
	}

	return &features.Record{
		EntityType:  entityType,
		EntityValue: entityValue,
		Category:    category,
		Data:        stored.Data,
		Metadata:    stored.Metadata,
	}, nil
}

// Put implements features.Store. The file is replaced atomically.
func (s *FileSystemStore) Put(ctx context.Context, record *features.Record) error {
	if record == nil {
		return errors.New("nil record")
	}
	if !record.EntityType.Valid() {
		return apperrors.Validationf("invalid entity_type '%s'", record.EntityType)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(fileRecord{Data: record.Data, Metadata: record.Metadata})
	if err != nil {
		return apperrors.Validationf("feature data cannot be stored: %v", err)
	}

	path := s.recordPath(record.EntityType, record.EntityValue, record.Category)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".record-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write record file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close record file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move record file: %w", err)
	}

	return nil
}

// Ping checks that the root directory is still accessible
func (s *FileSystemStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.rootDir)
	if err != nil {
		return fmt.Errorf("filesystem root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("filesystem root %s is not a directory", s.rootDir)
	}
	return nil
}

var _ features.Store = (*FileSystemStore)(nil)
