package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/schedule"
)

const (
	dirMode  = 0700
	fileMode = 0600
)

// ConfigCorruptError is returned by Load when a persisted record exists but cannot
// be decoded or no longer validates.
type ConfigCorruptError struct {
	Path string
	Err  error
}

func (e *ConfigCorruptError) Error() string {
	return fmt.Sprintf("corrupt schedule record %s: %v", e.Path, e.Err)
}

func (e *ConfigCorruptError) Unwrap() error {
	return e.Err
}

// Store persists the single BackupSchedule record.
type Store interface {
	Load() (*schedule.BackupSchedule, error)
	Save(s *schedule.BackupSchedule) error
	Clear() error
}

var _ Store = (*FileStore)(nil)

// FileStore keeps the record as a JSON file. Writes go to a temp file in the same
// directory and are renamed over the record, so a crash never leaves a truncated file.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// Option configures a FileStore.
type Option func(fs *FileStore)

// WithLogger returns an Option which set the logger for FileStore.
func WithLogger(logger *zap.Logger) Option {
	return func(fs *FileStore) {
		fs.logger = logger
	}
}

// NewFileStore creates a store backed by path. The file does not need to exist.
func NewFileStore(path string, opts ...Option) *FileStore {
	fs := &FileStore{path: path}
	for _, opt := range opts {
		opt(fs)
	}
	if fs.logger == nil {
		fs.logger = zap.NewNop()
	}
	return fs
}

// Path returns the record location.
func (fs *FileStore) Path() string {
	return fs.path
}

// Load returns nil, nil when no record has been saved.
func (fs *FileStore) Load() (*schedule.BackupSchedule, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	buf, err := ioutil.ReadFile(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read schedule record: %w", err)
	}

	var s schedule.BackupSchedule
	if err := json.Unmarshal(buf, &s); err != nil {
		return nil, &ConfigCorruptError{Path: fs.path, Err: err}
	}
	if err := s.Validate(); err != nil {
		return nil, &ConfigCorruptError{Path: fs.path, Err: err}
	}
	return &s, nil
}

func (fs *FileStore) Save(s *schedule.BackupSchedule) error {
	buf, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	f, err := ioutil.TempFile(dir, "."+filepath.Base(fs.path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp record: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Chmod(tmp, fileMode); err != nil {
		return err
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("replace schedule record: %w", err)
	}

	fs.logger.Debug("schedule saved", zap.String("path", fs.path), zap.Time("next_run_at", s.NextRunAt))
	return nil
}

// Clear removes the record. A missing record is not an error.
func (fs *FileStore) Clear() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove schedule record: %w", err)
	}
	fs.logger.Debug("schedule cleared", zap.String("path", fs.path))
	return nil
}
