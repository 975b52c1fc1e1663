// Package file persists the hal cache in a single JSON document on disk and
// can watch that document for changes made by other processes.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"

	"github.com/knaydenov/hal"
)

// Logger is an interface for logging operations
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures the Store
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithPerm sets the mode of the data file
// Default is 0o644
func WithPerm(perm os.FileMode) Option {
	return func(s *Store) {
		s.perm = perm
	}
}

// Store implements hal.KeyValueStore on one JSON object file.
//
// Layout:
//
//	{
//	  "hal_aliases": "{...}",
//	  "hal_origins": "{...}"
//	}
type Store struct {
	mu     sync.RWMutex
	path   string
	perm   os.FileMode
	logger Logger

	// last document this store wrote, used to ignore its own watch events
	written []byte
}

var _ hal.KeyValueStore = (*Store)(nil)

// New creates a Store writing to path. The parent directory is created if
// needed; the file itself is created on the first write.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("file: path is required")
	}
	s := &Store{path: path, perm: 0o644}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file: create directory: %w", err)
	}
	return s, nil
}

// Path returns the data file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("file: read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]string{}, nil
	}
	var items map[string]string
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("file: decode %s: %w", s.path, err)
	}
	if items == nil {
		items = map[string]string{}
	}
	return items, nil
}

// save replaces the file atomically through a temp file in the same directory.
func (s *Store) save(items map[string]string) error {
	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("file: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("file: write: %w", err)
	}
	if err := tmp.Chmod(s.perm); err != nil {
		tmp.Close()
		return fmt.Errorf("file: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("file: rename: %w", err)
	}

	s.written = b
	if s.logger != nil {
		s.logger.Debug("file store written", "path", s.path, "keys", len(items), "bytes", len(b))
	}
	return nil
}

// GetItem implements hal.KeyValueStore
func (s *Store) GetItem(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := items[key]
	return v, ok, nil
}

// SetItem implements hal.KeyValueStore
func (s *Store) SetItem(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return err
	}
	items[key] = value
	return s.save(items)
}

// RemoveItem implements hal.KeyValueStore
func (s *Store) RemoveItem(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := items[key]; !ok {
		return nil
	}
	delete(items, key)
	return s.save(items)
}

// Clear implements hal.KeyValueStore
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("file: remove %s: %w", s.path, err)
	}
	s.written = nil
	return nil
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch calls onChange whenever the data file is replaced or modified by
// someone other than this Store, until ctx is done. The directory is watched
// so that atomic renames are seen.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file: watch: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("file: watch %s: %w", filepath.Dir(s.path), err)
	}

	target := filepath.Clean(s.path)
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
					continue
				}
				if s.ownWrite() {
					continue
				}
				if s.logger != nil {
					s.logger.Info("file store changed externally", "path", s.path, "op", event.Op.String())
				}
				onChange()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if s.logger != nil {
					s.logger.Error("file watch error", "path", s.path, "error", err)
				}
			}
		}
	}()
	return nil
}

// ownWrite reports whether the file still holds what this Store last wrote.
func (s *Store) ownWrite() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return os.IsNotExist(err) && s.written == nil
	}
	return s.written != nil && bytes.Equal(data, s.written)
}
