package kiddoalert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Local store keys.
const (
	KeySavedAlerts         = "saved_alerts"
	KeyHistoryEvents       = "history_events"
	KeyChildren            = "children"
	KeyUserMode            = "user_mode"
	KeyPermissionExplained = "has_seen_permission_explanation"
)

// Store is durable key-value persistence for cached collections and small flags.
// Load returns ErrEntryNotFound for a missing key.
type Store interface {
	Load(ctx context.Context, key string, dst interface{}) error
	Save(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
	Close() error
}

// FileStore keeps all entries in one JSON document with atomic file persistence.
type FileStore struct {
	mu    sync.RWMutex
	path  string
	data  *StoreData
	dirty bool
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates or opens a store at the given path.
// If the file doesn't exist, a new empty store is created.
// If the directory doesn't exist, it is created with 0700 permissions.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, ErrMissingStorePath
	}

	store := &FileStore{
		path: path,
		data: emptyStoreData(),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return store, nil
}

// NewMemoryStore returns a FileStore that never touches disk.
func NewMemoryStore() *FileStore {
	return &FileStore{data: emptyStoreData()}
}

func emptyStoreData() *StoreData {
	return &StoreData{
		Version: DefaultStoreVersion,
		Entries: make(map[string]json.RawMessage),
	}
}

// load replaces the in-memory entries with the file contents. A missing
// file surfaces as os.ErrNotExist; an empty one leaves the store empty.
func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return fmt.Errorf("read file: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}

	loaded := emptyStoreData()
	if err := json.Unmarshal(raw, loaded); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreCorrupted, err)
	}
	switch {
	case loaded.Version > DefaultStoreVersion:
		return fmt.Errorf("%w: unsupported version %d", ErrStoreCorrupted, loaded.Version)
	case loaded.Entries == nil:
		loaded.Entries = make(map[string]json.RawMessage)
	}

	s.data = loaded
	s.dirty = false
	return nil
}

// syncLocked writes store data atomically using temp file + rename pattern.
// Must be called with write lock held. Memory stores only clear the dirty flag.
func (s *FileStore) syncLocked() error {
	if !s.dirty {
		return nil
	}
	if s.path == "" {
		s.dirty = false
		return nil
	}

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// writeFileAtomic replaces path with data through a 0600 temp file that is
// fsynced before the rename, so a crash never leaves a truncated file behind.
// The temp file is removed on every failure.
func writeFileAtomic(path string, data []byte) (err error) {
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrStorePersist, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: write: %v", ErrStorePersist, err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: fsync: %v", ErrStorePersist, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrStorePersist, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: rename: %v", ErrStorePersist, err)
	}
	return nil
}

// Sync flushes pending changes to disk.
func (s *FileStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked()
}

// Close syncs any pending changes and releases resources.
func (s *FileStore) Close() error {
	return s.Sync()
}

// Path returns the store file path. Empty for memory stores.
func (s *FileStore) Path() string {
	return s.path
}

// Load decodes the entry stored under key into dst.
func (s *FileStore) Load(_ context.Context, key string, dst interface{}) error {
	s.mu.RLock()
	raw, exists := s.data.Entries[key]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: entry %s: %v", ErrStoreCorrupted, key, err)
	}
	return nil
}

// Save encodes value as JSON under key and persists the store.
func (s *FileStore) Save(_ context.Context, key string, value interface{}) error {
	if key == "" {
		return fmt.Errorf("store key is required")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Entries[key] = raw
	s.dirty = true
	return s.syncLocked()
}

// Delete removes an entry. Deleting a missing key is a no-op.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.Entries[key]; !exists {
		return nil
	}
	delete(s.data.Entries, key)
	s.dirty = true
	return s.syncLocked()
}

// Keys returns the stored keys in sorted order.
func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data.Entries))
	for k := range s.data.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Has checks existence.
func (s *FileStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data.Entries[key]
	return ok
}

// Clear removes every entry.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Entries = make(map[string]json.RawMessage)
	s.dirty = true
	return s.syncLocked()
}

// Snapshot is the full set of mirrored collections and flags held in a Store.
type Snapshot struct {
	Children            []Child        `json:"children"`
	Alerts              []Alert        `json:"alerts"`
	History             []HistoryEvent `json:"history"`
	Role                Role           `json:"role,omitempty"`
	PermissionExplained bool           `json:"permission_explained"`
}

// LoadSnapshot reads every known key from s. Missing keys yield empty values;
// a corrupted entry is reported but does not stop the remaining keys from loading.
func LoadSnapshot(ctx context.Context, s Store) (*Snapshot, error) {
	snap := &Snapshot{}
	var errs []error

	load := func(key string, dst interface{}) {
		if err := s.Load(ctx, key, dst); err != nil && !errors.Is(err, ErrEntryNotFound) {
			errs = append(errs, err)
		}
	}
	load(KeyChildren, &snap.Children)
	load(KeySavedAlerts, &snap.Alerts)
	load(KeyHistoryEvents, &snap.History)
	load(KeyUserMode, &snap.Role)
	load(KeyPermissionExplained, &snap.PermissionExplained)

	return snap, errors.Join(errs...)
}

// SaveSnapshot writes every collection and flag of snap into s.
func SaveSnapshot(ctx context.Context, s Store, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}
	entries := []struct {
		key   string
		value interface{}
	}{
		{KeyChildren, nonNilChildren(snap.Children)},
		{KeySavedAlerts, nonNilAlerts(snap.Alerts)},
		{KeyHistoryEvents, nonNilHistory(snap.History)},
		{KeyPermissionExplained, snap.PermissionExplained},
	}
	if snap.Role != "" {
		entries = append(entries, struct {
			key   string
			value interface{}
		}{KeyUserMode, snap.Role})
	}
	for _, e := range entries {
		if err := s.Save(ctx, e.key, e.value); err != nil {
			return WrapOpError("save", e.key, err)
		}
	}
	return nil
}

func nonNilChildren(v []Child) []Child {
	if v == nil {
		return []Child{}
	}
	return v
}

func nonNilAlerts(v []Alert) []Alert {
	if v == nil {
		return []Alert{}
	}
	return v
}

func nonNilHistory(v []HistoryEvent) []HistoryEvent {
	if v == nil {
		return []HistoryEvent{}
	}
	return v
}
