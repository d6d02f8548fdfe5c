package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileTable persists a ledger table to a plain text file.
//
// Save writes to a temporary file in the same directory and renames it over
// the target, so a crash mid-write never leaves a half-written table behind.
// A mutex serializes all access; Update holds it across the whole
// read-modify-write cycle so concurrent webhook deliveries cannot overwrite
// each other's entries with stale table snapshots.
type FileTable struct {
	mu   sync.Mutex
	path string
}

// NewFileTable returns a FileTable backed by the file at path. The file does
// not need to exist yet; it is created on first Save.
func NewFileTable(path string) *FileTable {
	return &FileTable{path: path}
}

// Load reads and parses the table. A missing file loads as an empty table.
func (t *FileTable) Load(ctx context.Context) (*Records, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load()
}

// Save serializes records and atomically replaces the table file.
func (t *FileTable) Save(ctx context.Context, records *Records) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.save(records)
}

// Update applies fn to the current table contents and persists the result,
// holding the table lock for the whole cycle. When fn fails, the file is
// untouched.
func (t *FileTable) Update(ctx context.Context, fn func(*Records) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	records, err := t.load()
	if err != nil {
		return err
	}
	if err := fn(records); err != nil {
		return err
	}
	return t.save(records)
}

// load reads and parses the table file. Caller holds mu.
func (t *FileTable) load() (*Records, error) {
	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return NewRecords(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", t.path, err)
	}
	return Parse(string(data)), nil
}

// save writes records through a temp file + rename. Caller holds mu.
func (t *FileTable) save(records *Records) error {
	dir := filepath.Dir(t.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(t.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("ledger: create temp for %s: %w", t.path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(Format(records)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("ledger: write %s: %w", t.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ledger: close temp for %s: %w", t.path, err)
	}

	if err := os.Rename(tmpName, t.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ledger: replace %s: %w", t.path, err)
	}
	return nil
}
