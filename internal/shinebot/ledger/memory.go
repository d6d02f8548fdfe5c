package ledger

import (
	"context"
	"sync"
)

// MemTable is an in-memory Table for tests and ephemeral deployments.
type MemTable struct {
	mu      sync.Mutex
	records *Records
}

// NewMemTable returns an empty in-memory table.
func NewMemTable() *MemTable {
	return &MemTable{records: NewRecords()}
}

// Load returns a copy of the stored records.
func (t *MemTable) Load(ctx context.Context) (*Records, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyRecords(t.records), nil
}

// Save replaces the stored records with a copy of the given ones.
func (t *MemTable) Save(ctx context.Context, records *Records) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = copyRecords(records)
	return nil
}

// Update applies fn to a copy of the stored records and swaps it in, holding
// the lock for the whole cycle. When fn fails, the table is untouched.
func (t *MemTable) Update(ctx context.Context, fn func(*Records) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	copied := copyRecords(t.records)
	if err := fn(copied); err != nil {
		return err
	}
	t.records = copied
	return nil
}

func copyRecords(r *Records) *Records {
	copied := NewRecords()
	for _, key := range r.Keys() {
		v, _ := r.Get(key)
		copied.Set(key, v)
	}
	return copied
}
