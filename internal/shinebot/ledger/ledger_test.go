package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shineshop/shinebot/internal/shinebot/ledger"
)

// TestParseWellFormed verifies that valid lines produce entries in file order.
func TestParseWellFormed(t *testing.T) {
	records := ledger.Parse("u1 : 2024-05-11T09:30:00Z\nu2 : 4")

	if records.Len() != 2 {
		t.Fatalf("got %d entries, want 2", records.Len())
	}
	if v, ok := records.Get("u1"); !ok || v != "2024-05-11T09:30:00Z" {
		t.Errorf("u1 = %q, %v", v, ok)
	}
	if v, ok := records.Get("u2"); !ok || v != "4" {
		t.Errorf("u2 = %q, %v", v, ok)
	}
}

// TestParseDropsMalformedLines verifies that lines without a well-formed
// "key : value" split are skipped rather than failing the whole parse.
func TestParseDropsMalformedLines(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty line", ""},
		{"no separator", "u1=5"},
		{"empty key", " : 5"},
		{"empty value", "u1 : "},
		{"bare key", "u1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ledger.Parse(tc.input).Len(); got != 0 {
				t.Errorf("Parse(%q).Len() = %d, want 0", tc.input, got)
			}
		})
	}
}

// TestParseDuplicateKeyLastWins verifies last-write-wins for duplicate keys
// in a malformed source file.
func TestParseDuplicateKeyLastWins(t *testing.T) {
	records := ledger.Parse("u1 : a\nu1 : b")

	if records.Len() != 1 {
		t.Fatalf("got %d entries, want 1", records.Len())
	}
	if v, _ := records.Get("u1"); v != "b" {
		t.Errorf("u1 = %q, want %q", v, "b")
	}
}

// TestFormatRoundTrip verifies that Format(Parse(x)) reproduces x for
// well-formed input, and that insertion order is preserved.
func TestFormatRoundTrip(t *testing.T) {
	input := "u1 : a\nu2 : b\nu3 : c"

	if got := ledger.Format(ledger.Parse(input)); got != input {
		t.Errorf("round trip changed data:\n got: %q\nwant: %q", got, input)
	}
}

// TestRecordsSetKeepsPosition verifies that updating an existing key does not
// move it to the end.
func TestRecordsSetKeepsPosition(t *testing.T) {
	records := ledger.NewRecords()
	records.Set("u1", "a")
	records.Set("u2", "b")
	records.Set("u1", "c")

	if got := ledger.Format(records); got != "u1 : c\nu2 : b" {
		t.Errorf("Format = %q", got)
	}
}

// TestFileTableMissingFile verifies that loading a non-existent file yields
// an empty table, not an error.
func TestFileTableMissingFile(t *testing.T) {
	table := ledger.NewFileTable(filepath.Join(t.TempDir(), "absent.txt"))

	records, err := table.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if records.Len() != 0 {
		t.Errorf("got %d entries, want 0", records.Len())
	}
}

// TestFileTableSaveLoad verifies the write-then-read round trip through a
// real file.
func TestFileTableSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.txt")
	table := ledger.NewFileTable(path)
	ctx := context.Background()

	records := ledger.NewRecords()
	records.Set("u1", "3")
	records.Set("u2", "7")
	if err := table.Save(ctx, records); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := table.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v, _ := loaded.Get("u1"); v != "3" {
		t.Errorf("u1 = %q, want 3", v)
	}
	if v, _ := loaded.Get("u2"); v != "7" {
		t.Errorf("u2 = %q, want 7", v)
	}

	// The on-disk format is exactly one pair per line.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "u1 : 3\nu2 : 7" {
		t.Errorf("file content = %q", string(data))
	}
}

// TestFileTableSaveOverwrites verifies that Save replaces the previous
// content instead of appending to it.
func TestFileTableSaveOverwrites(t *testing.T) {
	table := ledger.NewFileTable(filepath.Join(t.TempDir(), "dates.txt"))
	ctx := context.Background()

	first := ledger.NewRecords()
	first.Set("u1", "a")
	first.Set("u2", "b")
	if err := table.Save(ctx, first); err != nil {
		t.Fatalf("Save(1): %v", err)
	}

	second := ledger.NewRecords()
	second.Set("u1", "z")
	if err := table.Save(ctx, second); err != nil {
		t.Fatalf("Save(2): %v", err)
	}

	loaded, err := table.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 1 {
		t.Errorf("got %d entries, want 1", loaded.Len())
	}
	if _, ok := loaded.Get("u2"); ok {
		t.Error("u2 survived an overwrite")
	}
}

// TestUpdateFnErrorWritesNothing verifies that an error from the mutation
// callback leaves the table exactly as it was.
func TestUpdateFnErrorWritesNothing(t *testing.T) {
	ctx := context.Background()

	tables := map[string]ledger.Table{
		"file":   ledger.NewFileTable(filepath.Join(t.TempDir(), "t.txt")),
		"memory": ledger.NewMemTable(),
	}
	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			seed := ledger.NewRecords()
			seed.Set("u1", "1")
			if err := table.Save(ctx, seed); err != nil {
				t.Fatalf("Save: %v", err)
			}

			wantErr := errors.New("reject")
			err := table.Update(ctx, func(records *ledger.Records) error {
				records.Set("u1", "999")
				return wantErr
			})
			if !errors.Is(err, wantErr) {
				t.Fatalf("Update = %v, want %v", err, wantErr)
			}

			loaded, err := table.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if v, _ := loaded.Get("u1"); v != "1" {
				t.Errorf("u1 = %q, want 1 (failed Update wrote through)", v)
			}
		})
	}
}

// TestUpdateConcurrentWritersKeepAllEntries verifies that parallel Update
// calls for different keys do not clobber each other's entries. Load followed
// by Save would lose writes here because each writer rewrites the whole table
// from its own snapshot.
func TestUpdateConcurrentWritersKeepAllEntries(t *testing.T) {
	ctx := context.Background()

	tables := map[string]ledger.Table{
		"file":   ledger.NewFileTable(filepath.Join(t.TempDir(), "t.txt")),
		"memory": ledger.NewMemTable(),
	}
	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			const writers = 8

			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(key string) {
					defer wg.Done()
					err := table.Update(ctx, func(records *ledger.Records) error {
						records.Set(key, "x")
						return nil
					})
					if err != nil {
						t.Errorf("Update %s: %v", key, err)
					}
				}(fmt.Sprintf("u%d", i))
			}
			wg.Wait()

			loaded, err := table.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.Len() != writers {
				t.Errorf("got %d entries, want %d", loaded.Len(), writers)
			}
		})
	}
}

// TestMemTableIsolation verifies that mutating a loaded copy does not leak
// back into the table without a Save.
func TestMemTableIsolation(t *testing.T) {
	table := ledger.NewMemTable()
	ctx := context.Background()

	records := ledger.NewRecords()
	records.Set("u1", "1")
	if err := table.Save(ctx, records); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, _ := table.Load(ctx)
	loaded.Set("u1", "999")

	again, _ := table.Load(ctx)
	if v, _ := again.Get("u1"); v != "1" {
		t.Errorf("u1 = %q, want 1 (loaded copy leaked into the table)", v)
	}
}
