package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shineshop/shinebot/internal/shinebot/ledger"
)

// LedgerTable returns a ledger.Table view over the named SQLite table
// partition. All partitions share the ledger_entries table, keyed by name.
func (s *Store) LedgerTable(name string) ledger.Table {
	return &sqliteTable{store: s, name: name}
}

// sqliteTable implements ledger.Table over the ledger_entries table.
type sqliteTable struct {
	store *Store
	name  string
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Load reads the whole partition in insertion order. A partition with no rows
// loads as an empty Records.
func (t *sqliteTable) Load(ctx context.Context) (*ledger.Records, error) {
	return t.loadFrom(ctx, t.store.db)
}

// Save replaces the whole partition in one transaction.
func (t *sqliteTable) Save(ctx context.Context, records *ledger.Records) error {
	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: save ledger %q: %w", t.name, err)
	}
	if err := t.replaceIn(ctx, tx, records); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: save ledger %q: %w", t.name, err)
	}
	return nil
}

// Update reads, mutates, and rewrites the partition inside one transaction,
// so a concurrent writer cannot interleave with the cycle and have its rows
// clobbered by a stale snapshot. When fn fails, the transaction rolls back.
func (t *sqliteTable) Update(ctx context.Context, fn func(*ledger.Records) error) error {
	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: update ledger %q: %w", t.name, err)
	}

	records, err := t.loadFrom(ctx, tx)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := fn(records); err != nil {
		tx.Rollback()
		return err
	}
	if err := t.replaceIn(ctx, tx, records); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: update ledger %q: %w", t.name, err)
	}
	return nil
}

// loadFrom reads the partition through q (the pooled connection or an open
// transaction).
func (t *sqliteTable) loadFrom(ctx context.Context, q querier) (*ledger.Records, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT key, value FROM ledger_entries
		WHERE table_name = ?
		ORDER BY position
	`, t.name)
	if err != nil {
		return nil, fmt.Errorf("store: load ledger %q: %w", t.name, err)
	}
	defer rows.Close()

	records := ledger.NewRecords()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("store: load ledger %q: %w", t.name, err)
		}
		records.Set(k, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load ledger %q: %w", t.name, err)
	}
	return records, nil
}

// replaceIn deletes and reinserts the partition rows within tx.
func (t *sqliteTable) replaceIn(ctx context.Context, tx *sql.Tx, records *ledger.Records) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE table_name = ?`, t.name); err != nil {
		return fmt.Errorf("store: save ledger %q: %w", t.name, err)
	}
	for i, key := range records.Keys() {
		value, _ := records.Get(key)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (table_name, key, value, position)
			VALUES (?, ?, ?, ?)
		`, t.name, key, value, i)
		if err != nil {
			return fmt.Errorf("store: save ledger %q: %w", t.name, err)
		}
	}
	return nil
}
