package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shineshop/shinebot/internal/shinebot/pool"
)

// Pool returns a pool.Source backed by the credentials table. Withdrawal runs
// in a transaction, so race safety comes from SQLite itself rather than an
// in-process mutex.
func (s *Store) Pool(sharedSecret string) pool.Source {
	return &sqlitePool{store: s, sharedSecret: sharedSecret}
}

// AddCredentials appends identifiers to the back of the credential queue.
// Used by provisioning scripts and tests.
func (s *Store) AddCredentials(ctx context.Context, identifiers ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: add credentials: %w", err)
	}
	for _, id := range identifiers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO credentials (identifier) VALUES (?)`, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: add credentials: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: add credentials: %w", err)
	}
	return nil
}

// sqlitePool implements pool.Source over the credentials table.
type sqlitePool struct {
	store        *Store
	sharedSecret string
}

// WithdrawOne deletes and returns the head of the queue inside one
// transaction.
func (p *sqlitePool) WithdrawOne(ctx context.Context) (pool.Credential, error) {
	tx, err := p.store.db.BeginTx(ctx, nil)
	if err != nil {
		return pool.Credential{}, fmt.Errorf("store: withdraw credential: %w", err)
	}

	var position int64
	var identifier string
	err = tx.QueryRowContext(ctx, `
		SELECT position, identifier FROM credentials
		ORDER BY position LIMIT 1
	`).Scan(&position, &identifier)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		return pool.Credential{}, pool.ErrEmpty
	}
	if err != nil {
		tx.Rollback()
		return pool.Credential{}, fmt.Errorf("store: withdraw credential: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE position = ?`, position); err != nil {
		tx.Rollback()
		return pool.Credential{}, fmt.Errorf("store: withdraw credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return pool.Credential{}, fmt.Errorf("store: withdraw credential: %w", err)
	}

	return pool.Credential{Identifier: identifier, Secret: p.sharedSecret}, nil
}

// Remaining counts the credentials left in the queue.
func (p *sqlitePool) Remaining(ctx context.Context) (int, error) {
	var n int
	if err := p.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count credentials: %w", err)
	}
	return n, nil
}
