// Package pool manages the finite queue of unissued account credentials.
//
// Withdrawal is destructive: a credential is durably removed from the pool
// before it is returned, so no two callers can ever receive the same
// identifier. There is no restock path in this subsystem; an exhausted pool
// stays exhausted until the backing store is replenished externally.
package pool

import (
	"context"
	"errors"
)

// ErrEmpty is returned by WithdrawOne when no credentials remain. It is a
// first-class outcome, not a failure; callers turn it into the "pool
// exhausted" user message.
var ErrEmpty = errors.New("pool: no credentials left")

// Credential is one shareable account. The Secret is the deployment-wide
// shared password; identifiers alone differentiate accounts.
type Credential struct {
	Identifier string
	Secret     string
}

// Source is the storage abstraction for the credential queue.
// Implementations: FilePool (production default), MemPool (tests), and the
// SQLite-backed pool in the store package.
type Source interface {
	// WithdrawOne removes and returns the first-inserted remaining credential.
	// The removal is durable before the credential is returned, and
	// implementations must be race-safe: concurrent withdrawals never yield
	// the same credential. Returns ErrEmpty when the pool has zero entries.
	WithdrawOne(ctx context.Context) (Credential, error)

	// Remaining reports how many credentials are left.
	Remaining(ctx context.Context) (int, error)
}
