// Package counter tracks per-user inbound message counts between credential
// issuances. The count feeds the interaction-threshold gate in the policy
// package and is reset to zero whenever a credential is handed out.
package counter

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shineshop/shinebot/internal/shinebot/ledger"
)

// Counter reads and writes the interaction-count ledger table.
type Counter struct {
	table ledger.Table
}

// New returns a Counter backed by the given ledger table.
func New(table ledger.Table) *Counter {
	return &Counter{table: table}
}

// Increment adds one to the user's count and persists the table. An absent or
// non-numeric stored value counts as zero, so the first increment yields 1.
// The new count is returned. The whole read-modify-write cycle runs under the
// table's Update serialization so concurrent increments for different users
// cannot overwrite each other.
func (c *Counter) Increment(ctx context.Context, userID string) (int, error) {
	next := 0
	err := c.table.Update(ctx, func(records *ledger.Records) error {
		current := 0
		if raw, ok := records.Get(userID); ok {
			if n, err := strconv.Atoi(raw); err == nil {
				current = n
			}
		}
		next = current + 1
		records.Set(userID, strconv.Itoa(next))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counter: increment %s: %w", userID, err)
	}
	return next, nil
}

// Reset sets the user's count to zero and persists the table, regardless of
// the prior value.
func (c *Counter) Reset(ctx context.Context, userID string) error {
	err := c.table.Update(ctx, func(records *ledger.Records) error {
		records.Set(userID, "0")
		return nil
	})
	if err != nil {
		return fmt.Errorf("counter: reset %s: %w", userID, err)
	}
	return nil
}

// Get returns the user's current count. Absent and non-numeric values both
// read as zero.
func (c *Counter) Get(ctx context.Context, userID string) (int, error) {
	count, _, err := c.Lookup(ctx, userID)
	return count, err
}

// Lookup returns the user's count together with a numeric flag. An absent
// entry is a numeric zero; only a present-but-unparseable value reports
// numeric=false. The policy package needs the distinction: a corrupted count
// must not lock a user out behind the interaction threshold.
func (c *Counter) Lookup(ctx context.Context, userID string) (count int, numeric bool, err error) {
	records, err := c.table.Load(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("counter: lookup %s: %w", userID, err)
	}

	raw, ok := records.Get(userID)
	if !ok {
		return 0, true, nil
	}
	n, convErr := strconv.Atoi(raw)
	if convErr != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// TrackedUsers returns the number of users with a count entry, for the
// status endpoint.
func (c *Counter) TrackedUsers(ctx context.Context) (int, error) {
	records, err := c.table.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("counter: tracked users: %w", err)
	}
	return records.Len(), nil
}
