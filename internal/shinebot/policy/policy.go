// Package policy decides whether a user may receive a credential right now.
//
// Two gates apply in strict order:
//
//  1. Cooldown window: at least CooldownDays must have elapsed since the
//     user's last issuance (first-time users pass automatically).
//  2. Interaction threshold: once the window has elapsed, the user must have
//     sent more than Threshold messages since the last issuance. This is an
//     anti-spam heuristic, not a replacement for the cooldown.
package policy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shineshop/shinebot/internal/shinebot/ledger"
)

const (
	// DefaultCooldownDays is the wait between successful issuances.
	DefaultCooldownDays = 22.0

	// DefaultThreshold is the interaction count a user must exceed during the
	// cooldown period to qualify for renewal.
	DefaultThreshold = 5
)

// Kind classifies an eligibility decision.
type Kind string

const (
	// FirstTime means the user has never been issued a credential.
	FirstTime Kind = "first_time"
	// Eligible means both the cooldown window and the interaction threshold
	// are satisfied.
	Eligible Kind = "eligible"
	// CoolingDown means the cooldown window has not elapsed yet.
	CoolingDown Kind = "cooling_down"
	// BelowInteractionThreshold means the window elapsed but the user has not
	// interacted enough since the last issuance.
	BelowInteractionThreshold Kind = "below_interaction_threshold"
)

// Eligibility is the result of an Evaluate call. RemainingMinutes and
// LastIssuedAt are meaningful only when Kind is CoolingDown.
type Eligibility struct {
	Kind             Kind
	RemainingMinutes int
	LastIssuedAt     time.Time
}

// Allowed reports whether the decision permits an issuance.
func (e Eligibility) Allowed() bool {
	return e.Kind == FirstTime || e.Kind == Eligible
}

// InteractionSource supplies the per-user interaction count together with a
// numeric flag. A *counter.Counter satisfies this.
type InteractionSource interface {
	Lookup(ctx context.Context, userID string) (count int, numeric bool, err error)
}

// Config holds the policy knobs. Zero values select the defaults.
type Config struct {
	// CooldownDays is the length of the cooldown window in (fractional) days.
	CooldownDays float64
	// Threshold is the interaction count that must be exceeded.
	Threshold int
	// Now overrides the wall clock, for tests.
	Now func() time.Time
}

// Policy evaluates eligibility against the timestamp ledger and the
// interaction counter.
type Policy struct {
	table        ledger.Table
	interactions InteractionSource
	cooldownDays float64
	threshold    int
	now          func() time.Time
}

// New returns a Policy over the given timestamp table and interaction source.
func New(table ledger.Table, interactions InteractionSource, cfg Config) *Policy {
	if cfg.CooldownDays <= 0 {
		cfg.CooldownDays = DefaultCooldownDays
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Policy{
		table:        table,
		interactions: interactions,
		cooldownDays: cfg.CooldownDays,
		threshold:    cfg.Threshold,
		now:          cfg.Now,
	}
}

// Evaluate decides whether userID may receive a credential now.
//
// The window comparison is inclusive: elapsed == window counts as satisfied.
// A stored timestamp that no longer parses is treated as "window elapsed" so
// a corrupted entry falls through to the threshold gate instead of locking
// the user out forever.
func (p *Policy) Evaluate(ctx context.Context, userID string) (Eligibility, error) {
	records, err := p.table.Load(ctx)
	if err != nil {
		return Eligibility{}, fmt.Errorf("policy: evaluate %s: %w", userID, err)
	}

	raw, ok := records.Get(userID)
	if !ok {
		return Eligibility{Kind: FirstTime}, nil
	}

	lastIssued, parseErr := time.Parse(time.RFC3339, raw)
	if parseErr == nil {
		elapsedDays := p.now().Sub(lastIssued).Hours() / 24
		if elapsedDays < p.cooldownDays {
			remaining := int(math.Ceil((p.cooldownDays - elapsedDays) * 24 * 60))
			return Eligibility{
				Kind:             CoolingDown,
				RemainingMinutes: remaining,
				LastIssuedAt:     lastIssued,
			}, nil
		}
	}

	count, numeric, err := p.interactions.Lookup(ctx, userID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("policy: evaluate %s: %w", userID, err)
	}
	if !numeric || count > p.threshold {
		return Eligibility{Kind: Eligible}, nil
	}
	return Eligibility{Kind: BelowInteractionThreshold}, nil
}

// MarkIssued records the current wall-clock time as the user's last-issuance
// timestamp. It is a plain upsert; timestamps only ever move forward because
// every write uses the current clock.
func (p *Policy) MarkIssued(ctx context.Context, userID string) error {
	err := p.table.Update(ctx, func(records *ledger.Records) error {
		records.Set(userID, p.now().UTC().Format(time.RFC3339))
		return nil
	})
	if err != nil {
		return fmt.Errorf("policy: mark issued %s: %w", userID, err)
	}
	return nil
}
