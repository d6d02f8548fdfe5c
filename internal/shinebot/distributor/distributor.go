// Package distributor is the heart of the bot: it decides whether a user may
// receive a credential, performs the issuance side effects, and sends the
// outcome back to the user.
//
// Per request the flow is evaluate → (withdraw → deliver → mark issued →
// reset counter) or a rejection message. Whatever happens, the user gets a
// reply: success sequence, cooldown notice, spam notice, exhaustion notice,
// or an error reply. Failures never escape Handle.
package distributor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	// The cooldown notice renders times in Asia/Ho_Chi_Minh; embed the zone
	// database so the lookup works in scratch containers too.
	_ "time/tzdata"

	"github.com/shineshop/shinebot/common/trace"
	"github.com/shineshop/shinebot/internal/shinebot/counter"
	"github.com/shineshop/shinebot/internal/shinebot/policy"
	"github.com/shineshop/shinebot/internal/shinebot/pool"
	"github.com/shineshop/shinebot/internal/shinebot/templates"
)

// DefaultTimeZone is where the page's audience lives; last-issuance times in
// cooldown notices are rendered in this zone.
const DefaultTimeZone = "Asia/Ho_Chi_Minh"

// Transport delivers text messages to platform users. The messenger Client
// satisfies this.
type Transport interface {
	SendText(ctx context.Context, userID, text string) error
}

// AuditLog records distribution attempts. *store.Store satisfies this; a nil
// AuditLog disables auditing.
type AuditLog interface {
	WriteIssuance(ctx context.Context, traceID, userID, outcome, credentialID string, steps []string, errorMsg string) (string, error)
}

// Issuance step names recorded in the audit log, in execution order.
// Delivery deliberately precedes the ledger writes; see outcome recording in
// the audit row for why the order is observable.
const (
	StepDeliver      = "deliver"
	StepMarkIssued   = "mark_issued"
	StepResetCounter = "reset_counter"
)

// Audit outcomes.
const (
	OutcomeIssued         = "issued"
	OutcomeExhausted      = "exhausted"
	OutcomeCoolingDown    = "cooling_down"
	OutcomeBelowThreshold = "below_threshold"
	OutcomeError          = "error"
)

// Config holds distributor options.
type Config struct {
	// TimeZone is the IANA zone for rendering last-issuance times. Defaults
	// to DefaultTimeZone; an unknown zone falls back to UTC.
	TimeZone string
	// Audit is optional.
	Audit AuditLog
}

// Distributor composes the policy, pool, counter, and transport.
type Distributor struct {
	policy    *policy.Policy
	pool      pool.Source
	counter   *counter.Counter
	transport Transport
	replies   *templates.Catalogue
	audit     AuditLog
	loc       *time.Location

	// locks serializes the evaluate → withdraw → mark sequence per user, so
	// duplicate webhook deliveries for the same user cannot double-issue.
	// Entries are never evicted; the map is bounded by the number of distinct
	// requesters over the process lifetime.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Distributor.
func New(pol *policy.Policy, src pool.Source, cnt *counter.Counter, transport Transport, replies *templates.Catalogue, cfg Config) *Distributor {
	zone := cfg.TimeZone
	if zone == "" {
		zone = DefaultTimeZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		slog.Warn("distributor: unknown time zone, using UTC", "zone", zone, "err", err)
		loc = time.UTC
	}
	return &Distributor{
		policy:    pol,
		pool:      src,
		counter:   cnt,
		transport: transport,
		replies:   replies,
		audit:     cfg.Audit,
		loc:       loc,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Handle runs the full distribution flow for one trigger message. It never
// returns an error; every failure ends in a logged generic reply.
func (d *Distributor) Handle(ctx context.Context, userID string) {
	unlock := d.lockUser(userID)
	defer unlock()

	eligibility, err := d.policy.Evaluate(ctx, userID)
	if err != nil {
		d.fail(ctx, userID, "evaluate eligibility", err, d.replies.InternalError, nil)
		return
	}

	switch eligibility.Kind {
	case policy.FirstTime, policy.Eligible:
		d.issue(ctx, userID)

	case policy.CoolingDown:
		d.rejectCoolingDown(ctx, userID, eligibility)

	case policy.BelowInteractionThreshold:
		d.send(ctx, userID, d.replies.Spam)
		d.writeAudit(ctx, userID, OutcomeBelowThreshold, "", nil, "")

	default:
		d.fail(ctx, userID, "classify eligibility",
			fmt.Errorf("unknown eligibility kind %q", eligibility.Kind),
			d.replies.InternalError, nil)
	}
}

// issue withdraws a credential and performs the issuance side effects in
// their fixed order: deliver the message sequence, persist the issuance
// timestamp, reset the interaction counter.
func (d *Distributor) issue(ctx context.Context, userID string) {
	cred, err := d.pool.WithdrawOne(ctx)
	if errors.Is(err, pool.ErrEmpty) {
		d.send(ctx, userID, d.replies.Exhausted)
		d.writeAudit(ctx, userID, OutcomeExhausted, "", nil, "")
		return
	}
	if err != nil {
		d.fail(ctx, userID, "withdraw credential", err, d.replies.IssueError, nil)
		return
	}

	log := slog.With("trace_id", trace.FromContext(ctx), "user", userID, "credential", cred.Identifier)
	log.Info("credential withdrawn")

	var steps []string

	// Delivery first, ledger writes after. A crash between the two hands out
	// a credential without recording it; the audit steps make that window
	// visible. A single failed send does not stop the rest of the sequence.
	for _, msg := range d.replies.IssueSequence(cred.Identifier, cred.Secret) {
		d.send(ctx, userID, msg)
	}
	steps = append(steps, StepDeliver)

	if err := d.policy.MarkIssued(ctx, userID); err != nil {
		d.fail(ctx, userID, "record issuance timestamp", err, d.replies.IssueError, steps)
		return
	}
	steps = append(steps, StepMarkIssued)

	if err := d.counter.Reset(ctx, userID); err != nil {
		d.fail(ctx, userID, "reset interaction count", err, d.replies.IssueError, steps)
		return
	}
	steps = append(steps, StepResetCounter)

	log.Info("credential issued")
	d.writeAudit(ctx, userID, OutcomeIssued, cred.Identifier, steps, "")
}

// rejectCoolingDown sends the remaining-wait notice.
func (d *Distributor) rejectCoolingDown(ctx context.Context, userID string, e policy.Eligibility) {
	lastIssued := e.LastIssuedAt.In(d.loc).Format("15:04:05 2/1/2006")
	msg, err := d.replies.RenderCooldown(templates.CooldownVars{
		RemainingMinutes: e.RemainingMinutes,
		LastIssuedAt:     lastIssued,
	})
	if err != nil {
		d.fail(ctx, userID, "render cooldown notice", err, d.replies.InternalError, nil)
		return
	}
	d.send(ctx, userID, msg)
	d.writeAudit(ctx, userID, OutcomeCoolingDown, "", nil, "")
}

// fail logs an internal failure, emits the given error reply, and records the
// attempt. Failures inside the issuance path use the account-lookup reply;
// everything else uses the generic one.
func (d *Distributor) fail(ctx context.Context, userID, op string, err error, reply string, steps []string) {
	slog.Error("distribution failed",
		"trace_id", trace.FromContext(ctx), "user", userID, "op", op, "err", err)
	d.send(ctx, userID, reply)
	d.writeAudit(ctx, userID, OutcomeError, "", steps, fmt.Sprintf("%s: %v", op, err))
}

// send delivers one message. Transport failures are logged with sender
// context and swallowed so later messages in a sequence still go out.
func (d *Distributor) send(ctx context.Context, userID, text string) {
	if err := d.transport.SendText(ctx, userID, text); err != nil {
		slog.Error("send failed",
			"trace_id", trace.FromContext(ctx), "user", userID, "err", err)
	}
}

// writeAudit records the attempt; audit failures are logged, never surfaced.
func (d *Distributor) writeAudit(ctx context.Context, userID, outcome, credentialID string, steps []string, errorMsg string) {
	if d.audit == nil {
		return
	}
	traceID := trace.FromContext(ctx)
	if _, err := d.audit.WriteIssuance(ctx, traceID, userID, outcome, credentialID, steps, errorMsg); err != nil {
		slog.Warn("audit write failed", "trace_id", traceID, "user", userID, "err", err)
	}
}

// lockUser acquires the per-user mutex, creating it on first use, and
// returns the unlock func.
func (d *Distributor) lockUser(userID string) func() {
	d.mu.Lock()
	lock, ok := d.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[userID] = lock
	}
	d.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
