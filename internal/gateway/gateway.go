// Package gateway is the only path from a decision to an external send.
//
// Dispatch re-checks opt-outs against the live store, writes the ledger
// entry, then calls the transport under a timeout and records the outcome.
// A send is never attempted unless its ledger entry was written.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/callcatcherops/autonomy/internal/channels"
	"github.com/callcatcherops/autonomy/internal/ledger"
	"github.com/callcatcherops/autonomy/internal/policy"
	"github.com/callcatcherops/autonomy/internal/store"
)

// OutcomeDryRun marks a ledger entry for a send that dry-run mode skipped.
const OutcomeDryRun = "dry_run"

// Store is the subset of *store.Store the gateway writes to.
type Store interface {
	IsOptedOut(ctx context.Context, contacts ...string) (bool, error)
	RecordAction(ctx context.Context, a store.Action) (string, error)
	TouchLead(ctx context.Context, id string, at time.Time) error
	SetLeadStatus(ctx context.Context, id string, to store.LeadStatus) error
	MarkContactInvalid(ctx context.Context, id string, ch store.Channel) error
}

// Ledger is implemented by *ledger.Logger.
type Ledger interface {
	Log(ctx context.Context, e store.LedgerEntry) (store.LedgerEntry, error)
}

// Renderer is implemented by *channels.Renderer.
type Renderer interface {
	Render(step int, data channels.TemplateData) (string, string, error)
}

// Request asks for one send.
type Request struct {
	RunID   string
	Lead    store.Lead
	Channel store.Channel
	Step    int
	Checks  map[store.Channel]string
}

// Result reports what Dispatch did.
type Result struct {
	// Attempted is true when the transport was called.
	Attempted bool
	DryRun    bool
	Outcome   string
	// Reason is set when the send was suppressed or failed.
	Reason   string
	ActionID string
	Err      error
}

// Gateway dispatches through per-channel transports.
type Gateway struct {
	store      Store
	ledger     Ledger
	transports map[store.Channel]channels.Transport
	renderers  map[store.Channel]Renderer
	timeouts   map[store.Channel]time.Duration
	outcomes   *channels.OutcomeTable
	limiter    *rate.Limiter
	dryRun     bool
	now        func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTransport registers the transport for its channel.
func WithTransport(t channels.Transport, timeout time.Duration) Option {
	return func(g *Gateway) {
		g.transports[t.Channel()] = t
		g.timeouts[t.Channel()] = timeout
	}
}

// WithRenderer sets the message renderer for a channel.
func WithRenderer(ch store.Channel, r Renderer) Option {
	return func(g *Gateway) { g.renderers[ch] = r }
}

// WithRateLimit paces sends across all channels. perSec <= 0 disables pacing.
func WithRateLimit(perSec float64) Option {
	return func(g *Gateway) {
		if perSec > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
}

// WithDryRun writes ledger entries but never calls a transport.
func WithDryRun(on bool) Option {
	return func(g *Gateway) { g.dryRun = on }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New builds a Gateway. outcomes normalizes voice dispositions.
func New(st Store, led Ledger, outcomes *channels.OutcomeTable, opts ...Option) *Gateway {
	g := &Gateway{
		store:      st,
		ledger:     led,
		transports: map[store.Channel]channels.Transport{},
		renderers:  map[store.Channel]Renderer{},
		timeouts:   map[store.Channel]time.Duration{},
		outcomes:   outcomes,
		now:        time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Dispatch performs one send. Collaborator failures are reported in the
// Result, never as a panic or aborted run.
func (g *Gateway) Dispatch(ctx context.Context, req Request) Result {
	lead := req.Lead
	entry := store.LedgerEntry{
		AgentID: ledger.AgentSequencer,
		LeadID:  lead.ID,
		Channel: req.Channel,
		Step:    req.Step,
	}

	opted, err := g.store.IsOptedOut(ctx, lead.Contacts()...)
	if err != nil {
		return g.fail(ctx, entry, Result{}, fmt.Errorf("opt-out check: %w", err))
	}
	if opted {
		entry.ActionType = ledger.ActionSkip
		entry.ReasonCode = policy.ReasonOptedOut
		entry.Metadata = map[string]any{"stage": "pre_dispatch"}
		if _, err := g.ledger.Log(ctx, entry); err != nil {
			return Result{Reason: policy.ReasonOptedOut, Err: err}
		}
		return Result{Reason: policy.ReasonOptedOut}
	}

	transport, ok := g.transports[req.Channel]
	if !ok && !g.dryRun {
		return g.fail(ctx, entry, Result{}, fmt.Errorf("no transport for channel %s", req.Channel))
	}

	msg := channels.Message{LeadID: lead.ID, To: lead.Contact(req.Channel), Step: req.Step}
	if r, ok := g.renderers[req.Channel]; ok {
		msg.Subject, msg.Body, err = r.Render(req.Step, channels.NewTemplateData(lead, req.Step))
		if err != nil {
			return g.fail(ctx, entry, Result{}, fmt.Errorf("render: %w", err))
		}
	}

	intent := entry
	intent.ActionType = ledger.ActionDispatch
	intent.Metadata = map[string]any{"to": msg.To}
	if msg.Subject != "" {
		intent.Metadata["subject"] = msg.Subject
	}
	if len(req.Checks) > 0 {
		intent.Metadata["checks"] = req.Checks
	}
	if g.dryRun {
		intent.Outcome = OutcomeDryRun
		intent.Metadata["dry_run"] = true
	}
	if _, err := g.ledger.Log(ctx, intent); err != nil {
		// No audit trail, no send.
		return Result{Reason: policy.ReasonDispatchError, Err: err}
	}
	if g.dryRun {
		return Result{DryRun: true, Outcome: OutcomeDryRun}
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return g.fail(ctx, entry, Result{}, fmt.Errorf("rate limiter: %w", err))
		}
	}

	sendCtx := ctx
	if d := g.timeouts[req.Channel]; d > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	receipt, sendErr := transport.Send(sendCtx, msg)
	outcome := g.outcomeFor(req.Channel, receipt, sendErr)
	now := g.now()

	res := Result{Attempted: true, Outcome: outcome}
	meta := map[string]any{}
	for k, v := range receipt.Detail {
		meta[k] = v
	}
	if receipt.ID != "" {
		meta["message_id"] = receipt.ID
	}
	if req.Channel == store.ChannelVoice && receipt.Outcome != "" {
		meta["disposition"] = receipt.Outcome
	}
	invalid := channels.IsInvalidRecipient(sendErr)
	if sendErr != nil {
		meta["error"] = sendErr.Error()
	}
	if invalid {
		meta["invalid_recipient"] = true
	}

	actionID, err := g.store.RecordAction(ctx, store.Action{
		LeadID:    lead.ID,
		RunID:     req.RunID,
		Channel:   req.Channel,
		Direction: store.Outbound,
		Step:      req.Step,
		Outcome:   outcome,
		CreatedAt: now,
		Metadata:  meta,
	})
	if err != nil {
		slog.Error("Failed to record action", "lead_id", lead.ID, "channel", req.Channel, "error", err)
		res.Err = errors.Join(res.Err, err)
	}
	res.ActionID = actionID

	if err := g.store.TouchLead(ctx, lead.ID, now); err != nil {
		res.Err = errors.Join(res.Err, fmt.Errorf("touch lead: %w", err))
	}
	if sendErr == nil && outcome != store.OutcomeFailed && lead.Status == store.StatusNew {
		if err := g.store.SetLeadStatus(ctx, lead.ID, store.StatusContacted); err != nil {
			res.Err = errors.Join(res.Err, fmt.Errorf("set status: %w", err))
		}
	}
	if invalid {
		if err := g.invalidate(ctx, lead, req.Channel); err != nil {
			res.Err = errors.Join(res.Err, err)
		}
	}

	if sendErr != nil {
		return g.fail(ctx, entry, res, sendErr)
	}
	return res
}

// invalidate flags the contact a channel rejected so no later run retries it.
// A lead still in new or contacted moves to bad_email or bad_phone; other
// states keep their status and rely on the flag.
func (g *Gateway) invalidate(ctx context.Context, lead store.Lead, ch store.Channel) error {
	if err := g.store.MarkContactInvalid(ctx, lead.ID, ch); err != nil {
		return fmt.Errorf("mark contact invalid: %w", err)
	}
	to := store.StatusBadPhone
	if ch == store.ChannelEmail {
		to = store.StatusBadEmail
	}
	if lead.Status != store.StatusNew && lead.Status != store.StatusContacted {
		return nil
	}
	err := g.store.SetLeadStatus(ctx, lead.ID, to)
	if errors.Is(err, store.ErrInvalidTransition) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	slog.Info("Contact rejected as invalid", "lead_id", lead.ID, "channel", ch, "status", to)
	return nil
}

// outcomeFor maps a transport result to a canonical outcome. Rejections are
// failed; timeouts and network errors are failed for voice and error for the
// message channels.
func (g *Gateway) outcomeFor(ch store.Channel, r channels.Receipt, err error) string {
	if err != nil {
		var rej *channels.RejectedError
		if ch == store.ChannelVoice || errors.As(err, &rej) {
			return store.OutcomeFailed
		}
		return store.OutcomeError
	}
	if ch == store.ChannelVoice {
		return g.outcomes.Normalize(r.Outcome)
	}
	switch r.Outcome {
	case store.OutcomeSent, store.OutcomeFailed:
		return r.Outcome
	}
	return store.OutcomeFailed
}

// fail writes the dispatch_error entry.
func (g *Gateway) fail(ctx context.Context, entry store.LedgerEntry, res Result, cause error) Result {
	entry.ActionType = ledger.ActionDispatchError
	entry.ReasonCode = policy.ReasonDispatchError
	entry.Outcome = res.Outcome
	entry.Metadata = map[string]any{"error": cause.Error()}
	if _, err := g.ledger.Log(ctx, entry); err != nil {
		cause = errors.Join(cause, err)
	}
	if res.Err != nil {
		cause = errors.Join(cause, res.Err)
	}
	slog.Warn("Dispatch failed", "lead_id", entry.LeadID, "channel", entry.Channel, "error", cause)
	res.Reason = policy.ReasonDispatchError
	res.Err = cause
	return res
}
