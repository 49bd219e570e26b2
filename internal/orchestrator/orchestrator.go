// Package orchestrator composes one outreach run: ingest, inbound sync,
// hygiene, gate, stop-loss, sequencing, dispatch and reporting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/callcatcherops/autonomy/internal/channels"
	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/gate"
	"github.com/callcatcherops/autonomy/internal/gateway"
	"github.com/callcatcherops/autonomy/internal/governor"
	"github.com/callcatcherops/autonomy/internal/hygiene"
	"github.com/callcatcherops/autonomy/internal/inbound"
	"github.com/callcatcherops/autonomy/internal/ingest"
	"github.com/callcatcherops/autonomy/internal/ledger"
	"github.com/callcatcherops/autonomy/internal/metrics"
	"github.com/callcatcherops/autonomy/internal/policy"
	"github.com/callcatcherops/autonomy/internal/report"
	"github.com/callcatcherops/autonomy/internal/scoring"
	"github.com/callcatcherops/autonomy/internal/sequencer"
	"github.com/callcatcherops/autonomy/internal/store"
)

// ErrIntegrity wraps failures that abort a run before any dispatch.
var ErrIntegrity = errors.New("run aborted")

// candidateStatuses are the lead states the sequencer considers. bounced,
// bad_email and bad_phone only rule out the matching channel; the policy
// engine decides per channel.
var candidateStatuses = []store.LeadStatus{
	store.StatusNew, store.StatusContacted,
	store.StatusBounced, store.StatusBadEmail, store.StatusBadPhone,
}

// Orchestrator runs the outreach pipeline against one store.
type Orchestrator struct {
	cfg      *config.Config
	store    *store.Store
	ledger   *ledger.Logger
	checker  *hygiene.Checker
	scorer   *scoring.Scorer
	engine   policy.Engine
	gate     *gate.Gate
	governor *governor.Governor
	outcomes *channels.OutcomeTable
	priority []store.Channel

	gatewayOpts []gateway.Option
	sources     []inbound.Source
	resolver    hygiene.MXResolver
	metrics     *metrics.Metrics
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGatewayOptions adds transports, renderers and pacing for dispatch.
func WithGatewayOptions(opts ...gateway.Option) Option {
	return func(o *Orchestrator) { o.gatewayOpts = append(o.gatewayOpts, opts...) }
}

// WithSources sets the inbound signal sources.
func WithSources(srcs ...inbound.Source) Option {
	return func(o *Orchestrator) { o.sources = append(o.sources, srcs...) }
}

// WithResolver overrides the MX resolver used by hygiene.
func WithResolver(r hygiene.MXResolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithMetrics records every run into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New wires the run components from cfg. cfg must already be validated.
func New(cfg *config.Config, st *store.Store, led *ledger.Logger, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:      cfg,
		store:    st,
		ledger:   led,
		scorer:   scoring.New(scoring.WeightsFromConfig(cfg.Scoring)),
		governor: governor.New(cfg.StopLoss),
		gate:     gate.New(st),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	table, err := channels.NewOutcomeTable(cfg.Channels.Voice.OutcomeMap)
	if err != nil {
		return nil, fmt.Errorf("voice outcome map: %w", err)
	}
	o.outcomes = table
	o.checker = hygiene.NewChecker(cfg.Hygiene, o.resolver)
	o.engine = policy.NewDefaultEngine(cfg, o.checker)
	o.gate.SetClock(o.now)

	for _, name := range cfg.Run.Priority {
		ch, ok := store.ParseChannel(name)
		if !ok {
			return nil, fmt.Errorf("run.priority: unknown channel %q", name)
		}
		o.priority = append(o.priority, ch)
	}
	return o, nil
}

// Run executes one pass. Integrity failures return an error wrapping
// ErrIntegrity and nothing has been dispatched. A non-nil report may
// accompany an error raised after dispatch, such as a failed state save.
func (o *Orchestrator) Run(ctx context.Context) (*report.Report, error) {
	runID := uuid.NewString()
	started := o.now()
	led := o.ledger.WithRun(runID)
	rep := report.New(runID, o.cfg.Run.Mode, started)
	log := slog.With("run_id", runID)
	dryRun := o.cfg.Run.Mode == config.ModeDryRun

	log.Info("Run starting", "mode", o.cfg.Run.Mode)

	state, err := governor.Load(o.cfg.Paths.StatePath)
	if err != nil {
		return nil, fmt.Errorf("%w: stop-loss state: %w", ErrIntegrity, err)
	}
	if err := o.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: context store unreachable: %w", ErrIntegrity, err)
	}

	if err := o.ingest(ctx, led, rep); err != nil {
		return nil, fmt.Errorf("%w: ingest: %w", ErrIntegrity, err)
	}

	syncer := inbound.NewSyncer(o.store, led, o.sources...)
	syncer.SetClock(o.now)
	syncer.SetRunID(runID)
	counts, err := syncer.Sync(ctx)
	rep.Inbound = counts
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rep.Warn("inbound sync: %v", err)
	}

	excluded, err := o.hygiene(ctx, led, rep)
	if err != nil {
		return nil, fmt.Errorf("%w: hygiene: %w", ErrIntegrity, err)
	}

	gates, err := o.gate.Evaluate(ctx, o.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	rep.Gate = gates
	healthy := make(map[store.Channel]bool, len(gates))
	for ch, st := range gates {
		healthy[ch] = st.Healthy
		if !st.Healthy {
			log.Warn("Channel blocked by deliverability gate", "channel", ch, "rate", st.Rate, "threshold", st.Threshold, "outbound", st.Outbound)
		}
	}

	// The stop-loss verdict is fixed before any paid dispatch.
	stopLoss := make(map[store.Channel]bool, len(store.Channels))
	for _, ch := range store.Channels {
		stopLoss[ch] = o.governor.Allows(state, ch)
	}
	if state.Blocked {
		log.Warn("Stop-loss active; paid channels suppressed", "reason", state.BlockReason, "since", state.BlockedAt)
		if _, err := led.Log(ctx, store.LedgerEntry{
			AgentID:    ledger.AgentSequencer,
			ActionType: ledger.ActionStopLoss,
			Outcome:    "blocked",
			ReasonCode: policy.ReasonStopLossBlocked,
			Metadata:   map[string]any{"block_reason": state.BlockReason, "zero_outcome_runs": state.ZeroOutcomeRuns},
		}); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIntegrity, err)
		}
	}

	snap, err := o.store.Snapshot(ctx, store.LeadQuery{
		Statuses: candidateStatuses,
		Now:      o.now(),
		Limit:    o.cfg.Run.MaxLeads,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %w", ErrIntegrity, err)
	}
	if len(excluded) > 0 {
		kept := snap.Leads[:0]
		for _, l := range snap.Leads {
			if !excluded[l.ID] {
				kept = append(kept, l)
			}
		}
		snap.Leads = kept
	}

	decisions := sequencer.Plan(snap, sequencer.Env{
		Now:      o.now(),
		Priority: o.priority,
		Healthy:  healthy,
		StopLoss: stopLoss,
		Engine:   o.engine,
	})
	rep.LeadsEvaluated = len(decisions)

	var toSend []sequencer.Decision
	for _, d := range decisions {
		if d.Dispatch {
			toSend = append(toSend, d)
			continue
		}
		rep.PolicySkips[d.Reason]++
		if _, err := led.Log(ctx, skipEntry(d)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIntegrity, err)
		}
	}

	results := o.dispatch(ctx, led, runID, dryRun, toSend)
	for i, res := range results {
		ch := toSend[i].Channel
		switch {
		case res.Attempted || res.DryRun:
			rep.AddOutcome(ch, res.Outcome)
		case res.Reason != "" && res.Reason != policy.ReasonDispatchError:
			rep.PolicySkips[res.Reason]++
		}
		if res.Err != nil {
			rep.Errors[report.ErrorDispatch]++
		}
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	rep.BusinessOutcomes = counts.BusinessOutcomes()
	finished := o.now()
	if dryRun {
		rep.StopLoss = state
	} else {
		next := o.governor.Complete(state, runID, rep.BusinessOutcomes, finished)
		rep.StopLoss = next
		rep.StopLossTripped = next.Blocked && !state.Blocked
		if rep.StopLossTripped {
			log.Warn("Stop-loss tripped", "reason", next.BlockReason, "zero_outcome_runs", next.ZeroOutcomeRuns)
			if _, err := led.Log(ctx, store.LedgerEntry{
				AgentID:    ledger.AgentSequencer,
				ActionType: ledger.ActionStopLoss,
				Outcome:    "tripped",
				ReasonCode: next.BlockReason,
				Metadata:   map[string]any{"zero_outcome_runs": next.ZeroOutcomeRuns},
			}); err != nil {
				rep.Warn("stop-loss ledger entry: %v", err)
			}
		}
		if err := governor.Save(o.cfg.Paths.StatePath, next); err != nil {
			rep.FinishedAt = o.now()
			return rep, fmt.Errorf("save stop-loss state: %w", err)
		}
	}

	rep.FinishedAt = o.now()
	if o.metrics != nil {
		o.metrics.ObserveRun(rep)
	}
	log.Info("Run complete",
		"evaluated", rep.LeadsEvaluated,
		"dispatched", rep.TotalDispatched(),
		"errors", rep.TotalErrors(),
		"business_outcomes", rep.BusinessOutcomes,
		"stop_loss_blocked", rep.StopLoss.Blocked)
	return rep, nil
}

func skipEntry(d sequencer.Decision) store.LedgerEntry {
	e := store.LedgerEntry{
		AgentID:    ledger.AgentSequencer,
		ActionType: ledger.ActionSkip,
		LeadID:     d.Lead.ID,
		Channel:    d.Channel,
		Step:       d.Step,
		ReasonCode: d.Reason,
	}
	if len(d.Checks) > 0 {
		e.Metadata = map[string]any{"checks": d.Checks}
	}
	return e
}

// dispatch sends the planned decisions with bounded concurrency. Results
// are returned in decision order.
func (o *Orchestrator) dispatch(ctx context.Context, led *ledger.Logger, runID string, dryRun bool, decisions []sequencer.Decision) []gateway.Result {
	opts := []gateway.Option{gateway.WithClock(o.now), gateway.WithDryRun(dryRun)}
	opts = append(opts, o.gatewayOpts...)
	gw := gateway.New(o.store, led, o.outcomes, opts...)

	limit := o.cfg.Run.DispatchConcurrency
	if limit <= 0 {
		limit = 1
	}
	results := make([]gateway.Result, len(decisions))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, d := range decisions {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = gateway.Result{Reason: policy.ReasonDispatchError, Err: ctx.Err()}
				return nil
			}
			results[i] = gw.Dispatch(ctx, gateway.Request{
				RunID:   runID,
				Lead:    d.Lead,
				Channel: d.Channel,
				Step:    d.Step,
				Checks:  d.Checks,
			})
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) ingest(ctx context.Context, led *ledger.Logger, rep *report.Report) error {
	if len(o.cfg.Run.LeadSources) == 0 {
		return nil
	}
	in := ingest.New(o.store, led, o.scorer)
	for _, path := range o.cfg.Run.LeadSources {
		recs, err := ingest.ReadFile(path)
		if err != nil {
			slog.Warn("Lead source unreadable", "path", path, "error", err)
			rep.Warn("lead source %s: %v", path, err)
			if len(recs) == 0 {
				continue
			}
		}
		res, err := in.Ingest(ctx, recs)
		rep.Ingest.Rows += res.Rows
		rep.Ingest.Created += res.Created
		rep.Ingest.Updated += res.Updated
		rep.Ingest.Invalid += res.Invalid
		if err != nil {
			return err
		}
	}
	return nil
}

// hygiene re-validates candidate contacts and rescores changed leads. A lead
// whose update fails is returned in the excluded set.
func (o *Orchestrator) hygiene(ctx context.Context, led *ledger.Logger, rep *report.Report) (map[string]bool, error) {
	leads, err := o.store.QueryLeads(ctx, store.LeadQuery{Statuses: candidateStatuses})
	if err != nil {
		return nil, err
	}
	excluded := map[string]bool{}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(8)
	for _, lead := range leads {
		g.Go(func() error {
			res := o.checker.Check(ctx, lead)
			if !res.Changed {
				return nil
			}
			updated := res.Lead
			updated.Score = o.scorer.Score(updated)
			if _, err := o.store.UpsertLead(ctx, updated); err != nil {
				mu.Lock()
				excluded[lead.ID] = true
				rep.Errors[report.ErrorHygiene]++
				mu.Unlock()
				slog.Warn("Hygiene update failed; lead excluded from run", "lead_id", lead.ID, "error", err)
				_, lerr := led.Log(ctx, store.LedgerEntry{
					AgentID:    ledger.AgentHygiene,
					ActionType: ledger.ActionHygiene,
					LeadID:     lead.ID,
					ReasonCode: policy.ReasonHygieneError,
					Metadata:   map[string]any{"error": err.Error()},
				})
				return lerr
			}
			newlyInvalid := (updated.EmailInvalid && !lead.EmailInvalid) || (updated.PhoneInvalid && !lead.PhoneInvalid)
			if !newlyInvalid {
				return nil
			}
			meta := map[string]any{}
			if res.EmailReason != "" {
				meta["email_reason"] = res.EmailReason
			}
			if res.PhoneReason != "" {
				meta["phone_reason"] = res.PhoneReason
			}
			_, lerr := led.Log(ctx, store.LedgerEntry{
				AgentID:    ledger.AgentHygiene,
				ActionType: ledger.ActionHygiene,
				LeadID:     lead.ID,
				Outcome:    "contact_invalid",
				ReasonCode: policy.ReasonInvalidContact,
				Metadata:   meta,
			})
			return lerr
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return excluded, nil
}
