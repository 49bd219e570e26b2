package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/callcatcherops/autonomy/internal/ledger"
	"github.com/callcatcherops/autonomy/internal/store"
)

// Store is the subset of *store.Store the syncer uses.
type Store interface {
	FindLeadByContact(ctx context.Context, contact string) (store.Lead, bool, error)
	RecordAction(ctx context.Context, a store.Action) (string, error)
	SetLeadStatus(ctx context.Context, id string, to store.LeadStatus) error
	MarkContactInvalid(ctx context.Context, id string, ch store.Channel) error
	AddOptOut(ctx context.Context, contact, source string) (bool, error)
	SignalSeen(ctx context.Context, id string) (bool, error)
	MarkSignalSeen(ctx context.Context, id string) (bool, error)
}

// Ledger is implemented by *ledger.Logger.
type Ledger interface {
	Log(ctx context.Context, e store.LedgerEntry) (store.LedgerEntry, error)
}

// Counts summarizes one Sync.
type Counts struct {
	Fetched    int `json:"fetched"`
	Duplicates int `json:"duplicates"`
	Unmatched  int `json:"unmatched"`
	Replies    int `json:"replies"`
	Bounces    int `json:"bounces"`
	OptOuts    int `json:"opt_outs"`
	Bookings   int `json:"bookings"`
	Payments   int `json:"payments"`
	Errors     int `json:"errors"`
}

// BusinessOutcomes is the number of replies, bookings and payments observed.
func (c Counts) BusinessOutcomes() int { return c.Replies + c.Bookings + c.Payments }

func (c *Counts) add(o Counts) {
	c.Fetched += o.Fetched
	c.Duplicates += o.Duplicates
	c.Unmatched += o.Unmatched
	c.Replies += o.Replies
	c.Bounces += o.Bounces
	c.OptOuts += o.OptOuts
	c.Bookings += o.Bookings
	c.Payments += o.Payments
	c.Errors += o.Errors
}

// Syncer applies signals to the store. It never creates leads.
type Syncer struct {
	store   Store
	ledger  Ledger
	sources []Source
	runID   string
	now     func() time.Time
}

// NewSyncer returns a Syncer reading from sources.
func NewSyncer(st Store, led Ledger, sources ...Source) *Syncer {
	return &Syncer{store: st, ledger: led, sources: sources, now: time.Now}
}

// SetClock overrides the time source.
func (s *Syncer) SetClock(now func() time.Time) { s.now = now }

// SetRunID stamps recorded actions with runID.
func (s *Syncer) SetRunID(runID string) { s.runID = runID }

// Sync fetches from every source and applies the signals. A failing source
// does not stop the others; its error is returned joined with the rest.
func (s *Syncer) Sync(ctx context.Context) (Counts, error) {
	var (
		total Counts
		errs  []error
	)
	for _, src := range s.sources {
		sigs, err := src.Fetch(ctx)
		if err != nil {
			slog.Warn("inbound: source failed", "source", src.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		}
		for _, sig := range sigs {
			if sig.Source == "" {
				sig.Source = src.Name()
			}
			c, err := s.Apply(ctx, sig)
			if err != nil {
				if ctx.Err() != nil {
					return total, ctx.Err()
				}
				slog.Warn("inbound: apply signal failed", "source", src.Name(), "id", sig.ID, "error", err)
				c.Errors++
			}
			total.add(c)
		}
	}
	return total, errors.Join(errs...)
}

// Apply classifies and applies one signal. Replays of a seen signal are
// counted as duplicates and change nothing. A signal is marked seen only
// after it was fully applied, so a failed apply is retried on the next sync.
func (s *Syncer) Apply(ctx context.Context, sig Signal) (Counts, error) {
	c := Counts{Fetched: 1}
	sig = Classify(sig)
	if sig.At.IsZero() {
		sig.At = s.now()
	}

	seen, err := s.store.SignalSeen(ctx, sig.Key())
	if err != nil {
		return c, err
	}
	if seen {
		c.Duplicates++
		return c, nil
	}
	applied, err := s.apply(ctx, sig)
	if err != nil {
		// Counted when the retry succeeds.
		return c, err
	}
	if _, err := s.store.MarkSignalSeen(ctx, sig.Key()); err != nil {
		return c, err
	}
	return applied, nil
}

func (s *Syncer) apply(ctx context.Context, sig Signal) (Counts, error) {
	c := Counts{Fetched: 1}

	if sig.Kind == KindOptOut {
		c.OptOuts++
		if sig.Contact != "" {
			if _, err := s.store.AddOptOut(ctx, sig.Contact, sig.Source); err != nil {
				return c, err
			}
		}
	}
	switch sig.Kind {
	case KindBooking:
		c.Bookings++
	case KindPayment:
		c.Payments++
	}

	lead, ok, err := s.store.FindLeadByContact(ctx, sig.Contact)
	if err != nil {
		return c, fmt.Errorf("find lead: %w", err)
	}
	if !ok {
		c.Unmatched++
		slog.Debug("inbound: no lead for signal", "kind", sig.Kind, "contact", sig.Contact)
		if sig.Kind == KindOptOut {
			return c, s.log(ctx, sig, "")
		}
		return c, nil
	}

	switch sig.Kind {
	case KindReply:
		c.Replies++
	case KindBounce:
		c.Bounces++
	}

	if _, err := s.store.RecordAction(ctx, store.Action{
		LeadID:    lead.ID,
		RunID:     s.runID,
		Channel:   sig.Channel,
		Direction: store.Inbound,
		Outcome:   sig.Kind,
		CreatedAt: sig.At,
		Metadata:  map[string]any{"source": sig.Source, "signal_id": sig.Key(), "subject": sig.Subject},
	}); err != nil {
		return c, err
	}

	if err := s.transition(ctx, lead, sig); err != nil {
		return c, err
	}
	return c, s.log(ctx, sig, lead.ID)
}

func (s *Syncer) transition(ctx context.Context, lead store.Lead, sig Signal) error {
	var to store.LeadStatus
	switch sig.Kind {
	case KindReply:
		to = store.StatusReplied
	case KindOptOut:
		to = store.StatusOptedOut
	case KindBounce:
		if err := s.store.MarkContactInvalid(ctx, lead.ID, store.ChannelEmail); err != nil {
			return err
		}
		to = store.StatusBounced
	default:
		return nil
	}
	err := s.store.SetLeadStatus(ctx, lead.ID, to)
	if errors.Is(err, store.ErrInvalidTransition) {
		// e.g. a reply from a lead we never contacted, or a bounce after an
		// opt-out. The action is still recorded.
		slog.Debug("inbound: status unchanged", "lead", lead.ID, "status", lead.Status, "to", to)
		return nil
	}
	return err
}

func (s *Syncer) log(ctx context.Context, sig Signal, leadID string) error {
	_, err := s.ledger.Log(ctx, store.LedgerEntry{
		AgentID:    ledger.AgentInbound,
		ActionType: ledger.ActionInbound,
		LeadID:     leadID,
		Channel:    sig.Channel,
		Outcome:    sig.Kind,
		Metadata: map[string]any{
			"source":    sig.Source,
			"contact":   sig.Contact,
			"signal_id": sig.Key(),
		},
	})
	return err
}
