package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/callcatcherops/autonomy/internal/hygiene"
	"github.com/callcatcherops/autonomy/internal/ledger"
	"github.com/callcatcherops/autonomy/internal/policy"
	"github.com/callcatcherops/autonomy/internal/store"
)

// Store is the subset of *store.Store used for ingestion.
type Store interface {
	UpsertLead(ctx context.Context, l store.Lead) (bool, error)
	FindLeadByContact(ctx context.Context, contact string) (store.Lead, bool, error)
}

// Ledger is implemented by *ledger.Logger.
type Ledger interface {
	Log(ctx context.Context, e store.LedgerEntry) (store.LedgerEntry, error)
}

// Scorer is implemented by *scoring.Scorer.
type Scorer interface {
	Score(l store.Lead) int
}

// Result counts one Ingest call.
type Result struct {
	Rows    int `json:"rows"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Invalid int `json:"invalid"`
}

// Ingester normalizes, scores and upserts records.
type Ingester struct {
	store  Store
	ledger Ledger
	scorer Scorer
}

func New(st Store, led Ledger, scorer Scorer) *Ingester {
	return &Ingester{store: st, ledger: led, scorer: scorer}
}

// Ingest upserts every usable record. A row with neither a valid email nor a
// valid phone is skipped with an invalid_input ledger entry. Only store and
// ledger failures are returned.
func (in *Ingester) Ingest(ctx context.Context, records []Record) (Result, error) {
	var res Result
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Rows++
		lead, ok := ToLead(rec)
		if !ok {
			res.Invalid++
			slog.Debug("ingest: row has no usable contact", "line", rec.Line, "source", rec.Source)
			if _, err := in.ledger.Log(ctx, store.LedgerEntry{
				AgentID:    ledger.AgentIngest,
				ActionType: ledger.ActionIngest,
				ReasonCode: policy.ReasonInvalidInput,
				Metadata: map[string]any{
					"line":    rec.Line,
					"source":  rec.Source,
					"company": rec.Company,
					"email":   rec.Email,
					"phone":   rec.Phone,
				},
			}); err != nil {
				return res, err
			}
			continue
		}
		lead, err := in.resolve(ctx, lead)
		if err != nil {
			return res, fmt.Errorf("ingest line %d: %w", rec.Line, err)
		}
		lead.Score = in.scorer.Score(lead)
		created, err := in.store.UpsertLead(ctx, lead)
		if err != nil {
			return res, fmt.Errorf("ingest line %d: %w", rec.Line, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res, nil
}

// resolve keeps the id of a lead already stored under the record's email or
// phone, so adding or correcting an email never forks a phone-only lead. A
// contact missing from the record is taken from the stored lead.
func (in *Ingester) resolve(ctx context.Context, lead store.Lead) (store.Lead, error) {
	for _, contact := range lead.Contacts() {
		existing, ok, err := in.store.FindLeadByContact(ctx, contact)
		if err != nil {
			return lead, fmt.Errorf("find lead %s: %w", contact, err)
		}
		if !ok {
			continue
		}
		lead.ID = existing.ID
		if lead.Email == "" && existing.Email != "" {
			lead.Email = existing.Email
			lead.EmailMethod = existing.EmailMethod
		}
		if lead.Phone == "" {
			lead.Phone = existing.Phone
		}
		return lead, nil
	}
	return lead, nil
}

// ToLead normalizes a record. The id is the lower-cased email, or the E.164
// phone when there is no email. It reports false when neither contact is
// usable.
func ToLead(rec Record) (store.Lead, bool) {
	email := hygiene.NormalizeEmail(rec.Email)
	if !strings.Contains(email, "@") || !hygiene.IsSaneEmail(email) {
		email = ""
	}
	phone := hygiene.NormalizePhone(rec.Phone)

	id := email
	if id == "" {
		id = phone
	}
	if id == "" {
		return store.Lead{}, false
	}
	method := store.EmailMethodUnknown
	if email != "" {
		method = hygiene.InferEmailMethod(email, rec.EmailMethod, rec.Notes)
	}
	return store.Lead{
		ID:          id,
		Name:        rec.Name,
		Company:     rec.Company,
		Service:     rec.Service,
		City:        rec.City,
		State:       rec.State,
		Phone:       phone,
		Email:       email,
		Source:      rec.Source,
		Notes:       rec.Notes,
		EmailMethod: method,
	}, true
}
