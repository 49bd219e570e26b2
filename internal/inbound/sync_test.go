package inbound

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/callcatcherops/autonomy/internal/ledger"
	"github.com/callcatcherops/autonomy/internal/store"
)

var syncNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func newSyncStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "autonomy.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	st.SetClock(func() time.Time { return syncNow })
	return st
}

func seed(t *testing.T, st *store.Store, l store.Lead, status store.LeadStatus) {
	t.Helper()
	ctx := context.Background()
	if _, err := st.UpsertLead(ctx, l); err != nil {
		t.Fatal(err)
	}
	if status != store.StatusNew {
		if err := st.SetLeadStatus(ctx, l.ID, status); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSyncAppliesSignals(t *testing.T) {
	st := newSyncStore(t)
	ctx := context.Background()
	seed(t, st, store.Lead{ID: "a", Email: "a@acme.com", Phone: "+15125550100"}, store.StatusContacted)
	seed(t, st, store.Lead{ID: "b", Email: "b@acme.com"}, store.StatusContacted)
	seed(t, st, store.Lead{ID: "c", Phone: "+15125550111"}, store.StatusContacted)

	src := &StaticSource{Signals: []Signal{
		{ID: "m1", Channel: store.ChannelEmail, From: "a@acme.com", Body: "Yes, interested"},
		{ID: "m2", Channel: store.ChannelEmail, From: "mailer-daemon@mx.net", Body: "Final-Recipient: rfc822; b@acme.com\nDiagnostic-Code: 550"},
		{ID: "m3", Channel: store.ChannelSMS, From: "+15125550111", Body: "stop"},
		{ID: "m4", Channel: store.ChannelEmail, From: "stranger@nowhere.com", Body: "hello"},
		{ID: "m5", Channel: store.ChannelSMS, From: "+15125550199", Body: "STOP"},
		{ID: "m6", Channel: store.ChannelEmail, Kind: KindBooking, Contact: "unknown@else.com", Source: "calendly"},
	}}
	led := ledger.New(st).WithRun("run-1")
	sy := NewSyncer(st, led, src)
	sy.SetClock(func() time.Time { return syncNow })

	got, err := sy.Sync(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	want := Counts{Fetched: 6, Unmatched: 3, Replies: 1, Bounces: 1, OptOuts: 2, Bookings: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
	if got.BusinessOutcomes() != 2 {
		t.Fatalf("business outcomes: %d", got.BusinessOutcomes())
	}

	statuses := map[string]store.LeadStatus{}
	for _, id := range []string{"a", "b", "c"} {
		l, _, _ := st.GetLead(ctx, id)
		statuses[id] = l.Status
	}
	wantStatus := map[string]store.LeadStatus{"a": store.StatusReplied, "b": store.StatusBounced, "c": store.StatusOptedOut}
	if diff := cmp.Diff(wantStatus, statuses); diff != "" {
		t.Fatalf("statuses (-want +got):\n%s", diff)
	}
	b, _, _ := st.GetLead(ctx, "b")
	if !b.EmailInvalid {
		t.Fatal("bounce must flag the email invalid")
	}

	// Opt-outs are kept even when no lead matches.
	if ok, _ := st.IsOptedOut(ctx, "+15125550199"); !ok {
		t.Fatal("unmatched opt-out not recorded")
	}

	entries, err := led.Entries(ctx, store.LedgerFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 ledger entries (3 matched + 1 unmatched opt-out), got %d", len(entries))
	}
	for _, e := range entries {
		if e.AgentID != ledger.AgentInbound || e.ActionType != ledger.ActionInbound {
			t.Fatalf("unexpected entry %+v", e)
		}
	}
}

func TestSyncIgnoresReplayedSignals(t *testing.T) {
	st := newSyncStore(t)
	ctx := context.Background()
	seed(t, st, store.Lead{ID: "a", Email: "a@acme.com"}, store.StatusContacted)

	sig := Signal{ID: "m1", Channel: store.ChannelEmail, From: "a@acme.com", Body: "call me"}
	sy := NewSyncer(st, ledger.New(st))
	if _, err := sy.Apply(ctx, sig); err != nil {
		t.Fatal(err)
	}
	c, err := sy.Apply(ctx, sig)
	if err != nil {
		t.Fatal(err)
	}
	if c.Duplicates != 1 || c.Replies != 0 {
		t.Fatalf("replay must be a no-op, got %+v", c)
	}
	actions, _ := st.ListActions(ctx, "a")
	if len(actions) != 1 {
		t.Fatalf("expected one inbound action, got %d", len(actions))
	}
}

// flakyStore fails the first RecordAction call.
type flakyStore struct {
	*store.Store
	failed bool
}

func (f *flakyStore) RecordAction(ctx context.Context, a store.Action) (string, error) {
	if !f.failed {
		f.failed = true
		return "", errors.New("database is locked")
	}
	return f.Store.RecordAction(ctx, a)
}

func TestSyncRetriesSignalAfterStoreFailure(t *testing.T) {
	st := newSyncStore(t)
	ctx := context.Background()
	seed(t, st, store.Lead{ID: "a", Email: "a@acme.com"}, store.StatusContacted)

	sig := Signal{ID: "m1", Channel: store.ChannelEmail, From: "a@acme.com", Body: "Yes, interested"}
	sy := NewSyncer(&flakyStore{Store: st}, ledger.New(st))
	if c, err := sy.Apply(ctx, sig); err == nil || c.Replies != 0 {
		t.Fatalf("expected the store failure to surface uncounted: %+v err=%v", c, err)
	}
	if seen, _ := st.SignalSeen(ctx, sig.Key()); seen {
		t.Fatal("failed signal must not be marked seen")
	}

	c, err := sy.Apply(ctx, sig)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if c.Duplicates != 0 || c.Replies != 1 {
		t.Fatalf("retry must apply the reply, got %+v", c)
	}
	l, _, _ := st.GetLead(ctx, "a")
	if l.Status != store.StatusReplied {
		t.Fatalf("status = %s, want replied", l.Status)
	}
	if seen, _ := st.SignalSeen(ctx, sig.Key()); !seen {
		t.Fatal("applied signal must be marked seen")
	}

	c, err = sy.Apply(ctx, sig)
	if err != nil || c.Duplicates != 1 {
		t.Fatalf("third apply must be a duplicate: %+v err=%v", c, err)
	}
}

func TestSyncReplyFromUncontactedLeadKeepsStatus(t *testing.T) {
	st := newSyncStore(t)
	ctx := context.Background()
	seed(t, st, store.Lead{ID: "a", Email: "a@acme.com"}, store.StatusNew)

	sy := NewSyncer(st, ledger.New(st))
	c, err := sy.Apply(ctx, Signal{Channel: store.ChannelEmail, From: "a@acme.com", Body: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Replies != 1 {
		t.Fatalf("reply not counted: %+v", c)
	}
	l, _, _ := st.GetLead(ctx, "a")
	if l.Status != store.StatusNew {
		t.Fatalf("status changed to %s", l.Status)
	}
	actions, _ := st.ListActions(ctx, "a")
	if len(actions) != 1 || actions[0].Direction != store.Inbound || actions[0].Outcome != store.OutcomeReplied {
		t.Fatalf("unexpected actions %+v", actions)
	}
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }
func (failingSource) Fetch(context.Context) ([]Signal, error) {
	return nil, errors.New("connection refused")
}

func TestSyncContinuesPastFailingSource(t *testing.T) {
	st := newSyncStore(t)
	seed(t, st, store.Lead{ID: "a", Email: "a@acme.com"}, store.StatusContacted)
	ok := &StaticSource{Signals: []Signal{{Channel: store.ChannelEmail, From: "a@acme.com", Body: "yes"}}}
	sy := NewSyncer(st, ledger.New(st), failingSource{}, ok)

	c, err := sy.Sync(context.Background())
	if err == nil {
		t.Fatal("expected source error")
	}
	if c.Replies != 1 {
		t.Fatalf("second source not applied: %+v", c)
	}
}

func TestFileSourceRotatesDropFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signals.jsonl")
	data := `{"id":"s1","channel":"sms","from":"+15125550100","body":"STOP"}
not json
{"id":"s2","channel":"email","from":"a@acme.com","body":"sure"}
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	src := NewFileSource(path)
	sigs, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(sigs) != 2 || sigs[0].ID != "s1" || sigs[1].ID != "s2" {
		t.Fatalf("unexpected signals %+v", sigs)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("drop file should be moved aside, stat err=%v", err)
	}
	again, err := src.Fetch(context.Background())
	if err != nil || len(again) != 0 {
		t.Fatalf("second fetch should be empty, got %d err=%v", len(again), err)
	}
	matches, _ := filepath.Glob(path + ".*.done")
	if len(matches) != 1 {
		t.Fatalf("expected one rotated file, got %v", matches)
	}
}
