package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/callcatcherops/autonomy/internal/ledger"
	"github.com/callcatcherops/autonomy/internal/policy"
	"github.com/callcatcherops/autonomy/internal/scoring"
	"github.com/callcatcherops/autonomy/internal/store"
)

const sampleCSV = `name,company,phone,email,category,city,state,notes,extra
Ann,Acme Plumbing,(512) 555-0100,Ann@AcmePlumbing.com,plumbing,Austin,tx,,x
,Front Desk Co,,,hvac,Dallas,TX,,
Bob,Bob's HVAC,512.555.0111,,hvac,Austin,TX,
,Scraped,,6a1f9c0d2e3b4a5f6c7d8e9f@cdn.example.com,,,,email=scrape,
`

func TestReadCSV(t *testing.T) {
	recs, err := ReadCSV(strings.NewReader(sampleCSV), "yelp")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("expected 4 records, got %d", len(recs))
	}
	want := Record{
		Line: 2, Name: "Ann", Company: "Acme Plumbing", Phone: "(512) 555-0100",
		Email: "Ann@AcmePlumbing.com", Service: "plumbing", City: "Austin", State: "TX", Source: "yelp",
	}
	if diff := cmp.Diff(want, recs[0]); diff != "" {
		t.Fatalf("first record (-want +got):\n%s", diff)
	}
	if recs[2].Notes != "" || recs[2].Line != 4 {
		t.Fatalf("short row not padded: %+v", recs[2])
	}
}

func TestReadCSVEmpty(t *testing.T) {
	recs, err := ReadCSV(strings.NewReader(""), "x")
	if err != nil || recs != nil {
		t.Fatalf("empty input: recs=%v err=%v", recs, err)
	}
}

func TestToLead(t *testing.T) {
	lead, ok := ToLead(Record{Email: " Ann@AcmePlumbing.com ", Phone: "512-555-0100", Company: "Acme"})
	if !ok {
		t.Fatal("expected usable lead")
	}
	if lead.ID != "ann@acmeplumbing.com" || lead.Phone != "+15125550100" || lead.EmailMethod != store.EmailMethodDirect {
		t.Fatalf("unexpected lead %+v", lead)
	}

	phoneOnly, ok := ToLead(Record{Phone: "5125550111", Email: "not-an-email"})
	if !ok || phoneOnly.ID != "+15125550111" || phoneOnly.Email != "" {
		t.Fatalf("phone-only lead: ok=%v %+v", ok, phoneOnly)
	}

	if _, ok := ToLead(Record{Company: "No Contact"}); ok {
		t.Fatal("lead without contact must be rejected")
	}
}

func TestIngest(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "autonomy.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	led := ledger.New(st).WithRun("run-1")
	in := New(st, led, scoring.New(scoring.DefaultWeights()))
	ctx := context.Background()

	path := filepath.Join(dir, "yelp_austin.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o600); err != nil {
		t.Fatal(err)
	}
	recs, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	res, err := in.Ingest(ctx, recs)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	// The hex-token address is dropped and that row has no phone.
	if diff := cmp.Diff(Result{Rows: 4, Created: 2, Invalid: 2}, res); diff != "" {
		t.Fatalf("result (-want +got):\n%s", diff)
	}

	ann, ok, _ := st.GetLead(ctx, "ann@acmeplumbing.com")
	if !ok {
		t.Fatal("ann not stored")
	}
	if ann.Score != 75 || ann.Source != "yelp_austin" || ann.Status != store.StatusNew {
		t.Fatalf("unexpected stored lead %+v", ann)
	}

	invalid, err := led.Entries(ctx, store.LedgerFilter{ReasonCode: policy.ReasonInvalidInput})
	if err != nil {
		t.Fatal(err)
	}
	if len(invalid) != 2 {
		t.Fatalf("expected 2 invalid_input entries, got %d", len(invalid))
	}

	again, err := in.Ingest(ctx, recs)
	if err != nil {
		t.Fatal(err)
	}
	if again.Created != 0 || again.Updated != 2 {
		t.Fatalf("re-ingest must update, got %+v", again)
	}
}

func TestIngestAddingEmailKeepsOneLead(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "autonomy.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	in := New(st, ledger.New(st).WithRun("run-1"), scoring.New(scoring.DefaultWeights()))
	ctx := context.Background()

	phoneOnly := Record{Line: 2, Company: "Acme Plumbing", Phone: "(512) 555-0100", Source: "yelp"}
	if _, err := in.Ingest(ctx, []Record{phoneOnly}); err != nil {
		t.Fatal(err)
	}
	withEmail := phoneOnly
	withEmail.Email = "owner@acmeplumbing.net"
	res, err := in.Ingest(ctx, []Record{withEmail})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Result{Rows: 1, Updated: 1}, res); diff != "" {
		t.Fatalf("result (-want +got):\n%s", diff)
	}

	counts, err := st.CountLeadsByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[store.StatusNew] != 1 {
		t.Fatalf("expected one lead after re-ingest, got %v", counts)
	}
	lead, ok, _ := st.GetLead(ctx, "+15125550100")
	if !ok || lead.Email != "owner@acmeplumbing.net" || lead.Phone != "+15125550100" {
		t.Fatalf("email not merged into the phone lead: ok=%v %+v", ok, lead)
	}

	// A later row without the email keeps the stored address.
	if _, err := in.Ingest(ctx, []Record{phoneOnly}); err != nil {
		t.Fatal(err)
	}
	lead, _, _ = st.GetLead(ctx, "+15125550100")
	if lead.Email != "owner@acmeplumbing.net" {
		t.Fatalf("email dropped by phone-only row: %+v", lead)
	}
}

func TestIngestCorrectedEmailUpdatesSameLead(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "autonomy.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	in := New(st, ledger.New(st).WithRun("run-1"), scoring.New(scoring.DefaultWeights()))
	ctx := context.Background()

	first := Record{Line: 2, Company: "Acme", Phone: "512-555-0100", Email: "ann@acmeplumbng.com"}
	if _, err := in.Ingest(ctx, []Record{first}); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkContactInvalid(ctx, "ann@acmeplumbng.com", store.ChannelEmail); err != nil {
		t.Fatal(err)
	}
	fixed := first
	fixed.Email = "ann@acmeplumbing.com"
	res, err := in.Ingest(ctx, []Record{fixed})
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 0 || res.Updated != 1 {
		t.Fatalf("corrected email must update, got %+v", res)
	}
	lead, ok, _ := st.GetLead(ctx, "ann@acmeplumbng.com")
	if !ok || lead.Email != "ann@acmeplumbing.com" || lead.EmailInvalid {
		t.Fatalf("unexpected lead after correction: ok=%v %+v", ok, lead)
	}
}
