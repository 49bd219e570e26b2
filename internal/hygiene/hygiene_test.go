package hygiene

import (
	"context"
	"net"
	"testing"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/store"
)

type fakeResolver struct {
	records map[string][]*net.MX
	calls   int
}

func (f *fakeResolver) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	f.calls++
	if mx, ok := f.records[name]; ok {
		return mx, nil
	}
	if name == "flaky.example.org" {
		return nil, &net.DNSError{Err: "timeout", Name: name, IsTimeout: true}
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func defaultHygiene() config.HygieneConfig {
	return config.DefaultConfig().Hygiene
}

func TestValidateEmail(t *testing.T) {
	c := NewChecker(defaultHygiene(), nil)
	cases := []struct {
		email  string
		ok     bool
		reason string
	}{
		{"", false, ReasonEmpty},
		{"not-an-email", false, ReasonBadSyntax},
		{"owner@acme", false, ReasonBadSyntax},
		{"logo@3x.png", false, ReasonJunkArtifact},
		{"someone@example.com", false, ReasonExcludedDomain},
		{"abc@sentry.wixpress.com", false, ReasonExcludedDomain},
		{" Owner@Acme-Plumbing.com ", true, "ok"},
	}
	for _, tc := range cases {
		t.Run(tc.email, func(t *testing.T) {
			ok, reason := c.ValidateEmail(context.Background(), tc.email)
			if ok != tc.ok || reason != tc.reason {
				t.Fatalf("ValidateEmail(%q) = (%v, %q), want (%v, %q)", tc.email, ok, reason, tc.ok, tc.reason)
			}
		})
	}
}

func TestValidateEmailMXLookup(t *testing.T) {
	cfg := defaultHygiene()
	cfg.CheckMX = true
	r := &fakeResolver{records: map[string][]*net.MX{
		"acme.com": {{Host: "mx.acme.com.", Pref: 10}},
	}}
	c := NewChecker(cfg, r)
	ctx := context.Background()

	if ok, _ := c.ValidateEmail(ctx, "a@acme.com"); !ok {
		t.Fatal("domain with MX should pass")
	}
	if ok, reason := c.ValidateEmail(ctx, "a@nomail.org"); ok || reason != ReasonNoMX {
		t.Fatalf("expected no_mx_records, got ok=%v reason=%q", ok, reason)
	}
	if ok, _ := c.ValidateEmail(ctx, "a@flaky.example.org"); !ok {
		t.Fatal("lookup errors should fail open")
	}

	calls := r.calls
	_, _ = c.ValidateEmail(ctx, "b@acme.com")
	if r.calls != calls {
		t.Fatal("expected cached MX result")
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"(512) 555-0100":  "+15125550100",
		"1-512-555-0100":  "+15125550100",
		"+1 512 555 0100": "+15125550100",
		"555-0100":        "",
		"":                "",
		"44 20 7946 0958": "",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInferEmailMethod(t *testing.T) {
	cases := []struct {
		email, explicit, notes, want string
	}{
		{"jane@acme.com", "Guess", "", "guess"},
		{"jane@acme.com", "", "found via site; email=scrape", store.EmailMethodScrape},
		{"info@acme.com", "", "email=guess", store.EmailMethodGuess},
		{"jane@acme.com", "", "", store.EmailMethodDirect},
		{"info@acme.com", "", "", store.EmailMethodUnknown},
		{"5f2b9c0e1d3a4b6c7d8e9f0a1b2c@acme.com", "", "", store.EmailMethodUnknown},
	}
	for _, tc := range cases {
		if got := InferEmailMethod(tc.email, tc.explicit, tc.notes); got != tc.want {
			t.Errorf("InferEmailMethod(%q, %q, %q) = %q, want %q", tc.email, tc.explicit, tc.notes, got, tc.want)
		}
	}
}

func TestEmailSendable(t *testing.T) {
	c := NewChecker(defaultHygiene(), nil)
	cases := []struct {
		name string
		lead store.Lead
		ok   bool
	}{
		{"direct person", store.Lead{Email: "jane@acme.com", EmailMethod: store.EmailMethodDirect}, true},
		{"scraped", store.Lead{Email: "jane@acme.com", EmailMethod: store.EmailMethodScrape}, true},
		{"guessed", store.Lead{Email: "jane@acme.com", EmailMethod: store.EmailMethodGuess}, false},
		{"role inbox", store.Lead{Email: "info@acme.com", EmailMethod: store.EmailMethodDirect}, false},
		{"url encoded", store.Lead{Email: "jane%20doe@acme.com", EmailMethod: store.EmailMethodDirect}, false},
		{"flagged invalid", store.Lead{Email: "jane@acme.com", EmailMethod: store.EmailMethodDirect, EmailInvalid: true}, false},
		{"no email", store.Lead{Phone: "+15125550100"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := c.EmailSendable(tc.lead)
			if ok != tc.ok {
				t.Fatalf("EmailSendable() = (%v, %q), want %v", ok, reason, tc.ok)
			}
		})
	}
}

func TestCheckNormalizesAndFlags(t *testing.T) {
	c := NewChecker(defaultHygiene(), nil)
	in := store.Lead{ID: "x", Email: " Jane@Acme.com", Phone: "12"}
	res := c.Check(context.Background(), in)
	if res.Lead.Email != "jane@acme.com" {
		t.Fatalf("email not normalized: %q", res.Lead.Email)
	}
	if !res.Lead.PhoneInvalid || res.PhoneReason == "" {
		t.Fatalf("expected phone flagged invalid: %+v", res)
	}
	if res.Lead.EmailInvalid {
		t.Fatal("valid email flagged invalid")
	}
	if res.Lead.EmailMethod != store.EmailMethodDirect {
		t.Fatalf("expected inferred direct method, got %q", res.Lead.EmailMethod)
	}
	if !res.Changed {
		t.Fatal("expected Changed")
	}

	again := c.Check(context.Background(), res.Lead)
	if again.Changed {
		t.Fatalf("second check should be a no-op: %+v", again)
	}
}

func TestStateTimezone(t *testing.T) {
	if got := StateTimezone(" tx"); got != "America/Chicago" {
		t.Fatalf("TX -> %q", got)
	}
	if got := StateTimezone("ZZ"); got != "" {
		t.Fatalf("unknown state -> %q", got)
	}
}
