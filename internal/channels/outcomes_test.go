package channels

import (
	"strings"
	"testing"

	"github.com/callcatcherops/autonomy/internal/store"
)

func TestOutcomeTableBuiltins(t *testing.T) {
	table, err := NewOutcomeTable(nil)
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	cases := map[string]string{
		"completed":                  store.OutcomeSpoke,
		"completed:human":            store.OutcomeSpoke,
		"COMPLETED:machine_end_beep": store.OutcomeVoicemail,
		"no-answer":                  store.OutcomeNoAnswer,
		"busy":                       store.OutcomeNoAnswer,
		"failed":                     store.OutcomeFailed,
		"canceled":                   store.OutcomeFailed,
		"ended:voicemail":            store.OutcomeVoicemail,
		"not_connected":              store.OutcomeNoAnswer,
		"completed:something_new":    store.OutcomeSpoke,
	}
	for in, want := range cases {
		if got := table.Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOutcomeTableClosure(t *testing.T) {
	table, err := NewOutcomeTable(map[string]string{"registered": "voicemail"})
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	inputs := []string{"", "ringing", "in-progress", "queued", "registered", "weird:thing", "completed:fax", "spoke"}
	for _, in := range inputs {
		if got := table.Normalize(in); !IsVoiceOutcome(got) {
			t.Fatalf("Normalize(%q) = %q escapes the canonical set", in, got)
		}
	}
	if got := table.Normalize("ringing"); got != store.OutcomeFailed {
		t.Fatalf("unmapped disposition should be failed, got %q", got)
	}
	if got := table.Normalize("registered"); got != store.OutcomeVoicemail {
		t.Fatalf("operator mapping ignored, got %q", got)
	}
}

func TestOutcomeTableRejectsNonCanonicalTargets(t *testing.T) {
	_, err := NewOutcomeTable(map[string]string{"completed:human": "answered", "busy": "no_answer"})
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if !strings.Contains(err.Error(), "completed:human=answered") {
		t.Fatalf("error should name the bad entry: %v", err)
	}
}
