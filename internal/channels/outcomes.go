package channels

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/callcatcherops/autonomy/internal/store"
)

// VoiceOutcomes is the closed set every call resolves into.
var VoiceOutcomes = []string{store.OutcomeSpoke, store.OutcomeVoicemail, store.OutcomeNoAnswer, store.OutcomeFailed}

// IsVoiceOutcome reports whether o is in the canonical voice set.
func IsVoiceOutcome(o string) bool {
	for _, v := range VoiceOutcomes {
		if o == v {
			return true
		}
	}
	return false
}

// builtinDispositions covers Twilio call status (optionally suffixed with
// ":answered_by") and Retell call_status values.
var builtinDispositions = map[string]string{
	// Canonical values pass through.
	"spoke":     store.OutcomeSpoke,
	"voicemail": store.OutcomeVoicemail,
	"no_answer": store.OutcomeNoAnswer,
	"failed":    store.OutcomeFailed,

	// Twilio
	"completed":                     store.OutcomeSpoke,
	"completed:human":               store.OutcomeSpoke,
	"completed:unknown":             store.OutcomeSpoke,
	"completed:machine_start":       store.OutcomeVoicemail,
	"completed:machine_end_beep":    store.OutcomeVoicemail,
	"completed:machine_end_silence": store.OutcomeVoicemail,
	"completed:machine_end_other":   store.OutcomeVoicemail,
	"completed:fax":                 store.OutcomeFailed,
	"no-answer":                     store.OutcomeNoAnswer,
	"busy":                          store.OutcomeNoAnswer,
	"canceled":                      store.OutcomeFailed,

	// Retell
	"ended":           store.OutcomeSpoke,
	"ended:voicemail": store.OutcomeVoicemail,
	"not_connected":   store.OutcomeNoAnswer,
	"error":           store.OutcomeFailed,
}

// OutcomeTable maps carrier dispositions to canonical voice outcomes.
type OutcomeTable struct {
	m map[string]string
}

// NewOutcomeTable merges operator entries over the built-in table. Any entry
// whose target is not a canonical voice outcome is a configuration error.
func NewOutcomeTable(extra map[string]string) (*OutcomeTable, error) {
	m := make(map[string]string, len(builtinDispositions)+len(extra))
	for k, v := range builtinDispositions {
		m[k] = v
	}
	var bad []string
	for k, v := range extra {
		target := strings.ToLower(strings.TrimSpace(v))
		if !IsVoiceOutcome(target) {
			bad = append(bad, fmt.Sprintf("%s=%s", k, v))
			continue
		}
		m[normalizeKey(k)] = target
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, fmt.Errorf("channels.voice.outcomeMap: targets must be one of %s: %s",
			strings.Join(VoiceOutcomes, "|"), strings.Join(bad, ", "))
	}
	return &OutcomeTable{m: m}, nil
}

// Resolve looks up a disposition. The full "status:detail" key wins over the
// bare status.
func (t *OutcomeTable) Resolve(disposition string) (string, bool) {
	key := normalizeKey(disposition)
	if o, ok := t.m[key]; ok {
		return o, true
	}
	if status, _, found := strings.Cut(key, ":"); found {
		if o, ok := t.m[status]; ok {
			return o, true
		}
	}
	return "", false
}

// Normalize resolves a disposition, falling back to failed for anything
// unmapped.
func (t *OutcomeTable) Normalize(disposition string) string {
	if o, ok := t.Resolve(disposition); ok {
		return o
	}
	slog.Warn("Unmapped voice disposition, recording as failed", "disposition", disposition)
	return store.OutcomeFailed
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}
