// Package report summarizes a run for the operator.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/callcatcherops/autonomy/internal/gate"
	"github.com/callcatcherops/autonomy/internal/governor"
	"github.com/callcatcherops/autonomy/internal/inbound"
	"github.com/callcatcherops/autonomy/internal/ingest"
	"github.com/callcatcherops/autonomy/internal/store"
)

// Error classes counted in Report.Errors.
const (
	ErrorDispatch = "dispatch_error"
	ErrorHygiene  = "hygiene_error"
)

// Report is the outcome of one orchestration run.
type Report struct {
	RunID      string    `json:"run_id"`
	Mode       string    `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	LeadsEvaluated int            `json:"leads_evaluated"`
	Ingest         ingest.Result  `json:"ingest"`
	Inbound        inbound.Counts `json:"inbound"`

	Dispatched  map[store.Channel]int            `json:"dispatched"`
	Outcomes    map[store.Channel]map[string]int `json:"outcomes"`
	PolicySkips map[string]int                   `json:"policy_skips"`
	Errors      map[string]int                   `json:"errors"`

	Gate             map[store.Channel]gate.Status `json:"gate"`
	StopLoss         governor.State                `json:"stop_loss"`
	StopLossTripped  bool                          `json:"stop_loss_tripped"`
	BusinessOutcomes int                           `json:"business_outcomes"`

	// Warnings are collaborator failures that did not stop the run.
	Warnings []string `json:"warnings,omitempty"`
}

// New returns an empty report with its maps allocated.
func New(runID, mode string, started time.Time) *Report {
	return &Report{
		RunID:       runID,
		Mode:        mode,
		StartedAt:   started,
		Dispatched:  map[store.Channel]int{},
		Outcomes:    map[store.Channel]map[string]int{},
		PolicySkips: map[string]int{},
		Errors:      map[string]int{},
		Gate:        map[store.Channel]gate.Status{},
	}
}

// AddOutcome counts one attempted send.
func (r *Report) AddOutcome(ch store.Channel, outcome string) {
	r.Dispatched[ch]++
	if r.Outcomes[ch] == nil {
		r.Outcomes[ch] = map[string]int{}
	}
	r.Outcomes[ch][outcome]++
}

// Warn records a non-fatal problem.
func (r *Report) Warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// TotalDispatched sums Dispatched.
func (r *Report) TotalDispatched() int {
	n := 0
	for _, v := range r.Dispatched {
		n += v
	}
	return n
}

// TotalErrors sums Errors.
func (r *Report) TotalErrors() int {
	n := 0
	for _, v := range r.Errors {
		n += v
	}
	return n
}

// Text renders the plain-text summary. Policy skips (we chose not to contact)
// and errors (we failed to contact) are listed separately.
func (r *Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Outreach run %s (%s)\n", r.RunID, r.Mode)
	fmt.Fprintf(&b, "Started:  %s\n", r.StartedAt.UTC().Format(time.RFC3339))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Leads evaluated:   %d\n", r.LeadsEvaluated)
	fmt.Fprintf(&b, "Ingested:          %d new, %d updated, %d invalid\n", r.Ingest.Created, r.Ingest.Updated, r.Ingest.Invalid)
	fmt.Fprintf(&b, "Inbound signals:   %d (%d replies, %d bounces, %d opt-outs, %d bookings, %d payments)\n",
		r.Inbound.Fetched-r.Inbound.Duplicates, r.Inbound.Replies, r.Inbound.Bounces, r.Inbound.OptOuts, r.Inbound.Bookings, r.Inbound.Payments)
	fmt.Fprintf(&b, "Business outcomes: %d\n", r.BusinessOutcomes)

	b.WriteString("\nContacted:\n")
	if r.TotalDispatched() == 0 {
		b.WriteString("  none\n")
	}
	for _, ch := range store.Channels {
		n := r.Dispatched[ch]
		if n == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %-6s %d  %s\n", ch, n, formatCounts(r.Outcomes[ch]))
	}

	b.WriteString("\nChose not to contact (policy):\n")
	if len(r.PolicySkips) == 0 {
		b.WriteString("  none\n")
	}
	for _, k := range sortedKeys(r.PolicySkips) {
		fmt.Fprintf(&b, "  %-24s %d\n", k, r.PolicySkips[k])
	}

	b.WriteString("\nFailed to contact (errors):\n")
	if r.TotalErrors() == 0 {
		b.WriteString("  none\n")
	}
	for _, k := range sortedKeys(r.Errors) {
		fmt.Fprintf(&b, "  %-24s %d\n", k, r.Errors[k])
	}

	b.WriteString("\nDeliverability gate:\n")
	for _, ch := range store.Channels {
		st, ok := r.Gate[ch]
		if !ok {
			continue
		}
		state := "healthy"
		if !st.Healthy {
			state = "BLOCKED"
		}
		fmt.Fprintf(&b, "  %-6s %-8s %d/%d failures (%.1f%%, limit %.1f%%, min sample %d)\n",
			ch, state, st.Failures, st.Outbound, st.Rate*100, st.Threshold*100, st.MinSample)
	}

	b.WriteString("\nStop-loss:\n")
	switch {
	case r.StopLossTripped:
		fmt.Fprintf(&b, "  TRIPPED this run (%s); paid channels paused until reset\n", r.StopLoss.BlockReason)
	case r.StopLoss.Blocked:
		fmt.Fprintf(&b, "  blocked since %s (%s)\n", r.StopLoss.BlockedAt.UTC().Format(time.RFC3339), r.StopLoss.BlockReason)
	default:
		fmt.Fprintf(&b, "  ok, %d consecutive runs without outcomes\n", r.StopLoss.ZeroOutcomeRuns)
	}

	if len(r.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}
	return b.String()
}

func formatCounts(m map[string]int) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
