package metrics

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/gate"
	"github.com/callcatcherops/autonomy/internal/governor"
	"github.com/callcatcherops/autonomy/internal/report"
	"github.com/callcatcherops/autonomy/internal/store"
)

func sampleRun() *report.Report {
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	r := report.New("run-1", config.ModeLive, start)
	r.FinishedAt = start.Add(3 * time.Second)
	r.LeadsEvaluated = 4
	r.AddOutcome(store.ChannelVoice, store.OutcomeSpoke)
	r.AddOutcome(store.ChannelEmail, store.OutcomeSent)
	r.AddOutcome(store.ChannelEmail, store.OutcomeSent)
	r.PolicySkips["opted_out"] = 1
	r.Gate[store.ChannelEmail] = gate.Status{Healthy: false, Rate: 0.15}
	r.Gate[store.ChannelVoice] = gate.Status{Healthy: true}
	r.StopLoss = governor.State{Blocked: true, ZeroOutcomeRuns: 3}
	r.BusinessOutcomes = 2
	r.Inbound.Replies = 2
	return r
}

func TestObserveRun(t *testing.T) {
	m := New()
	m.ObserveRun(sampleRun())

	if got := testutil.ToFloat64(m.dispatches.WithLabelValues("email", "sent")); got != 2 {
		t.Fatalf("email sent = %v", got)
	}
	if got := testutil.ToFloat64(m.gateHealthy.WithLabelValues("email")); got != 0 {
		t.Fatalf("email gate = %v", got)
	}
	if got := testutil.ToFloat64(m.gateHealthy.WithLabelValues("voice")); got != 1 {
		t.Fatalf("voice gate = %v", got)
	}
	if got := testutil.ToFloat64(m.stopLossBlocked); got != 1 {
		t.Fatalf("stop loss gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.businessOutcomes); got != 2 {
		t.Fatalf("business outcomes = %v", got)
	}
	if got := testutil.ToFloat64(m.skips.WithLabelValues("opted_out")); got != 1 {
		t.Fatalf("skips = %v", got)
	}
}

func TestHandlerAndTextfile(t *testing.T) {
	m := New()
	m.ObserveRun(sampleRun())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "autonomy_dispatches_total") {
		t.Fatalf("handler output missing dispatches:\n%s", rec.Body.String())
	}

	path := filepath.Join(t.TempDir(), "textfile", "autonomy.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("textfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "autonomy_stop_loss_blocked 1") {
		t.Fatalf("textfile missing stop-loss gauge:\n%s", data)
	}
}
