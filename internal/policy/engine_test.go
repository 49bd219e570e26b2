package policy

import (
	"testing"
	"time"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/store"
)

// Monday 2026-03-02 15:00 UTC is 09:00 in Chicago.
var monday = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func testEngine() *DefaultEngine {
	p := config.ChannelPolicy{
		Enabled: true, MinScore: 50, WindowDays: 7, MinSample: 10, MaxFailureRate: 0.05,
		MinDaysBetween: 3, MaxSteps: 3, MaxPerRun: 2, TimeoutSeconds: 30,
	}
	hours := config.BusinessHours{StartHour: 9, EndHour: 17, DefaultTimezone: "America/Chicago"}
	return &DefaultEngine{
		Policies: map[store.Channel]config.ChannelPolicy{
			store.ChannelEmail: p,
			store.ChannelSMS:   p,
			store.ChannelVoice: p,
		},
		Hours: map[store.Channel]config.BusinessHours{
			store.ChannelSMS:   hours,
			store.ChannelVoice: hours,
		},
	}
}

func baseContext(ch store.Channel) Context {
	return Context{
		Lead: store.Lead{
			ID: "owner@acme.com", Email: "owner@acme.com", Phone: "+15125550100",
			State: "TX", Score: 85, Status: store.StatusNew,
		},
		Channel:        ch,
		Healthy:        true,
		StopLossAllows: true,
		Now:            monday,
	}
}

func TestEvaluateAllowsInitialTouch(t *testing.T) {
	d := testEngine().Evaluate(baseContext(store.ChannelVoice))
	if !d.Allow || !d.Applicable || d.Step != 0 {
		t.Fatalf("expected allowed step 0, got %+v", d)
	}
}

func TestEvaluateReasons(t *testing.T) {
	cases := []struct {
		name   string
		ch     store.Channel
		mutate func(*Context)
		reason string
		appl   bool
	}{
		{"opted out beats everything", store.ChannelVoice, func(c *Context) {
			c.OptedOut = true
			c.Healthy = false
			c.Lead.Score = 0
		}, ReasonOptedOut, true},
		{"low score", store.ChannelVoice, func(c *Context) { c.Lead.Score = 49 }, ReasonBelowMinScore, true},
		{"unhealthy", store.ChannelEmail, func(c *Context) { c.Healthy = false }, ReasonChannelUnhealthy, true},
		{"stop loss", store.ChannelSMS, func(c *Context) { c.StopLossAllows = false }, ReasonStopLossBlocked, true},
		{"sequence complete", store.ChannelVoice, func(c *Context) { c.History.Steps = 3 }, ReasonSequenceComplete, true},
		{"cooldown", store.ChannelVoice, func(c *Context) {
			c.History.Steps = 1
			c.Lead.LastTouchedAt = monday.Add(-47 * time.Hour)
		}, ReasonCooldownActive, true},
		{"after hours", store.ChannelSMS, func(c *Context) { c.Now = monday.Add(-2 * time.Hour) }, ReasonOutsideBusinessHours, true},
		{"email ignores hours", store.ChannelEmail, func(c *Context) { c.Now = monday.Add(-2 * time.Hour) }, "", true},
		{"run cap", store.ChannelVoice, func(c *Context) { c.DecidedThisRun = 2 }, ReasonRunCapReached, true},
		{"no phone", store.ChannelSMS, func(c *Context) { c.Lead.Phone = "" }, ReasonInvalidContact, false},
		{"bad phone status", store.ChannelVoice, func(c *Context) { c.Lead.Status = store.StatusBadPhone }, ReasonInvalidContact, false},
		{"bad email keeps voice", store.ChannelVoice, func(c *Context) { c.Lead.Status = store.StatusBadEmail }, "", true},
		{"bounced disables email", store.ChannelEmail, func(c *Context) { c.Lead.Status = store.StatusBounced }, ReasonInvalidContact, false},
	}
	e := testEngine()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := baseContext(tc.ch)
			tc.mutate(&ctx)
			d := e.Evaluate(ctx)
			if d.Reason != tc.reason || d.Applicable != tc.appl {
				t.Fatalf("got reason=%q applicable=%v, want %q/%v", d.Reason, d.Applicable, tc.reason, tc.appl)
			}
			if d.Allow != (tc.reason == "") {
				t.Fatalf("allow=%v with reason %q", d.Allow, d.Reason)
			}
		})
	}
}

func TestEvaluateFollowUpAfterCooldown(t *testing.T) {
	ctx := baseContext(store.ChannelVoice)
	ctx.History = store.ChannelHistory{Steps: 1, LastOutboundAt: monday.Add(-72 * time.Hour)}
	ctx.Lead.LastTouchedAt = monday.Add(-72 * time.Hour)
	d := testEngine().Evaluate(ctx)
	if !d.Allow || d.Step != 1 {
		t.Fatalf("expected follow-up step 1, got %+v", d)
	}
}

func TestEvaluateDisabledChannel(t *testing.T) {
	e := testEngine()
	p := e.Policies[store.ChannelSMS]
	p.Enabled = false
	e.Policies[store.ChannelSMS] = p
	d := e.Evaluate(baseContext(store.ChannelSMS))
	if d.Allow || d.Applicable || d.Reason != ReasonChannelDisabled {
		t.Fatalf("unexpected decision %+v", d)
	}
}

type rejectAll struct{}

func (rejectAll) EmailSendable(store.Lead) (bool, string) { return false, "role_inbox" }

func TestEvaluateUsesEmailChecker(t *testing.T) {
	e := testEngine()
	e.Email = rejectAll{}
	d := e.Evaluate(baseContext(store.ChannelEmail))
	if d.Applicable || d.Reason != ReasonInvalidContact {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestInBusinessHours(t *testing.T) {
	h := config.BusinessHours{StartHour: 9, EndHour: 17, DefaultTimezone: "America/New_York"}
	cases := []struct {
		name  string
		now   time.Time
		state string
		want  bool
	}{
		{"chicago 9am", monday, "TX", true},
		{"chicago 8am", monday.Add(-time.Hour), "TX", false},
		{"los angeles 7am", monday, "CA", false},
		{"default zone 10am", monday, "", true},
		{"end hour exclusive", time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC), "TX", false},
		{"saturday", monday.AddDate(0, 0, -2), "TX", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := InBusinessHours(tc.now, tc.state, h); got != tc.want {
				t.Fatalf("InBusinessHours = %v, want %v", got, tc.want)
			}
		})
	}

	h.AllowWeekends = true
	if !InBusinessHours(monday.AddDate(0, 0, -2), "TX", h) {
		t.Fatal("weekend allowed should pass")
	}
}
