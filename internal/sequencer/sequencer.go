// Package sequencer turns a store snapshot into one decision per lead.
//
// Plan is pure: given the same snapshot and environment it returns the same
// decisions in the same order.
package sequencer

import (
	"sort"
	"time"

	"github.com/callcatcherops/autonomy/internal/policy"
	"github.com/callcatcherops/autonomy/internal/store"
)

// DefaultPriority is the channel tie-break order when a lead qualifies for
// several channels in one run.
var DefaultPriority = []store.Channel{store.ChannelVoice, store.ChannelSMS, store.ChannelEmail}

// Env is the run-level input to Plan.
type Env struct {
	Now      time.Time
	Priority []store.Channel
	// Healthy holds the deliverability gate verdict per channel. Missing
	// channels are treated as unhealthy.
	Healthy map[store.Channel]bool
	// StopLoss holds the governor verdict per channel. Missing channels are
	// treated as blocked.
	StopLoss map[store.Channel]bool
	Engine   policy.Engine
}

// Decision is the outcome for one lead.
type Decision struct {
	Lead     store.Lead
	Dispatch bool
	Channel  store.Channel // set when Dispatch, or the channel that supplied Reason
	Step     int
	Reason   string // empty when Dispatch
	// Checks records the per-channel verdicts that led here.
	Checks map[store.Channel]string
}

// Plan decides the next action for every lead in the snapshot.
func Plan(snap *store.Snapshot, env Env) []Decision {
	priority := env.Priority
	if len(priority) == 0 {
		priority = DefaultPriority
	}

	leads := make([]store.Lead, len(snap.Leads))
	copy(leads, snap.Leads)
	sort.SliceStable(leads, func(i, j int) bool {
		if leads[i].Score != leads[j].Score {
			return leads[i].Score > leads[j].Score
		}
		return leads[i].ID < leads[j].ID
	})

	decided := make(map[string]bool, len(leads))
	perChannel := make(map[store.Channel]int, len(priority))
	out := make([]Decision, 0, len(leads))

	for _, lead := range leads {
		if decided[lead.ID] {
			out = append(out, Decision{Lead: lead, Reason: policy.ReasonAlreadyDecided})
			continue
		}
		decided[lead.ID] = true

		d := decideLead(snap, env, priority, perChannel, lead)
		if d.Dispatch {
			perChannel[d.Channel]++
		}
		out = append(out, d)
	}
	return out
}

func decideLead(snap *store.Snapshot, env Env, priority []store.Channel, perChannel map[store.Channel]int, lead store.Lead) Decision {
	if lead.Status == store.StatusOptedOut || snap.OptedOut(lead) {
		return Decision{Lead: lead, Reason: policy.ReasonOptedOut}
	}
	hist := snap.History[lead.ID]
	if lead.Status == store.StatusReplied || repliedSinceTouch(lead, hist) {
		return Decision{Lead: lead, Reason: policy.ReasonReplied}
	}

	d := Decision{Lead: lead, Checks: make(map[store.Channel]string, len(priority))}
	var (
		firstReason  string
		firstChannel store.Channel
		sawInvalid   bool
	)
	for _, ch := range priority {
		pd := env.Engine.Evaluate(policy.Context{
			Lead:           lead,
			Channel:        ch,
			History:        hist.Channels[ch],
			OptedOut:       snap.OptOuts[lead.Contact(ch)],
			Healthy:        env.Healthy[ch],
			StopLossAllows: env.StopLoss[ch],
			DecidedThisRun: perChannel[ch],
			Now:            env.Now,
		})
		if pd.Allow {
			d.Checks[ch] = "allow"
			d.Dispatch = true
			d.Channel = ch
			d.Step = pd.Step
			return d
		}
		d.Checks[ch] = pd.Reason
		if pd.Reason == policy.ReasonInvalidContact {
			sawInvalid = true
		}
		if pd.Applicable && firstReason == "" {
			firstReason = pd.Reason
			firstChannel = ch
			d.Step = pd.Step
		}
	}

	switch {
	case firstReason != "":
		d.Reason = firstReason
		d.Channel = firstChannel
	case sawInvalid:
		d.Reason = policy.ReasonInvalidContact
	default:
		d.Reason = policy.ReasonNoEligibleChannel
	}
	return d
}

// repliedSinceTouch reports an inbound reply newer than our last outbound
// touch. A reply to a lead we never touched still counts.
func repliedSinceTouch(lead store.Lead, hist store.LeadHistory) bool {
	if hist.LastReplyAt.IsZero() {
		return false
	}
	return !hist.LastReplyAt.Before(lead.LastTouchedAt)
}
