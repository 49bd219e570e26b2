// Package policy decides whether one channel may be used for one lead in the
// current run.
package policy

import (
	"time"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/store"
)

// Reason codes written to the ledger. Policy blocks are values, not errors.
const (
	ReasonOptedOut             = "opted_out"
	ReasonChannelUnhealthy     = "channel_unhealthy"
	ReasonStopLossBlocked      = "stop_loss_blocked"
	ReasonCooldownActive       = "cooldown_active"
	ReasonBelowMinScore        = "below_min_score"
	ReasonSequenceComplete     = "sequence_complete"
	ReasonRunCapReached        = "run_cap_reached"
	ReasonInvalidContact       = "invalid_contact"
	ReasonChannelDisabled      = "channel_disabled"
	ReasonReplied              = "replied"
	ReasonAlreadyDecided       = "already_decided"
	ReasonOutsideBusinessHours = "outside_business_hours"
	ReasonNoEligibleChannel    = "no_eligible_channel"
	ReasonDispatchError        = "dispatch_error"
	ReasonInvalidInput         = "invalid_input"
	ReasonHygieneError         = "hygiene_error"
)

// Context holds everything needed to evaluate one lead on one channel.
type Context struct {
	Lead    store.Lead
	Channel store.Channel
	History store.ChannelHistory
	// OptedOut is true when the channel's contact is suppressed.
	OptedOut bool
	Healthy  bool
	// StopLossAllows is the governor's verdict for this channel.
	StopLossAllows bool
	// DecidedThisRun counts dispatch decisions already made on the channel.
	DecidedThisRun int
	Now            time.Time
}

// Decision is the result of a policy evaluation.
type Decision struct {
	Allow bool
	// Applicable is false when the channel is disabled or the lead has no
	// usable contact for it. Inapplicable channels never supply the skip
	// reason for a lead.
	Applicable bool
	Reason     string
	Step       int
}

// Engine evaluates whether a channel may be used.
type Engine interface {
	Evaluate(ctx Context) Decision
}

// EmailChecker decides whether a lead's address may receive cold email.
// *hygiene.Checker implements it.
type EmailChecker interface {
	EmailSendable(l store.Lead) (bool, string)
}

// DefaultEngine applies the configured channel thresholds in a fixed order:
// applicability, opt-out, score, health, stop-loss, sequence length, cooldown,
// business hours, run cap.
type DefaultEngine struct {
	Policies map[store.Channel]config.ChannelPolicy
	Hours    map[store.Channel]config.BusinessHours
	Email    EmailChecker
}

// NewDefaultEngine builds an engine from validated config.
func NewDefaultEngine(cfg *config.Config, email EmailChecker) *DefaultEngine {
	return &DefaultEngine{
		Policies: map[store.Channel]config.ChannelPolicy{
			store.ChannelEmail: cfg.Channels.Email.ChannelPolicy,
			store.ChannelSMS:   cfg.Channels.SMS.ChannelPolicy,
			store.ChannelVoice: cfg.Channels.Voice.ChannelPolicy,
		},
		Hours: map[store.Channel]config.BusinessHours{
			store.ChannelSMS:   cfg.Channels.SMS.BusinessHours,
			store.ChannelVoice: cfg.Channels.Voice.BusinessHours,
		},
		Email: email,
	}
}

// Evaluate runs the rule chain for ctx.Channel.
func (e *DefaultEngine) Evaluate(ctx Context) Decision {
	d := Decision{Step: ctx.History.Steps}

	p, ok := e.Policies[ctx.Channel]
	if !ok || !p.Enabled {
		d.Reason = ReasonChannelDisabled
		return d
	}
	if !e.contactUsable(ctx.Lead, ctx.Channel) {
		d.Reason = ReasonInvalidContact
		return d
	}
	d.Applicable = true

	switch {
	case ctx.OptedOut:
		d.Reason = ReasonOptedOut
	case ctx.Lead.Score < p.MinScore:
		d.Reason = ReasonBelowMinScore
	case !ctx.Healthy:
		d.Reason = ReasonChannelUnhealthy
	case !ctx.StopLossAllows:
		d.Reason = ReasonStopLossBlocked
	case ctx.History.Steps >= p.MaxSteps:
		d.Reason = ReasonSequenceComplete
	case inCooldown(ctx.Lead.LastTouchedAt, ctx.Now, p.MinDaysBetween):
		d.Reason = ReasonCooldownActive
	case ctx.Channel.Paid() && !InBusinessHours(ctx.Now, ctx.Lead.State, e.Hours[ctx.Channel]):
		d.Reason = ReasonOutsideBusinessHours
	case ctx.DecidedThisRun >= p.MaxPerRun:
		d.Reason = ReasonRunCapReached
	default:
		d.Allow = true
	}
	return d
}

func (e *DefaultEngine) contactUsable(l store.Lead, ch store.Channel) bool {
	switch ch {
	case store.ChannelEmail:
		if l.Email == "" || l.EmailInvalid || l.Status == store.StatusBounced || l.Status == store.StatusBadEmail {
			return false
		}
		if e.Email != nil {
			ok, _ := e.Email.EmailSendable(l)
			return ok
		}
		return true
	case store.ChannelSMS, store.ChannelVoice:
		return l.Phone != "" && !l.PhoneInvalid && l.Status != store.StatusBadPhone
	}
	return false
}

func inCooldown(lastTouched, now time.Time, minDays int) bool {
	if lastTouched.IsZero() {
		return false
	}
	return now.Sub(lastTouched) < time.Duration(minDays)*24*time.Hour
}
