package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Channel names as they appear in config and on the ledger.
var channelNames = []string{"email", "sms", "voice"}

// Policy returns the threshold block of the named channel.
func (c *Config) Policy(channel string) (ChannelPolicy, bool) {
	switch channel {
	case "email":
		return c.Channels.Email.ChannelPolicy, true
	case "sms":
		return c.Channels.SMS.ChannelPolicy, true
	case "voice":
		return c.Channels.Voice.ChannelPolicy, true
	}
	return ChannelPolicy{}, false
}

// Validate fails fast on missing or out-of-range settings. Every problem is
// reported in one joined error.
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	switch c.Run.Mode {
	case ModeLive, ModeDryRun:
	default:
		add("run.mode: must be %q or %q, got %q", ModeLive, ModeDryRun, c.Run.Mode)
	}

	seen := map[string]bool{}
	for _, ch := range c.Run.Priority {
		if _, ok := c.Policy(ch); !ok {
			add("run.priority: unknown channel %q", ch)
			continue
		}
		if seen[ch] {
			add("run.priority: channel %q listed twice", ch)
		}
		seen[ch] = true
	}
	if c.Run.DispatchRatePerSec < 0 {
		add("run.dispatchRatePerSec: must not be negative")
	}

	for _, ch := range channelNames {
		p, _ := c.Policy(ch)
		if !p.Enabled {
			continue
		}
		if !seen[ch] {
			add("run.priority: enabled channel %q missing from priority order", ch)
		}
		problems = append(problems, validatePolicy("channels."+ch, p)...)
	}

	if c.StopLoss.Enabled {
		if c.StopLoss.MaxZeroRuns <= 0 {
			add("stopLoss.maxZeroRuns: required")
		}
		if c.StopLoss.MaxZeroDays <= 0 {
			add("stopLoss.maxZeroDays: required")
		}
	}

	if c.Channels.SMS.Enabled {
		problems = append(problems, validateHours("channels.sms.businessHours", c.Channels.SMS.BusinessHours)...)
	}
	if c.Channels.Voice.Enabled {
		problems = append(problems, validateHours("channels.voice.businessHours", c.Channels.Voice.BusinessHours)...)
	}

	if c.Run.Mode == ModeLive {
		problems = append(problems, c.validateTransports()...)
	}

	if strings.TrimSpace(c.Paths.DBPath) == "" {
		add("paths.dbPath: required")
	}
	if strings.TrimSpace(c.Paths.StatePath) == "" {
		add("paths.statePath: required")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(problems...))
}

func validatePolicy(prefix string, p ChannelPolicy) []error {
	var out []error
	req := func(name string, ok bool) {
		if !ok {
			out = append(out, fmt.Errorf("%s.%s: required", prefix, name))
		}
	}
	req("minScore", p.MinScore > 0 && p.MinScore <= 100)
	req("windowDays", p.WindowDays > 0)
	req("minSample", p.MinSample > 0)
	req("maxFailureRate", p.MaxFailureRate > 0 && p.MaxFailureRate <= 1)
	req("minDaysBetween", p.MinDaysBetween > 0)
	req("maxSteps", p.MaxSteps > 0)
	req("maxPerRun", p.MaxPerRun > 0)
	req("timeoutSeconds", p.TimeoutSeconds > 0)
	return out
}

func validateHours(prefix string, h BusinessHours) []error {
	var out []error
	if h.StartHour < 0 || h.EndHour > 24 || h.StartHour >= h.EndHour {
		out = append(out, fmt.Errorf("%s: invalid window %d-%d", prefix, h.StartHour, h.EndHour))
	}
	if h.DefaultTimezone != "" {
		if _, err := time.LoadLocation(h.DefaultTimezone); err != nil {
			out = append(out, fmt.Errorf("%s.defaultTimezone: %w", prefix, err))
		}
	}
	return out
}

func (c *Config) validateTransports() []error {
	var out []error
	add := func(format string, args ...any) {
		out = append(out, fmt.Errorf(format, args...))
	}
	email := c.Channels.Email
	if email.Enabled {
		if email.SMTPHost == "" {
			add("channels.email.smtpHost: required in live mode")
		}
		if email.From == "" {
			add("channels.email.from: required in live mode")
		}
		if len(email.Templates) == 0 {
			add("channels.email.templates: at least one template required")
		}
		if email.UnsubscribeURL == "" || email.MailingAddress == "" {
			add("channels.email: unsubscribeUrl and mailingAddress required in live mode")
		}
	}
	phone := c.Channels.SMS.Enabled || c.Channels.Voice.Enabled
	if phone && (c.Channels.Twilio.AccountSID == "" || c.Channels.Twilio.AuthToken == "") {
		add("channels.twilio: accountSid and authToken required in live mode")
	}
	if c.Channels.SMS.Enabled {
		if c.Channels.SMS.FromNumber == "" {
			add("channels.sms.fromNumber: required in live mode")
		}
		if len(c.Channels.SMS.Templates) == 0 {
			add("channels.sms.templates: at least one template required")
		}
	}
	if c.Channels.Voice.Enabled {
		if c.Channels.Voice.FromNumber == "" {
			add("channels.voice.fromNumber: required in live mode")
		}
		if c.Channels.Voice.TwimlURL == "" {
			add("channels.voice.twimlUrl: required in live mode")
		}
	}
	return out
}
