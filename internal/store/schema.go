package store

import (
	"time"
)

// Channel is an outreach medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
)

// Channels lists every channel in declaration order.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelVoice}

// Paid reports whether sends on the channel cost money per attempt.
func (c Channel) Paid() bool { return c == ChannelSMS || c == ChannelVoice }

// ParseChannel maps a config or wire name to a Channel.
func ParseChannel(s string) (Channel, bool) {
	switch Channel(s) {
	case ChannelEmail, ChannelSMS, ChannelVoice:
		return Channel(s), true
	}
	return "", false
}

// LeadStatus is the lifecycle state of a Lead.
type LeadStatus string

const (
	StatusNew       LeadStatus = "new"
	StatusContacted LeadStatus = "contacted"
	StatusReplied   LeadStatus = "replied"
	StatusBounced   LeadStatus = "bounced"
	StatusOptedOut  LeadStatus = "opted_out"
	StatusBadEmail  LeadStatus = "bad_email"
	StatusBadPhone  LeadStatus = "bad_phone"
)

// Terminal reports whether no further status transition is allowed.
func (s LeadStatus) Terminal() bool {
	switch s {
	case StatusBounced, StatusOptedOut, StatusBadEmail, StatusBadPhone:
		return true
	}
	return false
}

var transitions = map[LeadStatus][]LeadStatus{
	StatusNew:       {StatusContacted, StatusBadEmail, StatusBadPhone, StatusOptedOut},
	StatusContacted: {StatusReplied, StatusBounced, StatusBadEmail, StatusBadPhone, StatusOptedOut},
	StatusReplied:   {StatusOptedOut},
}

// CanTransition reports whether from -> to is a legal lead status change.
// Staying in the same state is always allowed.
func CanTransition(from, to LeadStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Direction of an Action relative to us.
type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

// Action outcomes. Voice uses the closed set spoke/voicemail/no_answer/failed.
const (
	OutcomeSent      = "sent"
	OutcomeFailed    = "failed"
	OutcomeError     = "error"
	OutcomeBounced   = "bounced"
	OutcomeReplied   = "replied"
	OutcomeSpoke     = "spoke"
	OutcomeVoicemail = "voicemail"
	OutcomeNoAnswer  = "no_answer"
	OutcomeBooked    = "booked"
	OutcomePaid      = "paid"
	OutcomeOptedOut  = "opted_out"
)

// BusinessOutcome reports whether an inbound outcome counts as a reply,
// booking, or payment.
func BusinessOutcome(outcome string) bool {
	switch outcome {
	case OutcomeReplied, OutcomeBooked, OutcomePaid:
		return true
	}
	return false
}

// Email methods describe how an address was obtained.
const (
	EmailMethodDirect  = "direct"
	EmailMethodScrape  = "scrape"
	EmailMethodGuess   = "guess"
	EmailMethodUnknown = "unknown"
)

// Lead is a prospective customer.
type Lead struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Company       string     `json:"company"`
	Service       string     `json:"service"`
	City          string     `json:"city"`
	State         string     `json:"state"`
	Phone         string     `json:"phone,omitempty"` // E.164
	Email         string     `json:"email,omitempty"` // lower-cased
	Source        string     `json:"source"`
	Notes         string     `json:"notes,omitempty"`
	EmailMethod   string     `json:"email_method"`
	Score         int        `json:"score"`
	Status        LeadStatus `json:"status"`
	EmailInvalid  bool       `json:"email_invalid"`
	PhoneInvalid  bool       `json:"phone_invalid"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastTouchedAt time.Time  `json:"last_touched_at,omitzero"`
}

// Contacts returns the non-empty contact identifiers of the lead.
func (l Lead) Contacts() []string {
	out := make([]string, 0, 2)
	if l.Email != "" {
		out = append(out, l.Email)
	}
	if l.Phone != "" {
		out = append(out, l.Phone)
	}
	return out
}

// Contact returns the identifier used to reach the lead on a channel.
func (l Lead) Contact(ch Channel) string {
	if ch == ChannelEmail {
		return l.Email
	}
	return l.Phone
}

// Action is one immutable outreach attempt or inbound signal.
type Action struct {
	ID        string         `json:"id"`
	LeadID    string         `json:"lead_id"`
	RunID     string         `json:"run_id,omitempty"`
	Channel   Channel        `json:"channel"`
	Direction Direction      `json:"direction"`
	Step      int            `json:"step"`
	Outcome   string         `json:"outcome"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// OptOut is a permanent suppression of one contact.
type OptOut struct {
	Contact   string    `json:"contact"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerEntry is one append-only audit record.
type LedgerEntry struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id,omitempty"`
	Timestamp  time.Time      `json:"ts"`
	AgentID    string         `json:"agent_id"`
	ActionType string         `json:"action_type"`
	LeadID     string         `json:"lead_id,omitempty"`
	Channel    Channel        `json:"channel,omitempty"`
	Step       int            `json:"step"`
	Outcome    string         `json:"outcome,omitempty"`
	ReasonCode string         `json:"reason_code,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Times are stored as unix milliseconds so range filters compare numerically.
const Schema = `
CREATE TABLE IF NOT EXISTS leads (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	company TEXT NOT NULL DEFAULT '',
	service TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	email_method TEXT NOT NULL DEFAULT 'unknown',
	score INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'new',
	email_invalid BOOLEAN NOT NULL DEFAULT 0,
	phone_invalid BOOLEAN NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	last_touched_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_leads_status_score ON leads(status, score);
CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email);
CREATE INDEX IF NOT EXISTS idx_leads_phone ON leads(phone);

CREATE TABLE IF NOT EXISTS actions (
	id TEXT PRIMARY KEY,
	lead_id TEXT NOT NULL REFERENCES leads(id),
	run_id TEXT NOT NULL DEFAULT '',
	channel TEXT NOT NULL,
	direction TEXT NOT NULL,
	step INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	metadata TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_actions_lead ON actions(lead_id, channel);
CREATE INDEX IF NOT EXISTS idx_actions_channel_time ON actions(channel, created_at);

CREATE TABLE IF NOT EXISTS opt_outs (
	contact TEXT PRIMARY KEY,
	source TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT UNIQUE NOT NULL,
	run_id TEXT NOT NULL DEFAULT '',
	ts INTEGER NOT NULL,
	agent_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	lead_id TEXT NOT NULL DEFAULT '',
	channel TEXT NOT NULL DEFAULT '',
	step INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL DEFAULT '',
	reason_code TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_ledger_lead ON ledger(lead_id, ts);
CREATE INDEX IF NOT EXISTS idx_ledger_run ON ledger(run_id);

CREATE TRIGGER IF NOT EXISTS ledger_no_update BEFORE UPDATE ON ledger
BEGIN
	SELECT RAISE(ABORT, 'ledger is append-only');
END;

CREATE TRIGGER IF NOT EXISTS ledger_no_delete BEFORE DELETE ON ledger
BEGIN
	SELECT RAISE(ABORT, 'ledger is append-only');
END;

CREATE TRIGGER IF NOT EXISTS actions_no_update BEFORE UPDATE ON actions
BEGIN
	SELECT RAISE(ABORT, 'actions are immutable');
END;

CREATE TABLE IF NOT EXISTS signals_seen (
	id TEXT PRIMARY KEY,
	seen_at INTEGER NOT NULL
);
`
