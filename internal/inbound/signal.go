// Package inbound applies replies, bounces, opt-outs, bookings and payments
// observed by collaborators to existing leads.
package inbound

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/callcatcherops/autonomy/internal/hygiene"
	"github.com/callcatcherops/autonomy/internal/store"
)

// Signal kinds. They double as inbound Action outcomes.
const (
	KindReply   = store.OutcomeReplied
	KindBounce  = store.OutcomeBounced
	KindOptOut  = store.OutcomeOptedOut
	KindBooking = store.OutcomeBooked
	KindPayment = store.OutcomePaid
)

// Signal is one inbound observation.
type Signal struct {
	ID      string        `json:"id,omitempty"`
	Kind    string        `json:"kind,omitempty"`
	Channel store.Channel `json:"channel"`
	// From is the sender address or number.
	From     string `json:"from"`
	FromName string `json:"from_name,omitempty"`
	// Contact overrides the lead contact the signal is about, e.g. the failed
	// recipient of a bounce or the invitee of a booking.
	Contact string    `json:"contact,omitempty"`
	Subject string    `json:"subject,omitempty"`
	Body    string    `json:"body,omitempty"`
	Source  string    `json:"source,omitempty"`
	At      time.Time `json:"at,omitzero"`
}

var (
	bounceSubjectRE  = regexp.MustCompile(`(?i)(undeliver|returned to sender|delivery status notification|delivery[ -]status|mail delivery failed|failure)`)
	finalRecipientRE = regexp.MustCompile(`(?i)(?:final|original)-recipient:\s*rfc822;\s*([^\s<>]+@[^\s<>]+)`)
	emailOptOutRE    = regexp.MustCompile(`(?i)\b(unsubscribe|opt\s*out|remove me)\b`)
	smsOptOutRE      = regexp.MustCompile(`(?i)\b(stop|stopall|unsubscribe|cancel|quit|end|remove|opt\s*out)\b`)
	calendlySubjRE   = regexp.MustCompile(`(?i)(calendly|invitation:|scheduled with|rescheduled)`)
	calendlyBodyRE   = regexp.MustCompile(`(?i)(calendly\.com/|you are scheduled|new event type)`)
	stripeSubjRE     = regexp.MustCompile(`(?i)(charge\.succeeded|invoice\.paid|payment succeeded|receipt for your payment)`)
	stripeBodyRE     = regexp.MustCompile(`(?i)(stripe\.com/receipts|checkout\.stripe\.com/pay/|view your invoice|payment_intent\.succeeded|checkout\.session\.completed)`)
)

// Classify fills in Kind and Contact when the source did not set them.
// Bounces are checked first: a bounce body quotes our outreach, which may
// contain booking or payment links.
func Classify(s Signal) Signal {
	if s.Channel == "" {
		s.Channel = store.ChannelEmail
		if hygiene.NormalizePhone(s.From) != "" && !strings.Contains(s.From, "@") {
			s.Channel = store.ChannelSMS
		}
	}
	s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
	if s.Kind == "" {
		s.Kind = detectKind(s)
	}
	if s.Kind == KindBounce && s.Contact == "" {
		if m := finalRecipientRE.FindStringSubmatch(s.Body); m != nil {
			s.Contact = m[1]
		}
	}
	if s.Contact == "" && s.Kind != KindBounce {
		s.Contact = s.From
	}
	s.Contact = normalizeContact(s.Contact)
	return s
}

func detectKind(s Signal) string {
	from := strings.ToLower(s.From)
	if s.Channel == store.ChannelEmail {
		body := strings.ToLower(s.Body)
		switch {
		case strings.Contains(from, "mailer-daemon"), strings.Contains(from, "postmaster"),
			strings.Contains(strings.ToLower(s.FromName), "mail delivery"),
			bounceSubjectRE.MatchString(s.Subject),
			strings.Contains(body, "final-recipient") && strings.Contains(body, "diagnostic-code"):
			return KindBounce
		case strings.Contains(from, "calendly"), calendlySubjRE.MatchString(s.Subject), calendlyBodyRE.MatchString(s.Body):
			return KindBooking
		case strings.Contains(from, "stripe"), stripeSubjRE.MatchString(s.Subject), stripeBodyRE.MatchString(s.Body):
			return KindPayment
		case emailOptOutRE.MatchString(s.Subject), emailOptOutRE.MatchString(s.Body):
			return KindOptOut
		}
		return KindReply
	}
	if smsOptOutRE.MatchString(s.Body) {
		return KindOptOut
	}
	return KindReply
}

func normalizeContact(c string) string {
	c = strings.TrimSpace(c)
	if strings.Contains(c, "@") {
		return hygiene.NormalizeEmail(c)
	}
	if p := hygiene.NormalizePhone(c); p != "" {
		return p
	}
	return c
}

// Key is the de-duplication key: the source id, or a digest of the content.
func (s Signal) Key() string {
	if s.ID != "" {
		return s.ID
	}
	h := sha256.New()
	for _, part := range []string{string(s.Channel), s.Kind, s.From, s.Contact, s.Subject, s.Body, s.At.UTC().Format(time.RFC3339Nano)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
