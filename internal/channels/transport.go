// Package channels holds the outbound transports (SMTP, Twilio SMS, Twilio
// voice), message rendering, and the voice outcome table.
package channels

import (
	"context"
	"errors"
	"fmt"

	"github.com/callcatcherops/autonomy/internal/store"
)

// Message is one outbound send.
type Message struct {
	LeadID  string
	To      string
	Subject string
	Body    string
	Step    int
}

// Receipt is what a transport reports for an accepted request.
type Receipt struct {
	// ID is the carrier or relay message id.
	ID string
	// Outcome is canonical for email and sms. For voice it is the raw carrier
	// disposition, normalized by an OutcomeTable.
	Outcome string
	Detail  map[string]any
}

// Transport delivers messages on one channel.
type Transport interface {
	Channel() store.Channel
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// RejectedError means the collaborator answered and refused the request, as
// opposed to a network failure or timeout.
type RejectedError struct {
	Code int
	Msg  string
	// InvalidRecipient is set when the refusal was about the address itself
	// (unknown mailbox, malformed or unreachable number).
	InvalidRecipient bool
}

func (e *RejectedError) Error() string {
	if e.InvalidRecipient {
		return fmt.Sprintf("rejected (%d, invalid recipient): %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("rejected (%d): %s", e.Code, e.Msg)
}

// IsInvalidRecipient reports whether err is a rejection of the recipient
// address.
func IsInvalidRecipient(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej) && rej.InvalidRecipient
}
