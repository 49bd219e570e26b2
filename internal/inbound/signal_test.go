package inbound

import (
	"testing"

	"github.com/callcatcherops/autonomy/internal/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		in          Signal
		wantKind    string
		wantContact string
	}{
		{
			name:        "plain reply",
			in:          Signal{Channel: store.ChannelEmail, From: "Owner@Acme.com", Subject: "Re: missed calls", Body: "Sounds good, what does it cost?"},
			wantKind:    KindReply,
			wantContact: "owner@acme.com",
		},
		{
			name: "dsn bounce",
			in: Signal{
				Channel: store.ChannelEmail,
				From:    "MAILER-DAEMON@mx.example.net",
				Subject: "Undelivered Mail Returned to Sender",
				Body:    "Final-Recipient: rfc822; Gone@Acme.com\nDiagnostic-Code: smtp; 550 5.1.1 user unknown",
			},
			wantKind:    KindBounce,
			wantContact: "gone@acme.com",
		},
		{
			name:     "bounce without recipient",
			in:       Signal{Channel: store.ChannelEmail, From: "postmaster@example.net", Subject: "Delivery Status Notification (Failure)"},
			wantKind: KindBounce,
		},
		{
			name:        "email unsubscribe",
			in:          Signal{Channel: store.ChannelEmail, From: "owner@acme.com", Body: "Please remove me from this list"},
			wantKind:    KindOptOut,
			wantContact: "owner@acme.com",
		},
		{
			name:        "sms stop",
			in:          Signal{Channel: store.ChannelSMS, From: "(512) 555-0100", Body: "STOP"},
			wantKind:    KindOptOut,
			wantContact: "+15125550100",
		},
		{
			name:        "sms reply",
			in:          Signal{Channel: store.ChannelSMS, From: "+15125550100", Body: "who is this?"},
			wantKind:    KindReply,
			wantContact: "+15125550100",
		},
		{
			name:        "channel inferred from phone",
			in:          Signal{From: "5125550100", Body: "unsubscribe"},
			wantKind:    KindOptOut,
			wantContact: "+15125550100",
		},
		{
			name:        "calendly booking",
			in:          Signal{Channel: store.ChannelEmail, From: "notifications@calendly.com", Subject: "New Event: Baseline call", Contact: "owner@acme.com"},
			wantKind:    KindBooking,
			wantContact: "owner@acme.com",
		},
		{
			name:        "stripe payment",
			in:          Signal{Channel: store.ChannelEmail, From: "receipts@example.com", Subject: "Receipt for your payment", Contact: "owner@acme.com"},
			wantKind:    KindPayment,
			wantContact: "owner@acme.com",
		},
		{
			name:        "explicit kind wins",
			in:          Signal{Channel: store.ChannelEmail, Kind: " Opted_Out ", From: "owner@acme.com", Source: "unsubscribe_link"},
			wantKind:    KindOptOut,
			wantContact: "owner@acme.com",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in)
			if got.Kind != tt.wantKind {
				t.Fatalf("kind: got %q want %q", got.Kind, tt.wantKind)
			}
			if got.Contact != tt.wantContact {
				t.Fatalf("contact: got %q want %q", got.Contact, tt.wantContact)
			}
		})
	}
}

func TestSignalKeyStable(t *testing.T) {
	a := Classify(Signal{Channel: store.ChannelSMS, From: "+15125550100", Body: "STOP"})
	b := Classify(Signal{Channel: store.ChannelSMS, From: "+15125550100", Body: "STOP"})
	if a.Key() != b.Key() {
		t.Fatalf("content key not stable: %s vs %s", a.Key(), b.Key())
	}
	if (Signal{ID: "SM123"}).Key() != "SM123" {
		t.Fatal("explicit id must be used as key")
	}
}
