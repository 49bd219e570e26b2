package channels

import (
	"errors"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/store"
)

func TestRendererStepsAndFooter(t *testing.T) {
	r, err := NewRenderer([]config.MessageTemplate{
		{Subject: "Missed calls at {{.Company}}?", Body: "Hi {{.FirstName}},\nquick question about {{.Service}}."},
		{Subject: "Following up", Body: "Hi {{.FirstName}}, circling back. Opt out: {{.UnsubscribeURL}}"},
	}, "https://example.org/u", "100 Main St, Austin TX", true)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	data := NewTemplateData(store.Lead{Name: "Jane Doe", Company: "Acme", Service: "plumbing"}, 0)

	subj, body, err := r.Render(0, data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if subj != "Missed calls at Acme?" {
		t.Fatalf("subject = %q", subj)
	}
	if !strings.HasPrefix(body, "Hi Jane,") || !strings.Contains(body, "Unsubscribe: https://example.org/u") || !strings.Contains(body, "100 Main St") {
		t.Fatalf("body = %q", body)
	}

	_, body, err = r.Render(5, data)
	if err != nil {
		t.Fatalf("render late step: %v", err)
	}
	if strings.Contains(body, "Unsubscribe: ") {
		t.Fatalf("footer should not repeat a link already in the body: %q", body)
	}
	if !strings.Contains(body, "circling back") {
		t.Fatalf("late steps should reuse the last template: %q", body)
	}
}

func TestRendererRejectsBadTemplate(t *testing.T) {
	if _, err := NewRenderer([]config.MessageTemplate{{Body: "{{.Broken"}}, "", "", false); err == nil {
		t.Fatal("expected parse error")
	}
	r, _ := NewRenderer(nil, "", "", false)
	if _, _, err := r.Render(0, TemplateData{}); err == nil {
		t.Fatal("expected error without templates")
	}
}

func TestSMTPCompose(t *testing.T) {
	e := NewSMTPEmail(config.EmailConfig{SMTPHost: "smtp.example.org", From: "Ops <ops@example.org>", ReplyTo: "reply@example.org", UnsubscribeURL: "https://example.org/u"})
	e.now = func() time.Time { return time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC) }
	raw := string(e.compose(Message{To: "jane@acme.com", Subject: "Hello", Body: "line one\nline two"}, "<id@example.org>"))
	for _, want := range []string{
		"From: Ops <ops@example.org>\r\n",
		"To: jane@acme.com\r\n",
		"Reply-To: reply@example.org\r\n",
		"List-Unsubscribe: <https://example.org/u>\r\n",
		"Message-ID: <id@example.org>\r\n",
		"\r\n\r\nline one\r\nline two\r\n",
	} {
		if !strings.Contains(raw, want) {
			t.Fatalf("composed message missing %q:\n%s", want, raw)
		}
	}
	if got := senderDomain("Ops <ops@example.org>"); got != "example.org" {
		t.Fatalf("sender domain = %q", got)
	}
}

func TestSMTPErrorClassification(t *testing.T) {
	var rej *RejectedError
	if !errors.As(smtpError("rcpt to", &textproto.Error{Code: 550, Msg: "no such user"}), &rej) {
		t.Fatal("5xx should be a rejection")
	}
	if errors.As(smtpError("rcpt to", &textproto.Error{Code: 451, Msg: "try later"}), &rej) {
		t.Fatal("4xx should not be a rejection")
	}

	tests := []struct {
		stage string
		code  int
		msg   string
		want  bool
	}{
		{"rcpt to", 550, "5.1.1 <ann@acme.com>: Recipient address rejected: User unknown", true},
		{"rcpt to", 550, "5.1.10 RESOLVER.ADR.RecipientNotFound", true},
		{"rcpt to", 553, "mailbox name not allowed", true},
		{"rcpt to", 550, "5.7.1 Relaying denied", false},
		{"rcpt to", 554, "5.7.1 Service unavailable; client host blocked", false},
		{"mail from", 550, "5.1.8 Sender address rejected", false},
		{"data", 552, "5.3.4 Message size exceeds fixed limit", false},
	}
	for _, tt := range tests {
		got := IsInvalidRecipient(smtpError(tt.stage, &textproto.Error{Code: tt.code, Msg: tt.msg}))
		if got != tt.want {
			t.Errorf("%s %d %q: invalid recipient = %v, want %v", tt.stage, tt.code, tt.msg, got, tt.want)
		}
	}
}
