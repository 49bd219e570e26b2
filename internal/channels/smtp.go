package channels

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/store"
)

// SMTPEmail relays mail through an SMTP submission server.
type SMTPEmail struct {
	host           string
	port           int
	username       string
	password       string
	from           string
	replyTo        string
	unsubscribeURL string
	tlsConfig      *tls.Config
	now            func() time.Time
}

// NewSMTPEmail returns the email transport.
func NewSMTPEmail(cfg config.EmailConfig) *SMTPEmail {
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	return &SMTPEmail{
		host:           cfg.SMTPHost,
		port:           port,
		username:       cfg.SMTPUsername,
		password:       cfg.SMTPPassword,
		from:           cfg.From,
		replyTo:        cfg.ReplyTo,
		unsubscribeURL: cfg.UnsubscribeURL,
		tlsConfig:      &tls.Config{ServerName: cfg.SMTPHost, MinVersion: tls.VersionTLS12},
		now:            time.Now,
	}
}

func (e *SMTPEmail) Channel() store.Channel { return store.ChannelEmail }

// Send delivers one message. Permanent (5xx) SMTP replies are returned as
// *RejectedError.
func (e *SMTPEmail) Send(ctx context.Context, msg Message) (Receipt, error) {
	addr := net.JoinHostPort(e.host, strconv.Itoa(e.port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Receipt{}, fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return Receipt{}, fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(e.tlsConfig); err != nil {
			return Receipt{}, fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if e.username != "" {
		if err := c.Auth(smtp.PlainAuth("", e.username, e.password, e.host)); err != nil {
			return Receipt{}, smtpError("auth", err)
		}
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(e.from))
	envelopeFrom := e.from
	if a, err := mail.ParseAddress(e.from); err == nil {
		envelopeFrom = a.Address
	}
	if err := c.Mail(envelopeFrom); err != nil {
		return Receipt{}, smtpError("mail from", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return Receipt{}, smtpError("rcpt to", err)
	}
	w, err := c.Data()
	if err != nil {
		return Receipt{}, smtpError("data", err)
	}
	if _, err := w.Write(e.compose(msg, messageID)); err != nil {
		return Receipt{}, fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return Receipt{}, smtpError("data close", err)
	}
	_ = c.Quit()

	return Receipt{ID: messageID, Outcome: store.OutcomeSent}, nil
}

func (e *SMTPEmail) compose(msg Message, messageID string) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	header("From", e.from)
	header("To", msg.To)
	header("Reply-To", e.replyTo)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", e.now().Format(time.RFC1123Z))
	header("Message-ID", messageID)
	if e.unsubscribeURL != "" {
		header("List-Unsubscribe", "<"+e.unsubscribeURL+">")
	}
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	b.WriteString("\r\n")
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\r\n")
	}
	return b.Bytes()
}

func smtpError(stage string, err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return &RejectedError{
			Code:             tpErr.Code,
			Msg:              stage + ": " + tpErr.Msg,
			InvalidRecipient: stage == "rcpt to" && badMailbox(tpErr),
		}
	}
	return fmt.Errorf("smtp %s: %w", stage, err)
}

// badMailbox reports a permanent address failure: an enhanced status of
// 5.1.x (RFC 3463), or a bare 553 mailbox-name reply.
func badMailbox(e *textproto.Error) bool {
	if strings.HasPrefix(strings.TrimSpace(e.Msg), "5.1.") {
		return true
	}
	return e.Code == 553
}

func senderDomain(from string) string {
	if a, err := mail.ParseAddress(from); err == nil {
		if _, domain, ok := strings.Cut(a.Address, "@"); ok {
			return domain
		}
	}
	return "localhost"
}
