package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/polish/internal/config"
)

// SMTPTransport sends mail through a plain SMTP session with optional
// STARTTLS and optional authentication, mirroring the simple smtplib-style
// flow the notification config models. There is no mail library in use
// anywhere in this codebase's ecosystem of record; the session below is the
// whole requirement.
type SMTPTransport struct {
	cfg config.EmailConfig
}

// NewSMTPTransport creates the transport for an email config.
func NewSMTPTransport(cfg config.EmailConfig) *SMTPTransport {
	return &SMTPTransport{cfg: cfg}
}

// Name implements Transport.
func (t *SMTPTransport) Name() string { return "smtp" }

// Send implements Transport.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(t.cfg.SMTPServer, strconv.Itoa(t.cfg.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}

	c, err := smtp.NewClient(conn, t.cfg.SMTPServer)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake with %s: %w", addr, err)
	}
	defer c.Close()

	if t.cfg.StartTLS() {
		if err := c.StartTLS(&tls.Config{ServerName: t.cfg.SMTPServer}); err != nil {
			return fmt.Errorf("starttls with %s: %w", addr, err)
		}
	}

	if t.cfg.SMTPUser != "" && t.cfg.SMTPPassword.IsSet() {
		auth := smtp.PlainAuth("", t.cfg.SMTPUser, t.cfg.SMTPPassword.Value(), t.cfg.SMTPServer)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(msg.Sender); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range msg.Recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(renderMail(msg))); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing message: %w", err)
	}

	return c.Quit()
}

// renderMail formats the RFC 5322 message body.
func renderMail(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.Sender)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")
	return b.String()
}
