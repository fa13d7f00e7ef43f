package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/kay-darko/vybe/internal/models"
)

// Payload is the templated content of one outbound notification.
type Payload struct {
	Subject string            `json:"subject"`
	Body    string            `json:"body"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Sender is the external send capability. Implementations are assumed
// idempotency-unsafe and network-fallible; callers must gate every call and
// treat any error (including timeout) as a retryable failure, never an
// implicit success.
type Sender interface {
	Send(ctx context.Context, kind models.NotificationKind, recipient string, payload Payload) error
}

// SMTPSender delivers notifications as templated mail.
type SMTPSender struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

func NewSMTPSender(host, port, from, username, password string) *SMTPSender {
	return &SMTPSender{
		Host:     host,
		Port:     port,
		From:     from,
		Username: username,
		Password: password,
	}
}

func (s *SMTPSender) Send(ctx context.Context, kind models.NotificationKind, recipient string, payload Payload) error {
	deadline, ok := ctx.Deadline()
	timeout := 10 * time.Second
	if ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return fmt.Errorf("send deadline already passed for %s", recipient)
		}
	}

	addr := net.JoinHostPort(s.Host, s.Port)
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("failed to reach mail server: %v", err)
	}
	// Deadline on the whole SMTP conversation, not just the dial.
	if ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	client, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open smtp session: %v", err)
	}
	defer client.Close()

	if s.Username != "" {
		auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %v", err)
		}
	}

	if err := client.Mail(s.From); err != nil {
		return fmt.Errorf("smtp mail from failed: %v", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("smtp rcpt failed: %v", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data failed: %v", err)
	}

	msg := buildMessage(s.From, recipient, kind, payload)
	if _, err := w.Write([]byte(msg)); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %v", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %v", err)
	}

	return client.Quit()
}

func buildMessage(from, to string, kind models.NotificationKind, payload Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", payload.Subject)
	fmt.Fprintf(&b, "X-Vybe-Notification: %s\r\n", kind)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(payload.Body)
	b.WriteString("\r\n")
	return b.String()
}
