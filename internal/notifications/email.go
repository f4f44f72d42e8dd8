package notifications

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// EmailSink sends events as plain-text mail through one SMTP server.
type EmailSink struct {
	Server     string
	Port       int
	Username   string
	Password   string
	UseTLS     bool
	Sender     string
	Recipients []string
	Timeout    time.Duration
}

// Name identifies the sink in logs.
func (e *EmailSink) Name() string {
	return "email:" + strings.Join(e.Recipients, ",")
}

// Deliver opens a connection, optionally upgrades it with STARTTLS and
// authenticates, then sends one message to every recipient. Authentication
// and recipient rejections (5xx replies) are permanent.
func (e *EmailSink) Deliver(ctx context.Context, event Event) error {
	if len(e.Recipients) == 0 {
		return nil
	}
	addr := net.JoinHostPort(e.Server, strconv.Itoa(e.Port))
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, e.Server)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if e.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return Permanent(fmt.Errorf("smtp server %s does not offer STARTTLS", addr))
		}
		if err := client.StartTLS(&tls.Config{ServerName: e.Server, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if e.Username != "" {
		auth := smtp.PlainAuth("", e.Username, e.Password, e.Server)
		if err := client.Auth(auth); err != nil {
			return classifySMTP(fmt.Errorf("smtp auth: %w", err))
		}
	}
	if err := client.Mail(e.Sender); err != nil {
		return classifySMTP(fmt.Errorf("smtp MAIL FROM: %w", err))
	}
	for _, rcpt := range e.Recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return classifySMTP(fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err))
		}
	}
	w, err := client.Data()
	if err != nil {
		return classifySMTP(fmt.Errorf("smtp DATA: %w", err))
	}
	if _, err := w.Write(e.message(event)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write smtp message: %w", err)
	}
	if err := w.Close(); err != nil {
		return classifySMTP(fmt.Errorf("finish smtp message: %w", err))
	}
	return client.Quit()
}

func (e *EmailSink) message(event Event) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.Sender)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", event.Subject())
	fmt.Fprintf(&b, "Date: %s\r\n", event.Timestamp.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@spool>\r\n", strings.ReplaceAll(event.ID, ":", "."))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(event.Body(), "\n", "\r\n"))
	return []byte(b.String())
}

// classifySMTP treats 5xx replies as permanent and everything else as retryable.
func classifySMTP(err error) error {
	var reply *textproto.Error
	if errors.As(err, &reply) && reply.Code >= 500 {
		return Permanent(err)
	}
	return err
}
