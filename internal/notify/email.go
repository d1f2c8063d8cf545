// Package notify delivers pipeline outcomes: email to humans and HTTP
// callbacks to the production web service.
package notify

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

// Mailer sends build outcome email over SMTP. A nil Mailer is a valid
// no-op transport — email is best-effort everywhere.
type Mailer struct {
	host       string
	port       int
	user       string
	password   string
	from       string
	recipients []string
}

// NewMailer creates a mailer, or nil when no SMTP host is configured.
// The disabled state is logged once here so every later send can stay
// silent about it.
func NewMailer(host string, port int, user, password, from string, recipients []string) *Mailer {
	if host == "" {
		log.Printf("[notify] no mail host configured, build email disabled")
		return nil
	}
	return &Mailer{
		host:       host,
		port:       port,
		user:       user,
		password:   password,
		from:       from,
		recipients: recipients,
	}
}

// SendBuildEmail sends to the configured recipient list plus the per-task
// recipient. With recipientOnly, only the per-task recipient is used, and
// nothing is sent if there is none. Transport failures are logged (with
// credentials redacted) and never returned — a failed email must not fail
// a deploy.
func (m *Mailer) SendBuildEmail(subject, body, recipient string, recipientOnly bool) {
	if m == nil {
		return
	}

	var to []string
	if recipientOnly {
		if recipient == "" {
			return
		}
		to = []string{recipient}
	} else {
		to = append(to, m.recipients...)
		if recipient != "" {
			to = append(to, recipient)
		}
	}
	if len(to) == 0 {
		return
	}

	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"",
		crlf(body),
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.password, m.host)
	}

	if err := smtp.SendMail(addr, auth, m.from, to, []byte(msg)); err != nil {
		log.Printf("[notify] ERROR sending email %q: %s", subject, redact(err.Error(), m.password))
	}
}

// crlf normalizes bare newlines to CRLF for the SMTP wire.
func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// redact removes the SMTP password from an error message before logging.
func redact(s, password string) string {
	if password == "" {
		return s
	}
	return strings.ReplaceAll(s, password, "***")
}
