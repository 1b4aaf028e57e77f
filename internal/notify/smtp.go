package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// SMTPSender mails notifications through a relay.
type SMTPSender struct {
	Addr     string
	From     string
	Username string
	Password string
	// Fallback receives notices that carry no recipient.
	Fallback string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(addr, from, username, password, fallback string) *SMTPSender {
	return &SMTPSender{
		Addr:     addr,
		From:     from,
		Username: username,
		Password: password,
		Fallback: fallback,
		send:     smtp.SendMail,
	}
}

var errNoRecipient = errors.New("no recipient")

func (s *SMTPSender) IncidentCreated(ctx context.Context, n IncidentNotice) error {
	subject := fmt.Sprintf("[%s] Nuevo incidente: %s", n.Incident.Severity, n.Incident.Title)
	body := fmt.Sprintf("Incidente %s\nCategoría: %s\nSeveridad: %s\nEstado: %s\n\n%s\n",
		n.Incident.ID, n.Incident.Category, n.Incident.Severity, n.Incident.State, n.Incident.Description)
	return s.mail(ctx, n.Recipient, subject, body)
}

func (s *SMTPSender) RiskMaterialized(ctx context.Context, n MaterializationNotice) error {
	subject := fmt.Sprintf("[%s] Riesgo materializado: %s", n.Event.RealSeverity, n.Risk.Name)
	var b strings.Builder
	fmt.Fprintf(&b, "Riesgo %s (%s)\n", n.Risk.Name, n.Risk.ID)
	fmt.Fprintf(&b, "Severidad real: %s\n\n%s\n", n.Event.RealSeverity, n.Event.EventDescription)
	if len(n.Event.ActionsTaken) > 0 {
		b.WriteString("\nAcciones tomadas:\n")
		for _, a := range n.Event.ActionsTaken {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	if n.IncidentID != nil {
		fmt.Fprintf(&b, "\nIncidente generado: %s\n", *n.IncidentID)
	}
	return s.mail(ctx, n.Recipient, subject, b.String())
}

func (s *SMTPSender) mail(ctx context.Context, to, subject, body string) error {
	if to == "" {
		to = s.Fallback
	}
	if to == "" {
		return errNoRecipient
	}

	msg := []byte(strings.Join([]string{
		"From: " + s.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n"))

	var auth smtp.Auth
	if s.Username != "" {
		host, _, err := net.SplitHostPort(s.Addr)
		if err != nil {
			return fmt.Errorf("smtp addr: %w", err)
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}

	done := make(chan error, 1)
	go func() { done <- s.send(s.Addr, auth, s.From, []string{to}, msg) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
