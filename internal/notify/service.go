package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/chatlink/pkg/logging"
)

// EscalationNotice describes a thread that now needs a human.
type EscalationNotice struct {
	ConnectionID        string
	CounterpartyAddress string
	CounterpartyName    string
	MessageID           string
	Text                string
	MatchedTerms        []string
	At                  time.Time
}

// Service fans operator notifications out to the configured recipients.
type Service struct {
	email      EmailSender
	recipients []string
	logger     *logging.Logger
}

// NewService builds a notification service. Blank recipients are dropped.
func NewService(email EmailSender, recipients []string, logger *logging.Logger) *Service {
	cleaned := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			cleaned = append(cleaned, r)
		}
	}
	return &Service{
		email:      email,
		recipients: cleaned,
		logger:     logging.OrDefault(logger).Component("notify"),
	}
}

// NotifyEscalation emails every recipient. It keeps going past individual
// failures and reports them together.
func (s *Service) NotifyEscalation(ctx context.Context, n EscalationNotice) error {
	if s == nil || s.email == nil || len(s.recipients) == 0 {
		return nil
	}

	subject, body := formatEscalation(n)
	var errs []error
	for _, recipient := range s.recipients {
		if err := s.email.Send(ctx, EmailMessage{To: recipient, Subject: subject, Body: body}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", recipient, err))
		}
	}
	if len(errs) > 0 {
		s.logger.Warn("escalation notification partially failed", "failed", len(errs), "recipients", len(s.recipients))
		return fmt.Errorf("notify: %d notification(s) failed: %w", len(errs), errors.Join(errs...))
	}
	s.logger.Info("escalation notification sent", "instance_id", n.ConnectionID, "recipients", len(s.recipients))
	return nil
}

func formatEscalation(n EscalationNotice) (subject, body string) {
	who := n.CounterpartyName
	if who == "" {
		who = n.CounterpartyAddress
	}
	subject = fmt.Sprintf("[%s] Conversation with %s needs a human", n.ConnectionID, who)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Connection: %s\n", n.ConnectionID)
	fmt.Fprintf(&sb, "Contact: %s (%s)\n", who, n.CounterpartyAddress)
	if !n.At.IsZero() {
		fmt.Fprintf(&sb, "When: %s\n", n.At.Format(time.RFC1123))
	}
	if len(n.MatchedTerms) > 0 {
		fmt.Fprintf(&sb, "Matched: %s\n", strings.Join(n.MatchedTerms, ", "))
	}
	sb.WriteString("\n--- Message ---\n")
	sb.WriteString(truncate(n.Text, 1000))
	sb.WriteString("\n\nAutomatic replies are paused for this conversation until it is reopened.\n")
	return subject, sb.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
