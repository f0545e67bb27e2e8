package support

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/chatlink/internal/automation"
	"github.com/wolfman30/chatlink/internal/notify"
	"github.com/wolfman30/chatlink/pkg/logging"
)

var tracer = otel.Tracer("chatlink/support")

type threadStore interface {
	Get(ctx context.Context, connectionID, counterparty string) (*Thread, error)
	MarkNeedsHuman(ctx context.Context, connectionID, counterparty, messageID string, terms []string, at time.Time) error
	MarkResolved(ctx context.Context, connectionID, counterparty, messageID string, terms []string, at time.Time) error
	Reopen(ctx context.Context, connectionID, counterparty string, at time.Time) error
	List(ctx context.Context, connectionID string, state State) ([]Thread, error)
}

// Notifier alerts operators about an escalated thread.
type Notifier interface {
	NotifyEscalation(ctx context.Context, n notify.EscalationNotice) error
}

// ThreadService is the thread-state collaborator of the automation engine.
type ThreadService struct {
	store    threadStore
	notifier Notifier
	logger   *logging.Logger
	now      func() time.Time
}

// NewThreadService wires the service. notifier may be nil.
func NewThreadService(store threadStore, notifier Notifier, logger *logging.Logger) *ThreadService {
	if store == nil {
		panic("support: thread store required")
	}
	return &ThreadService{
		store:    store,
		notifier: notifier,
		logger:   logging.OrDefault(logger).Component("support"),
		now:      time.Now,
	}
}

// AutomationAllowed is true for unknown threads and for threads not handed to a human.
func (s *ThreadService) AutomationAllowed(ctx context.Context, connectionID, counterparty string) (bool, error) {
	t, err := s.store.Get(ctx, connectionID, counterparty)
	if errors.Is(err, ErrThreadNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !t.AutomationDisabled, nil
}

func (s *ThreadService) RequireHuman(ctx context.Context, sig automation.ThreadSignal) error {
	ctx, span := tracer.Start(ctx, "support.require_human")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", sig.ConnectionID))

	at := s.now().UTC()
	if err := s.store.MarkNeedsHuman(ctx, sig.ConnectionID, sig.CounterpartyAddress, sig.MessageID, sig.MatchedTerms, at); err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info("thread handed to a human",
		"instance_id", sig.ConnectionID,
		"counterparty", sig.CounterpartyAddress,
		"terms", sig.MatchedTerms,
	)

	if s.notifier != nil {
		notice := notify.EscalationNotice{
			ConnectionID:        sig.ConnectionID,
			CounterpartyAddress: sig.CounterpartyAddress,
			CounterpartyName:    sig.CounterpartyName,
			MessageID:           sig.MessageID,
			Text:                sig.Text,
			MatchedTerms:        sig.MatchedTerms,
			At:                  at,
		}
		if err := s.notifier.NotifyEscalation(ctx, notice); err != nil {
			s.logger.Error("failed to notify operators", "error", err, "instance_id", sig.ConnectionID)
		}
	}
	return nil
}

func (s *ThreadService) MarkResolved(ctx context.Context, sig automation.ThreadSignal) error {
	if err := s.store.MarkResolved(ctx, sig.ConnectionID, sig.CounterpartyAddress, sig.MessageID, sig.MatchedTerms, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("thread marked resolved", "instance_id", sig.ConnectionID, "counterparty", sig.CounterpartyAddress)
	return nil
}

// Reopen re-enables automation for a thread an operator finished handling.
func (s *ThreadService) Reopen(ctx context.Context, connectionID, counterparty string) error {
	if err := s.store.Reopen(ctx, connectionID, counterparty, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("thread reopened for automation", "instance_id", connectionID, "counterparty", counterparty)
	return nil
}

func (s *ThreadService) Get(ctx context.Context, connectionID, counterparty string) (*Thread, error) {
	return s.store.Get(ctx, connectionID, counterparty)
}

func (s *ThreadService) List(ctx context.Context, connectionID string, state State) ([]Thread, error) {
	return s.store.List(ctx, connectionID, state)
}

var _ automation.ThreadState = (*ThreadService)(nil)
