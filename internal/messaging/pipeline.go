package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/chatlink/internal/connection"
	"github.com/wolfman30/chatlink/internal/events"
	"github.com/wolfman30/chatlink/internal/identity"
	"github.com/wolfman30/chatlink/internal/observability/metrics"
	"github.com/wolfman30/chatlink/internal/transport"
	"github.com/wolfman30/chatlink/pkg/logging"
)

var tracer = otel.Tracer("chatlink/messaging")

// Connections is the slice of the connection manager messaging depends on.
type Connections interface {
	Instance(ctx context.Context, instanceID string) (connection.Instance, error)
	Transport(instanceID string) (transport.Transport, bool)
	RecordActivity(ctx context.Context, instanceID string, inbound bool, at time.Time) error
}

// Outcome is what ingestion did with one inbound event.
type Outcome string

const (
	OutcomeStored    Outcome = "stored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSelf      Outcome = "self"
	OutcomeBroadcast Outcome = "broadcast"
	OutcomeNoise     Outcome = "noise"
	OutcomeError     Outcome = "error"
)

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	Repository  Repository
	Connections Connections
	Resolver    *identity.Resolver
	Publisher   events.Publisher
	Metrics     *metrics.MessagingMetrics
	Logger      *logging.Logger
}

// Pipeline turns transport message events into persisted inbound messages. It is
// called from each instance's ordered consumer, so per-instance calls never overlap.
type Pipeline struct {
	repo      Repository
	conns     Connections
	resolver  *identity.Resolver
	publisher events.Publisher
	metrics   *metrics.MessagingMetrics
	logger    *logging.Logger
	now       func() time.Time
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Repository == nil {
		return nil, errors.New("messaging: pipeline repository required")
	}
	if cfg.Connections == nil {
		return nil, errors.New("messaging: pipeline connections required")
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = identity.NewResolver(nil, cfg.Logger)
	}
	return &Pipeline{
		repo:      cfg.Repository,
		conns:     cfg.Connections,
		resolver:  resolver,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    logging.OrDefault(cfg.Logger).Component("pipeline"),
		now:       time.Now,
	}, nil
}

// HandleInbound implements connection.InboundSink. Failures are logged and the
// event is dropped.
func (p *Pipeline) HandleInbound(ctx context.Context, instanceID string, tr transport.Transport, evt transport.Event) {
	_, _, _ = p.Ingest(ctx, instanceID, tr, evt)
}

// Ingest runs one event through the pipeline: self echoes, broadcasts and noise are
// rejected before the dedup check; the rest is resolved, stored, counted and
// announced as MessageReceived.
func (p *Pipeline) Ingest(ctx context.Context, instanceID string, tr transport.Transport, evt transport.Event) (Message, Outcome, error) {
	ctx, span := tracer.Start(ctx, "messaging.ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("connection.id", instanceID),
		attribute.String("message.protocol_id", evt.Key.ID),
	)

	msg, outcome, err := p.ingest(ctx, instanceID, tr, evt)
	span.SetAttributes(attribute.String("ingest.outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	p.metrics.ObserveInbound(string(outcome))
	return msg, outcome, err
}

func (p *Pipeline) ingest(ctx context.Context, instanceID string, tr transport.Transport, evt transport.Event) (Message, Outcome, error) {
	log := p.logger.With("instance_id", instanceID, "protocol_message_id", evt.Key.ID)

	if p.isSelf(tr, evt.Key) {
		log.Debug("ignoring self echo")
		return Message{}, OutcomeSelf, nil
	}
	remote := identity.CleanAddress(evt.Key.RemoteAddress)
	if identity.Classify(remote) == identity.KindBroadcast {
		log.Debug("ignoring broadcast message", "remote", remote)
		return Message{}, OutcomeBroadcast, nil
	}
	kind, text, ok := ExtractContent(evt.Content)
	if !ok || strings.TrimSpace(evt.Key.ID) == "" {
		log.Debug("ignoring message without content", "content_kind", evt.Content.Kind)
		return Message{}, OutcomeNoise, nil
	}

	seen, err := p.repo.Exists(ctx, instanceID, evt.Key.ID)
	if err != nil {
		log.Error("dedup check failed; dropping message", "error", err)
		return Message{}, OutcomeError, err
	}
	if seen {
		log.Debug("duplicate message")
		return Message{}, OutcomeDuplicate, nil
	}

	id := p.resolver.Resolve(ctx, tr, identity.Sender{
		ConnectionID:   instanceID,
		Address:        remote,
		PushName:       evt.PushName,
		DisclosedPhone: evt.SenderPhone,
	})
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}

	stored, inserted, err := p.repo.InsertInbound(ctx, Message{
		ConnectionID:        instanceID,
		ProtocolMessageID:   evt.Key.ID,
		Direction:           DirectionInbound,
		AddressKind:         id.Kind,
		CounterpartyAddress: id.Address,
		CounterpartyPhone:   id.Phone,
		CounterpartyName:    id.DisplayName,
		ContentKind:         kind,
		Text:                text,
		Status:              StatusDelivered,
		Timestamp:           ts,
	})
	if err != nil {
		log.Error("failed to persist inbound message; dropping", "error", err)
		return Message{}, OutcomeError, err
	}
	if !inserted {
		log.Debug("duplicate message lost insert race")
		return Message{}, OutcomeDuplicate, nil
	}

	if err := p.conns.RecordActivity(ctx, instanceID, true, ts); err != nil {
		log.Warn("failed to record inbound activity", "error", err)
	}

	automation := false
	if inst, err := p.conns.Instance(ctx, instanceID); err != nil {
		log.Warn("failed to read instance for automation flag", "error", err)
	} else {
		automation = inst.AutomationEnabled
	}

	if p.publisher != nil {
		p.publisher.Publish(ctx, events.MessageReceivedV1{
			MessageID:           stored.ID.String(),
			ConnectionID:        instanceID,
			ProtocolMessageID:   stored.ProtocolMessageID,
			AddressKind:         string(stored.AddressKind),
			CounterpartyAddress: stored.CounterpartyAddress,
			CounterpartyName:    stored.CounterpartyName,
			ContentKind:         string(stored.ContentKind),
			Text:                stored.Text,
			AutomationEnabled:   automation,
			ReceivedAt:          ts,
		})
	}
	log.Info("inbound message stored", "message_id", stored.ID, "address_kind", stored.AddressKind, "content_kind", stored.ContentKind)
	return stored, OutcomeStored, nil
}

// isSelf reports whether the event was authored by the connected account.
func (p *Pipeline) isSelf(tr transport.Transport, key transport.MessageKey) bool {
	if key.FromMe {
		return true
	}
	if tr == nil {
		return false
	}
	sender := key.RemoteAddress
	if identity.Classify(key.RemoteAddress) == identity.KindGroup {
		sender = key.Participant
	}
	sender = identity.CleanAddress(sender)
	if sender == "" {
		return false
	}
	self := tr.Self()
	if self.OpaqueID != "" && identity.CleanAddress(self.OpaqueID) == sender {
		return true
	}
	if self.Phone != "" {
		if phone, ok := identity.PhoneFromAddress(sender); ok && phone == identity.DigitsOnly(identity.UserPart(self.Phone)) {
			return true
		}
	}
	return false
}
