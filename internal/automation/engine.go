package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/chatlink/internal/connection"
	"github.com/wolfman30/chatlink/internal/events"
	"github.com/wolfman30/chatlink/internal/identity"
	"github.com/wolfman30/chatlink/internal/messaging"
	"github.com/wolfman30/chatlink/internal/observability/metrics"
	"github.com/wolfman30/chatlink/internal/transport"
	"github.com/wolfman30/chatlink/pkg/logging"
)

var tracer = otel.Tracer("chatlink/automation")

// processedScope is the ProcessedStore scope for auto-reply claims.
const processedScope = "automation.reply"

// Outcome labels what Process did with a job.
type Outcome string

const (
	OutcomeReplied        Outcome = "replied"
	OutcomeDisabled       Outcome = "disabled"
	OutcomeIneligible     Outcome = "ineligible"
	OutcomeAlreadyHandled Outcome = "already_handled"
	OutcomeThreadBlocked  Outcome = "thread_blocked"
	OutcomeRateLimited    Outcome = "rate_limited"
	OutcomeResponderError Outcome = "responder_error"
	OutcomeEmptyReply     Outcome = "empty_reply"
	OutcomeSendFailed     Outcome = "send_failed"
	OutcomeError          Outcome = "error"
)

// Messages is the message store surface the engine reads and marks.
type Messages interface {
	Get(ctx context.Context, id uuid.UUID) (messaging.Message, error)
	ListConversation(ctx context.Context, connectionID, counterparty string, limit int) ([]messaging.Message, error)
	MarkAutoReplied(ctx context.Context, id, replyID uuid.UUID) error
}

// Sender dispatches the generated reply.
type Sender interface {
	Send(ctx context.Context, connectionID, destination string, content transport.OutboundContent, opts ...messaging.SendOption) (messaging.Message, error)
}

// Instances reads the persisted connection record.
type Instances interface {
	Instance(ctx context.Context, instanceID string) (connection.Instance, error)
}

// ProcessedStore claims a key at most once.
type ProcessedStore interface {
	MarkProcessed(ctx context.Context, scope, key string) (bool, error)
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Messages     Messages
	Sender       Sender
	Instances    Instances
	Responder    Responder
	Queue        Queue
	Processed    ProcessedStore
	Threads      ThreadState
	Detector     *Detector
	Publisher    events.Publisher
	Metrics      *metrics.AutomationMetrics
	Logger       *logging.Logger
	WindowSize   int
	SystemPrompt string
	// ResponderTimeout bounds a single Generate call.
	ResponderTimeout time.Duration
}

// Engine decides whether an inbound message gets an auto-reply and produces it.
// Subscribing only enqueues; the reply itself runs on a worker so ingestion is
// never held up by the responder.
type Engine struct {
	messages     Messages
	sender       Sender
	instances    Instances
	responder    Responder
	queue        Queue
	processed    ProcessedStore
	threads      ThreadState
	detector     *Detector
	publisher    events.Publisher
	metrics      *metrics.AutomationMetrics
	logger       *logging.Logger
	windowSize   int
	systemPrompt string
	timeout      time.Duration
	now          func() time.Time
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	switch {
	case cfg.Messages == nil:
		return nil, errors.New("automation: message store required")
	case cfg.Sender == nil:
		return nil, errors.New("automation: sender required")
	case cfg.Instances == nil:
		return nil, errors.New("automation: instance reader required")
	case cfg.Responder == nil:
		return nil, errors.New("automation: responder required")
	case cfg.Queue == nil:
		return nil, errors.New("automation: queue required")
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10
	}
	if cfg.ResponderTimeout <= 0 {
		cfg.ResponderTimeout = 30 * time.Second
	}
	logger := logging.OrDefault(cfg.Logger).Component("automation")
	detector := cfg.Detector
	if detector == nil {
		detector = NewDetector(nil, nil, logger)
	}
	return &Engine{
		messages:     cfg.Messages,
		sender:       cfg.Sender,
		instances:    cfg.Instances,
		responder:    cfg.Responder,
		queue:        cfg.Queue,
		processed:    cfg.Processed,
		threads:      cfg.Threads,
		detector:     detector,
		publisher:    cfg.Publisher,
		metrics:      cfg.Metrics,
		logger:       logger,
		windowSize:   cfg.WindowSize,
		systemPrompt: cfg.SystemPrompt,
		timeout:      cfg.ResponderTimeout,
		now:          time.Now,
	}, nil
}

// Attach subscribes the engine to MessageReceived on bus.
func (e *Engine) Attach(bus *events.Bus) func() {
	return bus.Subscribe(events.TypeMessageReceived, e.Handle)
}

// Handle is the bus handler. It filters on the event payload and enqueues a job.
func (e *Engine) Handle(ctx context.Context, evt events.DomainEvent) {
	received, ok := evt.(events.MessageReceivedV1)
	if !ok {
		return
	}
	if !Eligible(received) {
		return
	}
	job, body, err := encodeJob(Job{
		ConnectionID:        received.ConnectionID,
		MessageID:           received.MessageID,
		CounterpartyAddress: received.CounterpartyAddress,
	})
	if err != nil {
		e.logger.Error("failed to encode automation job", "error", err)
		return
	}
	if err := e.enqueue(ctx, body); err != nil {
		if errors.Is(err, ErrQueueFull) {
			e.metrics.ObserveOutcome("dropped")
			e.logger.Warn("automation queue full; job dropped", "message_id", received.MessageID)
			return
		}
		e.metrics.ObserveOutcome("enqueue_failed")
		e.logger.Error("failed to enqueue automation job", "error", err, "message_id", received.MessageID)
		return
	}
	e.logger.Debug("automation job enqueued", "job_id", job.ID, "message_id", received.MessageID)
}

// enqueue never waits for buffer room; a remote queue gets a bounded send.
func (e *Engine) enqueue(ctx context.Context, body string) error {
	if q, ok := e.queue.(tryQueue); ok {
		return q.TrySend(body)
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return e.queue.Send(sendCtx, body)
}

// Eligible applies the trigger filter: a direct, non-empty text message on a
// connection with automation enabled.
func Eligible(evt events.MessageReceivedV1) bool {
	if !evt.AutomationEnabled {
		return false
	}
	if !identity.Kind(evt.AddressKind).IsDirect() {
		return false
	}
	if evt.ContentKind != string(messaging.ContentText) {
		return false
	}
	return strings.TrimSpace(evt.Text) != ""
}

// Process runs one job end to end. Failures are logged and reported as an
// Outcome; nothing is surfaced to the counterparty.
func (e *Engine) Process(ctx context.Context, job Job) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "automation.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("connection.id", job.ConnectionID),
		attribute.String("message.id", job.MessageID),
	)

	outcome, err := e.process(ctx, job)
	span.SetAttributes(attribute.String("automation.outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
	}
	e.metrics.ObserveOutcome(string(outcome))
	return outcome, err
}

func (e *Engine) process(ctx context.Context, job Job) (Outcome, error) {
	log := e.logger.With("instance_id", job.ConnectionID, "message_id", job.MessageID)

	enabled, err := e.automationEnabled(ctx, job.ConnectionID)
	if err != nil {
		log.Warn("automation skipped: instance unavailable", "error", err)
		return OutcomeError, err
	}
	if !enabled {
		log.Debug("automation skipped: disabled")
		return OutcomeDisabled, nil
	}

	messageID, err := uuid.Parse(job.MessageID)
	if err != nil {
		return OutcomeError, fmt.Errorf("automation: invalid message id %q: %w", job.MessageID, err)
	}
	origin, err := e.messages.Get(ctx, messageID)
	if err != nil {
		log.Warn("automation skipped: inbound message not found", "error", err)
		return OutcomeError, err
	}
	if !eligibleMessage(origin) {
		return OutcomeIneligible, nil
	}

	if e.processed != nil {
		claimed, err := e.processed.MarkProcessed(ctx, processedScope, origin.ID.String())
		if err != nil {
			log.Error("automation skipped: processed claim failed", "error", err)
			return OutcomeError, err
		}
		if !claimed {
			log.Debug("automation skipped: already handled")
			return OutcomeAlreadyHandled, nil
		}
	}

	if e.threads != nil {
		allowed, err := e.threads.AutomationAllowed(ctx, origin.ConnectionID, origin.CounterpartyAddress)
		if err != nil {
			log.Warn("thread state lookup failed; continuing", "error", err)
		} else if !allowed {
			log.Info("automation skipped: thread needs a human")
			return OutcomeThreadBlocked, nil
		}
	}

	e.signal(ctx, origin, e.detector.Detect(ctx, origin.Text))

	// One extra row so the origin itself does not cost a history turn.
	window, err := e.messages.ListConversation(ctx, origin.ConnectionID, origin.CounterpartyAddress, e.windowSize+1)
	if err != nil {
		log.Warn("conversation window unavailable; answering without history", "error", err)
		window = nil
	}
	req := BuildRequest(e.systemPrompt, History(window, origin, e.windowSize), origin)

	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	started := e.now()
	resp, err := e.responder.Generate(genCtx, req)
	cancel()
	elapsed := e.now().Sub(started).Seconds()
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metrics.ObserveResponder("rate_limited", elapsed)
			log.Warn("responder rate limited; no reply sent", "error", err)
			return OutcomeRateLimited, nil
		}
		e.metrics.ObserveResponder("error", elapsed)
		log.Warn("responder failed; no reply sent", "error", err)
		return OutcomeResponderError, nil
	}
	e.metrics.ObserveResponder("ok", elapsed)
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		log.Warn("responder returned empty text; no reply sent")
		return OutcomeEmptyReply, nil
	}

	// The toggle may have flipped while the responder was running.
	if enabled, err := e.automationEnabled(ctx, origin.ConnectionID); err != nil || !enabled {
		log.Info("automation disabled before dispatch; reply dropped")
		return OutcomeDisabled, nil
	}

	reply, err := e.sender.Send(ctx, origin.ConnectionID, origin.CounterpartyAddress,
		transport.OutboundContent{Text: text},
		messaging.WithReplyTo(origin.ID),
		messaging.WithOrigin(messaging.OriginAutomation),
	)
	if err != nil {
		log.Warn("auto-reply dispatch failed", "error", err)
		return OutcomeSendFailed, nil
	}
	if err := e.messages.MarkAutoReplied(ctx, origin.ID, reply.ID); err != nil {
		log.Error("failed to mark message auto-replied", "reply_id", reply.ID, "error", err)
	}
	log.Info("auto-reply sent", "reply_id", reply.ID, "protocol_message_id", reply.ProtocolMessageID)
	return OutcomeReplied, nil
}

func (e *Engine) automationEnabled(ctx context.Context, connectionID string) (bool, error) {
	inst, err := e.instances.Instance(ctx, connectionID)
	if err != nil {
		return false, err
	}
	return inst.AutomationEnabled, nil
}

// signal forwards a vocabulary match to the thread-state collaborator and the bus.
func (e *Engine) signal(ctx context.Context, origin messaging.Message, det Detection) {
	if det.Signal == SignalNone {
		return
	}
	e.metrics.ObserveSignal(string(det.Signal))
	log := e.logger.With("instance_id", origin.ConnectionID, "message_id", origin.ID)
	at := e.now().UTC()

	switch det.Signal {
	case SignalEscalate:
		sig := ThreadSignal{
			ConnectionID:        origin.ConnectionID,
			CounterpartyAddress: origin.CounterpartyAddress,
			CounterpartyName:    origin.CounterpartyName,
			MessageID:           origin.ID.String(),
			Text:                origin.Text,
			MatchedTerms:        det.EscalateTerms,
		}
		if e.threads != nil {
			if err := e.threads.RequireHuman(ctx, sig); err != nil {
				log.Warn("failed to flag thread for human handling", "error", err)
			}
		}
		if e.publisher != nil {
			e.publisher.Publish(ctx, events.ThreadEscalatedV1{
				ConnectionID:        sig.ConnectionID,
				CounterpartyAddress: sig.CounterpartyAddress,
				MessageID:           sig.MessageID,
				MatchedTerms:        sig.MatchedTerms,
				EscalatedAt:         at,
			})
		}
		log.Info("thread escalated", "terms", det.EscalateTerms)
	case SignalResolved:
		sig := ThreadSignal{
			ConnectionID:        origin.ConnectionID,
			CounterpartyAddress: origin.CounterpartyAddress,
			CounterpartyName:    origin.CounterpartyName,
			MessageID:           origin.ID.String(),
			Text:                origin.Text,
			MatchedTerms:        det.ResolvedTerms,
		}
		if e.threads != nil {
			if err := e.threads.MarkResolved(ctx, sig); err != nil {
				log.Warn("failed to mark thread resolved", "error", err)
			}
		}
		if e.publisher != nil {
			e.publisher.Publish(ctx, events.ThreadResolvedV1{
				ConnectionID:        sig.ConnectionID,
				CounterpartyAddress: sig.CounterpartyAddress,
				MessageID:           sig.MessageID,
				MatchedTerms:        sig.MatchedTerms,
				ResolvedAt:          at,
			})
		}
		log.Info("thread resolved", "terms", det.ResolvedTerms)
	}
}

func eligibleMessage(m messaging.Message) bool {
	return m.Direction == messaging.DirectionInbound &&
		m.AddressKind.IsDirect() &&
		m.ContentKind == messaging.ContentText &&
		strings.TrimSpace(m.Text) != "" &&
		!m.AutoReplied
}
