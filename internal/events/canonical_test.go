package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

type badEvent struct{}

func (badEvent) EventType() string    { return "" }
func (badEvent) AggregateKey() string { return "agg" }

func TestNewEnvelope(t *testing.T) {
	fixedNow := time.Unix(0, 123456000).UTC()
	prevNow := nowFunc
	nowFunc = func() time.Time { return fixedNow }
	defer func() { nowFunc = prevNow }()

	id := uuid.MustParse("9a20d7d1-bf6a-4d33-bd55-5d25a816f1a8")
	env, err := NewEnvelope(MessageReceivedV1{
		MessageID:           "msg-1",
		ConnectionID:        "acct-1",
		CounterpartyAddress: "5511988887777@s.whatsapp.net",
		Text:                "oi",
		ReceivedAt:          fixedNow,
	}, WithEventID(id), WithCorrelationID(" corr-1 "))
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.EventID != id {
		t.Fatalf("expected event id override, got %s", env.EventID)
	}
	if env.TimestampMicros != fixedNow.UnixMicro() || !env.Time().Equal(fixedNow) {
		t.Fatalf("unexpected timestamp: %d", env.TimestampMicros)
	}
	if env.EventType != TypeMessageReceived {
		t.Fatalf("unexpected type: %s", env.EventType)
	}
	if env.Aggregate != "connection:acct-1" {
		t.Fatalf("unexpected aggregate: %s", env.Aggregate)
	}
	if env.CorrelationID != "corr-1" {
		t.Fatalf("unexpected correlation id %q", env.CorrelationID)
	}

	var decoded MessageReceivedV1
	if err := env.DecodePayload(&decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.MessageID != "msg-1" || decoded.Text != "oi" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestEnvelopeValidation(t *testing.T) {
	if _, err := NewEnvelope(MessageSentV1{}); err == nil {
		t.Fatal("expected aggregate error")
	}
	if _, err := NewEnvelope(nil); err == nil {
		t.Fatal("expected nil event error")
	}
	if _, err := NewEnvelope(badEvent{}); err == nil {
		t.Fatal("expected event type error")
	}
	if err := (Envelope{}).DecodePayload(&struct{}{}); err == nil {
		t.Fatal("expected empty payload error")
	}
}

func TestWithTimestampOption(t *testing.T) {
	target := time.Unix(50, 123000).UTC()
	env, err := NewEnvelope(ConnectionStateChangedV1{InstanceID: "x"}, WithTimestamp(target))
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.TimestampMicros != target.UnixMicro() {
		t.Fatalf("expected timestamp override, got %d", env.TimestampMicros)
	}
}
