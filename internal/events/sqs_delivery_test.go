package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("sqs-1")}, nil
}

func TestSQSDeliveryHandler(t *testing.T) {
	client := &fakeSQS{}
	h := NewSQSDeliveryHandler(client, "https://sqs.local/events")
	entry := OutboxEntry{ID: uuid.New(), Aggregate: "connection:acct-1", Type: TypeMessageReceived, Payload: json.RawMessage(`{"event_type":"x"}`)}

	if err := h.Handle(context.Background(), entry); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(client.inputs) != 1 {
		t.Fatalf("expected one send, got %d", len(client.inputs))
	}
	in := client.inputs[0]
	if aws.ToString(in.QueueUrl) != "https://sqs.local/events" {
		t.Fatalf("unexpected queue %s", aws.ToString(in.QueueUrl))
	}
	if aws.ToString(in.MessageAttributes["event_type"].StringValue) != TypeMessageReceived {
		t.Fatalf("missing event_type attribute")
	}
	var body deliveredEvent
	if err := json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.ID != entry.ID.String() || string(body.Envelope) != `{"event_type":"x"}` {
		t.Fatalf("unexpected body %+v", body)
	}

	client.err = errors.New("throttled")
	if err := h.Handle(context.Background(), entry); err == nil {
		t.Fatal("expected error")
	}
}
