package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSDeliveryHandler forwards outbox entries to an SQS queue for external consumers
// (UI, ticketing, notification services).
type SQSDeliveryHandler struct {
	client   sqsSender
	queueURL string
}

func NewSQSDeliveryHandler(client sqsSender, queueURL string) *SQSDeliveryHandler {
	if client == nil {
		panic("events: sqs client required")
	}
	if strings.TrimSpace(queueURL) == "" {
		panic("events: queue url required")
	}
	return &SQSDeliveryHandler{client: client, queueURL: queueURL}
}

type deliveredEvent struct {
	ID        string          `json:"id"`
	Aggregate string          `json:"aggregate"`
	Type      string          `json:"type"`
	Envelope  json.RawMessage `json:"envelope"`
}

// Handle implements DeliveryHandler.
func (h *SQSDeliveryHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	body, err := json.Marshal(deliveredEvent{
		ID:        entry.ID.String(),
		Aggregate: entry.Aggregate,
		Type:      entry.Type,
		Envelope:  entry.Payload,
	})
	if err != nil {
		return fmt.Errorf("events: marshal delivery: %w", err)
	}
	_, err = h.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(h.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(entry.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: sqs send: %w", err)
	}
	return nil
}
