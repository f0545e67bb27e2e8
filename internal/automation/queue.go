package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Queue carries automation jobs from the MessageReceived subscriber to workers.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// ErrQueueFull reports a job refused because the queue has no room.
var ErrQueueFull = errors.New("automation: queue full")

// tryQueue is a queue that can refuse a job instead of waiting for room.
type tryQueue interface {
	TrySend(body string) error
}

type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Job asks a worker to consider one stored inbound message for an auto-reply.
type Job struct {
	ID                  string `json:"id"`
	ConnectionID        string `json:"connection_id"`
	MessageID           string `json:"message_id"`
	CounterpartyAddress string `json:"counterparty_address"`
}

func encodeJob(job Job) (Job, string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return Job{}, "", fmt.Errorf("automation: encode job: %w", err)
	}
	return job, string(body), nil
}

func decodeJob(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("automation: decode job: %w", err)
	}
	if job.ConnectionID == "" || job.MessageID == "" {
		return Job{}, fmt.Errorf("automation: job %q is missing connection or message id", job.ID)
	}
	return job, nil
}
