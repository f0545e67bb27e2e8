package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/chatlink/internal/transport"
)

// BulkOutcome is the result for one contact of a bulk send.
type BulkOutcome struct {
	Address   string     `json:"address"`
	MessageID *uuid.UUID `json:"message_id,omitempty"`
	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
}

// BulkResult aggregates a bulk send.
type BulkResult struct {
	Outcomes []BulkOutcome `json:"outcomes"`
	Sent     int           `json:"sent"`
	Failed   int           `json:"failed"`
}

// SendBulk sends the same text to each contact in order, waiting at least the
// configured minimum delay between sends. A failure for one contact is recorded
// and the batch moves on. Oversized batches are refused before anything is written.
func (d *Dispatcher) SendBulk(ctx context.Context, connectionID string, contacts []string, text string, delay time.Duration) (BulkResult, error) {
	if len(contacts) == 0 {
		return BulkResult{}, ErrNoRecipients
	}
	if len(contacts) > d.bulkMax {
		d.metrics.ObserveBulk("rejected")
		return BulkResult{}, fmt.Errorf("%w: %d contacts, max %d", ErrBatchTooLarge, len(contacts), d.bulkMax)
	}
	if strings.TrimSpace(text) == "" {
		return BulkResult{}, ErrEmptyContent
	}
	if _, err := d.liveTransport(ctx, connectionID); err != nil {
		return BulkResult{}, err
	}
	if delay < d.bulkMinDelay {
		delay = d.bulkMinDelay
	}

	log := d.logger.With("instance_id", connectionID, "contacts", len(contacts))
	log.Info("bulk send started", "delay", delay.String())

	result := BulkResult{Outcomes: make([]BulkOutcome, 0, len(contacts))}
	for i, contact := range contacts {
		if i > 0 {
			if err := d.sleep(ctx, delay); err != nil {
				for _, rest := range contacts[i:] {
					result.Outcomes = append(result.Outcomes, BulkOutcome{Address: rest, Status: StatusFailed, Error: err.Error()})
					result.Failed++
				}
				d.metrics.ObserveBulk("cancelled")
				return result, err
			}
		}

		msg, err := d.Send(ctx, connectionID, contact, transport.OutboundContent{Text: text}, WithOrigin(OriginBulk))
		outcome := BulkOutcome{Address: contact}
		if msg.ID != uuid.Nil {
			id := msg.ID
			outcome.MessageID = &id
		}
		if err != nil {
			outcome.Status = StatusFailed
			outcome.Error = err.Error()
			result.Failed++
			var sendErr *SendError
			if !errors.As(err, &sendErr) {
				log.Warn("bulk contact rejected", "address", contact, "error", err)
			}
		} else {
			outcome.Status = StatusSent
			result.Sent++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	switch {
	case result.Failed == 0:
		d.metrics.ObserveBulk("completed")
	case result.Sent == 0:
		d.metrics.ObserveBulk("failed")
	default:
		d.metrics.ObserveBulk("partial")
	}
	log.Info("bulk send finished", "sent", result.Sent, "failed", result.Failed)
	return result, nil
}
