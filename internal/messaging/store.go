package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/chatlink/internal/identity"
)

// Repository persists messages.
type Repository interface {
	Exists(ctx context.Context, connectionID, protocolMessageID string) (bool, error)
	// InsertInbound stores msg unless (connection, protocol id) is already present;
	// inserted reports which happened.
	InsertInbound(ctx context.Context, msg Message) (stored Message, inserted bool, err error)
	InsertPending(ctx context.Context, msg Message) (Message, error)
	MarkSent(ctx context.Context, id uuid.UUID, protocolMessageID string, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkAutoReplied(ctx context.Context, id, replyID uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (Message, error)
	ListConversation(ctx context.Context, connectionID, counterparty string, limit int) ([]Message, error)
}

// Querier is the pgx surface the store needs; *pgxpool.Pool and pgxmock satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists messages in Postgres.
type Store struct {
	pool Querier
}

func NewStore(pool Querier) *Store {
	if pool == nil {
		panic("messaging: pgx pool required")
	}
	return &Store{pool: pool}
}

const messageColumns = `id, connection_id, COALESCE(protocol_message_id, ''), direction, address_kind,
	counterparty_address, COALESCE(counterparty_phone, ''), COALESCE(counterparty_name, ''),
	content_kind, text_content, status, COALESCE(failure_reason, ''), message_timestamp,
	auto_replied, reply_message_id, reply_to_message_id, created_at`

func (s *Store) Exists(ctx context.Context, connectionID, protocolMessageID string) (bool, error) {
	protocolMessageID = strings.TrimSpace(protocolMessageID)
	if protocolMessageID == "" {
		return false, nil
	}
	query := `
		SELECT 1 FROM messages
		WHERE connection_id = $1 AND protocol_message_id = $2
		LIMIT 1
	`
	var exists int
	if err := s.pool.QueryRow(ctx, query, connectionID, protocolMessageID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("messaging: check message: %w", err)
	}
	return true, nil
}

func (s *Store) InsertInbound(ctx context.Context, msg Message) (Message, bool, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	query := `
		INSERT INTO messages (
			id, connection_id, protocol_message_id, direction, address_kind,
			counterparty_address, counterparty_phone, counterparty_name,
			content_kind, text_content, status, message_timestamp
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12)
		ON CONFLICT (connection_id, protocol_message_id) DO NOTHING
		RETURNING ` + messageColumns
	row := s.pool.QueryRow(ctx, query,
		msg.ID, msg.ConnectionID, msg.ProtocolMessageID, string(DirectionInbound), string(msg.AddressKind),
		msg.CounterpartyAddress, msg.CounterpartyPhone, msg.CounterpartyName,
		string(msg.ContentKind), msg.Text, string(msg.Status), msg.Timestamp.UTC(),
	)
	stored, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, false, nil
		}
		return Message{}, false, fmt.Errorf("messaging: insert inbound: %w", err)
	}
	return stored, true, nil
}

func (s *Store) InsertPending(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	query := `
		INSERT INTO messages (
			id, connection_id, direction, address_kind, counterparty_address,
			counterparty_phone, content_kind, text_content, status, message_timestamp,
			reply_to_message_id
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11)
		RETURNING ` + messageColumns
	row := s.pool.QueryRow(ctx, query,
		msg.ID, msg.ConnectionID, string(DirectionOutbound), string(msg.AddressKind), msg.CounterpartyAddress,
		msg.CounterpartyPhone, string(msg.ContentKind), msg.Text, string(StatusPending), msg.Timestamp.UTC(),
		msg.ReplyToMessageID,
	)
	stored, err := scanMessage(row)
	if err != nil {
		return Message{}, fmt.Errorf("messaging: insert pending: %w", err)
	}
	return stored, nil
}

func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, protocolMessageID string, at time.Time) error {
	query := `
		UPDATE messages
		SET status = $2, protocol_message_id = $3, message_timestamp = $4, updated_at = now()
		WHERE id = $1
	`
	return s.exec(ctx, "mark sent", query, id, string(StatusSent), protocolMessageID, at.UTC())
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE messages
		SET status = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1
	`
	return s.exec(ctx, "mark failed", query, id, string(StatusFailed), reason)
}

func (s *Store) MarkAutoReplied(ctx context.Context, id, replyID uuid.UUID) error {
	query := `
		UPDATE messages
		SET auto_replied = true, reply_message_id = $2, updated_at = now()
		WHERE id = $1
	`
	return s.exec(ctx, "mark auto replied", query, id, replyID)
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("messaging: get message: %w", err)
	}
	return msg, nil
}

// ListConversation returns the newest limit messages with counterparty, oldest first.
func (s *Store) ListConversation(ctx context.Context, connectionID, counterparty string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT * FROM (
			SELECT ` + messageColumns + `
			FROM messages
			WHERE connection_id = $1 AND counterparty_address = $2
			ORDER BY message_timestamp DESC, created_at DESC
			LIMIT $3
		) AS recent
		ORDER BY message_timestamp ASC, created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, connectionID, counterparty, limit)
	if err != nil {
		return nil, fmt.Errorf("messaging: list conversation: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("messaging: scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	ct, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("messaging: %s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		msg                              Message
		direction, kind, content, status string
		replyMessageID, replyToMessageID *uuid.UUID
	)
	err := row.Scan(
		&msg.ID, &msg.ConnectionID, &msg.ProtocolMessageID, &direction, &kind,
		&msg.CounterpartyAddress, &msg.CounterpartyPhone, &msg.CounterpartyName,
		&content, &msg.Text, &status, &msg.FailureReason, &msg.Timestamp,
		&msg.AutoReplied, &replyMessageID, &replyToMessageID, &msg.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}
	msg.Direction = Direction(direction)
	msg.AddressKind = identity.Kind(kind)
	msg.ContentKind = ContentKind(content)
	msg.Status = Status(status)
	msg.ReplyMessageID = replyMessageID
	msg.ReplyToMessageID = replyToMessageID
	return msg, nil
}
