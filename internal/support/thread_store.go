// Package support tracks which conversations need a human and keeps automation
// away from them.
package support

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// State is the handling state of one conversation thread.
type State string

const (
	StateOpen       State = "open"
	StateNeedsHuman State = "needs_human"
	StateResolved   State = "resolved"
)

var ErrThreadNotFound = errors.New("support: thread not found")

// Thread is the persisted state of one (connection, counterparty) conversation.
type Thread struct {
	ConnectionID        string     `json:"connection_id"`
	CounterpartyAddress string     `json:"counterparty_address"`
	State               State      `json:"state"`
	AutomationDisabled  bool       `json:"automation_disabled"`
	MatchedTerms        []string   `json:"matched_terms,omitempty"`
	LastMessageID       string     `json:"last_message_id,omitempty"`
	EscalatedAt         *time.Time `json:"escalated_at,omitempty"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ThreadStore persists thread state in Postgres.
type ThreadStore struct {
	db *sql.DB
}

func NewThreadStore(db *sql.DB) *ThreadStore {
	if db == nil {
		panic("support: db required")
	}
	return &ThreadStore{db: db}
}

const threadColumns = `connection_id, counterparty_address, state, automation_disabled, matched_terms,
	last_message_id, escalated_at, resolved_at, updated_at`

func (s *ThreadStore) Get(ctx context.Context, connectionID, counterparty string) (*Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM thread_states WHERE connection_id = $1 AND counterparty_address = $2`
	t, err := scanThread(s.db.QueryRowContext(ctx, query, connectionID, counterparty))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("support: get thread: %w", err)
	}
	return t, nil
}

// MarkNeedsHuman flags the thread and disables automation for it.
func (s *ThreadStore) MarkNeedsHuman(ctx context.Context, connectionID, counterparty, messageID string, terms []string, at time.Time) error {
	query := `
		INSERT INTO thread_states (connection_id, counterparty_address, state, automation_disabled,
			matched_terms, last_message_id, escalated_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $5, $6, $6)
		ON CONFLICT (connection_id, counterparty_address) DO UPDATE SET
			state = EXCLUDED.state,
			automation_disabled = TRUE,
			matched_terms = EXCLUDED.matched_terms,
			last_message_id = EXCLUDED.last_message_id,
			escalated_at = EXCLUDED.escalated_at,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, connectionID, counterparty, StateNeedsHuman, pq.Array(terms), messageID, at); err != nil {
		return fmt.Errorf("support: mark needs human: %w", err)
	}
	return nil
}

// MarkResolved records the resolution. Whether automation is disabled is left as is.
func (s *ThreadStore) MarkResolved(ctx context.Context, connectionID, counterparty, messageID string, terms []string, at time.Time) error {
	query := `
		INSERT INTO thread_states (connection_id, counterparty_address, state, automation_disabled,
			matched_terms, last_message_id, resolved_at, updated_at)
		VALUES ($1, $2, $3, FALSE, $4, $5, $6, $6)
		ON CONFLICT (connection_id, counterparty_address) DO UPDATE SET
			state = EXCLUDED.state,
			matched_terms = EXCLUDED.matched_terms,
			last_message_id = EXCLUDED.last_message_id,
			resolved_at = EXCLUDED.resolved_at,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, connectionID, counterparty, StateResolved, pq.Array(terms), messageID, at); err != nil {
		return fmt.Errorf("support: mark resolved: %w", err)
	}
	return nil
}

// Reopen hands the thread back to automation.
func (s *ThreadStore) Reopen(ctx context.Context, connectionID, counterparty string, at time.Time) error {
	query := `
		UPDATE thread_states
		SET state = $1, automation_disabled = FALSE, updated_at = $2
		WHERE connection_id = $3 AND counterparty_address = $4
	`
	result, err := s.db.ExecContext(ctx, query, StateOpen, at, connectionID, counterparty)
	if err != nil {
		return fmt.Errorf("support: reopen thread: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("support: reopen thread: %w", err)
	}
	if rows == 0 {
		return ErrThreadNotFound
	}
	return nil
}

// List returns the connection's threads, newest first. An empty state lists all.
func (s *ThreadStore) List(ctx context.Context, connectionID string, state State) ([]Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM thread_states
		WHERE connection_id = $1 AND ($2 = '' OR state = $2)
		ORDER BY updated_at DESC`
	rows, err := s.db.QueryContext(ctx, query, connectionID, string(state))
	if err != nil {
		return nil, fmt.Errorf("support: list threads: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("support: scan thread: %w", err)
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*Thread, error) {
	var (
		t           Thread
		lastMessage sql.NullString
		escalatedAt sql.NullTime
		resolvedAt  sql.NullTime
	)
	if err := row.Scan(
		&t.ConnectionID, &t.CounterpartyAddress, &t.State, &t.AutomationDisabled,
		pq.Array(&t.MatchedTerms), &lastMessage, &escalatedAt, &resolvedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.LastMessageID = lastMessage.String
	if escalatedAt.Valid {
		t.EscalatedAt = &escalatedAt.Time
	}
	if resolvedAt.Valid {
		t.ResolvedAt = &resolvedAt.Time
	}
	return &t, nil
}
