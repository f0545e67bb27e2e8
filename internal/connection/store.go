package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists connection instance records.
type Repository interface {
	Create(ctx context.Context, inst Instance) (Instance, error)
	Get(ctx context.Context, instanceID string) (Instance, error)
	List(ctx context.Context) ([]Instance, error)
	UpdateState(ctx context.Context, instanceID string, upd StateUpdate) (Status, error)
	SetAutomation(ctx context.Context, instanceID string, enabled bool) error
	RecordActivity(ctx context.Context, instanceID string, inbound bool, at time.Time) error
	Delete(ctx context.Context, instanceID string) error
}

// Querier is the pgx surface the store needs; *pgxpool.Pool and pgxmock satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists connection instances in Postgres.
type Store struct {
	pool Querier
}

func NewStore(pool Querier) *Store {
	if pool == nil {
		panic("connection: pgx pool required")
	}
	return &Store{pool: pool}
}

const instanceColumns = `instance_id, display_name, COALESCE(phone_number, ''), status,
	COALESCE(pairing_artifact, ''), last_activity_at, automation_enabled,
	messages_received, messages_sent, created_at, updated_at`

func (s *Store) Create(ctx context.Context, inst Instance) (Instance, error) {
	if strings.TrimSpace(inst.InstanceID) == "" {
		return Instance{}, errors.New("connection: instance id required")
	}
	if inst.Status == "" {
		inst.Status = StatusDisconnected
	}
	query := `
		INSERT INTO connection_instances (instance_id, display_name, phone_number, status, automation_enabled)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING ` + instanceColumns
	row := s.pool.QueryRow(ctx, query, inst.InstanceID, inst.DisplayName, inst.PhoneNumber, string(inst.Status), inst.AutomationEnabled)
	created, err := scanInstance(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Instance{}, ErrDuplicateInstance
		}
		return Instance{}, fmt.Errorf("connection: insert instance: %w", err)
	}
	return created, nil
}

func (s *Store) Get(ctx context.Context, instanceID string) (Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM connection_instances WHERE instance_id = $1`
	inst, err := scanInstance(s.pool.QueryRow(ctx, query, instanceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Instance{}, ErrNotFound
		}
		return Instance{}, fmt.Errorf("connection: get instance: %w", err)
	}
	return inst, nil
}

func (s *Store) List(ctx context.Context) ([]Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM connection_instances ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("connection: list instances: %w", err)
	}
	defer rows.Close()

	var out []Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("connection: scan instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// UpdateState writes a transition and returns the status it replaced.
func (s *Store) UpdateState(ctx context.Context, instanceID string, upd StateUpdate) (Status, error) {
	query := `
		UPDATE connection_instances AS c
		SET status = $2,
			pairing_artifact = NULLIF($3, ''),
			phone_number = COALESCE(NULLIF($4, ''), c.phone_number),
			updated_at = now()
		FROM (SELECT instance_id, status FROM connection_instances WHERE instance_id = $1 FOR UPDATE) AS prev
		WHERE c.instance_id = prev.instance_id
		RETURNING prev.status
	`
	var previous string
	if err := s.pool.QueryRow(ctx, query, instanceID, string(upd.Status), upd.PairingArtifact, upd.PhoneNumber).Scan(&previous); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("connection: update state: %w", err)
	}
	return Status(previous), nil
}

func (s *Store) SetAutomation(ctx context.Context, instanceID string, enabled bool) error {
	query := `UPDATE connection_instances SET automation_enabled = $2, updated_at = now() WHERE instance_id = $1`
	ct, err := s.pool.Exec(ctx, query, instanceID, enabled)
	if err != nil {
		return fmt.Errorf("connection: set automation: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordActivity bumps the received or sent counter and last_activity_at.
func (s *Store) RecordActivity(ctx context.Context, instanceID string, inbound bool, at time.Time) error {
	query := `
		UPDATE connection_instances
		SET messages_sent = messages_sent + 1, last_activity_at = $2, updated_at = now()
		WHERE instance_id = $1
	`
	if inbound {
		query = `
		UPDATE connection_instances
		SET messages_received = messages_received + 1, last_activity_at = $2, updated_at = now()
		WHERE instance_id = $1
	`
	}
	ct, err := s.pool.Exec(ctx, query, instanceID, at.UTC())
	if err != nil {
		return fmt.Errorf("connection: record activity: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the record. Missing records are not an error.
func (s *Store) Delete(ctx context.Context, instanceID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM connection_instances WHERE instance_id = $1`, instanceID); err != nil {
		return fmt.Errorf("connection: delete instance: %w", err)
	}
	return nil
}

func scanInstance(row pgx.Row) (Instance, error) {
	var (
		inst         Instance
		status       string
		lastActivity *time.Time
	)
	if err := row.Scan(
		&inst.InstanceID,
		&inst.DisplayName,
		&inst.PhoneNumber,
		&status,
		&inst.PairingArtifact,
		&lastActivity,
		&inst.AutomationEnabled,
		&inst.MessagesReceived,
		&inst.MessagesSent,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	); err != nil {
		return Instance{}, err
	}
	inst.Status = Status(status)
	if lastActivity != nil {
		inst.LastActivityAt = lastActivity.UTC()
	}
	return inst, nil
}
