package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var instanceCols = []string{
	"instance_id", "display_name", "phone_number", "status", "pairing_artifact", "last_activity_at",
	"automation_enabled", "messages_received", "messages_sent", "created_at", "updated_at",
}

func TestStoreCreateAndDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	store := NewStore(mock)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO connection_instances").
		WithArgs("acct-1", "Sales", "", "disconnected", false).
		WillReturnRows(pgxmock.NewRows(instanceCols).AddRow("acct-1", "Sales", "", "disconnected", "", (*time.Time)(nil), false, int64(0), int64(0), now, now))
	inst, err := store.Create(ctx, Instance{InstanceID: "acct-1", DisplayName: "Sales"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.Status != StatusDisconnected || !inst.LastActivityAt.IsZero() {
		t.Fatalf("unexpected instance %+v", inst)
	}

	mock.ExpectQuery("INSERT INTO connection_instances").
		WithArgs("acct-1", "Sales", "", "disconnected", false).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	if _, err := store.Create(ctx, Instance{InstanceID: "acct-1", DisplayName: "Sales"}); !errors.Is(err, ErrDuplicateInstance) {
		t.Fatalf("expected ErrDuplicateInstance, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	store := NewStore(mock)

	mock.ExpectQuery("SELECT instance_id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	last := time.Now().UTC().Add(-time.Minute)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT instance_id").WithArgs("acct-1").
		WillReturnRows(pgxmock.NewRows(instanceCols).AddRow("acct-1", "Sales", "5511999990000", "connected", "", &last, true, int64(4), int64(2), now, now))
	inst, err := store.Get(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !inst.ClaimsLiveSession() || inst.MessagesReceived != 4 || !inst.LastActivityAt.Equal(last) {
		t.Fatalf("unexpected instance %+v", inst)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreUpdateStateReturnsPrevious(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	store := NewStore(mock)

	mock.ExpectQuery("UPDATE connection_instances AS c").
		WithArgs("acct-1", "connected", "", "5511999990000").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("connecting"))
	prev, err := store.UpdateState(context.Background(), "acct-1", StateUpdate{Status: StatusConnected, PhoneNumber: "5511999990000"})
	if err != nil || prev != StatusConnecting {
		t.Fatalf("expected previous connecting, got %s err=%v", prev, err)
	}

	mock.ExpectQuery("UPDATE connection_instances AS c").
		WithArgs("gone", "error", "", "").
		WillReturnError(pgx.ErrNoRows)
	if _, err := store.UpdateState(context.Background(), "gone", StateUpdate{Status: StatusError}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreCountersAndAutomation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	store := NewStore(mock)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec("SET messages_received = messages_received \\+ 1").WithArgs("acct-1", at).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.RecordActivity(ctx, "acct-1", true, at); err != nil {
		t.Fatalf("record inbound: %v", err)
	}
	mock.ExpectExec("SET messages_sent = messages_sent \\+ 1").WithArgs("acct-1", at).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.RecordActivity(ctx, "acct-1", false, at); err != nil {
		t.Fatalf("record outbound: %v", err)
	}
	mock.ExpectExec("UPDATE connection_instances SET automation_enabled").WithArgs("missing", true).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := store.SetAutomation(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	mock.ExpectExec("DELETE FROM connection_instances").WithArgs("acct-1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	if err := store.Delete(ctx, "acct-1"); err != nil {
		t.Fatalf("delete of missing row should succeed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
