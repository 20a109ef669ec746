package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fieldline/payments-api/internal/repositories"
)

func TestInsertIfAbsentFirstDelivery(t *testing.T) {
	db := &fakeDB{execTags: []pgconn.CommandTag{pgconn.NewCommandTag("INSERT 0 1")}}
	repo, err := NewEventLogRepository(db, nil)
	if err != nil {
		t.Fatalf("NewEventLogRepository: %v", err)
	}

	first, err := repo.InsertIfAbsent(context.Background(), repositories.EventRecord{
		EventID:    "evt_1",
		EventType:  "checkout.session.completed",
		ReceivedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}
	if !first {
		t.Error("expected first delivery to report true")
	}
}

func TestInsertIfAbsentDuplicate(t *testing.T) {
	db := &fakeDB{execTags: []pgconn.CommandTag{pgconn.NewCommandTag("INSERT 0 0")}}
	repo, err := NewEventLogRepository(db, nil)
	if err != nil {
		t.Fatalf("NewEventLogRepository: %v", err)
	}

	first, err := repo.InsertIfAbsent(context.Background(), repositories.EventRecord{EventID: "evt_1"})
	if err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}
	if first {
		t.Error("expected duplicate delivery to report false")
	}
}

func TestInsertIfAbsentDisablesOnMissingTable(t *testing.T) {
	var logged []string
	db := &fakeDB{
		execErrs: []error{&pgconn.PgError{Code: undefinedTableCode}},
	}
	repo, err := NewEventLogRepository(db, func(_ context.Context, event string, _ map[string]any) {
		logged = append(logged, event)
	})
	if err != nil {
		t.Fatalf("NewEventLogRepository: %v", err)
	}

	for i := 0; i < 2; i++ {
		first, err := repo.InsertIfAbsent(context.Background(), repositories.EventRecord{EventID: "evt_1"})
		if err != nil {
			t.Fatalf("InsertIfAbsent call %d: %v", i, err)
		}
		if !first {
			t.Errorf("disabled log must report first delivery, call %d", i)
		}
	}
	if db.execCalls != 1 {
		t.Errorf("expected exec to stop after disable, got %d calls", db.execCalls)
	}
	if len(logged) != 1 || logged[0] != "events.log.disabled" {
		t.Errorf("unexpected log events %v", logged)
	}
}
