package events

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newLedgerMock(t *testing.T) (pgxmock.PgxPoolIface, *ProcessedStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, newProcessedStoreWithExec(mock)
}

func TestAlreadyProcessedMiss(t *testing.T) {
	mock, store := newLedgerMock(t)

	mock.ExpectQuery("SELECT 1 FROM processed_events").
		WithArgs("evt-1").
		WillReturnError(pgx.ErrNoRows)

	processed, err := store.AlreadyProcessed(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if processed {
		t.Fatal("expected not processed")
	}
}

func TestAlreadyProcessedHit(t *testing.T) {
	mock, store := newLedgerMock(t)

	mock.ExpectQuery("SELECT 1 FROM processed_events").
		WithArgs("evt-1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	processed, err := store.AlreadyProcessed(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !processed {
		t.Fatal("expected processed")
	}
}

func TestMarkProcessedWinsRace(t *testing.T) {
	mock, store := newLedgerMock(t)

	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("evt-1", "1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ok, err := store.MarkProcessed(context.Background(), "evt-1", "1")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !ok {
		t.Fatal("expected insert to win")
	}
}

func TestMarkProcessedLosesRace(t *testing.T) {
	mock, store := newLedgerMock(t)

	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("evt-1", "1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ok, err := store.MarkProcessed(context.Background(), "evt-1", "1")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if ok {
		t.Fatal("expected conflict to lose")
	}
}
