package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"exec-enginev1/internal/model"
)

func testStore(t *testing.T) *TradeStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "trades.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(pos string) model.TradeRecord {
	return model.TradeRecord{
		PosID:     pos,
		Symbol:    "NIFTY26SEP24000CE",
		Direction: model.Long,
		Qty:       65,
		State:     model.StateEntryPending,
		OpenedAt:  time.Date(2026, time.August, 31, 9, 30, 0, 0, time.UTC),
	}
}

func TestInsertAndGet(t *testing.T) {
	s := testStore(t)

	id, err := s.Insert(sampleRecord("p1"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id == 0 {
		t.Fatal("Insert returned zero row id")
	}

	rec, err := s.GetByPosID("p1")
	if err != nil {
		t.Fatalf("GetByPosID: %v", err)
	}
	if rec.DBID != id || rec.Symbol != "NIFTY26SEP24000CE" || rec.State != model.StateEntryPending {
		t.Errorf("round trip mismatch: %+v", rec)
	}
	if !rec.OpenedAt.Equal(time.Date(2026, time.August, 31, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("opened_at=%v", rec.OpenedAt)
	}
}

func TestGetMissingPosID(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetByPosID("nope"); err == nil {
		t.Fatal("expected an error for a missing pos_id")
	}
}

func TestUpdateLifecycle(t *testing.T) {
	s := testStore(t)
	rec := sampleRecord("p1")
	id, err := s.Insert(rec)
	if err != nil {
		t.Fatal(err)
	}

	rec.DBID = id
	rec.State = model.StatePositionOpen
	rec.EntryPrice = 101.25
	if err := s.Update(rec); err != nil {
		t.Fatalf("Update open: %v", err)
	}

	closedAt := time.Date(2026, time.August, 31, 10, 0, 0, 0, time.UTC)
	rec.State = model.StateClosed
	rec.ExitPrice = 103.5
	rec.CloseReason = model.CloseReasonExit
	rec.ClosedAt = &closedAt
	rec.PnL = 146.25
	if err := s.Update(rec); err != nil {
		t.Fatalf("Update closed: %v", err)
	}

	got, err := s.GetByPosID("p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != model.StateClosed || got.CloseReason != model.CloseReasonExit {
		t.Errorf("terminal row: %+v", got)
	}
	if got.ClosedAt == nil || !got.ClosedAt.Equal(closedAt) {
		t.Errorf("closed_at=%v, want %v", got.ClosedAt, closedAt)
	}
	if got.EntryPrice != 101.25 || got.ExitPrice != 103.5 || got.PnL != 146.25 {
		t.Errorf("prices not persisted: %+v", got)
	}
}

func TestInsertReusesRowPerPosID(t *testing.T) {
	s := testStore(t)
	id1, err := s.Insert(sampleRecord("p1"))
	if err != nil {
		t.Fatal(err)
	}

	// Upsert semantics: the same pos_id takes over its existing row.
	rec := sampleRecord("p1")
	rec.State = model.StateOrderPlaced
	id2, err := s.Insert(rec)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("row ids differ for one pos_id: %d vs %d", id1, id2)
	}
	got, err := s.GetByPosID("p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != model.StateOrderPlaced {
		t.Errorf("state=%v, want ORDER_PLACED after upsert", got.State)
	}
}

func TestGetTradesNewestFirst(t *testing.T) {
	s := testStore(t)
	for _, pos := range []string{"p1", "p2", "p3"} {
		if _, err := s.Insert(sampleRecord(pos)); err != nil {
			t.Fatal(err)
		}
	}

	trades, err := s.GetTrades(2)
	if err != nil {
		t.Fatalf("GetTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if trades[0].PosID != "p3" || trades[1].PosID != "p2" {
		t.Errorf("ordering: %s, %s; want p3, p2", trades[0].PosID, trades[1].PosID)
	}
}

func TestNullableFieldsSurviveRoundTrip(t *testing.T) {
	s := testStore(t)
	if _, err := s.Insert(sampleRecord("p1")); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetByPosID("p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ClosedAt != nil || got.CloseReason != "" {
		t.Errorf("open trade has terminal fields set: %+v", got)
	}
}
