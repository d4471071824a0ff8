package live

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"downloadreport/internal/domain"
	"downloadreport/internal/store"
	"downloadreport/internal/util"
)

func newLedger(t *testing.T) *store.Ledger {
	t.Helper()
	log := util.DiscardLogger()
	return store.NewLedger(store.NewCSVStore(filepath.Join(t.TempDir(), "downloads.csv"), log), log)
}

func TestRefreshNotifiesOnChange(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	m := NewLedgerModel(ledger, util.DiscardLogger())

	id, ch := m.Subscribe(4)
	defer m.Unsubscribe(id)

	changed, err := m.Refresh(ctx)
	if err != nil || !changed {
		t.Fatalf("first refresh = %v, %v; want changed", changed, err)
	}
	if evt := <-ch; evt.Version != 1 || evt.Rows != 0 {
		t.Errorf("first event = %+v", evt)
	}

	if changed, _ := m.Refresh(ctx); changed {
		t.Error("refresh without ledger writes should not report a change")
	}

	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	if _, err := ledger.Append(ctx, []domain.DailyCount{{ReportDate: day, Platform: domain.PlatformAppStore, DailyDownloads: 42}}, day); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if changed, err := m.Refresh(ctx); err != nil || !changed {
		t.Fatalf("refresh after append = %v, %v", changed, err)
	}

	evt := <-ch
	if evt.Version != 2 || evt.Rows != 1 || evt.Latest[domain.PlatformAppStore].CumulativeTotal != 42 {
		t.Errorf("event = %+v", evt)
	}
	if rows := m.Rows(); len(rows) != 1 {
		t.Errorf("rows = %d, want 1", len(rows))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := NewLedgerModel(newLedger(t), util.DiscardLogger())
	id, ch := m.Subscribe(1)
	m.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	m.Unsubscribe(id)
}

func TestPollStopsOnCancel(t *testing.T) {
	m := NewLedgerModel(newLedger(t), util.DiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Poll(ctx, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Poll = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Poll did not return after cancel")
	}
	if m.Snapshot().Version != 1 {
		t.Errorf("version = %d, want 1", m.Snapshot().Version)
	}
}
