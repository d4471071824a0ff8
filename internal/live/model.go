// Package live keeps an in-memory snapshot of the download ledger for the
// dashboard servers, refreshed by polling, with pub/sub for streaming
// update notifications.
package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"downloadreport/internal/domain"
	"downloadreport/internal/store"
)

// UpdateEvent is emitted to subscribers when the ledger snapshot changes.
type UpdateEvent struct {
	Version   uint64
	Rows      int
	Latest    map[domain.Platform]domain.LedgerRow
	UpdatedAt time.Time
}

// LedgerModel holds the latest ledger rows. The report job writes the
// ledger from another process, so the model polls for changes.
type LedgerModel struct {
	ledger store.LedgerStore
	log    *slog.Logger

	mu        sync.RWMutex
	rows      []domain.LedgerRow
	version   uint64
	updatedAt time.Time

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan UpdateEvent
}

// NewLedgerModel creates an empty model over ledger. Call Refresh or Poll to
// load it.
func NewLedgerModel(ledger store.LedgerStore, log *slog.Logger) *LedgerModel {
	if log == nil {
		log = slog.Default()
	}
	return &LedgerModel{
		ledger: ledger,
		log:    log.With("component", "ledger-model"),
		subs:   make(map[int]chan UpdateEvent),
	}
}

// Refresh reloads the ledger and notifies subscribers when any row
// changed. A failed read keeps the previous snapshot.
func (m *LedgerModel) Refresh(ctx context.Context) (bool, error) {
	rows, err := m.ledger.Rows(ctx)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	if m.version > 0 && sameRows(m.rows, rows) {
		m.mu.Unlock()
		return false, nil
	}
	m.rows = rows
	m.version++
	m.updatedAt = time.Now()
	evt := m.eventLocked()
	m.mu.Unlock()

	m.log.Info("ledger snapshot updated", "version", evt.Version, "rows", evt.Rows)
	m.broadcast(evt)
	return true, nil
}

// Poll refreshes the model every interval until ctx is cancelled.
func (m *LedgerModel) Poll(ctx context.Context, interval time.Duration) error {
	if _, err := m.Refresh(ctx); err != nil {
		m.log.Warn("initial ledger load failed", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Refresh(ctx); err != nil {
				m.log.Warn("ledger refresh failed", "error", err)
			}
		}
	}
}

// Rows returns a copy of the current snapshot, ordered by report date.
func (m *LedgerModel) Rows() []domain.LedgerRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.LedgerRow, len(m.rows))
	copy(out, m.rows)
	return out
}

// Snapshot returns the current state as an event, for new subscribers.
func (m *LedgerModel) Snapshot() UpdateEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eventLocked()
}

// eventLocked builds an UpdateEvent. Must be called with mu held.
func (m *LedgerModel) eventLocked() UpdateEvent {
	latest := make(map[domain.Platform]domain.LedgerRow)
	for _, r := range m.rows {
		if cur, ok := latest[r.Platform]; !ok || !r.ReportDate.Before(cur.ReportDate) {
			latest[r.Platform] = r
		}
	}
	return UpdateEvent{
		Version:   m.version,
		Rows:      len(m.rows),
		Latest:    latest,
		UpdatedAt: m.updatedAt,
	}
}

// Subscribe creates a new subscription channel for update events.
func (m *LedgerModel) Subscribe(bufSize int) (id int, ch <-chan UpdateEvent) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id = m.nextSubID
	m.nextSubID++
	c := make(chan UpdateEvent, bufSize)
	m.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (m *LedgerModel) Unsubscribe(id int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if ch, ok := m.subs[id]; ok {
		close(ch)
		delete(m.subs, id)
	}
}

// broadcast sends an event to all subscribers without blocking.
func (m *LedgerModel) broadcast(evt UpdateEvent) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop event.
		}
	}
}

func sameRows(a, b []domain.LedgerRow) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key() != b[i].Key() ||
			a[i].DailyDownloads != b[i].DailyDownloads ||
			a[i].CumulativeTotal != b[i].CumulativeTotal {
			return false
		}
	}
	return true
}
