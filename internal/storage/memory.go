package storage

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is a process-local HistoryStore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]PriceRecord
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]PriceRecord), now: time.Now}
}

// MostRecent returns the last appended record for asset.
func (m *MemoryStore) MostRecent(_ context.Context, asset string) (*PriceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mostRecent(asset), nil
}

func (m *MemoryStore) mostRecent(asset string) *PriceRecord {
	history := m.records[asset]
	if len(history) == 0 {
		return nil
	}
	rec := history[len(history)-1]
	return &rec
}

// Record appends a record for asset.
func (m *MemoryStore) Record(_ context.Context, asset string, price decimal.Decimal) (PriceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.append(asset, price), nil
}

// RecordIf decides and appends while holding the store lock.
func (m *MemoryStore) RecordIf(_ context.Context, asset string, price decimal.Decimal, decide DecideFunc) (PriceRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !decide(m.mostRecent(asset), price) {
		return PriceRecord{}, false, nil
	}
	return m.append(asset, price), true, nil
}

func (m *MemoryStore) append(asset string, price decimal.Decimal) PriceRecord {
	rec := newRecord(asset, price, m.now())
	m.records[asset] = append(m.records[asset], rec)
	return rec
}

// Latest returns the newest record of each asset.
func (m *MemoryStore) Latest(_ context.Context, assets []string) ([]PriceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]PriceRecord, 0, len(assets))
	for _, asset := range assets {
		if rec := m.mostRecent(asset); rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// Count returns how many records asset has accumulated.
func (m *MemoryStore) Count(asset string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[asset])
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var _ HistoryStore = (*MemoryStore)(nil)
