package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// PriceRecord is a persisted alert-relevant price for one asset. Records are append-only.
type PriceRecord struct {
	ID         uuid.UUID
	Asset      string
	Price      decimal.Decimal
	InsertedAt time.Time
}

// DecideFunc reports whether price should be appended given the latest record (nil when none).
type DecideFunc func(previous *PriceRecord, price decimal.Decimal) bool

// HistoryStore persists price history records.
type HistoryStore interface {
	// MostRecent returns the latest record by insertion time, or nil when the asset has none.
	MostRecent(ctx context.Context, asset string) (*PriceRecord, error)
	// Record appends a record stamped with the current time.
	Record(ctx context.Context, asset string, price decimal.Decimal) (PriceRecord, error)
	// RecordIf reads the latest record, consults decide and appends in one atomic step per asset.
	RecordIf(ctx context.Context, asset string, price decimal.Decimal, decide DecideFunc) (PriceRecord, bool, error)
	// Latest returns the most recent record of each asset that has one.
	Latest(ctx context.Context, assets []string) ([]PriceRecord, error)
	Close() error
}

// AdvisoryLocker exposes cross-process lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

func newRecord(asset string, price decimal.Decimal, now time.Time) PriceRecord {
	return PriceRecord{
		ID:         uuid.New(),
		Asset:      asset,
		Price:      price,
		InsertedAt: now.UTC(),
	}
}
