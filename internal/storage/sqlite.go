package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// SQLiteStore keeps price history in a local SQLite file.
type SQLiteStore struct {
	db    *sql.DB
	table string
	mu    sync.Mutex
	now   func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path, table string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database.path is required for sqlite")
	}
	if table == "" {
		table = DefaultTable
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, table: quoteIdent(table), now: time.Now}
	if err := store.initSchema(table); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(name string) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		asset TEXT NOT NULL,
		price TEXT NOT NULL,
		inserted_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (asset, inserted_at DESC);`,
		s.table, quoteIdent(name+"_asset_inserted_at_idx"))
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqlQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MostRecent returns the latest record for asset.
func (s *SQLiteStore) MostRecent(ctx context.Context, asset string) (*PriceRecord, error) {
	return s.mostRecent(ctx, s.db, asset)
}

func (s *SQLiteStore) mostRecent(ctx context.Context, q sqlQueryer, asset string) (*PriceRecord, error) {
	query := fmt.Sprintf(`SELECT id, asset, price, inserted_at FROM %s
		WHERE asset = ? ORDER BY inserted_at DESC, rowid DESC LIMIT 1`, s.table)

	var idStr, name, priceStr, insertedStr string
	err := q.QueryRowContext(ctx, query, asset).Scan(&idStr, &name, &priceStr, &insertedStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query most recent: %w", err)
	}

	rec, err := parseSQLiteRecord(idStr, name, priceStr, insertedStr)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Record appends a record for asset.
func (s *SQLiteStore) Record(ctx context.Context, asset string, price decimal.Decimal) (PriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := newRecord(asset, price, s.now())
	if _, err := s.db.ExecContext(ctx, s.insertSQL(), rec.ID.String(), rec.Asset, rec.Price.String(), formatTime(rec.InsertedAt)); err != nil {
		return PriceRecord{}, fmt.Errorf("insert price record: %w", err)
	}
	return rec, nil
}

// RecordIf runs read, decide and insert inside one transaction under the store mutex.
func (s *SQLiteStore) RecordIf(ctx context.Context, asset string, price decimal.Decimal, decide DecideFunc) (PriceRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PriceRecord{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	previous, err := s.mostRecent(ctx, tx, asset)
	if err != nil {
		return PriceRecord{}, false, err
	}
	if !decide(previous, price) {
		return PriceRecord{}, false, nil
	}

	rec := newRecord(asset, price, s.now())
	if _, err := tx.ExecContext(ctx, s.insertSQL(), rec.ID.String(), rec.Asset, rec.Price.String(), formatTime(rec.InsertedAt)); err != nil {
		return PriceRecord{}, false, fmt.Errorf("insert price record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return PriceRecord{}, false, fmt.Errorf("commit price record: %w", err)
	}
	return rec, true, nil
}

// Latest returns the newest record of each asset.
func (s *SQLiteStore) Latest(ctx context.Context, assets []string) ([]PriceRecord, error) {
	records := make([]PriceRecord, 0, len(assets))
	for _, asset := range assets {
		rec, err := s.MostRecent(ctx, asset)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

func (s *SQLiteStore) insertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (id, asset, price, inserted_at) VALUES (?, ?, ?, ?)`, s.table)
}

func parseSQLiteRecord(idStr, asset, priceStr, insertedStr string) (PriceRecord, error) {
	insertedAt, err := time.Parse(time.RFC3339Nano, insertedStr)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse inserted_at: %w", err)
	}
	return buildRecord(idStr, asset, priceStr, insertedAt)
}

// formatTime keeps lexical order equal to chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var _ HistoryStore = (*SQLiteStore)(nil)
