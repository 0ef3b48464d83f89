package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	createHistorySQL = `CREATE TABLE IF NOT EXISTS %[1]s (
        id          uuid PRIMARY KEY,
        asset       text NOT NULL,
        price       numeric NOT NULL,
        inserted_at timestamptz NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (asset, inserted_at DESC);`

	insertRecordSQL = `INSERT INTO %s (id, asset, price, inserted_at)
    VALUES ($1, $2, $3, $4);`

	mostRecentSQL = `SELECT id::text, asset, price::text, inserted_at
    FROM %s
    WHERE asset = $1
    ORDER BY inserted_at DESC
    LIMIT 1;`

	latestPerAssetSQL = `SELECT DISTINCT ON (asset) id::text, asset, price::text, inserted_at
    FROM %s
    WHERE asset = ANY($1)
    ORDER BY asset, inserted_at DESC;`

	assetXactLockSQL   = `SELECT pg_advisory_xact_lock(hashtext($1));`
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore keeps price history in PostgreSQL.
type PGStore struct {
	pool  *pgxpool.Pool
	name  string
	table string
	now   func() time.Time
}

// NewPGStore wires a pgx pool into a PGStore writing to table.
func NewPGStore(pool *pgxpool.Pool, table string) *PGStore {
	if table == "" {
		table = DefaultTable
	}
	return &PGStore{pool: pool, name: table, table: pgx.Identifier{table}.Sanitize(), now: time.Now}
}

// Close releases the underlying pool resources.
func (s *PGStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PGStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the history table and its lookup index.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	index := pgx.Identifier{s.name + "_asset_inserted_at_idx"}.Sanitize()
	if _, err := pool.Exec(ctx, fmt.Sprintf(createHistorySQL, s.table, index)); err != nil {
		return fmt.Errorf("create history table: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PGStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the session lock is dropped with the connection if this fails
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// MostRecent returns the latest record for asset.
func (s *PGStore) MostRecent(ctx context.Context, asset string) (*PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return s.mostRecent(ctx, pool, asset)
}

func (s *PGStore) mostRecent(ctx context.Context, q queryer, asset string) (*PriceRecord, error) {
	rows, err := q.Query(ctx, fmt.Sprintf(mostRecentSQL, s.table), asset)
	if err != nil {
		return nil, fmt.Errorf("query most recent: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return nil, fmt.Errorf("query most recent: %w", rows.Err())
		}
		return nil, nil
	}
	rec, err := scanRecord(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Record appends a record for asset.
func (s *PGStore) Record(ctx context.Context, asset string, price decimal.Decimal) (PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceRecord{}, err
	}
	rec := newRecord(asset, price, s.now())
	if _, err := pool.Exec(ctx, fmt.Sprintf(insertRecordSQL, s.table), rec.ID.String(), rec.Asset, rec.Price.String(), rec.InsertedAt); err != nil {
		return PriceRecord{}, fmt.Errorf("insert price record: %w", err)
	}
	return rec, nil
}

// RecordIf serialises writers of one asset with a transaction-scoped advisory lock.
func (s *PGStore) RecordIf(ctx context.Context, asset string, price decimal.Decimal, decide DecideFunc) (PriceRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceRecord{}, false, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return PriceRecord{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, assetXactLockSQL, asset); err != nil {
		return PriceRecord{}, false, fmt.Errorf("lock asset %s: %w", asset, err)
	}

	previous, err := s.mostRecent(ctx, tx, asset)
	if err != nil {
		return PriceRecord{}, false, err
	}
	if !decide(previous, price) {
		return PriceRecord{}, false, nil
	}

	rec := newRecord(asset, price, s.now())
	if _, err := tx.Exec(ctx, fmt.Sprintf(insertRecordSQL, s.table), rec.ID.String(), rec.Asset, rec.Price.String(), rec.InsertedAt); err != nil {
		return PriceRecord{}, false, fmt.Errorf("insert price record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return PriceRecord{}, false, fmt.Errorf("commit price record: %w", err)
	}
	return rec, true, nil
}

// Latest returns the newest record of each asset.
func (s *PGStore) Latest(ctx context.Context, assets []string) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, fmt.Sprintf(latestPerAssetSQL, s.table), assets)
	if err != nil {
		return nil, fmt.Errorf("list latest records: %w", err)
	}
	defer rows.Close()

	records := make([]PriceRecord, 0, len(assets))
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanRecord(rows pgx.Rows) (PriceRecord, error) {
	var (
		idStr      string
		asset      string
		priceStr   string
		insertedAt time.Time
	)
	if err := rows.Scan(&idStr, &asset, &priceStr, &insertedAt); err != nil {
		return PriceRecord{}, err
	}
	return buildRecord(idStr, asset, priceStr, insertedAt)
}

func buildRecord(idStr, asset, priceStr string, insertedAt time.Time) (PriceRecord, error) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse record id: %w", err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse price: %w", err)
	}
	return PriceRecord{ID: id, Asset: asset, Price: price, InsertedAt: insertedAt.UTC()}, nil
}

var (
	_ HistoryStore   = (*PGStore)(nil)
	_ AdvisoryLocker = (*PGStore)(nil)
)
