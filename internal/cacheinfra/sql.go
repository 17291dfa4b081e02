package cacheinfra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-flatwhite/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	rowKindEntry = "entry"
	rowKindValue = "value"
)

// entryRow is the persisted form of one cached item. Entries are encoded
// with msgpack; their payload decodes into generic maps and slices, see
// cache.Entry.DecodePayload.
type entryRow struct {
	bun.BaseModel `bun:"table:flatwhite_entries,alias:fe"`

	Key       string `bun:"cache_key,pk"`
	Kind      string `bun:"kind,notnull"`
	Payload   []byte `bun:"payload"`
	ExpiresAt int64  `bun:"expires_at,notnull"`
	UpdatedAt int64  `bun:"updated_at,notnull"`
}

func (r *entryRow) expired(now time.Time) bool {
	return r.ExpiresAt != 0 && now.UnixNano() >= r.ExpiresAt
}

// SQLStore is a cache.AsyncStore persisted through bun. It survives process
// restarts but carries no cross-process coherency.
type SQLStore struct {
	id    int
	db    *bun.DB
	clock cache.Clock
}

// OpenSQLStore opens driver ("sqlite3" or "postgres") at dsn and prepares
// the entries table.
func OpenSQLStore(ctx context.Context, id int, driver, dsn string, clock cache.Clock) (*SQLStore, error) {
	sqldb, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	var db *bun.DB
	switch driver {
	case "sqlite3":
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case "postgres":
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb.Close()
		return nil, &ConfigError{Field: "Driver", Message: fmt.Sprintf("unsupported driver %q", driver)}
	}

	store, err := NewSQLStore(ctx, id, db, clock)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore uses an existing bun.DB and creates the entries table if
// needed.
func NewSQLStore(ctx context.Context, id int, db *bun.DB, clock cache.Clock) (*SQLStore, error) {
	if clock == nil {
		clock = cache.RealClock{}
	}
	if _, err := db.NewCreateTable().Model((*entryRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	return &SQLStore{id: id, db: db, clock: clock}, nil
}

func (s *SQLStore) StoreID() int { return s.id }

func (s *SQLStore) Set(ctx context.Context, key string, value any, absoluteExpiration time.Time) error {
	row, err := encodeRow(key, value)
	if err != nil {
		return err
	}
	if !absoluteExpiration.IsZero() {
		row.ExpiresAt = absoluteExpiration.UnixNano()
	}
	row.UpdatedAt = s.clock.Now().UnixNano()

	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (cache_key) DO UPDATE").
		Set("kind = EXCLUDED.kind").
		Set("payload = EXCLUDED.payload").
		Set("expires_at = EXCLUDED.expires_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (any, bool, error) {
	row := new(entryRow)
	err := s.db.NewSelect().Model(row).Where("cache_key = ?", key).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select %q: %w", key, err)
	}

	if row.expired(s.clock.Now()) {
		if err := s.Remove(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	v, err := decodeRow(row)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().Model((*entryRow)(nil)).Where("cache_key = ?", key).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Contains(ctx context.Context, key string) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*entryRow)(nil)).
		Where("cache_key = ?", key).
		Where("expires_at = 0 OR expires_at > ?", s.clock.Now().UnixNano()).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("exists %q: %w", key, err)
	}
	return exists, nil
}

func (s *SQLStore) GetAll(ctx context.Context) ([]cache.KeyValue, error) {
	var rows []entryRow
	if err := s.db.NewSelect().Model(&rows).Order("cache_key ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("select all: %w", err)
	}

	now := s.clock.Now()
	out := make([]cache.KeyValue, 0, len(rows))
	for i := range rows {
		if rows[i].expired(now) {
			continue
		}
		v, err := decodeRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cache.KeyValue{Key: rows[i].Key, Value: v})
	}
	return out, nil
}

// DeleteExpired removes every expired row and returns how many were removed.
func (s *SQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*entryRow)(nil)).
		Where("expires_at <> 0 AND expires_at <= ?", s.clock.Now().UnixNano()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func encodeRow(key string, value any) (*entryRow, error) {
	kind := rowKindValue
	if _, ok := cache.AsEntry(value); ok {
		kind = rowKindEntry
	}
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", key, err)
	}
	return &entryRow{Key: key, Kind: kind, Payload: payload}, nil
}

func decodeRow(row *entryRow) (any, error) {
	if row.Kind == rowKindEntry {
		entry := new(cache.Entry)
		if err := msgpack.Unmarshal(row.Payload, entry); err != nil {
			return nil, fmt.Errorf("decode entry %q: %w", row.Key, err)
		}
		return entry, nil
	}

	var v any
	if err := msgpack.Unmarshal(row.Payload, &v); err != nil {
		return nil, fmt.Errorf("decode %q: %w", row.Key, err)
	}
	return v, nil
}
