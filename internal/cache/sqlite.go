package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nrednav/cuid2"
)

// sqliteCache is a process-local cache in a private in-memory database.
type sqliteCache struct {
	db  *sqlx.DB
	ttl time.Duration
}

func NewSQLite(ttl time.Duration) (*sqliteCache, error) {
	db, err := sqlx.Connect("sqlite3", "file:cache-"+cuid2.Generate()+"?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &sqliteCache{db, ttl}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *sqliteCache) init() error {
	_, err := c.db.Exec(`create table if not exists cache_entries (
		name       text not null,
		key        text not null,
		value      text not null,
		expires_at integer not null,
		primary key (name, key)
	)`)
	if err != nil {
		return fmt.Errorf("creating cache table: %w", err)
	}
	return nil
}

func (c *sqliteCache) Close() error {
	return c.db.Close()
}

func (c *sqliteCache) Get(ctx context.Context, name, key string, dest any) (bool, error) {
	var value string
	err := c.db.GetContext(ctx, &value, `select value from cache_entries where name = ? and key = ? and expires_at > ?`,
		name, key, time.Now().UnixNano())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("getting %s/%s from cache: %w", name, key, err)
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return false, fmt.Errorf("decoding %s/%s: %w", name, key, err)
	}
	return true, nil
}

func (c *sqliteCache) Put(ctx context.Context, name, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", name, key, err)
	}
	_, err = c.db.ExecContext(ctx, `insert into cache_entries (name, key, value, expires_at) values (?, ?, ?, ?)
		on conflict (name, key) do update set value = excluded.value, expires_at = excluded.expires_at`,
		name, key, string(encoded), time.Now().Add(c.ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("putting %s/%s in cache: %w", name, key, err)
	}
	return nil
}

func (c *sqliteCache) Invalidate(ctx context.Context, name, key string) error {
	_, err := c.db.ExecContext(ctx, `delete from cache_entries where name = ? and key = ?`, name, key)
	if err != nil {
		return fmt.Errorf("invalidating %s/%s: %w", name, key, err)
	}
	return nil
}

func (c *sqliteCache) InvalidateAll(ctx context.Context, name string) error {
	_, err := c.db.ExecContext(ctx, `delete from cache_entries where name = ?`, name)
	if err != nil {
		return fmt.Errorf("invalidating %s: %w", name, err)
	}
	return nil
}
