package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Open connects to the database and makes sure the chat tables exist.
func Open(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	switch driver {
	case DriverSQLite:
		// sqlite has a single writer; one connection turns lock contention into queueing
		db.SetMaxOpenConns(1)
	case DriverPostgres:
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(20)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, nil
}

var schemas = map[string][]string{
	DriverSQLite: {
		`create table if not exists conversations(
			id              text not null primary key,
			participant_a   text not null,
			participant_b   text not null,
			pair_key        text not null,
			listing_id      text not null,
			active          boolean not null default 1,
			message_seq     integer not null default 0,
			created_at      datetime not null,
			last_message_at datetime not null
		)`,
		`create table if not exists messages(
			id              text not null primary key,
			conversation_id text not null references conversations(id),
			seq             integer not null,
			sender_id       text not null,
			content         text not null,
			message_type    text not null,
			sent_at         datetime not null,
			edited          boolean not null default 0,
			edited_at       datetime null
		)`,
		`create table if not exists message_statuses(
			message_id text not null references messages(id),
			user_id    text not null,
			status     text not null,
			created_at datetime not null,
			primary key (message_id, user_id, status)
		)`,
	},
	DriverPostgres: {
		`create table if not exists conversations(
			id              text not null primary key,
			participant_a   text not null,
			participant_b   text not null,
			pair_key        text not null,
			listing_id      text not null,
			active          boolean not null default true,
			message_seq     bigint not null default 0,
			created_at      timestamptz not null,
			last_message_at timestamptz not null
		)`,
		`create table if not exists messages(
			id              text not null primary key,
			conversation_id text not null references conversations(id),
			seq             bigint not null,
			sender_id       text not null,
			content         text not null,
			message_type    text not null,
			sent_at         timestamptz not null,
			edited          boolean not null default false,
			edited_at       timestamptz null
		)`,
		`create table if not exists message_statuses(
			message_id text not null references messages(id),
			user_id    text not null,
			status     text not null,
			created_at timestamptz not null,
			primary key (message_id, user_id, status)
		)`,
	},
}

// indexes are shared by both dialects
var indexes = []string{
	// at most one active conversation per unordered pair and listing
	`create unique index if not exists ux_conversations_active_pair
		on conversations(pair_key, listing_id) where active`,
	`create index if not exists ix_conversations_participant_a on conversations(participant_a, last_message_at)`,
	`create index if not exists ix_conversations_participant_b on conversations(participant_b, last_message_at)`,
	`create unique index if not exists ux_messages_conversation_seq on messages(conversation_id, seq)`,
	`create index if not exists ix_message_statuses_user on message_statuses(user_id, status)`,
}

func Migrate(db *sqlx.DB) error {
	statements, ok := schemas[db.DriverName()]
	if !ok {
		return fmt.Errorf("unsupported driver: %s", db.DriverName())
	}
	for _, stmt := range append(statements, indexes...) {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	for i, r := range stmt {
		if r == '\n' {
			return stmt[:i]
		}
	}
	return stmt
}

// withTx runs fn in a transaction, committing on success and rolling back otherwise.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func now() time.Time {
	return time.Now().UTC()
}
