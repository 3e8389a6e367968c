package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"uk.co.dudmesh.roost/internal/model"
)

// sqlDirectory reads listings and users from tables owned by the marketplace.
// In a single-database deployment they share the chat database.
type sqlDirectory struct {
	db *sqlx.DB
}

func NewSQL(db *sqlx.DB) (*sqlDirectory, error) {
	d := &sqlDirectory{db}
	if err := d.createTables(); err != nil {
		return nil, fmt.Errorf("creating directory tables: %w", err)
	}
	return d, nil
}

func (d *sqlDirectory) createTables() error {
	_, err := d.db.Exec(`create table if not exists listings(
		id     text not null primary key,
		title  text not null,
		active boolean not null
	)`)
	if err != nil {
		return fmt.Errorf("creating listings table: %w", err)
	}

	_, err = d.db.Exec(`create table if not exists users(
		id    text not null primary key,
		email text not null
	)`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	return nil
}

// FindListingByID returns nil when the listing does not exist.
func (d *sqlDirectory) FindListingByID(ctx context.Context, id model.ListingID) (*model.Listing, error) {
	listing := &model.Listing{}
	err := d.db.GetContext(ctx, listing, d.db.Rebind(`select id, title, active from listings where id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("selecting listing: %w", err)
	}
	return listing, nil
}

func (d *sqlDirectory) FindUserByID(ctx context.Context, id model.UserID) (*model.User, error) {
	user := &model.User{}
	err := d.db.GetContext(ctx, user, d.db.Rebind(`select id, email from users where id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorUserNotFound
		}
		return nil, fmt.Errorf("selecting user: %w", err)
	}
	return user, nil
}

func (d *sqlDirectory) PutListing(ctx context.Context, listing *model.Listing) error {
	_, err := d.db.NamedExecContext(ctx, `insert into listings (id, title, active)
		values(:id, :title, :active)
		on conflict (id) do update set title = excluded.title, active = excluded.active`, listing)
	if err != nil {
		return fmt.Errorf("upserting listing: %w", err)
	}
	return nil
}

func (d *sqlDirectory) PutUser(ctx context.Context, user *model.User) error {
	_, err := d.db.NamedExecContext(ctx, `insert into users (id, email)
		values(:id, :email)
		on conflict (id) do update set email = excluded.email`, user)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// Seed copies a fixture into the tables.
func (d *sqlDirectory) Seed(ctx context.Context, fixture *Fixture) error {
	for _, listing := range fixture.Listings {
		if err := d.PutListing(ctx, listing); err != nil {
			return err
		}
	}
	for _, user := range fixture.Users {
		if err := d.PutUser(ctx, user); err != nil {
			return err
		}
	}
	return nil
}
