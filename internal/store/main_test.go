package store

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/nrednav/cuid2"
	"github.com/stretchr/testify/require"
	"uk.co.dudmesh.roost/internal/model"
)

type fakeListings struct {
	mu       sync.Mutex
	listings map[model.ListingID]*model.Listing
}

func newFakeListings(listings ...*model.Listing) *fakeListings {
	f := &fakeListings{listings: map[model.ListingID]*model.Listing{}}
	for _, l := range listings {
		f.listings[l.ID] = l
	}
	return f
}

func (f *fakeListings) FindListingByID(ctx context.Context, id model.ListingID) (*model.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[id]
	if !ok {
		return nil, nil
	}
	listing := *l
	return &listing, nil
}

func (f *fakeListings) setActive(id model.ListingID, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings[id].Active = active
}

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(DriverSQLite, "file:"+cuid2.Generate()+"?mode=memory&cache=shared&_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

const (
	alice = model.UserID("a@uni.edu")
	bob   = model.UserID("b@uni.edu")
	carol = model.UserID("c@uni.edu")
	dave  = model.UserID("d@uni.edu")
)

func newTestStores(t *testing.T) (*Conversations, *Messages, *fakeListings) {
	listings := newFakeListings(
		&model.Listing{ID: "42", Title: "Two-bed flat near campus", Active: true},
		&model.Listing{ID: "43", Title: "Studio on Elm St", Active: true},
		&model.Listing{ID: "44", Title: "Closed room", Active: false},
	)
	db := newTestDB(t)
	return NewConversations(db, listings), NewMessages(db), listings
}
