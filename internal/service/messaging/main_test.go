package messaging

import (
	"context"
	"sync"
	"testing"

	"github.com/nrednav/cuid2"
	"github.com/stretchr/testify/require"
	"uk.co.dudmesh.roost/internal/cache"
	"uk.co.dudmesh.roost/internal/model"
	"uk.co.dudmesh.roost/internal/presence"
	"uk.co.dudmesh.roost/internal/store"
)

const (
	userA = model.UserID("a@uni.edu")
	userB = model.UserID("b@uni.edu")
	userC = model.UserID("c@uni.edu")
	userD = model.UserID("d@uni.edu")
)

type listings struct {
	mu       sync.Mutex
	listings map[model.ListingID]model.Listing
}

func (l *listings) FindListingByID(ctx context.Context, id model.ListingID) (*model.Listing, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	listing, ok := l.listings[id]
	if !ok {
		return nil, nil
	}
	return &listing, nil
}

func (l *listings) put(listing model.Listing) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listings[listing.ID] = listing
}

func (l *listings) remove(id model.ListingID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.listings, id)
}

type fixture struct {
	service  *service
	listings *listings
	presence presence.Registry
	cache    cache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(store.DriverSQLite, "file:"+cuid2.Generate()+"?mode=memory&cache=shared&_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := cache.NewSQLite(cache.DefaultTTL)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	l := &listings{listings: map[model.ListingID]model.Listing{
		"42": {ID: "42", Title: "Two-bed flat near campus", Active: true},
		"43": {ID: "43", Title: "Studio on Elm St", Active: true},
	}}
	registry := presence.NewMemory()

	return &fixture{
		service:  New(store.NewConversations(db, l), store.NewMessages(db), l, registry, c),
		listings: l,
		presence: registry,
		cache:    c,
	}
}
