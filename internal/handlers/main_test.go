package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"github.com/nrednav/cuid2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"uk.co.dudmesh.roost/internal/cache"
	"uk.co.dudmesh.roost/internal/delivery"
	"uk.co.dudmesh.roost/internal/model"
	"uk.co.dudmesh.roost/internal/presence"
	"uk.co.dudmesh.roost/internal/service/messaging"
	"uk.co.dudmesh.roost/internal/store"
	"uk.co.dudmesh.roost/internal/transport"
)

var (
	secret = []byte("test-secret")
	alice  = model.User{ID: "a", Address: "a@uni.edu"}
	bob    = model.User{ID: "b", Address: "b@uni.edu"}
	dave   = model.User{ID: "d", Address: "d@uni.edu"}
)

type directory struct {
	mu       sync.Mutex
	listings map[model.ListingID]model.Listing
}

func (d *directory) FindListingByID(ctx context.Context, id model.ListingID) (*model.Listing, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	listing, ok := d.listings[id]
	if !ok {
		return nil, nil
	}
	return &listing, nil
}

func (d *directory) FindUserByID(ctx context.Context, id model.UserID) (*model.User, error) {
	for _, user := range []model.User{alice, bob, dave} {
		if user.ID == id {
			return &user, nil
		}
	}
	return nil, model.ErrorUserNotFound
}

func (d *directory) deactivate(id model.ListingID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	listing := d.listings[id]
	listing.Active = false
	d.listings[id] = listing
}

type fixture struct {
	server    *echo.Echo
	directory *directory
	hub       *transport.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(store.DriverSQLite, "file:"+cuid2.Generate()+"?mode=memory&cache=shared&_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := cache.NewSQLite(cache.DefaultTTL)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	d := &directory{listings: map[model.ListingID]model.Listing{
		"42": {ID: "42", Title: "Two-bed flat near campus", Active: true},
	}}
	registry := presence.NewMemory()
	svc := messaging.New(store.NewConversations(db, d), store.NewMessages(db), d, registry, c)

	metrics := prometheus.NewRegistry()
	hub := transport.NewHub(metrics)
	router := delivery.NewRouter(svc, registry, d, hub, delivery.DefaultReplayLimit, metrics)
	hub.SetLifecycle(router)

	server := echo.New()
	server.HTTPErrorHandler = ErrorHandler(server)
	Register(server, svc, router, hub, Options{Secret: secret, Origins: []string{"*"}})

	return &fixture{server: server, directory: d, hub: hub}
}

func token(t *testing.T, user model.User) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Email:          string(user.Address),
		StandardClaims: jwt.StandardClaims{Subject: string(user.ID)},
	}).SignedString(secret)
	require.NoError(t, err)
	return signed
}

// call performs a request as user and decodes the JSON response into out when given.
func (f *fixture) call(t *testing.T, user model.User, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user.ID != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, user))
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}
