package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/labstack/gommon/log"
	"uk.co.dudmesh.roost/internal/model"
)

// Fixture is the on-disk shape of a listings file.
type Fixture struct {
	Listings []*model.Listing `json:"listings"`
	Users    []*model.User    `json:"users"`
}

func ReadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	fixture := &Fixture{}
	if err := json.Unmarshal(raw, fixture); err != nil {
		return nil, fmt.Errorf("parsing fixture %s: %w", path, err)
	}
	return fixture, nil
}

// fileDirectory serves listings and users from a JSON fixture, used in
// development in place of the marketplace database.
type fileDirectory struct {
	path     string
	logger   *log.Logger
	mu       sync.RWMutex
	listings map[model.ListingID]*model.Listing
	users    map[model.UserID]*model.User
	watcher  *fsnotify.Watcher
}

func NewFile(path string) (*fileDirectory, error) {
	d := &fileDirectory{path: path, logger: log.New("directory")}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *fileDirectory) load() error {
	fixture, err := ReadFixture(d.path)
	if err != nil {
		return err
	}

	listings := make(map[model.ListingID]*model.Listing, len(fixture.Listings))
	for _, listing := range fixture.Listings {
		listings[listing.ID] = listing
	}
	users := make(map[model.UserID]*model.User, len(fixture.Users))
	for _, user := range fixture.Users {
		users[user.ID] = user
	}

	d.mu.Lock()
	d.listings = listings
	d.users = users
	d.mu.Unlock()
	return nil
}

// Watch reloads the fixture whenever it changes on disk. A fixture that fails
// to parse is logged and the previous contents are kept.
func (d *fileDirectory) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	d.watcher = watcher

	// editors often replace the file, so watch its directory
	name := filepath.Clean(d.path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				if err := d.load(); err != nil {
					d.logger.Errorf("reloading %s: %+v", d.path, err)
					continue
				}
				d.logger.Infof("reloaded %s", d.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Errorf("watcher: %+v", err)
			}
		}
	}()

	if err := watcher.Add(filepath.Dir(name)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", d.path, err)
	}
	return nil
}

func (d *fileDirectory) Close() error {
	if d.watcher != nil {
		return d.watcher.Close()
	}
	return nil
}

func (d *fileDirectory) FindListingByID(ctx context.Context, id model.ListingID) (*model.Listing, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	listing, ok := d.listings[id]
	if !ok {
		return nil, nil
	}
	l := *listing
	return &l, nil
}

func (d *fileDirectory) FindUserByID(ctx context.Context, id model.UserID) (*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.users[id]
	if !ok {
		return nil, model.ErrorUserNotFound
	}
	u := *user
	return &u, nil
}
