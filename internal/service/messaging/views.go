package messaging

import (
	"context"
	"sync"

	"github.com/labstack/gommon/log"
	"uk.co.dudmesh.roost/internal/cache"
	"uk.co.dudmesh.roost/internal/model"
)

// views keeps the cached conversation lists and unread totals consistent with
// the stores. Entries are keyed by user and invalidated for exactly the users a
// mutation affects, before the mutating call returns.
//
// A per-user generation stops a reader that loaded before an invalidation from
// writing its stale result back afterwards. Generations are only tracked while
// a read for the user is in flight, so the map holds at most one entry per
// concurrent reader.
type views struct {
	cache  cache.Cache
	logger *log.Logger

	mu          sync.Mutex
	generations map[model.UserID]*generation
}

type generation struct {
	value   uint64
	readers int
}

func newViews(c cache.Cache, logger *log.Logger) *views {
	return &views{cache: c, logger: logger, generations: map[model.UserID]*generation{}}
}

func (v *views) beginRead(user model.UserID) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	g, ok := v.generations[user]
	if !ok {
		g = &generation{}
		v.generations[user] = g
	}
	g.readers++
	return g.value
}

// endRead caches value when no invalidation happened since beginRead. A nil
// value is not cached.
func (v *views) endRead(ctx context.Context, name string, user model.UserID, started uint64, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	g := v.generations[user]
	current := g.value == started
	g.readers--
	if g.readers == 0 {
		delete(v.generations, user)
	}
	if value == nil || !current {
		return
	}
	if err := v.cache.Put(ctx, name, string(user), value); err != nil {
		v.logger.Warnf("caching %s for %s: %+v", name, user, err)
	}
}

// readThrough serves name/user from the cache, loading and caching it on a miss.
// Cache failures degrade to a plain load.
func readThrough[T any](ctx context.Context, v *views, name string, user model.UserID, load func() (T, error)) (T, error) {
	started := v.beginRead(user)

	var cached T
	found, err := v.cache.Get(ctx, name, string(user), &cached)
	if err != nil {
		v.logger.Warnf("reading %s for %s from cache: %+v", name, user, err)
	} else if found {
		v.endRead(ctx, name, user, started, nil)
		return cached, nil
	}

	value, err := load()
	if err != nil {
		v.endRead(ctx, name, user, started, nil)
		return value, err
	}
	v.endRead(ctx, name, user, started, value)
	return value, nil
}

func (v *views) invalidate(ctx context.Context, names []string, users ...model.UserID) {
	v.mu.Lock()
	for _, user := range users {
		if g, ok := v.generations[user]; ok {
			g.value++
		}
	}
	v.mu.Unlock()

	for _, user := range users {
		for _, name := range names {
			if err := v.cache.Invalidate(ctx, name, string(user)); err != nil {
				v.logger.Errorf("invalidating %s for %s: %+v", name, user, err)
			}
		}
	}
}

var (
	allViews          = []string{cache.Conversations, cache.UnreadCounts}
	conversationViews = []string{cache.Conversations}
)

// afterSend: the list order, latest message and recipient unread count all move.
func (v *views) afterSend(ctx context.Context, conversation *model.Conversation) {
	v.invalidate(ctx, allViews, conversation.Participants()...)
}

// afterRead: only the reader's unread figures change.
func (v *views) afterRead(ctx context.Context, reader model.UserID) {
	v.invalidate(ctx, allViews, reader)
}

// afterMembershipChange covers create, reactivate and deactivate.
func (v *views) afterMembershipChange(ctx context.Context, conversation *model.Conversation) {
	v.invalidate(ctx, conversationViews, conversation.Participants()...)
}
