package presence

import (
	"context"
	"sync"
	"sync/atomic"

	"uk.co.dudmesh.roost/internal/model"
)

// memoryRegistry is process-wide and only correct for a single server instance.
type memoryRegistry struct {
	online sync.Map
	count  atomic.Int64
}

func NewMemory() *memoryRegistry {
	return &memoryRegistry{}
}

func (r *memoryRegistry) SetOnline(ctx context.Context, user model.UserID) error {
	if _, loaded := r.online.LoadOrStore(user, struct{}{}); !loaded {
		r.count.Add(1)
	}
	return nil
}

func (r *memoryRegistry) SetOffline(ctx context.Context, user model.UserID) error {
	if _, loaded := r.online.LoadAndDelete(user); loaded {
		r.count.Add(-1)
	}
	return nil
}

func (r *memoryRegistry) IsOnline(ctx context.Context, user model.UserID) (bool, error) {
	_, ok := r.online.Load(user)
	return ok, nil
}

func (r *memoryRegistry) OnlineCount(ctx context.Context) (int, error) {
	return int(r.count.Load()), nil
}

func (r *memoryRegistry) Touch(ctx context.Context, user model.UserID) error {
	return nil
}
