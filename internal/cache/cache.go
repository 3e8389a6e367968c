// Package cache holds the read-through caches used for conversation lists and
// unread counts. Entries are JSON so every backend stores the same bytes.
package cache

import (
	"context"
	"time"
)

// Cache names used by the messaging service.
const (
	Conversations = "conversations"
	UnreadCounts  = "unread-counts"
)

type Cache interface {
	Get(ctx context.Context, name, key string, dest any) (bool, error)
	Put(ctx context.Context, name, key string, value any) error
	Invalidate(ctx context.Context, name, key string) error
	InvalidateAll(ctx context.Context, name string) error
	Close() error
}

const DefaultTTL = 10 * time.Minute
