// Package presence tracks which users hold at least one open real-time
// connection. Absence of an entry means offline; there is no unknown state.
package presence

import (
	"context"

	"uk.co.dudmesh.roost/internal/model"
)

type Registry interface {
	SetOnline(ctx context.Context, user model.UserID) error
	SetOffline(ctx context.Context, user model.UserID) error
	IsOnline(ctx context.Context, user model.UserID) (bool, error)
	OnlineCount(ctx context.Context) (int, error)
	// Touch renews the liveness of an online user. Registries without expiry ignore it.
	Touch(ctx context.Context, user model.UserID) error
}
