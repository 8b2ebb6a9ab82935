// Package session keeps the UI state of each browser session.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/example/image-check/internal/uistate"
)

// ErrNotFound is returned when a session has no stored state.
var ErrNotFound = errors.New("session not found")

// Store holds one uistate.State per session ID.
type Store interface {
	Load(ctx context.Context, id string) (*uistate.State, error)
	Save(ctx context.Context, id string, state *uistate.State, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}
