package session

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/example/image-check/internal/uistate"
)

// RedisStore keeps msgpack-encoded session state in Redis keys that expire
// with the session.
type RedisStore struct {
	cache Cache
}

// NewRedisStore wraps a Cache.
func NewRedisStore(cache Cache) *RedisStore {
	return &RedisStore{cache: cache}
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

// Load decodes the state stored for id.
func (r *RedisStore) Load(ctx context.Context, id string) (*uistate.State, error) {
	raw, err := r.cache.Get(ctx, sessionKey(id))
	if err != nil {
		return nil, err
	}
	state := uistate.New()
	if err := msgpack.Unmarshal([]byte(raw), state); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	return state, nil
}

// Save encodes state under id with the given ttl.
func (r *RedisStore) Save(ctx context.Context, id string, state *uistate.State, ttl time.Duration) error {
	encoded, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	return r.cache.Set(ctx, sessionKey(id), encoded, ttl)
}

// Delete removes the state stored for id.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.cache.Del(ctx, sessionKey(id))
}
