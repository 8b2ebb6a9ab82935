package session

import (
	"context"
	"sync"
	"time"

	"github.com/example/image-check/internal/uistate"
)

type memoryEntry struct {
	state     *uistate.State
	expiresAt time.Time
	size      int64
	lastUsed  uint64
}

// MemoryStore keeps session state in process memory with idle expiry.
// With limits set, saving past them evicts the least recently used sessions.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]*memoryEntry
	now         func() time.Time
	clock       uint64
	bytes       int64
	maxSessions int
	maxBytes    int64
	evicted     int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxSessions caps the number of stored sessions. Zero means no cap.
func WithMaxSessions(n int) MemoryOption {
	return func(m *MemoryStore) { m.maxSessions = n }
}

// WithMaxBytes caps the file bytes held across all sessions. Zero means no cap.
// The session being saved is never evicted, so one oversized file still fits.
func WithMaxBytes(n int64) MemoryOption {
	return func(m *MemoryStore) { m.maxBytes = n }
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{entries: make(map[string]*memoryEntry), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load returns a copy of the stored state.
func (m *MemoryStore) Load(_ context.Context, id string) (*uistate.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.expired(m.now()) {
		m.remove(id)
		return nil, ErrNotFound
	}
	m.clock++
	entry.lastUsed = m.clock
	return entry.state.Clone(), nil
}

// Save stores a copy of state. A non-positive ttl never expires.
func (m *MemoryStore) Save(_ context.Context, id string, state *uistate.State, ttl time.Duration) error {
	entry := &memoryEntry{state: state.Clone(), size: stateSize(state)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(id)
	m.clock++
	entry.lastUsed = m.clock
	m.entries[id] = entry
	m.bytes += entry.size
	m.evict(id)
	return nil
}

// Delete removes a session.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	m.remove(id)
	m.mu.Unlock()
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, entry := range m.entries {
		if entry.expired(now) {
			m.remove(id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Bytes returns the file bytes held across all sessions.
func (m *MemoryStore) Bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes
}

// Evicted returns how many sessions were dropped to stay within the limits.
func (m *MemoryStore) Evicted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evicted
}

// RunJanitor sweeps every interval until ctx is done.
func (m *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.Sweep(); removed > 0 && onSweep != nil {
				onSweep(removed)
			}
		}
	}
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (m *MemoryStore) remove(id string) {
	if entry, ok := m.entries[id]; ok {
		m.bytes -= entry.size
		delete(m.entries, id)
	}
}

// evict drops least recently used sessions other than keep until the store
// is within its limits. Expired entries go first.
func (m *MemoryStore) evict(keep string) {
	for m.overLimit() {
		now := m.now()
		victim := ""
		var oldest uint64
		for id, entry := range m.entries {
			if id == keep {
				continue
			}
			if entry.expired(now) {
				victim = id
				break
			}
			if victim == "" || entry.lastUsed < oldest {
				victim, oldest = id, entry.lastUsed
			}
		}
		if victim == "" {
			return
		}
		m.remove(victim)
		m.evicted++
	}
}

func (m *MemoryStore) overLimit() bool {
	return (m.maxSessions > 0 && len(m.entries) > m.maxSessions) ||
		(m.maxBytes > 0 && m.bytes > m.maxBytes)
}

func stateSize(state *uistate.State) int64 {
	if state.File == nil {
		return 0
	}
	return int64(len(state.File.Data))
}
