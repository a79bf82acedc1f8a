package cache

import (
	"context"
	"sync"
	"time"
)

// Entry is a cached value together with its freshness flag. Gen advances on
// every invalidation that touches the entry.
type Entry struct {
	Data      []byte
	Stale     bool
	Gen       uint64
	UpdatedAt time.Time
}

// Invalidator marks entries stale. It is the only operation the realtime
// sync layer is allowed to perform on the cache.
type Invalidator interface {
	// Invalidate marks every entry whose key starts with prefix as stale.
	// Invalidating an already stale entry leaves it stale.
	Invalidate(ctx context.Context, prefix Key) error
}

// Store is the backing storage for cached query results.
type Store interface {
	Invalidator
	// Get returns the entry for key; reservations without data report false.
	Get(ctx context.Context, key Key) (Entry, bool, error)
	// Reserve makes key visible to Invalidate before a load starts and
	// returns its current generation.
	Reserve(ctx context.Context, key Key) (uint64, error)
	// Put writes data loaded under gen. The entry is fresh only if no
	// invalidation reached it since Reserve; otherwise it is stored stale.
	Put(ctx context.Context, key Key, data []byte, gen uint64) (fresh bool, err error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	key     Key
	entry   Entry
	hasData bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key.String()]
	if !ok || !e.hasData {
		return Entry{}, false, nil
	}
	return e.entry, true, nil
}

func (s *MemoryStore) Reserve(_ context.Context, key Key) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	e, ok := s.entries[k]
	if !ok {
		e = &memEntry{key: append(Key(nil), key...), entry: Entry{Stale: true}}
		s.entries[k] = e
	}
	return e.entry.Gen, nil
}

func (s *MemoryStore) Put(_ context.Context, key Key, data []byte, gen uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	e, ok := s.entries[k]
	if !ok {
		// evicted or never reserved; nothing can prove the data is current
		e = &memEntry{key: append(Key(nil), key...), entry: Entry{Gen: gen + 1}}
		s.entries[k] = e
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	fresh := e.entry.Gen == gen
	e.entry.Data = cp
	e.entry.Stale = !fresh
	e.entry.UpdatedAt = s.now()
	e.hasData = true
	return fresh, nil
}

func (s *MemoryStore) Invalidate(_ context.Context, prefix Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.key.HasPrefix(prefix) {
			e.entry.Stale = true
			e.entry.Gen++
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
