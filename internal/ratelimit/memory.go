package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// shard is one lock domain of the bucket map.
type shard struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

// MemoryStore is an in-process fixed-window Store. Keys are spread over
// shardCount independently locked maps so unrelated clients do not contend on
// one mutex. A background goroutine evicts buckets whose window has ended;
// without it the map grows with every distinct key ever seen.
type MemoryStore struct {
	shards        [shardCount]*shard
	now           func() time.Time
	sweepInterval time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

type MemoryOption func(*MemoryStore)

// WithMemoryClock injects the clock used to open and expire windows.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// WithSweepInterval sets how often expired buckets are evicted. Zero disables
// the sweeper.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *MemoryStore) { m.sweepInterval = d }
}

// NewMemoryStore creates the store and, unless disabled, starts the sweeper.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		now:           time.Now,
		sweepInterval: 5 * time.Minute,
		done:          make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &shard{buckets: make(map[string]*Bucket)}
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sweepInterval > 0 {
		go m.sweepLoop()
	}
	return m
}

func (m *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

// Increment implements Store.
func (m *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Bucket, error) {
	s := m.shardFor(key)
	now := m.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || !now.Before(b.ResetAt) {
		b = &Bucket{Count: 1, ResetAt: now.Add(window)}
		s.buckets[key] = b
		return *b, nil
	}
	b.Count++
	return *b, nil
}

// Close stops the sweeper. It is safe to call more than once.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep removes every bucket whose window has ended and returns how many.
func (m *MemoryStore) sweep() int {
	now := m.now()
	evicted := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for key, b := range s.buckets {
			if !now.Before(b.ResetAt) {
				delete(s.buckets, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// Len reports the number of live buckets.
func (m *MemoryStore) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.buckets)
		s.mu.Unlock()
	}
	return n
}
