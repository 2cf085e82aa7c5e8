package store

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrPendingFull is returned by Enqueue when the store holds its configured maximum.
var ErrPendingFull = errors.New("pending store is full")

// PendingEntry is one queued value and the key it waits under.
type PendingEntry[T any] struct {
	Key      string
	Value    T
	Enqueued time.Time

	seq uint64
}

// PendingStore holds values waiting to be claimed by key.
// Values under the same key are claimed oldest first, and each value is claimed at most once.
// All operations take a single lock and never block on anything else.
type PendingStore[T any] struct {
	mu     sync.Mutex
	queues map[string][]PendingEntry[T]
	size   int
	seq    uint64

	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// PendingOption configures a PendingStore.
type PendingOption func(*pendingConfig)

type pendingConfig struct {
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// WithMaxEntries bounds the number of queued values. Zero means unbounded.
func WithMaxEntries(n int) PendingOption {
	return func(c *pendingConfig) { c.maxEntries = n }
}

// WithTTL makes values older than d unclaimable. Zero means values never expire.
func WithTTL(d time.Duration) PendingOption {
	return func(c *pendingConfig) { c.ttl = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) PendingOption {
	return func(c *pendingConfig) { c.now = now }
}

// NewPendingStore returns an empty store. Without options it is unbounded and never expires.
func NewPendingStore[T any](opts ...PendingOption) *PendingStore[T] {
	cfg := pendingConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &PendingStore[T]{
		queues:     make(map[string][]PendingEntry[T]),
		maxEntries: cfg.maxEntries,
		ttl:        cfg.ttl,
		now:        cfg.now,
	}
}

// Enqueue appends value under key. An existing value for the same key is never replaced.
func (s *PendingStore[T]) Enqueue(key string, value T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.maxEntries > 0 && s.size >= s.maxEntries {
		// expired values do not count against the limit
		s.pruneLocked(now)
		if s.size >= s.maxEntries {
			return ErrPendingFull
		}
	}

	s.seq++
	s.queues[key] = append(s.queues[key], PendingEntry[T]{Key: key, Value: value, Enqueued: now, seq: s.seq})
	s.size++
	return nil
}

// ClaimFirst removes and returns the oldest live value under key.
// ok is false when nothing is waiting, which is not an error.
func (s *PendingStore[T]) ClaimFirst(key string) (value T, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[key]
	now := s.now()
	for len(q) > 0 {
		head := q[0]
		q[0] = PendingEntry[T]{}
		q = q[1:]
		s.size--
		if !s.expired(head, now) {
			value, ok = head.Value, true
			break
		}
	}

	if len(q) == 0 {
		delete(s.queues, key)
	} else {
		s.queues[key] = q
	}
	return value, ok
}

// Len returns the number of queued values, expired ones included until pruned.
func (s *PendingStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.size
}

// Snapshot returns the live entries in enqueue order.
func (s *PendingStore[T]) Snapshot() []PendingEntry[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]PendingEntry[T], 0, s.size)
	for _, q := range s.queues {
		for _, e := range q {
			if !s.expired(e, now) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Prune drops expired values and returns how many were removed.
func (s *PendingStore[T]) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pruneLocked(s.now())
}

func (s *PendingStore[T]) pruneLocked(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	var removed int
	for key, q := range s.queues {
		live := q[:0]
		for _, e := range q {
			if s.expired(e, now) {
				removed++
			} else {
				live = append(live, e)
			}
		}
		clear(q[len(live):])
		if len(live) == 0 {
			delete(s.queues, key)
		} else {
			s.queues[key] = live
		}
	}
	s.size -= removed
	return removed
}

func (s *PendingStore[T]) expired(e PendingEntry[T], now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.Enqueued) >= s.ttl
}
