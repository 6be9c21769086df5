// Package cache is a bounded, sharded, time-limited in-memory map.
//
// Entries live for a fixed TTL measured from insertion; reads do not extend
// it. When a shard is full the oldest insertion is evicted. Each shard has
// its own mutex so unrelated keys never contend on a global lock.
package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default sizing.
const (
	DefaultCapacity = 200
	DefaultTTL      = time.Hour
	DefaultShards   = 8
)

// Options configures a Cache.
type Options[V any] struct {
	Capacity int           // total entries across shards
	TTL      time.Duration // lifetime from insertion
	Shards   int
	// OnEvict is called outside the shard lock whenever an entry leaves the
	// cache: expiry, capacity pressure, or explicit Delete.
	OnEvict func(key string, v V)
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	shards  []*shard[V]
	ttl     time.Duration
	onEvict func(string, V)
	now     func() time.Time
	group   singleflight.Group
}

type entry[V any] struct {
	key      string
	value    V
	expireAt time.Time
	elem     *list.Element
}

type shard[V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*entry[V]
	order    *list.List // insertion order, oldest at front
}

// New creates a Cache.
func New[V any](opts Options[V]) *Cache[V] {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	n := opts.Shards
	if n <= 0 {
		n = DefaultShards
	}
	if n > capacity {
		n = capacity
	}

	c := &Cache[V]{ttl: ttl, onEvict: opts.OnEvict, now: time.Now}
	c.shards = make([]*shard[V], n)
	for i := range c.shards {
		// Spread the remainder so the total is exactly capacity.
		sc := capacity / n
		if i < capacity%n {
			sc++
		}
		c.shards[i] = &shard[V]{capacity: sc, items: make(map[string]*entry[V]), order: list.New()}
	}
	return c
}

func (c *Cache[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get returns the value for key if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	s := c.shardFor(key)
	now := c.now()

	s.mu.Lock()
	e, ok := s.items[key]
	if ok && now.Before(e.expireAt) {
		v := e.value
		s.mu.Unlock()
		return v, true
	}
	var expired []*entry[V]
	if ok {
		s.remove(e)
		expired = append(expired, e)
	}
	s.mu.Unlock()

	c.evicted(expired)
	var zero V
	return zero, false
}

// Set inserts or replaces key. Replacing restarts the entry's TTL.
func (c *Cache[V]) Set(key string, v V) {
	s := c.shardFor(key)
	now := c.now()
	var out []*entry[V]

	s.mu.Lock()
	if old, ok := s.items[key]; ok {
		s.remove(old)
	}
	for s.order.Len() >= s.capacity {
		oldest := s.order.Front().Value.(*entry[V])
		s.remove(oldest)
		out = append(out, oldest)
	}
	e := &entry[V]{key: key, value: v, expireAt: now.Add(c.ttl)}
	e.elem = s.order.PushBack(e)
	s.items[key] = e
	s.mu.Unlock()

	c.evicted(out)
}

// Delete removes key, reporting whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	e, ok := s.items[key]
	if ok {
		s.remove(e)
	}
	s.mu.Unlock()

	if ok {
		c.evicted([]*entry[V]{e})
	}
	return ok
}

// Len returns the number of resident entries, including any that have
// expired but not yet been swept.
func (c *Cache[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}

// Sweep removes expired entries from every shard and returns how many were
// dropped.
func (c *Cache[V]) Sweep() int {
	now := c.now()
	total := 0
	for _, s := range c.shards {
		var out []*entry[V]
		s.mu.Lock()
		for el := s.order.Front(); el != nil; {
			next := el.Next()
			e := el.Value.(*entry[V])
			if !now.Before(e.expireAt) {
				s.remove(e)
				out = append(out, e)
			}
			el = next
		}
		s.mu.Unlock()
		c.evicted(out)
		total += len(out)
	}
	return total
}

// GetOrLoad returns the cached value or calls load to build it. Concurrent
// misses for the same key share a single load call.
func (c *Cache[V]) GetOrLoad(key string, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	res, err, _ := c.group.Do(key, func() (any, error) {
		// Recheck inside the flight; a previous flight may have filled it.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

func (s *shard[V]) remove(e *entry[V]) {
	s.order.Remove(e.elem)
	delete(s.items, e.key)
}

func (c *Cache[V]) evicted(entries []*entry[V]) {
	if c.onEvict == nil {
		return
	}
	for _, e := range entries {
		c.onEvict(e.key, e.value)
	}
}
