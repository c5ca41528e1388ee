// Package cache provides a generic in-memory cache with TTL expiry and
// strict least-recently-used eviction. Each cache instance owns its map
// exclusively and serializes all operations behind a single mutex.
package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config configures a TTLCache.
type Config struct {
	// MaxSize is the maximum number of entries held at once.
	MaxSize int `yaml:"max_size" json:"max_size"`

	// TTL is how long an entry stays readable after it was written.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize: 1000,
		TTL:     5 * time.Minute,
	}
}

// TTLCache is an in-memory key/value store with TTL expiry and LRU
// eviction. Expired entries are removed lazily on access and eagerly
// during eviction sweeps. An entry whose age has reached the TTL is
// treated as expired.
type TTLCache[V any] struct {
	mu     sync.Mutex
	config Config
	logger *zap.Logger
	items  map[string]*node[V]
	head   *node[V] // most recently accessed
	tail   *node[V] // least recently accessed
	now    func() time.Time

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

type node[V any] struct {
	key       string
	value     V
	createdAt time.Time
	prev      *node[V]
	next      *node[V]
}

// New creates a TTLCache. Zero or negative config fields fall back to
// the defaults.
func New[V any](config Config, logger *zap.Logger) *TTLCache[V] {
	def := DefaultConfig()
	if config.MaxSize <= 0 {
		config.MaxSize = def.MaxSize
	}
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	return &TTLCache[V]{
		config: config,
		logger: logger.With(zap.String("component", "ttl_cache")),
		items:  make(map[string]*node[V]),
		now:    time.Now,
	}
}

// Get returns the value for key. It reports false if the key is absent
// or the entry has expired; an expired entry is removed as a side
// effect. A hit refreshes the entry's position in the LRU order.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	n, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	if c.expired(n) {
		c.remove(n)
		c.expirations++
		c.misses++
		return zero, false
	}

	c.moveToHead(n)
	c.hits++
	return n.value, true
}

// Set stores value under key. If the cache is full it first evicts
// enough entries, oldest last-access first, to make room.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		n.value = value
		n.createdAt = c.now()
		c.moveToHead(n)
		return
	}

	if overflow := len(c.items) - c.config.MaxSize + 1; overflow > 0 {
		c.evict(overflow)
	}

	n := &node[V]{
		key:       key,
		value:     value,
		createdAt: c.now(),
	}
	c.items[key] = n
	c.addToHead(n)
}

// Delete removes key if present.
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		c.remove(n)
	}
}

// Clear drops all entries.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*node[V])
	c.head = nil
	c.tail = nil
}

// Len returns the current number of entries, expired or not.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats contains cache counters.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
	Size        int    `json:"size"`
	Capacity    int    `json:"capacity"`
}

// GetStats returns a snapshot of the cache counters.
func (c *TTLCache[V]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        len(c.items),
		Capacity:    c.config.MaxSize,
	}
}

// evict removes at least n entries. Expired entries go first regardless
// of access order; the remainder come off the LRU tail.
func (c *TTLCache[V]) evict(n int) {
	removed := 0
	for cur := c.tail; cur != nil && removed < n; {
		prev := cur.prev
		if c.expired(cur) {
			c.remove(cur)
			c.expirations++
			removed++
		}
		cur = prev
	}
	for removed < n && c.tail != nil {
		c.remove(c.tail)
		c.evictions++
		removed++
	}
}

func (c *TTLCache[V]) expired(n *node[V]) bool {
	return c.now().Sub(n.createdAt) >= c.config.TTL
}

func (c *TTLCache[V]) remove(n *node[V]) {
	c.unlink(n)
	delete(c.items, n.key)
}

func (c *TTLCache[V]) addToHead(n *node[V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *TTLCache[V]) unlink(n *node[V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
}

func (c *TTLCache[V]) moveToHead(n *node[V]) {
	if n == c.head {
		return
	}
	c.unlink(n)
	c.addToHead(n)
}
