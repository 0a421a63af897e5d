package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key     string
	expires time.Time
}

// Cache remembers recently indexed event URLs so the worker can skip
// re-delivered or re-scanned articles without asking Elasticsearch.
// Least recently marked keys are evicted first once capacity is reached.
type Cache struct {
	mu       sync.Mutex
	ll       *list.List
	items    map[string]*list.Element
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewCache creates a cache with the provided capacity and ttl.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// IsSeen returns true when the key was marked inside the ttl window.
// It does not mark the key; use MarkSeen for that.
func (c *Cache) IsSeen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	if c.now().Before(el.Value.(entry).expires) {
		return true
	}
	c.ll.Remove(el)
	delete(c.items, key)
	return false
}

// MarkSeen records that a key has been indexed, refreshing its ttl.
func (c *Cache) MarkSeen(key string) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	expires := now.Add(c.ttl)
	if el, ok := c.items[key]; ok {
		el.Value = entry{key: key, expires: expires}
		c.ll.MoveToFront(el)
	} else {
		c.items[key] = c.ll.PushFront(entry{key: key, expires: expires})
	}
	c.evict(now)
}

// Len reports how many keys are currently tracked.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) evict(now time.Time) {
	for c.ll.Len() > 0 {
		back := c.ll.Back()
		en := back.Value.(entry)
		if c.ll.Len() <= c.capacity && now.Before(en.expires) {
			return
		}
		c.ll.Remove(back)
		delete(c.items, en.key)
	}
}
