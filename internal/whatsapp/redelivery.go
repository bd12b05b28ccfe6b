package whatsapp

import (
	"container/list"
	"sync"
	"time"
)

// seenCache remembers platform message ids so a webhook redelivery of the same
// message is not dispatched twice. Entries expire after ttl; the oldest entry
// is evicted once maxSize is reached.
type seenCache struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // of seenEntry, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type seenEntry struct {
	key string
	at  time.Time
}

func newSeenCache(ttl time.Duration, maxSize int) *seenCache {
	return &seenCache{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// CheckAndMark returns true if key was seen within ttl. Otherwise it records
// key and returns false.
func (c *seenCache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.pruneLocked(now)

	if _, ok := c.seen[key]; ok {
		return true
	}
	for len(c.seen) >= c.maxSize && c.order.Len() > 0 {
		c.removeLocked(c.order.Front())
	}
	c.seen[key] = c.order.PushBack(seenEntry{key: key, at: now})
	return false
}

// Forget drops key so its next delivery is treated as new.
func (c *seenCache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.seen[key]; ok {
		c.removeLocked(el)
	}
}

func (c *seenCache) pruneLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if now.Sub(front.Value.(seenEntry).at) < c.ttl {
			return
		}
		c.removeLocked(front)
	}
}

func (c *seenCache) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.seen, el.Value.(seenEntry).key)
}
