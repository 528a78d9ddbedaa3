// ABOUTME: Bounded TTL set of recently seen delivery ids.
// ABOUTME: Drops chat-update and webhook redeliveries before they are processed twice.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type item struct {
	key  string
	seen time.Time
}

// Cache remembers keys for a TTL, holding at most maxSize of them.
// The oldest key is evicted first when full.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // front is oldest
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts its sweeper.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	c := &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.sweep(time.Minute)
	return c
}

// Seen marks key and reports whether it was already marked within the TTL.
// The check and the mark happen under one lock.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.index[key]; ok {
		it, _ := el.Value.(*item)
		if now.Sub(it.seen) < c.ttl {
			return true
		}
		it.seen = now
		c.order.MoveToBack(el)
		return false
	}

	for len(c.index) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.index[key] = c.order.PushBack(&item{key: key, seen: now})
	return false
}

// Forget unmarks key so a later delivery is processed again.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.removeLocked(el)
	}
}

// Len returns the number of tracked keys, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	it, _ := el.Value.(*item)
	c.order.Remove(el)
	delete(c.index, it.key)
}

func (c *Cache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.expire()
		case <-c.stop:
			return
		}
	}
}

// expire drops keys older than the TTL. Insertion order means it can stop at
// the first fresh key.
func (c *Cache) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		it, _ := el.Value.(*item)
		if now.Sub(it.seen) < c.ttl {
			return
		}
		c.removeLocked(el)
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
