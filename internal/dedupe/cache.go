// ABOUTME: Suppresses duplicate task submissions inside a sliding window
// ABOUTME: Keyed on normalized description plus priority, bounded in size

package dedupe

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// submission records when a submission key was last accepted.
type submission struct {
	at   time.Time
	elem *list.Element
}

// Cache remembers recently accepted task submissions so the gateway can
// reject a client retry or double-submit instead of enqueueing the same
// work twice. Entries expire after the window; at capacity the oldest is
// dropped so memory stays bounded whatever clients do.
type Cache struct {
	mu      sync.Mutex
	window  time.Duration
	maxSize int
	recent  map[string]*submission
	order   *list.List // submission keys, oldest at front
	done    chan struct{}
	closed  bool
	now     func() time.Time
}

// New creates a submission cache with the given suppression window and
// entry cap. A background sweeper drops expired entries; call Close to
// stop it.
func New(window time.Duration, maxSize int) *Cache {
	c := newCache(window, maxSize)
	go c.sweepLoop()
	return c
}

// newCache builds a cache without starting the sweeper.
func newCache(window time.Duration, maxSize int) *Cache {
	return &Cache{
		window:  window,
		maxSize: maxSize,
		recent:  make(map[string]*submission),
		order:   list.New(),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// submissionKey normalizes a submission so trivially restated retries
// collapse onto one key. Priority is part of the key: resubmitting the
// same description at a different priority is a distinct request.
func submissionKey(description, priority string) string {
	return strings.ToLower(strings.TrimSpace(description)) + "|" + priority
}

// Seen reports whether an equivalent submission was accepted inside the
// window, and if not, records this one. Check and record happen under one
// lock so two racing identical submissions can never both pass.
func (c *Cache) Seen(description, priority string) bool {
	key := submissionKey(description, priority)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if sub, ok := c.recent[key]; ok {
		if now.Sub(sub.at) < c.window {
			return true
		}
		// Expired entry: this submission re-arms the window.
		sub.at = now
		c.order.MoveToBack(sub.elem)
		return false
	}

	if len(c.recent) >= c.maxSize {
		c.dropOldest()
	}
	c.recent[key] = &submission{at: now, elem: c.order.PushBack(key)}
	return false
}

// dropOldest removes the oldest entry. Caller must hold the lock.
func (c *Cache) dropOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.recent, key)
}

// sweepLoop periodically clears expired entries so keys that are never
// resubmitted do not linger until eviction.
func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes every entry older than the window.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, sub := range c.recent {
		if now.Sub(sub.at) >= c.window {
			c.order.Remove(sub.elem)
			delete(c.recent, key)
		}
	}
}

// Close stops the background sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
