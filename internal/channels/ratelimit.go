package channels

import (
	"sync"
	"time"
)

const (
	// maxTrackedKeys caps the number of tracked senders across all channels.
	maxTrackedKeys = 4096

	rateLimitWindow = 60 * time.Second

	// DefaultRateLimitMaxHits is the max inbound events per sender within a window.
	DefaultRateLimitMaxHits = 30
)

type senderWindow struct {
	start time.Time
	hits  int
}

// WebhookRateLimiter bounds inbound webhook events per channel sender and
// counts the events it rejected per channel. One limiter is shared by all
// channels; senders of different channels never share a window.
// Safe for concurrent use.
type WebhookRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*senderWindow // "channel:sender"
	dropped map[string]int           // channel -> rejected events
	maxHits int
	now     func() time.Time
}

// NewWebhookRateLimiter creates a limiter allowing maxHits events per sender
// per minute. Non-positive maxHits uses the default.
func NewWebhookRateLimiter(maxHits int) *WebhookRateLimiter {
	if maxHits <= 0 {
		maxHits = DefaultRateLimitMaxHits
	}
	return &WebhookRateLimiter{
		windows: make(map[string]*senderWindow),
		dropped: make(map[string]int),
		maxHits: maxHits,
		now:     time.Now,
	}
}

// Allow reports whether senderID of channel is within its window and
// records the event.
func (r *WebhookRateLimiter) Allow(channel, senderID string) bool {
	key := channel + ":" + senderID

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[key]
	if !ok || now.Sub(w.start) >= rateLimitWindow {
		if !ok && len(r.windows) >= maxTrackedKeys {
			r.evict(now)
		}
		r.windows[key] = &senderWindow{start: now, hits: 1}
		return true
	}

	w.hits++
	if w.hits > r.maxHits {
		r.dropped[channel]++
		return false
	}
	return true
}

// evict drops expired windows, then the oldest one if the table is still full.
func (r *WebhookRateLimiter) evict(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, w := range r.windows {
		if now.Sub(w.start) >= rateLimitWindow {
			delete(r.windows, k)
			continue
		}
		if oldestKey == "" || w.start.Before(oldest) {
			oldestKey, oldest = k, w.start
		}
	}
	if len(r.windows) >= maxTrackedKeys {
		delete(r.windows, oldestKey)
	}
}

// Dropped returns how many events of channel were rejected so far.
func (r *WebhookRateLimiter) Dropped(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped[channel]
}

// Tracked returns the number of sender windows currently held.
func (r *WebhookRateLimiter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}
