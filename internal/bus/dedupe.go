package bus

import (
	"sync"
	"time"
)

// DedupeCache suppresses repeat deliveries of the same inbound message
// (webhook retries, double-taps) within a TTL window. Grounded on the
// teacher's bus.NewDedupeCache.
type DedupeCache struct {
	ttl time.Duration
	max int

	mu      sync.Mutex
	seen    map[string]time.Time
	order   []string // insertion order, for eviction once max is exceeded
}

// NewDedupeCache constructs a cache that forgets a key after ttl and
// never holds more than max entries (oldest evicted first).
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	return &DedupeCache{ttl: ttl, max: max, seen: make(map[string]time.Time)}
}

// IsDuplicate reports whether key has been seen within the TTL window.
// A key that is not a duplicate is recorded as seen now; a duplicate
// hit leaves the key's original timestamp unchanged.
func (d *DedupeCache) IsDuplicate(key string) bool {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictExpiredLocked(now)

	if seenAt, ok := d.seen[key]; ok && now.Sub(seenAt) < d.ttl {
		return true
	}

	if _, ok := d.seen[key]; !ok {
		d.order = append(d.order, key)
		if d.max > 0 && len(d.order) > d.max {
			oldest := d.order[0]
			d.order = d.order[1:]
			delete(d.seen, oldest)
		}
	}
	d.seen[key] = now
	return false
}

func (d *DedupeCache) evictExpiredLocked(now time.Time) {
	cut := 0
	for _, k := range d.order {
		if now.Sub(d.seen[k]) >= d.ttl {
			delete(d.seen, k)
			cut++
			continue
		}
		break
	}
	if cut > 0 {
		d.order = d.order[cut:]
	}
}
