package githubevent

import (
	"sync"
	"time"
)

// DeliveryWindow is how long delivery IDs are remembered. GitHub retries
// within minutes.
const DeliveryWindow = time.Hour

// Deduper remembers recently seen X-GitHub-Delivery IDs.
type Deduper struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewDeduper returns a Deduper with the given window (DeliveryWindow if zero).
func NewDeduper(window time.Duration) *Deduper {
	if window <= 0 {
		window = DeliveryWindow
	}
	return &Deduper{window: window, seen: make(map[string]time.Time), now: time.Now}
}

// Seen records id and reports whether it was already recorded within the
// window. Expired entries are pruned on every call.
func (d *Deduper) Seen(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) > d.window {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = now
	return false
}

// Forget drops id so a later redelivery is processed again.
func (d *Deduper) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}
