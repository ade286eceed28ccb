package execution

import (
	"sync"
	"time"

	"cbtrader/internal/core"
)

// GhostCache is a 60-s TTL set of recently-canceled order ids: exchange
// eventual consistency can return a canceled order for up to ~60 s after
// cancel, and without this filter a stale read would look like a
// still-pending order.
type GhostCache struct {
	mu      sync.Mutex
	entries map[string]time.Time // id -> expiry
	ttl     time.Duration
	clock   core.Clock
}

// NewGhostCache builds a cache with the given TTL. clock defaults to
// core.SystemClock{} when nil.
func NewGhostCache(ttl time.Duration, clock core.Clock) *GhostCache {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &GhostCache{entries: make(map[string]time.Time), ttl: ttl, clock: clock}
}

// Add marks id as recently canceled, starting its TTL window. A blank id
// is ignored (an order canceled before receiving an exchange_order_id has
// nothing to mark).
func (g *GhostCache) Add(id string) {
	if id == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[id] = g.clock.Now().Add(g.ttl)
}

// IsGhost reports whether id is within its TTL window, lazily evicting it
// once expired.
func (g *GhostCache) IsGhost(id string) bool {
	if id == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	expiry, ok := g.entries[id]
	if !ok {
		return false
	}
	if g.clock.Now().After(expiry) {
		delete(g.entries, id)
		return false
	}
	return true
}

// Filter drops any order whose client or exchange order id is a live
// ghost entry.
func (g *GhostCache) Filter(orders []core.Order) []core.Order {
	out := make([]core.Order, 0, len(orders))
	for _, o := range orders {
		if g.IsGhost(o.ClientOrderID) || g.IsGhost(o.ExchangeOrderID) {
			continue
		}
		out = append(out, o)
	}
	return out
}
