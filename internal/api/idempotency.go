package api

import (
	"strconv"
	"sync"

	"github.com/ipfs/go-cid"
)

// idempotencyCache de-duplicates POST /events/append calls by
// (pi, ver, tip_cid), so a client retry after a lost response doesn't
// append the same event twice (spec §4.8). It is intentionally
// unbounded for the process lifetime: the event set it tracks is the
// same one already held durably in the event chain, so memory growth
// tracks total event count, not request volume.
type idempotencyCache struct {
	mu   sync.Mutex
	seen map[string]cid.Cid
}

func newIdempotencyCache() *idempotencyCache {
	return &idempotencyCache{seen: make(map[string]cid.Cid)}
}

func idempotencyKey(pi string, ver int, tipCID string) string {
	return pi + "|" + strconv.Itoa(ver) + "|" + tipCID
}

func (c *idempotencyCache) get(key string) (cid.Cid, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.seen[key]
	return v, ok
}

func (c *idempotencyCache) put(key string, v cid.Cid) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[key] = v
}
