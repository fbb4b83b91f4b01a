package identity

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/iurnickita/cardterminal/internal/model"
)

// Cache memoizes card → identity for a fixed TTL. Expired entries read as
// misses; nothing sweeps them in the background, the next Put overwrites.
//
// Cards are spread over independent shards so taps of unrelated cards do
// not contend on one lock.
type Cache struct {
	shards []*gocache.Cache
	ttl    time.Duration
}

func NewCache(ttl time.Duration, shards int) *Cache {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	if shards <= 0 {
		shards = 1
	}
	c := &Cache{
		shards: make([]*gocache.Cache, shards),
		ttl:    ttl,
	}
	for i := range c.shards {
		// cleanupInterval 0: без janitor, истечение проверяется при чтении
		c.shards[i] = gocache.New(ttl, 0)
	}
	return c
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) Get(card model.CardID) (model.Identity, bool) {
	v, found := c.shard(card).Get(card.String())
	if !found {
		return model.Identity{}, false
	}
	identity, ok := v.(model.Identity)
	return identity, ok
}

func (c *Cache) Put(card model.CardID, identity model.Identity) {
	c.shard(card).Set(card.String(), identity, gocache.DefaultExpiration)
}

func (c *Cache) shard(card model.CardID) *gocache.Cache {
	// соседние номера карт попадают в разные шарды
	h := uint64(card) * 0x9E3779B97F4A7C15
	return c.shards[(h>>32)%uint64(len(c.shards))]
}
