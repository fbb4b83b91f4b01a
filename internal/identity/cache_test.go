package identity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iurnickita/cardterminal/internal/model"
)

func TestCacheGetPut(t *testing.T) {
	cache := NewCache(time.Hour, 4)

	_, ok := cache.Get(40021)
	require.False(t, ok)

	cache.Put(40021, model.Identity{Key: "u-1", Name: "Simon"})

	identity, ok := cache.Get(40021)
	require.True(t, ok)
	require.Equal(t, "u-1", identity.Key)

	// одна живая запись на карту
	cache.Put(40021, model.Identity{Key: "u-2"})
	identity, ok = cache.Get(40021)
	require.True(t, ok)
	require.Equal(t, "u-2", identity.Key)
}

func TestCacheExpiresLazily(t *testing.T) {
	cache := NewCache(30*time.Millisecond, 2)
	cache.Put(7, model.Identity{Key: "u-7"})

	time.Sleep(60 * time.Millisecond)

	_, ok := cache.Get(7)
	require.False(t, ok, "expired entry must read as a miss")

	cache.Put(7, model.Identity{Key: "u-8"})
	identity, ok := cache.Get(7)
	require.True(t, ok)
	require.Equal(t, "u-8", identity.Key)
}

func TestCacheDefaults(t *testing.T) {
	cache := NewCache(0, 0)
	assert.Equal(t, 8*time.Hour, cache.TTL())
	assert.Len(t, cache.shards, 1)
}

func TestCacheSpreadsSequentialCards(t *testing.T) {
	cache := NewCache(time.Hour, 8)
	used := map[interface{}]bool{}
	for card := model.CardID(1000); card < 1064; card++ {
		used[cache.shard(card)] = true
	}
	assert.Greater(t, len(used), 1)
}

func TestCacheConcurrentAccess(t *testing.T) {
	cache := NewCache(time.Hour, 16)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				card := model.CardID(i % 50)
				cache.Put(card, model.Identity{Key: card.String()})
				identity, ok := cache.Get(card)
				if ok {
					assert.Equal(t, card.String(), identity.Key)
				}
			}
		}(w)
	}
	wg.Wait()
}
