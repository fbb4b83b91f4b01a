package identity

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/iurnickita/cardterminal/internal/identity/config"
	"github.com/iurnickita/cardterminal/internal/metrics"
	"github.com/iurnickita/cardterminal/internal/model"
)

var tracer = otel.Tracer("identity")

// Resolver turns a card into the identity of its owner.
type Resolver interface {
	Resolve(ctx context.Context, card model.CardID) (model.Identity, bool)
}

// Chain is the cache in front of an ordered list of finders. The first
// finder that knows the card wins and its answer is cached; unknown cards
// are never cached so a freshly enrolled card resolves on the next tap.
type Chain struct {
	cache   *Cache
	finders []Finder
	timeout time.Duration
	group   singleflight.Group
	zaplog  *zap.Logger
	metrics *metrics.Metrics
}

func NewChain(cfg config.Config, cache *Cache, finders []Finder, zaplog *zap.Logger, m *metrics.Metrics) (*Chain, error) {
	if len(finders) == 0 {
		return nil, ErrEmptyChain
	}
	if cache == nil {
		cache = NewCache(cfg.CacheTTL, cfg.CacheShards)
	}
	timeout := cfg.FinderTimeout
	if timeout <= 0 {
		timeout = config.Default().FinderTimeout
	}

	names := make([]string, 0, len(finders))
	for _, finder := range finders {
		names = append(names, finder.Name())
	}
	zaplog.Info("identity chain ready",
		zap.Strings("finders", names),
		zap.Duration("cacheTTL", cache.TTL()),
	)

	return &Chain{
		cache:   cache,
		finders: finders,
		timeout: timeout,
		zaplog:  zaplog,
		metrics: m,
	}, nil
}

func (c *Chain) Resolve(ctx context.Context, card model.CardID) (model.Identity, bool) {
	ctx, span := tracer.Start(ctx, "Identity.Chain.Resolve",
		trace.WithAttributes(attribute.String("card", card.String())))
	defer span.End()

	if identity, ok := c.cache.Get(card); ok {
		c.metrics.CacheHit()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		c.zaplog.Debug("card in cache", zap.Stringer("card", card), zap.String("user", identity.Key))
		return identity, true
	}
	c.metrics.CacheMiss()
	span.SetAttributes(attribute.Bool("cache.hit", false))

	// одновременные касания одной и той же карты проходят цепочку один раз
	v, _, _ := c.group.Do(card.String(), func() (interface{}, error) {
		identity, ok := c.search(ctx, card)
		if !ok {
			return nil, nil
		}
		c.cache.Put(card, identity)
		return identity, nil
	})

	identity, ok := v.(model.Identity)
	span.SetAttributes(attribute.Bool("resolved", ok))
	return identity, ok
}

func (c *Chain) search(ctx context.Context, card model.CardID) (model.Identity, bool) {
	for _, finder := range c.finders {
		identity, err := c.searchOne(ctx, finder, card)
		switch {
		case err == nil && !identity.IsZero():
			c.zaplog.Info("card resolved",
				zap.Stringer("card", card),
				zap.String("finder", finder.Name()),
				zap.String("user", identity.Key),
			)
			return identity, true
		case err == nil, errors.Is(err, ErrNotFound):
			c.zaplog.Debug("card unknown to finder", zap.Stringer("card", card), zap.String("finder", finder.Name()))
		default:
			// недоступный источник не мешает опросить следующий
			c.metrics.FinderError(finder.Name())
			c.zaplog.Warn("finder failed, trying next",
				zap.Stringer("card", card),
				zap.String("finder", finder.Name()),
				zap.Error(err),
			)
		}
	}
	c.zaplog.Info("card not recognized", zap.Stringer("card", card))
	return model.Identity{}, false
}

func (c *Chain) searchOne(ctx context.Context, finder Finder, card model.CardID) (identity model.Identity, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "Identity.Finder.Search",
		trace.WithAttributes(attribute.String("finder", finder.Name())))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("finder %s panicked: %v", finder.Name(), r)
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
		}
	}()

	return finder.Search(ctx, card)
}

// Prefetch warms the cache from every finder able to list its cards.
func (c *Chain) Prefetch(ctx context.Context) (int, error) {
	var (
		count int
		errs  error
	)
	for _, finder := range c.finders {
		prefetcher, ok := finder.(Prefetcher)
		if !ok {
			c.zaplog.Info("finder does not support prefetching", zap.String("finder", finder.Name()))
			continue
		}
		err := prefetcher.Prefetch(ctx, func(card model.CardID, identity model.Identity) {
			c.cache.Put(card, identity)
			count++
		})
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	c.zaplog.Info("prefetch finished", zap.Int("cards", count), zap.Error(errs))
	return count, errs
}

// Enroll writes the card to every finder that accepts enrolments and
// refreshes the cache entry.
func (c *Chain) Enroll(ctx context.Context, card model.CardID, identity model.Identity) error {
	var (
		enrolled int
		errs     error
	)
	for _, finder := range c.finders {
		enroller, ok := finder.(Enroller)
		if !ok {
			continue
		}
		if err := enroller.Enroll(ctx, card, identity); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		enrolled++
	}
	if enrolled == 0 && errs == nil {
		return ErrNoEnroller
	}
	if enrolled > 0 {
		c.cache.Put(card, identity)
		c.zaplog.Info("card enrolled", zap.Stringer("card", card), zap.String("user", identity.Key))
	}
	return errs
}
