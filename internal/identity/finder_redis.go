package identity

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/iurnickita/cardterminal/internal/model"
)

// RedisFinder reads a card directory shared between terminal processes.
// Each card is a key "<prefix>:card:<id>" holding a JSON identity.
type RedisFinder struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisFinder(rdb *redis.Client, prefix string) *RedisFinder {
	if prefix == "" {
		prefix = "cardterminal"
	}
	return &RedisFinder{rdb: rdb, prefix: prefix}
}

func NewRedis(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (f *RedisFinder) Name() string {
	return "redis"
}

func (f *RedisFinder) key(card model.CardID) string {
	return f.prefix + ":card:" + card.String()
}

func (f *RedisFinder) Search(ctx context.Context, card model.CardID) (model.Identity, error) {
	raw, err := f.rdb.Get(ctx, f.key(card)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Identity{}, ErrNotFound
		}
		return model.Identity{}, errors.Wrapf(err, "redis finder: card %s", card)
	}

	var identity model.Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return model.Identity{}, errors.Wrapf(err, "redis finder: decode card %s", card)
	}
	if identity.IsZero() {
		return model.Identity{}, ErrNotFound
	}
	return identity, nil
}

func (f *RedisFinder) Enroll(ctx context.Context, card model.CardID, identity model.Identity) error {
	raw, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	return errors.Wrapf(f.rdb.Set(ctx, f.key(card), raw, 0).Err(), "redis finder: enroll card %s", card)
}
