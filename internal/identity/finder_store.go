package identity

import (
	"context"

	"github.com/pkg/errors"

	"github.com/iurnickita/cardterminal/internal/model"
	"github.com/iurnickita/cardterminal/internal/store"
)

// CardStore is the part of the local database the store finder reads.
type CardStore interface {
	CardUserGet(ctx context.Context, card model.CardID) (model.Identity, error)
	CardUserPut(ctx context.Context, card model.CardID, identity model.Identity) error
	CardUserList(ctx context.Context) (map[model.CardID]model.Identity, error)
}

// StoreFinder looks cards up in the local card table.
type StoreFinder struct {
	store CardStore
}

func NewStoreFinder(store CardStore) *StoreFinder {
	return &StoreFinder{store: store}
}

func (f *StoreFinder) Name() string {
	return "store"
}

func (f *StoreFinder) Search(ctx context.Context, card model.CardID) (model.Identity, error) {
	identity, err := f.store.CardUserGet(ctx, card)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.Identity{}, ErrNotFound
		}
		return model.Identity{}, errors.Wrapf(err, "store finder: card %s", card)
	}
	return identity, nil
}

func (f *StoreFinder) Prefetch(ctx context.Context, visit func(model.CardID, model.Identity)) error {
	cards, err := f.store.CardUserList(ctx)
	if err != nil {
		return errors.Wrap(err, "store finder: list cards")
	}
	for card, identity := range cards {
		visit(card, identity)
	}
	return nil
}

func (f *StoreFinder) Enroll(ctx context.Context, card model.CardID, identity model.Identity) error {
	return errors.Wrapf(f.store.CardUserPut(ctx, card, identity), "store finder: enroll card %s", card)
}
