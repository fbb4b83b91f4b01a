package identity

import (
	"context"

	"github.com/pkg/errors"

	"github.com/iurnickita/cardterminal/internal/model"
)

// Finder is one identity source consulted by the chain.
//
// Search returns ErrNotFound when the source does not know the card. Any
// other error means the source could not answer; the chain moves on.
type Finder interface {
	Name() string
	Search(ctx context.Context, card model.CardID) (model.Identity, error)
}

// Prefetcher is implemented by finders that can enumerate their cards so
// the cache can be warmed at startup.
type Prefetcher interface {
	Prefetch(ctx context.Context, visit func(model.CardID, model.Identity)) error
}

// Enroller is implemented by finders whose backing source accepts new cards.
type Enroller interface {
	Enroll(ctx context.Context, card model.CardID, identity model.Identity) error
}

var (
	ErrNotFound    = errors.New("card not found")
	ErrUnavailable = errors.New("finder unavailable")
	ErrEmptyChain  = errors.New("identity chain has no finders")
	ErrNoEnroller  = errors.New("no finder accepts enrolments")
)
