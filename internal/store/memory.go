package store

import (
	"context"
	"sync"

	"github.com/iurnickita/cardterminal/internal/model"
)

// memStore keeps cards and orders in process memory. It backs the reader
// simulator and tests; state is lost on restart.
type memStore struct {
	mu     sync.RWMutex
	cards  map[model.CardID]model.Identity
	orders map[string]model.Order
}

func NewMemStore() Store {
	return &memStore{
		cards:  make(map[model.CardID]model.Identity),
		orders: make(map[string]model.Order),
	}
}

func (s *memStore) Close() error {
	return nil
}

func (s *memStore) CardUserGet(_ context.Context, card model.CardID) (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.cards[card]
	if !ok {
		return model.Identity{}, ErrNoRows
	}
	return identity, nil
}

func (s *memStore) CardUserPut(_ context.Context, card model.CardID, identity model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[card] = identity
	return nil
}

func (s *memStore) CardUserList(_ context.Context) (map[model.CardID]model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cards := make(map[model.CardID]model.Identity, len(s.cards))
	for card, identity := range s.cards {
		cards[card] = identity
	}
	return cards, nil
}

func (s *memStore) OrderPost(_ context.Context, order model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.Number]; ok {
		return ErrAlreadyExists
	}
	s.orders[order.Number] = copyOrder(order)
	return nil
}

func (s *memStore) OrderPut(_ context.Context, order model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.Number]; !ok {
		return ErrNoRows
	}
	s.orders[order.Number] = copyOrder(order)
	return nil
}

func (s *memStore) OrderGet(_ context.Context, number string) (model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[number]
	if !ok {
		return model.Order{}, ErrNoRows
	}
	return copyOrder(order), nil
}

func copyOrder(order model.Order) model.Order {
	if order.Data.Identity != nil {
		identity := *order.Data.Identity
		order.Data.Identity = &identity
	}
	return order
}
