package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iurnickita/cardterminal/internal/model"
)

func testStoreCards(t *testing.T, store Store) {
	const card = model.CardID(40021)
	ctx := context.Background()

	// неизвестная карта
	_, err := store.CardUserGet(ctx, card)
	require.ErrorIs(t, err, ErrNoRows)

	err = store.CardUserPut(ctx, card, model.Identity{Key: "u-1", Name: "Simon"})
	require.NoError(t, err)

	identity, err := store.CardUserGet(ctx, card)
	require.NoError(t, err)
	require.Equal(t, model.Identity{Key: "u-1", Name: "Simon"}, identity)

	// перепривязка карты
	err = store.CardUserPut(ctx, card, model.Identity{Key: "u-2", Name: "Ada"})
	require.NoError(t, err)

	cards, err := store.CardUserList(ctx)
	require.NoError(t, err)
	require.Equal(t, model.Identity{Key: "u-2", Name: "Ada"}, cards[card])
}

func testStoreOrders(t *testing.T, store Store) {
	const number = "79927398713"
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	// Создание заказа
	var order model.Order
	order.Number = number
	order.Data.Session = "kiosk-1"
	order.Data.State = model.OrderStateCreated
	order.Data.CreatedAt = now
	order.Data.UpdatedAt = now
	require.NoError(t, store.OrderPost(ctx, order))
	require.ErrorIs(t, store.OrderPost(ctx, order), ErrAlreadyExists)

	// Чтение заказа
	dbOrder, err := store.OrderGet(ctx, number)
	require.NoError(t, err)
	require.Equal(t, order.Data.State, dbOrder.Data.State)
	require.Nil(t, dbOrder.Data.Identity)

	// Обновление заказа
	order.Data.State = model.OrderStateBound
	order.Data.Identity = &model.Identity{Key: "u-1", Name: "Simon"}
	order.Data.UpdatedAt = now.Add(time.Second)
	require.NoError(t, store.OrderPut(ctx, order))

	dbOrder, err = store.OrderGet(ctx, number)
	require.NoError(t, err)
	require.Equal(t, model.OrderStateBound, dbOrder.Data.State)
	require.Equal(t, order.Data.Identity, dbOrder.Data.Identity)
	require.Equal(t, "kiosk-1", dbOrder.Data.Session)

	_, err = store.OrderGet(ctx, "0")
	require.ErrorIs(t, err, ErrNoRows)
	order.Number = "0"
	require.ErrorIs(t, store.OrderPut(ctx, order), ErrNoRows)
}
