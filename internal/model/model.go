package model

import (
	"strconv"
	"time"
)

// Карты и пользователи

// CardID is the integer read from a physical card.
type CardID uint64

func (c CardID) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// Identity references a user record of an external system.
// Two identities are the same user when their keys match.
type Identity struct {
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}

func (i Identity) Equal(other Identity) bool {
	return i.Key == other.Key
}

func (i Identity) IsZero() bool {
	return i.Key == ""
}

// Заказы киоска

type Order struct {
	Number string
	Data   OrderData
}
type OrderData struct {
	Session   string
	State     string
	Identity  *Identity
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	OrderStateCreated      = "CREATED"
	OrderStateAwaitingCard = "AWAITING_CARD"
	OrderStateBound        = "BOUND"
	OrderStateFinalized    = "FINALIZED"
	OrderStateAbandoned    = "ABANDONED"
)

const (
	AbandonReasonCancelled = "cancelled"
	AbandonReasonNoCard    = "no card presented"
)

// IsTerminal reports whether no further transition is possible from state.
func IsTerminal(state string) bool {
	return state == OrderStateFinalized || state == OrderStateAbandoned
}

// События для дисплея киоска

type InsertionEvent struct {
	ID       string
	Session  string
	Card     CardID
	Resolved bool
	Identity *Identity
	Order    string
	At       time.Time
}

type OrderEvent struct {
	Number string
	State  string
	Reason string
	At     time.Time
}

const (
	NotificationKindCard  = "card"
	NotificationKindOrder = "order"
)

// Notification is the unit queued by the event bridge for a kiosk session.
// Exactly one of Insertion and Order is set, matching Kind.
type Notification struct {
	Kind      string
	Insertion *InsertionEvent
	Order     *OrderEvent
}

func CardNotification(event InsertionEvent) Notification {
	return Notification{Kind: NotificationKindCard, Insertion: &event}
}

func OrderNotification(event OrderEvent) Notification {
	return Notification{Kind: NotificationKindOrder, Order: &event}
}
