// Package gate tracks a kiosk order from creation until it is bound to the
// identity of a card holder and checked out.
//
//	CREATED → AWAITING_CARD → BOUND → FINALIZED
//	any non-terminal state → ABANDONED (cancel, or no card within the timeout)
//
// The gate is the source of truth for order state; kiosk notifications only
// shorten the time until the front end notices a change.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/theplant/luhn"
	"go.uber.org/zap"

	"github.com/iurnickita/cardterminal/internal/gate/config"
	"github.com/iurnickita/cardterminal/internal/metrics"
	"github.com/iurnickita/cardterminal/internal/model"
	"github.com/iurnickita/cardterminal/internal/store"
)

type Gate interface {
	CreateOrder(ctx context.Context, number string, session string) (model.Order, error)
	AwaitCard(ctx context.Context, number string) (model.Order, error)
	// Bind также сообщает, перевела ли привязку именно эта карта
	Bind(ctx context.Context, session string, identity model.Identity) (model.Order, bool, error)
	BindOrder(ctx context.Context, number string, identity model.Identity) (model.Order, error)
	Finalize(ctx context.Context, number string) (model.Order, error)
	Cancel(ctx context.Context, number string) (model.Order, error)
	GetOrderState(ctx context.Context, number string) (model.Order, error)
	Close()
}

var (
	ErrInsufficientData    = errors.New("insufficient data")
	ErrUnprocessableEntity = errors.New("unprocessable entity")
	ErrAlreadyExists       = errors.New("already exists")
	ErrNotFound            = errors.New("order not found")
	ErrSessionBusy         = errors.New("session already has an order awaiting a card")
	ErrNoAwaitingOrder     = errors.New("no order awaiting a card")
	ErrRejectedTransition  = errors.New("rejected transition")
)

// TransitionError is returned when an order is asked to move to a state it
// cannot reach from its current one, e.g. a late tap after checkout.
type TransitionError struct {
	Number string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: %s → %s not allowed", e.Number, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrRejectedTransition
}

// Repository persists every transition before the gate makes it visible.
type Repository interface {
	OrderPost(ctx context.Context, order model.Order) error
	OrderPut(ctx context.Context, order model.Order) error
	OrderGet(ctx context.Context, number string) (model.Order, error)
}

var transitions = map[string][]string{
	model.OrderStateCreated:      {model.OrderStateAwaitingCard, model.OrderStateAbandoned},
	model.OrderStateAwaitingCard: {model.OrderStateBound, model.OrderStateAbandoned},
	model.OrderStateBound:        {model.OrderStateFinalized, model.OrderStateAbandoned},
}

func allowed(from, to string) bool {
	for _, state := range transitions[from] {
		if state == to {
			return true
		}
	}
	return false
}

type Option func(*gate)

// WithAbandonHook is called, outside the gate lock, for every order the
// timeout abandons.
func WithAbandonHook(hook func(model.Order)) Option {
	return func(g *gate) {
		g.onAbandon = hook
	}
}

type gate struct {
	cfg     config.Config
	repo    Repository
	zaplog  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	onAbandon func(model.Order)

	mu sync.Mutex
	// незавершённые заказы; завершённые читаются из репозитория
	orders map[string]*model.Order
	// текущий заказ сессии (ждёт карту или уже привязан)
	current map[string]string
	timers  map[string]*time.Timer
}

func NewGate(cfg config.Config, repo Repository, zaplog *zap.Logger, m *metrics.Metrics, opts ...Option) Gate {
	g := &gate{
		cfg:     cfg,
		repo:    repo,
		zaplog:  zaplog,
		metrics: m,
		now:     time.Now,
		orders:  make(map[string]*model.Order),
		current: make(map[string]string),
		timers:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *gate) CreateOrder(ctx context.Context, number string, session string) (model.Order, error) {
	if number == "" || session == "" {
		return model.Order{}, ErrInsufficientData
	}
	// Проверка по алгоритму Луна
	n, err := strconv.ParseUint(number, 10, 63)
	if err != nil || !luhn.Valid(int(n)) {
		return model.Order{}, ErrUnprocessableEntity
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.orders[number]; ok {
		return model.Order{}, ErrAlreadyExists
	}

	now := g.now()
	var newOrder model.Order
	newOrder.Number = number
	newOrder.Data.Session = session
	newOrder.Data.State = model.OrderStateCreated
	newOrder.Data.CreatedAt = now
	newOrder.Data.UpdatedAt = now

	err = g.repo.OrderPost(ctx, newOrder)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return model.Order{}, ErrAlreadyExists
		}
		return model.Order{}, err
	}

	g.orders[number] = &newOrder
	g.metrics.Transition(model.OrderStateCreated)
	g.zaplog.Info("order created", zap.String("order", number), zap.String("session", session))
	return copyOrder(newOrder), nil
}

func (g *gate) AwaitCard(ctx context.Context, number string) (model.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, err := g.lookup(ctx, number)
	if err != nil {
		return model.Order{}, err
	}
	if order.Data.State != model.OrderStateCreated {
		return model.Order{}, &TransitionError{Number: number, From: order.Data.State, To: model.OrderStateAwaitingCard}
	}
	if busy, ok := g.current[order.Data.Session]; ok && busy != number {
		if other, ok := g.orders[busy]; ok && other.Data.State == model.OrderStateAwaitingCard {
			return model.Order{}, ErrSessionBusy
		}
	}

	result, err := g.transition(ctx, order, model.OrderStateAwaitingCard, "")
	if err != nil {
		return model.Order{}, err
	}
	g.current[order.Data.Session] = number
	g.startTimer(number)
	return result, nil
}

func (g *gate) Bind(ctx context.Context, session string, identity model.Identity) (model.Order, bool, error) {
	if identity.IsZero() {
		return model.Order{}, false, ErrInsufficientData
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	number, ok := g.current[session]
	if !ok {
		return model.Order{}, false, ErrNoAwaitingOrder
	}
	order, ok := g.orders[number]
	if !ok {
		delete(g.current, session)
		return model.Order{}, false, ErrNoAwaitingOrder
	}
	return g.bind(ctx, order, identity)
}

func (g *gate) BindOrder(ctx context.Context, number string, identity model.Identity) (model.Order, error) {
	if identity.IsZero() {
		return model.Order{}, ErrInsufficientData
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	order, err := g.lookup(ctx, number)
	if err != nil {
		return model.Order{}, err
	}
	bound, _, err := g.bind(ctx, order, identity)
	return bound, err
}

// bind возвращает true, только если заказ перешёл AWAITING_CARD → BOUND
func (g *gate) bind(ctx context.Context, order *model.Order, identity model.Identity) (model.Order, bool, error) {
	switch order.Data.State {
	case model.OrderStateBound:
		// повторная привязка ничего не меняет
		if !order.Data.Identity.Equal(identity) {
			g.zaplog.Info("order already bound to another user, keeping binding",
				zap.String("order", order.Number),
				zap.String("bound", order.Data.Identity.Key),
				zap.String("tapped", identity.Key),
			)
		}
		return copyOrder(*order), false, nil
	case model.OrderStateAwaitingCard:
		g.stopTimer(order.Number)
		bound := identity
		result, err := g.transitionWith(ctx, order, model.OrderStateBound, "", &bound)
		if err != nil {
			return model.Order{}, false, err
		}
		return result, true, nil
	default:
		return model.Order{}, false, &TransitionError{Number: order.Number, From: order.Data.State, To: model.OrderStateBound}
	}
}

func (g *gate) Finalize(ctx context.Context, number string) (model.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, err := g.lookup(ctx, number)
	if err != nil {
		return model.Order{}, err
	}
	if !allowed(order.Data.State, model.OrderStateFinalized) {
		return model.Order{}, &TransitionError{Number: number, From: order.Data.State, To: model.OrderStateFinalized}
	}
	return g.transition(ctx, order, model.OrderStateFinalized, "")
}

func (g *gate) Cancel(ctx context.Context, number string) (model.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, err := g.lookup(ctx, number)
	if err != nil {
		return model.Order{}, err
	}
	if !allowed(order.Data.State, model.OrderStateAbandoned) {
		return model.Order{}, &TransitionError{Number: number, From: order.Data.State, To: model.OrderStateAbandoned}
	}
	g.stopTimer(number)
	return g.transition(ctx, order, model.OrderStateAbandoned, model.AbandonReasonCancelled)
}

func (g *gate) GetOrderState(ctx context.Context, number string) (model.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, err := g.lookup(ctx, number)
	if err != nil {
		return model.Order{}, err
	}
	return copyOrder(*order), nil
}

func (g *gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for number := range g.timers {
		g.stopTimer(number)
	}
}

// lookup returns the live order or loads it from the repository. Loaded
// non-terminal orders become live again, e.g. after a restart.
func (g *gate) lookup(ctx context.Context, number string) (*model.Order, error) {
	if number == "" {
		return nil, ErrInsufficientData
	}
	if order, ok := g.orders[number]; ok {
		return order, nil
	}

	order, err := g.repo.OrderGet(ctx, number)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if model.IsTerminal(order.Data.State) {
		return &order, nil
	}

	g.orders[number] = &order
	switch order.Data.State {
	case model.OrderStateAwaitingCard, model.OrderStateBound:
		if _, ok := g.current[order.Data.Session]; !ok {
			g.current[order.Data.Session] = number
		}
		if order.Data.State == model.OrderStateAwaitingCard {
			g.startTimer(number)
		}
	}
	return &order, nil
}

func (g *gate) transition(ctx context.Context, order *model.Order, to string, reason string) (model.Order, error) {
	return g.transitionWith(ctx, order, to, reason, order.Data.Identity)
}

func (g *gate) transitionWith(ctx context.Context, order *model.Order, to string, reason string, identity *model.Identity) (model.Order, error) {
	next := *order
	next.Data.State = to
	next.Data.Reason = reason
	next.Data.Identity = identity
	next.Data.UpdatedAt = g.now()

	// сначала в базу, потом в память
	if err := g.repo.OrderPut(ctx, next); err != nil {
		return model.Order{}, err
	}
	from := order.Data.State
	*order = next

	if model.IsTerminal(to) {
		delete(g.orders, order.Number)
		if g.current[order.Data.Session] == order.Number {
			delete(g.current, order.Data.Session)
		}
	}

	g.metrics.Transition(to)
	g.zaplog.Info("order state changed",
		zap.String("order", order.Number),
		zap.String("session", order.Data.Session),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("reason", reason),
	)
	return copyOrder(next), nil
}

func (g *gate) startTimer(number string) {
	if g.cfg.AwaitTimeout <= 0 {
		return
	}
	g.stopTimer(number)
	g.timers[number] = time.AfterFunc(g.cfg.AwaitTimeout, func() {
		g.expire(number)
	})
}

func (g *gate) stopTimer(number string) {
	if timer, ok := g.timers[number]; ok {
		timer.Stop()
		delete(g.timers, number)
	}
}

func (g *gate) expire(number string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g.mu.Lock()
	delete(g.timers, number)
	order, ok := g.orders[number]
	if !ok || order.Data.State != model.OrderStateAwaitingCard {
		g.mu.Unlock()
		return
	}
	abandoned, err := g.transition(ctx, order, model.OrderStateAbandoned, model.AbandonReasonNoCard)
	g.mu.Unlock()

	if err != nil {
		g.zaplog.Error("failed to abandon order after timeout", zap.String("order", number), zap.Error(err))
		return
	}
	if g.onAbandon != nil {
		g.onAbandon(abandoned)
	}
}

func copyOrder(order model.Order) model.Order {
	if order.Data.Identity != nil {
		identity := *order.Data.Identity
		order.Data.Identity = &identity
	}
	return order
}
