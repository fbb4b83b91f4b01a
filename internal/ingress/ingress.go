// Package ingress turns physical card taps into kiosk notifications:
// resolve the card, bind the owner to the session's waiting order, publish.
// Taps are acknowledged at once and processed by a small worker pool so a
// slow identity source never holds up the reader.
package ingress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iurnickita/cardterminal/internal/gate"
	"github.com/iurnickita/cardterminal/internal/identity"
	"github.com/iurnickita/cardterminal/internal/ingress/config"
	"github.com/iurnickita/cardterminal/internal/metrics"
	"github.com/iurnickita/cardterminal/internal/model"
)

var tracer = otel.Tracer("ingress")

// Binder is the part of the order gate a tap needs.
type Binder interface {
	Bind(ctx context.Context, session string, identity model.Identity) (model.Order, bool, error)
}

// Publisher is the part of the event bridge a tap needs.
type Publisher interface {
	Publish(session string, n model.Notification)
}

type job struct {
	session string
	card    model.CardID
}

type Ingress struct {
	cfg      config.Config
	resolver identity.Resolver
	binder   Binder
	bridge   Publisher
	zaplog   *zap.Logger
	metrics  *metrics.Metrics

	jobs chan job
	wg   sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

func New(cfg config.Config, resolver identity.Resolver, binder Binder, bridge Publisher, zaplog *zap.Logger, m *metrics.Metrics) *Ingress {
	def := config.Default()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = def.ResolveTimeout
	}
	if cfg.DefaultSession == "" {
		cfg.DefaultSession = def.DefaultSession
	}
	return &Ingress{
		cfg:      cfg,
		resolver: resolver,
		binder:   binder,
		bridge:   bridge,
		zaplog:   zaplog,
		metrics:  m,
		jobs:     make(chan job, cfg.QueueSize),
	}
}

// Start launches the workers. They stop after Close once the queue is
// drained; ctx bounds the work done for each tap.
func (i *Ingress) Start(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.started || i.closed {
		return
	}
	i.started = true

	for w := 0; w < i.cfg.Workers; w++ {
		i.wg.Add(1)
		go func() {
			defer i.wg.Done()
			for j := range i.jobs {
				i.Handle(ctx, j.session, j.card)
			}
		}()
	}
}

// OnCardPresented queues a tap and reports whether it was accepted. It
// waits at most the ack budget for room in the queue.
func (i *Ingress) OnCardPresented(session string, card model.CardID) bool {
	if session == "" {
		session = i.cfg.DefaultSession
	}
	j := job{session: session, card: card}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return false
	}

	select {
	case i.jobs <- j:
		return true
	default:
	}

	timer := time.NewTimer(i.cfg.AckBudget)
	defer timer.Stop()
	select {
	case i.jobs <- j:
		return true
	case <-timer.C:
		i.metrics.TapDropped()
		i.zaplog.Warn("card tap dropped, ingress queue full",
			zap.String("session", session),
			zap.Stringer("card", card),
		)
		return false
	}
}

// Handle processes one tap synchronously and returns the published event.
func (i *Ingress) Handle(ctx context.Context, session string, card model.CardID) model.InsertionEvent {
	ctx, span := tracer.Start(ctx, "Ingress.Handle", trace.WithAttributes(
		attribute.String("session", session),
		attribute.String("card", card.String()),
	))
	defer span.End()

	rctx, cancel := context.WithTimeout(ctx, i.cfg.ResolveTimeout)
	user, resolved := i.resolver.Resolve(rctx, card)
	cancel()
	i.metrics.Tap(resolved)

	event := model.InsertionEvent{
		ID:       uuid.NewString(),
		Session:  session,
		Card:     card,
		Resolved: resolved,
		At:       time.Now(),
	}

	var bound *model.Order
	if resolved {
		event.Identity = &user
		order, changed, err := i.binder.Bind(ctx, session, user)
		switch {
		case err == nil && changed:
			event.Order = order.Number
			bound = &order
		case err == nil && order.Data.Identity != nil && order.Data.Identity.Equal(user):
			// повторное касание того же держателя
			event.Order = order.Number
		case err == nil:
			i.zaplog.Info("order already bound to another card holder",
				zap.String("session", session),
				zap.String("order", order.Number),
				zap.String("user", user.Key),
			)
		case errors.Is(err, gate.ErrNoAwaitingOrder):
			i.zaplog.Info("no order awaiting a card",
				zap.String("session", session),
				zap.String("user", user.Key),
			)
		case errors.Is(err, gate.ErrRejectedTransition):
			i.zaplog.Warn("card tap rejected by order", zap.String("session", session), zap.Error(err))
		default:
			i.zaplog.Error("failed to bind card to order",
				zap.String("session", session),
				zap.Stringer("card", card),
				zap.Error(err),
			)
		}
	}
	span.SetAttributes(attribute.Bool("resolved", resolved), attribute.String("order", event.Order))

	i.bridge.Publish(session, model.CardNotification(event))
	if bound != nil {
		i.bridge.Publish(session, model.OrderNotification(model.OrderEvent{
			Number: bound.Number,
			State:  bound.Data.State,
			At:     bound.Data.UpdatedAt,
		}))
	}
	return event
}

// Close stops accepting taps and waits for queued ones to be handled.
func (i *Ingress) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	close(i.jobs)
	i.mu.Unlock()

	i.wg.Wait()
}
