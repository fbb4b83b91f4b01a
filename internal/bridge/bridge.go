// Package bridge carries notifications from the card ingress to connected
// kiosk displays. Each connected session owns a bounded queue drained by its
// own delivery loop. Notifications for a session that has not connected yet
// are held for a short grace window and handed over if the session connects
// in time. Once a session disconnects, nothing published for it is kept.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/cardterminal/internal/bridge/config"
	"github.com/iurnickita/cardterminal/internal/metrics"
	"github.com/iurnickita/cardterminal/internal/model"
)

var (
	ErrEmptySession    = errors.New("empty session id")
	ErrTooManySessions = errors.New("too many kiosk sessions")
	ErrClosed          = errors.New("bridge closed")
)

// Причины потери уведомлений (метка метрики)
const (
	dropQueueFull    = "queue_full"
	dropNotConnected = "not_connected"
	dropDisconnected = "disconnected"
	dropClosed       = "closed"
)

type held struct {
	n       model.Notification
	expires time.Time
}

type Bridge struct {
	cfg     config.Config
	zaplog  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	held     map[string][]held
	sweeps   map[string]*time.Timer
	// отключившиеся сессии: уведомления для них не откладываются
	gone     map[string]struct{}
	closed   bool

	wg sync.WaitGroup
}

func New(cfg config.Config, zaplog *zap.Logger, m *metrics.Metrics) *Bridge {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = config.Default().QueueCapacity
	}
	if cfg.DropPolicy == "" {
		cfg.DropPolicy = config.DropOldest
	}
	return &Bridge{
		cfg:      cfg,
		zaplog:   zaplog,
		metrics:  m,
		sessions: make(map[string]*Session),
		held:     make(map[string][]held),
		sweeps:   make(map[string]*time.Timer),
		gone:     make(map[string]struct{}),
	}
}

// Publish hands n to the session's delivery loop, or holds it for the grace
// window when the session has not connected yet. Notifications for a session
// that disconnected are dropped at once. Publish never blocks on delivery and
// never fails; lost notifications are logged and counted.
func (b *Bridge) Publish(id string, n model.Notification) {
	b.metrics.Publish()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.drop(id, dropClosed, 1)
		return
	}
	if s, ok := b.sessions[id]; ok {
		dropped := s.queue.Put(n)
		b.mu.Unlock()
		if dropped {
			b.drop(id, dropQueueFull, 1)
		}
		return
	}
	if _, ok := b.gone[id]; ok {
		b.mu.Unlock()
		b.drop(id, dropNotConnected, 1)
		return
	}
	b.hold(id, n)
	b.mu.Unlock()
}

// Connect registers a kiosk display and starts its delivery loop. Still
// fresh held notifications for id are delivered first, in publish order.
// Connecting an id that is already connected replaces the old session.
func (b *Bridge) Connect(ctx context.Context, id string, conn Conn) (*Session, error) {
	if id == "" {
		return nil, ErrEmptySession
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	old, replacing := b.sessions[id]
	if !replacing && b.cfg.MaxSessions > 0 && len(b.sessions) >= b.cfg.MaxSessions {
		b.mu.Unlock()
		return nil, ErrTooManySessions
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:          id,
		conn:        conn,
		queue:       NewQueue(b.cfg.QueueCapacity, b.cfg.DropPolicy),
		connectedAt: time.Now(),
		ctx:         sctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	// отложенные уведомления идут раньше новых
	pending := b.prune(id, time.Now())
	for _, h := range pending {
		s.queue.Put(h.n)
	}
	b.clearHeld(id)
	delete(b.gone, id)

	b.sessions[id] = s
	connected := len(b.sessions)
	b.wg.Add(1)
	b.mu.Unlock()

	if replacing {
		b.stop(old, dropDisconnected)
		b.zaplog.Info("kiosk session replaced", zap.String("session", id))
	}
	b.metrics.SetConnected(connected)
	b.zaplog.Info("kiosk session connected",
		zap.String("session", id),
		zap.Int("held", len(pending)),
	)

	go b.deliver(s)
	return s, nil
}

// Disconnect stops the session's delivery loop and discards whatever it had
// not delivered yet.
func (b *Bridge) Disconnect(id string) {
	b.mu.Lock()
	s, ok := b.sessions[id]
	if ok {
		delete(b.sessions, id)
		b.gone[id] = struct{}{}
	}
	connected := len(b.sessions)
	b.mu.Unlock()

	if !ok {
		return
	}
	b.stop(s, dropDisconnected)
	b.metrics.SetConnected(connected)
	b.zaplog.Info("kiosk session disconnected", zap.String("session", id))
}

// Connected lists the ids of connected sessions.
func (b *Bridge) Connected() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close disconnects every session, drops held notifications and waits for
// the delivery loops to exit.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	sessions := b.sessions
	b.sessions = make(map[string]*Session)
	for id, list := range b.held {
		b.drop(id, dropClosed, len(list))
		b.clearHeld(id)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		b.stop(s, dropClosed)
	}
	b.metrics.SetConnected(0)
	b.wg.Wait()
}

func (b *Bridge) deliver(s *Session) {
	defer b.wg.Done()
	defer close(s.done)
	defer b.detach(s)

	for {
		if s.ctx.Err() != nil {
			return
		}
		n, ok := s.queue.Pop()
		if !ok {
			select {
			case <-s.ctx.Done():
				return
			case <-s.queue.Ready():
			}
			continue
		}

		if err := s.conn.Send(s.ctx, n); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			b.drop(s.id, dropDisconnected, 1)
			b.zaplog.Warn("kiosk send failed, disconnecting",
				zap.String("session", s.id),
				zap.Error(err),
			)
			return
		}
		b.metrics.Deliver()
	}
}

// detach removes s from the registry unless it was already replaced.
func (b *Bridge) detach(s *Session) {
	b.mu.Lock()
	current, ok := b.sessions[s.id]
	removed := ok && current == s
	if removed {
		delete(b.sessions, s.id)
		b.gone[s.id] = struct{}{}
	}
	connected := len(b.sessions)
	b.mu.Unlock()

	b.stop(s, dropDisconnected)
	if removed {
		b.metrics.SetConnected(connected)
		b.zaplog.Info("kiosk session closed", zap.String("session", s.id))
	}
}

func (b *Bridge) stop(s *Session, reason string) {
	s.cancel()
	if n := s.queue.Discard(); n > 0 {
		b.drop(s.id, reason, n)
	}
}

// hold keeps n for the grace window. Called with b.mu held.
func (b *Bridge) hold(id string, n model.Notification) {
	if b.cfg.GraceWindow <= 0 {
		b.drop(id, dropNotConnected, 1)
		return
	}

	now := time.Now()
	list := b.prune(id, now)
	if len(list) >= b.cfg.QueueCapacity {
		b.drop(id, dropNotConnected, 1)
		if b.cfg.DropPolicy == config.DropNewest {
			return
		}
		list = list[1:]
	}
	b.held[id] = append(list, held{n: n, expires: now.Add(b.cfg.GraceWindow)})

	if _, ok := b.sweeps[id]; !ok {
		b.sweeps[id] = time.AfterFunc(b.cfg.GraceWindow, func() {
			b.sweep(id)
		})
	}
}

// prune drops expired held notifications for id and returns the rest.
// Called with b.mu held.
func (b *Bridge) prune(id string, now time.Time) []held {
	list := b.held[id]
	i := 0
	for i < len(list) && !list[i].expires.After(now) {
		i++
	}
	if i > 0 {
		b.drop(id, dropNotConnected, i)
	}
	list = list[i:]
	if len(list) == 0 {
		delete(b.held, id)
		return nil
	}
	b.held[id] = list
	return list
}

func (b *Bridge) sweep(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.sweeps, id)
	if b.closed {
		return
	}
	list := b.prune(id, time.Now())
	if len(list) == 0 {
		return
	}
	wait := time.Until(list[0].expires) + time.Millisecond
	b.sweeps[id] = time.AfterFunc(wait, func() {
		b.sweep(id)
	})
}

// Called with b.mu held.
func (b *Bridge) clearHeld(id string) {
	delete(b.held, id)
	if timer, ok := b.sweeps[id]; ok {
		timer.Stop()
		delete(b.sweeps, id)
	}
}

func (b *Bridge) drop(id string, reason string, count int) {
	for i := 0; i < count; i++ {
		b.metrics.Drop(reason)
	}
	b.zaplog.Warn("kiosk notification dropped",
		zap.String("session", id),
		zap.String("reason", reason),
		zap.Int("count", count),
	)
}
