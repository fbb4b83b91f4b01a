package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/iurnickita/cardterminal/internal/model"
)

// Conn is the live connection of a kiosk display.
type Conn interface {
	Send(ctx context.Context, n model.Notification) error
}

// Session is one connected kiosk display. Its delivery loop runs from
// Connect until Disconnect, a send failure, or cancellation of the context
// passed to Connect.
type Session struct {
	id          string
	conn        Conn
	queue       *Queue
	connectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// Done is closed once the delivery loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the send error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
