package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/iurnickita/cardterminal/internal/auth"
	"github.com/iurnickita/cardterminal/internal/bridge"
	"github.com/iurnickita/cardterminal/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// дисплей киоска открыт с того же хоста, что и сервер
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type CardMessage struct {
	Type        string    `json:"type"`
	ID          string    `json:"id"`
	CardID      uint64    `json:"cardId"`
	Resolved    bool      `json:"resolved"`
	IdentityRef string    `json:"identityRef,omitempty"`
	Name        string    `json:"name,omitempty"`
	Order       string    `json:"order,omitempty"`
	At          time.Time `json:"at"`
}

type OrderMessage struct {
	Type   string    `json:"type"`
	Order  string    `json:"order"`
	State  string    `json:"state"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

type Request struct {
	Type string `json:"type"`
}

var errUnknownNotification = errors.New("unknown notification kind")

func wireMessage(n model.Notification) (any, error) {
	switch {
	case n.Kind == model.NotificationKindCard && n.Insertion != nil:
		ev := n.Insertion
		msg := CardMessage{
			Type:     model.NotificationKindCard,
			ID:       ev.ID,
			CardID:   uint64(ev.Card),
			Resolved: ev.Resolved,
			Order:    ev.Order,
			At:       ev.At,
		}
		// identityRef только у распознанных карт
		if ev.Resolved && ev.Identity != nil {
			msg.IdentityRef = ev.Identity.Key
			msg.Name = ev.Identity.Name
		}
		return msg, nil
	case n.Kind == model.NotificationKindOrder && n.Order != nil:
		return OrderMessage{
			Type:   model.NotificationKindOrder,
			Order:  n.Order.Number,
			State:  n.Order.State,
			Reason: n.Order.Reason,
			At:     n.Order.At,
		}, nil
	default:
		return nil, errUnknownNotification
	}
}

// wsConn is the kiosk side of a bridge session.
type wsConn struct {
	mu      sync.Mutex
	ws      *websocket.Conn
	timeout time.Duration
}

func (c *wsConn) Send(ctx context.Context, n model.Notification) error {
	msg, err := wireMessage(n)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteJSON(msg)
}

func (h *handler) Events(w http.ResponseWriter, r *http.Request) {
	session := r.Header.Get(auth.HeaderSessionKey)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.zaplog.Error("failed to upgrade websocket", zap.String("session", session), zap.Error(err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &wsConn{ws: ws, timeout: h.cfg.WriteTimeout}
	s, err := h.bridge.Connect(ctx, session, conn)
	if err != nil {
		h.zaplog.Warn("kiosk connection refused", zap.String("session", session), zap.Error(err))
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		return
	}

	quit := make(chan struct{})
	go func() {
		defer close(quit)
		for {
			var req Request
			err := ws.ReadJSON(&req)
			if err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) &&
					(closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
					h.zaplog.Debug("kiosk websocket closed", zap.String("session", session))
				} else {
					h.zaplog.Info("kiosk websocket read failed", zap.String("session", session), zap.Error(err))
				}
				return
			}

			switch req.Type {
			case "h": // heartbeat
			default:
				h.zaplog.Info("unknown kiosk request type", zap.String("session", session), zap.String("type", req.Type))
			}
		}
	}()

	select {
	case <-quit:
	case <-s.Done():
		if err := s.Err(); err != nil {
			h.zaplog.Info("kiosk session ended", zap.String("session", session), zap.Error(err))
		}
	}
}

var _ bridge.Conn = (*wsConn)(nil)
