package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/cardterminal/internal/auth"
	"github.com/iurnickita/cardterminal/internal/bridge"
	"github.com/iurnickita/cardterminal/internal/gate"
	"github.com/iurnickita/cardterminal/internal/gzip"
	"github.com/iurnickita/cardterminal/internal/handler/config"
	"github.com/iurnickita/cardterminal/internal/identity"
	"github.com/iurnickita/cardterminal/internal/logger"
	"github.com/iurnickita/cardterminal/internal/metrics"
	"github.com/iurnickita/cardterminal/internal/model"
)

// Bridge accepts kiosk display connections.
type Bridge interface {
	Connect(ctx context.Context, session string, conn bridge.Conn) (*bridge.Session, error)
}

// Terminal accepts card taps pushed by a reader process.
type Terminal interface {
	OnCardPresented(session string, card model.CardID) bool
}

type Enroller interface {
	Enroll(ctx context.Context, card model.CardID, identity model.Identity) error
}

type Services struct {
	Auth     auth.Auth
	Gate     gate.Gate
	Bridge   Bridge
	Terminal Terminal
	Cards    Enroller
	Metrics  *metrics.Metrics
}

// Serve runs the HTTP server until ctx is cancelled.
func Serve(ctx context.Context, cfg config.Config, services Services, zaplog *zap.Logger) error {
	h := newHandler(cfg, services, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zaplog.Error("http server shutdown", zap.Error(err))
		}
	}()

	zaplog.Info("http server started", zap.String("addr", cfg.ServerAddr))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type handler struct {
	cfg      config.Config
	auth     auth.Auth
	gate     gate.Gate
	bridge   Bridge
	terminal Terminal
	cards    Enroller
	metrics  *metrics.Metrics
	zaplog   *zap.Logger
}

func newHandler(cfg config.Config, services Services, zaplog *zap.Logger) *handler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = config.Default().WriteTimeout
	}
	return &handler{
		cfg:      cfg,
		auth:     services.Auth,
		gate:     services.Gate,
		bridge:   services.Bridge,
		terminal: services.Terminal,
		cards:    services.Cards,
		metrics:  services.Metrics,
		zaplog:   zaplog,
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	// считыватель и симулятор
	mux.HandleFunc("POST /card_inserts", logger.RequestLogMdlw(h.auth.Firewall(h.PostCardInsert), h.zaplog))
	// дисплей киоска
	mux.HandleFunc("GET /events", logger.RequestLogMdlw(h.auth.Middleware(h.Events), h.zaplog))

	mux.HandleFunc("POST /api/kiosk/login", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Login, h.zaplog)))
	mux.HandleFunc("POST /api/orders", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.PostOrder), h.zaplog)))
	mux.HandleFunc("GET /api/orders/{number}", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.GetOrder), h.zaplog)))
	mux.HandleFunc("POST /api/orders/{number}/await", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.PostAwait), h.zaplog)))
	mux.HandleFunc("POST /api/orders/{number}/finalize", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.PostFinalize), h.zaplog)))
	mux.HandleFunc("POST /api/orders/{number}/cancel", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.PostCancel), h.zaplog)))
	mux.HandleFunc("POST /api/cards", gzip.GzipMiddleware(logger.RequestLogMdlw(h.auth.Middleware(h.PostCard), h.zaplog)))

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
	return mux
}

func (h *handler) PostCardInsert(w http.ResponseWriter, r *http.Request) {
	card, err := strconv.ParseUint(r.FormValue("card"), 10, 64)
	if err != nil {
		http.Error(w, "card must be an unsigned integer", http.StatusBadRequest)
		return
	}
	if !h.terminal.OnCardPresented(r.FormValue("session"), model.CardID(card)) {
		http.Error(w, "card tap dropped", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type PostOrderJSONRequest struct {
	Number string `json:"number"`
}

type OrderJSONResponse struct {
	Number      string    `json:"number"`
	State       string    `json:"state"`
	IdentityRef string    `json:"identityRef,omitempty"`
	Name        string    `json:"name,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (h *handler) PostOrder(w http.ResponseWriter, r *http.Request) {
	var req PostOrderJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session := r.Header.Get(auth.HeaderSessionKey)
	order, err := h.gate.CreateOrder(r.Context(), req.Number, session)
	if err != nil {
		h.orderError(w, err)
		return
	}
	h.writeOrder(w, http.StatusCreated, order)
}

func (h *handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.ownOrder(r)
	if err != nil {
		h.orderError(w, err)
		return
	}
	h.writeOrder(w, http.StatusOK, order)
}

func (h *handler) PostAwait(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.gate.AwaitCard)
}

func (h *handler) PostFinalize(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.gate.Finalize)
}

func (h *handler) PostCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.gate.Cancel)
}

func (h *handler) transition(w http.ResponseWriter, r *http.Request, move func(context.Context, string) (model.Order, error)) {
	current, err := h.ownOrder(r)
	if err != nil {
		h.orderError(w, err)
		return
	}
	order, err := move(r.Context(), current.Number)
	if err != nil {
		h.orderError(w, err)
		return
	}
	h.writeOrder(w, http.StatusOK, order)
}

// ownOrder возвращает заказ, если он принадлежит сессии запроса
func (h *handler) ownOrder(r *http.Request) (model.Order, error) {
	order, err := h.gate.GetOrderState(r.Context(), r.PathValue("number"))
	if err != nil {
		return model.Order{}, err
	}
	if order.Data.Session != r.Header.Get(auth.HeaderSessionKey) {
		return model.Order{}, gate.ErrNotFound
	}
	return order, nil
}

func (h *handler) orderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gate.ErrInsufficientData):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, gate.ErrUnprocessableEntity):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, gate.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, gate.ErrAlreadyExists),
		errors.Is(err, gate.ErrSessionBusy),
		errors.Is(err, gate.ErrRejectedTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.zaplog.Error("order request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *handler) writeOrder(w http.ResponseWriter, status int, order model.Order) {
	orderJSON := OrderJSONResponse{
		Number:    order.Number,
		State:     order.Data.State,
		Reason:    order.Data.Reason,
		UpdatedAt: order.Data.UpdatedAt,
	}
	if order.Data.Identity != nil {
		orderJSON.IdentityRef = order.Data.Identity.Key
		orderJSON.Name = order.Data.Identity.Name
	}
	responseJSON, err := json.Marshal(orderJSON)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(responseJSON)
}

type PostCardJSONRequest struct {
	Card uint64 `json:"card"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

func (h *handler) PostCard(w http.ResponseWriter, r *http.Request) {
	var req PostCardJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Card == 0 || req.Key == "" {
		http.Error(w, "card and key are required", http.StatusBadRequest)
		return
	}

	err := h.cards.Enroll(r.Context(), model.CardID(req.Card), model.Identity{Key: req.Key, Name: req.Name})
	if err != nil {
		if errors.Is(err, identity.ErrNoEnroller) {
			http.Error(w, err.Error(), http.StatusNotImplemented)
			return
		}
		h.zaplog.Error("card enrolment failed", zap.Uint64("card", req.Card), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}
