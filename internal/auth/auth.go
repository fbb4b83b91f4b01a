package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iurnickita/cardterminal/internal/auth/config"
	"github.com/iurnickita/cardterminal/internal/token"
)

type Auth interface {
	Login(w http.ResponseWriter, r *http.Request)
	Middleware(h http.HandlerFunc) http.HandlerFunc
	Firewall(h http.HandlerFunc) http.HandlerFunc
}

const (
	HeaderSessionKey = "X-Kiosk-Session"
	cookieKioskToken = "cardterminalKioskToken"
)

var (
	ErrNoSession   = errors.New("kiosk session is not specified")
	ErrBadSecret   = errors.New("wrong kiosk secret")
	ErrNotLoopback = errors.New("terminal endpoints are available from localhost only")
)

type auth struct {
	cfg    config.Config
	zaplog *zap.Logger
}

func NewAuth(cfg config.Config, zaplog *zap.Logger) Auth {
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = cfg.KioskSecret
	}
	// токены живут до перезапуска
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = uuid.NewString()
	}
	return &auth{cfg: cfg, zaplog: zaplog}
}

type LoginJSONRequest struct {
	Session string `json:"session"`
	Secret  string `json:"secret"`
}

type LoginJSONResponse struct {
	Token string `json:"token"`
}

func (a *auth) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Session == "" {
		http.Error(w, ErrNoSession.Error(), http.StatusBadRequest)
		return
	}
	if a.cfg.KioskSecret != "" &&
		subtle.ConstantTimeCompare([]byte(req.Secret), []byte(a.cfg.KioskSecret)) != 1 {
		a.zaplog.Warn("kiosk login rejected", zap.String("session", req.Session), zap.String("remote", r.RemoteAddr))
		http.Error(w, ErrBadSecret.Error(), http.StatusUnauthorized)
		return
	}

	tokenString, err := token.BuildJWTString(req.Session, a.cfg.TokenSecret, a.cfg.TokenTTL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieKioskToken,
		Value:    tokenString,
		Path:     "/",
		MaxAge:   int(a.cfg.TokenTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginJSONResponse{Token: tokenString})
	a.zaplog.Info("kiosk logged in", zap.String("session", req.Session))
}

func (a *auth) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// получение сессии киоска
		session, err := a.getSession(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		// записываем
		r.Header.Set(HeaderSessionKey, session)

		// передаём управление хендлеру
		h.ServeHTTP(w, r)
	}
}

func (a *auth) getSession(r *http.Request) (string, error) {
	// без секрета сессия берётся из запроса
	if a.cfg.KioskSecret == "" {
		if session := r.URL.Query().Get("session"); session != "" {
			return session, nil
		}
	}

	var tokenString string
	if tokenCookie, err := r.Cookie(cookieKioskToken); err == nil {
		tokenString = tokenCookie.Value
	} else if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		tokenString = bearer
	}
	if tokenString == "" {
		return "", ErrNoSession
	}
	return token.GetSession(tokenString, a.cfg.TokenSecret)
}

// Firewall lets only loopback clients through when the terminal firewall
// is enabled. The card reader runs on the kiosk machine itself.
func (a *auth) Firewall(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.TerminalFirewall && !isLoopback(r.RemoteAddr) {
			a.zaplog.Warn("terminal request from remote host refused", zap.String("remote", r.RemoteAddr))
			http.Error(w, ErrNotLoopback.Error(), http.StatusForbidden)
			return
		}
		h.ServeHTTP(w, r)
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
