package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/cardterminal/internal/auth"
	authconfig "github.com/iurnickita/cardterminal/internal/auth/config"
	"github.com/iurnickita/cardterminal/internal/bridge"
	bridgeconfig "github.com/iurnickita/cardterminal/internal/bridge/config"
	"github.com/iurnickita/cardterminal/internal/gate"
	gateconfig "github.com/iurnickita/cardterminal/internal/gate/config"
	"github.com/iurnickita/cardterminal/internal/handler/config"
	"github.com/iurnickita/cardterminal/internal/identity"
	identityconfig "github.com/iurnickita/cardterminal/internal/identity/config"
	"github.com/iurnickita/cardterminal/internal/ingress"
	ingressconfig "github.com/iurnickita/cardterminal/internal/ingress/config"
	"github.com/iurnickita/cardterminal/internal/metrics"
	"github.com/iurnickita/cardterminal/internal/model"
	"github.com/iurnickita/cardterminal/internal/store"
)

type testServer struct {
	srv    *httptest.Server
	chain  *identity.Chain
	gate   gate.Gate
	bridge *bridge.Bridge
}

func newTestServer(t *testing.T, authCfg authconfig.Config) *testServer {
	t.Helper()
	ctx := context.Background()
	zaplog := zap.NewNop()
	m := metrics.New()
	mem := store.NewMemStore()

	chain, err := identity.NewChain(identityconfig.Default(), nil,
		[]identity.Finder{identity.NewStoreFinder(mem)}, zaplog, m)
	require.NoError(t, err)

	g := gate.NewGate(gateconfig.Default(), mem, zaplog, m)
	b := bridge.New(bridgeconfig.Default(), zaplog, m)
	in := ingress.New(ingressconfig.Default(), chain, g, b, zaplog, m)
	in.Start(ctx)

	h := newHandler(config.Default(), Services{
		Auth:     auth.NewAuth(authCfg, zaplog),
		Gate:     g,
		Bridge:   b,
		Terminal: in,
		Cards:    chain,
		Metrics:  m,
	}, zaplog)
	srv := httptest.NewServer(h.newRouter())

	t.Cleanup(func() {
		b.Close()
		srv.Close()
		in.Close()
		g.Close()
	})
	return &testServer{srv: srv, chain: chain, gate: g, bridge: b}
}

func openAuth() authconfig.Config {
	cfg := authconfig.Default()
	cfg.KioskSecret = ""
	return cfg
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func (ts *testServer) tap(t *testing.T, card string) int {
	t.Helper()
	resp, err := ts.srv.Client().PostForm(ts.srv.URL+"/card_inserts", url.Values{"card": {card}, "session": {"kiosk"}})
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func (ts *testServer) dial(t *testing.T, query string, header http.Header) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/events" + query
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestCheckoutFlow(t *testing.T) {
	ts := newTestServer(t, openAuth())
	require.NoError(t, ts.chain.Enroll(context.Background(), 40021, model.Identity{Key: "u-1", Name: "Simon"}))

	ws := ts.dial(t, "?session=kiosk", nil)

	code, _ := ts.do(t, http.MethodPost, "/api/orders?session=kiosk", `{"number":"79927398713"}`)
	require.Equal(t, http.StatusCreated, code)
	code, body := ts.do(t, http.MethodPost, "/api/orders/79927398713/await?session=kiosk", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, model.OrderStateAwaitingCard)

	require.Equal(t, http.StatusAccepted, ts.tap(t, "40021"))

	card := readMessage(t, ws)
	assert.Equal(t, "card", card["type"])
	assert.Equal(t, 40021.0, card["cardId"])
	assert.Equal(t, true, card["resolved"])
	assert.Equal(t, "u-1", card["identityRef"])
	assert.Equal(t, "79927398713", card["order"])

	order := readMessage(t, ws)
	assert.Equal(t, "order", order["type"])
	assert.Equal(t, model.OrderStateBound, order["state"])

	code, body = ts.do(t, http.MethodGet, "/api/orders/79927398713?session=kiosk", "")
	require.Equal(t, http.StatusOK, code)
	var state OrderJSONResponse
	require.NoError(t, json.Unmarshal([]byte(body), &state))
	assert.Equal(t, model.OrderStateBound, state.State)
	assert.Equal(t, "u-1", state.IdentityRef)

	code, _ = ts.do(t, http.MethodPost, "/api/orders/79927398713/finalize?session=kiosk", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodPost, "/api/orders/79927398713/cancel?session=kiosk", "")
	require.Equal(t, http.StatusConflict, code)
}

func TestUnknownCardThenEnrol(t *testing.T) {
	ts := newTestServer(t, openAuth())
	ws := ts.dial(t, "?session=kiosk", nil)

	require.Equal(t, http.StatusAccepted, ts.tap(t, "40021"))
	card := readMessage(t, ws)
	assert.Equal(t, false, card["resolved"])
	assert.NotContains(t, card, "identityRef")

	code, _ := ts.do(t, http.MethodPost, "/api/cards?session=kiosk", `{"card":40021,"key":"u-9","name":"Eve"}`)
	require.Equal(t, http.StatusCreated, code)

	require.Equal(t, http.StatusAccepted, ts.tap(t, "40021"))
	card = readMessage(t, ws)
	assert.Equal(t, true, card["resolved"])
	assert.Equal(t, "u-9", card["identityRef"])
}

func TestOrderErrors(t *testing.T) {
	ts := newTestServer(t, openAuth())

	code, _ := ts.do(t, http.MethodPost, "/api/orders?session=kiosk", `{"number":"79927398710"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	code, _ = ts.do(t, http.MethodPost, "/api/orders?session=kiosk", `{"number":""}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = ts.do(t, http.MethodPost, "/api/orders?session=kiosk", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodPost, "/api/orders?session=kiosk", `{"number":"18"}`)
	require.Equal(t, http.StatusCreated, code)
	code, _ = ts.do(t, http.MethodPost, "/api/orders?session=kiosk", `{"number":"18"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = ts.do(t, http.MethodPost, "/api/orders/18/finalize?session=kiosk", "")
	assert.Equal(t, http.StatusConflict, code)
	code, _ = ts.do(t, http.MethodGet, "/api/orders/26?session=kiosk", "")
	assert.Equal(t, http.StatusNotFound, code)
	// чужой заказ не виден
	code, _ = ts.do(t, http.MethodGet, "/api/orders/18?session=other", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCardInsertValidation(t *testing.T) {
	ts := newTestServer(t, openAuth())

	assert.Equal(t, http.StatusBadRequest, ts.tap(t, "abc"))
	assert.Equal(t, http.StatusBadRequest, ts.tap(t, "-5"))
}

func TestLoginProtectedRoutes(t *testing.T) {
	cfg := authconfig.Default()
	cfg.KioskSecret = "s3cret"
	ts := newTestServer(t, cfg)

	code, _ := ts.do(t, http.MethodPost, "/api/orders?session=kiosk", `{"number":"18"}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	resp, err := ts.srv.Client().Post(ts.srv.URL+"/api/kiosk/login", "application/json",
		strings.NewReader(`{"session":"kiosk","secret":"s3cret"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cookies := resp.Cookies()
	require.NotEmpty(t, cookies)

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/orders", strings.NewReader(`{"number":"18"}`))
	require.NoError(t, err)
	req.AddCookie(cookies[0])
	resp, err = ts.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	header := http.Header{}
	header.Set("Cookie", cookies[0].Name+"="+cookies[0].Value)
	ws := ts.dial(t, "", header)
	require.Equal(t, http.StatusAccepted, ts.tap(t, "5"))
	card := readMessage(t, ws)
	assert.Equal(t, 5.0, card["cardId"])
}

func TestSecondKioskRefused(t *testing.T) {
	ts := newTestServer(t, openAuth())
	ts.dial(t, "?session=kiosk", nil)
	require.Eventually(t, func() bool {
		return len(ts.bridge.Connected()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	other := ts.dial(t, "?session=kiosk-2", nil)
	require.NoError(t, other.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := other.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, openAuth())
	require.Equal(t, http.StatusAccepted, ts.tap(t, "1"))

	require.Eventually(t, func() bool {
		code, body := ts.do(t, http.MethodGet, "/metrics", "")
		return code == http.StatusOK && strings.Contains(body, "cardterminal_")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWireMessageOmitsIdentityForUnresolved(t *testing.T) {
	msg, err := wireMessage(model.CardNotification(model.InsertionEvent{
		ID:       "e-1",
		Card:     7,
		Resolved: false,
		Identity: &model.Identity{Key: "stale"},
	}))
	require.NoError(t, err)
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "identityRef")
	assert.Contains(t, string(data), `"resolved":false`)

	_, err = wireMessage(model.Notification{Kind: "unknown"})
	assert.Error(t, err)
}
