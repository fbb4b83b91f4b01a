package logger

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iurnickita/cardterminal/internal/logger/config"
)

func TestNewZapLog(t *testing.T) {
	zaplog, err := NewZapLog(config.Config{})
	require.NoError(t, err)
	assert.True(t, zaplog.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, zaplog.Core().Enabled(zapcore.DebugLevel))

	_, err = NewZapLog(config.Config{LogLevel: "loud"})
	require.Error(t, err)
}

func TestRequestLogMdlw(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	zaplog := zap.New(core)

	h := RequestLogMdlw(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("ok"))
	}, zaplog)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/card_inserts", strings.NewReader("card=40021")))
	require.Equal(t, http.StatusAccepted, rec.Code)

	incoming := logs.FilterMessage("got incoming HTTP request").All()
	require.Len(t, incoming, 1)
	assert.Equal(t, "/card_inserts", incoming[0].ContextMap()["path"])

	sent := logs.FilterMessage("send HTTP response").All()
	require.Len(t, sent, 1)
	assert.EqualValues(t, http.StatusAccepted, sent[0].ContextMap()["code"])
	assert.EqualValues(t, 2, sent[0].ContextMap()["length"])

	body := logs.FilterMessage("request body").All()
	require.Len(t, body, 1)
	assert.Equal(t, "card=40021", body[0].ContextMap()["body"])
}

func TestHijackUnsupported(t *testing.T) {
	wl := NewResponseWriterLogger(httptest.NewRecorder())
	_, _, err := wl.Hijack()
	require.Error(t, err)
	assert.False(t, wl.hijacked)
}
