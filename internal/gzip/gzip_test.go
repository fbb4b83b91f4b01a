package gzip

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func echo(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Write(body)
}

func TestCompressedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"number":"18"}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/orders", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	GzipMiddleware(echo)(rec, req)

	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Equal(t, `{"number":"18"}`, string(body))
}

func TestPlainPassThrough(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString("plain"))
	rec := httptest.NewRecorder()
	GzipMiddleware(echo)(rec, req)

	require.Empty(t, rec.Header().Get("Content-Encoding"))
	require.Equal(t, "plain", rec.Body.String())
}

func TestBrokenGzipBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	GzipMiddleware(echo)(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
