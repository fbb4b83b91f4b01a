package directoryclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newDirectory(t *testing.T, handler http.HandlerFunc) DirectoryClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewDirectoryClient(srv.URL, time.Second)
}

func TestGetIdentity(t *testing.T) {
	client := newDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/cards/40021", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"card":40021,"key":"u-17","name":"Simon"}`))
	})

	answer, err := client.GetIdentity(context.Background(), 40021)
	require.NoError(t, err)
	require.Equal(t, DirectoryAnswer{Card: 40021, Key: "u-17", Name: "Simon"}, answer)
}

func TestGetIdentityNotFound(t *testing.T) {
	client := newDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := client.GetIdentity(context.Background(), 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetIdentityServerError(t *testing.T) {
	client := newDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.GetIdentity(context.Background(), 1)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "502")
}

func TestGetIdentityEmptyKey(t *testing.T) {
	client := newDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"card":1}`))
	})

	_, err := client.GetIdentity(context.Background(), 1)
	require.ErrorIs(t, err, ErrBadData)
}

func TestGetIdentityTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.GetIdentity(ctx, 1)
	require.Error(t, err)
	require.Less(t, time.Since(start), 900*time.Millisecond)
}
