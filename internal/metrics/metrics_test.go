package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheHit()
		m.CacheMiss()
		m.FinderError("store")
		m.Tap(true)
		m.Drop("queue_full")
		m.SetConnected(1)
		m.Transition("BOUND")
	})
}

func TestInstancesDoNotShareRegistry(t *testing.T) {
	a := New()
	b := New()

	a.CacheHit()
	a.Drop("expired")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.CacheHits))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Dropped.WithLabelValues("expired")))
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.FinderError("directory")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cardterminal_finder_errors_total{finder="directory"} 1`)
}
