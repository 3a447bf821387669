package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestHandlerServesExpositionFormat(t *testing.T) {
	AccessorCacheHits.Add(0) // ensure the metric exists even if untouched elsewhere
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "xpod_accessor_cache_hits_total")
}

func TestTimerObservesDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "xpod_test_timer_seconds"})
	timer := NewTimer()
	time.Sleep(time.Millisecond)
	timer.ObserveDuration(h)
	require.Equal(t, 1, testutil.CollectAndCount(h))
}

func TestTimerObservesDurationVec(t *testing.T) {
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "xpod_test_timer_vec_seconds"}, []string{"label"})
	timer := NewTimer()
	timer.ObserveDurationVec(hv, "x")
	require.Equal(t, 1, testutil.CollectAndCount(hv))
}
