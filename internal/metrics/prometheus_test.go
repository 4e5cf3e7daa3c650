// --- File: internal/metrics/prometheus_test.go ---
package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	h := MetricsHandler()
	assert.NotNil(t, h)
	assert.Implements(t, (*http.Handler)(nil), h)

	TokensPruned.Add(0)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "dispatcher_tokens_pruned_total"))
}

func TestObserveCycle(t *testing.T) {
	before := testutil.ToFloat64(CyclesTotal.WithLabelValues("ok"))
	countBefore := testutil.CollectAndCount(CycleDuration)

	ObserveCycle("ok", time.Now().Add(-200*time.Millisecond))

	assert.Equal(t, before+1, testutil.ToFloat64(CyclesTotal.WithLabelValues("ok")))
	assert.Equal(t, countBefore, testutil.CollectAndCount(CycleDuration))
}

func TestObserveDeliveries(t *testing.T) {
	ok := testutil.ToFloat64(DeliveriesTotal.WithLabelValues("true"))
	failed := testutil.ToFloat64(DeliveriesTotal.WithLabelValues("false"))

	ObserveDeliveries(3, 0)
	ObserveDeliveries(1, 2)

	assert.Equal(t, ok+4, testutil.ToFloat64(DeliveriesTotal.WithLabelValues("true")))
	assert.Equal(t, failed+2, testutil.ToFloat64(DeliveriesTotal.WithLabelValues("false")))
}
