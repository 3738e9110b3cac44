package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.PhaseCommitted("ECONOMY", false)
	c.PhaseCommitted("ECONOMY", true)
	c.PhaseCommitted("ECONOMY", false)
	c.PhaseAdvanced("ECONOMY")
	c.AdvanceRejected("not_all_committed")
	c.IncomeApplied(false)
	c.IncomeApplied(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.commits.WithLabelValues("ECONOMY", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commits.WithLabelValues("ECONOMY", "unchanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.advances.WithLabelValues("ECONOMY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejected.WithLabelValues("not_all_committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.income.WithLabelValues("already_applied")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.RequestDuration("/api/v1/status", "GET", 200, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "warroom_http_request_duration_seconds")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNoopSatisfiesInterfaces(t *testing.T) {
	var _ Engine = Noop{}
	var _ HTTP = Noop{}
	var _ Engine = (*Collector)(nil)
	var _ HTTP = (*Collector)(nil)
}
