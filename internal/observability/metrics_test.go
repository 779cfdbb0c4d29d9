package observability

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

func TestMetrics_CountsOperations(t *testing.T) {
	m := NewMetrics()

	m.ObserveOperation("move_next", "success")
	m.ObserveOperation("move_next", "success")
	m.ObserveOperation("move_next", "refused")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("move_next", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("move_next", "refused")))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveOperation("move_next", "success")
		m.ObserveDelivery("chat", "sent", time.Second)
		m.ObserveDropped()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveDelivery("chat", "failed", 250*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `servicedesk_notifications_total{provider="chat",status="failed"} 1`))
}
