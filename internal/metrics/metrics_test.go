package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocolMetricsExposed(t *testing.T) {
	reg := NewRegistry()
	m := NewProtocolMetrics(reg)

	m.Sent("RTT_REQUEST", nil)
	m.Sent("RTT_REQUEST", errors.New("tx"))
	m.Rejected("checksum")
	m.SequenceEvent("started")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsSent.WithLabelValues("RTT_REQUEST", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsSent.WithLabelValues("RTT_REQUEST", "error")))

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "mlab_decode_rejected_total"))
}

func TestNilMetricsSafe(t *testing.T) {
	var m *ProtocolMetrics
	m.Sent("ACK", nil)
	m.Rejected("length")
	m.Received("ACK")
	m.Dropped("queue_full")
	m.SequenceEvent("stopped")
}
