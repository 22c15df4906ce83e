package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/mlab-sync/internal/clock"
	"github.com/taoyao-code/mlab-sync/internal/radio"
)

// mockChecker 模拟检查器
type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{Status: m.status, Message: "mock", Latency: time.Millisecond}
}

type fixedStats radio.LinkStats

func (f fixedStats) Stats() radio.LinkStats { return radio.LinkStats(f) }

func TestAggregator(t *testing.T) {
	ctx := context.Background()

	t.Run("全部健康", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"radio", StatusHealthy}, &mockChecker{"redis", StatusHealthy})
		assert.Equal(t, StatusHealthy, agg.OverallStatus(ctx))
		assert.True(t, agg.Ready(ctx))
	})

	t.Run("部分降级仍就绪", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"radio", StatusHealthy}, &mockChecker{"redis", StatusDegraded})
		assert.Equal(t, StatusDegraded, agg.OverallStatus(ctx))
		assert.True(t, agg.Ready(ctx))
	})

	t.Run("不健康优先", func(t *testing.T) {
		agg := NewAggregator(
			&mockChecker{"radio", StatusDegraded},
			&mockChecker{"database", StatusUnhealthy},
		)
		assert.Equal(t, StatusUnhealthy, agg.OverallStatus(ctx))
		assert.False(t, agg.Ready(ctx))
	})

	t.Run("动态添加", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"initial", StatusHealthy})
		agg.AddChecker(&mockChecker{"added", StatusHealthy})
		agg.AddChecker(nil)
		assert.Len(t, agg.CheckAll(ctx), 2)
	})
}

func TestLinkChecker(t *testing.T) {
	ctx := context.Background()

	r := NewLinkChecker(fixedStats{QueueLen: 1, QueueCap: 64}).Check(ctx)
	assert.Equal(t, StatusHealthy, r.Status)

	r = NewLinkChecker(fixedStats{QueueLen: 60, QueueCap: 64}).Check(ctx)
	assert.Equal(t, StatusDegraded, r.Status)

	r = NewLinkChecker(fixedStats{QueueLen: 64, QueueCap: 64}).Check(ctx)
	assert.Equal(t, StatusDegraded, r.Status)

	r = NewLinkChecker(fixedStats{Closed: true}).Check(ctx)
	assert.Equal(t, StatusUnhealthy, r.Status)

	r = NewLinkChecker(fixedStats{QueueCap: 64, Breaker: &radio.BreakerStats{State: "open", Trips: 1}}).Check(ctx)
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Equal(t, "send circuit open", r.Message)

	r = NewLinkChecker(fixedStats{QueueCap: 64, Breaker: &radio.BreakerStats{State: "half_open"}}).Check(ctx)
	assert.Equal(t, StatusDegraded, r.Status)

	bus := radio.NewBus(clock.NewFake(0), radio.FaultConfig{}, nil, nil)
	ep := bus.Endpoint("rx", 8)
	assert.Equal(t, StatusHealthy, NewLinkChecker(ep).Check(ctx).Status)
	require.NoError(t, ep.Close())
	assert.Equal(t, StatusUnhealthy, NewLinkChecker(ep).Check(ctx).Status)
}

func TestHTTPRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterHTTPRoutes(r, NewAggregator(&mockChecker{"radio", StatusDegraded}))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var report HealthReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Contains(t, report.Checks, "radio")

	r = gin.New()
	RegisterHTTPRoutes(r, NewAggregator(&mockChecker{"radio", StatusUnhealthy}))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestReadiness(t *testing.T) {
	r := New()
	assert.False(t, r.Ready())
	r.SetLinkReady(true)
	assert.False(t, r.Ready())
	r.SetLoopReady(true)
	assert.True(t, r.Ready())
}
