package monitor

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckHealthMergesStatuses(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.cacheExpiry = 0

	hc.RegisterCheck("ok", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: HealthStatusHealthy}
	})
	hc.RegisterCheck("slow", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: HealthStatusDegraded}
	})

	health := hc.CheckHealth(context.Background())
	assert.Equal(t, HealthStatusDegraded, health.Status)
	assert.Len(t, health.Components, 2)

	hc.RegisterCheck("down", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: HealthStatusUnhealthy}
	})

	health = hc.CheckHealth(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, health.Status)
}

func TestHTTPHandlerStatusCodes(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.cacheExpiry = 0
	status := HealthStatusHealthy
	hc.RegisterCheck("engine", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: status}
	})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	hc.HTTPHandler()(rec, req)
	assert.Equal(t, 200, rec.Code)

	// degraded still answers 200
	status = HealthStatusDegraded
	rec = httptest.NewRecorder()
	hc.HTTPHandler()(rec, req)
	assert.Equal(t, 200, rec.Code)

	status = HealthStatusUnhealthy
	rec = httptest.NewRecorder()
	hc.HTTPHandler()(rec, req)
	assert.Equal(t, 503, rec.Code)
}

func TestMailboxDepthCheckRequiresSustainedBreach(t *testing.T) {
	depth := int64(10)
	check := MailboxDepthCheck(func() int64 { return depth }, 64, 50*time.Millisecond)

	// healthy below high water
	assert.Equal(t, HealthStatusHealthy, check(context.Background()).Status)

	// a fresh breach is not degraded yet
	depth = 100
	assert.Equal(t, HealthStatusHealthy, check(context.Background()).Status)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, HealthStatusDegraded, check(context.Background()).Status)

	// recovery resets the breach clock
	depth = 10
	assert.Equal(t, HealthStatusHealthy, check(context.Background()).Status)
	depth = 100
	assert.Equal(t, HealthStatusHealthy, check(context.Background()).Status)
}

func TestConsumerLagCheck(t *testing.T) {
	lags := map[string]int64{"prices": 10, "fx": 5}
	check := ConsumerLagCheck(func() map[string]int64 { return lags }, 1000)

	assert.Equal(t, HealthStatusHealthy, check(context.Background()).Status)

	lags["prices"] = 2000
	result := check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, result.Status)
	assert.Contains(t, result.Message, "prices")
}

func TestDirtyBacklogCheck(t *testing.T) {
	size := 0
	check := DirtyBacklogCheck(func() int { return size }, 100)

	assert.Equal(t, HealthStatusHealthy, check(context.Background()).Status)
	size = 101
	assert.Equal(t, HealthStatusDegraded, check(context.Background()).Status)
}

func TestNewMetricsWithRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)
	require.NotNil(t, m)

	m.TicksReceived.WithLabelValues("prices.ticks").Inc()
	m.ValuationsSubmitted.Inc()
	m.ConsumerLag.WithLabelValues("rtve-0-prices.ticks").Set(42)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["rtve_ticks_received_total"])
	assert.True(t, names["rtve_valuations_submitted_total"])
	assert.True(t, names["rtve_consumer_lag"])
}
