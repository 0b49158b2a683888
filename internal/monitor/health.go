package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check function
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Components []ComponentHealth `json:"components"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
	Timestamp  time.Time         `json:"timestamp"`
}

// HealthChecker manages health checks
type HealthChecker struct {
	mu sync.RWMutex

	checks map[string]HealthCheck

	lastResults map[string]ComponentHealth
	cacheExpiry time.Duration

	startTime time.Time
	version   string
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:      make(map[string]HealthCheck),
		lastResults: make(map[string]ComponentHealth),
		cacheExpiry: 2 * time.Second,
		startTime:   time.Now(),
		version:     version,
	}
}

// RegisterCheck registers a health check
func (hc *HealthChecker) RegisterCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.checks[name] = check
}

// CheckHealth runs all health checks
func (hc *HealthChecker) CheckHealth(ctx context.Context) SystemHealth {
	hc.mu.RLock()
	checks := make(map[string]HealthCheck)
	for name, check := range hc.checks {
		checks[name] = check
	}
	hc.mu.RUnlock()

	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(checks))

	for name, check := range checks {
		wg.Add(1)
		go func(n string, c HealthCheck) {
			defer wg.Done()

			if cached, ok := hc.getCachedResult(n); ok {
				results <- cached
				return
			}

			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			result := c(checkCtx)
			result.Name = n
			result.LastChecked = time.Now()

			hc.setCachedResult(n, result)

			results <- result
		}(name, check)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var components []ComponentHealth
	overallStatus := HealthStatusHealthy

	for result := range results {
		components = append(components, result)

		if result.Status == HealthStatusUnhealthy {
			overallStatus = HealthStatusUnhealthy
		} else if result.Status == HealthStatusDegraded && overallStatus == HealthStatusHealthy {
			overallStatus = HealthStatusDegraded
		}
	}

	return SystemHealth{
		Status:     overallStatus,
		Components: components,
		Version:    hc.version,
		Uptime:     time.Since(hc.startTime).String(),
		Timestamp:  time.Now(),
	}
}

// getCachedResult returns cached result if not expired
func (hc *HealthChecker) getCachedResult(name string) (ComponentHealth, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	if result, ok := hc.lastResults[name]; ok {
		if time.Since(result.LastChecked) < hc.cacheExpiry {
			return result, true
		}
	}

	return ComponentHealth{}, false
}

// setCachedResult updates cached result
func (hc *HealthChecker) setCachedResult(name string, result ComponentHealth) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.lastResults[name] = result
}

// HTTPHandler returns an HTTP handler for health checks
func (hc *HealthChecker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hc.CheckHealth(r.Context())

		statusCode := http.StatusOK
		if health.Status == HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(health)
	}
}

// Engine health checks

// MailboxDepthCheck degrades when the conflation backlog stays above
// its high-water mark for longer than sustain.
func MailboxDepthCheck(depth func() int64, highWater int64, sustain time.Duration) HealthCheck {
	var breachSince time.Time

	return func(ctx context.Context) ComponentHealth {
		d := depth()

		if d <= highWater {
			breachSince = time.Time{}
			return ComponentHealth{
				Status:  HealthStatusHealthy,
				Message: fmt.Sprintf("Mailbox depth %d within high water %d", d, highWater),
				Details: map[string]interface{}{"depth": d, "high_water": highWater},
			}
		}

		if breachSince.IsZero() {
			breachSince = time.Now()
		}
		breached := time.Since(breachSince)

		status := HealthStatusHealthy
		if breached > sustain {
			status = HealthStatusDegraded
		}
		return ComponentHealth{
			Status:  status,
			Message: fmt.Sprintf("Mailbox depth %d above high water %d for %s", d, highWater, breached.Round(time.Second)),
			Details: map[string]interface{}{"depth": d, "high_water": highWater, "breached_for": breached.String()},
		}
	}
}

// ConsumerLagCheck reports unhealthy when any consumer group's lag
// exceeds the alert threshold
func ConsumerLagCheck(lags func() map[string]int64, alert int64) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		worstGroup := ""
		var worst int64

		all := lags()
		for group, lag := range all {
			if lag > worst {
				worst = lag
				worstGroup = group
			}
		}

		if worst > alert {
			return ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("Consumer %s lag %d exceeds alert threshold %d", worstGroup, worst, alert),
				Details: map[string]interface{}{"lags": all, "alert": alert},
			}
		}
		return ComponentHealth{
			Status:  HealthStatusHealthy,
			Message: fmt.Sprintf("Max consumer lag %d within alert threshold %d", worst, alert),
			Details: map[string]interface{}{"lags": all, "alert": alert},
		}
	}
}

// BrokerCheck reports unhealthy when the broker connection is down
func BrokerCheck(connected func() bool) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if !connected() {
			return ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: "Broker disconnected",
			}
		}
		return ComponentHealth{
			Status:  HealthStatusHealthy,
			Message: "Broker connected",
		}
	}
}

// DirtyBacklogCheck degrades when the persistence dirty set exceeds
// its alert threshold
func DirtyBacklogCheck(size func() int, threshold int) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		s := size()
		status := HealthStatusHealthy
		if s > threshold {
			status = HealthStatusDegraded
		}
		return ComponentHealth{
			Status:  status,
			Message: fmt.Sprintf("Dirty set size %d (alert threshold %d)", s, threshold),
			Details: map[string]interface{}{"size": s, "threshold": threshold},
		}
	}
}
