package monitoring

import (
	"context"
	"sync"
	"time"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusPending   = "pending"
)

// HealthChecker runs named checks. Once background checks are started,
// Status answers from the last recorded result of each check instead of
// probing dependencies on every request.
type HealthChecker struct {
	mu         sync.RWMutex
	checks     []HealthCheck
	results    map[string]checkResult
	background bool
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) (bool, error)
	Interval time.Duration
	Timeout  time.Duration
}

type checkResult struct {
	detail  string
	healthy bool
	at      time.Time
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		results: make(map[string]checkResult),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Interval: interval,
		Timeout:  timeout,
	})
}

func (h *HealthChecker) snapshot() []HealthCheck {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]HealthCheck(nil), h.checks...)
}

func (h *HealthChecker) run(ctx context.Context, check HealthCheck) checkResult {
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	healthy, err := check.Check(checkCtx)
	cancel()

	res := checkResult{healthy: err == nil && healthy, detail: statusHealthy, at: time.Now()}
	switch {
	case err != nil:
		res.detail = err.Error()
	case !healthy:
		res.detail = "check failed"
	}

	h.mu.Lock()
	h.results[check.Name] = res
	h.mu.Unlock()
	return res
}

// CheckAll runs every check now and records the results.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	for _, check := range h.snapshot() {
		res := h.run(ctx, check)
		status.Checks[check.Name] = res.detail
		if !res.healthy {
			status.Status = statusUnhealthy
		}
	}
	return status
}

// Status reports the cached results while background checks run, and falls
// back to CheckAll otherwise. A check without a result yet counts as
// unhealthy.
func (h *HealthChecker) Status(ctx context.Context) HealthStatus {
	h.mu.RLock()
	background := h.background
	h.mu.RUnlock()
	if !background {
		return h.CheckAll(ctx)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(h.checks)),
	}
	for _, check := range h.checks {
		res, ok := h.results[check.Name]
		if !ok {
			status.Checks[check.Name] = statusPending
			status.Status = statusUnhealthy
			continue
		}
		status.Checks[check.Name] = res.detail
		if !res.healthy {
			status.Status = statusUnhealthy
		}
	}
	return status
}

// StartBackgroundChecks runs each check right away and then every
// Interval until ctx is done.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.Lock()
	h.background = true
	h.mu.Unlock()

	for _, check := range h.snapshot() {
		go h.runCheckPeriodically(ctx, check)
	}
}

func (h *HealthChecker) runCheckPeriodically(ctx context.Context, check HealthCheck) {
	h.run(ctx, check)

	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.run(ctx, check)
		}
	}
}
