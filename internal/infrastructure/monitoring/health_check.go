package monitoring

import (
	"context"
	"sync"
	"time"
)

// HealthChecker runs named probes against node dependencies. Probes are
// evaluated on demand by CheckAll and, once StartBackgroundChecks is called,
// periodically on their own intervals.
type HealthChecker struct {
	mu     sync.RWMutex
	probes []probe
}

type probe struct {
	name     string
	run      func(ctx context.Context) (bool, error)
	interval time.Duration
	timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

func (h *HealthChecker) AddCheck(name string, run func(ctx context.Context) (bool, error), interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, probe{name: name, run: run, interval: interval, timeout: timeout})
}

// CheckAll evaluates every probe and aggregates the result. A single failing
// probe marks the whole node unhealthy.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	probes := make([]probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(probes)),
	}

	for _, p := range probes {
		ok, err := h.evaluate(ctx, p)
		switch {
		case err != nil:
			status.Status = "unhealthy"
			status.Checks[p.name] = err.Error()
		case !ok:
			status.Status = "unhealthy"
			status.Checks[p.name] = "check failed"
		default:
			status.Checks[p.name] = "healthy"
		}
	}
	return status
}

func (h *HealthChecker) evaluate(ctx context.Context, p probe) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.run(probeCtx)
}

// StartBackgroundChecks keeps every probe warm until ctx is cancelled.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	probes := make([]probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.RUnlock()

	for _, p := range probes {
		go h.loop(ctx, p)
	}
}

func (h *HealthChecker) loop(ctx context.Context, p probe) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = h.evaluate(ctx, p)
		}
	}
}
