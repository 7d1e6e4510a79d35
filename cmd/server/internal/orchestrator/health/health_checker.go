// Package health runs periodic probes against the external dependencies the
// pipeline relies on (the ASR service and the local audio tools) and keeps
// the latest result of each for the /healthz endpoint.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/houzhh15/wpmnorm/cmd/server/internal/metrics"
)

// Probe is one dependency check.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function into a Probe.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

func (p ProbeFunc) Name() string                    { return p.ProbeName }
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

// ServiceStatus is the health state of one dependency. Safe to serialize.
type ServiceStatus struct {
	// IsHealthy false only after failThreshold consecutive failures
	IsHealthy bool `json:"is_healthy"`

	LastCheckTime time.Time `json:"last_check_time"`

	// ConsecutiveFails resets to 0 on success
	ConsecutiveFails int `json:"consecutive_fails"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// HealthChecker probes every registered dependency at a fixed interval.
//
// Thread-safety: all public methods are safe for concurrent use.
type HealthChecker struct {
	probes        []Probe
	status        map[string]*ServiceStatus
	mu            sync.RWMutex
	checkInterval time.Duration
	checkTimeout  time.Duration
	failThreshold int
	logger        *slog.Logger
	stopOnce      sync.Once
	stopChan      chan struct{}
}

// NewHealthChecker creates a checker. Every dependency starts healthy; call
// Start to begin probing or CheckNow for a single synchronous round.
func NewHealthChecker(probes []Probe, checkInterval time.Duration, failThreshold int, log *slog.Logger) *HealthChecker {
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	if failThreshold <= 0 {
		failThreshold = 1
	}
	if log == nil {
		log = slog.Default()
	}
	hc := &HealthChecker{
		probes:        probes,
		status:        make(map[string]*ServiceStatus, len(probes)),
		checkInterval: checkInterval,
		checkTimeout:  10 * time.Second,
		failThreshold: failThreshold,
		logger:        log,
		stopChan:      make(chan struct{}),
	}
	for _, p := range probes {
		hc.status[p.Name()] = &ServiceStatus{IsHealthy: true, LastCheckTime: time.Now()}
		metrics.SetDependencyHealthy(p.Name(), true)
	}
	return hc
}

// Start blocks, probing immediately and then every checkInterval, until
// Stop is called or ctx is cancelled. Run it in its own goroutine.
func (hc *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	hc.CheckNow(ctx)

	for {
		select {
		case <-ticker.C:
			hc.CheckNow(ctx)
		case <-hc.stopChan:
			hc.logger.Info("health checker stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// CheckNow runs every probe once.
func (hc *HealthChecker) CheckNow(ctx context.Context) {
	for _, p := range hc.probes {
		hc.performCheck(ctx, p)
	}
}

func (hc *HealthChecker) performCheck(ctx context.Context, p Probe) {
	checkCtx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
	defer cancel()

	err := p.Check(checkCtx)

	hc.mu.Lock()
	defer hc.mu.Unlock()

	st := hc.status[p.Name()]
	st.LastCheckTime = time.Now()

	if err == nil {
		if !st.IsHealthy {
			hc.logger.Info("dependency recovered", "dependency", p.Name())
		}
		st.IsHealthy = true
		st.ConsecutiveFails = 0
		st.ErrorMessage = ""
		metrics.SetDependencyHealthy(p.Name(), true)
		return
	}

	st.ConsecutiveFails++
	st.ErrorMessage = fmt.Sprintf("health check failed: %v", err)
	if st.ConsecutiveFails >= hc.failThreshold {
		st.IsHealthy = false
		metrics.SetDependencyHealthy(p.Name(), false)
		hc.logger.Error("dependency unhealthy", "dependency", p.Name(), "consecutive_fails", st.ConsecutiveFails, "error", err)
	} else {
		hc.logger.Warn("health check failed", "dependency", p.Name(),
			"consecutive_fails", st.ConsecutiveFails, "threshold", hc.failThreshold, "error", err)
	}
}

// GetStatus returns a copy of every dependency's status.
func (hc *HealthChecker) GetStatus() map[string]ServiceStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make(map[string]ServiceStatus, len(hc.status))
	for name, st := range hc.status {
		out[name] = *st
	}
	return out
}

// Healthy reports whether all dependencies are healthy.
func (hc *HealthChecker) Healthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	for _, st := range hc.status {
		if !st.IsHealthy {
			return false
		}
	}
	return true
}

// Stop terminates Start. Safe to call more than once.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() { close(hc.stopChan) })
}
