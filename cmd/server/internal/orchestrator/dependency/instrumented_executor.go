package dependency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/houzhh15/wpmnorm/pkg/metrics"
)

// InstrumentedExecutor wraps another executor with the per-command
// concurrency limit, Prometheus metrics and the audit log.
type InstrumentedExecutor struct {
	inner   DependencyExecutor
	mode    ExecutionMode
	limiter *ConcurrencyLimiter
	audit   *AuditLogger
}

// NewInstrumentedExecutor limiter and audit may be nil.
func NewInstrumentedExecutor(inner DependencyExecutor, mode ExecutionMode, limiter *ConcurrencyLimiter, audit *AuditLogger) *InstrumentedExecutor {
	return &InstrumentedExecutor{inner: inner, mode: mode, limiter: limiter, audit: audit}
}

func (e *InstrumentedExecutor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	if e.limiter != nil {
		if err := e.limiter.Acquire(ctx, req.Command); err != nil {
			return CommandResponse{}, err
		}
		defer e.limiter.Release(req.Command)
	}

	done := metrics.TrackInFlight(req.Command)
	start := time.Now()
	resp, err := e.inner.ExecuteCommand(ctx, req)
	done()

	metrics.RecordCommandExecution(req.Command, string(e.mode), executionStatus(resp, err))
	metrics.RecordCommandDuration(req.Command, string(e.mode), time.Since(start).Seconds())
	if e.audit != nil {
		e.audit.LogExecution(req, resp, err, e.mode)
	}
	return resp, err
}

func (e *InstrumentedExecutor) HealthCheck(ctx context.Context) error {
	return e.inner.HealthCheck(ctx)
}

// executionStatus buckets a result as "success", "timeout" or "failed".
func executionStatus(resp CommandResponse, err error) string {
	if err == nil && resp.Success {
		return "success"
	}
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timeout")) {
		return "timeout"
	}
	return "failed"
}
