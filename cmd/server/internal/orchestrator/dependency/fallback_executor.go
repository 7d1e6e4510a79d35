package dependency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/houzhh15/wpmnorm/pkg/metrics"
)

// FallbackExecutor sends work to the remote tool service and switches to
// local binaries the first time the service is unreachable. Once a local
// fallback succeeds, local stays primary until HealthCheck finds the remote
// service again.
type FallbackExecutor struct {
	remote      DependencyExecutor
	local       DependencyExecutor
	primaryMode ExecutionMode
	mu          sync.RWMutex
}

// NewFallbackExecutor starts in remote mode.
func NewFallbackExecutor(remote, local DependencyExecutor) *FallbackExecutor {
	return &FallbackExecutor{
		remote:      remote,
		local:       local,
		primaryMode: ModeRemote,
	}
}

// PrimaryMode reports the executor currently tried first.
func (e *FallbackExecutor) PrimaryMode() ExecutionMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.primaryMode
}

func (e *FallbackExecutor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	if e.PrimaryMode() == ModeLocal {
		return e.local.ExecuteCommand(ctx, req)
	}

	resp, err := e.remote.ExecuteCommand(ctx, req)
	if err == nil || !isNetworkError(err) {
		return resp, err
	}

	slog.Warn("remote execution failed, attempting local fallback",
		"command", req.Command,
		"error", err.Error())

	resp, err = e.local.ExecuteCommand(ctx, req)
	if err == nil && resp.Success {
		e.setPrimaryMode(ModeLocal)
		metrics.RecordDegradationEvent(string(ModeRemote), string(ModeLocal))
		slog.Info("local fallback succeeded, primary mode is now local", "command", req.Command)
	}
	return resp, err
}

// HealthCheck re-probes remote first and picks the primary mode accordingly.
func (e *FallbackExecutor) HealthCheck(ctx context.Context) error {
	remoteErr := e.remote.HealthCheck(ctx)
	if remoteErr == nil {
		e.setPrimaryMode(ModeRemote)
		return nil
	}
	if err := e.local.HealthCheck(ctx); err != nil {
		return fmt.Errorf("both remote and local audio tools unavailable: remote: %v; local: %w", remoteErr, err)
	}
	e.setPrimaryMode(ModeLocal)
	slog.Warn("tool service unavailable, using local binaries", "error", remoteErr.Error())
	return nil
}

func (e *FallbackExecutor) setPrimaryMode(mode ExecutionMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.primaryMode = mode
}

// isNetworkError matches the transport failures worth retrying locally.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrServiceUnreachable) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host")
}
