package dependency

import "context"

// DependencyExecutor runs one tool invocation.
//
// Implementations:
//   - LocalExecutor: exec.CommandContext on this host
//   - RemoteExecutor: HTTP call to the tool service
//   - FallbackExecutor: remote first, local on network failure
type DependencyExecutor interface {
	// ExecuteCommand blocks until the process exits, the timeout elapses or
	// ctx is cancelled. A non-zero exit is reported through the response,
	// and may also be returned as an error.
	ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error)

	// HealthCheck returns nil when the executor can accept work.
	HealthCheck(ctx context.Context) error
}
