package dependency

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimiter caps simultaneous processes per command alias, so
// parallel segment work cannot oversubscribe the host.
type ConcurrencyLimiter struct {
	semaphores map[string]*semaphore.Weighted
}

// NewConcurrencyLimiter builds one semaphore per positive limit. Commands
// without a limit are not throttled. The map is fixed after construction.
func NewConcurrencyLimiter(limits map[string]int) *ConcurrencyLimiter {
	l := &ConcurrencyLimiter{semaphores: make(map[string]*semaphore.Weighted)}
	for cmd, n := range limits {
		if n > 0 {
			l.semaphores[cmd] = semaphore.NewWeighted(int64(n))
		}
	}
	return l
}

// Acquire blocks until a slot for command is free or ctx ends.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context, command string) error {
	sem, ok := l.semaphores[command]
	if !ok {
		return nil
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire slot for command %s: %w", command, err)
	}
	return nil
}

// Release frees a slot taken by Acquire.
func (l *ConcurrencyLimiter) Release(command string) {
	if sem, ok := l.semaphores[command]; ok {
		sem.Release(1)
	}
}
