package orchestrator

import (
	"errors"
	"sync"
)

var (
	// ErrQueueFull 队列已满，调用方应稍后重试
	ErrQueueFull = errors.New("task queue is full")
	// ErrQueueClosed 调度器已停止
	ErrQueueClosed = errors.New("task queue is closed")
)

// SafeQueue 有界任务队列，Push 不阻塞，Close 后 Push 返回 ErrQueueClosed
type SafeQueue[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	closed bool
}

func NewSafeQueue[T any](size int) *SafeQueue[T] {
	if size < 1 {
		size = 1
	}
	return &SafeQueue[T]{ch: make(chan T, size)}
}

func (q *SafeQueue[T]) Push(v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- v:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *SafeQueue[T]) Pop() (T, bool) { v, ok := <-q.ch; return v, ok }
func (q *SafeQueue[T]) Len() int       { return len(q.ch) }

func (q *SafeQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
