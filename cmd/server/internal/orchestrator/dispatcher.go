package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/houzhh15/wpmnorm/cmd/server/internal/ledger"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/metrics"
	"github.com/houzhh15/wpmnorm/pkg/jobs"
)

// AnalyzeRunner 由 AnalyzeCoordinator 实现
type AnalyzeRunner interface {
	Run(ctx context.Context, task jobs.AnalyzeTask) error
}

// AdjustRunner 由 AdjustCoordinator 实现
type AdjustRunner interface {
	Run(ctx context.Context, task jobs.AdjustTask) error
}

// DispatcherConfig 工作协程数量与队列容量
type DispatcherConfig struct {
	AnalyzeWorkers int
	AdjustWorkers  int
	QueueSize      int
}

const (
	stageAnalyze = "analyze"
	stageAdjust  = "adjust"
)

// Dispatcher 进程内任务分发：两条有界队列，各自固定数量的 worker。
// 同一作业同一阶段已在排队时的重复投递会被丢弃；任务出队后即可再次投递，
// 新任务会等到前一次执行结束才开始，因此同一作业同一阶段最多只有一个执行者。
type Dispatcher struct {
	cfg      DispatcherConfig
	analyze  AnalyzeRunner
	adjust   AdjustRunner
	ledger   *ledger.Ledger
	analyzeQ *SafeQueue[jobs.AnalyzeTask]
	adjustQ  *SafeQueue[jobs.AdjustTask]
	queued   sync.Map
	running  keyedMutex
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	logger   *slog.Logger
}

// NewDispatcher 创建调度器，调用 Start 后开始消费
func NewDispatcher(analyze AnalyzeRunner, adjust AdjustRunner, l *ledger.Ledger, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if cfg.AnalyzeWorkers < 1 {
		cfg.AnalyzeWorkers = 4
	}
	if cfg.AdjustWorkers < 1 {
		cfg.AdjustWorkers = 2
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		analyze:  analyze,
		adjust:   adjust,
		ledger:   l,
		analyzeQ: NewSafeQueue[jobs.AnalyzeTask](cfg.QueueSize),
		adjustQ:  NewSafeQueue[jobs.AdjustTask](cfg.QueueSize),
		logger:   log.With("component", "dispatcher"),
	}
}

// Start 启动全部 worker。ctx 取消后正在执行的任务会收到取消信号。
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.cfg.AnalyzeWorkers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				task, ok := d.analyzeQ.Pop()
				if !ok {
					return
				}
				d.release(stageAnalyze, task.JobID)
				metrics.SetQueueDepth(stageAnalyze, d.analyzeQ.Len())
				d.execute(ctx, stageAnalyze, task.JobID, func() error { return d.analyze.Run(ctx, task) })
			}
		}()
	}
	for i := 0; i < d.cfg.AdjustWorkers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				task, ok := d.adjustQ.Pop()
				if !ok {
					return
				}
				d.release(stageAdjust, task.JobID)
				metrics.SetQueueDepth(stageAdjust, d.adjustQ.Len())
				d.execute(ctx, stageAdjust, task.JobID, func() error { return d.adjust.Run(ctx, task) })
			}
		}()
	}
	d.logger.Info("dispatcher started", "analyze_workers", d.cfg.AnalyzeWorkers, "adjust_workers", d.cfg.AdjustWorkers)
}

// EnqueueAnalyze 投递分析任务。作业已在排队时返回 nil 且不入队。
func (d *Dispatcher) EnqueueAnalyze(task jobs.AnalyzeTask) error {
	if !d.claim(stageAnalyze, task.JobID) {
		return nil
	}
	if err := d.analyzeQ.Push(task); err != nil {
		d.release(stageAnalyze, task.JobID)
		return err
	}
	metrics.SetQueueDepth(stageAnalyze, d.analyzeQ.Len())
	return nil
}

// EnqueueAdjust 投递调速任务。作业已在排队时返回 nil 且不入队。
func (d *Dispatcher) EnqueueAdjust(task jobs.AdjustTask) error {
	if !d.claim(stageAdjust, task.JobID) {
		return nil
	}
	if err := d.adjustQ.Push(task); err != nil {
		d.release(stageAdjust, task.JobID)
		return err
	}
	metrics.SetQueueDepth(stageAdjust, d.adjustQ.Len())
	return nil
}

// Stop 关闭队列、取消执行中的任务并等待 worker 退出
func (d *Dispatcher) Stop() {
	d.analyzeQ.Close()
	d.adjustQ.Close()
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) claim(stage, jobID string) bool {
	if _, loaded := d.queued.LoadOrStore(stage+":"+jobID, struct{}{}); loaded {
		d.logger.Info("task already queued, delivery dropped", "stage", stage, "job_id", jobID)
		return false
	}
	return true
}

func (d *Dispatcher) release(stage, jobID string) {
	d.queued.Delete(stage + ":" + jobID)
}

// execute 运行任务并把 panic 转为 FAILED，保证 worker 不退出。
// 同一作业同一阶段的执行互斥，后到的任务在前一次结束后才读取台账状态。
func (d *Dispatcher) execute(ctx context.Context, stage, jobID string, run func() error) {
	unlock := d.running.lock(stage + ":" + jobID)
	defer unlock()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in coordinator", "stage", stage, "job_id", jobID, "panic", r, "stack", string(debug.Stack()))
			metrics.RecordJobError(string(INTERNAL))
			msg := FailureMessage(fmt.Errorf("panic: %v", r))
			if err := d.ledger.Fail(context.WithoutCancel(ctx), jobID, msg); err != nil {
				d.logger.Error("failed to record job failure", "job_id", jobID, "error", err)
			}
		}
	}()
	if err := run(); err != nil {
		d.logger.Debug("task finished with error", "stage", stage, "job_id", jobID, "error", err)
	}
}

// keyedMutex 按 key 加锁，无人持有或等待时回收条目
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
