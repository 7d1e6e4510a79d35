package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/wpmnorm/cmd/server/internal/ledger"
	"github.com/houzhh15/wpmnorm/pkg/jobs"
)

type blockingRunner struct {
	release chan struct{}
	calls   atomic.Int32
	panicOn string
}

func (r *blockingRunner) Run(ctx context.Context, task jobs.AnalyzeTask) error {
	r.calls.Add(1)
	if task.JobID == r.panicOn {
		panic("boom")
	}
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return nil
}

type countingAdjust struct {
	mu    sync.Mutex
	tasks []jobs.AdjustTask
}

func (c *countingAdjust) Run(ctx context.Context, task jobs.AdjustTask) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, task)
	return nil
}

func (c *countingAdjust) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

func TestSafeQueue(t *testing.T) {
	q := NewSafeQueue[int](1)
	require.NoError(t, q.Push(1))
	assert.ErrorIs(t, q.Push(2), ErrQueueFull)
	assert.Equal(t, 1, q.Len())

	v, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Push(3), ErrQueueClosed)
	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestDispatcher_DropsDuplicateDeliveries(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	d := NewDispatcher(runner, &countingAdjust{}, ledger.New(ledger.NewMemoryStore(), nil),
		DispatcherConfig{AnalyzeWorkers: 1, AdjustWorkers: 1, QueueSize: 10}, nil)
	d.Start(context.Background())
	defer d.Stop()

	// 唯一的 worker 被 job0 占住，job1 停留在队列中
	require.NoError(t, d.EnqueueAnalyze(jobs.AnalyzeTask{JobID: "job0"}))
	assert.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, d.EnqueueAnalyze(jobs.AnalyzeTask{JobID: "job1"}))
	require.NoError(t, d.EnqueueAnalyze(jobs.AnalyzeTask{JobID: "job1"}))
	assert.Equal(t, 1, d.analyzeQ.Len())

	close(runner.release)
	assert.Eventually(t, func() bool { return runner.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return runner.calls.Load() > 2 }, 50*time.Millisecond, 5*time.Millisecond)

	// 出队后允许再次投递
	require.NoError(t, d.EnqueueAnalyze(jobs.AnalyzeTask{JobID: "job1"}))
	assert.Eventually(t, func() bool { return runner.calls.Load() == 3 }, time.Second, 5*time.Millisecond)
}

// failingAdjust 第一次执行写入 FAILED 后停在 gate 上，之后委托给真实的协调器
type failingAdjust struct {
	ledger *ledger.Ledger
	next   AdjustRunner
	failed chan struct{}
	gate   chan struct{}

	calls   atomic.Int32
	running atomic.Int32
	peak    atomic.Int32
}

func (f *failingAdjust) Run(ctx context.Context, task jobs.AdjustTask) error {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.calls.Add(1) == 1 {
		if err := f.ledger.Fail(ctx, task.JobID, "stretch failed"); err != nil {
			return err
		}
		close(f.failed)
		<-f.gate
		return nil
	}
	return f.next.Run(ctx, task)
}

func TestDispatcher_ResubmitDuringFailedRunIsNotDropped(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, scenarioUtterances())
	require.NoError(t, e.analyze.Run(ctx, e.upload(t, "job1")))
	first := e.submit(t, "job1", jobs.Target{SpeakerID: "speaker_A", TargetWPM: 90})

	runner := &failingAdjust{
		ledger: e.ledger,
		next:   e.adjust,
		failed: make(chan struct{}),
		gate:   make(chan struct{}),
	}
	d := NewDispatcher(&blockingRunner{release: make(chan struct{})}, runner, e.ledger,
		DispatcherConfig{AnalyzeWorkers: 1, AdjustWorkers: 2, QueueSize: 10}, nil)
	d.Start(ctx)
	defer d.Stop()

	require.NoError(t, d.EnqueueAdjust(first))
	select {
	case <-runner.failed:
	case <-time.After(time.Second):
		t.Fatal("first run never failed the job")
	}
	assert.Equal(t, jobs.StatusFailed, e.job(t, "job1").Status)

	// 第一次执行已写入 FAILED 但尚未返回，此时重新提交
	second := e.submit(t, "job1", jobs.Target{SpeakerID: "speaker_A", TargetWPM: 120})
	require.NoError(t, d.EnqueueAdjust(second))
	assert.Equal(t, jobs.StatusQueuedForAdjustment, e.job(t, "job1").Status)

	// 空闲的第二个 worker 也不能与第一次执行并发
	assert.Never(t, func() bool { return runner.calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	close(runner.gate)
	assert.Eventually(t, func() bool {
		j, err := e.ledger.Job(ctx, "job1")
		return err == nil && j.Status == jobs.StatusComplete
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), runner.calls.Load())
	assert.Equal(t, int32(1), runner.peak.Load())
}

func TestKeyedMutex(t *testing.T) {
	var k keyedMutex
	unlock := k.lock("adjust:job1")

	acquired := make(chan struct{})
	go func() {
		defer k.lock("adjust:job1")()
		close(acquired)
	}()

	// 不同 key 互不阻塞
	k.lock("adjust:job2")()

	select {
	case <-acquired:
		t.Fatal("same key acquired twice")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	assert.Eventually(t, func() bool {
		k.mu.Lock()
		defer k.mu.Unlock()
		return len(k.locks) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_PanicFailsJob(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(ledger.NewMemoryStore(), nil)
	require.NoError(t, l.CreateJob(ctx, "bad", "/f", "f.wav"))

	runner := &blockingRunner{release: make(chan struct{}), panicOn: "bad"}
	close(runner.release)
	d := NewDispatcher(runner, &countingAdjust{}, l, DispatcherConfig{AnalyzeWorkers: 1}, nil)
	d.Start(ctx)
	defer d.Stop()

	require.NoError(t, d.EnqueueAnalyze(jobs.AnalyzeTask{JobID: "bad"}))
	assert.Eventually(t, func() bool {
		j, err := l.Job(ctx, "bad")
		return err == nil && j.Status == jobs.StatusFailed
	}, time.Second, 5*time.Millisecond)
	j, err := l.Job(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, "[INTERNAL] panic: boom", j.Error)

	// worker 仍然存活
	require.NoError(t, d.EnqueueAnalyze(jobs.AnalyzeTask{JobID: "good"}))
	assert.Eventually(t, func() bool { return runner.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_StoppedRejects(t *testing.T) {
	d := NewDispatcher(&blockingRunner{release: make(chan struct{})}, &countingAdjust{},
		ledger.New(ledger.NewMemoryStore(), nil), DispatcherConfig{}, nil)
	d.Start(context.Background())
	d.Stop()
	assert.ErrorIs(t, d.EnqueueAdjust(jobs.AdjustTask{JobID: "x"}), ErrQueueClosed)
}

type recordingQueue struct {
	analyze []jobs.AnalyzeTask
	adjust  []jobs.AdjustTask
}

func (q *recordingQueue) EnqueueAnalyze(t jobs.AnalyzeTask) error {
	q.analyze = append(q.analyze, t)
	return nil
}

func (q *recordingQueue) EnqueueAdjust(t jobs.AdjustTask) error {
	q.adjust = append(q.adjust, t)
	return nil
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, scenarioUtterances())

	// 分析中
	e.upload(t, "analyzing")
	require.NoError(t, e.ledger.Advance(ctx, "analyzing", jobs.StatusProcessingUploadCloud, nil))

	// 等待输入
	require.NoError(t, e.analyze.Run(ctx, e.upload(t, "ready")))

	// 已排队
	require.NoError(t, e.analyze.Run(ctx, e.upload(t, "queued")))
	e.submit(t, "queued", jobs.Target{SpeakerID: "speaker_A", TargetWPM: 90})

	// 调速中被中断
	require.NoError(t, e.analyze.Run(ctx, e.upload(t, "running")))
	e.submit(t, "running", jobs.Target{SpeakerID: "speaker_A", TargetWPM: 120})
	require.NoError(t, e.ledger.Advance(ctx, "running", jobs.StatusProcessingAdjustment, nil))

	q := &recordingQueue{}
	report, err := Recover(ctx, e.ledger, q, nil)
	require.NoError(t, err)

	assert.Equal(t, RecoveryReport{Analyze: 1, Adjust: 2, Interrupted: 1}, report)
	require.Len(t, q.analyze, 1)
	assert.Equal(t, "analyzing", q.analyze[0].JobID)

	ids := []string{q.adjust[0].JobID, q.adjust[1].JobID}
	assert.ElementsMatch(t, []string{"queued", "running"}, ids)

	j := e.job(t, "running")
	assert.Equal(t, jobs.StatusQueuedForAdjustment, j.Status)
	assert.Empty(t, j.Error)
	targets, err := j.Targets()
	require.NoError(t, err)
	assert.Equal(t, 120.0, targets[0].TargetWPM)

	assert.Equal(t, jobs.StatusReadyForInput, e.job(t, "ready").Status)

	// 恢复后的调速任务可以正常完成
	for _, task := range q.adjust {
		require.NoError(t, e.adjust.Run(ctx, task))
		assert.Equal(t, jobs.StatusComplete, e.job(t, task.JobID).Status)
	}
}
