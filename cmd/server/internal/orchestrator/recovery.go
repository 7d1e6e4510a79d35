package orchestrator

import (
	"context"
	"log/slog"

	"github.com/houzhh15/wpmnorm/cmd/server/internal/ledger"
	"github.com/houzhh15/wpmnorm/pkg/jobs"
	"github.com/houzhh15/wpmnorm/pkg/logger"
)

// Queue 接收任务投递，Dispatcher 实现该接口
type Queue interface {
	EnqueueAnalyze(task jobs.AnalyzeTask) error
	EnqueueAdjust(task jobs.AdjustTask) error
}

// RecoveryReport 启动恢复结果统计
type RecoveryReport struct {
	Analyze     int `json:"analyze"`
	Adjust      int `json:"adjust"`
	Interrupted int `json:"interrupted"`
	Failed      int `json:"failed"`
}

// InterruptedMessage 进程重启时正在调速的作业写入的错误信息
const InterruptedMessage = "interrupted by restart"

// Recover 扫描台账中未结束的作业并重新投递：
// 分析阶段作业直接重新投递（协调器按台账状态续跑）；
// 排队中的调速作业直接重新投递；
// 执行中的调速作业先标记 FAILED，再用已保存的 targets 重新提交。
func Recover(ctx context.Context, l *ledger.Ledger, q Queue, log *slog.Logger) (RecoveryReport, error) {
	if log == nil {
		log = slog.Default()
	}
	var report RecoveryReport

	unfinished, err := l.Unfinished(ctx)
	if err != nil {
		return report, err
	}

	for _, j := range unfinished {
		jlog := logger.ForJob(log, j.ID, "status", j.RawStatus)
		switch {
		case j.Status.IsAnalysisStage():
			if err := q.EnqueueAnalyze(jobs.AnalyzeTask{JobID: j.ID, FilePath: j.FilePath, OriginalFilename: j.OriginalFilename}); err != nil {
				jlog.Error("failed to re-dispatch analysis", "error", err)
				report.Failed++
				continue
			}
			report.Analyze++

		case j.Status == jobs.StatusQueuedForAdjustment:
			if err := q.EnqueueAdjust(jobs.AdjustTask{JobID: j.ID, FilePath: j.FilePath, OriginalFilename: j.OriginalFilename}); err != nil {
				jlog.Error("failed to re-dispatch adjustment", "error", err)
				report.Failed++
				continue
			}
			report.Adjust++

		case j.Status.IsAdjustStage():
			report.Interrupted++
			if err := l.Fail(ctx, j.ID, InterruptedMessage); err != nil {
				jlog.Error("failed to mark interrupted job", "error", err)
				report.Failed++
				continue
			}
			targets, err := j.Targets()
			if err != nil || len(targets) == 0 {
				jlog.Warn("interrupted job has no usable targets, left failed", "error", err)
				continue
			}
			if _, err := l.SubmitAdjustment(ctx, j.ID, targets); err != nil {
				jlog.Error("failed to resubmit interrupted job", "error", err)
				report.Failed++
				continue
			}
			if err := q.EnqueueAdjust(jobs.AdjustTask{JobID: j.ID, FilePath: j.FilePath, OriginalFilename: j.OriginalFilename, Targets: targets}); err != nil {
				jlog.Error("failed to re-dispatch adjustment", "error", err)
				report.Failed++
				continue
			}
			report.Adjust++
		}
	}

	log.Info("recovery finished", "analyze", report.Analyze, "adjust", report.Adjust,
		"interrupted", report.Interrupted, "failed", report.Failed)
	return report, nil
}
