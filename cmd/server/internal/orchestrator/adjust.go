package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/houzhh15/wpmnorm/cmd/server/internal/ledger"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/metrics"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/orchestrator/segment"
	"github.com/houzhh15/wpmnorm/pkg/jobs"
	"github.com/houzhh15/wpmnorm/pkg/logger"
)

// Workspace 提供作业工作目录和输出路径，dependency.PathManager 实现该接口
type Workspace interface {
	segment.Namer
	ResetJobWorkDir(jobID string) (string, error)
	RemoveJobWorkDir(jobID string) error
	OutputPath(jobID, ext string) string
}

// AdjustCoordinator 驱动调速阶段：读取台账中的分析结果 → 逐段提取/变速 → 拼接 → COMPLETE。
// 任一片段失败即整体失败，工作目录总会被清理。
type AdjustCoordinator struct {
	ledger        *ledger.Ledger
	workspace     Workspace
	processor     *segment.Processor
	reconstructor *segment.Reconstructor
	outputExt     string
	logger        *slog.Logger
}

// NewAdjustCoordinator 创建调速协调器，outputExt 为输出文件扩展名（不含点）
func NewAdjustCoordinator(l *ledger.Ledger, ws Workspace, p *segment.Processor, r *segment.Reconstructor, outputExt string, log *slog.Logger) *AdjustCoordinator {
	if log == nil {
		log = slog.Default()
	}
	if outputExt == "" {
		outputExt = "mp3"
	}
	return &AdjustCoordinator{
		ledger:        l,
		workspace:     ws,
		processor:     p,
		reconstructor: r,
		outputExt:     outputExt,
		logger:        log.With("component", "adjust"),
	}
}

// Run 处理一个调速任务。任务中的 Targets 优先，缺省时使用台账中提交的 targets。
func (c *AdjustCoordinator) Run(ctx context.Context, task jobs.AdjustTask) error {
	started := time.Now()
	log := logger.ForJob(c.logger, task.JobID)

	job, err := c.ledger.Job(ctx, task.JobID)
	if err != nil {
		log.Error("failed to read job", "error", err)
		return err
	}
	if job.Status != jobs.StatusQueuedForAdjustment {
		log.Info("job is not queued for adjustment, skipping", "status", job.RawStatus)
		return nil
	}

	targets := task.Targets
	if len(targets) == 0 {
		if targets, err = job.Targets(); err != nil {
			return c.fail(ctx, log, task.JobID, NewOrchError(LEDGER_CORRUPT, "stored targets are invalid", err))
		}
	}
	speakers, err := job.Speakers()
	if err != nil {
		return c.fail(ctx, log, task.JobID, NewOrchError(LEDGER_CORRUPT, "stored speakers are invalid", err))
	}
	segments, err := job.Segments()
	if err != nil {
		return c.fail(ctx, log, task.JobID, NewOrchError(LEDGER_CORRUPT, "stored segments are invalid", err))
	}

	if err := c.ledger.Advance(ctx, task.JobID, jobs.StatusProcessingAdjustment, nil); err != nil {
		log.Error("ledger write failed, stopping run", "error", err)
		return err
	}

	workDir, err := c.workspace.ResetJobWorkDir(task.JobID)
	if err != nil {
		return c.fail(ctx, log, task.JobID, NewOrchError(EXTRACT_FAILED, "cannot prepare work directory", err))
	}
	defer func() {
		if err := c.workspace.RemoveJobWorkDir(task.JobID); err != nil {
			log.Warn("failed to remove work directory", "dir", workDir, "error", err)
		}
	}()

	outputs, err := c.processor.Process(ctx, segment.Request{
		JobID:      task.JobID,
		SourcePath: job.FilePath,
		WorkDir:    workDir,
		Segments:   segments,
		Speakers:   speakers,
		Targets:    targets,
	})
	if err != nil {
		return c.fail(ctx, log, task.JobID, stageError(err))
	}

	if err := c.ledger.Advance(ctx, task.JobID, jobs.StatusProcessingReconstruction, nil); err != nil {
		log.Error("ledger write failed, stopping run", "error", err)
		return err
	}

	outPath := c.workspace.OutputPath(task.JobID, c.outputExt)
	if err := c.reconstructor.Reconstruct(ctx, workDir, outputs, outPath); err != nil {
		return c.fail(ctx, log, task.JobID, stageError(err))
	}

	if err := c.ledger.Complete(ctx, task.JobID, outPath); err != nil {
		log.Error("ledger write failed after output was produced", "output", outPath, "error", err)
		return err
	}

	stretched := 0
	for _, o := range outputs {
		if o.Decision.Stretch {
			stretched++
		}
	}
	metrics.RecordStageDuration("adjust", time.Since(started).Seconds())
	log.Info("adjustment complete", "segments", len(outputs), "stretched", stretched,
		"output", outPath, "duration_ms", time.Since(started).Milliseconds())
	return nil
}

func (c *AdjustCoordinator) fail(ctx context.Context, log *slog.Logger, jobID string, oerr *OrchError) error {
	return failJob(ctx, c.ledger, log, jobID, oerr)
}

// stageError 将片段处理错误映射为错误码
func stageError(err error) *OrchError {
	if errors.Is(err, segment.ErrNoSegments) {
		return NewOrchError(NO_AUDIO_SEGMENTS, "no audio segments to join", err)
	}
	var se *segment.StageError
	if errors.As(err, &se) {
		switch se.Stage {
		case segment.StageExtract:
			return NewOrchError(EXTRACT_FAILED, "segment extraction failed", err)
		case segment.StageStretch:
			return NewOrchError(STRETCH_FAILED, "segment stretch failed", err)
		case segment.StageConcatenate:
			return NewOrchError(CONCAT_FAILED, "concatenation failed", err)
		}
	}
	return NewOrchError(INTERNAL, "adjustment failed", err)
}
