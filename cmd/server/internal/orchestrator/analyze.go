package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/houzhh15/wpmnorm/cmd/server/internal/ledger"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/metrics"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/orchestrator/asr"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/timeline"
	"github.com/houzhh15/wpmnorm/pkg/jobs"
	"github.com/houzhh15/wpmnorm/pkg/logger"
	"github.com/houzhh15/wpmnorm/pkg/wpm"
)

// AnalyzeCoordinator 驱动分析阶段：上传 → 云端转写 → WPM 计算 → READY_FOR_INPUT。
// 支持从任一分析状态恢复：已有 asrTranscriptId 时直接继续轮询，不重复上传。
type AnalyzeCoordinator struct {
	ledger      *ledger.Ledger
	transcriber asr.Transcriber
	poller      *asr.Poller
	gapPolicy   timeline.GapPolicy
	logger      *slog.Logger
}

// NewAnalyzeCoordinator 创建分析协调器
func NewAnalyzeCoordinator(l *ledger.Ledger, t asr.Transcriber, p *asr.Poller, gap timeline.GapPolicy, log *slog.Logger) *AnalyzeCoordinator {
	if log == nil {
		log = slog.Default()
	}
	return &AnalyzeCoordinator{ledger: l, transcriber: t, poller: p, gapPolicy: gap, logger: log.With("component", "analyze")}
}

// Run 处理一个分析任务。返回的错误仅用于日志，作业状态已写入台账。
func (c *AnalyzeCoordinator) Run(ctx context.Context, task jobs.AnalyzeTask) error {
	started := time.Now()
	log := logger.ForJob(c.logger, task.JobID)

	job, err := c.ledger.Job(ctx, task.JobID)
	if err != nil {
		log.Error("failed to read job", "error", err)
		return err
	}
	if !job.Status.IsAnalysisStage() {
		log.Info("job is not in an analysis stage, skipping", "status", job.RawStatus)
		return nil
	}

	transcriptID := job.TranscriptID
	uploading := job.Status == jobs.StatusPending || job.Status == jobs.StatusProcessingUploadCloud
	if !uploading && transcriptID == "" {
		return c.fail(ctx, log, task.JobID, NewOrchError(LEDGER_CORRUPT, "analysis in progress without transcript id", nil))
	}
	if uploading {
		// 上传阶段没有记录转写句柄，需要重新上传
		if err := c.ledger.Advance(ctx, task.JobID, jobs.StatusProcessingUploadCloud, nil); err != nil {
			return c.ledgerWriteFailed(log, err)
		}

		audioURL, err := c.transcriber.Upload(ctx, job.FilePath)
		if err != nil {
			return c.fail(ctx, log, task.JobID, NewOrchError(ASR_UPLOAD_FAILED, "audio upload failed", err))
		}
		transcriptID, err = c.transcriber.Submit(ctx, audioURL)
		if err != nil {
			return c.fail(ctx, log, task.JobID, NewOrchError(ASR_SUBMIT_FAILED, "transcription submit failed", err))
		}
		if err := c.ledger.StartCloudAnalysis(ctx, task.JobID, transcriptID); err != nil {
			return c.ledgerWriteFailed(log, err)
		}
		log.Info("transcription submitted", "transcript_id", transcriptID)
	}

	transcript, err := c.poller.Wait(ctx, transcriptID)
	if err != nil {
		var perr *asr.ProcessingError
		switch {
		case errors.As(err, &perr):
			return c.fail(ctx, log, task.JobID, NewOrchError(ASR_PROCESSING_ERROR, "transcription failed", err))
		case errors.Is(err, asr.ErrTimeout):
			return c.fail(ctx, log, task.JobID, NewOrchError(ASR_TIMEOUT, "transcription timed out", err))
		default:
			return c.fail(ctx, log, task.JobID, NewOrchError(ASR_PROCESSING_ERROR, "transcription polling failed", err))
		}
	}

	if err := c.ledger.Advance(ctx, task.JobID, jobs.StatusProcessingWPMCalculation, nil); err != nil {
		return c.ledgerWriteFailed(log, err)
	}

	speakers := wpm.Calculate(transcript.Utterances)
	segments := timeline.Build(transcript.Utterances, c.gapPolicy)

	if err := c.ledger.MarkReady(ctx, task.JobID, speakers, segments); err != nil {
		return c.ledgerWriteFailed(log, err)
	}

	metrics.RecordStageDuration("analyze", time.Since(started).Seconds())
	log.Info("analysis complete", "speakers", len(speakers), "segments", len(segments),
		"duration_ms", time.Since(started).Milliseconds())
	return nil
}

func (c *AnalyzeCoordinator) fail(ctx context.Context, log *slog.Logger, jobID string, oerr *OrchError) error {
	return failJob(ctx, c.ledger, log, jobID, oerr)
}

func (c *AnalyzeCoordinator) ledgerWriteFailed(log *slog.Logger, err error) error {
	log.Error("ledger write failed, stopping run", "error", err)
	return err
}

// failJob 记录 FAILED。上下文已取消（进程关闭）时不写台账，由启动恢复接管。
func failJob(ctx context.Context, l *ledger.Ledger, log *slog.Logger, jobID string, oerr *OrchError) error {
	if ctx.Err() != nil {
		log.Warn("run interrupted", "code", oerr.Code, "error", oerr)
		return ctx.Err()
	}
	metrics.RecordJobError(string(oerr.Code))
	log.Error("job failed", "code", oerr.Code, "error", oerr)
	if err := l.Fail(context.WithoutCancel(ctx), jobID, FailureMessage(oerr)); err != nil {
		log.Error("failed to record job failure", "error", err)
	}
	return oerr
}
