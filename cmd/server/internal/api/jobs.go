package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/houzhh15/wpmnorm/cmd/server/internal/ledger"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/orchestrator"
	"github.com/houzhh15/wpmnorm/pkg/jobs"
)

// AllowedExtensions 允许上传的音频格式
var AllowedExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".webm": true,
	".mp4":  true,
	".aac":  true,
}

// UploadPaths 决定上传文件的保存位置，dependency.PathManager 实现该接口
type UploadPaths interface {
	UploadPath(jobID, ext string) string
}

// JobHandlers 作业相关接口
type JobHandlers struct {
	ledger         *ledger.Ledger
	queue          orchestrator.Queue
	paths          UploadPaths
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewJobHandlers 创建作业接口处理器
func NewJobHandlers(l *ledger.Ledger, q orchestrator.Queue, paths UploadPaths, maxUploadBytes int64, log *slog.Logger) *JobHandlers {
	if log == nil {
		log = slog.Default()
	}
	return &JobHandlers{ledger: l, queue: q, paths: paths, maxUploadBytes: maxUploadBytes, logger: log}
}

// JobView 作业状态响应
type JobView struct {
	JobID            string            `json:"jobId"`
	Status           string            `json:"status"`
	OriginalFilename string            `json:"originalFilename"`
	CreatedAt        *time.Time        `json:"createdAt,omitempty"`
	UpdatedAt        *time.Time        `json:"updatedAt,omitempty"`
	Speakers         []jobs.SpeakerWPM `json:"speakers,omitempty"`
	Targets          []jobs.Target     `json:"targets,omitempty"`
	Error            string            `json:"error,omitempty"`
	DataError        string            `json:"dataError,omitempty"`
	OutputReady      bool              `json:"outputReady"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// viewOf 把台账快照转为响应；结构化字段损坏时仍返回状态与错误
func viewOf(j *ledger.Job) JobView {
	v := JobView{
		JobID:            j.ID,
		Status:           j.RawStatus,
		OriginalFilename: j.OriginalFilename,
		CreatedAt:        timePtr(j.CreatedAt),
		UpdatedAt:        timePtr(j.UpdatedAt),
		Error:            j.Error,
		OutputReady:      j.Status == jobs.StatusComplete && j.OutputFilePath != "",
	}
	var dataErrs []string
	if j.Has(ledger.FieldSpeakers) {
		sp, err := j.Speakers()
		if err != nil {
			dataErrs = append(dataErrs, err.Error())
		}
		v.Speakers = sp
	}
	targets, err := j.Targets()
	if err != nil {
		dataErrs = append(dataErrs, err.Error())
	}
	v.Targets = targets
	v.DataError = strings.Join(dataErrs, "; ")
	return v
}

// Create 上传音频并创建作业
// POST /api/v1/jobs (multipart, 字段 file)
func (h *JobHandlers) Create(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorResponse(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB limit", h.maxUploadBytes>>20))
			return
		}
		badRequestResponse(c, fmt.Sprintf("missing multipart field 'file': %v", err))
		return
	}

	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		errorResponse(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB limit", h.maxUploadBytes>>20))
		return
	}
	if file.Size == 0 {
		badRequestResponse(c, "file is empty")
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !AllowedExtensions[ext] {
		badRequestResponse(c, fmt.Sprintf("unsupported file format: %q", ext))
		return
	}

	jobID := uuid.NewString()
	savePath := h.paths.UploadPath(jobID, ext)
	if err := c.SaveUploadedFile(file, savePath); err != nil {
		h.logger.Error("failed to save upload", "job_id", jobID, "error", err)
		internalErrorResponse(c)
		return
	}

	originalName := filepath.Base(file.Filename)
	if err := h.ledger.CreateJob(c.Request.Context(), jobID, savePath, originalName); err != nil {
		h.logger.Error("failed to create job", "job_id", jobID, "error", err)
		_ = os.Remove(savePath)
		internalErrorResponse(c)
		return
	}

	if err := h.queue.EnqueueAnalyze(jobs.AnalyzeTask{JobID: jobID, FilePath: savePath, OriginalFilename: originalName}); err != nil {
		h.logger.Warn("failed to dispatch analysis", "job_id", jobID, "error", err)
		_ = h.ledger.Fail(c.Request.Context(), jobID, "not dispatched: "+err.Error())
		errorResponse(c, http.StatusServiceUnavailable, "server busy, try again later")
		return
	}

	h.logger.Info("job created", "job_id", jobID, "filename", originalName, "size_bytes", file.Size)
	successResponse(c, http.StatusAccepted, gin.H{
		"jobId":  jobID,
		"status": jobs.StatusPending,
	})
}

// Get 查询作业状态
// GET /api/v1/jobs/:id
func (h *JobHandlers) Get(c *gin.Context) {
	j, ok := h.loadJob(c)
	if !ok {
		return
	}
	successResponse(c, http.StatusOK, viewOf(j))
}

// AdjustRequest 调速请求体
type AdjustRequest struct {
	Targets []jobs.Target `json:"targets" binding:"required"`
}

// Adjust 提交目标语速
// POST /api/v1/jobs/:id/adjust
func (h *JobHandlers) Adjust(c *gin.Context) {
	id := c.Param("id")

	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestResponse(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Targets) == 0 {
		badRequestResponse(c, "targets must not be empty")
		return
	}

	j, err := h.ledger.SubmitAdjustment(c.Request.Context(), id, req.Targets)
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrInvalidData):
		badRequestResponse(c, err.Error())
		return
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrInvalidJobID):
		notFoundResponse(c, "job")
		return
	case errors.Is(err, ledger.ErrNotRetryable):
		errorResponse(c, http.StatusConflict, err.Error())
		return
	default:
		h.logger.Error("failed to submit adjustment", "job_id", id, "error", err)
		internalErrorResponse(c)
		return
	}

	task := jobs.AdjustTask{JobID: id, FilePath: j.FilePath, OriginalFilename: j.OriginalFilename, Targets: req.Targets}
	if err := h.queue.EnqueueAdjust(task); err != nil {
		h.logger.Warn("failed to dispatch adjustment", "job_id", id, "error", err)
		_ = h.ledger.Fail(c.Request.Context(), id, "not dispatched: "+err.Error())
		errorResponse(c, http.StatusServiceUnavailable, "server busy, try again later")
		return
	}

	successResponse(c, http.StatusAccepted, gin.H{
		"jobId":  id,
		"status": jobs.StatusQueuedForAdjustment,
	})
}

// Download 下载调速后的音频
// GET /api/v1/jobs/:id/download
func (h *JobHandlers) Download(c *gin.Context) {
	j, ok := h.loadJob(c)
	if !ok {
		return
	}
	if j.Status != jobs.StatusComplete || j.OutputFilePath == "" {
		errorResponse(c, http.StatusConflict, fmt.Sprintf("output not ready (status %s)", j.RawStatus))
		return
	}
	if _, err := os.Stat(j.OutputFilePath); err != nil {
		h.logger.Error("output file missing", "job_id", j.ID, "path", j.OutputFilePath, "error", err)
		errorResponse(c, http.StatusGone, "output file is no longer available")
		return
	}
	c.FileAttachment(j.OutputFilePath, downloadName(j.OriginalFilename, j.OutputFilePath))
}

func downloadName(original, outputPath string) string {
	base := strings.TrimSuffix(original, filepath.Ext(original))
	if base == "" {
		base = "audio"
	}
	return base + "_normalized" + filepath.Ext(outputPath)
}

func (h *JobHandlers) loadJob(c *gin.Context) (*ledger.Job, bool) {
	id := c.Param("id")
	j, err := h.ledger.Job(c.Request.Context(), id)
	switch {
	case err == nil:
		return j, true
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrInvalidJobID):
		notFoundResponse(c, "job")
	default:
		h.logger.Error("failed to read job", "job_id", id, "error", err)
		internalErrorResponse(c)
	}
	return nil, false
}
