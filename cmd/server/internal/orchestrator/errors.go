package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode 表示作业处理错误类型代码
type ErrorCode string

const (
	// ASR_UPLOAD_FAILED 音频上传到识别服务失败
	ASR_UPLOAD_FAILED ErrorCode = "ASR_UPLOAD_FAILED"

	// ASR_SUBMIT_FAILED 提交转写任务失败
	ASR_SUBMIT_FAILED ErrorCode = "ASR_SUBMIT_FAILED"

	// ASR_TIMEOUT 轮询次数耗尽仍未完成
	ASR_TIMEOUT ErrorCode = "ASR_TIMEOUT"

	// ASR_PROCESSING_ERROR 识别服务返回 error 状态或轮询请求失败
	ASR_PROCESSING_ERROR ErrorCode = "ASR_PROCESSING_ERROR"

	// LEDGER_CORRUPT 台账中的分析数据无法解析
	LEDGER_CORRUPT ErrorCode = "LEDGER_CORRUPT"

	// EXTRACT_FAILED 片段提取失败
	EXTRACT_FAILED ErrorCode = "EXTRACT_FAILED"

	// STRETCH_FAILED 变速处理失败
	STRETCH_FAILED ErrorCode = "STRETCH_FAILED"

	// CONCAT_FAILED 片段拼接失败
	CONCAT_FAILED ErrorCode = "CONCAT_FAILED"

	// NO_AUDIO_SEGMENTS 没有可拼接的片段
	NO_AUDIO_SEGMENTS ErrorCode = "NO_AUDIO_SEGMENTS"

	// INTERNAL 未分类错误（含 panic）
	INTERNAL ErrorCode = "INTERNAL"
)

// OrchError 表示作业处理错误
type OrchError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error 实现 error 接口
func (e *OrchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现错误链支持
func (e *OrchError) Unwrap() error {
	return e.Cause
}

// NewOrchError 创建新的错误
func NewOrchError(code ErrorCode, message string, cause error) *OrchError {
	return &OrchError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// CodeOf 提取错误码，非 OrchError 返回 INTERNAL
func CodeOf(err error) ErrorCode {
	var oe *OrchError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return INTERNAL
}

// FailureMessage 返回写入台账 error 字段的文本，始终带错误码前缀
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	var oe *OrchError
	if errors.As(err, &oe) {
		return oe.Error()
	}
	return fmt.Sprintf("[%s] %v", INTERNAL, err)
}
