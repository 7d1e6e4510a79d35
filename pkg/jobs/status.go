package jobs

import "fmt"

// Status 表示作业在状态机中的位置，取值为封闭集合
type Status string

const (
	StatusPending                  Status = "PENDING"
	StatusProcessingUploadCloud    Status = "PROCESSING_UPLOAD_CLOUD"
	StatusProcessingCloudAnalysis  Status = "PROCESSING_CLOUD_ANALYSIS"
	StatusProcessingWPMCalculation Status = "PROCESSING_WPM_CALCULATION"
	StatusReadyForInput            Status = "READY_FOR_INPUT"
	StatusQueuedForAdjustment      Status = "QUEUED_FOR_ADJUSTMENT"
	StatusProcessingAdjustment     Status = "PROCESSING_ADJUSTMENT"
	StatusProcessingReconstruction Status = "PROCESSING_RECONSTRUCTION"
	StatusComplete                 Status = "COMPLETE"
	StatusFailed                   Status = "FAILED"
)

// AllStatuses 按状态机顺序列出全部状态
var AllStatuses = []Status{
	StatusPending,
	StatusProcessingUploadCloud,
	StatusProcessingCloudAnalysis,
	StatusProcessingWPMCalculation,
	StatusReadyForInput,
	StatusQueuedForAdjustment,
	StatusProcessingAdjustment,
	StatusProcessingReconstruction,
	StatusComplete,
	StatusFailed,
}

// forward 记录每个状态唯一合法的前进方向
var forward = map[Status]Status{
	StatusPending:                  StatusProcessingUploadCloud,
	StatusProcessingUploadCloud:    StatusProcessingCloudAnalysis,
	StatusProcessingCloudAnalysis:  StatusProcessingWPMCalculation,
	StatusProcessingWPMCalculation: StatusReadyForInput,
	StatusReadyForInput:            StatusQueuedForAdjustment,
	StatusQueuedForAdjustment:      StatusProcessingAdjustment,
	StatusProcessingAdjustment:     StatusProcessingReconstruction,
	StatusProcessingReconstruction: StatusComplete,
}

// ParseStatus 将存储中的字符串还原为 Status，未知值返回错误
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	for _, known := range AllStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// IsTerminal COMPLETE 与 FAILED 不会自行推进
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// IsAnalysisStage 表示作业仍处于分析阶段（READY_FOR_INPUT 之前）
func (s Status) IsAnalysisStage() bool {
	switch s {
	case StatusPending, StatusProcessingUploadCloud, StatusProcessingCloudAnalysis, StatusProcessingWPMCalculation:
		return true
	}
	return false
}

// IsAdjustStage 表示作业已进入调速队列或正在处理
func (s Status) IsAdjustStage() bool {
	switch s {
	case StatusQueuedForAdjustment, StatusProcessingAdjustment, StatusProcessingReconstruction:
		return true
	}
	return false
}

// CanTransition 判断 from -> to 是否在转移表中。
// 相同状态视为幂等写入，允许通过。
// FAILED -> QUEUED_FOR_ADJUSTMENT 是唯一的回退路径，是否具备分析数据由账本检查。
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from == StatusComplete {
		return false
	}
	if to == StatusFailed {
		return true
	}
	if from == StatusFailed {
		return to == StatusQueuedForAdjustment
	}
	return forward[from] == to
}
