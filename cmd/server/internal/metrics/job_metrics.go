package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobTransitionsTotal 作业状态写入次数
	// Labels: status (PENDING/READY_FOR_INPUT/COMPLETE/FAILED/...)
	JobTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wpmnorm_job_transitions_total",
			Help: "Total number of job status transitions by target status",
		},
		[]string{"status"},
	)

	// JobStageDuration 协调器各阶段耗时直方图（秒）
	// Labels: stage (upload/transcribe/wpm/adjust/reconstruct)
	JobStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wpmnorm_job_stage_duration_seconds",
			Help:    "Job stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900},
		},
		[]string{"stage"},
	)

	// SegmentsTotal 片段处理计数
	// Labels: action (extracted/stretched/passthrough/skipped)
	SegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wpmnorm_segments_total",
			Help: "Total number of timeline segments handled by action",
		},
		[]string{"action"},
	)

	// TempoFactor 实际执行拉伸的速度系数分布
	TempoFactor = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wpmnorm_tempo_factor",
			Help:    "Distribution of applied tempo factors",
			Buckets: []float64{0.5, 0.67, 0.8, 0.9, 0.99, 1.01, 1.1, 1.25, 1.5, 2, 3},
		},
	)

	// JobErrorsTotal 作业失败计数
	// Labels: code (ASR_TIMEOUT/EXTRACT_FAILED/...)
	JobErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wpmnorm_job_errors_total",
			Help: "Total number of failed jobs by error code",
		},
		[]string{"code"},
	)

	// DependencyHealthy 依赖健康状态（0=异常，1=正常）
	// Labels: dependency (asr/audio_tools)
	DependencyHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wpmnorm_dependency_healthy",
			Help: "Dependency health status (0=unhealthy, 1=healthy)",
		},
		[]string{"dependency"},
	)

	// QueueDepth 待处理任务数
	// Labels: queue (analyze/adjust)
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wpmnorm_queue_depth",
			Help: "Number of tasks waiting in dispatch queues",
		},
		[]string{"queue"},
	)
)

// RecordTransition 记录状态写入
func RecordTransition(status string) {
	JobTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordStageDuration 记录阶段耗时（秒）
func RecordStageDuration(stage string, durationSeconds float64) {
	JobStageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordSegment 记录片段处理动作
func RecordSegment(action string) {
	SegmentsTotal.WithLabelValues(action).Inc()
}

// RecordTempoFactor 记录一次实际拉伸的系数
func RecordTempoFactor(factor float64) {
	TempoFactor.Observe(factor)
}

// RecordJobError 记录作业失败
func RecordJobError(code string) {
	JobErrorsTotal.WithLabelValues(code).Inc()
}

// SetDependencyHealthy 设置依赖健康状态
func SetDependencyHealthy(dependency string, healthy bool) {
	if healthy {
		DependencyHealthy.WithLabelValues(dependency).Set(1)
	} else {
		DependencyHealthy.WithLabelValues(dependency).Set(0)
	}
}

// SetQueueDepth 设置队列深度
func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}
