package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 定义日志初始化配置
// Level 支持 debug/info/warn/error，Environment 为 prod 时输出 JSON，其余为文本
// Format 可显式指定 json/text（console 等同 text），优先于 Environment
// File 非空时同时写入按大小滚动的日志文件
type Config struct {
	Level       string
	Environment string
	Format      string
	WithSource  bool
	File        string
}

var (
	global *slog.Logger
	once   sync.Once
)

func levelFromString(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("invalid log level: " + level)
	}
}

func useJSON(cfg Config) bool {
	switch strings.ToLower(cfg.Format) {
	case "json":
		return true
	case "text", "console":
		return false
	}
	env := strings.ToLower(cfg.Environment)
	return env == "prod" || env == "production"
}

// New 根据配置创建新的 slog.Logger，不设置全局实例
func New(cfg Config) (*slog.Logger, error) {
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100, // MB
			MaxBackups: 7,
			MaxAge:     30, // days
			Compress:   true,
		})
	}
	return NewWithWriter(cfg, out)
}

// NewWithWriter 与 New 相同，但写入指定 writer（测试用）
func NewWithWriter(cfg Config, w io.Writer) (*slog.Logger, error) {
	lvl, err := levelFromString(cfg.Level)
	if err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl, AddSource: cfg.WithSource}
	var handler slog.Handler
	if useJSON(cfg) {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler), nil
}

// Init 初始化全局日志实例并设置为 slog 默认 logger，重复调用返回首次创建的实例
func Init(cfg Config) (*slog.Logger, error) {
	var initErr error
	once.Do(func() {
		global, initErr = New(cfg)
		if initErr == nil {
			slog.SetDefault(global)
		}
	})
	return global, initErr
}

// L 返回已初始化的全局 logger，未初始化时 panic
func L() *slog.Logger {
	if global == nil {
		panic("logger.Init must be called before logger.L")
	}
	return global
}

// JobIDKey 作业日志统一使用的字段名，便于按作业检索
const JobIDKey = "job_id"

// ForJob 返回带作业 ID 的子 logger，attrs 追加在 job_id 之后
func ForJob(l *slog.Logger, jobID string, attrs ...any) *slog.Logger {
	return l.With(append([]any{JobIDKey, jobID}, attrs...)...)
}

// LogSegmentProcessing 记录单个片段处理事件
// component: extract/stretch/passthrough/concatenate
// action: start/success/error
// segmentIndex: 片段在时间线中的序号
// durationMs: 处理耗时（毫秒）
// errorCode: 错误代码（可选）
func LogSegmentProcessing(logger *slog.Logger, component, action string, segmentIndex int, durationMs int64, errorCode string) {
	attrs := []slog.Attr{
		slog.String("component", component),
		slog.String("action", action),
		slog.Int("segment", segmentIndex),
		slog.Int64("duration_ms", durationMs),
	}

	if errorCode != "" {
		attrs = append(attrs, slog.String("error_code", errorCode))
		logger.LogAttrs(context.Background(), slog.LevelError, "Segment processing error", attrs...)
	} else {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "Segment processing event", attrs...)
	}
}
