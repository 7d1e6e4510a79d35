package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/houzhh15/wpmnorm/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/tempo"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/timeline"
)

// Config 统一配置结构。加载顺序：默认值 → CONFIG_FILE 指定的 YAML → 环境变量。
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Log     LogConfig     `yaml:"log"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	ASR     ASRConfig     `yaml:"asr"`
	Audio   AudioConfig   `yaml:"audio"`
	Tempo   TempoConfig   `yaml:"tempo"`
	Workers WorkersConfig `yaml:"workers"`
	Health  HealthConfig  `yaml:"health"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Env                string   `yaml:"env"`  // dev, staging, production
	Role               string   `yaml:"role"` // api, audio-tools
	Port               string   `yaml:"port"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	MaxUploadMB        int64    `yaml:"max_upload_mb"`
}

// DataConfig 数据目录配置，其下包含 uploads/outputs/work
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // console, json
	File      string `yaml:"file"`
	AuditFile string `yaml:"audit_file"`
}

// LedgerConfig 作业台账存储
type LedgerConfig struct {
	Backend string `yaml:"backend"` // file, memory, postgres
	DSN     string `yaml:"dsn"`
}

// ASRConfig 云端转写服务
type ASRConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// AudioConfig 外部音频工具
type AudioConfig struct {
	DependencyMode string        `yaml:"dependency_mode"` // local, remote, fallback
	DepsServiceURL string        `yaml:"deps_service_url"`
	FFmpegPath     string        `yaml:"ffmpeg_path"`
	RubberbandPath string        `yaml:"rubberband_path"`
	StretchTool    string        `yaml:"stretch_tool"` // rubberband, ffmpeg
	SampleRate     int           `yaml:"sample_rate"`
	OutputCodec    string        `yaml:"output_codec"`
	OutputBitrate  string        `yaml:"output_bitrate"`
	OutputFormat   string        `yaml:"output_format"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	MaxFFmpeg      int           `yaml:"max_ffmpeg"`
	MaxRubberband  int           `yaml:"max_rubberband"`
}

// TempoConfig 变速策略
type TempoConfig struct {
	NoopTolerance float64 `yaml:"noop_tolerance"`
	MinFactor     float64 `yaml:"min_factor"` // 0 表示不限
	MaxFactor     float64 `yaml:"max_factor"` // 0 表示不限
	GapPolicy     string  `yaml:"gap_policy"` // drop, preserve
}

// WorkersConfig 并发配置
type WorkersConfig struct {
	AnalyzeConcurrency int `yaml:"analyze_concurrency"`
	AdjustConcurrency  int `yaml:"adjust_concurrency"`
	SegmentParallelism int `yaml:"segment_parallelism"`
	QueueSize          int `yaml:"queue_size"`
}

// HealthConfig 依赖健康检查
type HealthConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	FailThreshold int           `yaml:"fail_threshold"`
}

// Default 返回全部默认值
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Env:                "dev",
			Role:               RoleAPI,
			Port:               "8000",
			CORSAllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			MaxUploadMB:        200,
		},
		Data: DataConfig{Dir: "./data"},
		Log:  LogConfig{Level: "info", Format: "console"},
		Ledger: LedgerConfig{
			Backend: "file",
		},
		ASR: ASRConfig{
			BaseURL:         "https://api.assemblyai.com",
			PollInterval:    3 * time.Second,
			MaxPollAttempts: 200,
			RequestTimeout:  5 * time.Minute,
		},
		Audio: AudioConfig{
			DependencyMode: string(dependency.ModeLocal),
			FFmpegPath:     "ffmpeg",
			RubberbandPath: "rubberband",
			StretchTool:    string(dependency.StretchRubberband),
			SampleRate:     44100,
			OutputCodec:    "libmp3lame",
			OutputBitrate:  "192k",
			OutputFormat:   "mp3",
			CommandTimeout: 10 * time.Minute,
			MaxFFmpeg:      4,
			MaxRubberband:  4,
		},
		Tempo: TempoConfig{
			NoopTolerance: tempo.DefaultNoopTolerance,
			GapPolicy:     string(timeline.GapDrop),
		},
		Workers: WorkersConfig{
			AnalyzeConcurrency: 4,
			AdjustConcurrency:  2,
			SegmentParallelism: 1,
			QueueSize:          100,
		},
		Health: HealthConfig{
			CheckInterval: 5 * time.Minute,
			FailThreshold: 3,
		},
	}
}

// 进程角色：api 为完整服务，audio-tools 只对外提供音频工具执行接口
const (
	RoleAPI        = "api"
	RoleAudioTools = "audio-tools"
)

// GlobalConfig 全局配置实例
var GlobalConfig *Config

// LoadConfig 加载配置：默认值，CONFIG_FILE（可选），再由环境变量覆盖
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	env := envReader{}
	env.str(&cfg.Server.Env, "ENV")
	env.str(&cfg.Server.Role, "SERVER_ROLE")
	env.str(&cfg.Server.Port, "PORT")
	env.list(&cfg.Server.CORSAllowedOrigins, "CORS_ALLOWED_ORIGINS")
	env.integer64(&cfg.Server.MaxUploadMB, "MAX_UPLOAD_MB")

	env.str(&cfg.Data.Dir, "DATA_DIR")

	env.str(&cfg.Log.Level, "LOG_LEVEL")
	env.str(&cfg.Log.Format, "LOG_FORMAT")
	env.str(&cfg.Log.File, "LOG_FILE")
	env.str(&cfg.Log.AuditFile, "AUDIT_LOG_FILE")

	env.str(&cfg.Ledger.Backend, "LEDGER_BACKEND")
	env.str(&cfg.Ledger.DSN, "LEDGER_DSN")

	env.str(&cfg.ASR.BaseURL, "ASR_BASE_URL")
	env.str(&cfg.ASR.APIKey, "ASR_API_KEY")
	env.duration(&cfg.ASR.PollInterval, "ASR_POLL_INTERVAL")
	env.integer(&cfg.ASR.MaxPollAttempts, "ASR_MAX_POLL_ATTEMPTS")
	env.duration(&cfg.ASR.RequestTimeout, "ASR_REQUEST_TIMEOUT")

	env.str(&cfg.Audio.DependencyMode, "DEPENDENCY_MODE")
	env.str(&cfg.Audio.DepsServiceURL, "DEPS_SERVICE_URL")
	env.str(&cfg.Audio.FFmpegPath, "FFMPEG_PATH")
	env.str(&cfg.Audio.RubberbandPath, "RUBBERBAND_PATH")
	env.str(&cfg.Audio.StretchTool, "STRETCH_TOOL")
	env.integer(&cfg.Audio.SampleRate, "SAMPLE_RATE")
	env.str(&cfg.Audio.OutputCodec, "OUTPUT_CODEC")
	env.str(&cfg.Audio.OutputBitrate, "OUTPUT_BITRATE")
	env.str(&cfg.Audio.OutputFormat, "OUTPUT_FORMAT")
	env.duration(&cfg.Audio.CommandTimeout, "COMMAND_TIMEOUT")
	env.integer(&cfg.Audio.MaxFFmpeg, "MAX_CONCURRENT_FFMPEG")
	env.integer(&cfg.Audio.MaxRubberband, "MAX_CONCURRENT_RUBBERBAND")

	env.number(&cfg.Tempo.NoopTolerance, "TEMPO_NOOP_TOLERANCE")
	env.number(&cfg.Tempo.MinFactor, "TEMPO_MIN_FACTOR")
	env.number(&cfg.Tempo.MaxFactor, "TEMPO_MAX_FACTOR")
	env.str(&cfg.Tempo.GapPolicy, "GAP_POLICY")

	env.integer(&cfg.Workers.AnalyzeConcurrency, "ANALYZE_CONCURRENCY")
	env.integer(&cfg.Workers.AdjustConcurrency, "ADJUST_CONCURRENCY")
	env.integer(&cfg.Workers.SegmentParallelism, "SEGMENT_PARALLELISM")
	env.integer(&cfg.Workers.QueueSize, "QUEUE_SIZE")

	env.duration(&cfg.Health.CheckInterval, "HEALTH_CHECK_INTERVAL")
	env.integer(&cfg.Health.FailThreshold, "HEALTH_FAIL_THRESHOLD")

	if len(env.errs) > 0 {
		return nil, fmt.Errorf("invalid environment:\n  - %s", strings.Join(env.errs, "\n  - "))
	}

	// 工具参数中的路径不允许出现 ".."，数据目录统一转为绝对路径
	if cfg.Data.Dir != "" {
		abs, err := filepath.Abs(cfg.Data.Dir)
		if err != nil {
			return nil, fmt.Errorf("resolve DATA_DIR %q: %w", cfg.Data.Dir, err)
		}
		cfg.Data.Dir = abs
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ValidateConfig 验证配置的有效性
func ValidateConfig(cfg *Config) error {
	var errors []string

	// 1. 端口验证
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid PORT value: %s (must be 1-65535)", cfg.Server.Port))
	}

	// 2. 日志级别与格式
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		errors = append(errors, fmt.Sprintf("invalid LOG_LEVEL: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}
	validLogFormats := map[string]bool{"console": true, "json": true}
	if !validLogFormats[cfg.Log.Format] {
		errors = append(errors, fmt.Sprintf("invalid LOG_FORMAT: %s (must be: console, json)", cfg.Log.Format))
	}

	// 3. 环境验证
	validEnvs := map[string]bool{"dev": true, "development": true, "staging": true, "production": true}
	if !validEnvs[cfg.Server.Env] {
		errors = append(errors, fmt.Sprintf("invalid ENV: %s (must be: dev, development, staging, production)", cfg.Server.Env))
	}

	switch cfg.Server.Role {
	case RoleAPI, RoleAudioTools:
	default:
		errors = append(errors, fmt.Sprintf("invalid SERVER_ROLE: %s (must be: api, audio-tools)", cfg.Server.Role))
	}

	if cfg.Server.MaxUploadMB <= 0 {
		errors = append(errors, "MAX_UPLOAD_MB must be positive")
	}
	if cfg.Data.Dir == "" {
		errors = append(errors, "DATA_DIR is required")
	} else if strings.Contains(cfg.Data.Dir, "..") {
		errors = append(errors, fmt.Sprintf("DATA_DIR must not contain '..': %s", cfg.Data.Dir))
	}

	// 4. 台账
	switch cfg.Ledger.Backend {
	case "file", "memory":
	case "postgres":
		if cfg.Ledger.DSN == "" {
			errors = append(errors, "LEDGER_DSN is required when LEDGER_BACKEND=postgres")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid LEDGER_BACKEND: %s (must be: file, memory, postgres)", cfg.Ledger.Backend))
	}
	if cfg.IsProduction() && cfg.Ledger.Backend == "memory" {
		errors = append(errors, "LEDGER_BACKEND=memory is not allowed in production")
	}

	// 5. 转写服务（audio-tools 角色不调用 ASR）
	if cfg.ASR.BaseURL == "" {
		errors = append(errors, "ASR_BASE_URL is required")
	}
	if cfg.IsProduction() && cfg.ASR.APIKey == "" && !cfg.IsAudioTools() {
		errors = append(errors, "ASR_API_KEY is required in production environment")
	}
	if cfg.ASR.PollInterval <= 0 || cfg.ASR.MaxPollAttempts <= 0 {
		errors = append(errors, "ASR_POLL_INTERVAL and ASR_MAX_POLL_ATTEMPTS must be positive")
	}

	// 6. 音频工具
	switch dependency.ExecutionMode(cfg.Audio.DependencyMode) {
	case dependency.ModeLocal:
	case dependency.ModeRemote, dependency.ModeFallback:
		if cfg.Audio.DepsServiceURL == "" {
			errors = append(errors, fmt.Sprintf("DEPS_SERVICE_URL is required when DEPENDENCY_MODE=%s", cfg.Audio.DependencyMode))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid DEPENDENCY_MODE: %s (must be: local, remote, fallback)", cfg.Audio.DependencyMode))
	}
	switch dependency.StretchTool(cfg.Audio.StretchTool) {
	case dependency.StretchRubberband, dependency.StretchFFmpeg:
	default:
		errors = append(errors, fmt.Sprintf("invalid STRETCH_TOOL: %s (must be: rubberband, ffmpeg)", cfg.Audio.StretchTool))
	}
	if cfg.Audio.SampleRate <= 0 {
		errors = append(errors, "SAMPLE_RATE must be positive")
	}
	if cfg.Audio.OutputFormat == "" || strings.ContainsAny(cfg.Audio.OutputFormat, "./\\") {
		errors = append(errors, fmt.Sprintf("invalid OUTPUT_FORMAT: %q (extension without dot, e.g. mp3)", cfg.Audio.OutputFormat))
	}

	// 7. 变速策略
	if err := cfg.TempoPolicy().Validate(); err != nil {
		errors = append(errors, err.Error())
	}
	if _, err := timeline.ParseGapPolicy(cfg.Tempo.GapPolicy); err != nil {
		errors = append(errors, err.Error())
	}

	// 8. 并发
	if cfg.Workers.AnalyzeConcurrency < 1 || cfg.Workers.AdjustConcurrency < 1 ||
		cfg.Workers.SegmentParallelism < 1 || cfg.Workers.QueueSize < 1 {
		errors = append(errors, "ANALYZE_CONCURRENCY, ADJUST_CONCURRENCY, SEGMENT_PARALLELISM and QUEUE_SIZE must be >= 1")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// IsProduction 判断是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// IsAudioTools 判断进程是否只作为音频工具服务运行
func (c *Config) IsAudioTools() bool {
	return c.Server.Role == RoleAudioTools
}

// IsDevelopment 判断是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "dev" || c.Server.Env == "development"
}

// GetServerAddr 获取服务器监听地址
func (c *Config) GetServerAddr() string {
	return ":" + c.Server.Port
}

// TempoPolicy 由配置构造变速策略
func (c *Config) TempoPolicy() tempo.Policy {
	return tempo.Policy{
		NoopTolerance: c.Tempo.NoopTolerance,
		MinFactor:     c.Tempo.MinFactor,
		MaxFactor:     c.Tempo.MaxFactor,
	}
}

// AudioFormat 中间片段与输出编码
func (c *Config) AudioFormat() dependency.AudioFormat {
	return dependency.AudioFormat{
		SampleRate:    c.Audio.SampleRate,
		OutputCodec:   c.Audio.OutputCodec,
		OutputBitrate: c.Audio.OutputBitrate,
		OutputExt:     c.Audio.OutputFormat,
	}
}

// ExecutorConfig 外部工具执行配置
func (c *Config) ExecutorConfig() dependency.ExecutorConfig {
	return dependency.ExecutorConfig{
		Mode:             dependency.ExecutionMode(c.Audio.DependencyMode),
		ServiceURL:       c.Audio.DepsServiceURL,
		SharedVolumePath: c.Data.Dir,
		LocalBinaryPaths: map[string]string{
			dependency.CommandFFmpeg:     c.Audio.FFmpegPath,
			dependency.CommandRubberband: c.Audio.RubberbandPath,
		},
		DefaultTimeout:  c.Audio.CommandTimeout,
		AllowedCommands: []string{dependency.CommandFFmpeg, dependency.CommandRubberband},
		MaxConcurrent: map[string]int{
			dependency.CommandFFmpeg:     c.Audio.MaxFFmpeg,
			dependency.CommandRubberband: c.Audio.MaxRubberband,
		},
	}
}

// PrintConfig 打印配置（脱敏）
func (c *Config) PrintConfig() string {
	return fmt.Sprintf(`Configuration Loaded:
  Environment: %s (role %s)
  Server Port: %s
  CORS Origins: %v
  Max Upload: %d MB
  Data Dir: %s
  Logging:
    - Level: %s
    - Format: %s
    - File: %s
    - Audit File: %s
  Ledger:
    - Backend: %s
    - DSN: %s
  ASR:
    - Base URL: %s
    - API Key: %s
    - Poll: every %v, max %d attempts
  Audio:
    - Dependency Mode: %s
    - Stretch Tool: %s
    - Output: %s (%s, %s)
  Tempo:
    - No-op Tolerance: %g
    - Clamp: [%g, %g]
    - Gap Policy: %s
  Workers:
    - Analyze: %d
    - Adjust: %d
    - Segment Parallelism: %d`,
		c.Server.Env,
		c.Server.Role,
		c.Server.Port,
		c.Server.CORSAllowedOrigins,
		c.Server.MaxUploadMB,
		c.Data.Dir,
		c.Log.Level,
		c.Log.Format,
		orNotSet(c.Log.File),
		orNotSet(c.Log.AuditFile),
		c.Ledger.Backend,
		maskSecret(c.Ledger.DSN),
		c.ASR.BaseURL,
		maskSecret(c.ASR.APIKey),
		c.ASR.PollInterval,
		c.ASR.MaxPollAttempts,
		c.Audio.DependencyMode,
		c.Audio.StretchTool,
		c.Audio.OutputFormat,
		c.Audio.OutputCodec,
		c.Audio.OutputBitrate,
		c.Tempo.NoopTolerance,
		c.Tempo.MinFactor,
		c.Tempo.MaxFactor,
		c.Tempo.GapPolicy,
		c.Workers.AnalyzeConcurrency,
		c.Workers.AdjustConcurrency,
		c.Workers.SegmentParallelism,
	)
}

// 辅助函数

// envReader 读取环境变量并收集解析错误
type envReader struct {
	errs []string
}

func (r *envReader) str(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (r *envReader) list(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = parseStringList(v)
	}
}

func (r *envReader) integer(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			r.errs = append(r.errs, fmt.Sprintf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}
}

func (r *envReader) integer64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Sprintf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}
}

func (r *envReader) number(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Sprintf("%s: %q is not a number", key, v))
			return
		}
		*dst = f
	}
}

func (r *envReader) duration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			r.errs = append(r.errs, fmt.Sprintf("%s: %q is not a duration (e.g. 3s)", key, v))
			return
		}
		*dst = d
	}
}

// parseStringList 解析逗号分隔的字符串列表
func parseStringList(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// maskSecret 对敏感信息进行脱敏
func maskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}

func orNotSet(s string) string {
	if s == "" {
		return "<not set>"
	}
	return s
}
