package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/houzhh15/wpmnorm/cmd/server/internal/api"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/config"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/ledger"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/orchestrator"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/orchestrator/asr"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/orchestrator/segment"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/timeline"
	"github.com/houzhh15/wpmnorm/pkg/logger"
)

func main() {
	// .env 可选，不存在时忽略
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logInstance, err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		Format:      cfg.Log.Format,
		WithSource:  !cfg.IsProduction(),
		File:        cfg.Log.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	appLogger := logInstance.With("component", "wpmnorm-server")

	if err := config.ValidateConfig(cfg); err != nil {
		appLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	appLogger.Info(cfg.PrintConfig())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLogger *slog.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if cfg.IsAudioTools() {
		return runAudioTools(rootCtx, cfg, appLogger)
	}

	// 台账
	store, err := openLedgerStore(rootCtx, cfg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()
	jobLedger := ledger.New(store, appLogger.With("component", "ledger"))

	// 外部音频工具
	var audit *dependency.AuditLogger
	if cfg.Log.AuditFile != "" {
		audit = dependency.NewAuditLogger(cfg.Log.AuditFile)
		defer audit.Close()
	}
	tools, err := dependency.NewClient(cfg.ExecutorConfig(), dependency.ClientOptions{
		Format:      cfg.AudioFormat(),
		StretchTool: dependency.StretchTool(cfg.Audio.StretchTool),
		Audit:       audit,
	})
	if err != nil {
		return fmt.Errorf("init audio tools: %w", err)
	}
	paths := tools.Paths()
	if err := paths.EnsureLayout(); err != nil {
		return err
	}

	// 转写服务
	transcriber := asr.NewCloudClient(cfg.ASR.BaseURL, cfg.ASR.APIKey, cfg.ASR.RequestTimeout)
	poller := asr.NewPoller(transcriber, cfg.ASR.PollInterval, cfg.ASR.MaxPollAttempts, appLogger.With("component", "asr"))

	gap, err := timeline.ParseGapPolicy(cfg.Tempo.GapPolicy)
	if err != nil {
		return err
	}

	analyze := orchestrator.NewAnalyzeCoordinator(jobLedger, transcriber, poller, gap, appLogger)
	adjust := orchestrator.NewAdjustCoordinator(jobLedger, paths,
		segment.NewProcessor(tools, paths, cfg.TempoPolicy(), cfg.Workers.SegmentParallelism, appLogger.With("component", "segment")),
		segment.NewReconstructor(tools, paths, appLogger.With("component", "reconstruct")),
		cfg.Audio.OutputFormat, appLogger)

	dispatcher := orchestrator.NewDispatcher(analyze, adjust, jobLedger, orchestrator.DispatcherConfig{
		AnalyzeWorkers: cfg.Workers.AnalyzeConcurrency,
		AdjustWorkers:  cfg.Workers.AdjustConcurrency,
		QueueSize:      cfg.Workers.QueueSize,
	}, appLogger)
	dispatcher.Start(rootCtx)
	defer dispatcher.Stop()

	if _, err := orchestrator.Recover(rootCtx, jobLedger, dispatcher, appLogger.With("component", "recovery")); err != nil {
		appLogger.Error("startup recovery failed", "error", err)
	}

	// 依赖健康检查
	checker := health.NewHealthChecker([]health.Probe{
		health.ProbeFunc{ProbeName: "asr", Fn: transcriber.HealthCheck},
		health.ProbeFunc{ProbeName: "audio_tools", Fn: tools.HealthCheck},
	}, cfg.Health.CheckInterval, cfg.Health.FailThreshold, appLogger.With("component", "health"))
	go checker.Start(rootCtx)
	defer checker.Stop()

	router := api.NewRouter(api.RouterOptions{
		Jobs:        api.NewJobHandlers(jobLedger, dispatcher, paths, cfg.Server.MaxUploadMB<<20, appLogger.With("component", "api")),
		Health:      checker,
		CORSOrigins: cfg.Server.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.GetServerAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(rootCtx, srv, cfg, appLogger)
}

// runAudioTools 在装有 ffmpeg/rubberband 的主机上提供 /api/v1/execute，
// 供 DEPENDENCY_MODE=remote|fallback 的 API 进程调用，两端需挂载同一数据目录
func runAudioTools(rootCtx context.Context, cfg *config.Config, appLogger *slog.Logger) error {
	execCfg := cfg.ExecutorConfig()

	var audit *dependency.AuditLogger
	if cfg.Log.AuditFile != "" {
		audit = dependency.NewAuditLogger(cfg.Log.AuditFile)
		defer audit.Close()
	}
	executor := dependency.NewInstrumentedExecutor(
		dependency.NewLocalExecutor(execCfg),
		dependency.ModeLocal,
		dependency.NewConcurrencyLimiter(execCfg.MaxConcurrent),
		audit,
	)
	if err := executor.HealthCheck(rootCtx); err != nil {
		appLogger.Warn("audio tools not fully available", "error", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", dependency.NewServiceHandler(executor, execCfg, audit, appLogger.With("component", "audio-tools")))
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.GetServerAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(rootCtx, srv, cfg, appLogger)
}

// serve 阻塞直到服务出错或收到退出信号，然后优雅关闭
func serve(rootCtx context.Context, srv *http.Server, cfg *config.Config, appLogger *slog.Logger) error {
	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info("server starting", "addr", srv.Addr, "env", cfg.Server.Env, "role", cfg.Server.Role)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-rootCtx.Done():
	}
	appLogger.Info("shutdown signal received, shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	appLogger.Info("server shutdown complete")
	return nil
}

func openLedgerStore(ctx context.Context, cfg *config.Config) (ledger.Store, error) {
	switch strings.ToLower(cfg.Ledger.Backend) {
	case "memory":
		return ledger.NewMemoryStore(), nil
	case "postgres":
		return ledger.OpenPostgresStore(ctx, cfg.Ledger.DSN)
	default:
		return ledger.NewFileStore(filepath.Join(cfg.Data.Dir, "jobs"))
	}
}
