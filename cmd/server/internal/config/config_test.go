package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/wpmnorm/cmd/server/internal/orchestrator/dependency"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "file", cfg.Ledger.Backend)
	assert.Equal(t, "drop", cfg.Tempo.GapPolicy)
	assert.Equal(t, 0.01, cfg.Tempo.NoopTolerance)
	assert.Equal(t, 4, cfg.Workers.AnalyzeConcurrency)
	assert.Equal(t, 2, cfg.Workers.AdjustConcurrency)
	assert.Equal(t, 1, cfg.Workers.SegmentParallelism)
	assert.NoError(t, ValidateConfig(cfg))
	assert.Same(t, cfg, GlobalConfig)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wpmnorm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
asr:
  poll_interval: 5s
  max_poll_attempts: 10
tempo:
  gap_policy: preserve
  max_factor: 2.5
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")
	t.Setenv("TEMPO_MIN_FACTOR", "0.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.ASR.PollInterval)
	assert.Equal(t, 10, cfg.ASR.MaxPollAttempts)
	assert.Equal(t, "preserve", cfg.Tempo.GapPolicy)
	assert.Equal(t, 0.5, cfg.Tempo.MinFactor)
	assert.Equal(t, 2.5, cfg.Tempo.MaxFactor)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestLoadConfig_BadEnvValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("ASR_POLL_INTERVAL", "soon")
	t.Setenv("ADJUST_CONCURRENCY", "two")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ASR_POLL_INTERVAL")
	assert.Contains(t, err.Error(), "ADJUST_CONCURRENCY")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_DataDirIsAbsolute(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DATA_DIR", "../shared/./data")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.Data.Dir))
	assert.NotContains(t, cfg.Data.Dir, "..")
	assert.Equal(t, filepath.Join(filepath.Dir(wd), "shared", "data"), cfg.Data.Dir)
	assert.NoError(t, ValidateConfig(cfg))

	// 解析后的目录能通过工具参数校验
	paths := dependency.NewPathManager(cfg.Data.Dir)
	assert.NoError(t, dependency.ValidateCommandRequest(dependency.CommandRequest{
		Command:    dependency.CommandFFmpeg,
		Args:       []string{"-i", paths.UploadPath("job1", ".wav")},
		WorkingDir: cfg.Data.Dir,
	}, cfg.ExecutorConfig()))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = "0" }, "invalid PORT"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "invalid LOG_LEVEL"},
		{"postgres without dsn", func(c *Config) { c.Ledger.Backend = "postgres" }, "LEDGER_DSN is required"},
		{"unknown backend", func(c *Config) { c.Ledger.Backend = "redis" }, "invalid LEDGER_BACKEND"},
		{"remote without url", func(c *Config) { c.Audio.DependencyMode = "remote" }, "DEPS_SERVICE_URL is required"},
		{"bad stretch tool", func(c *Config) { c.Audio.StretchTool = "sox" }, "invalid STRETCH_TOOL"},
		{"inverted clamps", func(c *Config) { c.Tempo.MinFactor, c.Tempo.MaxFactor = 2, 1 }, "greater than max factor"},
		{"bad gap policy", func(c *Config) { c.Tempo.GapPolicy = "fill" }, "invalid gap policy"},
		{"zero workers", func(c *Config) { c.Workers.AdjustConcurrency = 0 }, "must be >= 1"},
		{"dotted output format", func(c *Config) { c.Audio.OutputFormat = ".mp3" }, "invalid OUTPUT_FORMAT"},
		{"production without api key", func(c *Config) { c.Server.Env = "production" }, "ASR_API_KEY is required"},
		{"unknown role", func(c *Config) { c.Server.Role = "worker" }, "invalid SERVER_ROLE"},
		{"dotted data dir", func(c *Config) { c.Data.Dir = "../shared" }, "DATA_DIR must not contain '..'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateConfig_AudioToolsRoleNeedsNoASRKey(t *testing.T) {
	cfg := Default()
	cfg.Server.Env = "production"
	cfg.Server.Role = RoleAudioTools
	assert.NoError(t, ValidateConfig(cfg))
	assert.True(t, cfg.IsAudioTools())
}

func TestDerivedSettings(t *testing.T) {
	cfg := Default()
	cfg.Data.Dir = "/srv/wpm"
	cfg.Tempo.MaxFactor = 3

	exec := cfg.ExecutorConfig()
	assert.Equal(t, dependency.ModeLocal, exec.Mode)
	assert.Equal(t, "/srv/wpm", exec.SharedVolumePath)
	assert.Equal(t, "ffmpeg", exec.LocalBinaryPaths[dependency.CommandFFmpeg])
	assert.ElementsMatch(t, []string{"ffmpeg", "rubberband"}, exec.AllowedCommands)

	assert.Equal(t, "mp3", cfg.AudioFormat().OutputExt)
	assert.Equal(t, 3.0, cfg.TempoPolicy().MaxFactor)
	assert.Equal(t, ":8000", cfg.GetServerAddr())
}

func TestPrintConfig_MasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.ASR.APIKey = "abcd1234efgh5678"
	cfg.Ledger.DSN = "postgres://user:pw@db/wpm"

	out := cfg.PrintConfig()
	assert.NotContains(t, out, "abcd1234efgh5678")
	assert.Contains(t, out, "abcd***5678")
	assert.NotContains(t, out, "user:pw")
}
