package dependency

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// DependencyClient is the orchestrator's entry point to the audio tools.
// It builds the command lines, validates them, and hands them to the
// configured executor.
type DependencyClient struct {
	executor    DependencyExecutor
	config      ExecutorConfig
	format      AudioFormat
	stretchTool StretchTool
	pathManager *PathManager
	audit       *AuditLogger
}

// ClientOptions carries everything beyond the executor configuration.
type ClientOptions struct {
	Format      AudioFormat
	StretchTool StretchTool
	Audit       *AuditLogger // optional
}

// NewClient picks the executor for config.Mode and wraps each concrete
// executor with limits, metrics and auditing.
func NewClient(config ExecutorConfig, opts ClientOptions) (*DependencyClient, error) {
	limiter := NewConcurrencyLimiter(config.MaxConcurrent)
	local := NewInstrumentedExecutor(NewLocalExecutor(config), ModeLocal, limiter, opts.Audit)
	remote := NewInstrumentedExecutor(NewRemoteExecutor(config), ModeRemote, limiter, opts.Audit)

	var executor DependencyExecutor
	switch config.Mode {
	case ModeLocal:
		executor = local
	case ModeRemote:
		executor = remote
	case ModeFallback:
		executor = NewFallbackExecutor(remote, local)
	default:
		return nil, fmt.Errorf("invalid execution mode: %s (must be 'local', 'remote', or 'fallback')", config.Mode)
	}
	return newClientWithExecutor(executor, config, opts)
}

func newClientWithExecutor(executor DependencyExecutor, config ExecutorConfig, opts ClientOptions) (*DependencyClient, error) {
	format := opts.Format
	if format.SampleRate <= 0 {
		format = DefaultAudioFormat()
	}
	tool := opts.StretchTool
	switch tool {
	case "":
		tool = StretchRubberband
	case StretchRubberband, StretchFFmpeg:
	default:
		return nil, fmt.Errorf("invalid stretch tool: %s (must be 'rubberband' or 'ffmpeg')", tool)
	}
	return &DependencyClient{
		executor:    executor,
		config:      config,
		format:      format,
		stretchTool: tool,
		pathManager: NewPathManager(config.SharedVolumePath),
		audit:       opts.Audit,
	}, nil
}

// Paths returns the data volume layout.
func (c *DependencyClient) Paths() *PathManager { return c.pathManager }

// Format returns the audio encodings in use.
func (c *DependencyClient) Format() AudioFormat { return c.format }

// HealthCheck delegates to the executor.
func (c *DependencyClient) HealthCheck(ctx context.Context) error {
	return c.executor.HealthCheck(ctx)
}

// Extract writes [start, start+duration) of src to dst as mono PCM WAV at the
// configured sample rate.
//
//	ffmpeg -hide_banner -nostdin -y -ss 1.500 -t 2.250 -i in.mp3 -vn -ac 1 -ar 44100 -c:a pcm_s16le seg_00000.wav
func (c *DependencyClient) Extract(ctx context.Context, src, dst string, startMs, durationMs int64) error {
	if durationMs <= 0 {
		return fmt.Errorf("extract: non-positive duration %dms", durationMs)
	}
	req := CommandRequest{
		Command: CommandFFmpeg,
		Args: []string{
			"-hide_banner", "-nostdin", "-y",
			"-ss", msToSeconds(startMs),
			"-t", msToSeconds(durationMs),
			"-i", src,
			"-vn",
			"-ac", "1",
			"-ar", strconv.Itoa(c.format.SampleRate),
			"-c:a", "pcm_s16le",
			dst,
		},
		Timeout: c.config.DefaultTimeout,
	}
	return c.run(ctx, "audio extraction", req)
}

// Stretch changes the tempo of src by factor (>1 is faster) keeping pitch.
//
//	rubberband -q -T 2.000000 in.wav out.wav
//	ffmpeg -hide_banner -nostdin -y -i in.wav -filter:a atempo=2.000000 -ac 1 -ar 44100 -c:a pcm_s16le out.wav
func (c *DependencyClient) Stretch(ctx context.Context, src, dst string, factor float64) error {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("stretch: invalid tempo factor %v", factor)
	}

	var req CommandRequest
	switch c.stretchTool {
	case StretchFFmpeg:
		req = CommandRequest{
			Command: CommandFFmpeg,
			Args: []string{
				"-hide_banner", "-nostdin", "-y",
				"-i", src,
				"-filter:a", AtempoChain(factor),
				"-ac", "1",
				"-ar", strconv.Itoa(c.format.SampleRate),
				"-c:a", "pcm_s16le",
				dst,
			},
			Timeout: c.config.DefaultTimeout,
		}
	default:
		req = CommandRequest{
			Command: CommandRubberband,
			Args:    []string{"-q", "-T", formatFactor(factor), src, dst},
			Timeout: c.config.DefaultTimeout,
		}
	}
	return c.run(ctx, "time stretch", req)
}

// Concatenate joins the files listed in an ffmpeg concat manifest into dst,
// encoded with the configured output codec and bitrate.
//
//	ffmpeg -hide_banner -nostdin -y -f concat -safe 0 -i concat_list.txt -vn -c:a libmp3lame -b:a 192k out.mp3
func (c *DependencyClient) Concatenate(ctx context.Context, manifestPath, dst string) error {
	req := CommandRequest{
		Command: CommandFFmpeg,
		Args: []string{
			"-hide_banner", "-nostdin", "-y",
			"-f", "concat",
			"-safe", "0",
			"-i", manifestPath,
			"-vn",
			"-c:a", c.format.OutputCodec,
			"-b:a", c.format.OutputBitrate,
			dst,
		},
		Timeout: c.config.DefaultTimeout,
	}
	return c.run(ctx, "concatenation", req)
}

func (c *DependencyClient) run(ctx context.Context, what string, req CommandRequest) error {
	if err := ValidateCommandRequest(req, c.config); err != nil {
		if c.audit != nil {
			c.audit.LogRejection(req, err.Error())
		}
		return fmt.Errorf("command validation failed: %w", err)
	}

	slog.Debug("[DependencyClient] executing", "what", what, "command", req.Command, "args", req.Args)
	resp, err := c.executor.ExecuteCommand(ctx, req)
	if err != nil {
		return fmt.Errorf("%s failed: %w%s", what, err, stderrTail(resp.Stderr))
	}
	if !resp.Success || resp.ExitCode != 0 {
		return fmt.Errorf("%s failed (exit code %d)%s", what, resp.ExitCode, stderrTail(resp.Stderr))
	}
	return nil
}

// AtempoChain splits factor into atempo stages that each stay within the
// filter's [0.5, 2.0] range.
func AtempoChain(factor float64) string {
	var stages []string
	for factor > 2.0 {
		stages = append(stages, "atempo=2.0")
		factor /= 2.0
	}
	for factor < 0.5 {
		stages = append(stages, "atempo=0.5")
		factor /= 0.5
	}
	stages = append(stages, "atempo="+formatFactor(factor))
	return strings.Join(stages, ",")
}

func msToSeconds(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

func formatFactor(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}

// stderrTail keeps error messages bounded; ffmpeg prints the cause last.
func stderrTail(stderr string) string {
	s := strings.TrimSpace(stderr)
	if s == "" {
		return ""
	}
	const max = 400
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return ": " + s
}
