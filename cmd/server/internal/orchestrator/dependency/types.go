// Package dependency runs the external audio tools (ffmpeg, rubberband) that
// slice, stretch and join audio. Invocation goes through a DependencyExecutor
// so the same calls work against local binaries, a remote tool service that
// shares the data volume, or remote-with-local-fallback.
package dependency

import "time"

// ExecutionMode selects the executor implementation.
type ExecutionMode string

const (
	// ModeLocal runs binaries on this host via exec.CommandContext.
	ModeLocal ExecutionMode = "local"

	// ModeRemote posts commands to the tool service (POST /api/v1/execute).
	ModeRemote ExecutionMode = "remote"

	// ModeFallback prefers remote and switches to local on network failure.
	ModeFallback ExecutionMode = "fallback"
)

// Command aliases accepted by the executors.
const (
	CommandFFmpeg     = "ffmpeg"
	CommandRubberband = "rubberband"
)

// StretchTool selects the binary used for pitch-preserving tempo changes.
type StretchTool string

const (
	StretchRubberband StretchTool = "rubberband"
	StretchFFmpeg     StretchTool = "ffmpeg" // atempo filter chain
)

// CommandRequest is one tool invocation. It is also the wire format of the remote tool service.
type CommandRequest struct {
	Command    string            `json:"command" yaml:"command"`
	Args       []string          `json:"args" yaml:"args"`
	Env        map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
	Timeout    time.Duration     `json:"timeout" yaml:"timeout"`
}

// CommandResponse is the outcome of one invocation.
type CommandResponse struct {
	Success  bool          `json:"success" yaml:"success"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	Stdout   string        `json:"stdout" yaml:"stdout"`
	Stderr   string        `json:"stderr" yaml:"stderr"`
	Duration time.Duration `json:"duration_ms" yaml:"duration_ms"`
}

// ExecutorConfig configures executors and the client.
type ExecutorConfig struct {
	Mode ExecutionMode `json:"mode" yaml:"mode"`

	// ServiceURL of the remote tool service, required for remote and fallback.
	ServiceURL string `json:"service_url" yaml:"service_url"`

	// SharedVolumePath is the data root; every path handed to a tool must live under it.
	SharedVolumePath string `json:"shared_volume_path" yaml:"shared_volume_path"`

	// LocalBinaryPaths maps aliases to binaries, e.g. {"ffmpeg": "/usr/bin/ffmpeg"}.
	LocalBinaryPaths map[string]string `json:"local_binary_paths" yaml:"local_binary_paths"`

	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`

	// AllowedCommands is the command whitelist. Empty allows everything.
	AllowedCommands []string `json:"allowed_commands" yaml:"allowed_commands"`

	// MaxConcurrent caps simultaneous processes per command alias. Missing or 0 means unlimited.
	MaxConcurrent map[string]int `json:"max_concurrent" yaml:"max_concurrent"`
}

// AudioFormat fixes the intermediate and output encodings for a job.
type AudioFormat struct {
	SampleRate    int    // intermediate slices, Hz
	OutputCodec   string // e.g. libmp3lame
	OutputBitrate string // e.g. 192k
	OutputExt     string // e.g. mp3
}

// DefaultAudioFormat 44.1 kHz mono PCM intermediates, 192k MP3 output.
func DefaultAudioFormat() AudioFormat {
	return AudioFormat{
		SampleRate:    44100,
		OutputCodec:   "libmp3lame",
		OutputBitrate: "192k",
		OutputExt:     "mp3",
	}
}
