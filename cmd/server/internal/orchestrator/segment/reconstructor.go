package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// ErrNoSegments nothing survived processing, so there is nothing to join.
var ErrNoSegments = errors.New("no audio segments to concatenate")

// Reconstructor joins processed segments in timeline order.
type Reconstructor struct {
	tool   AudioTool
	names  Namer
	logger *slog.Logger
}

// NewReconstructor creates a Reconstructor.
func NewReconstructor(tool AudioTool, names Namer, log *slog.Logger) *Reconstructor {
	if log == nil {
		log = slog.Default()
	}
	return &Reconstructor{tool: tool, names: names, logger: log}
}

// Reconstruct writes the manifest in the order given and concatenates into
// outPath. The manifest and every segment file are removed on return, whether
// or not concatenation succeeded; a failed run also removes any partial outPath.
func (r *Reconstructor) Reconstruct(ctx context.Context, workDir string, outputs []Output, outPath string) (err error) {
	manifest := r.names.ManifestPath(workDir)
	defer func() {
		r.cleanup(manifest, outputs)
		if err != nil {
			_ = os.Remove(outPath)
		}
	}()

	if len(outputs) == 0 {
		return &StageError{Stage: StageConcatenate, Index: -1, Err: ErrNoSegments}
	}

	for i := 1; i < len(outputs); i++ {
		if outputs[i].Index <= outputs[i-1].Index {
			return &StageError{Stage: StageConcatenate, Index: -1,
				Err: fmt.Errorf("segments out of order at position %d", i)}
		}
	}

	if err := os.WriteFile(manifest, []byte(Manifest(outputs)), 0o644); err != nil {
		return &StageError{Stage: StageConcatenate, Index: -1, Err: fmt.Errorf("write manifest: %w", err)}
	}
	if err := r.tool.Concatenate(ctx, manifest, outPath); err != nil {
		return &StageError{Stage: StageConcatenate, Index: -1, Err: err}
	}
	return nil
}

// Manifest renders an ffmpeg concat-demuxer list, one file per line.
func Manifest(outputs []Output) string {
	var b strings.Builder
	for _, o := range outputs {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(o.Path, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

func (r *Reconstructor) cleanup(manifest string, outputs []Output) {
	paths := make([]string, 0, len(outputs)+1)
	paths = append(paths, manifest)
	for _, o := range outputs {
		paths = append(paths, o.Path)
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("failed to remove intermediate file", "path", p, "error", err)
		}
	}
}
