// Package segment turns a job's timeline into per-segment audio files and
// joins them back into one output.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/houzhh15/wpmnorm/cmd/server/internal/metrics"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/tempo"
	"github.com/houzhh15/wpmnorm/pkg/jobs"
	"github.com/houzhh15/wpmnorm/pkg/logger"
)

// AudioTool is the subset of the audio tooling the pipeline needs.
// dependency.DependencyClient implements it.
type AudioTool interface {
	Extract(ctx context.Context, src, dst string, startMs, durationMs int64) error
	Stretch(ctx context.Context, src, dst string, factor float64) error
	Concatenate(ctx context.Context, manifestPath, dst string) error
}

// Namer gives collision-free file names inside a job's work directory.
// dependency.PathManager implements it.
type Namer interface {
	SegmentPath(workDir string, index int) string
	StretchedSegmentPath(workDir string, index int) string
	ManifestPath(workDir string) string
}

// Stage names used in StageError.
const (
	StageExtract     = "extract"
	StageStretch     = "stretch"
	StageConcatenate = "concatenate"
)

// StageError identifies which segment failed and at which step.
type StageError struct {
	Stage string
	Index int
	Err   error
}

func (e *StageError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s segment %d: %v", e.Stage, e.Index, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Request is one adjust run over a job's timeline.
type Request struct {
	JobID      string
	SourcePath string
	WorkDir    string
	Segments   []jobs.Segment
	Speakers   []jobs.SpeakerWPM
	Targets    []jobs.Target
}

// Output is the file that represents one segment in the final audio.
type Output struct {
	Index    int // position in Request.Segments
	Path     string
	Decision jobs.TempoDecision
}

// Processor extracts each segment and stretches the ones whose speaker has a target.
type Processor struct {
	tool        AudioTool
	names       Namer
	policy      tempo.Policy
	parallelism int
	logger      *slog.Logger
}

// NewProcessor parallelism <= 1 processes segments one by one.
func NewProcessor(tool AudioTool, names Namer, policy tempo.Policy, parallelism int, log *slog.Logger) *Processor {
	if parallelism < 1 {
		parallelism = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{tool: tool, names: names, policy: policy, parallelism: parallelism, logger: log}
}

// Process returns one Output per segment with positive duration, in segment
// order. Segments with non-positive duration are skipped without touching any
// tool. The first failure aborts the run; no partial list is returned.
func (p *Processor) Process(ctx context.Context, req Request) ([]Output, error) {
	indices := make([]int, 0, len(req.Segments))
	for i, seg := range req.Segments {
		if seg.DurationMs() <= 0 {
			metrics.RecordSegment("skipped")
			p.logger.Warn("skipping segment with non-positive duration",
				"job_id", req.JobID, "segment", i, "start_ms", seg.Start, "end_ms", seg.End)
			continue
		}
		indices = append(indices, i)
	}

	outputs := make([]Output, len(indices))

	if p.parallelism == 1 {
		for slot, idx := range indices {
			out, err := p.processOne(ctx, req, idx)
			if err != nil {
				return nil, err
			}
			outputs[slot] = out
		}
		return outputs, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for slot, idx := range indices {
		slot, idx := slot, idx
		g.Go(func() error {
			out, err := p.processOne(gctx, req, idx)
			if err != nil {
				return err
			}
			outputs[slot] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func (p *Processor) processOne(ctx context.Context, req Request, idx int) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, &StageError{Stage: StageExtract, Index: idx, Err: err}
	}
	seg := req.Segments[idx]
	start := time.Now()

	extracted := p.names.SegmentPath(req.WorkDir, idx)
	if err := p.tool.Extract(ctx, req.SourcePath, extracted, seg.Start, seg.DurationMs()); err != nil {
		logger.LogSegmentProcessing(p.logger, StageExtract, "error", idx, time.Since(start).Milliseconds(), "EXTRACT_FAILED")
		return Output{}, &StageError{Stage: StageExtract, Index: idx, Err: err}
	}
	metrics.RecordSegment("extracted")

	decision := p.policy.Resolve(seg, req.Speakers, req.Targets)
	if !decision.Stretch {
		metrics.RecordSegment("passthrough")
		logger.LogSegmentProcessing(p.logger, "passthrough", "success", idx, time.Since(start).Milliseconds(), "")
		return Output{Index: idx, Path: extracted, Decision: decision}, nil
	}

	stretched := p.names.StretchedSegmentPath(req.WorkDir, idx)
	if err := p.tool.Stretch(ctx, extracted, stretched, decision.Factor); err != nil {
		logger.LogSegmentProcessing(p.logger, StageStretch, "error", idx, time.Since(start).Milliseconds(), "STRETCH_FAILED")
		return Output{}, &StageError{Stage: StageStretch, Index: idx, Err: err}
	}
	if err := os.Remove(extracted); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("failed to remove pre-stretch slice", "path", extracted, "error", err)
	}

	metrics.RecordSegment("stretched")
	metrics.RecordTempoFactor(decision.Factor)
	logger.LogSegmentProcessing(p.logger, StageStretch, "success", idx, time.Since(start).Milliseconds(), "")
	return Output{Index: idx, Path: stretched, Decision: decision}, nil
}
