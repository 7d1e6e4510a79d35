// Package tempo resolves the playback-speed factor for a single segment.
package tempo

import (
	"fmt"
	"math"

	"github.com/houzhh15/wpmnorm/pkg/jobs"
)

// DefaultNoopTolerance factors within this distance of 1.0 are passed through unstretched.
const DefaultNoopTolerance = 0.01

// epsilon absorbs float error at the tolerance boundary (101/100 is not exactly 1.01).
const epsilon = 1e-9

// Policy holds the tunable knobs. A zero MinFactor or MaxFactor means unbounded.
//
// Factors far from 1.0 degrade intelligibility: rubberband stays usable roughly
// within [0.5, 2.0], and the ffmpeg atempo chain needs one stage per doubling.
type Policy struct {
	NoopTolerance float64
	MinFactor     float64
	MaxFactor     float64
}

// DefaultPolicy ±0.01 no-op band, no clamping.
func DefaultPolicy() Policy {
	return Policy{NoopTolerance: DefaultNoopTolerance}
}

// Validate rejects negative values and an inverted clamp range.
func (p Policy) Validate() error {
	if p.NoopTolerance < 0 {
		return fmt.Errorf("noop tolerance must be >= 0, got %v", p.NoopTolerance)
	}
	if p.MinFactor < 0 || p.MaxFactor < 0 {
		return fmt.Errorf("tempo clamps must be >= 0 (0 disables)")
	}
	if p.MinFactor > 0 && p.MaxFactor > 0 && p.MinFactor > p.MaxFactor {
		return fmt.Errorf("min factor %v greater than max factor %v", p.MinFactor, p.MaxFactor)
	}
	return nil
}

// Factor returns target/original for the segment's speaker, or exactly 1.0 when
// the segment has no speaker, the speaker has no target, or either rate is
// non-positive.
func Factor(seg jobs.Segment, speakers []jobs.SpeakerWPM, targets []jobs.Target) float64 {
	id := seg.Speaker()
	if id == "" {
		return 1.0
	}

	target, ok := lookupTarget(targets, id)
	if !ok || target <= 0 {
		return 1.0
	}
	original, ok := lookupWPM(speakers, id)
	if !ok || original <= 0 {
		return 1.0
	}
	return target / float64(original)
}

// Resolve applies the policy to Factor: clamps (if configured) and the no-op band.
func (p Policy) Resolve(seg jobs.Segment, speakers []jobs.SpeakerWPM, targets []jobs.Target) jobs.TempoDecision {
	f := Factor(seg, speakers, targets)
	if f == 1.0 {
		return jobs.TempoDecision{Factor: 1.0, Stretch: false}
	}

	if p.MinFactor > 0 && f < p.MinFactor {
		f = p.MinFactor
	}
	if p.MaxFactor > 0 && f > p.MaxFactor {
		f = p.MaxFactor
	}

	if math.Abs(f-1.0) <= p.NoopTolerance+epsilon {
		return jobs.TempoDecision{Factor: f, Stretch: false}
	}
	return jobs.TempoDecision{Factor: f, Stretch: true}
}

func lookupTarget(targets []jobs.Target, id string) (float64, bool) {
	for _, t := range targets {
		if t.SpeakerID == id {
			return t.TargetWPM, true
		}
	}
	return 0, false
}

func lookupWPM(speakers []jobs.SpeakerWPM, id string) (int, bool) {
	for _, s := range speakers {
		if s.ID == id {
			return s.AvgWPM, true
		}
	}
	return 0, false
}
