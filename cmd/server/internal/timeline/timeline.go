// Package timeline projects diarized utterances onto the ordered segment list
// that the adjust pipeline walks.
package timeline

import (
	"fmt"
	"strings"

	"github.com/houzhh15/wpmnorm/pkg/jobs"
)

// GapPolicy decides what happens to audio between utterances.
type GapPolicy string

const (
	// GapDrop emits exactly one segment per utterance; silence between them is not reproduced.
	GapDrop GapPolicy = "drop"
	// GapPreserve additionally emits speaker-less segments for leading and inter-utterance gaps.
	GapPreserve GapPolicy = "preserve"
)

// ParseGapPolicy accepts "drop" (default when empty) or "preserve".
func ParseGapPolicy(s string) (GapPolicy, error) {
	switch GapPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", GapDrop:
		return GapDrop, nil
	case GapPreserve:
		return GapPreserve, nil
	default:
		return "", fmt.Errorf("invalid gap policy %q (must be 'drop' or 'preserve')", s)
	}
}

// Build returns segments in input order. Under GapDrop this is a direct
// projection of each utterance; zero or negative length utterances are kept so
// the segment processor can skip them explicitly.
func Build(utterances []jobs.Utterance, policy GapPolicy) []jobs.Segment {
	segments := make([]jobs.Segment, 0, len(utterances))
	var cursor int64

	for _, u := range utterances {
		if policy == GapPreserve && u.Start > cursor {
			segments = append(segments, jobs.Segment{SpeakerID: nil, Start: cursor, End: u.Start})
		}
		segments = append(segments, jobs.Segment{
			SpeakerID: speakerID(u.Speaker),
			Start:     u.Start,
			End:       u.End,
		})
		if u.End > cursor {
			cursor = u.End
		}
	}
	return segments
}

func speakerID(label *string) *string {
	if label == nil {
		return nil
	}
	id := jobs.SpeakerIDFor(*label)
	return &id
}
