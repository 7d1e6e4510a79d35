package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/wpmnorm/pkg/jobs"
)

func label(s string) *string { return &s }

func sampleUtterances() []jobs.Utterance {
	return []jobs.Utterance{
		{Speaker: label("A"), Start: 500, End: 2000, Text: "hi there"},
		{Speaker: nil, Start: 2500, End: 3000, Text: "mm"},
		{Speaker: label("B"), Start: 3000, End: 3000, Text: ""},
		{Speaker: label("B"), Start: 4000, End: 6000, Text: "ok then"},
	}
}

func TestBuild_DropIsOneToOne(t *testing.T) {
	segs := Build(sampleUtterances(), GapDrop)
	require.Len(t, segs, 4)

	assert.Equal(t, "speaker_A", segs[0].Speaker())
	assert.Equal(t, int64(500), segs[0].Start)
	assert.Equal(t, int64(2000), segs[0].End)
	assert.Nil(t, segs[1].SpeakerID)
	assert.Equal(t, int64(0), segs[2].DurationMs(), "zero-length utterance carried through")
	assert.Equal(t, "speaker_B", segs[3].Speaker())
}

func TestBuild_PreserveInsertsGaps(t *testing.T) {
	segs := Build(sampleUtterances(), GapPreserve)

	want := []struct {
		speaker    string
		start, end int64
	}{
		{"", 0, 500},
		{"speaker_A", 500, 2000},
		{"", 2000, 2500},
		{"", 2500, 3000},
		{"speaker_B", 3000, 3000},
		{"", 3000, 4000},
		{"speaker_B", 4000, 6000},
	}
	require.Len(t, segs, len(want))
	for i, w := range want {
		assert.Equal(t, w.speaker, segs[i].Speaker(), "segment %d", i)
		assert.Equal(t, w.start, segs[i].Start, "segment %d", i)
		assert.Equal(t, w.end, segs[i].End, "segment %d", i)
	}
}

func TestBuild_PreserveOverlapDoesNotGoBackwards(t *testing.T) {
	segs := Build([]jobs.Utterance{
		{Speaker: label("A"), Start: 0, End: 5000},
		{Speaker: label("B"), Start: 4000, End: 6000},
		{Speaker: label("A"), Start: 7000, End: 8000},
	}, GapPreserve)

	require.Len(t, segs, 4)
	assert.Equal(t, int64(6000), segs[2].Start)
	assert.Equal(t, int64(7000), segs[2].End)
}

func TestBuild_Empty(t *testing.T) {
	assert.Empty(t, Build(nil, GapDrop))
}

func TestParseGapPolicy(t *testing.T) {
	p, err := ParseGapPolicy("")
	require.NoError(t, err)
	assert.Equal(t, GapDrop, p)

	p, err = ParseGapPolicy("Preserve")
	require.NoError(t, err)
	assert.Equal(t, GapPreserve, p)

	_, err = ParseGapPolicy("synthesize")
	assert.Error(t, err)
}
