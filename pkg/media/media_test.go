package media

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortsforge/shortsforge/pkg/providers"
)

func timingsFor(words []string, wordDur float64) []providers.WordTiming {
	out := make([]providers.WordTiming, len(words))
	t := 0.0
	for i, w := range words {
		out[i] = providers.WordTiming{Word: w, Start: t, End: t + wordDur}
		t += wordDur
	}
	return out
}

func TestBuildCuesLineAndCueLimits(t *testing.T) {
	words := strings.Fields(strings.Repeat("narration ", 40)) // 40 x 9 chars
	cues := BuildCues(timingsFor(words, 0.3))

	require.NotEmpty(t, cues)
	for _, c := range cues {
		assert.LessOrEqual(t, len(c.Lines), maxCueLines)
		for _, line := range c.Lines {
			assert.LessOrEqual(t, len(line), maxLineChars)
		}
		assert.Greater(t, c.End, c.Start)
	}

	// Every word survives the grouping.
	total := 0
	for _, c := range cues {
		for _, line := range c.Lines {
			total += len(strings.Fields(line))
		}
	}
	assert.Equal(t, len(words), total)
}

func TestBuildCuesContiguousTiming(t *testing.T) {
	words := strings.Fields(strings.Repeat("steady ", 60))
	cues := BuildCues(timingsFor(words, 0.25))
	require.Greater(t, len(cues), 1)
	for i := 1; i < len(cues); i++ {
		assert.GreaterOrEqual(t, cues[i].Start, cues[i-1].End,
			"cues must not overlap")
	}
}

func TestBuildCuesSkipsEmptyWords(t *testing.T) {
	cues := BuildCues([]providers.WordTiming{
		{Word: "hello", Start: 0, End: 0.4},
		{Word: "  ", Start: 0.4, End: 0.5},
		{Word: "world", Start: 0.5, End: 0.9},
	})
	require.Len(t, cues, 1)
	assert.Equal(t, []string{"hello world"}, cues[0].Lines)
	assert.Equal(t, 0.0, cues[0].Start)
	assert.Equal(t, 0.9, cues[0].End)
}

func TestFormatSRT(t *testing.T) {
	srt := FormatSRT([]Cue{
		{Start: 0, End: 1.5, Lines: []string{"hello world"}},
		{Start: 1.5, End: 3.25, Lines: []string{"line one", "line two"}},
	})
	assert.Contains(t, srt, "1\n00:00:00,000 --> 00:00:01,500\nhello world\n")
	assert.Contains(t, srt, "2\n00:00:01,500 --> 00:00:03,250\nline one\nline two\n")
}

func TestSRTTimestampRollsOver(t *testing.T) {
	assert.Equal(t, "01:01:01,001", srtTimestamp(3661.001))
	assert.Equal(t, "00:00:00,000", srtTimestamp(-5))
}

func TestAssembleArgsGeometryAndTrim(t *testing.T) {
	clips := []Clip{{Path: "/a/one.mp4", Duration: 10}, {Path: "/a/two.mp4", Duration: 12}}
	args := assembleArgs(clips, "/a/narration.mp3", 30.5, "/out/video.mp4")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "scale=1080:1920:force_original_aspect_ratio=decrease")
	assert.Contains(t, joined, "pad=1080:1920:(ow-iw)/2:(oh-ih)/2")
	assert.Contains(t, joined, "-t 30.500")
	assert.Equal(t, "/out/video.mp4", args[len(args)-1])

	// 10+12 < 30.5, so the clip list loops: one.mp4 appears twice.
	assert.Equal(t, 2, strings.Count(joined, "/a/one.mp4"))
}

func TestAssembleArgsMapsNarrationAudio(t *testing.T) {
	clips := []Clip{{Path: "/a/one.mp4", Duration: 60}}
	args := assembleArgs(clips, "/a/narration.mp3", 30, "/out/video.mp4")
	joined := strings.Join(args, " ")
	// One video input, narration is input index 1.
	assert.Contains(t, joined, "-map 1:a:0")
	assert.Contains(t, joined, "concat=n=1:v=1:a=0")
}

func TestLoopToCoverStopsAtTarget(t *testing.T) {
	clips := []Clip{{Path: "a", Duration: 5}, {Path: "b", Duration: 5}}
	seq := loopToCover(clips, 12)
	require.Len(t, seq, 3)
	assert.Equal(t, "a", seq[0].Path)
	assert.Equal(t, "a", seq[2].Path)

	// Broken durations must not loop forever.
	zero := loopToCover([]Clip{{Path: "z", Duration: 0}}, 10)
	assert.Len(t, zero, 1)
}

func TestBurnArgsEscapesFilterPath(t *testing.T) {
	args := burnArgs("/v.mp4", "/subs/it's.srt", "/out.mp4")
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, `subtitles=/subs/it\'s.srt`)
	assert.Contains(t, joined, "Alignment=2")
	assert.Contains(t, joined, "-c:a copy")
}
