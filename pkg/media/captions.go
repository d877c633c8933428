package media

import (
	"fmt"
	"strings"

	"github.com/shortsforge/shortsforge/pkg/providers"
)

// Caption layout limits: short lines the eye can catch on a phone.
const (
	maxLineChars = 42
	maxCueLines  = 2
)

// Cue is one subtitle: up to two lines shown from Start to End seconds.
type Cue struct {
	Start float64
	End   float64
	Lines []string
}

// BuildCues groups word timings into display cues: words pack into lines of
// at most 42 characters, at most two lines per cue, cue boundaries at the
// timing of the first and last word shown.
func BuildCues(timings []providers.WordTiming) []Cue {
	var cues []Cue
	var cur Cue
	var line strings.Builder

	flushLine := func() {
		if line.Len() == 0 {
			return
		}
		cur.Lines = append(cur.Lines, line.String())
		line.Reset()
	}
	flushCue := func() {
		flushLine()
		if len(cur.Lines) > 0 {
			cues = append(cues, cur)
		}
		cur = Cue{}
	}

	for _, w := range timings {
		word := strings.TrimSpace(w.Word)
		if word == "" {
			continue
		}
		if len(cur.Lines) == 0 && line.Len() == 0 {
			cur.Start = w.Start
		}
		if line.Len() > 0 && line.Len()+1+len(word) > maxLineChars {
			flushLine()
			if len(cur.Lines) == maxCueLines {
				flushCue()
				cur.Start = w.Start
			}
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
		cur.End = w.End
	}
	flushCue()
	return cues
}

// FormatSRT renders cues as SubRip text.
func FormatSRT(cues []Cue) string {
	var b strings.Builder
	for i, c := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, srtTimestamp(c.Start), srtTimestamp(c.End),
			strings.Join(c.Lines, "\n"))
	}
	return b.String()
}

func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(seconds*1000 + 0.5)
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
