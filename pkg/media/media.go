// Package media drives ffmpeg as a child process: probing durations,
// assembling vertical videos from stock clips and narration, and burning
// captions. Commands run under the caller's context, so cancellation kills
// the process.
package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/shortsforge/shortsforge/pkg/errkind"
)

// Output geometry: vertical 9:16.
const (
	FrameWidth  = 1080
	FrameHeight = 1920
	frameRate   = 30

	// tailSeconds pads the video past the narration end.
	tailSeconds = 0.5
)

// Clip is one stock-footage input with its probed duration.
type Clip struct {
	Path     string
	Duration float64
}

// Muxer shells out to ffmpeg/ffprobe.
type Muxer struct {
	ffmpeg  string
	ffprobe string
}

// NewMuxer creates a muxer. Empty binary paths resolve from PATH.
func NewMuxer(ffmpeg, ffprobe string) *Muxer {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &Muxer{ffmpeg: ffmpeg, ffprobe: ffprobe}
}

// Probe returns a media file's duration in seconds.
func (m *Muxer) Probe(ctx context.Context, path string) (float64, error) {
	out, err := m.run(ctx, m.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	if err != nil {
		return 0, err
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil || dur <= 0 {
		return 0, errkind.Newf(errkind.Validation, "unreadable duration for %s: %q", path, out)
	}
	return dur, nil
}

// Assemble concatenates the clips (scaled and padded to 1080x1920, looped
// or trimmed to the narration length plus a half-second tail), muxes the
// narration audio at zero offset, and writes outPath.
func (m *Muxer) Assemble(ctx context.Context, clips []Clip, narrationPath string, narrationDuration float64, outPath string) error {
	if len(clips) == 0 {
		return errkind.Newf(errkind.Validation, "no clips to assemble")
	}
	if narrationDuration <= 0 {
		return errkind.Newf(errkind.Validation, "narration duration must be positive")
	}
	target := narrationDuration + tailSeconds

	args := assembleArgs(clips, narrationPath, target, outPath)
	_, err := m.run(ctx, m.ffmpeg, args...)
	return err
}

// assembleArgs builds the full ffmpeg argument list. Split out for tests.
func assembleArgs(clips []Clip, narrationPath string, target float64, outPath string) []string {
	// Repeat the clip list until it covers the target duration, then let
	// -t trim the concatenated result.
	sequence := loopToCover(clips, target)

	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	for _, c := range sequence {
		args = append(args, "-i", c.Path)
	}
	args = append(args, "-i", narrationPath)

	var filter strings.Builder
	for i := range sequence {
		fmt.Fprintf(&filter,
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,"+
				"pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d[v%d];",
			i, FrameWidth, FrameHeight, FrameWidth, FrameHeight, frameRate, i)
	}
	for i := range sequence {
		fmt.Fprintf(&filter, "[v%d]", i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=1:a=0[vout]", len(sequence))

	return append(args,
		"-filter_complex", filter.String(),
		"-map", "[vout]",
		"-map", fmt.Sprintf("%d:a:0", len(sequence)),
		"-t", fmt.Sprintf("%.3f", target),
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		outPath,
	)
}

// loopToCover repeats the clip list until its total duration reaches the
// target.
func loopToCover(clips []Clip, target float64) []Clip {
	var out []Clip
	total := 0.0
	for total < target {
		for _, c := range clips {
			out = append(out, c)
			total += c.Duration
			if total >= target {
				return out
			}
		}
		// Zero-duration metadata would loop forever.
		if total <= 0 {
			return clips
		}
	}
	return out
}

// Burn renders the subtitle file onto the video with the house style:
// centered above the lower third, outlined for legibility.
func (m *Muxer) Burn(ctx context.Context, videoPath, subtitlePath, outPath string) error {
	args := burnArgs(videoPath, subtitlePath, outPath)
	_, err := m.run(ctx, m.ffmpeg, args...)
	return err
}

func burnArgs(videoPath, subtitlePath, outPath string) []string {
	style := "FontName=Arial,FontSize=15,PrimaryColour=&H00FFFFFF," +
		"OutlineColour=&H00000000,Outline=2,Alignment=2,MarginV=60"
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf("subtitles=%s:force_style='%s'", escapeFilterPath(subtitlePath), style),
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
		"-c:a", "copy",
		outPath,
	}
}

// escapeFilterPath escapes the characters the ffmpeg filter parser treats
// specially inside a filter argument.
func escapeFilterPath(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`, `[`, `\[`, `]`, `\]`)
	return r.Replace(p)
}

// run executes one command, returning stdout. Stderr is captured for the
// error message. The command line is logged shell-quoted.
func (m *Muxer) run(ctx context.Context, name string, args ...string) (string, error) {
	slog.Debug("Running media command", "command", shellquote.Join(append([]string{name}, args...)...))

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", errkind.New(errkind.Timeout,
				fmt.Errorf("%s cancelled: %w", name, ctx.Err()))
		}
		return "", errkind.New(errkind.Unexpected,
			fmt.Errorf("%s failed: %w: %s", name, err, tail(stderr.String(), 512)))
	}
	return stdout.String(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
