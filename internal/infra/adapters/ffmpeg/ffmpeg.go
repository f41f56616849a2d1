// Package ffmpeg runs the bumper and background-music overlay on rendered
// videos. FFmpeg is treated as a black box: inputs in, one mp4 out.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/ports/adapter"
)

var commandContext = exec.CommandContext

var _ adapter.PostProcessor = (*CLI)(nil)

// CLI wraps the ffmpeg binary.
type CLI struct {
	binary    string
	musicGain string
}

func NewCLI(binary, musicGain string) *CLI {
	if binary == "" {
		binary = "ffmpeg"
	}
	if musicGain == "" {
		musicGain = "0.15"
	}
	return &CLI{binary: binary, musicGain: musicGain}
}

func (c *CLI) Process(ctx context.Context, in adapter.PostProcessInput) error {
	if in.VideoPath == "" {
		return domain.Precondition("post-process", errors.New("video path required"))
	}
	if in.OutputPath == "" {
		return domain.Precondition("post-process", errors.New("output path required"))
	}
	args := c.args(in)
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr.String(), 400))
	}
	return nil
}

// args builds the filter graph. Inputs are ordered bumper, video, music with
// the optional ones omitted.
func (c *CLI) args(in adapter.PostProcessInput) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	idx := 0
	bumper, video, music := -1, -1, -1
	if in.BumperPath != "" {
		args = append(args, "-i", in.BumperPath)
		bumper = idx
		idx++
	}
	args = append(args, "-i", in.VideoPath)
	video = idx
	idx++
	if in.MusicPath != "" {
		args = append(args, "-i", in.MusicPath)
		music = idx
	}

	var graph []string
	vOut, aOut := fmt.Sprintf("%d:v", video), fmt.Sprintf("%d:a", video)
	if bumper >= 0 {
		graph = append(graph,
			fmt.Sprintf("[%d:v]scale=1280:720,setsar=1[bv]", bumper),
			fmt.Sprintf("[%d:v]scale=1280:720,setsar=1[mv]", video),
			fmt.Sprintf("[bv][%d:a][mv][%d:a]concat=n=2:v=1:a=1[vcat][acat]", bumper, video),
		)
		vOut, aOut = "vcat", "acat"
	}
	if music >= 0 {
		graph = append(graph,
			fmt.Sprintf("[%d:a]volume=%s[bg]", music, c.musicGain),
			fmt.Sprintf("[%s][bg]amix=inputs=2:duration=first:dropout_transition=2[amix]", aOut),
		)
		aOut = "amix"
	}
	if len(graph) > 0 {
		args = append(args, "-filter_complex", strings.Join(graph, ";"))
	}
	args = append(args,
		"-map", mapLabel(vOut), "-map", mapLabel(aOut),
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
		"-c:a", "aac", "-b:a", "160k",
		"-movflags", "+faststart",
		in.OutputPath,
	)
	return args
}

// mapLabel brackets filter outputs; raw stream specifiers stay bare.
func mapLabel(l string) string {
	if strings.Contains(l, ":") {
		return l
	}
	return "[" + l + "]"
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
