//go:build !integration

package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/ports/adapter"
)

func TestArgs(t *testing.T) {
	c := NewCLI("", "0.2")

	t.Run("should map the video streams directly without overlays", func(t *testing.T) {
		args := strings.Join(c.args(adapter.PostProcessInput{VideoPath: "in.mp4", OutputPath: "out.mp4"}), " ")
		if strings.Contains(args, "-filter_complex") {
			t.Fatalf("expected no filter graph, got %s", args)
		}
		if !strings.Contains(args, "-map 0:v -map 0:a") {
			t.Fatalf("expected direct stream mapping, got %s", args)
		}
	})

	t.Run("should concat the bumper and mix music", func(t *testing.T) {
		args := c.args(adapter.PostProcessInput{
			BumperPath: "bumper.mp4", VideoPath: "in.mp4", MusicPath: "music.mp3", OutputPath: "out.mp4",
		})
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, "-i bumper.mp4 -i in.mp4 -i music.mp3") {
			t.Fatalf("unexpected input order: %s", joined)
		}
		if !strings.Contains(joined, "concat=n=2:v=1:a=1") || !strings.Contains(joined, "[2:a]volume=0.2[bg]") {
			t.Fatalf("missing filters: %s", joined)
		}
		if !strings.Contains(joined, "-map [vcat] -map [amix]") {
			t.Fatalf("unexpected mapping: %s", joined)
		}
		if args[len(args)-1] != "out.mp4" {
			t.Fatalf("output must be last, got %s", args[len(args)-1])
		}
	})
}

func TestProcess(t *testing.T) {
	t.Run("should reject a missing input as a precondition", func(t *testing.T) {
		err := NewCLI("", "").Process(context.Background(), adapter.PostProcessInput{OutputPath: "out.mp4"})
		if !domain.IsPermanent(err) {
			t.Fatalf("expected permanent error, got %v", err)
		}
	})

	t.Run("should surface ffmpeg stderr on failure", func(t *testing.T) {
		original := commandContext
		commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
			cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
			cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FFMPEG_HELPER_MODE=fail")
			return cmd
		}
		t.Cleanup(func() { commandContext = original })

		err := NewCLI("", "").Process(context.Background(), adapter.PostProcessInput{VideoPath: "in.mp4", OutputPath: "out.mp4"})
		if err == nil || !strings.Contains(err.Error(), "Invalid data found") {
			t.Fatalf("expected stderr in error, got %v", err)
		}
	})

	t.Run("should succeed when ffmpeg exits zero", func(t *testing.T) {
		original := commandContext
		commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
			cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
			cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FFMPEG_HELPER_MODE=success")
			return cmd
		}
		t.Cleanup(func() { commandContext = original })

		err := NewCLI("", "").Process(context.Background(), adapter.PostProcessInput{VideoPath: "in.mp4", OutputPath: "out.mp4"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("FFMPEG_HELPER_MODE") {
	case "fail":
		fmt.Fprintln(os.Stderr, "in.mp4: Invalid data found when processing input")
		os.Exit(1)
	default:
		os.Exit(0)
	}
}
