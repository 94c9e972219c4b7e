package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
)

func TestNewCLIWithBinary(t *testing.T) {
	cli := NewCLI(WithBinary("/opt/ffmpeg"), WithProbeBinary("/opt/ffprobe"))
	if cli.binary != "/opt/ffmpeg" {
		t.Fatalf("expected binary override to be applied, got %q", cli.binary)
	}
	if cli.probeBinary != "/opt/ffprobe" {
		t.Fatalf("expected probe binary override to be applied, got %q", cli.probeBinary)
	}
}

func TestCLIRunRequiresArgs(t *testing.T) {
	cli := NewCLI()
	if err := cli.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error when no arguments are given")
	}
}

func TestCLIRunPrependsGlobalFlags(t *testing.T) {
	var capturedArgs []string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		capturedArgs = append([]string(nil), args...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestFFmpegHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FFMPEG_HELPER_MODE=success")
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})

	cli := NewCLI()
	if err := cli.Run(context.Background(), []string{"-i", "in.mp4", "out.mp4"}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(capturedArgs) < 3 {
		t.Fatalf("expected arguments to be captured, got %v", capturedArgs)
	}
	if capturedArgs[0] != "-hide_banner" || capturedArgs[1] != "-nostdin" || capturedArgs[2] != "-y" {
		t.Fatalf("expected global flags first, got %v", capturedArgs[:3])
	}
}

func TestCLIRunFailureIncludesOutputTail(t *testing.T) {
	setFFmpegHelper(t, "failure")

	cli := NewCLI()
	err := cli.Run(context.Background(), []string{"-i", "in.mp4", "out.mp4"})
	if err == nil {
		t.Fatal("expected run failure error")
	}
	if !strings.Contains(err.Error(), "no such filter") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
}

func TestCLIProbeParsesResult(t *testing.T) {
	setFFmpegHelper(t, "probe")

	cli := NewCLI()
	result, err := cli.Probe(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if result.DurationSeconds != 42.5 {
		t.Fatalf("expected duration 42.5, got %f", result.DurationSeconds)
	}
	if result.Width != 1920 || result.Height != 1080 {
		t.Fatalf("expected 1920x1080, got %dx%d", result.Width, result.Height)
	}
	if !result.HasAudio {
		t.Fatal("expected audio stream to be detected")
	}
}

func TestCLIProbeRequiresPath(t *testing.T) {
	cli := NewCLI()
	if _, err := cli.Probe(context.Background(), "  "); err == nil {
		t.Fatal("expected error when path is empty")
	}
}

func setFFmpegHelper(t *testing.T, mode string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestFFmpegHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("FFMPEG_HELPER_MODE=%s", mode))
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func TestFFmpegHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("FFMPEG_HELPER_MODE") {
	case "success":
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "Error initializing filters")
		fmt.Fprintln(os.Stderr, "no such filter: 'warp'")
		os.Exit(1)
	case "probe":
		fmt.Println(`{"streams":[{"codec_type":"video","width":1920,"height":1080},{"codec_type":"audio"}],"format":{"duration":"42.500000","format_name":"mov,mp4,m4a"}}`)
		os.Exit(0)
	default:
		os.Exit(0)
	}
}
