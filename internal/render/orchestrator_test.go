package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"reelsmith/internal/config"
	"reelsmith/internal/media/ffmpeg"
	"reelsmith/internal/plan"
)

type fakeRunner struct {
	mu        sync.Mutex
	runs      [][]string
	runErr    error
	probe     ffmpeg.ProbeResult
	probeErr  error
	failMatch string
}

func (f *fakeRunner) Run(_ context.Context, args []string) error {
	f.mu.Lock()
	f.runs = append(f.runs, append([]string(nil), args...))
	f.mu.Unlock()
	if f.failMatch != "" && strings.Contains(strings.Join(args, " "), f.failMatch) {
		return errors.New("simulated ffmpeg failure")
	}
	return f.runErr
}

func (f *fakeRunner) Probe(context.Context, string) (ffmpeg.ProbeResult, error) {
	return f.probe, f.probeErr
}

func (f *fakeRunner) joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.runs))
	for _, run := range f.runs {
		out = append(out, strings.Join(run, " "))
	}
	return out
}

func newTestOrchestrator(t *testing.T, runner ffmpeg.Runner) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	cfg.Render.MaxConcurrent = 2
	cfg.Render.TransitionSeconds = 1
	return NewOrchestrator(runner, &cfg, nil)
}

func TestRenderStreamCopyFastPath(t *testing.T) {
	runner := &fakeRunner{probe: ffmpeg.ProbeResult{DurationSeconds: 60, HasAudio: true}}
	orchestrator := newTestOrchestrator(t, runner)

	result, err := orchestrator.Render(context.Background(), Request{
		JobID:      1,
		SourcePath: "source.mp4",
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
		Plan: plan.EditPlan{Cuts: []plan.Cut{
			{Start: 0, End: 10},
			{Start: 20, End: 30},
		}},
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !result.StreamCopied {
		t.Fatal("expected stream copy fast path")
	}
	if result.SegmentCount != 2 {
		t.Fatalf("expected 2 segments, got %d", result.SegmentCount)
	}

	runs := runner.joined()
	var concatRuns, copyRuns int
	for _, run := range runs {
		if strings.Contains(run, "-f concat") {
			concatRuns++
		}
		if strings.Contains(run, "-c copy") {
			copyRuns++
		}
	}
	if concatRuns != 1 {
		t.Fatalf("expected one concat demuxer run, got %d in %v", concatRuns, runs)
	}
	if copyRuns != 3 {
		t.Fatalf("expected every run to stream copy, got %d of %d", copyRuns, len(runs))
	}
}

func TestRenderFullPathUsesFilters(t *testing.T) {
	runner := &fakeRunner{probe: ffmpeg.ProbeResult{DurationSeconds: 60, HasAudio: true}}
	orchestrator := newTestOrchestrator(t, runner)

	_, err := orchestrator.Render(context.Background(), Request{
		JobID:      2,
		SourcePath: "source.mp4",
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
		Plan: plan.EditPlan{
			Cuts:            []plan.Cut{{Start: 0, End: 10, Speed: 2}, {Start: 20, End: 30}},
			TransitionStyle: "crossfade",
			Overlays:        []plan.Overlay{{Text: "intro", Start: 0, End: 2}},
		},
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	runs := runner.joined()
	var sawXfade, sawDrawtext, sawAtempo bool
	for _, run := range runs {
		if strings.Contains(run, "xfade=transition=dissolve") {
			sawXfade = true
		}
		if strings.Contains(run, "drawtext=text='intro'") {
			sawDrawtext = true
		}
		if strings.Contains(run, "atempo=2") {
			sawAtempo = true
		}
	}
	if !sawXfade {
		t.Fatalf("expected xfade in assemble args, runs: %v", runs)
	}
	if !sawDrawtext {
		t.Fatalf("expected drawtext overlay, runs: %v", runs)
	}
	if !sawAtempo {
		t.Fatalf("expected atempo speed chain in segment args, runs: %v", runs)
	}
}

func TestRenderNoCutsCopiesSource(t *testing.T) {
	runner := &fakeRunner{}
	orchestrator := newTestOrchestrator(t, runner)

	srcDir := t.TempDir()
	source := filepath.Join(srcDir, "source.mp4")
	if err := os.WriteFile(source, []byte("fake media"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	output := filepath.Join(srcDir, "out", "result.mp4")

	result, err := orchestrator.Render(context.Background(), Request{
		JobID:      3,
		SourcePath: source,
		OutputPath: output,
		Plan:       plan.EditPlan{},
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !result.SourceCopied {
		t.Fatal("expected source copy fallback")
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "fake media" {
		t.Fatalf("output content = %q", data)
	}
	if len(runner.joined()) != 0 {
		t.Fatal("source copy fallback should not invoke ffmpeg")
	}
}

func TestRenderSegmentFailureAborts(t *testing.T) {
	runner := &fakeRunner{
		probe:     ffmpeg.ProbeResult{DurationSeconds: 60, HasAudio: true},
		failMatch: "segment-001",
	}
	orchestrator := newTestOrchestrator(t, runner)

	_, err := orchestrator.Render(context.Background(), Request{
		JobID:      4,
		SourcePath: "source.mp4",
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
		Plan: plan.EditPlan{Cuts: []plan.Cut{
			{Start: 0, End: 10},
			{Start: 20, End: 30},
			{Start: 40, End: 50},
		}},
	})
	if err == nil {
		t.Fatal("expected render to fail when a segment fails")
	}
	if !strings.Contains(err.Error(), "cut 1") {
		t.Fatalf("expected failing cut index in error, got %v", err)
	}

	for _, run := range runner.joined() {
		if strings.Contains(run, "-f concat") {
			t.Fatal("concat should not run after a segment failure")
		}
	}
}

type countingRunner struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
}

func (c *countingRunner) Run(_ context.Context, args []string) error {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.maxSeen {
		c.maxSeen = c.inFlight
	}
	c.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
	return nil
}

func (c *countingRunner) Probe(context.Context, string) (ffmpeg.ProbeResult, error) {
	return ffmpeg.ProbeResult{DurationSeconds: 120, HasAudio: true}, nil
}

func TestRenderLimiterSerializesSegments(t *testing.T) {
	runner := &countingRunner{}
	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	cfg.Render.MaxConcurrent = 1
	orchestrator := NewOrchestrator(runner, &cfg, nil)

	_, err := orchestrator.Render(context.Background(), Request{
		JobID:      7,
		SourcePath: "source.mp4",
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
		Plan: plan.EditPlan{Cuts: []plan.Cut{
			{Start: 0, End: 10},
			{Start: 20, End: 30},
			{Start: 40, End: 50},
			{Start: 60, End: 70},
		}},
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if runner.maxSeen != 1 {
		t.Fatalf("max concurrent runs = %d, want 1", runner.maxSeen)
	}
}

func TestRenderRequiresPaths(t *testing.T) {
	runner := &fakeRunner{}
	orchestrator := newTestOrchestrator(t, runner)
	if _, err := orchestrator.Render(context.Background(), Request{JobID: 5}); err == nil {
		t.Fatal("expected error for missing paths")
	}
}

func TestRenderMixesMusicWithoutSourceAudio(t *testing.T) {
	runner := &fakeRunner{probe: ffmpeg.ProbeResult{DurationSeconds: 60}}
	orchestrator := newTestOrchestrator(t, runner)

	_, err := orchestrator.Render(context.Background(), Request{
		JobID:      6,
		SourcePath: "source.mp4",
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
		Plan: plan.EditPlan{
			Cuts:  []plan.Cut{{Start: 0, End: 10}},
			Music: []plan.AudioTrack{{Reference: "theme.mp3", Start: 0, End: 10, Volume: 0.4}},
		},
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	var sawVolume bool
	for _, run := range runner.joined() {
		if strings.Contains(run, "volume=0.4") {
			sawVolume = true
		}
	}
	if !sawVolume {
		t.Fatalf("expected music volume filter, runs: %v", runner.joined())
	}
}
