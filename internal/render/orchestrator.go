package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"reelsmith/internal/config"
	"reelsmith/internal/logging"
	"reelsmith/internal/media/ffmpeg"
	"reelsmith/internal/plan"
	"reelsmith/internal/services"
)

// Request describes one render job.
type Request struct {
	JobID      int64
	SourcePath string
	OutputPath string
	Plan       plan.EditPlan
}

// Result reports what the orchestrator produced.
type Result struct {
	OutputPath      string
	DurationSeconds float64
	SegmentCount    int
	StreamCopied    bool
	SourceCopied    bool
}

// Orchestrator turns an edit plan into an output file. Segment renders run
// concurrently under a shared weighted limiter so parallel jobs cannot
// oversubscribe the encoder.
type Orchestrator struct {
	runner     ffmpeg.Runner
	limiter    *semaphore.Weighted
	stagingDir string
	transition float64
	logger     *slog.Logger
}

// NewOrchestrator builds an orchestrator from configuration. The limiter is
// shared across every job this orchestrator serves.
func NewOrchestrator(runner ffmpeg.Runner, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	if runner == nil {
		runner = ffmpeg.NewCLI(ffmpeg.WithBinary(cfg.Render.FFmpegBinary))
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	maxConcurrent := cfg.Render.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		runner:     runner,
		limiter:    semaphore.NewWeighted(int64(maxConcurrent)),
		stagingDir: cfg.Paths.StagingDir,
		transition: cfg.Render.TransitionSeconds,
		logger:     logger.With(logging.String(logging.FieldComponent, "render")),
	}
}

// Render executes the plan. A plan without cuts falls back to copying the
// source through untouched.
func (o *Orchestrator) Render(ctx context.Context, req Request) (Result, error) {
	log := o.logger.With(logging.Int64(logging.FieldJobID, req.JobID))

	if req.SourcePath == "" || req.OutputPath == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "render", "request", "source and output paths required", nil)
	}
	if len(req.Plan.Cuts) == 0 {
		log.Warn("plan has no cuts, copying source to output")
		if err := copyFile(req.SourcePath, req.OutputPath); err != nil {
			return Result{}, services.Wrap(services.ErrExternalTool, "render", "source copy", "", err)
		}
		return Result{OutputPath: req.OutputPath, SourceCopied: true}, nil
	}

	probe, err := o.runner.Probe(ctx, req.SourcePath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "render", "probe source", "", err)
	}

	stageDir := filepath.Join(o.stagingDir, fmt.Sprintf("render-%d", req.JobID))
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "render", "staging dir", "", err)
	}
	defer os.RemoveAll(stageDir)

	streamCopy := canStreamCopy(req.Plan)
	segments, err := o.renderSegments(ctx, req, probe, stageDir, streamCopy)
	if err != nil {
		return Result{}, err
	}

	if streamCopy {
		if err := o.concatStreamCopy(ctx, segments, stageDir, req.OutputPath); err != nil {
			return Result{}, err
		}
	} else {
		if err := o.assemble(ctx, req.Plan, probe, segments, req.OutputPath); err != nil {
			return Result{}, err
		}
	}

	result := Result{
		OutputPath:   req.OutputPath,
		SegmentCount: len(segments),
		StreamCopied: streamCopy,
	}
	if out, probeErr := o.runner.Probe(ctx, req.OutputPath); probeErr == nil {
		result.DurationSeconds = out.DurationSeconds
	}
	log.Info("render complete",
		logging.Int("segments", result.SegmentCount),
		logging.Bool("stream_copy", streamCopy),
		logging.Float64("duration_seconds", result.DurationSeconds))
	return result, nil
}

// canStreamCopy reports whether every cut can be extracted and joined without
// re-encoding: unit speed, no keyframes, no overlays, no music, no filters,
// and hard cuts between segments.
func canStreamCopy(p plan.EditPlan) bool {
	if len(p.Overlays) > 0 || len(p.Music) > 0 || len(p.Filters) > 0 {
		return false
	}
	if transitionName(p.TransitionStyle) != "" {
		return false
	}
	for _, cut := range p.Cuts {
		if cut.Speed != 0 && cut.Speed != 1 {
			return false
		}
		if len(cut.Keyframes) > 0 {
			return false
		}
	}
	return true
}

func (o *Orchestrator) renderSegments(ctx context.Context, req Request, probe ffmpeg.ProbeResult, stageDir string, streamCopy bool) ([]string, error) {
	segments := make([]string, len(req.Plan.Cuts))
	group, groupCtx := errgroup.WithContext(ctx)

	for i, cut := range req.Plan.Cuts {
		segment := filepath.Join(stageDir, fmt.Sprintf("segment-%03d.mp4", i))
		segments[i] = segment

		group.Go(func() error {
			if err := o.limiter.Acquire(groupCtx, 1); err != nil {
				return err
			}
			defer o.limiter.Release(1)

			var args []string
			if streamCopy {
				args = []string{
					"-ss", formatSeconds(cut.Start),
					"-to", formatSeconds(cut.End),
					"-i", req.SourcePath,
					"-c", "copy",
					segment,
				}
			} else {
				video, audio := segmentFilters(cut)
				args = []string{"-i", req.SourcePath}
				if probe.HasAudio {
					args = append(args,
						"-filter_complex", fmt.Sprintf("[0:v]%s[v];[0:a]%s[a]", video, audio),
						"-map", "[v]", "-map", "[a]")
				} else {
					args = append(args,
						"-filter_complex", fmt.Sprintf("[0:v]%s[v]", video),
						"-map", "[v]")
				}
				args = append(args, segment)
			}

			if err := o.runner.Run(groupCtx, args); err != nil {
				return services.Wrap(services.ErrExternalTool, "render", "segment", fmt.Sprintf("cut %d", i), err)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return segments, nil
}

// concatStreamCopy joins already-cut segments through the concat demuxer
// without re-encoding.
func (o *Orchestrator) concatStreamCopy(ctx context.Context, segments []string, stageDir, outputPath string) error {
	listPath := filepath.Join(stageDir, "concat.txt")
	var list strings.Builder
	for _, segment := range segments {
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(segment, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return services.Wrap(services.ErrExternalTool, "render", "concat list", "", err)
	}

	args := []string{"-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", outputPath}
	if err := o.runner.Run(ctx, args); err != nil {
		return services.Wrap(services.ErrExternalTool, "render", "concat", "", err)
	}
	return nil
}

// assemble joins segments with transitions, burns overlays, and mixes music
// in one filtergraph pass.
func (o *Orchestrator) assemble(ctx context.Context, p plan.EditPlan, probe ffmpeg.ProbeResult, segments []string, outputPath string) error {
	args := make([]string, 0, 2*len(segments)+8)
	for _, segment := range segments {
		args = append(args, "-i", segment)
	}
	musicBase := len(segments)
	for _, track := range p.Music {
		args = append(args, "-i", track.Reference)
	}

	graph, videoLabel, audioLabel := o.buildGraph(p, probe, len(segments), musicBase)
	args = append(args, "-filter_complex", graph, "-map", videoLabel)
	if audioLabel != "" {
		args = append(args, "-map", audioLabel)
	}
	args = append(args, outputPath)

	if err := o.runner.Run(ctx, args); err != nil {
		return services.Wrap(services.ErrExternalTool, "render", "assemble", "", err)
	}
	return nil
}

func (o *Orchestrator) buildGraph(p plan.EditPlan, probe ffmpeg.ProbeResult, segmentCount, musicBase int) (graph, videoLabel, audioLabel string) {
	var parts []string
	transition := transitionName(p.TransitionStyle)

	if segmentCount == 1 {
		videoLabel = "[0:v]"
		if probe.HasAudio {
			audioLabel = "[0:a]"
		}
	} else if transition == "" || o.transition <= 0 {
		var inputs strings.Builder
		for i := 0; i < segmentCount; i++ {
			fmt.Fprintf(&inputs, "[%d:v]", i)
			if probe.HasAudio {
				fmt.Fprintf(&inputs, "[%d:a]", i)
			}
		}
		audioCount := 0
		if probe.HasAudio {
			audioCount = 1
		}
		parts = append(parts, fmt.Sprintf("%sconcat=n=%d:v=1:a=%d[vjoin]", inputs.String(), segmentCount, audioCount))
		videoLabel = "[vjoin]"
		if probe.HasAudio {
			parts[len(parts)-1] = fmt.Sprintf("%sconcat=n=%d:v=1:a=1[vjoin][ajoin]", inputs.String(), segmentCount)
			audioLabel = "[ajoin]"
		}
	} else {
		durations := make([]float64, len(p.Cuts))
		for i, cut := range p.Cuts {
			durations[i] = cut.Duration()
		}
		offsets := xfadeOffsets(durations, o.transition)

		prev := "[0:v]"
		for i := 1; i < segmentCount; i++ {
			out := fmt.Sprintf("[vx%d]", i)
			parts = append(parts, fmt.Sprintf("%s[%d:v]xfade=transition=%s:duration=%s:offset=%s%s",
				prev, i, transition, formatSeconds(o.transition), formatSeconds(offsets[i-1]), out))
			prev = out
		}
		videoLabel = prev

		if probe.HasAudio {
			prevAudio := "[0:a]"
			for i := 1; i < segmentCount; i++ {
				out := fmt.Sprintf("[ax%d]", i)
				parts = append(parts, fmt.Sprintf("%s[%d:a]acrossfade=d=%s%s",
					prevAudio, i, formatSeconds(o.transition), out))
				prevAudio = out
			}
			audioLabel = prevAudio
		}
	}

	if len(p.Overlays) > 0 {
		filters := make([]string, 0, len(p.Overlays))
		for _, overlay := range p.Overlays {
			filters = append(filters, drawtextFilter(overlay))
		}
		parts = append(parts, fmt.Sprintf("%s%s[vtext]", videoLabel, strings.Join(filters, ",")))
		videoLabel = "[vtext]"
	}

	if len(p.Music) > 0 {
		mixInputs := make([]string, 0, len(p.Music)+1)
		if audioLabel != "" {
			mixInputs = append(mixInputs, audioLabel)
		}
		for i, track := range p.Music {
			label := fmt.Sprintf("[m%d]", i)
			delayMS := int(track.Start * 1000)
			parts = append(parts, fmt.Sprintf("[%d:a]atrim=end=%s,volume=%s,adelay=%d:all=1%s",
				musicBase+i, formatSeconds(track.End-track.Start), formatSeconds(track.Volume), delayMS, label))
			mixInputs = append(mixInputs, label)
		}
		if len(mixInputs) == 1 {
			audioLabel = mixInputs[0]
		} else {
			parts = append(parts, fmt.Sprintf("%samix=inputs=%d:duration=first:normalize=0[amix]",
				strings.Join(mixInputs, ""), len(mixInputs)))
			audioLabel = "[amix]"
		}
	}

	return strings.Join(parts, ";"), videoLabel, audioLabel
}

// CopySource copies the unmodified source to the output path. The workflow
// uses it as a last resort when the encoder cannot run, so a job never ends
// without an output file.
func CopySource(src, dst string) error {
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
