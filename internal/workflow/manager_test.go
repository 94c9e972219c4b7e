package workflow

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"reelsmith/internal/artifacts"
	"reelsmith/internal/media/ffmpeg"
	"reelsmith/internal/pipeline"
	"reelsmith/internal/plan"
	"reelsmith/internal/queue"
	"reelsmith/internal/render"
	"reelsmith/internal/services"
	"reelsmith/internal/testsupport"
)

type fakeEngine struct {
	run func(ctx context.Context, state *pipeline.State) error
}

func (f *fakeEngine) Run(ctx context.Context, state *pipeline.State) error {
	return f.run(ctx, state)
}

func successfulEngine() *fakeEngine {
	return &fakeEngine{run: func(_ context.Context, state *pipeline.State) error {
		return state.SetOutput(pipeline.StageAssemble,
			plan.PlanOutput(plan.EditPlan{Cuts: []plan.Cut{{Start: 0, End: 10}}}))
	}}
}

type fakeRenderer struct {
	err     error
	request render.Request
}

func (f *fakeRenderer) Render(_ context.Context, req render.Request) (render.Result, error) {
	f.request = req
	if f.err != nil {
		return render.Result{}, f.err
	}
	return render.Result{OutputPath: req.OutputPath, DurationSeconds: 10}, nil
}

type fakeProber struct {
	err error
}

func (f *fakeProber) Probe(context.Context, string) (ffmpeg.ProbeResult, error) {
	if f.err != nil {
		return ffmpeg.ProbeResult{}, f.err
	}
	return ffmpeg.ProbeResult{DurationSeconds: 60, HasAudio: true}, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	started   int
	completed int
	failed    []string
}

func (n *recordingNotifier) NotifyJobStarted(context.Context, string, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started++
	return nil
}

func (n *recordingNotifier) NotifyJobCompleted(context.Context, string, string, time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed++
	return nil
}

func (n *recordingNotifier) NotifyJobFailed(_ context.Context, _ string, stage string, _ error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, stage)
	return nil
}

func (n *recordingNotifier) NotifyError(context.Context, error, string) error { return nil }
func (n *recordingNotifier) TestNotification(context.Context) error           { return nil }

type managerFixture struct {
	manager   *Manager
	store     *queue.Store
	artifacts *artifacts.Store
	renderer  *fakeRenderer
	notifier  *recordingNotifier
}

func newFixture(t *testing.T, engine PipelineRunner) *managerFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := testsupport.MustOpenArtifacts(t, cfg)
	renderer := &fakeRenderer{}
	notifier := &recordingNotifier{}
	manager := NewManager(cfg, store, artifactStore, engine, renderer, &fakeProber{}, notifier, nil)
	return &managerFixture{
		manager:   manager,
		store:     store,
		artifacts: artifactStore,
		renderer:  renderer,
		notifier:  notifier,
	}
}

func TestProcessJobCompletes(t *testing.T) {
	fixture := newFixture(t, successfulEngine())
	job := testsupport.NewJob(t, fixture.store, "/media/trip.mp4", queue.Options{})

	fixture.manager.processJob(context.Background(), job)

	updated, err := fixture.store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if updated.Status != queue.StatusCompleted {
		t.Fatalf("job status = %s, want completed (error: %s)", updated.Status, updated.ErrorMessage)
	}
	if !strings.HasSuffix(updated.OutputPath, "trip-edit.mp4") {
		t.Fatalf("output path = %q, want derived from source stem", updated.OutputPath)
	}
	if updated.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", updated.Attempt)
	}
	if fixture.notifier.started != 1 || fixture.notifier.completed != 1 {
		t.Fatalf("notifications started=%d completed=%d", fixture.notifier.started, fixture.notifier.completed)
	}

	record, ok, err := fixture.artifacts.LoadPlan(context.Background(), job.ID)
	if err != nil || !ok {
		t.Fatalf("LoadPlan() = %v, %v", ok, err)
	}
	if !record.Completed {
		t.Fatal("artifact record not flagged completed")
	}
}

func TestProcessJobValidationFailureLandsInReview(t *testing.T) {
	engine := &fakeEngine{run: func(_ context.Context, state *pipeline.State) error {
		err := services.Wrap(services.ErrValidation, pipeline.StageAssemble, "validate", "overlapping cuts", nil)
		state.AppendError(pipeline.StageAssemble, err, true)
		return err
	}}
	fixture := newFixture(t, engine)
	job := testsupport.NewJob(t, fixture.store, "/media/clip.mp4", queue.Options{})

	fixture.manager.processJob(context.Background(), job)

	updated, err := fixture.store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if updated.Status != queue.StatusReview {
		t.Fatalf("job status = %s, want review", updated.Status)
	}
	if !strings.Contains(updated.ErrorMessage, "overlapping cuts") {
		t.Fatalf("error message = %q", updated.ErrorMessage)
	}
	if len(fixture.notifier.failed) != 1 || fixture.notifier.failed[0] != pipeline.StageAssemble {
		t.Fatalf("failure notifications = %v", fixture.notifier.failed)
	}
}

func TestProcessJobTransientFailureLandsInFailed(t *testing.T) {
	engine := &fakeEngine{run: func(_ context.Context, state *pipeline.State) error {
		err := services.Wrap(services.ErrTransient, pipeline.StagePlan, "run", "provider pool exhausted", nil)
		state.AppendError(pipeline.StagePlan, err, true)
		return err
	}}
	fixture := newFixture(t, engine)
	job := testsupport.NewJob(t, fixture.store, "/media/clip.mp4", queue.Options{})

	fixture.manager.processJob(context.Background(), job)

	updated, err := fixture.store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if updated.Status != queue.StatusFailed {
		t.Fatalf("job status = %s, want failed", updated.Status)
	}

	record, ok, err := fixture.artifacts.LoadPlan(context.Background(), job.ID)
	if err != nil || !ok {
		t.Fatalf("LoadPlan() = %v, %v", ok, err)
	}
	if record.FailedStage != pipeline.StagePlan {
		t.Fatalf("failed stage = %q, want plan", record.FailedStage)
	}
}

func TestProcessJobRenderFailure(t *testing.T) {
	fixture := newFixture(t, successfulEngine())
	fixture.renderer.err = services.Wrap(services.ErrExternalTool, "render", "assemble", "", errors.New("encoder crashed"))
	job := testsupport.NewJob(t, fixture.store, "/media/clip.mp4", queue.Options{})

	fixture.manager.processJob(context.Background(), job)

	updated, err := fixture.store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if updated.Status != queue.StatusFailed {
		t.Fatalf("job status = %s, want failed", updated.Status)
	}
	if len(fixture.notifier.failed) != 1 || fixture.notifier.failed[0] != "render" {
		t.Fatalf("failure notifications = %v", fixture.notifier.failed)
	}
}

func TestProcessJobEncoderMissingCopiesSourceThrough(t *testing.T) {
	fixture := newFixture(t, successfulEngine())
	fixture.renderer.err = services.Wrap(services.ErrExternalTool, "render", "segment", "cut 0",
		&exec.Error{Name: "ffmpeg", Err: exec.ErrNotFound})

	dir := t.TempDir()
	source := testsupport.WriteSourceMedia(t, filepath.Join(dir, "clip.mp4"), 64)
	job := testsupport.NewJob(t, fixture.store, source, queue.Options{})
	job.OutputPath = filepath.Join(dir, "out", "clip-edit.mp4")
	if err := fixture.store.Update(context.Background(), job); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	fixture.manager.processJob(context.Background(), job)

	updated, err := fixture.store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if updated.Status != queue.StatusCompleted {
		t.Fatalf("job status = %s, want completed (error: %s)", updated.Status, updated.ErrorMessage)
	}
	if updated.OutputPath != job.OutputPath {
		t.Fatalf("output path = %q, want %q", updated.OutputPath, job.OutputPath)
	}

	want, err := os.ReadFile(source)
	if err != nil {
		t.Fatalf("read source: %v", err)
	}
	got, err := os.ReadFile(job.OutputPath)
	if err != nil {
		t.Fatalf("job ended with no output file: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("output is not a copy of the source")
	}
	if len(fixture.notifier.failed) != 0 {
		t.Fatalf("failure notifications = %v, want none", fixture.notifier.failed)
	}
}

func TestProcessJobHonorsExplicitOutputPath(t *testing.T) {
	fixture := newFixture(t, successfulEngine())
	job := testsupport.NewJob(t, fixture.store, "/media/clip.mp4", queue.Options{})
	job.OutputPath = filepath.Join(t.TempDir(), "custom.mp4")
	if err := fixture.store.Update(context.Background(), job); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	fixture.manager.processJob(context.Background(), job)

	if fixture.renderer.request.OutputPath != job.OutputPath {
		t.Fatalf("render output = %q, want %q", fixture.renderer.request.OutputPath, job.OutputPath)
	}
}

func TestPreloadArtifactsInstallsStrictPrefix(t *testing.T) {
	fixture := newFixture(t, successfulEngine())
	ctx := context.Background()
	jobID := int64(42)

	draft := plan.DraftOutput(plan.PlanDraft{Cuts: []plan.Cut{{Start: 0, End: 5}}})
	if err := fixture.artifacts.SaveStage(ctx, jobID, "plan", draft); err != nil {
		t.Fatalf("SaveStage(plan) error = %v", err)
	}
	if err := fixture.artifacts.SaveStage(ctx, jobID, "moments", plan.MomentsOutput(plan.MomentList{})); err != nil {
		t.Fatalf("SaveStage(moments) error = %v", err)
	}
	// captions missing: music beyond the gap must not preload.
	if err := fixture.artifacts.SaveStage(ctx, jobID, "music", plan.MusicOutput(plan.MusicCue{})); err != nil {
		t.Fatalf("SaveStage(music) error = %v", err)
	}

	state := pipeline.NewState(jobID, queue.Options{}, "src.mp4", 60)
	if err := fixture.manager.preloadArtifacts(ctx, state); err != nil {
		t.Fatalf("preloadArtifacts() error = %v", err)
	}

	if _, ok := state.Output("plan"); !ok {
		t.Fatal("plan artifact not preloaded")
	}
	if _, ok := state.Output("moments"); !ok {
		t.Fatal("moments artifact not preloaded")
	}
	if _, ok := state.Output("music"); ok {
		t.Fatal("artifact beyond the gap was preloaded")
	}
}

func TestResumeRequeuesFailedJob(t *testing.T) {
	fixture := newFixture(t, successfulEngine())
	ctx := context.Background()
	job := testsupport.NewJob(t, fixture.store, "/media/clip.mp4", queue.Options{})
	job.SetFailed("provider pool exhausted")
	if err := fixture.store.Update(ctx, job); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if err := fixture.manager.Resume(ctx, job.ID); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	updated, err := fixture.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if updated.Status != queue.StatusQueued {
		t.Fatalf("job status = %s, want queued", updated.Status)
	}
	if updated.ErrorMessage != "" {
		t.Fatalf("error message = %q, want cleared", updated.ErrorMessage)
	}
}

func TestResumeRejectsActiveJob(t *testing.T) {
	fixture := newFixture(t, successfulEngine())
	ctx := context.Background()
	job := testsupport.NewJob(t, fixture.store, "/media/clip.mp4", queue.Options{})

	if err := fixture.manager.Resume(ctx, job.ID); err == nil {
		t.Fatal("expected Resume to reject a queued job")
	}
}

func TestFailedStagePrefersLastFatal(t *testing.T) {
	state := pipeline.NewState(1, queue.Options{}, "src.mp4", 60)
	state.AppendError("moments", errors.New("optional"), false)
	state.AppendError("plan", errors.New("fatal"), true)
	state.AppendError("captions", errors.New("optional"), false)

	if stage := failedStage(state, "fallback"); stage != "plan" {
		t.Fatalf("failedStage() = %q, want plan", stage)
	}

	empty := pipeline.NewState(2, queue.Options{}, "src.mp4", 60)
	if stage := failedStage(empty, "fallback"); stage != "fallback" {
		t.Fatalf("failedStage() on empty state = %q", stage)
	}
}
