package workflow

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"reelsmith/internal/artifacts"
	"reelsmith/internal/logging"
	"reelsmith/internal/pipeline"
	"reelsmith/internal/queue"
	"reelsmith/internal/render"
	"reelsmith/internal/services"
)

// processJob drives one job through planning and rendering and writes its
// terminal status.
func (m *Manager) processJob(ctx context.Context, job *queue.Job) {
	jobCtx := services.WithJobID(ctx, job.ID)
	log := logging.WithContext(jobCtx, m.logger)
	started := time.Now()

	job.Status = queue.StatusProcessing
	job.Attempt++
	job.SetProgress("plan", "planning edit", 5)
	now := time.Now().UTC()
	job.LastHeartbeat = &now
	if err := m.store.Update(jobCtx, job); err != nil {
		log.Error("claim job failed", logging.Error(err))
		return
	}

	if err := m.notifier.NotifyJobStarted(jobCtx, job.Token, filepath.Base(job.SourcePath)); err != nil {
		log.Warn("start notification failed", logging.Error(err))
	}

	monitorCtx, stopMonitor := context.WithCancel(jobCtx)
	var monitorWG sync.WaitGroup
	monitorWG.Add(1)
	go m.heartbeat.StartLoop(monitorCtx, &monitorWG, job.ID)

	probe, err := m.prober.Probe(jobCtx, job.SourcePath)
	if err != nil {
		stopMonitor()
		monitorWG.Wait()
		m.failJob(jobCtx, job, "probe", services.Wrap(services.ErrExternalTool, "workflow", "probe source", "", err))
		return
	}

	opts, err := job.DecodeOptions()
	if err != nil {
		stopMonitor()
		monitorWG.Wait()
		m.failJob(jobCtx, job, "options", services.Wrap(services.ErrConfiguration, "workflow", "decode options", "", err))
		return
	}

	state := pipeline.NewState(job.ID, opts, job.SourcePath, probe.DurationSeconds)
	if err := m.preloadArtifacts(jobCtx, state); err != nil {
		log.Warn("artifact preload failed, planning from scratch", logging.Error(err))
	}

	monitorWG.Add(1)
	go m.watchCancel(monitorCtx, &monitorWG, job.ID, state)

	runErr := m.engine.Run(jobCtx, state)
	stopMonitor()
	monitorWG.Wait()

	if runErr != nil {
		if state.Canceled() || errors.Is(runErr, context.Canceled) {
			m.cancelJob(ctx, job)
			return
		}
		m.failJob(jobCtx, job, failedStage(state, "plan"), runErr)
		return
	}

	final, ok := state.FinalPlan()
	if !ok {
		m.failJob(jobCtx, job, pipeline.StageAssemble,
			services.Wrap(services.ErrValidation, "workflow", "final plan", "pipeline produced no edit plan", nil))
		return
	}

	job.SetProgress("render", "rendering edit", 75)
	if err := m.store.Update(jobCtx, job); err != nil {
		log.Warn("progress update failed", logging.Error(err))
	}

	outputPath := job.OutputPath
	if strings.TrimSpace(outputPath) == "" {
		outputPath = m.defaultOutputPath(job)
	}
	result, err := m.renderer.Render(jobCtx, render.Request{
		JobID:      job.ID,
		SourcePath: job.SourcePath,
		OutputPath: outputPath,
		Plan:       final,
	})
	if err != nil {
		if !encoderUnavailable(err) {
			m.failJob(jobCtx, job, "render", err)
			return
		}
		// The encoder binary itself cannot run. Copy the source through so
		// the job still ends with an output file.
		log.Warn("encoder unavailable, copying source to output", logging.Error(err))
		if copyErr := render.CopySource(job.SourcePath, outputPath); copyErr != nil {
			m.failJob(jobCtx, job, "render",
				services.Wrap(services.ErrExternalTool, "workflow", "source copy", "", copyErr))
			return
		}
		result = render.Result{OutputPath: outputPath, SourceCopied: true}
	}

	if err := m.artifacts.MarkCompleted(jobCtx, job.ID); err != nil {
		log.Warn("artifact completion flag failed", logging.Error(err))
	}

	job.SetCompleted(result.OutputPath)
	if err := m.store.Update(jobCtx, job); err != nil {
		log.Error("completion update failed", logging.Error(err))
		return
	}
	if err := m.notifier.NotifyJobCompleted(jobCtx, job.Token, result.OutputPath, time.Since(started)); err != nil {
		log.Warn("completion notification failed", logging.Error(err))
	}
	m.setLastError(nil)
	log.Info("job completed",
		logging.String("output", result.OutputPath),
		logging.Int(logging.FieldAttempt, job.Attempt),
		logging.Duration("elapsed", time.Since(started)))
}

// Resume requeues a failed or reviewed job. Checkpointed stage outputs are
// preloaded on the next run, so processing continues after the last stage
// that completed.
func (m *Manager) Resume(ctx context.Context, jobID int64) error {
	job, err := m.store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "workflow", "resume",
			fmt.Sprintf("job %d does not exist", jobID), nil)
	}
	switch job.Status {
	case queue.StatusFailed, queue.StatusReview, queue.StatusCanceled:
	default:
		return services.Wrap(services.ErrValidation, "workflow", "resume",
			fmt.Sprintf("job %d is %s, only failed, review, or canceled jobs resume", jobID, job.Status), nil)
	}

	stage, ok, err := m.artifacts.LastValidStage(ctx, jobID)
	if err != nil {
		return err
	}
	if ok {
		m.logger.Info("resuming job after checkpoint",
			logging.Int64(logging.FieldJobID, jobID),
			logging.String(logging.FieldStage, stage))
	}

	job.Status = queue.StatusQueued
	job.ErrorMessage = ""
	job.CancelRequested = false
	job.SetProgress("queued", "resume requested", 0)
	return m.store.Update(ctx, job)
}

// preloadArtifacts installs the checkpointed strict-prefix stage outputs into
// the run state so the engine skips completed stages.
func (m *Manager) preloadArtifacts(ctx context.Context, state *pipeline.State) error {
	last, ok, err := m.artifacts.LastValidStage(ctx, state.JobID)
	if err != nil || !ok {
		return err
	}
	for _, stage := range artifacts.StageOrder {
		output, found, err := m.artifacts.LoadStage(ctx, state.JobID, stage)
		if err != nil {
			return err
		}
		if !found {
			break
		}
		if err := state.SetOutput(stage, output); err != nil {
			return err
		}
		if stage == last {
			break
		}
	}
	return nil
}

// watchCancel polls the queue for a user cancel request and flips the state's
// cooperative cancel flag.
func (m *Manager) watchCancel(ctx context.Context, wg *sync.WaitGroup, jobID int64, state *pipeline.State) {
	defer wg.Done()
	interval := m.pollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requested, err := m.store.CancelRequested(ctx, jobID)
			if err != nil {
				continue
			}
			if requested {
				state.Cancel()
				return
			}
		}
	}
}

func (m *Manager) cancelJob(ctx context.Context, job *queue.Job) {
	job.Status = queue.StatusCanceled
	job.ErrorMessage = queue.UserCancelReason
	job.SetProgress("canceled", queue.UserCancelReason, 0)
	job.LastHeartbeat = nil
	if err := m.store.Update(ctx, job); err != nil {
		m.logger.Error("cancel update failed",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(err))
	}
	m.logger.Info("job canceled", logging.Int64(logging.FieldJobID, job.ID))
}

func (m *Manager) failJob(ctx context.Context, job *queue.Job, stage string, err error) {
	m.setLastError(err)
	message := services.Details(err).Message

	if artErr := m.artifacts.MarkFailed(ctx, job.ID, stage, message); artErr != nil {
		m.logger.Warn("artifact failure record failed", logging.Error(artErr))
	}

	status := services.FailureStatus(err)
	if status == queue.StatusReview {
		job.Status = queue.StatusReview
		job.ErrorMessage = message
		job.SetProgress("review", message, 0)
		job.LastHeartbeat = nil
	} else {
		job.SetFailed(message)
	}
	if updateErr := m.store.Update(ctx, job); updateErr != nil {
		m.logger.Error("failure update failed",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(updateErr))
	}

	if notifyErr := m.notifier.NotifyJobFailed(ctx, job.Token, stage, err); notifyErr != nil {
		m.logger.Warn("failure notification failed", logging.Error(notifyErr))
	}
	m.logger.Error("job failed",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldStage, stage),
		logging.String("status", string(job.Status)),
		logging.Error(err))
}

// encoderUnavailable reports whether a render error means the encoder binary
// could not be executed at all, as opposed to a failing encode.
func encoderUnavailable(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}

// failedStage returns the stage of the last fatal error in the run, or the
// fallback when the run never recorded one.
func failedStage(state *pipeline.State, fallback string) string {
	errs := state.Errors()
	for i := len(errs) - 1; i >= 0; i-- {
		if errs[i].Fatal {
			return errs[i].Stage
		}
	}
	if len(errs) > 0 {
		return errs[len(errs)-1].Stage
	}
	return fallback
}

func (m *Manager) defaultOutputPath(job *queue.Job) string {
	base := filepath.Base(job.SourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = fmt.Sprintf("job-%d", job.ID)
	}
	return filepath.Join(m.cfg.Paths.OutputDir, fmt.Sprintf("%s-edit.mp4", stem))
}
