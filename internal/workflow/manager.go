package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"reelsmith/internal/artifacts"
	"reelsmith/internal/config"
	"reelsmith/internal/logging"
	"reelsmith/internal/media/ffmpeg"
	"reelsmith/internal/notifications"
	"reelsmith/internal/pipeline"
	"reelsmith/internal/queue"
	"reelsmith/internal/render"
)

// PipelineRunner is the planning engine boundary. *pipeline.Engine
// satisfies it.
type PipelineRunner interface {
	Run(ctx context.Context, state *pipeline.State) error
}

// Renderer is the render boundary. *render.Orchestrator satisfies it.
type Renderer interface {
	Render(ctx context.Context, req render.Request) (render.Result, error)
}

// Prober inspects source media before planning.
type Prober interface {
	Probe(ctx context.Context, path string) (ffmpeg.ProbeResult, error)
}

// Manager claims queued jobs and drives them through planning and rendering.
type Manager struct {
	cfg       *config.Config
	store     *queue.Store
	artifacts *artifacts.Store
	engine    PipelineRunner
	renderer  Renderer
	prober    Prober
	notifier  notifications.Service
	logger    *slog.Logger
	heartbeat *HeartbeatMonitor

	pollInterval  time.Duration
	retryInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// NewManager constructs a workflow manager over already-wired components.
func NewManager(
	cfg *config.Config,
	store *queue.Store,
	artifactStore *artifacts.Store,
	engine PipelineRunner,
	renderer Renderer,
	prober Prober,
	notifier notifications.Service,
	logger *slog.Logger,
) *Manager {
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		artifacts: artifactStore,
		engine:    engine,
		renderer:  renderer,
		prober:    prober,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "workflow"),
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		pollInterval:  time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		retryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
	}
}

// Start launches the queue polling loop. It returns immediately.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	if reset, err := m.store.ResetStuckProcessing(runCtx); err != nil {
		m.logger.Warn("reset stuck jobs failed", logging.Error(err))
	} else if reset > 0 {
		m.logger.Info("requeued jobs from interrupted run", logging.Int64("count", reset))
	}

	m.wg.Add(1)
	go m.loop(runCtx)
}

// Stop cancels the polling loop and waits for the in-flight job to settle.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether the polling loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// LastError returns the most recent job failure, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	interval := m.pollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.heartbeat.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("stale job reclaim failed", logging.Error(err))
		}

		job, err := m.store.NextQueued(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("queue poll failed", logging.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.retryInterval):
			}
			continue
		case job != nil:
			m.processJob(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
