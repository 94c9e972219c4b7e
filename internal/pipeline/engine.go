package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reelsmith/internal/iteration"
	"reelsmith/internal/logging"
	"reelsmith/internal/plan"
	"reelsmith/internal/queue"
	"reelsmith/internal/services"
)

// Canonical stage names, in checkpoint order.
const (
	StagePlan     = "plan"
	StageMoments  = "moments"
	StageCaptions = "captions"
	StageMusic    = "music"
	StageAssemble = "assemble"
	StageCritique = "critique"
)

// Inputs is the restricted view a stage receives: run metadata plus the
// outputs of its declared predecessors only.
type Inputs struct {
	JobID          int64
	Attempt        int
	RevisionPrompt string
	Options        queue.Options
	SourceDuration float64

	outputs map[string]plan.StageOutput
}

// Output returns a predecessor's output. Stages that ask for an undeclared
// stage get nothing, even when the output exists.
func (in Inputs) Output(stage string) (plan.StageOutput, bool) {
	output, ok := in.outputs[stage]
	return output, ok
}

// Stage describes one unit of pipeline work.
type Stage struct {
	Name         string
	Predecessors []string
	Required     bool
	Timeout      time.Duration
	Checkpoint   bool
	Run          func(ctx context.Context, in Inputs) (plan.StageOutput, error)
	Fallback     func(in Inputs) (plan.StageOutput, bool)
}

// Checkpointer persists stage outputs so interrupted runs can resume.
// *artifacts.Store satisfies it.
type Checkpointer interface {
	SaveStage(ctx context.Context, jobID int64, stage string, output plan.StageOutput) error
}

// Engine runs registered stages level by level: every stage whose
// predecessors are all satisfied runs concurrently with its siblings, and the
// engine waits for the whole level before moving on. After assemble and
// critique it consults the iteration controller and either accepts the plan
// or clears the outputs and reruns with a revision prompt.
type Engine struct {
	stages     []Stage
	levels     [][]int
	params     iteration.Params
	limits     plan.Limits
	checkpoint Checkpointer
	logger     *slog.Logger
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithCheckpointer enables stage checkpointing.
func WithCheckpointer(cp Checkpointer) EngineOption {
	return func(e *Engine) { e.checkpoint = cp }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logging.NewComponentLogger(logger, "pipeline")
		}
	}
}

// NewEngine validates the stage graph and precomputes dependency levels.
func NewEngine(stages []Stage, params iteration.Params, limits plan.Limits, opts ...EngineOption) (*Engine, error) {
	engine := &Engine{
		stages: stages,
		params: params,
		limits: limits,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(engine)
	}

	byName := make(map[string]int, len(stages))
	for i, stage := range stages {
		if stage.Name == "" {
			return nil, errors.New("stage with empty name")
		}
		if stage.Run == nil {
			return nil, fmt.Errorf("stage %q has no run function", stage.Name)
		}
		if _, dup := byName[stage.Name]; dup {
			return nil, fmt.Errorf("duplicate stage %q", stage.Name)
		}
		byName[stage.Name] = i
	}

	levels, err := computeLevels(stages, byName)
	if err != nil {
		return nil, err
	}
	engine.levels = levels
	return engine, nil
}

// computeLevels assigns each stage the level one past its deepest
// predecessor, rejecting unknown or cyclic dependencies.
func computeLevels(stages []Stage, byName map[string]int) ([][]int, error) {
	depth := make([]int, len(stages))
	var resolve func(i int, seen map[int]bool) (int, error)
	resolve = func(i int, seen map[int]bool) (int, error) {
		if depth[i] > 0 {
			return depth[i], nil
		}
		if seen[i] {
			return 0, fmt.Errorf("dependency cycle through stage %q", stages[i].Name)
		}
		seen[i] = true
		level := 1
		for _, pred := range stages[i].Predecessors {
			j, ok := byName[pred]
			if !ok {
				return 0, fmt.Errorf("stage %q depends on unknown stage %q", stages[i].Name, pred)
			}
			predLevel, err := resolve(j, seen)
			if err != nil {
				return 0, err
			}
			if predLevel+1 > level {
				level = predLevel + 1
			}
		}
		depth[i] = level
		return level, nil
	}

	maxLevel := 0
	for i := range stages {
		level, err := resolve(i, make(map[int]bool))
		if err != nil {
			return nil, err
		}
		if level > maxLevel {
			maxLevel = level
		}
	}

	levels := make([][]int, maxLevel)
	for i := range stages {
		levels[depth[i]-1] = append(levels[depth[i]-1], i)
	}
	return levels, nil
}

// Run drives the full planner/critic loop and validates the final plan.
// Stage outputs already present in the state (a resumed job) are not rerun.
func (e *Engine) Run(ctx context.Context, state *State) error {
	ctx = services.WithJobID(ctx, state.JobID)
	log := logging.WithContext(ctx, e.logger)
	controller := iteration.NewController(e.params)

	for {
		if err := e.runDAG(ctx, state); err != nil {
			return err
		}

		report, ok := state.Critique()
		if !ok {
			// No critic report means the critique stage and its fallback both
			// failed; accept the current plan as-is.
			log.Warn("no critic report available, accepting plan")
			break
		}

		decision := controller.Evaluate(report)
		log.Info("iteration evaluated",
			logging.Int(logging.FieldAttempt, decision.Iteration),
			logging.String("phase", string(decision.Phase)),
			logging.String("reason", decision.Reason),
			logging.Float64("score", report.Normalized()),
		)
		if !decision.ShouldRevise() {
			if !decision.Accepted {
				log.Warn("iteration loop stopped without convergence, rendering best available plan",
					logging.String("reason", decision.Reason))
			}
			break
		}
		state.NextAttempt(decision.RevisionPrompt)
	}

	return e.validate(state, log)
}

func (e *Engine) runDAG(ctx context.Context, state *State) error {
	ctx = services.WithAttempt(ctx, state.Attempt())
	for _, level := range e.levels {
		if err := ctx.Err(); err != nil {
			return err
		}
		if state.Canceled() {
			return services.Wrap(services.ErrTransient, "pipeline", "run", "canceled by caller", context.Canceled)
		}

		var wg sync.WaitGroup
		fatals := make([]error, len(level))
		for slot, idx := range level {
			stage := e.stages[idx]
			if _, done := state.Output(stage.Name); done {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				fatals[slot] = e.runStage(ctx, state, stage)
			}()
		}
		wg.Wait()

		for _, err := range fatals {
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// runStage executes one stage under its own deadline. Only required-stage
// failures surface as a non-nil return; optional failures are absorbed into
// the error list and a fallback output where one exists.
func (e *Engine) runStage(ctx context.Context, state *State, stage Stage) error {
	stageCtx := services.WithStage(ctx, stage.Name)
	cancel := context.CancelFunc(func() {})
	if stage.Timeout > 0 {
		stageCtx, cancel = context.WithTimeout(stageCtx, stage.Timeout)
	}
	defer cancel()
	log := logging.WithContext(stageCtx, e.logger)

	inputs := e.inputsFor(state, stage)
	started := time.Now()
	output, err := stage.Run(stageCtx, inputs)
	elapsed := time.Since(started)

	if err == nil {
		if setErr := state.SetOutput(stage.Name, output); setErr != nil {
			return services.Wrap(services.ErrTransient, stage.Name, "set output", "", setErr)
		}
		if stage.Name == StageCritique && output.Critique != nil {
			state.setCritique(*output.Critique)
		}
		e.saveCheckpoint(ctx, state, stage, output, log)
		log.Debug("stage complete", logging.Duration("elapsed", elapsed))
		return nil
	}

	timedOut := errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
	if timedOut {
		state.RecordTimeout(stage.Name)
	}

	if stage.Required {
		marker := services.ErrTransient
		if timedOut {
			marker = services.ErrTimeout
		}
		wrapped := services.Wrap(marker, stage.Name, "run", "required stage failed", err)
		state.AppendError(stage.Name, wrapped, true)
		log.Error("required stage failed", logging.Error(err))
		return wrapped
	}

	state.AppendError(stage.Name, err, false)
	log.Warn("optional stage failed, continuing",
		logging.Bool("timed_out", timedOut),
		logging.Error(err))

	if stage.Fallback != nil {
		if fallback, ok := stage.Fallback(inputs); ok {
			if setErr := state.SetOutput(stage.Name, fallback); setErr != nil {
				return services.Wrap(services.ErrTransient, stage.Name, "set fallback output", "", setErr)
			}
			if stage.Name == StageCritique && fallback.Critique != nil {
				state.setCritique(*fallback.Critique)
			}
			e.saveCheckpoint(ctx, state, stage, fallback, log)
		}
	}
	return nil
}

func (e *Engine) inputsFor(state *State, stage Stage) Inputs {
	outputs := make(map[string]plan.StageOutput, len(stage.Predecessors))
	for _, pred := range stage.Predecessors {
		if output, ok := state.Output(pred); ok {
			outputs[pred] = output
		}
	}
	return Inputs{
		JobID:          state.JobID,
		Attempt:        state.Attempt(),
		RevisionPrompt: state.RevisionPrompt(),
		Options:        state.Options,
		SourceDuration: state.SourceDuration,
		outputs:        outputs,
	}
}

func (e *Engine) saveCheckpoint(ctx context.Context, state *State, stage Stage, output plan.StageOutput, log *slog.Logger) {
	if e.checkpoint == nil || !stage.Checkpoint {
		return
	}
	if err := e.checkpoint.SaveStage(ctx, state.JobID, stage.Name, output); err != nil {
		log.Warn("checkpoint save failed",
			logging.String(logging.FieldStage, stage.Name),
			logging.Error(err))
	}
}

// validate gates rendering: errors block, warnings pass.
func (e *Engine) validate(state *State, log *slog.Logger) error {
	final, ok := state.FinalPlan()
	if !ok {
		return services.Wrap(services.ErrValidation, StageAssemble, "validate", "no assembled plan to validate", nil)
	}

	result := plan.Validate(final, e.limits)
	state.SetValidation(result)

	for _, warning := range result.Warnings {
		log.Warn("plan validation warning", logging.String("warning", warning))
	}
	if !result.Passed {
		err := services.Wrap(services.ErrValidation, StageAssemble, "validate",
			fmt.Sprintf("%d validation errors", len(result.Errors)), errors.New(result.Errors[0]))
		state.AppendError(StageAssemble, err, true)
		return err
	}
	return nil
}
