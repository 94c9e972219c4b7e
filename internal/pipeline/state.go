package pipeline

import (
	"fmt"
	"sync"
	"time"

	"reelsmith/internal/plan"
	"reelsmith/internal/queue"
)

// StageError records one stage failure in run order. The list is append-only
// and never truncated; optional failures stay visible next to the outputs
// their fallbacks produced.
type StageError struct {
	Stage      string
	Err        error
	Fatal      bool
	OccurredAt time.Time
}

// State carries everything one pipeline run accumulates. Stage outputs are
// written once per attempt; a revision clears them and bumps the attempt
// counter.
type State struct {
	JobID          int64
	Options        queue.Options
	SourcePath     string
	SourceDuration float64

	mu             sync.Mutex
	attempt        int
	revisionPrompt string
	outputs        map[string]plan.StageOutput
	errs           []StageError
	timeouts       map[string]int
	validation     *plan.Result
	critique       *plan.CriticReport
	canceled       bool
}

// NewState builds the state for a fresh run at attempt 1.
func NewState(jobID int64, opts queue.Options, sourcePath string, sourceDuration float64) *State {
	return &State{
		JobID:          jobID,
		Options:        opts,
		SourcePath:     sourcePath,
		SourceDuration: sourceDuration,
		attempt:        1,
		outputs:        make(map[string]plan.StageOutput),
		timeouts:       make(map[string]int),
	}
}

// Attempt returns the current attempt number, starting at 1.
func (s *State) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// RevisionPrompt returns the critic-derived instruction for the current
// attempt. Empty on the first attempt.
func (s *State) RevisionPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revisionPrompt
}

// SetOutput records a stage output. Within one attempt an output is
// immutable; a second write for the same stage is a programming error.
func (s *State) SetOutput(stage string, output plan.StageOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.outputs[stage]; exists {
		return fmt.Errorf("stage %q output already set for attempt %d", stage, s.attempt)
	}
	s.outputs[stage] = output
	return nil
}

// Output returns a stage's output for the current attempt.
func (s *State) Output(stage string) (plan.StageOutput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	output, ok := s.outputs[stage]
	return output, ok
}

// Outputs returns a copy of every stage output recorded this attempt.
func (s *State) Outputs() map[string]plan.StageOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]plan.StageOutput, len(s.outputs))
	for name, output := range s.outputs {
		out[name] = output
	}
	return out
}

// AppendError adds a stage failure to the ordered error list.
func (s *State) AppendError(stage string, err error, fatal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, StageError{Stage: stage, Err: err, Fatal: fatal, OccurredAt: time.Now()})
}

// Errors returns a copy of the accumulated stage errors in occurrence order.
func (s *State) Errors() []StageError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StageError(nil), s.errs...)
}

// RecordTimeout counts a stage deadline hit.
func (s *State) RecordTimeout(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeouts[stage]++
}

// Timeouts returns per-stage deadline hit counts.
func (s *State) Timeouts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.timeouts))
	for stage, count := range s.timeouts {
		out[stage] = count
	}
	return out
}

// NextAttempt clears the stage outputs, installs the revision prompt, and
// bumps the attempt counter so the planning subgraph reruns.
func (s *State) NextAttempt(revisionPrompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt++
	s.revisionPrompt = revisionPrompt
	s.outputs = make(map[string]plan.StageOutput)
	s.critique = nil
}

// SetValidation stores the validator verdict for the final plan.
func (s *State) SetValidation(result plan.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validation = &result
}

// Validation returns the validator verdict, if the run got that far.
func (s *State) Validation() (plan.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.validation == nil {
		return plan.Result{}, false
	}
	return *s.validation, true
}

func (s *State) setCritique(report plan.CriticReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.critique = &report
}

// Critique returns the critic report from the current attempt.
func (s *State) Critique() (plan.CriticReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.critique == nil {
		return plan.CriticReport{}, false
	}
	return *s.critique, true
}

// Cancel requests cooperative cancellation. The engine checks between
// stage levels.
func (s *State) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = true
}

// Canceled reports whether cancellation was requested.
func (s *State) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// FinalPlan returns the assembled edit plan once the assemble stage has run.
func (s *State) FinalPlan() (plan.EditPlan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	output, ok := s.outputs[StageAssemble]
	if !ok || output.Plan == nil {
		return plan.EditPlan{}, false
	}
	return *output.Plan, true
}
