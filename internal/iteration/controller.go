package iteration

import (
	"fmt"
	"strings"

	"reelsmith/internal/plan"
)

// Phase identifies where the loop currently stands.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseCritiquing Phase = "critiquing"
	PhaseConverged  Phase = "converged"
	PhaseRevising   Phase = "revising"
)

// Convergence stop reasons.
const (
	ReasonThresholdMet  = "threshold met"
	ReasonMaxIterations = "max iterations"
	ReasonStalled       = "stalled"
)

// Params bounds the loop.
type Params struct {
	MinConfidence        float64
	MaxIterations        int
	ImprovementThreshold float64
}

// Decision is the controller's verdict after one critic evaluation.
type Decision struct {
	Phase          Phase
	Iteration      int
	Accepted       bool
	Reason         string
	RevisionPrompt string
}

// ShouldRevise reports whether the caller must re-enter planning.
func (d Decision) ShouldRevise() bool {
	return d.Phase == PhaseRevising
}

// Controller tracks iteration count and score history across one pipeline run.
// It is not safe for concurrent use; each run owns its own controller.
type Controller struct {
	params    Params
	iteration int
	scores    []float64
	phase     Phase
}

// NewController constructs a controller with the supplied bounds. Zero or
// negative MaxIterations falls back to 1 so the loop always terminates.
func NewController(params Params) *Controller {
	if params.MaxIterations <= 0 {
		params.MaxIterations = 1
	}
	if params.MinConfidence < 0 {
		params.MinConfidence = 0
	}
	if params.MinConfidence > 1 {
		params.MinConfidence = 1
	}
	return &Controller{params: params, phase: PhasePlanning}
}

// Iteration returns the number of critic evaluations performed so far.
func (c *Controller) Iteration() int {
	return c.iteration
}

// Phase returns the loop's current phase.
func (c *Controller) Phase() Phase {
	return c.phase
}

// Evaluate consumes one critic report and decides whether the loop converged
// or the planner must revise. The transition rules run in order: threshold,
// iteration budget, stall detection, then revise.
func (c *Controller) Evaluate(report plan.CriticReport) Decision {
	c.iteration++
	c.scores = append(c.scores, report.Score)

	decision := Decision{Iteration: c.iteration}

	switch {
	case report.Normalized() >= c.params.MinConfidence:
		decision.Phase = PhaseConverged
		decision.Accepted = true
		decision.Reason = ReasonThresholdMet
	case c.iteration >= c.params.MaxIterations:
		decision.Phase = PhaseConverged
		decision.Reason = ReasonMaxIterations
	case c.iteration > 1 && c.improvement() < c.params.ImprovementThreshold:
		decision.Phase = PhaseConverged
		decision.Reason = ReasonStalled
	default:
		decision.Phase = PhaseRevising
		decision.RevisionPrompt = BuildRevisionPrompt(report)
	}

	c.phase = decision.Phase
	return decision
}

func (c *Controller) improvement() float64 {
	if len(c.scores) < 2 {
		return 0
	}
	return c.scores[len(c.scores)-1] - c.scores[len(c.scores)-2]
}

// BuildRevisionPrompt turns critic feedback into a structured instruction for
// the next planning attempt.
func BuildRevisionPrompt(report plan.CriticReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The previous edit plan scored %s. Revise it.\n", report.Describe())
	if len(report.Issues) > 0 {
		b.WriteString("Problems to fix:\n")
		for _, issue := range report.Issues {
			b.WriteString("- ")
			b.WriteString(strings.TrimSpace(issue))
			b.WriteByte('\n')
		}
	}
	if len(report.Suggestions) > 0 {
		b.WriteString("Suggested improvements:\n")
		for _, suggestion := range report.Suggestions {
			b.WriteString("- ")
			b.WriteString(strings.TrimSpace(suggestion))
			b.WriteByte('\n')
		}
	}
	b.WriteString("Keep every change consistent with the original user preferences.")
	return b.String()
}
