package plan

import (
	"fmt"
	"strings"
)

// Keyframe is a point-in-time property value inside a cut. Properties are
// interpolated linearly between consecutive keyframes during rendering.
type Keyframe struct {
	At       float64 `json:"at"`
	Property string  `json:"property"`
	Value    float64 `json:"value"`
}

// Cut is one retained time range of the source media.
type Cut struct {
	Start     float64    `json:"start"`
	End       float64    `json:"end"`
	Speed     float64    `json:"speed,omitempty"`
	Label     string     `json:"label,omitempty"`
	Keyframes []Keyframe `json:"keyframes,omitempty"`
}

// Duration returns the output duration of the cut after speed adjustment.
func (c Cut) Duration() float64 {
	length := c.End - c.Start
	speed := c.Speed
	if speed <= 0 {
		speed = 1
	}
	return length / speed
}

// Overlay is a text overlay shown during [Start, End).
type Overlay struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// AudioTrack is a music or ambience cue mixed under the edit.
type AudioTrack struct {
	Reference string  `json:"reference"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Volume    float64 `json:"volume"`
}

// EditPlan is the aggregate the planner produces and the renderer consumes.
type EditPlan struct {
	Summary         string       `json:"summary,omitempty"`
	Cuts            []Cut        `json:"cuts"`
	Overlays        []Overlay    `json:"overlays,omitempty"`
	Music           []AudioTrack `json:"music,omitempty"`
	Filters         []string     `json:"filters,omitempty"`
	TransitionStyle string       `json:"transition_style,omitempty"`
	TargetSeconds   float64      `json:"target_seconds,omitempty"`
}

// TotalDuration returns the summed output duration of all cuts.
func (p EditPlan) TotalDuration() float64 {
	var total float64
	for _, cut := range p.Cuts {
		total += cut.Duration()
	}
	return total
}

// Moment is a scored candidate highlight produced by the moments stage.
type Moment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Score float64 `json:"score"`
	Label string  `json:"label,omitempty"`
}

// PlanDraft is the planner's first-pass structure before enrichment.
type PlanDraft struct {
	Summary       string  `json:"summary,omitempty"`
	Cuts          []Cut   `json:"cuts"`
	TargetSeconds float64 `json:"target_seconds,omitempty"`
}

// MomentList is the moments stage output.
type MomentList struct {
	Moments []Moment `json:"moments"`
}

// CaptionSet is the captions stage output.
type CaptionSet struct {
	Overlays []Overlay `json:"overlays"`
}

// MusicCue is the music stage output.
type MusicCue struct {
	Tracks []AudioTrack `json:"tracks"`
}

// CriticReport is the critic's structured evaluation of a plan.
type CriticReport struct {
	Score       float64  `json:"score"`
	Scale       float64  `json:"scale"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Verdict     string   `json:"verdict,omitempty"`
}

// Normalized returns the score scaled into [0, 1].
func (r CriticReport) Normalized() float64 {
	scale := r.Scale
	if scale <= 0 {
		scale = 10
	}
	normalized := r.Score / scale
	if normalized < 0 {
		return 0
	}
	if normalized > 1 {
		return 1
	}
	return normalized
}

// Describe renders a short one-line summary for logs.
func (r CriticReport) Describe() string {
	scale := r.Scale
	if scale <= 0 {
		scale = 10
	}
	base := fmt.Sprintf("%.1f/%.0f", r.Score, scale)
	if len(r.Issues) == 0 {
		return base
	}
	return base + ": " + strings.Join(r.Issues, "; ")
}
