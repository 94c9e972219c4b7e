package plan

import (
	"encoding/json"
	"fmt"
)

// OutputKind discriminates the stage output union.
type OutputKind string

const (
	KindDraft    OutputKind = "draft"
	KindMoments  OutputKind = "moments"
	KindCaptions OutputKind = "captions"
	KindMusic    OutputKind = "music"
	KindPlan     OutputKind = "plan"
	KindCritique OutputKind = "critique"
)

// StageOutput is the tagged union carried between pipeline stages and
// persisted as artifacts. Exactly one variant matching Kind is populated.
type StageOutput struct {
	Kind     OutputKind    `json:"kind"`
	Draft    *PlanDraft    `json:"draft,omitempty"`
	Moments  *MomentList   `json:"moments,omitempty"`
	Captions *CaptionSet   `json:"captions,omitempty"`
	Music    *MusicCue     `json:"music,omitempty"`
	Plan     *EditPlan     `json:"plan,omitempty"`
	Critique *CriticReport `json:"critique,omitempty"`
}

// DraftOutput wraps a PlanDraft.
func DraftOutput(draft PlanDraft) StageOutput {
	return StageOutput{Kind: KindDraft, Draft: &draft}
}

// MomentsOutput wraps a MomentList.
func MomentsOutput(list MomentList) StageOutput {
	return StageOutput{Kind: KindMoments, Moments: &list}
}

// CaptionsOutput wraps a CaptionSet.
func CaptionsOutput(set CaptionSet) StageOutput {
	return StageOutput{Kind: KindCaptions, Captions: &set}
}

// MusicOutput wraps a MusicCue.
func MusicOutput(cue MusicCue) StageOutput {
	return StageOutput{Kind: KindMusic, Music: &cue}
}

// PlanOutput wraps a finished EditPlan.
func PlanOutput(p EditPlan) StageOutput {
	return StageOutput{Kind: KindPlan, Plan: &p}
}

// CritiqueOutput wraps a CriticReport.
func CritiqueOutput(report CriticReport) StageOutput {
	return StageOutput{Kind: KindCritique, Critique: &report}
}

// Validate checks that exactly the variant named by Kind is populated.
func (o StageOutput) Validate() error {
	var want, got int
	for kind, present := range map[OutputKind]bool{
		KindDraft:    o.Draft != nil,
		KindMoments:  o.Moments != nil,
		KindCaptions: o.Captions != nil,
		KindMusic:    o.Music != nil,
		KindPlan:     o.Plan != nil,
		KindCritique: o.Critique != nil,
	} {
		if present {
			got++
		}
		if kind == o.Kind {
			want++
			if !present {
				return fmt.Errorf("stage output kind %q has no matching value", o.Kind)
			}
		}
	}
	if want == 0 {
		return fmt.Errorf("unknown stage output kind %q", o.Kind)
	}
	if got != 1 {
		return fmt.Errorf("stage output kind %q has %d populated variants", o.Kind, got)
	}
	return nil
}

// Encode serializes the output for artifact storage.
func (o StageOutput) Encode() ([]byte, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(o)
}

// DecodeOutput parses a stored stage output blob.
func DecodeOutput(data []byte) (StageOutput, error) {
	var out StageOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return StageOutput{}, fmt.Errorf("decode stage output: %w", err)
	}
	if err := out.Validate(); err != nil {
		return StageOutput{}, err
	}
	return out, nil
}
