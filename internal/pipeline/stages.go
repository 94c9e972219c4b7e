package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"reelsmith/internal/config"
	"reelsmith/internal/plan"
	"reelsmith/internal/providers"
	"reelsmith/internal/queue"
	"reelsmith/internal/services"
)

// Generator is the provider boundary the stages call through.
// *providers.Router satisfies it.
type Generator interface {
	Generate(ctx context.Context, policy providers.Policy, systemPrompt, userPrompt string) (string, error)
}

const plannerSystemPrompt = `You are a video editor planning an edit of a single source recording.
Respond with JSON only: {"summary": string, "target_seconds": number,
"cuts": [{"start": number, "end": number, "speed": number, "label": string}]}.
Cut times are seconds into the source and must not overlap.`

const momentsSystemPrompt = `You rank the strongest moments of a planned video edit.
Respond with JSON only: {"moments": [{"start": number, "end": number, "score": number, "label": string}]}.
Scores are in [0, 1].`

const captionsSystemPrompt = `You write short on-screen captions for a video edit.
Respond with JSON only: {"overlays": [{"text": string, "start": number, "end": number}]}.
Keep each caption under 80 characters.`

const musicSystemPrompt = `You pick background music cues for a video edit.
Respond with JSON only: {"tracks": [{"reference": string, "start": number, "end": number, "volume": number}]}.
Volume is in [0, 1].`

const criticSystemPrompt = `You are a harsh but fair critic reviewing a video edit plan.
Respond with JSON only: {"score": number, "scale": 10, "verdict": string,
"issues": [string], "suggestions": [string]}.`

// BuildStages wires the concrete creative stage set: plan fans out into
// moments, captions, and music; assemble joins them; critique reviews the
// assembled plan.
func BuildStages(generator Generator, cfg *config.Config) []Stage {
	planTimeout := time.Duration(cfg.Pipeline.PlanTimeoutSeconds) * time.Second
	enrichTimeout := time.Duration(cfg.Pipeline.EnrichTimeoutSeconds) * time.Second
	critiqueTimeout := time.Duration(cfg.Pipeline.CritiqueTimeoutSeconds) * time.Second

	return []Stage{
		{
			Name:       StagePlan,
			Required:   true,
			Timeout:    planTimeout,
			Checkpoint: true,
			Run:        planStage(generator),
		},
		{
			Name:         StageMoments,
			Predecessors: []string{StagePlan},
			Timeout:      enrichTimeout,
			Checkpoint:   true,
			Run:          momentsStage(generator),
			Fallback:     momentsFallback,
		},
		{
			Name:         StageCaptions,
			Predecessors: []string{StagePlan},
			Timeout:      enrichTimeout,
			Checkpoint:   true,
			Run:          captionsStage(generator),
			Fallback: func(Inputs) (plan.StageOutput, bool) {
				return plan.CaptionsOutput(plan.CaptionSet{}), true
			},
		},
		{
			Name:         StageMusic,
			Predecessors: []string{StagePlan},
			Timeout:      enrichTimeout,
			Checkpoint:   true,
			Run:          musicStage(generator),
			Fallback: func(Inputs) (plan.StageOutput, bool) {
				return plan.MusicOutput(plan.MusicCue{}), true
			},
		},
		{
			Name:         StageAssemble,
			Predecessors: []string{StagePlan, StageMoments, StageCaptions, StageMusic},
			Required:     true,
			Timeout:      enrichTimeout,
			Checkpoint:   true,
			Run:          assembleStage,
		},
		{
			Name:         StageCritique,
			Predecessors: []string{StageAssemble},
			Timeout:      critiqueTimeout,
			Run:          critiqueStage(generator),
			Fallback:     critiqueFallback(cfg.Pipeline.MinConfidence),
		},
	}
}

func planStage(generator Generator) func(ctx context.Context, in Inputs) (plan.StageOutput, error) {
	return func(ctx context.Context, in Inputs) (plan.StageOutput, error) {
		prompt := planUserPrompt(in)
		payload, err := generator.Generate(ctx, providers.PolicyForTask(providers.TaskPlan), plannerSystemPrompt, prompt)
		if err != nil {
			return plan.StageOutput{}, err
		}
		var draft plan.PlanDraft
		if err := providers.DecodeJSON(payload, &draft); err != nil {
			return plan.StageOutput{}, err
		}
		if len(draft.Cuts) == 0 {
			return plan.StageOutput{}, services.Wrap(services.ErrValidation, StagePlan, "decode", "planner returned no cuts", nil)
		}
		return plan.DraftOutput(draft), nil
	}
}

func planUserPrompt(in Inputs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source duration: %.1f seconds.\n", in.SourceDuration)
	writeOptions(&b, in.Options)
	if in.RevisionPrompt != "" {
		b.WriteString("\n")
		b.WriteString(in.RevisionPrompt)
	}
	return b.String()
}

func writeOptions(b *strings.Builder, opts queue.Options) {
	if opts.Pacing != "" {
		fmt.Fprintf(b, "Pacing: %s.\n", opts.Pacing)
	}
	if opts.Mood != "" {
		fmt.Fprintf(b, "Mood: %s.\n", opts.Mood)
	}
	if opts.Platform != "" {
		fmt.Fprintf(b, "Target platform: %s.\n", opts.Platform)
	}
	if opts.TargetSeconds > 0 {
		fmt.Fprintf(b, "Target output duration: %.0f seconds.\n", opts.TargetSeconds)
	}
	if opts.TransitionStyle != "" {
		fmt.Fprintf(b, "Transition style: %s.\n", opts.TransitionStyle)
	}
}

func momentsStage(generator Generator) func(ctx context.Context, in Inputs) (plan.StageOutput, error) {
	return func(ctx context.Context, in Inputs) (plan.StageOutput, error) {
		draft, err := draftFrom(in)
		if err != nil {
			return plan.StageOutput{}, err
		}
		prompt, err := draftPrompt(draft, "Rank the strongest moments of this edit.")
		if err != nil {
			return plan.StageOutput{}, err
		}
		payload, err := generator.Generate(ctx, providers.PolicyForTask(providers.TaskMoments), momentsSystemPrompt, prompt)
		if err != nil {
			return plan.StageOutput{}, err
		}
		var moments plan.MomentList
		if err := providers.DecodeJSON(payload, &moments); err != nil {
			return plan.StageOutput{}, err
		}
		return plan.MomentsOutput(moments), nil
	}
}

// momentsFallback derives a neutral moment per cut so downstream stages
// always have something to work with.
func momentsFallback(in Inputs) (plan.StageOutput, bool) {
	draft, err := draftFrom(in)
	if err != nil {
		return plan.StageOutput{}, false
	}
	moments := plan.MomentList{Moments: make([]plan.Moment, 0, len(draft.Cuts))}
	for _, cut := range draft.Cuts {
		moments.Moments = append(moments.Moments, plan.Moment{
			Start: cut.Start,
			End:   cut.End,
			Score: 0.5,
			Label: cut.Label,
		})
	}
	return plan.MomentsOutput(moments), true
}

func captionsStage(generator Generator) func(ctx context.Context, in Inputs) (plan.StageOutput, error) {
	return func(ctx context.Context, in Inputs) (plan.StageOutput, error) {
		if !in.Options.Captions {
			return plan.CaptionsOutput(plan.CaptionSet{}), nil
		}
		draft, err := draftFrom(in)
		if err != nil {
			return plan.StageOutput{}, err
		}
		prompt, err := draftPrompt(draft, "Write captions for this edit. Times are in output seconds.")
		if err != nil {
			return plan.StageOutput{}, err
		}
		payload, err := generator.Generate(ctx, providers.PolicyForTask(providers.TaskCaptions), captionsSystemPrompt, prompt)
		if err != nil {
			return plan.StageOutput{}, err
		}
		var captions plan.CaptionSet
		if err := providers.DecodeJSON(payload, &captions); err != nil {
			return plan.StageOutput{}, err
		}
		return plan.CaptionsOutput(captions), nil
	}
}

func musicStage(generator Generator) func(ctx context.Context, in Inputs) (plan.StageOutput, error) {
	return func(ctx context.Context, in Inputs) (plan.StageOutput, error) {
		if !in.Options.MusicCues {
			return plan.MusicOutput(plan.MusicCue{}), nil
		}
		draft, err := draftFrom(in)
		if err != nil {
			return plan.StageOutput{}, err
		}
		prompt, err := draftPrompt(draft, "Pick music cues for this edit. Times are in output seconds.")
		if err != nil {
			return plan.StageOutput{}, err
		}
		payload, err := generator.Generate(ctx, providers.PolicyForTask(providers.TaskMusic), musicSystemPrompt, prompt)
		if err != nil {
			return plan.StageOutput{}, err
		}
		var cue plan.MusicCue
		if err := providers.DecodeJSON(payload, &cue); err != nil {
			return plan.StageOutput{}, err
		}
		return plan.MusicOutput(cue), nil
	}
}

// assembleStage deterministically merges the fan-out outputs into the final
// edit plan. No provider call.
func assembleStage(_ context.Context, in Inputs) (plan.StageOutput, error) {
	draft, err := draftFrom(in)
	if err != nil {
		return plan.StageOutput{}, err
	}

	assembled := plan.EditPlan{
		Summary:         draft.Summary,
		Cuts:            draft.Cuts,
		TransitionStyle: in.Options.TransitionStyle,
		TargetSeconds:   draft.TargetSeconds,
	}
	if in.Options.TargetSeconds > 0 {
		assembled.TargetSeconds = in.Options.TargetSeconds
	}
	if captions, ok := in.Output(StageCaptions); ok && captions.Captions != nil {
		assembled.Overlays = captions.Captions.Overlays
	}
	if music, ok := in.Output(StageMusic); ok && music.Music != nil {
		assembled.Music = music.Music.Tracks
	}
	return plan.PlanOutput(assembled), nil
}

func critiqueStage(generator Generator) func(ctx context.Context, in Inputs) (plan.StageOutput, error) {
	return func(ctx context.Context, in Inputs) (plan.StageOutput, error) {
		output, ok := in.Output(StageAssemble)
		if !ok || output.Plan == nil {
			return plan.StageOutput{}, services.Wrap(services.ErrValidation, StageCritique, "input", "no assembled plan", nil)
		}
		encoded, err := json.Marshal(output.Plan)
		if err != nil {
			return plan.StageOutput{}, err
		}
		prompt := fmt.Sprintf("Review this edit plan:\n%s", encoded)
		payload, err := generator.Generate(ctx, providers.PolicyForTask(providers.TaskCritique), criticSystemPrompt, prompt)
		if err != nil {
			return plan.StageOutput{}, err
		}
		var report plan.CriticReport
		if err := providers.DecodeJSON(payload, &report); err != nil {
			return plan.StageOutput{}, err
		}
		return plan.CritiqueOutput(report), nil
	}
}

// critiqueFallback accepts the current plan when the critic is unreachable:
// a report exactly at the confidence threshold converges without revision.
func critiqueFallback(minConfidence float64) func(Inputs) (plan.StageOutput, bool) {
	return func(Inputs) (plan.StageOutput, bool) {
		return plan.CritiqueOutput(plan.CriticReport{
			Score:   minConfidence * 10,
			Scale:   10,
			Verdict: "critic unavailable, plan accepted unreviewed",
		}), true
	}
}

func draftFrom(in Inputs) (plan.PlanDraft, error) {
	output, ok := in.Output(StagePlan)
	if !ok || output.Draft == nil {
		return plan.PlanDraft{}, services.Wrap(services.ErrValidation, StagePlan, "input", "no plan draft available", nil)
	}
	return *output.Draft, nil
}

func draftPrompt(draft plan.PlanDraft, instruction string) (string, error) {
	encoded, err := json.Marshal(draft)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s\nPlan draft:\n%s", instruction, encoded), nil
}
