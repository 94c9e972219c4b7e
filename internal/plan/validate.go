package plan

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Limits carries the thresholds the validator enforces. Zero values fall back
// to permissive defaults so partial configuration stays usable.
type Limits struct {
	MinSegmentSeconds        float64
	MaxOverlayChars          int
	MaxAudioVolume           float64
	DurationToleranceSeconds float64
}

// Result is the outcome of validating an edit plan. Errors block rendering;
// warnings are advisory only.
type Result struct {
	Passed   bool     `json:"passed"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

var placeholderFilterValues = map[string]struct{}{
	"":            {},
	"null":        {},
	"none":        {},
	"nil":         {},
	"placeholder": {},
	"tbd":         {},
}

// Validate runs the deterministic pre-render checks over a finished plan.
// It is a pure function: same plan and limits, same result.
func Validate(p EditPlan, limits Limits) Result {
	var result Result

	validateCuts(p, limits, &result)
	validateOverlays(p, limits, &result)
	validateFilters(p, &result)
	validateDurationTarget(p, limits, &result)
	validateAudio(p, limits, &result)

	result.Passed = len(result.Errors) == 0
	return result
}

func validateCuts(p EditPlan, limits Limits, result *Result) {
	if len(p.Cuts) == 0 {
		result.Errors = append(result.Errors, "plan contains no cuts")
		return
	}

	ordered := make([]Cut, len(p.Cuts))
	copy(ordered, p.Cuts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	for i, cut := range ordered {
		length := cut.End - cut.Start
		if length <= 0 {
			result.Errors = append(result.Errors,
				fmt.Sprintf("cut %d has non-positive duration (%.2fs to %.2fs)", i, cut.Start, cut.End))
			continue
		}
		if limits.MinSegmentSeconds > 0 && length < limits.MinSegmentSeconds {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("cut %d is shorter than %.2fs (%.2fs)", i, limits.MinSegmentSeconds, length))
		}
		if i > 0 {
			prev := ordered[i-1]
			if overlap := prev.End - cut.Start; overlap > 0 {
				result.Errors = append(result.Errors,
					fmt.Sprintf("cuts overlap by %.1fs (%.2f-%.2f and %.2f-%.2f)",
						overlap, prev.Start, prev.End, cut.Start, cut.End))
			}
		}
	}
}

func validateOverlays(p EditPlan, limits Limits, result *Result) {
	maxChars := limits.MaxOverlayChars
	if maxChars <= 0 {
		maxChars = 200
	}
	for i, overlay := range p.Overlays {
		if strings.TrimSpace(overlay.Text) == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("overlay %d has empty text", i))
			continue
		}
		if count := len([]rune(overlay.Text)); count > maxChars {
			result.Errors = append(result.Errors,
				fmt.Sprintf("overlay %d text exceeds %d characters (%d)", i, maxChars, count))
		}
		if overlay.Start < 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("overlay %d starts before zero", i))
		}
		if overlay.End <= overlay.Start {
			result.Errors = append(result.Errors,
				fmt.Sprintf("overlay %d has invalid timing (%.2fs to %.2fs)", i, overlay.Start, overlay.End))
		}
	}
}

func validateFilters(p EditPlan, result *Result) {
	for i, filter := range p.Filters {
		normalized := strings.ToLower(strings.TrimSpace(filter))
		if _, bad := placeholderFilterValues[normalized]; bad {
			result.Errors = append(result.Errors,
				fmt.Sprintf("filter %d is a placeholder value (%q)", i, filter))
		}
	}
}

func validateDurationTarget(p EditPlan, limits Limits, result *Result) {
	if p.TargetSeconds <= 0 {
		return
	}
	tolerance := limits.DurationToleranceSeconds
	if tolerance <= 0 {
		tolerance = 10
	}
	total := p.TotalDuration()
	if delta := math.Abs(total - p.TargetSeconds); delta > tolerance {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("total duration %.1fs misses target %.1fs by %.1fs", total, p.TargetSeconds, delta))
	}
}

func validateAudio(p EditPlan, limits Limits, result *Result) {
	maxVolume := limits.MaxAudioVolume
	if maxVolume <= 0 {
		maxVolume = 2.0
	}
	for i, track := range p.Music {
		if track.Volume < 0 || track.Volume > maxVolume {
			result.Errors = append(result.Errors,
				fmt.Sprintf("audio track %d volume %.2f outside [0, %.2f]", i, track.Volume, maxVolume))
		}
		if track.End <= track.Start {
			result.Errors = append(result.Errors,
				fmt.Sprintf("audio track %d has invalid timing (%.2fs to %.2fs)", i, track.Start, track.End))
		}
	}
}
