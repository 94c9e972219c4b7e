package plan

import (
	"strings"
	"testing"
)

func testLimits() Limits {
	return Limits{
		MinSegmentSeconds:        0.5,
		MaxOverlayChars:          120,
		MaxAudioVolume:           2.0,
		DurationToleranceSeconds: 10,
	}
}

func TestValidateAcceptsCleanPlan(t *testing.T) {
	p := EditPlan{
		Cuts: []Cut{
			{Start: 0, End: 5},
			{Start: 8, End: 14, Speed: 2},
		},
		Overlays: []Overlay{{Text: "Day one", Start: 0, End: 3}},
		Music:    []AudioTrack{{Reference: "calm-synth", Start: 0, End: 8, Volume: 0.4}},
	}

	result := Validate(p, testLimits())
	if !result.Passed {
		t.Fatalf("clean plan rejected: %v", result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}
}

func TestValidateFlagsOverlappingCuts(t *testing.T) {
	p := EditPlan{Cuts: []Cut{
		{Start: 0, End: 5},
		{Start: 4, End: 9},
	}}

	result := Validate(p, testLimits())
	if result.Passed {
		t.Fatal("overlapping cuts passed validation")
	}
	found := false
	for _, msg := range result.Errors {
		if strings.Contains(msg, "overlap by 1.0s") {
			found = true
		}
	}
	if !found {
		t.Fatalf("overlap error missing: %v", result.Errors)
	}
}

func TestValidateAcceptsAdjacentCuts(t *testing.T) {
	p := EditPlan{Cuts: []Cut{
		{Start: 0, End: 5},
		{Start: 5, End: 9},
	}}

	result := Validate(p, testLimits())
	if !result.Passed {
		t.Fatalf("adjacent cuts rejected: %v", result.Errors)
	}
}

func TestValidateSortsCutsBeforeOverlapCheck(t *testing.T) {
	// Same cuts as the overlap test, but listed out of order.
	p := EditPlan{Cuts: []Cut{
		{Start: 4, End: 9},
		{Start: 0, End: 5},
	}}

	if result := Validate(p, testLimits()); result.Passed {
		t.Fatal("out-of-order overlapping cuts passed validation")
	}
}

func TestValidateRejectsEmptyAndInvertedCuts(t *testing.T) {
	if result := Validate(EditPlan{}, testLimits()); result.Passed {
		t.Fatal("empty plan passed validation")
	}

	p := EditPlan{Cuts: []Cut{{Start: 5, End: 5}}}
	if result := Validate(p, testLimits()); result.Passed {
		t.Fatal("zero-length cut passed validation")
	}
}

func TestValidateWarnsOnShortCut(t *testing.T) {
	p := EditPlan{Cuts: []Cut{{Start: 0, End: 0.2}, {Start: 1, End: 4}}}

	result := Validate(p, testLimits())
	if !result.Passed {
		t.Fatalf("short cut blocked rendering: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("short cut produced no warning")
	}
}

func TestValidateOverlayChecks(t *testing.T) {
	long := strings.Repeat("x", 130)
	p := EditPlan{
		Cuts: []Cut{{Start: 0, End: 10}},
		Overlays: []Overlay{
			{Text: "  ", Start: 0, End: 2},
			{Text: long, Start: 0, End: 2},
			{Text: "ok", Start: 3, End: 1},
			{Text: "ok", Start: -1, End: 2},
		},
	}

	result := Validate(p, testLimits())
	if result.Passed {
		t.Fatal("invalid overlays passed validation")
	}
	if len(result.Errors) < 4 {
		t.Fatalf("errors = %v, want empty text, length, timing, and negative start", result.Errors)
	}
}

func TestValidateRejectsPlaceholderFilters(t *testing.T) {
	p := EditPlan{
		Cuts:    []Cut{{Start: 0, End: 10}},
		Filters: []string{"eq=brightness=0.05", "NULL", "tbd"},
	}

	result := Validate(p, testLimits())
	if result.Passed {
		t.Fatal("placeholder filters passed validation")
	}
	if len(result.Errors) != 2 {
		t.Fatalf("errors = %v, want exactly the two placeholders flagged", result.Errors)
	}
}

func TestValidateDurationTargetWarning(t *testing.T) {
	p := EditPlan{
		Cuts:          []Cut{{Start: 0, End: 20}},
		TargetSeconds: 60,
	}

	result := Validate(p, testLimits())
	if !result.Passed {
		t.Fatalf("duration miss blocked rendering: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("duration miss produced no warning")
	}

	// Speed-adjusted duration counts toward the target.
	p = EditPlan{
		Cuts:          []Cut{{Start: 0, End: 120, Speed: 2}},
		TargetSeconds: 60,
	}
	if result := Validate(p, testLimits()); len(result.Warnings) != 0 {
		t.Fatalf("on-target plan warned: %v", result.Warnings)
	}
}

func TestValidateAudioChecks(t *testing.T) {
	p := EditPlan{
		Cuts: []Cut{{Start: 0, End: 10}},
		Music: []AudioTrack{
			{Reference: "a", Start: 0, End: 5, Volume: 3.5},
			{Reference: "b", Start: 5, End: 5, Volume: 0.5},
		},
	}

	result := Validate(p, testLimits())
	if result.Passed {
		t.Fatal("invalid audio passed validation")
	}
	if len(result.Errors) != 2 {
		t.Fatalf("errors = %v, want volume and timing", result.Errors)
	}
}

func TestCutDuration(t *testing.T) {
	if got := (Cut{Start: 2, End: 12}).Duration(); got != 10 {
		t.Fatalf("Duration() = %v, want 10", got)
	}
	if got := (Cut{Start: 0, End: 10, Speed: 2}).Duration(); got != 5 {
		t.Fatalf("Duration() with speed 2 = %v, want 5", got)
	}
	if got := (Cut{Start: 0, End: 10, Speed: -1}).Duration(); got != 10 {
		t.Fatalf("Duration() with invalid speed = %v, want 10", got)
	}
}

func TestCriticReportNormalized(t *testing.T) {
	cases := []struct {
		report CriticReport
		want   float64
	}{
		{CriticReport{Score: 7, Scale: 10}, 0.7},
		{CriticReport{Score: 7}, 0.7},
		{CriticReport{Score: 4, Scale: 5}, 0.8},
		{CriticReport{Score: -2, Scale: 10}, 0},
		{CriticReport{Score: 15, Scale: 10}, 1},
	}
	for _, tc := range cases {
		if got := tc.report.Normalized(); got != tc.want {
			t.Fatalf("Normalized(%+v) = %v, want %v", tc.report, got, tc.want)
		}
	}
}
