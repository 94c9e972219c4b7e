package render

import (
	"math"
	"strings"
	"testing"

	"reelsmith/internal/plan"
)

func TestAtempoChainDoublesAboveTwo(t *testing.T) {
	chain := atempoChain(5)
	want := []float64{2.0, 2.0, 1.25}
	if len(chain) != len(want) {
		t.Fatalf("atempoChain(5) = %v, want %v", chain, want)
	}
	for i := range want {
		if math.Abs(chain[i]-want[i]) > 1e-9 {
			t.Fatalf("atempoChain(5)[%d] = %f, want %f", i, chain[i], want[i])
		}
	}
}

func TestAtempoChainHalvesBelowHalf(t *testing.T) {
	chain := atempoChain(0.2)
	want := []float64{0.5, 0.5, 0.8}
	if len(chain) != len(want) {
		t.Fatalf("atempoChain(0.2) = %v, want %v", chain, want)
	}
	for i := range want {
		if math.Abs(chain[i]-want[i]) > 1e-9 {
			t.Fatalf("atempoChain(0.2)[%d] = %f, want %f", i, chain[i], want[i])
		}
	}
}

func TestAtempoChainFactorsStayInRange(t *testing.T) {
	for _, speed := range []float64{0.1, 0.3, 0.5, 1, 1.5, 2, 3, 8, 16.5} {
		for _, factor := range atempoChain(speed) {
			if factor < 0.5 || factor > 2.0 {
				t.Fatalf("atempoChain(%f) produced out-of-range factor %f", speed, factor)
			}
		}
	}
}

func TestAtempoChainPassthrough(t *testing.T) {
	chain := atempoChain(1)
	if len(chain) != 1 || chain[0] != 1 {
		t.Fatalf("atempoChain(1) = %v, want [1]", chain)
	}
}

func TestXfadeOffsets(t *testing.T) {
	// Segments of 10s, 8s, 6s with a 1s transition. Each xfade starts one
	// transition length before the running output ends.
	offsets := xfadeOffsets([]float64{10, 8, 6}, 1)
	want := []float64{9, 16}
	if len(offsets) != len(want) {
		t.Fatalf("xfadeOffsets = %v, want %v", offsets, want)
	}
	for i := range want {
		if math.Abs(offsets[i]-want[i]) > 1e-9 {
			t.Fatalf("xfadeOffsets[%d] = %f, want %f", i, offsets[i], want[i])
		}
	}
}

func TestXfadeOffsetsSingleSegment(t *testing.T) {
	if offsets := xfadeOffsets([]float64{10}, 1); offsets != nil {
		t.Fatalf("xfadeOffsets with one segment = %v, want nil", offsets)
	}
}

func TestSegmentFiltersSpeedAdjustment(t *testing.T) {
	video, audio := segmentFilters(plan.Cut{Start: 2, End: 10, Speed: 2})
	if !strings.Contains(video, "trim=start=2:end=10") {
		t.Fatalf("video filter missing trim: %q", video)
	}
	if !strings.Contains(video, "setpts=PTS/2") {
		t.Fatalf("video filter missing speed setpts: %q", video)
	}
	if !strings.Contains(audio, "atempo=2") {
		t.Fatalf("audio filter missing atempo: %q", audio)
	}
}

func TestSegmentFiltersUnitSpeedOmitsAtempo(t *testing.T) {
	video, audio := segmentFilters(plan.Cut{Start: 0, End: 5})
	if strings.Contains(video, "PTS/") {
		t.Fatalf("unit speed video filter has speed setpts: %q", video)
	}
	if strings.Contains(audio, "atempo") {
		t.Fatalf("unit speed audio filter has atempo: %q", audio)
	}
}

func TestKeyframeExprInterpolates(t *testing.T) {
	keyframes := []plan.Keyframe{
		{At: 0, Property: "volume", Value: 1},
		{At: 4, Property: "volume", Value: 0.5},
	}
	expr, ok := keyframeExpr(keyframes, "volume")
	if !ok {
		t.Fatal("keyframeExpr returned no expression")
	}
	if !strings.Contains(expr, "if(lt(t") {
		t.Fatalf("expected piecewise expression, got %q", expr)
	}
	if !strings.Contains(expr, "(t-0)/4") {
		t.Fatalf("expected linear segment over the keyframe span, got %q", expr)
	}
}

func TestKeyframeExprConstant(t *testing.T) {
	expr, ok := keyframeExpr([]plan.Keyframe{{At: 1, Property: "brightness", Value: 0.2}}, "brightness")
	if !ok || expr != "0.2" {
		t.Fatalf("keyframeExpr single point = %q, %v", expr, ok)
	}
}

func TestKeyframeExprIgnoresOtherProperties(t *testing.T) {
	if _, ok := keyframeExpr([]plan.Keyframe{{At: 0, Property: "zoom", Value: 1}}, "volume"); ok {
		t.Fatal("keyframeExpr matched the wrong property")
	}
}

func TestEscapeDrawtext(t *testing.T) {
	escaped := escapeDrawtext(`it's 50%: done`)
	if strings.Contains(escaped, "'s") {
		t.Fatalf("apostrophe not escaped: %q", escaped)
	}
	if !strings.Contains(escaped, `\%`) || !strings.Contains(escaped, `\:`) {
		t.Fatalf("special characters not escaped: %q", escaped)
	}
}

func TestCanStreamCopy(t *testing.T) {
	fast := plan.EditPlan{Cuts: []plan.Cut{{Start: 0, End: 5}, {Start: 10, End: 20}}}
	if !canStreamCopy(fast) {
		t.Fatal("plain cuts should stream copy")
	}

	cases := map[string]plan.EditPlan{
		"speed":    {Cuts: []plan.Cut{{Start: 0, End: 5, Speed: 2}}},
		"keyframe": {Cuts: []plan.Cut{{Start: 0, End: 5, Keyframes: []plan.Keyframe{{Property: "volume", Value: 1}}}}},
		"overlay":  {Cuts: []plan.Cut{{Start: 0, End: 5}}, Overlays: []plan.Overlay{{Text: "hi", End: 1}}},
		"music":    {Cuts: []plan.Cut{{Start: 0, End: 5}}, Music: []plan.AudioTrack{{Reference: "a.mp3", End: 5}}},
		"xfade":    {Cuts: []plan.Cut{{Start: 0, End: 5}}, TransitionStyle: "crossfade"},
	}
	for name, p := range cases {
		if canStreamCopy(p) {
			t.Fatalf("%s plan should not stream copy", name)
		}
	}
}

func TestTransitionName(t *testing.T) {
	if got := transitionName("crossfade"); got != "dissolve" {
		t.Fatalf("transitionName(crossfade) = %q", got)
	}
	if got := transitionName("cut"); got != "" {
		t.Fatalf("transitionName(cut) = %q", got)
	}
	if got := transitionName(""); got != "" {
		t.Fatalf("transitionName(empty) = %q", got)
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := formatSeconds(1.25); got != "1.25" {
		t.Fatalf("formatSeconds(1.25) = %q", got)
	}
	if got := formatSeconds(2); got != "2" {
		t.Fatalf("formatSeconds(2) = %q", got)
	}
}
