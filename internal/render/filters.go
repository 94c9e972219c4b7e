package render

import (
	"fmt"
	"sort"
	"strings"

	"reelsmith/internal/plan"
)

// atempo only accepts factors in [0.5, 2.0]. Larger or smaller speed changes
// are expressed as a chain of doubling or halving steps with one residual.
func atempoChain(speed float64) []float64 {
	if speed <= 0 {
		speed = 1
	}
	var chain []float64
	for speed > 2.0 {
		chain = append(chain, 2.0)
		speed /= 2.0
	}
	for speed < 0.5 {
		chain = append(chain, 0.5)
		speed /= 0.5
	}
	return append(chain, speed)
}

func atempoFilter(speed float64) string {
	parts := make([]string, 0, 4)
	for _, factor := range atempoChain(speed) {
		parts = append(parts, fmt.Sprintf("atempo=%s", formatSeconds(factor)))
	}
	return strings.Join(parts, ",")
}

// segmentFilters builds the per-cut video and audio filter chains: trim,
// timestamp reset, speed adjustment, and keyframed property expressions.
func segmentFilters(cut plan.Cut) (video, audio string) {
	speed := cut.Speed
	if speed <= 0 {
		speed = 1
	}

	videoParts := []string{
		fmt.Sprintf("trim=start=%s:end=%s", formatSeconds(cut.Start), formatSeconds(cut.End)),
		"setpts=PTS-STARTPTS",
	}
	if speed != 1 {
		videoParts = append(videoParts, fmt.Sprintf("setpts=PTS/%s", formatSeconds(speed)))
	}
	if expr, ok := keyframeExpr(cut.Keyframes, "brightness"); ok {
		videoParts = append(videoParts, fmt.Sprintf("eq=brightness='%s'", expr))
	}

	audioParts := []string{
		fmt.Sprintf("atrim=start=%s:end=%s", formatSeconds(cut.Start), formatSeconds(cut.End)),
		"asetpts=PTS-STARTPTS",
	}
	if speed != 1 {
		audioParts = append(audioParts, atempoFilter(speed))
	}
	if expr, ok := keyframeExpr(cut.Keyframes, "volume"); ok {
		audioParts = append(audioParts, fmt.Sprintf("volume='%s':eval=frame", expr))
	}

	return strings.Join(videoParts, ","), strings.Join(audioParts, ",")
}

// keyframeExpr renders a piecewise linear ffmpeg expression over t for one
// property. Returns false when the cut has no keyframes for the property.
func keyframeExpr(keyframes []plan.Keyframe, property string) (string, bool) {
	points := make([]plan.Keyframe, 0, len(keyframes))
	for _, kf := range keyframes {
		if strings.EqualFold(kf.Property, property) {
			points = append(points, kf)
		}
	}
	if len(points) == 0 {
		return "", false
	}
	sort.Slice(points, func(i, j int) bool { return points[i].At < points[j].At })
	if len(points) == 1 {
		return formatSeconds(points[0].Value), true
	}

	expr := formatSeconds(points[len(points)-1].Value)
	for i := len(points) - 2; i >= 0; i-- {
		a, b := points[i], points[i+1]
		span := b.At - a.At
		if span <= 0 {
			continue
		}
		segment := fmt.Sprintf("%s+(%s-%s)*(t-%s)/%s",
			formatSeconds(a.Value), formatSeconds(b.Value), formatSeconds(a.Value),
			formatSeconds(a.At), formatSeconds(span))
		expr = fmt.Sprintf("if(lt(t\\,%s)\\,%s\\,%s)", formatSeconds(b.At), segment, expr)
	}
	return expr, true
}

// xfadeOffsets returns the crossfade start offset for each transition in a
// chained xfade graph. The k-th offset is the cumulative output duration up
// to and including segment k minus the transition duration, where each
// earlier transition already consumed its overlap.
func xfadeOffsets(durations []float64, transition float64) []float64 {
	if len(durations) < 2 {
		return nil
	}
	offsets := make([]float64, 0, len(durations)-1)
	running := durations[0]
	for i := 1; i < len(durations); i++ {
		offset := running - transition
		if offset < 0 {
			offset = 0
		}
		offsets = append(offsets, offset)
		running += durations[i] - transition
	}
	return offsets
}

// transitionName maps a plan transition style to the xfade transition id.
func transitionName(style string) string {
	switch strings.ToLower(strings.TrimSpace(style)) {
	case "crossfade":
		return "dissolve"
	case "fade":
		return "fade"
	default:
		return ""
	}
}

// drawtextFilter renders one overlay as a drawtext filter enabled only
// during its time window.
func drawtextFilter(overlay plan.Overlay) string {
	return fmt.Sprintf(
		"drawtext=text='%s':fontsize=48:fontcolor=white:borderw=2:x=(w-text_w)/2:y=h-text_h-60:enable='between(t\\,%s\\,%s)'",
		escapeDrawtext(overlay.Text), formatSeconds(overlay.Start), formatSeconds(overlay.End))
}

// escapeDrawtext escapes the characters drawtext treats specially.
func escapeDrawtext(text string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
	)
	return replacer.Replace(text)
}

// formatSeconds renders a float without trailing zero noise for filter args.
func formatSeconds(value float64) string {
	formatted := fmt.Sprintf("%.6f", value)
	formatted = strings.TrimRight(formatted, "0")
	return strings.TrimRight(formatted, ".")
}
