package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

var commandContext = exec.CommandContext

// Runner defines the rendering toolchain behaviour the orchestrator needs.
type Runner interface {
	Run(ctx context.Context, args []string) error
	Probe(ctx context.Context, path string) (ProbeResult, error)
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default ffmpeg binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if strings.TrimSpace(binary) != "" {
			c.binary = binary
		}
	}
}

// WithProbeBinary overrides the default ffprobe binary name.
func WithProbeBinary(binary string) Option {
	return func(c *CLI) {
		if strings.TrimSpace(binary) != "" {
			c.probeBinary = binary
		}
	}
}

// CLI wraps the ffmpeg and ffprobe command-line tools.
type CLI struct {
	binary      string
	probeBinary string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "ffmpeg", probeBinary: "ffprobe"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Available verifies that both binaries resolve on PATH.
func (c *CLI) Available() error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("binary %q not found: %w", c.binary, err)
	}
	if _, err := exec.LookPath(c.probeBinary); err != nil {
		return fmt.Errorf("binary %q not found: %w", c.probeBinary, err)
	}
	return nil
}

// Run executes ffmpeg with the given arguments. Diagnostics are folded into
// the returned error since ffmpeg writes everything to stderr.
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("ffmpeg run: no arguments")
	}

	full := append([]string{"-hide_banner", "-nostdin", "-y"}, args...)
	cmd := commandContext(ctx, c.binary, full...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg run: %w: %s", err, tailLines(string(output), 6))
	}
	return nil
}

// ProbeResult carries the container metadata the planner and renderer use.
type ProbeResult struct {
	DurationSeconds float64
	Width           int
	Height          int
	HasAudio        bool
	FormatName      string
}

// Probe inspects a media file with ffprobe and decodes the JSON response.
func (c *CLI) Probe(ctx context.Context, path string) (ProbeResult, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return ProbeResult{}, errors.New("ffprobe: empty path")
	}

	cmd := commandContext(ctx, c.probeBinary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe: %w: %s", err, tailLines(string(output), 4))
	}

	var payload struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration   string `json:"duration"`
			FormatName string `json:"format_name"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &payload); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe parse: %w", err)
	}

	result := ProbeResult{FormatName: payload.Format.FormatName}
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(payload.Format.Duration), 64); err == nil && parsed > 0 {
		result.DurationSeconds = parsed
	}
	for _, stream := range payload.Streams {
		switch strings.ToLower(stream.CodecType) {
		case "video":
			if result.Width == 0 {
				result.Width = stream.Width
				result.Height = stream.Height
			}
		case "audio":
			result.HasAudio = true
		}
	}
	return result, nil
}

func tailLines(output string, n int) string {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return "(no output)"
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

var _ Runner = (*CLI)(nil)
