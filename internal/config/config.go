package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	OutputDir  string `toml:"output_dir"`
	LogDir     string `toml:"log_dir"`
	StateDir   string `toml:"state_dir"`
}

// Provider describes one upstream compute provider endpoint.
type Provider struct {
	Name         string   `toml:"name"`
	BaseURL      string   `toml:"base_url"`
	APIKey       string   `toml:"api_key"`
	Models       []string `toml:"models"`
	Tier         string   `toml:"tier"`
	AvgLatencyMS int      `toml:"avg_latency_ms"`
	CostPerCall  float64  `toml:"cost_per_call"`
	Enabled      bool     `toml:"enabled"`
}

// Routing contains provider selection and circuit breaker settings.
type Routing struct {
	Preferred               string  `toml:"preferred"`
	FailureThreshold        int     `toml:"failure_threshold"`
	SuccessRateThreshold    float64 `toml:"success_rate_threshold"`
	CircuitBreakSeconds     int     `toml:"circuit_break_seconds"`
	RateLimitBreakSeconds   int     `toml:"rate_limit_break_seconds"`
	NoModelBreakSeconds     int     `toml:"no_model_break_seconds"`
	CacheTTLSeconds         int     `toml:"cache_ttl_seconds"`
	CacheMaxEntries         int     `toml:"cache_max_entries"`
	RequestTimeoutSeconds   int     `toml:"request_timeout_seconds"`
	LatencyBudgetOverrideMS int     `toml:"latency_budget_override_ms"`
}

// Pipeline contains stage execution and iteration loop settings.
type Pipeline struct {
	PlanTimeoutSeconds     int     `toml:"plan_timeout_seconds"`
	EnrichTimeoutSeconds   int     `toml:"enrich_timeout_seconds"`
	CritiqueTimeoutSeconds int     `toml:"critique_timeout_seconds"`
	MaxIterations          int     `toml:"max_iterations"`
	MinConfidence          float64 `toml:"min_confidence"`
	ImprovementThreshold   float64 `toml:"improvement_threshold"`
}

// Render contains rendering orchestration settings.
type Render struct {
	MaxConcurrent            int     `toml:"max_concurrent"`
	FFmpegBinary             string  `toml:"ffmpeg_binary"`
	TransitionSeconds        float64 `toml:"transition_seconds"`
	MinSegmentSeconds        float64 `toml:"min_segment_seconds"`
	DurationToleranceSeconds float64 `toml:"duration_tolerance_seconds"`
	MaxOverlayChars          int     `toml:"max_overlay_chars"`
	MaxAudioVolume           float64 `toml:"max_audio_volume"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobStarted     bool   `toml:"job_started"`
	JobCompleted   bool   `toml:"job_completed"`
	Errors         bool   `toml:"errors"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for reelsmith.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Providers     []Provider    `toml:"providers"`
	Routing       Routing       `toml:"routing"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Render        Render        `toml:"render"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/reelsmith/config.toml")
}

// SampleConfig returns the embedded annotated sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err = os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}

	projectPath, err := filepath.Abs("reelsmith.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// WriteSample writes the embedded sample config to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config already exists at %s", expanded)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the working directories when missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.OutputDir, c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ProviderByName returns the configured provider with the given name.
func (c *Config) ProviderByName(name string) (Provider, bool) {
	for _, p := range c.Providers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Provider{}, false
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		p.BaseURL = strings.TrimSpace(p.BaseURL)
		p.Tier = strings.ToLower(strings.TrimSpace(p.Tier))
		if p.APIKey == "" {
			p.APIKey = strings.TrimSpace(os.Getenv(strings.ToUpper(p.Name) + "_API_KEY"))
		}
	}
	c.Routing.Preferred = strings.ToLower(strings.TrimSpace(c.Routing.Preferred))

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	if c.Render.FFmpegBinary == "" {
		c.Render.FFmpegBinary = "ffmpeg"
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return home, nil
	}
	if strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Abs(trimmed)
}
