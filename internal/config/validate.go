package config

import (
	"errors"
	"fmt"
	"strings"
)

var validTiers = map[string]struct{}{
	"premium":  {},
	"standard": {},
	"fast":     {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateRouting(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateRender(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateProviders() error {
	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return errors.New("providers: name must be set")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("providers: duplicate name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.BaseURL == "" {
			return fmt.Errorf("providers: %s: base_url must be set", p.Name)
		}
		if _, ok := validTiers[p.Tier]; !ok {
			return fmt.Errorf("providers: %s: tier must be premium, standard, or fast", p.Name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("providers: %s: at least one model must be configured", p.Name)
		}
		if p.AvgLatencyMS < 0 {
			return fmt.Errorf("providers: %s: avg_latency_ms must not be negative", p.Name)
		}
		if p.CostPerCall < 0 {
			return fmt.Errorf("providers: %s: cost_per_call must not be negative", p.Name)
		}
	}
	return nil
}

func (c *Config) validateRouting() error {
	if c.Routing.Preferred != "" {
		if _, ok := c.ProviderByName(c.Routing.Preferred); !ok {
			return fmt.Errorf("routing.preferred references unknown provider %q", c.Routing.Preferred)
		}
	}
	if c.Routing.FailureThreshold <= 0 {
		return errors.New("routing.failure_threshold must be positive")
	}
	if c.Routing.SuccessRateThreshold < 0 || c.Routing.SuccessRateThreshold > 1 {
		return errors.New("routing.success_rate_threshold must be between 0 and 1")
	}
	for name, value := range map[string]int{
		"routing.circuit_break_seconds":    c.Routing.CircuitBreakSeconds,
		"routing.rate_limit_break_seconds": c.Routing.RateLimitBreakSeconds,
		"routing.no_model_break_seconds":   c.Routing.NoModelBreakSeconds,
		"routing.cache_ttl_seconds":        c.Routing.CacheTTLSeconds,
		"routing.request_timeout_seconds":  c.Routing.RequestTimeoutSeconds,
	} {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Routing.CacheMaxEntries <= 0 {
		return errors.New("routing.cache_max_entries must be positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.PlanTimeoutSeconds <= 0 {
		return errors.New("pipeline.plan_timeout_seconds must be positive")
	}
	if c.Pipeline.EnrichTimeoutSeconds <= 0 {
		return errors.New("pipeline.enrich_timeout_seconds must be positive")
	}
	if c.Pipeline.CritiqueTimeoutSeconds <= 0 {
		return errors.New("pipeline.critique_timeout_seconds must be positive")
	}
	if c.Pipeline.MaxIterations <= 0 {
		return errors.New("pipeline.max_iterations must be positive")
	}
	if c.Pipeline.MinConfidence < 0 || c.Pipeline.MinConfidence > 1 {
		return errors.New("pipeline.min_confidence must be between 0 and 1")
	}
	if c.Pipeline.ImprovementThreshold < 0 {
		return errors.New("pipeline.improvement_threshold must not be negative")
	}
	return nil
}

func (c *Config) validateRender() error {
	if c.Render.MaxConcurrent <= 0 {
		return errors.New("render.max_concurrent must be at least 1")
	}
	if strings.TrimSpace(c.Render.FFmpegBinary) == "" {
		return errors.New("render.ffmpeg_binary must be set")
	}
	if c.Render.TransitionSeconds < 0 {
		return errors.New("render.transition_seconds must not be negative")
	}
	if c.Render.MinSegmentSeconds < 0 {
		return errors.New("render.min_segment_seconds must not be negative")
	}
	if c.Render.MaxAudioVolume <= 0 {
		return errors.New("render.max_audio_volume must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.QueuePollInterval <= 0 {
		return errors.New("workflow.queue_poll_interval must be positive")
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	return nil
}
