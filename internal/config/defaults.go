package config

const (
	defaultStagingDir = "~/.local/share/reelsmith/staging"
	defaultOutputDir  = "~/reelsmith/output"
	defaultLogDir     = "~/.local/share/reelsmith/logs"
	defaultStateDir   = "~/.local/share/reelsmith/state"

	defaultLogFormat = "console"
	defaultLogLevel  = "info"

	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120

	defaultFailureThreshold      = 5
	defaultSuccessRateThreshold  = 0.5
	defaultCircuitBreakSeconds   = 120
	defaultRateLimitBreakSeconds = 300
	defaultNoModelBreakSeconds   = 1800
	defaultCacheTTLSeconds       = 900
	defaultCacheMaxEntries       = 256
	defaultRequestTimeoutSeconds = 60

	defaultPlanTimeoutSeconds     = 120
	defaultEnrichTimeoutSeconds   = 60
	defaultCritiqueTimeoutSeconds = 60
	defaultMaxIterations          = 3
	defaultMinConfidence          = 0.7
	defaultImprovementThreshold   = 1.0

	defaultRenderMaxConcurrent   = 2
	defaultTransitionSeconds     = 0.5
	defaultMinSegmentSeconds     = 0.75
	defaultDurationToleranceSecs = 10.0
	defaultMaxOverlayChars       = 200
	defaultMaxAudioVolume        = 2.0
	defaultNotifyRequestTimeout  = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			OutputDir:  defaultOutputDir,
			LogDir:     defaultLogDir,
			StateDir:   defaultStateDir,
		},
		Routing: Routing{
			FailureThreshold:      defaultFailureThreshold,
			SuccessRateThreshold:  defaultSuccessRateThreshold,
			CircuitBreakSeconds:   defaultCircuitBreakSeconds,
			RateLimitBreakSeconds: defaultRateLimitBreakSeconds,
			NoModelBreakSeconds:   defaultNoModelBreakSeconds,
			CacheTTLSeconds:       defaultCacheTTLSeconds,
			CacheMaxEntries:       defaultCacheMaxEntries,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
		},
		Pipeline: Pipeline{
			PlanTimeoutSeconds:     defaultPlanTimeoutSeconds,
			EnrichTimeoutSeconds:   defaultEnrichTimeoutSeconds,
			CritiqueTimeoutSeconds: defaultCritiqueTimeoutSeconds,
			MaxIterations:          defaultMaxIterations,
			MinConfidence:          defaultMinConfidence,
			ImprovementThreshold:   defaultImprovementThreshold,
		},
		Render: Render{
			MaxConcurrent:            defaultRenderMaxConcurrent,
			FFmpegBinary:             "ffmpeg",
			TransitionSeconds:        defaultTransitionSeconds,
			MinSegmentSeconds:        defaultMinSegmentSeconds,
			DurationToleranceSeconds: defaultDurationToleranceSecs,
			MaxOverlayChars:          defaultMaxOverlayChars,
			MaxAudioVolume:           defaultMaxAudioVolume,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobStarted:     true,
			JobCompleted:   true,
			Errors:         true,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
