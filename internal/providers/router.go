package providers

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelsmith/internal/config"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
)

// Tier is an ordered provider quality category.
type Tier int

const (
	TierFast Tier = iota + 1
	TierStandard
	TierPremium
)

func (t Tier) String() string {
	switch t {
	case TierPremium:
		return "premium"
	case TierStandard:
		return "standard"
	case TierFast:
		return "fast"
	default:
		return "unknown"
	}
}

// ParseTier converts a config tier string into its ordered value.
func ParseTier(value string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "premium":
		return TierPremium, true
	case "standard":
		return TierStandard, true
	case "fast":
		return TierFast, true
	default:
		return 0, false
	}
}

// TaskClass names the kind of generation work a stage performs.
type TaskClass string

const (
	TaskPlan     TaskClass = "plan"
	TaskCritique TaskClass = "critique"
	TaskMoments  TaskClass = "moments"
	TaskCaptions TaskClass = "captions"
	TaskMusic    TaskClass = "music"
)

// taskTiers maps task classes to the quality tier they require.
var taskTiers = map[TaskClass]Tier{
	TaskPlan:     TierPremium,
	TaskCritique: TierPremium,
	TaskMoments:  TierStandard,
	TaskCaptions: TierStandard,
	TaskMusic:    TierFast,
}

// RequiredTier returns the static quality tier for a task class.
func RequiredTier(task TaskClass) Tier {
	if tier, ok := taskTiers[task]; ok {
		return tier
	}
	return TierStandard
}

// Policy constrains provider selection for one call.
type Policy struct {
	Task            TaskClass
	LatencyBudgetMS int
	CostBudget      float64
	MinTier         Tier
	AllowFallback   bool
}

// PolicyForTask builds the default policy for a task class: tier from the
// static table, no latency or cost budget, fallback allowed.
func PolicyForTask(task TaskClass) Policy {
	return Policy{Task: task, MinTier: RequiredTier(task), AllowFallback: true}
}

func (p Policy) requiredTier() Tier {
	required := RequiredTier(p.Task)
	if p.MinTier > required {
		required = p.MinTier
	}
	return required
}

// Selection names the provider and model the router chose.
type Selection struct {
	Provider string
	Model    string
	Tier     Tier
}

// Status is a point-in-time view of one provider's routing state.
type Status struct {
	Name         string
	Tier         Tier
	Enabled      bool
	Healthy      bool
	CircuitOpen  bool
	SuccessRate  float64
	AvgLatencyMS float64
	Models       []string
}

// Settings tunes circuit breaking and caching. Built from config.Routing.
type Settings struct {
	FailureThreshold     int
	SuccessRateThreshold float64
	CircuitBreak         time.Duration
	RateLimitBreak       time.Duration
	NoModelBreak         time.Duration
	CacheTTL             time.Duration
	CacheMaxEntries      int
	Preferred            string
}

// SettingsFromConfig derives router settings from the routing config section.
func SettingsFromConfig(routing config.Routing) Settings {
	return Settings{
		FailureThreshold:     routing.FailureThreshold,
		SuccessRateThreshold: routing.SuccessRateThreshold,
		CircuitBreak:         time.Duration(routing.CircuitBreakSeconds) * time.Second,
		RateLimitBreak:       time.Duration(routing.RateLimitBreakSeconds) * time.Second,
		NoModelBreak:         time.Duration(routing.NoModelBreakSeconds) * time.Second,
		CacheTTL:             time.Duration(routing.CacheTTLSeconds) * time.Second,
		CacheMaxEntries:      routing.CacheMaxEntries,
		Preferred:            routing.Preferred,
	}
}

func (s *Settings) applyDefaults() {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessRateThreshold <= 0 {
		s.SuccessRateThreshold = 0.5
	}
	if s.CircuitBreak <= 0 {
		s.CircuitBreak = 2 * time.Minute
	}
	if s.RateLimitBreak <= 0 {
		s.RateLimitBreak = 5 * time.Minute
	}
	if s.NoModelBreak <= 0 {
		s.NoModelBreak = 30 * time.Minute
	}
}

// Completer is the narrow contract the router needs from a provider client.
type Completer interface {
	CompleteJSON(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

type providerState struct {
	cfg    config.Provider
	tier   Tier
	models []string
	health Health
	client Completer
}

// Router selects among configured providers under shared health state.
// Selection is read-only with respect to health; only the record and
// handle-error operations mutate it.
type Router struct {
	mu        sync.Mutex
	providers map[string]*providerState
	order     []string
	settings  Settings
	cache     *responseCache
	logger    *slog.Logger
	now       func() time.Time
}

// RouterOption customizes router construction.
type RouterOption func(*Router)

// WithClock overrides the router's time source (used in tests).
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithCompleter replaces the client for a named provider (used in tests).
func WithCompleter(name string, client Completer) RouterOption {
	return func(r *Router) {
		if state, ok := r.providers[strings.ToLower(name)]; ok {
			state.client = client
		}
	}
}

// NewRouter builds a router over the configured providers.
func NewRouter(providers []config.Provider, settings Settings, timeoutSeconds int, logger *slog.Logger, opts ...RouterOption) *Router {
	settings.applyDefaults()
	router := &Router{
		providers: make(map[string]*providerState, len(providers)),
		settings:  settings,
		cache:     newResponseCache(settings.CacheTTL, settings.CacheMaxEntries),
		logger:    logging.NewComponentLogger(logger, "provider-router"),
		now:       time.Now,
	}
	for _, cfg := range providers {
		tier, ok := ParseTier(cfg.Tier)
		if !ok {
			tier = TierStandard
		}
		name := strings.ToLower(cfg.Name)
		models := make([]string, len(cfg.Models))
		copy(models, cfg.Models)
		router.providers[name] = &providerState{
			cfg:    cfg,
			tier:   tier,
			models: models,
			client: NewClient(ClientConfig{
				Name:           name,
				BaseURL:        cfg.BaseURL,
				APIKey:         cfg.APIKey,
				TimeoutSeconds: timeoutSeconds,
			}),
		}
		router.order = append(router.order, name)
	}
	sort.Strings(router.order)
	for _, opt := range opts {
		opt(router)
	}
	return router
}

// Select picks the best provider for the policy, skipping excluded names.
// It returns false when no candidate survives filtering.
func (r *Router) Select(policy Policy, exclude []string) (Selection, bool) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excluded[strings.ToLower(name)] = struct{}{}
	}
	required := policy.requiredTier()

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	type candidate struct {
		name    string
		state   *providerState
		rate    float64
		latency float64
	}
	var candidates []candidate

	for _, name := range r.order {
		state := r.providers[name]
		if !state.cfg.Enabled || len(state.models) == 0 {
			continue
		}
		if _, skip := excluded[name]; skip {
			continue
		}
		if !state.health.IsHealthy(now) {
			continue
		}
		if state.tier < required && !policy.AllowFallback {
			continue
		}
		latency := state.health.AvgLatencyMS
		if latency == 0 {
			latency = float64(state.cfg.AvgLatencyMS)
		}
		if policy.LatencyBudgetMS > 0 && latency > float64(policy.LatencyBudgetMS) {
			continue
		}
		if policy.CostBudget > 0 && state.cfg.CostPerCall > policy.CostBudget {
			continue
		}
		candidates = append(candidates, candidate{
			name:    name,
			state:   state,
			rate:    state.health.SuccessRate(),
			latency: latency,
		})
	}
	if len(candidates) == 0 {
		return Selection{}, false
	}

	if preferred := r.settings.Preferred; preferred != "" {
		for _, c := range candidates {
			if c.name == preferred {
				return Selection{Provider: c.name, Model: c.state.models[0], Tier: c.state.tier}, true
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.state.tier != b.state.tier {
			return a.state.tier > b.state.tier
		}
		if a.rate != b.rate {
			return a.rate > b.rate
		}
		return a.latency < b.latency
	})

	best := candidates[0]
	return Selection{Provider: best.name, Model: best.state.models[0], Tier: best.state.tier}, true
}

// RecordSuccess updates health counters and the latency moving average after
// a successful call.
func (r *Router) RecordSuccess(name string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return
	}
	state.health.recordSuccess(r.now(), latency)
}

// RecordFailure increments failure counters and opens the circuit once the
// provider crosses the configured thresholds.
func (r *Router) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordFailureLocked(strings.ToLower(name), err)
}

func (r *Router) recordFailureLocked(name string, err error) *providerState {
	state, ok := r.providers[name]
	if !ok {
		return nil
	}
	now := r.now()
	state.health.recordFailure(now)
	if state.health.ConsecutiveFailures >= r.settings.FailureThreshold &&
		state.health.SuccessRate() < r.settings.SuccessRateThreshold {
		state.health.openCircuit(now, r.settings.CircuitBreak)
		r.logger.Warn("provider circuit opened",
			logging.String(logging.FieldProvider, name),
			logging.Int("consecutive_failures", state.health.ConsecutiveFailures),
			logging.Float64("success_rate", state.health.SuccessRate()),
			logging.String(logging.FieldEventType, "circuit_open"),
			logging.Error(err),
		)
	}
	return state
}

// HandleError classifies a provider failure and applies the specialized
// penalties: rate limits open the circuit for the advertised duration, and
// unavailable models are pruned from the provider's supported list.
func (r *Router) HandleError(name, model string, err error) {
	name = strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.recordFailureLocked(name, err)
	if state == nil {
		return
	}
	now := r.now()

	switch {
	case IsRateLimit(err):
		duration := RetryAfterHint(err)
		if duration <= 0 {
			duration = r.settings.RateLimitBreak
		}
		state.health.openCircuit(now, duration)
		r.logger.Warn("provider rate limited",
			logging.String(logging.FieldProvider, name),
			logging.Duration("break", duration),
			logging.String(logging.FieldEventType, "rate_limit"),
		)
	case IsModelUnavailable(err):
		state.models = removeModel(state.models, model)
		r.logger.Warn("provider model pruned",
			logging.String(logging.FieldProvider, name),
			logging.String("model", model),
			logging.Int("models_remaining", len(state.models)),
			logging.String(logging.FieldEventType, "model_pruned"),
		)
		if len(state.models) == 0 {
			state.health.openCircuit(now, r.settings.NoModelBreak)
		}
	}
}

func removeModel(models []string, model string) []string {
	out := models[:0]
	for _, m := range models {
		if m != model {
			out = append(out, m)
		}
	}
	return out
}

// Generate completes a prompt under the given policy, walking the candidate
// providers until one succeeds. Results are served from and written to the
// content-addressed cache.
func (r *Router) Generate(ctx context.Context, policy Policy, systemPrompt, userPrompt string) (string, error) {
	cacheKey := CacheKey(string(policy.Task), "", systemPrompt, userPrompt)
	if payload, ok := r.cache.get(cacheKey); ok {
		return payload, nil
	}

	var exclude []string
	var lastErr error
	for attempt := 0; attempt < r.providerCount(); attempt++ {
		selection, ok := r.Select(policy, exclude)
		if !ok {
			break
		}

		client := r.clientFor(selection.Provider)
		if client == nil {
			exclude = append(exclude, selection.Provider)
			continue
		}

		callCtx := services.WithRequestID(ctx, uuid.NewString())
		start := r.now()
		payload, err := client.CompleteJSON(callCtx, selection.Model, systemPrompt, userPrompt)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			r.HandleError(selection.Provider, selection.Model, err)
			exclude = append(exclude, selection.Provider)
			logging.WithContext(callCtx, r.logger).Warn("provider call failed, trying next candidate",
				logging.String(logging.FieldProvider, selection.Provider),
				logging.String("task", string(policy.Task)),
				logging.Error(err),
			)
			continue
		}

		r.RecordSuccess(selection.Provider, r.now().Sub(start))
		r.cache.put(cacheKey, payload)
		return payload, nil
	}

	if lastErr != nil {
		return "", lastErr
	}
	return "", ErrNoProvider
}

func (r *Router) providerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.providers)
}

func (r *Router) clientFor(name string) Completer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.providers[name]; ok {
		return state.client
	}
	return nil
}

// Snapshot returns the routing state of every configured provider, ordered by
// name.
func (r *Router) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	statuses := make([]Status, 0, len(r.order))
	for _, name := range r.order {
		state := r.providers[name]
		models := make([]string, len(state.models))
		copy(models, state.models)
		statuses = append(statuses, Status{
			Name:         name,
			Tier:         state.tier,
			Enabled:      state.cfg.Enabled,
			Healthy:      state.health.IsHealthy(now),
			CircuitOpen:  state.health.CircuitOpen,
			SuccessRate:  state.health.SuccessRate(),
			AvgLatencyMS: state.health.AvgLatencyMS,
			Models:       models,
		})
	}
	return statuses
}

// CacheSize reports how many responses are currently cached.
func (r *Router) CacheSize() int {
	return r.cache.len()
}
