package analysis

import (
	"context"
	"log/slog"
	"time"
)

// Result is the outcome of one orchestrated call.
type Result struct {
	Text         string        `json:"text"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Cost         CostBreakdown `json:"cost"`
	Cached       bool          `json:"cached"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Config bounds the orchestrator's rate, budget, retry, and timeout
// behavior. Zero values select defaults.
type Config struct {
	RequestsPerMinute int
	DailyCostLimit    float64
	MonthlyCostLimit  float64
	CacheTTL          time.Duration
	CacheMaxEntries   int
	Timeout           time.Duration
	RetryAttempts     int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
}

// Analyzer composes the cache, rate limiter, cost tracker, and retry policy
// around a single provider. Every external call funnels through Analyze.
type Analyzer struct {
	provider Provider
	limiter  *RateLimiter
	costs    *CostTracker
	cache    *Cache

	timeout   time.Duration
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration

	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer with components built from cfg.
func NewAnalyzer(provider Provider, cfg Config) *Analyzer {
	return NewAnalyzerWithDeps(
		provider,
		NewRateLimiter(cfg.RequestsPerMinute),
		NewCostTracker(cfg.DailyCostLimit, cfg.MonthlyCostLimit),
		NewCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		cfg,
	)
}

// NewAnalyzerWithDeps creates an Analyzer with injected components for
// testing.
func NewAnalyzerWithDeps(provider Provider, limiter *RateLimiter, costs *CostTracker, cache *Cache, cfg Config) *Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	return &Analyzer{
		provider:  provider,
		limiter:   limiter,
		costs:     costs,
		cache:     cache,
		timeout:   cfg.Timeout,
		attempts:  cfg.RetryAttempts,
		baseDelay: cfg.RetryBaseDelay,
		maxDelay:  cfg.RetryMaxDelay,
		sleep:     sleepContext,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// Analyze runs one document-understanding call: cache lookup, throttle,
// provider call with retry, usage tracking, cache store. An identical
// payload, prompt, and model is served from the cache without touching the
// limiter or the ledger.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	start := a.now()
	key := Fingerprint(req.Payload, req.Prompt, req.Model)
	if cached, ok := a.cache.Get(key); ok {
		a.logger.Debug("Serving analysis from cache", "model", req.Model)
		result := *cached
		result.Cached = true
		result.Elapsed = a.now().Sub(start)
		return &result, nil
	}

	var resp *Response
	var err error
	for attempt := 0; attempt < a.attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(a.baseDelay, a.maxDelay, attempt-1)
			a.logger.Info("Retrying analysis call", "attempt", attempt+1, "delay", delay)
			if sleepErr := a.sleep(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}
		}
		resp, err = a.attempt(ctx, req)
		if err == nil {
			break
		}
		if !retryable(err) {
			return nil, err
		}
		a.logger.Warn("Analysis call failed", "attempt", attempt+1, "error", err)
	}
	if err != nil {
		return nil, err
	}

	breakdown, costErr := a.costs.TrackUsage(resp.InputTokens, resp.OutputTokens, req.Model)
	result := &Result{
		Text:         resp.Text,
		Model:        req.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Cost:         breakdown,
		Elapsed:      a.now().Sub(start),
	}
	if costErr != nil {
		// The spend stays on the ledger; the result is neither returned
		// nor cached.
		return nil, costErr
	}
	a.cache.Set(key, result)
	return result, nil
}

func (a *Analyzer) attempt(ctx context.Context, req Request) (*Response, error) {
	if err := a.limiter.Throttle(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.provider.Generate(callCtx, req)
}

// backoffDelay is base doubled per prior failure, capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay
}

// Stats aggregates the orchestrator's component counters.
type Stats struct {
	Cost    CostStats    `json:"cost"`
	Limiter LimiterStats `json:"rate_limiter"`
	Cache   CacheStats   `json:"cache"`
}

// Stats returns a snapshot across the cost ledger, limiter, and cache.
func (a *Analyzer) Stats() Stats {
	return Stats{
		Cost:    a.costs.Stats(),
		Limiter: a.limiter.Stats(),
		Cache:   a.cache.Stats(),
	}
}

// Close releases the underlying provider.
func (a *Analyzer) Close() error {
	return a.provider.Close()
}
