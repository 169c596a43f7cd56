package analysis

import (
	"log/slog"
	"sync"
	"time"
)

// Rates are USD per million tokens.
type Rates struct {
	Input  float64
	Output float64
}

// DefaultPricing covers the models the providers ship with. Unknown models
// are priced at the fallback tier so spend is never silently untracked.
var DefaultPricing = map[string]Rates{
	"claude-3-5-haiku-20241022":  {Input: 0.80, Output: 4.00},
	"claude-3-5-sonnet-20241022": {Input: 3.00, Output: 15.00},
	"gemini-2.5-flash":           {Input: 0.30, Output: 2.50},
	"gemini-2.5-pro":             {Input: 1.25, Output: 10.00},
}

const fallbackModel = "claude-3-5-haiku-20241022"

const (
	maxHistory    = 1000
	warnThreshold = 0.8
)

// UsageEntry is one call's footprint on the ledger.
type UsageEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
}

// CostBreakdown is attached to every tracked call result.
type CostBreakdown struct {
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
	Total      float64 `json:"total"`
	Daily      float64 `json:"daily_total"`
	Monthly    float64 `json:"monthly_total"`
}

// CostStats summarizes the ledger for observability.
type CostStats struct {
	DailyTotal   float64      `json:"daily_total"`
	MonthlyTotal float64      `json:"monthly_total"`
	DailyLimit   float64      `json:"daily_limit"`
	MonthlyLimit float64      `json:"monthly_limit"`
	Requests     int          `json:"request_count"`
	AverageCost  float64      `json:"average_cost"`
	Recent       []UsageEntry `json:"recent"`
}

// CostTracker converts reported token usage into money and enforces daily
// and monthly ceilings. Ceilings are checked after recording: the call that
// crosses a limit keeps its spend on the ledger and fails, and later calls
// fail the same check.
type CostTracker struct {
	mu           sync.Mutex
	pricing      map[string]Rates
	dailyLimit   float64
	monthlyLimit float64

	daily     float64
	monthly   float64
	requests  int
	history   []UsageEntry
	lastReset string

	now    func() time.Time
	logger *slog.Logger
}

// NewCostTracker creates a tracker with the default pricing table. A zero
// limit disables the corresponding ceiling.
func NewCostTracker(dailyLimit, monthlyLimit float64) *CostTracker {
	return &CostTracker{
		pricing:      DefaultPricing,
		dailyLimit:   dailyLimit,
		monthlyLimit: monthlyLimit,
		now:          time.Now,
		logger:       slog.Default(),
	}
}

// TrackUsage records one call's token usage and returns its cost breakdown.
// The daily ledger resets when the local date changes between calls.
func (t *CostTracker) TrackUsage(inputTokens, outputTokens int, model string) (CostBreakdown, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	today := now.Format("2006-01-02")
	if today != t.lastReset {
		t.daily = 0
		t.lastReset = today
	}

	rates, ok := t.pricing[model]
	if !ok {
		rates = t.pricing[fallbackModel]
	}
	inputCost := float64(inputTokens) / 1e6 * rates.Input
	outputCost := float64(outputTokens) / 1e6 * rates.Output
	total := inputCost + outputCost

	t.daily += total
	t.monthly += total
	t.requests++
	t.history = append(t.history, UsageEntry{
		Timestamp:    now,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         total,
	})
	if len(t.history) > maxHistory {
		t.history = t.history[len(t.history)-maxHistory:]
	}

	breakdown := CostBreakdown{
		InputCost:  inputCost,
		OutputCost: outputCost,
		Total:      total,
		Daily:      t.daily,
		Monthly:    t.monthly,
	}

	if t.dailyLimit > 0 && t.daily > t.dailyLimit {
		return breakdown, &CostLimitError{Scope: "daily", Limit: t.dailyLimit, Total: t.daily}
	}
	if t.monthlyLimit > 0 && t.monthly > t.monthlyLimit {
		return breakdown, &CostLimitError{Scope: "monthly", Limit: t.monthlyLimit, Total: t.monthly}
	}
	if t.dailyLimit > 0 && t.daily > t.dailyLimit*warnThreshold {
		t.logger.Warn("Daily cost approaching limit", "daily", t.daily, "limit", t.dailyLimit)
	}
	return breakdown, nil
}

// Stats returns the ledger totals and the most recent entries.
func (t *CostTracker) Stats() CostStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := CostStats{
		DailyTotal:   t.daily,
		MonthlyTotal: t.monthly,
		DailyLimit:   t.dailyLimit,
		MonthlyLimit: t.monthlyLimit,
		Requests:     t.requests,
	}
	if t.requests > 0 {
		stats.AverageCost = t.monthly / float64(t.requests)
	}
	recent := 10
	if len(t.history) < recent {
		recent = len(t.history)
	}
	stats.Recent = append(stats.Recent, t.history[len(t.history)-recent:]...)
	return stats
}
