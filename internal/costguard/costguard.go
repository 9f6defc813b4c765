// Package costguard enforces per-project spend and request-rate limits
// before a turn starts and accounts for actual usage after it finishes,
// combining internal/usage's token/cost tracking with internal/ratelimit's
// token-bucket limiter.
package costguard

import (
	"context"
	"sync"
	"time"

	"github.com/nexus-core/nexus/internal/nexuserr"
	"github.com/nexus-core/nexus/internal/pricing"
	"github.com/nexus-core/nexus/internal/ratelimit"
	"github.com/nexus-core/nexus/internal/usage"
)

// Config bounds a project's per-turn and per-period spend. Zero values for
// any limit are treated as "no limit" except where noted.
type Config struct {
	MaxTokensPerTurn     int64
	MaxTurnsPerSession   int
	DailyBudgetUSD       float64
	MonthlyBudgetUSD     float64
	HardLimitPercent     float64 // defaults to 100 when zero
	MaxRequestsPerMinute int
	MaxRequestsPerHour   int
}

func (c Config) hardLimitFraction() float64 {
	pct := c.HardLimitPercent
	if pct <= 0 {
		pct = 100
	}
	return pct / 100
}

// sessionCounters tracks the per-session turn count CostGuard itself owns;
// the rest of a turn's identity (tokens, cost) lives in usage.Tracker.
type sessionCounters struct {
	mu    sync.Mutex
	turns map[string]int
}

// Guard is the precheck/recordUsage pair described for a project's Cost
// Guard: a pre-flight budget and rate check, and a post-flight usage
// recorder that feeds the next precheck's spend totals.
type Guard struct {
	config Config

	tracker   *usage.Tracker
	minute    *ratelimit.Limiter
	hour      *ratelimit.Limiter
	sessions  sessionCounters
	dedup     sync.Map // traceId -> struct{}, for recordUsage idempotency
	startedAt time.Time

	// Metrics records a rejection counter per Precheck failure when set.
	// Nil (the default) disables this entirely; assign after construction.
	Metrics RejectionRecorder
}

// RejectionRecorder receives a reason string ("token_limit", "turn_limit",
// "budget", or "rate_limit") each time Precheck refuses a turn. Satisfied
// by *observability.Metrics without costguard importing that package.
type RejectionRecorder interface {
	RecordCostGuardRejection(reason string)
}

// New constructs a Guard. A fresh usage.Tracker and pair of ratelimit
// limiters (trailing-minute, trailing-hour) back it; callers that need
// shared limiting across guards should construct those themselves and use
// NewWithTrackers instead.
func New(config Config) *Guard {
	return NewWithTrackers(config, usage.NewTracker(usage.DefaultTrackerConfig()))
}

// NewWithTrackers constructs a Guard against a caller-supplied usage
// tracker, useful when multiple guards (e.g. one per project) should share
// usage accounting infrastructure.
func NewWithTrackers(config Config, tracker *usage.Tracker) *Guard {
	minuteCfg := ratelimit.Config{Enabled: config.MaxRequestsPerMinute > 0, RequestsPerSecond: float64(config.MaxRequestsPerMinute) / 60, BurstSize: max1(config.MaxRequestsPerMinute)}
	hourCfg := ratelimit.Config{Enabled: config.MaxRequestsPerHour > 0, RequestsPerSecond: float64(config.MaxRequestsPerHour) / 3600, BurstSize: max1(config.MaxRequestsPerHour)}
	return &Guard{
		config:    config,
		tracker:   tracker,
		minute:    ratelimit.NewLimiter(minuteCfg),
		hour:      ratelimit.NewLimiter(hourCfg),
		sessions:  sessionCounters{turns: make(map[string]int)},
		startedAt: time.Now(),
	}
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// Precheck runs the ordered pre-flight checks described for a turn:
// TOKEN_LIMIT_EXCEEDED, then TURN_LIMIT_EXCEEDED, then BUDGET_EXCEEDED,
// then RATE_LIMIT_EXCEEDED. The first failing check wins; a nil error
// means the turn may proceed.
func (g *Guard) Precheck(ctx context.Context, projectID, sessionID string, estimatedInputTokens int64) error {
	details := map[string]any{"project_id": projectID, "session_id": sessionID}
	reject := func(reason string, err error) error {
		if g.Metrics != nil {
			g.Metrics.RecordCostGuardRejection(reason)
		}
		return err
	}

	if g.config.MaxTokensPerTurn > 0 && estimatedInputTokens > g.config.MaxTokensPerTurn {
		return reject("token_limit", nexuserr.New(nexuserr.KindTokenLimitExceeded, "estimated input tokens exceed the per-turn limit").
			WithDetails(merge(details, map[string]any{"estimated_input_tokens": estimatedInputTokens, "limit": g.config.MaxTokensPerTurn})))
	}

	if g.config.MaxTurnsPerSession > 0 && g.turnsFor(sessionID) >= g.config.MaxTurnsPerSession {
		return reject("turn_limit", nexuserr.New(nexuserr.KindTurnLimitExceeded, "session has reached its turn limit").
			WithDetails(merge(details, map[string]any{"limit": g.config.MaxTurnsPerSession})))
	}

	dailySpent := g.spentSince(projectID, time.Now().AddDate(0, 0, -1))
	monthlySpent := g.spentSince(projectID, time.Now().AddDate(0, -1, 0))
	if g.config.DailyBudgetUSD > 0 && dailySpent >= g.config.DailyBudgetUSD*g.config.hardLimitFraction() {
		return reject("budget", nexuserr.New(nexuserr.KindBudgetExceeded, "daily budget exhausted").
			WithDetails(merge(details, map[string]any{"spent_usd": dailySpent, "budget_usd": g.config.DailyBudgetUSD})))
	}
	if g.config.MonthlyBudgetUSD > 0 && monthlySpent >= g.config.MonthlyBudgetUSD*g.config.hardLimitFraction() {
		return reject("budget", nexuserr.New(nexuserr.KindBudgetExceeded, "monthly budget exhausted").
			WithDetails(merge(details, map[string]any{"spent_usd": monthlySpent, "budget_usd": g.config.MonthlyBudgetUSD})))
	}

	if !g.minute.Allow(projectID) {
		return reject("rate_limit", nexuserr.New(nexuserr.KindRateLimitExceeded, "trailing-minute request rate exceeded").WithDetails(details))
	}
	if !g.hour.Allow(projectID) {
		return reject("rate_limit", nexuserr.New(nexuserr.KindRateLimitExceeded, "trailing-hour request rate exceeded").WithDetails(details))
	}

	return nil
}

func (g *Guard) turnsFor(sessionID string) int {
	g.sessions.mu.Lock()
	defer g.sessions.mu.Unlock()
	return g.sessions.turns[sessionID]
}

func (g *Guard) spentSince(projectID string, since time.Time) float64 {
	var total float64
	for _, r := range g.tracker.GetRecentRecords(0) {
		if r.UserID == projectID && r.Timestamp.After(since) {
			total += r.Cost
		}
	}
	return total
}

// RecordUsage writes a usage record for a completed turn and bumps the
// session's turn counter. It is idempotent per traceId: a second call with
// the same traceId is a no-op, so a provider retry that re-emits usage
// after a prior partial stream does not double-charge the project.
func (g *Guard) RecordUsage(ctx context.Context, projectID, sessionID, traceID string, inputTokens, outputTokens int64, model string) float64 {
	if _, seen := g.dedup.LoadOrStore(traceID, struct{}{}); seen {
		return 0
	}

	cost := pricing.CostOf(model, int(inputTokens), int(outputTokens))
	g.tracker.Record(usage.Record{
		ID:       traceID,
		Provider: "",
		Model:    model,
		UserID:   projectID,
		Usage:    usage.Usage{InputTokens: inputTokens, OutputTokens: outputTokens},
		Cost:     cost,
	})

	g.sessions.mu.Lock()
	g.sessions.turns[sessionID]++
	g.sessions.mu.Unlock()

	return cost
}

func merge(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
