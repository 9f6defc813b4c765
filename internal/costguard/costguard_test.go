package costguard

import (
	"context"
	"testing"

	"github.com/nexus-core/nexus/internal/nexuserr"
)

func TestPrecheckTokenLimitExceeded(t *testing.T) {
	g := New(Config{MaxTokensPerTurn: 100})
	err := g.Precheck(context.Background(), "proj", "sess", 101)
	if !nexuserr.Is(err, nexuserr.KindTokenLimitExceeded) {
		t.Fatalf("got %v, want TOKEN_LIMIT_EXCEEDED", err)
	}
}

func TestPrecheckTurnLimitExceeded(t *testing.T) {
	g := New(Config{MaxTurnsPerSession: 1})
	g.RecordUsage(context.Background(), "proj", "sess", "trace-1", 10, 10, "test-model")

	err := g.Precheck(context.Background(), "proj", "sess", 10)
	if !nexuserr.Is(err, nexuserr.KindTurnLimitExceeded) {
		t.Fatalf("got %v, want TURN_LIMIT_EXCEEDED", err)
	}
}

func TestPrecheckBudgetExceeded(t *testing.T) {
	g := New(Config{DailyBudgetUSD: 0.01, HardLimitPercent: 100})

	g.RecordUsage(context.Background(), "proj", "sess", "trace-1", 1_000_000, 0, "unregistered-model-for-budget-test")

	err := g.Precheck(context.Background(), "proj", "sess", 1)
	if !nexuserr.Is(err, nexuserr.KindBudgetExceeded) {
		t.Fatalf("got %v, want BUDGET_EXCEEDED", err)
	}
}

func TestPrecheckRateLimitExceeded(t *testing.T) {
	g := New(Config{MaxRequestsPerMinute: 1})
	ctx := context.Background()

	if err := g.Precheck(ctx, "proj", "sess", 1); err != nil {
		t.Fatalf("first precheck: %v", err)
	}
	err := g.Precheck(ctx, "proj", "sess", 1)
	if !nexuserr.Is(err, nexuserr.KindRateLimitExceeded) {
		t.Fatalf("got %v, want RATE_LIMIT_EXCEEDED", err)
	}
}

func TestRecordUsageIsIdempotentByTraceID(t *testing.T) {
	g := New(Config{})
	ctx := context.Background()

	first := g.RecordUsage(ctx, "proj", "sess", "trace-1", 1000, 1000, "test-model")
	second := g.RecordUsage(ctx, "proj", "sess", "trace-1", 1000, 1000, "test-model")

	if first == 0 {
		t.Fatal("expected first RecordUsage to compute a nonzero cost")
	}
	if second != 0 {
		t.Fatalf("expected duplicate traceId to be a no-op, got cost %f", second)
	}
	if got := g.turnsFor("sess"); got != 1 {
		t.Fatalf("got %d turns recorded, want exactly 1 (dedup should not double-count)", got)
	}
}
