package agent

import (
	"bytes"
	"context"
	"testing"

	"github.com/nexus-core/nexus/internal/promptassembler"
	"github.com/nexus-core/nexus/pkg/models"
)

func TestNewExecutionTraceAppendsRunStarted(t *testing.T) {
	trace := NewExecutionTrace("run-1", nil)

	if trace.Status() != TraceStatusRunning {
		t.Fatalf("Status() = %v, want running", trace.Status())
	}
	events := trace.Events()
	if len(events) != 1 || events[0].Type != models.AgentEventRunStarted {
		t.Fatalf("expected a single run.started event, got %+v", events)
	}
	if events[0].Sequence != 1 {
		t.Fatalf("Sequence = %d, want 1", events[0].Sequence)
	}
}

func TestExecutionTraceRecordTurnAccumulates(t *testing.T) {
	trace := NewExecutionTrace("run-1", nil)

	trace.RecordTurn(100, 50, 0.01)
	trace.RecordTurn(200, 75, 0.02)

	if trace.TurnCount() != 2 {
		t.Fatalf("TurnCount() = %d, want 2", trace.TurnCount())
	}
	if trace.TotalInputTokens() != 300 {
		t.Fatalf("TotalInputTokens() = %d, want 300", trace.TotalInputTokens())
	}
	if trace.TotalOutputTokens() != 125 {
		t.Fatalf("TotalOutputTokens() = %d, want 125", trace.TotalOutputTokens())
	}
	if trace.TotalTokensUsed() != 425 {
		t.Fatalf("TotalTokensUsed() = %d, want 425", trace.TotalTokensUsed())
	}
	if got, want := trace.TotalCostUSD(), 0.03; got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("TotalCostUSD() = %v, want %v", got, want)
	}
}

func TestExecutionTraceFinishIsOneWay(t *testing.T) {
	trace := NewExecutionTrace("run-1", nil)

	trace.Finish(TraceStatusCompleted)
	if trace.Status() != TraceStatusCompleted {
		t.Fatalf("Status() = %v, want completed", trace.Status())
	}

	trace.Finish(TraceStatusFailed)
	if trace.Status() != TraceStatusCompleted {
		t.Fatalf("Finish after terminal changed status to %v, want it to stay completed", trace.Status())
	}

	events := trace.Events()
	finishedCount := 0
	for _, e := range events {
		if e.Type == models.AgentEventRunFinished {
			finishedCount++
		}
	}
	if finishedCount != 1 {
		t.Fatalf("expected exactly one run.finished event, got %d", finishedCount)
	}
}

func TestExecutionTraceFinishEventTypeMatchesStatus(t *testing.T) {
	cases := []struct {
		status TraceStatus
		want   models.AgentEventType
	}{
		{TraceStatusCompleted, models.AgentEventRunFinished},
		{TraceStatusMaxTurns, models.AgentEventRunFinished},
		{TraceStatusCancelled, models.AgentEventRunCancelled},
		{TraceStatusFailed, models.AgentEventRunError},
		{TraceStatusBudgetExceeded, models.AgentEventRunError},
	}
	for _, tc := range cases {
		trace := NewExecutionTrace("run-1", nil)
		trace.Finish(tc.status)
		events := trace.Events()
		last := events[len(events)-1]
		if last.Type != tc.want {
			t.Errorf("status %v: last event type = %v, want %v", tc.status, last.Type, tc.want)
		}
	}
}

func TestExecutionTraceCarriesPromptSnapshot(t *testing.T) {
	snapshot := promptassembler.CreateSnapshot(promptassembler.ActiveLayers{
		Identity: promptassembler.Layer{ID: "id-1", Version: 1},
	}, "", "")
	trace := NewExecutionTrace("run-1", &snapshot)

	got := trace.PromptSnapshot()
	if got == nil || got.IdentityLayerID != "id-1" {
		t.Fatalf("PromptSnapshot() = %+v, want identity id-1", got)
	}
}

func TestExecutionTracePersistWritesThroughTracePlugin(t *testing.T) {
	var buf bytes.Buffer
	plugin := NewTracePlugin(&buf, "run-1")

	trace := NewExecutionTrace("run-1", nil)
	trace.RecordTurn(10, 5, 0.001)
	trace.Finish(TraceStatusCompleted)
	trace.Persist(context.Background(), plugin)

	reader, err := NewTraceReader(&buf)
	if err != nil {
		t.Fatalf("NewTraceReader: %v", err)
	}
	events, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(events) != len(trace.Events()) {
		t.Fatalf("persisted %d events, want %d", len(events), len(trace.Events()))
	}
}
