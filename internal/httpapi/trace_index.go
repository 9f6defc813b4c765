package httpapi

import (
	"sync"

	"github.com/nexus-core/nexus/internal/agent"
)

// traceOutcome maps a terminal TraceStatus to the ChatTurns/cost-guard
// "outcome" metric label.
func traceOutcome(status agent.TraceStatus) string {
	if status == agent.TraceStatusCompleted {
		return "success"
	}
	return "error"
}

// traceIndex holds the most recent ExecutionTrace per session, populated by
// agent.LoopConfig.OnTrace. handleChat reads from it after draining the
// response channel to fill in the §6 chat response's traceId/usage fields,
// since agent.AgenticLoop.Run's channel only streams ResponseChunks and
// never exposes the trace object directly.
type traceIndex struct {
	mu     sync.Mutex
	latest map[string]*agent.ExecutionTrace
}

func newTraceIndex() *traceIndex {
	return &traceIndex{latest: make(map[string]*agent.ExecutionTrace)}
}

func (idx *traceIndex) record(sessionID string, trace *agent.ExecutionTrace) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.latest[sessionID] = trace
}

func (idx *traceIndex) take(sessionID string) *agent.ExecutionTrace {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	trace := idx.latest[sessionID]
	delete(idx.latest, sessionID)
	return trace
}

// OnTrace returns the agent.LoopConfig.OnTrace callback wired to this
// server's index. Callers building the LoopConfig passed to
// agent.NewAgenticLoop should set OnTrace: server.OnTrace(). When
// Server.Metrics is set, every trace also records a ChatTurns outcome and,
// if the provider reported usage, an LLM request observation.
func (s *Server) OnTrace() func(sessionID string, trace *agent.ExecutionTrace) {
	return func(sessionID string, trace *agent.ExecutionTrace) {
		s.traces.record(sessionID, trace)
		if s.Metrics == nil {
			return
		}
		s.Metrics.RecordChatTurn(traceOutcome(trace.Status()))
		if trace.TotalInputTokens() > 0 || trace.TotalOutputTokens() > 0 {
			provider := "unknown"
			if s.Loop != nil && s.Loop.Provider() != nil {
				provider = s.Loop.Provider().Name()
			}
			s.Metrics.RecordLLMRequest(provider, provider,
				float64(trace.TotalDurationMs())/1000,
				trace.TotalInputTokens(), trace.TotalOutputTokens(), trace.TotalCostUSD())
		}
	}
}
