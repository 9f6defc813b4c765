package httpapi

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/nexus-core/nexus/internal/agent"
	"github.com/nexus-core/nexus/internal/sessions"
)

// stubTool is a minimal agent.Tool for exercising the §6 Tool APIs without
// a real tool implementation.
type stubTool struct {
	name string
}

func (t *stubTool) Name() string            { return t.name }
func (t *stubTool) Description() string     { return "stub tool for tests" }
func (t *stubTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *stubTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "ok"}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer(nil, sessions.NewMemoryStore(), nil, nil, nil)
	srv.Tools.Register(&stubTool{name: "web_search"})
	srv.Tools.Register(&stubTool{name: "mcp:github_search"})
	return srv
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v, body=%s", err, rec.Body.String())
	}
	return env
}
