package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/nexus-core/nexus/internal/nexuserr"
)

type toolSummary struct {
	ID           string          `json:"id"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}

// categoryOf derives a tool's catalog category from its name, following the
// "mcp:" namespace convention internal/agent/tool_registry.go already uses
// to distinguish MCP-provided tools (matchesToolPatterns's "mcp:*" group)
// from built-ins. No separate Category field exists on the Tool interface,
// so the namespace prefix is the category.
func categoryOf(name string) string {
	if idx := strings.Index(name, ":"); idx > 0 {
		return name[:idx]
	}
	return "core"
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := s.Tools.AsLLMTools()
	out := make([]toolSummary, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolSummary{
			ID:          t.Name(),
			Description: t.Description(),
			Category:    categoryOf(t.Name()),
			InputSchema: t.Schema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tool, ok := s.Tools.Get(id)
	if !ok {
		writeErr(w, s.Logger, notFoundErr("tool", id))
		return
	}
	writeData(w, http.StatusOK, toolSummary{
		ID:          tool.Name(),
		Description: tool.Description(),
		Category:    categoryOf(tool.Name()),
		InputSchema: tool.Schema(),
	})
}

func (s *Server) handleToolCategories(w http.ResponseWriter, r *http.Request) {
	seen := map[string]bool{}
	for _, t := range s.Tools.AsLLMTools() {
		seen[categoryOf(t.Name())] = true
	}
	categories := make([]string, 0, len(seen))
	for c := range seen {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	writeData(w, http.StatusOK, categories)
}

func (s *Server) handleGetAgentTools(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.Agents.Get(r.Context(), id)
	if err != nil {
		writeErr(w, s.Logger, err)
		return
	}
	writeData(w, http.StatusOK, a.Tools)
}

type putAgentToolsRequest struct {
	Tools []string `json:"tools"`
}

func (s *Server) handlePutAgentTools(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req putAgentToolsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationErr(w, "invalid JSON body", nil)
		return
	}

	var unknown []string
	for _, name := range req.Tools {
		if _, ok := s.Tools.Get(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		writeErr(w, s.Logger, nexuserr.New(nexuserr.KindValidation, "unknown tool IDs").
			WithDetails(map[string]any{"code": "UNKNOWN_TOOLS", "tools": unknown}))
		return
	}

	if err := s.Agents.SetTools(r.Context(), id, req.Tools); err != nil {
		writeErr(w, s.Logger, err)
		return
	}
	writeData(w, http.StatusOK, req.Tools)
}
