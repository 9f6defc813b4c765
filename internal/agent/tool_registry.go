package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nexus-core/nexus/internal/nexuserr"
	"github.com/nexus-core/nexus/internal/tools/policy"
	"github.com/nexus-core/nexus/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolRegistry manages available tools with thread-safe registration and lookup.
// Tools are registered by name and can be retrieved for execution during agent conversations.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas sync.Map // tool name -> *jsonschema.Schema, compiled lazily from Tool.Schema()
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry by its name.
// If a tool with the same name already exists, it is replaced.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.schemas.Delete(tool.Name())
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	r.schemas.Delete(name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// AsLLMTools returns all registered tools as a slice for passing to LLM providers.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// ResolveParams bundles the inputs needed to validate a model-proposed tool
// call before it is allowed to execute.
type ResolveParams struct {
	ToolCallID string
	ToolName   string
	Input      json.RawMessage
	Resolver   *policy.Resolver
	Policy     *policy.Policy
}

// Resolve runs the ordered validity checks a tool call must pass before
// execution: policy permission (TOOL_NOT_ALLOWED), tool existence
// (TOOL_HALLUCINATION), then input schema conformance
// (TOOL_INPUT_VALIDATION). Approval gating and execution happen afterward,
// driven by the caller. On success it returns the resolved Tool.
func (r *ToolRegistry) Resolve(ctx context.Context, p ResolveParams) (Tool, error) {
	details := map[string]any{"tool": p.ToolName, "tool_call_id": p.ToolCallID}

	if len(p.ToolName) > MaxToolNameLength {
		return nil, nexuserr.New(nexuserr.KindToolInputValidation, "tool name exceeds maximum length").WithDetails(details)
	}
	if len(p.Input) > MaxToolParamsSize {
		return nil, nexuserr.New(nexuserr.KindToolInputValidation, "tool parameters exceed maximum size").WithDetails(details)
	}

	if p.Resolver != nil && p.Policy != nil && !p.Resolver.IsAllowed(p.Policy, p.ToolName) {
		return nil, nexuserr.New(nexuserr.KindToolNotAllowed, "tool not allowed by policy: "+p.ToolName).WithDetails(details)
	}

	tool, ok := r.Get(p.ToolName)
	if !ok {
		return nil, nexuserr.New(nexuserr.KindToolHallucination, "model called an undeclared tool: "+p.ToolName).WithDetails(details)
	}

	if err := r.validateInput(tool, p.Input); err != nil {
		return nil, nexuserr.Wrap(nexuserr.KindToolInputValidation, err, "tool input failed schema validation: "+p.ToolName).WithDetails(details)
	}

	return tool, nil
}

// validateInput checks params against the tool's declared JSON Schema, if any.
func (r *ToolRegistry) validateInput(tool Tool, params json.RawMessage) error {
	schema := tool.Schema()
	if len(schema) == 0 {
		return nil
	}

	compiled, err := r.compiledSchema(tool.Name(), schema)
	if err != nil {
		return fmt.Errorf("tool %q declares an invalid schema: %w", tool.Name(), err)
	}

	payload := params
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("tool input is not valid JSON: %w", err)
	}
	return compiled.Validate(doc)
}

func (r *ToolRegistry) compiledSchema(toolName string, schema json.RawMessage) (*jsonschema.Schema, error) {
	if cached, ok := r.schemas.Load(toolName); ok {
		if cs, ok := cached.(*jsonschema.Schema); ok {
			return cs, nil
		}
	}
	compiled, err := jsonschema.CompileString(toolName+".schema.json", string(schema))
	if err != nil {
		return nil, err
	}
	r.schemas.Store(toolName, compiled)
	return compiled, nil
}

// Execute runs a tool by name with the given JSON parameters without the
// ordered Resolve checks. Used by callers (e.g. async job runners) that have
// already resolved the call. Returns a TOOL_HALLUCINATION error if name is
// not registered.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, nexuserr.New(nexuserr.KindToolHallucination, "tool not found: "+name).WithDetails(map[string]any{"tool": name})
	}
	return tool.Execute(ctx, params)
}

func filterToolsByPolicy(resolver *policy.Resolver, toolPolicy *policy.Policy, tools []Tool) []Tool {
	if resolver == nil || toolPolicy == nil {
		return tools
	}
	filtered := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		if resolver.IsAllowed(toolPolicy, tool.Name()) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

func normalizeToolName(name string, resolver *policy.Resolver) string {
	if resolver == nil {
		return policy.NormalizeTool(name)
	}
	return resolver.CanonicalName(name)
}

func matchesToolPatterns(patterns []string, toolName string, resolver *policy.Resolver) bool {
	if len(patterns) == 0 {
		return false
	}
	name := normalizeToolName(toolName, resolver)
	for _, pattern := range patterns {
		if matchToolPattern(normalizeToolName(pattern, resolver), name) {
			return true
		}
	}
	return false
}

func matchToolPattern(pattern, toolName string) bool {
	if pattern == "" || toolName == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if pattern == "mcp:*" {
		return strings.HasPrefix(toolName, "mcp:")
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(toolName, prefix)
	}
	return pattern == toolName
}

func guardToolResult(guard ToolResultGuard, toolName string, result models.ToolResult, resolver *policy.Resolver) models.ToolResult {
	return guard.Apply(toolName, result, resolver)
}

func guardToolResults(guard ToolResultGuard, toolCalls []models.ToolCall, results []models.ToolResult, resolver *policy.Resolver) []models.ToolResult {
	if !guard.active() {
		return results
	}
	if len(results) == 0 {
		return results
	}

	namesByID := make(map[string]string, len(toolCalls))
	for _, tc := range toolCalls {
		if tc.ID != "" {
			namesByID[tc.ID] = tc.Name
		}
	}

	guarded := make([]models.ToolResult, len(results))
	for i, res := range results {
		toolName := namesByID[res.ToolCallID]
		if toolName == "" && i < len(toolCalls) {
			toolName = toolCalls[i].Name
		}
		guarded[i] = guardToolResult(guard, toolName, res, resolver)
	}
	return guarded
}
