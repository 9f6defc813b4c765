// Package promptassembler composes a turn's system prompt from a project's
// active prompt layers plus tool documentation and retrieved memories, and
// produces the audit snapshot recorded on every Execution Trace.
package promptassembler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/nexus-core/nexus/internal/nexuserr"
)

// LayerType is one of the three prompt layer kinds a project must have an
// active version of before a turn can run.
type LayerType string

const (
	LayerIdentity     LayerType = "identity"
	LayerInstructions LayerType = "instructions"
	LayerSafety       LayerType = "safety"
)

// Layer is a single versioned prompt layer. Exactly one Layer per
// (projectID, Type) may have IsActive set at a time.
type Layer struct {
	ID        string
	ProjectID string
	Type      LayerType
	Version   int
	Content   string
	IsActive  bool
}

// ActiveLayers is the {identity, instructions, safety} triple resolved for a
// project, ready to feed BuildPrompt and CreateSnapshot.
type ActiveLayers struct {
	Identity     Layer
	Instructions Layer
	Safety       Layer
}

// PromptSnapshot is the immutable record of which layer versions and
// tool-docs/runtime-context hashes composed a trace's system prompt. It is
// written into every ExecutionTrace and enables exact replay.
type PromptSnapshot struct {
	IdentityLayerID        string
	IdentityVersion         int
	InstructionsLayerID     string
	InstructionsVersion     int
	SafetyLayerID           string
	SafetyVersion           int
	ToolDocsHash            string
	RuntimeContextHash      string
}

// BuildParams are the sections BuildPrompt concatenates, in fixed order.
type BuildParams struct {
	Identity         string
	Instructions     string
	Safety           string
	ToolDescriptions []ToolDescription
	RetrievedMemories []RetrievedMemory
}

// ToolDescription is one line of the Tools section: "name: description".
type ToolDescription struct {
	Name        string
	Description string
}

// RetrievedMemory is one ranked snippet surfaced under Retrieved Context.
type RetrievedMemory struct {
	Content    string
	Category   string
	Importance float64
	Similarity float64
}

const (
	sectionIdentity     = "# Identity"
	sectionInstructions = "# Instructions"
	sectionSafety       = "# Safety"
	sectionTools        = "# Tools"
	sectionRetrieved    = "# Retrieved Context"
)

// BuildPrompt concatenates sections in the fixed order Identity →
// Instructions → Safety → Tools → Retrieved Context, each under a stable
// delimiter heading. A section with empty content is omitted entirely.
// Whitespace is normalized exactly once (trimmed per line, single blank line
// between sections) so identical inputs always produce a byte-identical
// result.
func BuildPrompt(p BuildParams) string {
	var sections []string

	if s := normalizeSection(p.Identity); s != "" {
		sections = append(sections, sectionIdentity+"\n"+s)
	}
	if s := normalizeSection(p.Instructions); s != "" {
		sections = append(sections, sectionInstructions+"\n"+s)
	}
	if s := normalizeSection(p.Safety); s != "" {
		sections = append(sections, sectionSafety+"\n"+s)
	}
	if toolDocs := ToolDocsSection(p.ToolDescriptions); toolDocs != "" {
		sections = append(sections, sectionTools+"\n"+toolDocs)
	}
	if retrieved := retrievedSection(p.RetrievedMemories); retrieved != "" {
		sections = append(sections, sectionRetrieved+"\n"+retrieved)
	}

	return strings.Join(sections, "\n\n")
}

// ToolDocsSection renders the Tools section body (without its heading) as
// one "name: description" line per tool, in the order given. CreateSnapshot
// hashes exactly this string, so callers that need toolDocsHash to match a
// prompt built via BuildPrompt must pass the same slice to both.
func ToolDocsSection(tools []ToolDescription) string {
	if len(tools) == 0 {
		return ""
	}
	lines := make([]string, 0, len(tools))
	for _, t := range tools {
		lines = append(lines, fmt.Sprintf("%s: %s", strings.TrimSpace(t.Name), strings.TrimSpace(t.Description)))
	}
	return strings.Join(lines, "\n")
}

func retrievedSection(memories []RetrievedMemory) string {
	if len(memories) == 0 {
		return ""
	}
	lines := make([]string, 0, len(memories))
	for _, m := range memories {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		lines = append(lines, content)
	}
	return strings.Join(lines, "\n\n")
}

func normalizeSection(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// CreateSnapshot builds the PromptSnapshot for a turn from the resolved
// active layers plus the exact tool-docs section and runtime context string
// that went into the assembled prompt. toolDocsHash and runtimeContextHash
// are lower-hex SHA-256; an empty runtimeContext hashes to the standard
// SHA-256 of the empty string.
func CreateSnapshot(layers ActiveLayers, toolDocsSection, runtimeContext string) PromptSnapshot {
	return PromptSnapshot{
		IdentityLayerID:     layers.Identity.ID,
		IdentityVersion:     layers.Identity.Version,
		InstructionsLayerID: layers.Instructions.ID,
		InstructionsVersion: layers.Instructions.Version,
		SafetyLayerID:       layers.Safety.ID,
		SafetyVersion:       layers.Safety.Version,
		ToolDocsHash:        sha256Hex(toolDocsSection),
		RuntimeContextHash:  sha256Hex(runtimeContext),
	}
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// LayerStore is the pluggable backend resolveActiveLayers reads from. An
// in-memory implementation (MemoryLayerStore) is provided for tests and
// local runs, matching internal/sessions.MemoryStore's role for sessions.
type LayerStore interface {
	ActiveLayer(projectID string, layerType LayerType) (Layer, bool)
}

// ResolveActiveLayers loads the unique active identity/instructions/safety
// layer for a project. If any layer type has no active version, it fails
// with NO_ACTIVE_PROMPT.
func ResolveActiveLayers(store LayerStore, projectID string) (ActiveLayers, error) {
	identity, ok := store.ActiveLayer(projectID, LayerIdentity)
	if !ok {
		return ActiveLayers{}, missingLayer(projectID, LayerIdentity)
	}
	instructions, ok := store.ActiveLayer(projectID, LayerInstructions)
	if !ok {
		return ActiveLayers{}, missingLayer(projectID, LayerInstructions)
	}
	safety, ok := store.ActiveLayer(projectID, LayerSafety)
	if !ok {
		return ActiveLayers{}, missingLayer(projectID, LayerSafety)
	}
	return ActiveLayers{Identity: identity, Instructions: instructions, Safety: safety}, nil
}

func missingLayer(projectID string, layerType LayerType) error {
	return nexuserr.New(nexuserr.KindNoActivePrompt, fmt.Sprintf("no active %s layer for project", layerType)).
		WithDetails(map[string]any{"project_id": projectID, "layer_type": string(layerType)})
}

// MemoryLayerStore is an in-memory LayerStore keyed by (projectID, type),
// holding only the currently-active layer per key — the same "last write
// wins, one active row per key" shape as internal/sessions.MemoryStore's
// byKey index.
type MemoryLayerStore struct {
	mu     sync.RWMutex
	active map[string]Layer
}

// NewMemoryLayerStore creates an empty in-memory layer store.
func NewMemoryLayerStore() *MemoryLayerStore {
	return &MemoryLayerStore{active: make(map[string]Layer)}
}

// SetActive installs layer as the active layer for its (ProjectID, Type),
// replacing whichever layer was previously active for that key.
func (s *MemoryLayerStore) SetActive(layer Layer) {
	layer.IsActive = true
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[layerKey(layer.ProjectID, layer.Type)] = layer
}

// ActiveLayer implements LayerStore.
func (s *MemoryLayerStore) ActiveLayer(projectID string, layerType LayerType) (Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	layer, ok := s.active[layerKey(projectID, layerType)]
	return layer, ok
}

func layerKey(projectID string, layerType LayerType) string {
	return projectID + ":" + string(layerType)
}
