package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nexus-core/nexus/internal/agent"
	"github.com/nexus-core/nexus/internal/observability"
	"github.com/nexus-core/nexus/internal/sessions"
	"github.com/nexus-core/nexus/internal/tools/policy"
	"github.com/nexus-core/nexus/pkg/models"
	"go.opentelemetry.io/otel/trace"
)

// AgentStore resolves the Agent a project scopes to and its assigned tool
// allow-list, backing the §6 Tool APIs' per-agent endpoints. Session/
// Approval/Tool CRUD otherwise flows straight through sessions.Store /
// agent.ApprovalGate / agent.ToolRegistry, but no store for the Agent entity
// itself exists elsewhere in the engine, so httpapi owns this one interface
// and its in-memory default implementation.
type AgentStore interface {
	Get(ctx context.Context, id string) (*models.Agent, error)
	SetTools(ctx context.Context, id string, tools []string) error
}

// MemoryAgentStore is the default in-memory AgentStore, following the same
// mutex-protected-map shape as internal/sessions.MemoryStore and
// internal/promptassembler.MemoryLayerStore.
type MemoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
}

// NewMemoryAgentStore creates an empty in-memory AgentStore.
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{agents: make(map[string]*models.Agent)}
}

// Put registers or replaces an agent, for test and bootstrap seeding.
func (s *MemoryAgentStore) Put(a *models.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.agents[a.ID] = &cp
}

// Get implements AgentStore.
func (s *MemoryAgentStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, notFoundErr("agent", id)
	}
	cp := *a
	return &cp, nil
}

// SetTools implements AgentStore.
func (s *MemoryAgentStore) SetTools(ctx context.Context, id string, tools []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return notFoundErr("agent", id)
	}
	a.Tools = tools
	return nil
}

// Server wires the engine's Go interfaces into the §6 HTTP surface. Every
// field is a dependency the handlers call through directly; Server holds no
// business logic of its own beyond request decoding/encoding and the §7
// error-code translation in envelope.go.
type Server struct {
	Logger     *slog.Logger
	Loop       *agent.AgenticLoop
	Sessions   sessions.Store
	Approvals  *agent.ApprovalGate
	Tools      *agent.ToolRegistry
	Resolver   *policy.Resolver
	Agents     AgentStore
	Auth       *TokenVerifier
	Webhooks   WebhookConfig
	traces     *traceIndex

	// webhookLocker serializes concurrent inbound webhook deliveries for the
	// same channel conversation, the same per-session exclusion
	// internal/sessions.Locker gives the rest of the engine.
	webhookLocker sessions.Locker

	// Metrics records request/turn/tool counters and histograms when set.
	// Nil disables instrumentation entirely (same nil-disables-feature
	// idiom as Auth/ApprovalGate).
	Metrics *observability.Metrics

	// Tracer wraps every request in an OpenTelemetry span when set. A nil
	// Tracer disables tracing; observability.NewTracer with an empty
	// endpoint already returns a no-op tracer for the common case where
	// callers want spans created but never exported.
	Tracer *observability.Tracer
}

// NewServer builds a Server. Sessions/Tools/Approvals/Agents default to
// working in-memory implementations when left nil so the zero value is
// still a usable (if non-persistent) server for tests and local runs.
func NewServer(loop *agent.AgenticLoop, store sessions.Store, approvals *agent.ApprovalGate, tools *agent.ToolRegistry, resolver *policy.Resolver) *Server {
	if store == nil {
		store = sessions.NewMemoryStore()
	}
	if tools == nil {
		tools = agent.NewToolRegistry()
	}
	if approvals == nil {
		approvals = agent.NewApprovalGate()
	}
	if resolver == nil {
		resolver = policy.NewResolver()
	}
	s := &Server{
		Logger:        slog.Default(),
		Loop:          loop,
		Sessions:      store,
		Approvals:     approvals,
		Tools:         tools,
		Resolver:      resolver,
		Agents:        NewMemoryAgentStore(),
		traces:        newTraceIndex(),
		webhookLocker: sessions.NewLocalLocker(30 * time.Second),
	}
	return s
}

// Mux builds the ServeMux routing table for the §6 surface. Pattern-based
// routing (Go 1.22's "METHOD /path/{wild}" ServeMux syntax) is used
// throughout; this is still the minimal net/http ServeMux the Non-goals
// commit to, not a third-party router.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	mux.HandleFunc("GET /api/v1/chat/stream", s.handleChatStream)

	mux.HandleFunc("POST /projects/{id}/sessions", s.requireAuth(s.handleCreateSession))
	mux.HandleFunc("GET /projects/{id}/sessions", s.requireAuth(s.handleListSessions))
	mux.HandleFunc("GET /sessions/{id}", s.requireAuth(s.handleGetSession))
	mux.HandleFunc("PATCH /sessions/{id}/status", s.requireAuth(s.handlePatchSessionStatus))
	mux.HandleFunc("GET /sessions/{id}/messages", s.requireAuth(s.handleListMessages))

	mux.HandleFunc("GET /projects/{id}/approvals/pending", s.handleListPendingApprovals)
	mux.HandleFunc("GET /approvals/{id}", s.handleGetApproval)
	mux.HandleFunc("POST /approvals/{id}/resolve", s.requireAuth(s.handleResolveApproval))

	mux.HandleFunc("GET /tools", s.handleListTools)
	mux.HandleFunc("GET /tools/{id}", s.handleGetTool)
	mux.HandleFunc("GET /tools/categories", s.handleToolCategories)
	mux.HandleFunc("GET /agents/{id}/tools", s.handleGetAgentTools)
	mux.HandleFunc("PUT /agents/{id}/tools", s.handlePutAgentTools)

	mux.HandleFunc("POST /webhooks/chatwoot", s.handleChatwootWebhook)
	mux.HandleFunc("GET /webhooks/whatsapp/{id}/verify", s.handleWhatsAppVerify)
	mux.HandleFunc("POST /webhooks/{provider}/{id}", s.handleInboundWebhook)

	return mux
}

// instrumented wraps mux with HTTP request metrics and tracing, applied
// once around the whole routing table rather than per-handler. Either a nil
// Metrics or nil Tracer skips that half of the instrumentation.
func (s *Server) instrumented(mux *http.ServeMux) http.Handler {
	if s.Metrics == nil && s.Tracer == nil {
		return mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if s.Tracer != nil {
			ctx, span := s.Tracer.Start(r.Context(), r.Method+" "+r.URL.Path, trace.SpanKindServer)
			defer span.End()
			r = r.WithContext(ctx)
		}

		mux.ServeHTTP(rec, r)

		if s.Metrics != nil {
			s.Metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start).Seconds())
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Handler returns the fully instrumented HTTP handler — Mux() wrapped with
// request metrics/tracing when Server.Metrics/Tracer are set. Callers that
// don't need instrumentation can use Mux() directly.
func (s *Server) Handler() http.Handler {
	return s.instrumented(s.Mux())
}
