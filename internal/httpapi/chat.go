package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nexus-core/nexus/internal/agent"
	"github.com/nexus-core/nexus/pkg/models"
)

const (
	chatMessageMinLen = 1
	chatMessageMaxLen = 100_000
)

type chatRequest struct {
	ProjectID string         `json:"projectId"`
	SessionID string         `json:"sessionId,omitempty"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type chatToolCall struct {
	ToolID string          `json:"toolId"`
	Input  json.RawMessage `json:"input"`
	Result string          `json:"result"`
}

type chatUsage struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUSD"`
}

type chatResponse struct {
	SessionID string         `json:"sessionId"`
	TraceID   string         `json:"traceId"`
	Response  string         `json:"response"`
	ToolCalls []chatToolCall `json:"toolCalls"`
	Usage     chatUsage      `json:"usage"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationErr(w, "invalid JSON body", nil)
		return
	}

	var issues []issue
	if req.ProjectID == "" {
		issues = append(issues, issue{Path: "projectId", Message: "required"})
	}
	if l := len(req.Message); l < chatMessageMinLen || l > chatMessageMaxLen {
		issues = append(issues, issue{Path: "message", Message: "must be 1-100000 characters"})
	}
	if len(issues) > 0 {
		writeValidationErr(w, "request validation failed", issues)
		return
	}

	session, err := s.resolveChatSession(r.Context(), req)
	if err != nil {
		writeErr(w, s.Logger, err)
		return
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   session.Channel,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   req.Message,
		Metadata:  req.Metadata,
		CreatedAt: time.Now(),
	}

	chunks, err := s.Loop.Run(r.Context(), session, msg)
	if err != nil {
		writeErr(w, s.Logger, err)
		return
	}

	resp, err := s.drainChat(session.ID, chunks)
	if err != nil {
		writeErr(w, s.Logger, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

// drainChat reads every ResponseChunk off chunks until the run's goroutine
// closes it, assembling the §6 chat response. agent.AgenticLoop.Run's
// callback ordering guarantees LoopConfig.OnTrace (wired to s.traces.record)
// runs before the channel closes, so the trace is always present by the
// time this function returns, when a provider call actually completed.
func (s *Server) drainChat(sessionID string, chunks <-chan *agent.ResponseChunk) (*chatResponse, error) {
	var text string
	var toolCalls []chatToolCall
	var runErr error

	for chunk := range chunks {
		if chunk.Error != nil {
			runErr = chunk.Error
			continue
		}
		if chunk.Text != "" {
			text += chunk.Text
		}
		if chunk.ToolResult != nil {
			toolCalls = append(toolCalls, chatToolCall{
				ToolID: chunk.ToolResult.ToolCallID,
				Result: chunk.ToolResult.Content,
			})
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	resp := &chatResponse{SessionID: sessionID, Response: text, ToolCalls: toolCalls}
	if trace := s.traces.take(sessionID); trace != nil {
		resp.TraceID = trace.ID()
		resp.Usage = chatUsage{
			InputTokens:  trace.TotalInputTokens(),
			OutputTokens: trace.TotalOutputTokens(),
			CostUSD:      trace.TotalCostUSD(),
		}
	}
	return resp, nil
}

func (s *Server) resolveChatSession(ctx context.Context, req chatRequest) (*models.Session, error) {
	if req.SessionID != "" {
		return s.Sessions.Get(ctx, req.SessionID)
	}
	key := req.ProjectID + ":api:" + uuid.NewString()
	return s.Sessions.GetOrCreate(ctx, key, req.ProjectID, models.ChannelAPI, key)
}

// chatStreamUpgrader matches the teacher's gateway websocket upgrader
// settings (internal/gateway/ws_control_plane.go): generous buffers for
// chat payloads, origin checks left to the deployment's reverse proxy.
var chatStreamUpgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type wsDeltaFrame struct {
	Type  string `json:"type"`
	Delta string `json:"delta,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleChatStream upgrades the chat endpoint to a websocket and pushes
// content_delta frames live as the provider streams text, the optional WS
// path §6's DOMAIN STACK entry for gorilla/websocket names.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.Unmarshal([]byte(r.URL.Query().Get("request")), &req); err != nil || req.ProjectID == "" || req.Message == "" {
		writeValidationErr(w, "request query parameter must encode a valid chat request", nil)
		return
	}

	session, err := s.resolveChatSession(r.Context(), req)
	if err != nil {
		writeErr(w, s.Logger, err)
		return
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   session.Channel,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   req.Message,
		CreatedAt: time.Now(),
	}
	chunks, err := s.Loop.Run(r.Context(), session, msg)
	if err != nil {
		writeErr(w, s.Logger, err)
		return
	}

	conn, err := chatStreamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("chat websocket upgrade failed", "error", err)
		}
		return
	}
	defer conn.Close()

	for chunk := range chunks {
		if chunk.Error != nil {
			_ = conn.WriteJSON(wsDeltaFrame{Type: "error", Error: chunk.Error.Error()})
			return
		}
		if chunk.Text != "" {
			if err := conn.WriteJSON(wsDeltaFrame{Type: "content_delta", Delta: chunk.Text}); err != nil {
				return
			}
		}
	}
	_ = conn.WriteJSON(wsDeltaFrame{Type: "done"})
}
