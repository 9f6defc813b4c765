package httpapi

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nexus-core/nexus/internal/agent"
)

func TestHandleResolveApproval(t *testing.T) {
	srv := newTestServer(t)
	approval, err := srv.Approvals.RequestApproval(context.Background(), agent.ApprovalRequestParams{
		ProjectID:  "proj-1",
		SessionID:  "sess-1",
		ToolCallID: "call-1",
		ToolID:     "web_search",
		RiskLevel:  "medium",
	})
	if err != nil {
		t.Fatalf("RequestApproval() error = %v", err)
	}

	body := `{"decision":"approved","resolvedBy":"user-1"}`
	req := httptest.NewRequest("POST", "/approvals/"+approval.ID+"/resolve", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("expected success, got %+v", env)
	}
	if got := env.Data.(map[string]interface{})["Status"]; got != "approved" {
		t.Fatalf("got status %v, want approved", got)
	}
}

func TestHandleResolveApprovalRejectsMissingFields(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("POST", "/approvals/does-not-exist/resolve", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Fatalf("got status %d, want 400", rec.Code)
	}
}

func TestHandleListPendingApprovals(t *testing.T) {
	srv := newTestServer(t)
	if _, err := srv.Approvals.RequestApproval(context.Background(), agent.ApprovalRequestParams{
		ProjectID: "proj-pending", ToolID: "web_search",
	}); err != nil {
		t.Fatalf("RequestApproval() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/projects/proj-pending/approvals/pending", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	env := decodeEnvelope(t, rec)
	list := env.Data.([]interface{})
	if len(list) != 1 {
		t.Fatalf("got %d pending approvals, want 1", len(list))
	}
}
