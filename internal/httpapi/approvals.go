package httpapi

import (
	"net/http"

	"github.com/nexus-core/nexus/internal/agent"
	"github.com/nexus-core/nexus/internal/nexuserr"
)

func (s *Server) handleListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	pending, err := s.Approvals.ListPending(r.Context(), projectID)
	if err != nil {
		writeErr(w, s.Logger, err)
		return
	}
	writeData(w, http.StatusOK, pending)
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	approval, err := s.Approvals.Get(r.Context(), id)
	if err != nil {
		writeErr(w, s.Logger, err)
		return
	}
	writeData(w, http.StatusOK, approval)
}

type resolveApprovalRequest struct {
	Decision   agent.ApprovalStatus `json:"decision"`
	ResolvedBy string               `json:"resolvedBy"`
	Note       string               `json:"note,omitempty"`
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req resolveApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationErr(w, "invalid JSON body", nil)
		return
	}

	var issues []issue
	if req.Decision != agent.ApprovalStatusApproved && req.Decision != agent.ApprovalStatusDenied {
		issues = append(issues, issue{Path: "decision", Message: "must be approved or denied"})
	}
	if req.ResolvedBy == "" {
		issues = append(issues, issue{Path: "resolvedBy", Message: "required"})
	}
	if len(issues) > 0 {
		writeValidationErr(w, "request validation failed", issues)
		return
	}

	approval, err := s.Approvals.Resolve(r.Context(), id, req.Decision, req.ResolvedBy, req.Note)
	if err != nil {
		// Resolve returns both a snapshot and an error on APPROVAL_NOT_PENDING
		// (§6: "409 APPROVAL_NOT_PENDING with details.currentStatus"); surface
		// the current status in the error's details from the returned snapshot.
		if nexuserr.Is(err, nexuserr.KindConflict) && approval != nil {
			ne, _ := err.(*nexuserr.NexusError)
			if ne != nil {
				if ne.Details == nil {
					ne.Details = map[string]any{}
				}
				ne.Details["currentStatus"] = approval.Status
			}
		}
		writeErr(w, s.Logger, err)
		return
	}
	writeData(w, http.StatusOK, approval)
}
