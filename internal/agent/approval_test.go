package agent

import (
	"context"
	"testing"
	"time"
)

func TestApprovalGateRequestAndResolve(t *testing.T) {
	gate := NewApprovalGate()
	ctx := context.Background()

	approval, err := gate.RequestApproval(ctx, ApprovalRequestParams{
		ProjectID:  "proj-1",
		SessionID:  "sess-1",
		ToolCallID: "call-1",
		ToolID:     "http_request",
	})
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	if approval.Status != ApprovalStatusPending {
		t.Fatalf("got status %s, want pending", approval.Status)
	}

	resolved, err := gate.Resolve(ctx, approval.ID, ApprovalStatusApproved, "reviewer-1", "looks fine")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != ApprovalStatusApproved {
		t.Fatalf("got status %s, want approved", resolved.Status)
	}
	if resolved.ResolvedBy != "reviewer-1" {
		t.Fatalf("got resolvedBy %q, want reviewer-1", resolved.ResolvedBy)
	}
}

func TestApprovalGateResolveIsIdempotent(t *testing.T) {
	gate := NewApprovalGate()
	ctx := context.Background()

	approval, _ := gate.RequestApproval(ctx, ApprovalRequestParams{ProjectID: "p", ToolCallID: "c1", ToolID: "t"})

	if _, err := gate.Resolve(ctx, approval.ID, ApprovalStatusApproved, "r1", ""); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	snapshot, err := gate.Resolve(ctx, approval.ID, ApprovalStatusDenied, "r2", "")
	if err == nil {
		t.Fatal("expected second resolve to fail with APPROVAL_NOT_PENDING")
	}
	if snapshot.Status != ApprovalStatusApproved {
		t.Fatalf("second resolve returned status %s, want the original approved decision preserved", snapshot.Status)
	}
}

func TestApprovalGateAwaitResolutionUnblocksOnResolve(t *testing.T) {
	gate := NewApprovalGate()
	gate.pollEvery = 20 * time.Millisecond
	ctx := context.Background()

	approval, _ := gate.RequestApproval(ctx, ApprovalRequestParams{ProjectID: "p", ToolCallID: "c1", ToolID: "t"})

	done := make(chan ApprovalStatus, 1)
	go func() {
		status, err := gate.AwaitResolution(ctx, approval.ID, time.Now().Add(time.Second))
		if err != nil {
			t.Errorf("AwaitResolution: %v", err)
			return
		}
		done <- status
	}()

	time.Sleep(10 * time.Millisecond)
	if _, err := gate.Resolve(ctx, approval.ID, ApprovalStatusApproved, "r1", ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	select {
	case status := <-done:
		if status != ApprovalStatusApproved {
			t.Fatalf("got status %s, want approved", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitResolution did not unblock after Resolve")
	}
}

func TestApprovalGateAwaitResolutionExpiresAtDeadline(t *testing.T) {
	gate := NewApprovalGate()
	gate.pollEvery = 10 * time.Millisecond
	ctx := context.Background()

	approval, _ := gate.RequestApproval(ctx, ApprovalRequestParams{
		ProjectID:  "p",
		ToolCallID: "c1",
		ToolID:     "t",
		ExpiresAt:  time.Now().Add(30 * time.Millisecond),
	})

	status, err := gate.AwaitResolution(ctx, approval.ID, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("AwaitResolution: %v", err)
	}
	if status != ApprovalStatusExpired {
		t.Fatalf("got status %s, want expired", status)
	}

	got, err := gate.Get(ctx, approval.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != ApprovalStatusExpired {
		t.Fatalf("Get returned status %s, want expired", got.Status)
	}
}

func TestApprovalGateListPendingFiltersByProjectAndExpiry(t *testing.T) {
	gate := NewApprovalGate()
	ctx := context.Background()

	a1, _ := gate.RequestApproval(ctx, ApprovalRequestParams{ProjectID: "proj-a", ToolCallID: "c1", ToolID: "t"})
	_, _ = gate.RequestApproval(ctx, ApprovalRequestParams{ProjectID: "proj-b", ToolCallID: "c2", ToolID: "t"})
	expired, _ := gate.RequestApproval(ctx, ApprovalRequestParams{
		ProjectID:  "proj-a",
		ToolCallID: "c3",
		ToolID:     "t",
		ExpiresAt:  time.Now().Add(-time.Minute),
	})

	pending, err := gate.ListPending(ctx, "proj-a")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != a1.ID {
		t.Fatalf("got %d pending, want exactly a1 (expired id %s and other-project approval excluded)", len(pending), expired.ID)
	}
}

func TestApprovalGateSweepExpired(t *testing.T) {
	gate := NewApprovalGate()
	ctx := context.Background()

	approval, _ := gate.RequestApproval(ctx, ApprovalRequestParams{
		ProjectID:  "p",
		ToolCallID: "c1",
		ToolID:     "t",
		ExpiresAt:  time.Now().Add(-time.Second),
	})

	n := gate.SweepExpired(ctx)
	if n != 1 {
		t.Fatalf("SweepExpired returned %d, want 1", n)
	}

	got, err := gate.Get(ctx, approval.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != ApprovalStatusExpired {
		t.Fatalf("got status %s, want expired", got.Status)
	}
}
