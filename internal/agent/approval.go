package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-core/nexus/internal/nexuserr"
)

// ApprovalStatus is the lifecycle state of an Approval.
//
// The state machine is: pending -> approved | denied | expired. Expiration
// is lazy (checked on read) and swept periodically by SweepExpired. Once an
// approval leaves pending it never re-opens.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusDenied   ApprovalStatus = "denied"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// Approval represents a human-in-the-loop authorization for a single
// side-effecting tool call.
type Approval struct {
	ID          string
	ProjectID   string
	SessionID   string
	ToolCallID  string
	ToolID      string
	ToolInput   []byte
	RiskLevel   string
	Status      ApprovalStatus
	RequestedAt time.Time
	ExpiresAt   time.Time
	ResolvedBy  string
	ResolvedAt  time.Time
	Note        string
}

func (a *Approval) clone() *Approval {
	cp := *a
	return &cp
}

// effectiveStatus returns Status, lazily flipping pending->expired when
// ExpiresAt has passed. Callers that need to persist the flip should use
// the gate's methods instead of inspecting a copy directly.
func (a *Approval) effectiveStatus(now time.Time) ApprovalStatus {
	if a.Status == ApprovalStatusPending && !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt) {
		return ApprovalStatusExpired
	}
	return a.Status
}

// ApprovalRequestParams are the inputs to RequestApproval.
type ApprovalRequestParams struct {
	ProjectID  string
	SessionID  string
	ToolCallID string
	ToolID     string
	ToolInput  []byte
	RiskLevel  string
	ExpiresAt  time.Time
}

// ApprovalGate persists pending approvals for high-risk tool calls and
// blocks turn resolution until a human decides or the request expires.
//
// Implementations choose between polling the datastore and a notification
// channel; ApprovalGate uses an in-process broadcast channel per approval so
// a waiting AwaitResolution call observes a resolve within one tick of the
// poll cadence, comfortably under the spec's <=2s bound.
type ApprovalGate struct {
	mu         sync.Mutex
	approvals  map[string]*Approval
	waiters    map[string]chan struct{}
	pollEvery  time.Duration
	defaultTTL time.Duration
}

// NewApprovalGate creates an in-memory approval gate. pollEvery controls how
// often AwaitResolution re-checks the store while waiting; it defaults to
// 2s, matching the spec's default poll cadence.
func NewApprovalGate() *ApprovalGate {
	return &ApprovalGate{
		approvals:  make(map[string]*Approval),
		waiters:    make(map[string]chan struct{}),
		pollEvery:  2 * time.Second,
		defaultTTL: 24 * time.Hour,
	}
}

// RequestApproval creates a new pending Approval.
func (g *ApprovalGate) RequestApproval(ctx context.Context, params ApprovalRequestParams) (*Approval, error) {
	expiresAt := params.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(g.defaultTTL)
	}
	approval := &Approval{
		ID:          uuid.NewString(),
		ProjectID:   params.ProjectID,
		SessionID:   params.SessionID,
		ToolCallID:  params.ToolCallID,
		ToolID:      params.ToolID,
		ToolInput:   params.ToolInput,
		RiskLevel:   params.RiskLevel,
		Status:      ApprovalStatusPending,
		RequestedAt: time.Now(),
		ExpiresAt:   expiresAt,
	}

	g.mu.Lock()
	g.approvals[approval.ID] = approval
	g.waiters[approval.ID] = make(chan struct{})
	g.mu.Unlock()

	return approval.clone(), nil
}

// AwaitResolution blocks until the approval is resolved (approved, denied,
// or expired) or deadline elapses, whichever comes first. A deadline after
// the approval's own ExpiresAt is clamped to ExpiresAt.
func (g *ApprovalGate) AwaitResolution(ctx context.Context, approvalID string, deadline time.Time) (ApprovalStatus, error) {
	g.mu.Lock()
	approval, ok := g.approvals[approvalID]
	if !ok {
		g.mu.Unlock()
		return "", nexuserr.NotFound("approval not found: " + approvalID)
	}
	if !approval.ExpiresAt.IsZero() && approval.ExpiresAt.Before(deadline) {
		deadline = approval.ExpiresAt
	}
	done := g.waiters[approvalID]
	g.mu.Unlock()

	ticker := time.NewTicker(g.pollEvery)
	defer ticker.Stop()

	for {
		if status, resolved := g.checkResolved(approvalID); resolved {
			return status, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			g.expire(approvalID)
			return ApprovalStatusExpired, nil
		}
		select {
		case <-ctx.Done():
			return "", nexuserr.Cancelled("approval wait cancelled")
		case <-done:
			if status, resolved := g.checkResolved(approvalID); resolved {
				return status, nil
			}
		case <-time.After(minDuration(remaining, g.pollEvery)):
		case <-ticker.C:
		}
	}
}

func (g *ApprovalGate) checkResolved(approvalID string) (ApprovalStatus, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	approval, ok := g.approvals[approvalID]
	if !ok {
		return "", false
	}
	status := approval.effectiveStatus(time.Now())
	if status != ApprovalStatusPending {
		return status, true
	}
	return "", false
}

func (g *ApprovalGate) expire(approvalID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if approval, ok := g.approvals[approvalID]; ok && approval.Status == ApprovalStatusPending {
		approval.Status = ApprovalStatusExpired
	}
}

// Resolve applies a decision to a pending approval. Idempotent: resolving a
// non-pending approval fails with APPROVAL_NOT_PENDING and returns the
// approval's current (first-decided) state, per the spec's "at most one
// terminal resolve takes effect" invariant.
func (g *ApprovalGate) Resolve(ctx context.Context, approvalID string, decision ApprovalStatus, resolvedBy, note string) (*Approval, error) {
	if decision != ApprovalStatusApproved && decision != ApprovalStatusDenied {
		return nil, nexuserr.Validation("decision must be approved or denied")
	}

	g.mu.Lock()
	approval, ok := g.approvals[approvalID]
	if !ok {
		g.mu.Unlock()
		return nil, nexuserr.NotFound("approval not found: " + approvalID)
	}
	current := approval.effectiveStatus(time.Now())
	if current != ApprovalStatusPending {
		snapshot := approval.clone()
		snapshot.Status = current
		g.mu.Unlock()
		return snapshot, nexuserr.Conflict("APPROVAL_NOT_PENDING", "approval is already "+string(current))
	}

	approval.Status = decision
	approval.ResolvedBy = resolvedBy
	approval.ResolvedAt = time.Now()
	approval.Note = note
	snapshot := approval.clone()
	waiter := g.waiters[approvalID]
	g.mu.Unlock()

	if waiter != nil {
		close(waiter)
		g.mu.Lock()
		g.waiters[approvalID] = make(chan struct{})
		g.mu.Unlock()
	}

	return snapshot, nil
}

// Get returns the approval by ID with its lazily-computed effective status.
func (g *ApprovalGate) Get(ctx context.Context, approvalID string) (*Approval, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	approval, ok := g.approvals[approvalID]
	if !ok {
		return nil, nexuserr.NotFound("approval not found: " + approvalID)
	}
	snapshot := approval.clone()
	snapshot.Status = approval.effectiveStatus(time.Now())
	return snapshot, nil
}

// ListPending returns approvals with status=pending AND expiresAt > now for
// a project.
func (g *ApprovalGate) ListPending(ctx context.Context, projectID string) ([]*Approval, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	var out []*Approval
	for _, approval := range g.approvals {
		if approval.ProjectID != projectID {
			continue
		}
		if approval.effectiveStatus(now) != ApprovalStatusPending {
			continue
		}
		out = append(out, approval.clone())
	}
	return out, nil
}

// SweepExpired flips any pending approval whose ExpiresAt has passed to
// expired, and wakes any waiters. Intended to be called periodically from a
// background goroutine (see cmd/nexus's server bootstrap) in addition to
// the lazy check performed on every read.
func (g *ApprovalGate) SweepExpired(ctx context.Context) int {
	now := time.Now()
	var expired []string

	g.mu.Lock()
	for id, approval := range g.approvals {
		if approval.Status == ApprovalStatusPending && !approval.ExpiresAt.IsZero() && now.After(approval.ExpiresAt) {
			approval.Status = ApprovalStatusExpired
			expired = append(expired, id)
		}
	}
	g.mu.Unlock()

	for _, id := range expired {
		g.mu.Lock()
		waiter := g.waiters[id]
		g.waiters[id] = make(chan struct{})
		g.mu.Unlock()
		if waiter != nil {
			close(waiter)
		}
	}
	return len(expired)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
