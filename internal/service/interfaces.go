package service

import (
	"context"

	"github.com/pesio-ai/be-tprm-approvals/internal/repository"
)

// SubjectDirectory resolves the externally-owned entity a workflow gates.
// The engine only ever asks whether the subject exists within a tenant.
type SubjectDirectory interface {
	Exists(ctx context.Context, subjectID, orgID string) (bool, error)
}

// Notifier dispatches fire-and-forget workflow events. Implementations must
// never fail the calling operation: the engine invokes it post-commit only,
// and a delivery failure cannot roll back a committed decision.
type Notifier interface {
	PublishWorkflowEvent(ctx context.Context, eventType string, wf *repository.ApprovalWorkflow, actorID string, recipients []string, payload map[string]any)
}

// Workflow event types handed to the Notifier.
const (
	EventWorkflowInitiated = "workflow_initiated"
	EventApprovalRequired  = "approval_required"
	EventWorkflowApproved  = "workflow_approved"
	EventWorkflowRejected  = "workflow_rejected"
	EventWorkflowEscalated = "workflow_escalated"
	EventWorkflowCancelled = "workflow_cancelled"
)

// AuditLog is the append-only decision trail. Appends happen post-commit,
// best-effort: a failure is logged, never surfaced.
type AuditLog interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]*repository.AuditEntry, error)
}
