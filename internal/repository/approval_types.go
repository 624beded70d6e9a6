package repository

import "time"

// ── Domain types for the approval workflow engine ─────────────────────────────

// WorkflowStatus is the lifecycle state of an approval workflow.
type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "pending"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowApproved   WorkflowStatus = "approved"
	WorkflowRejected   WorkflowStatus = "rejected"
	WorkflowEscalated  WorkflowStatus = "escalated"
	WorkflowCancelled  WorkflowStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
// Escalated is deliberately non-terminal: it is resolved by cancellation.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowApproved || s == WorkflowRejected || s == WorkflowCancelled
}

// Decision is one approver's verdict on a step. Immutable once set.
type Decision string

const (
	DecisionApproved              Decision = "approved"
	DecisionConditionallyApproved Decision = "conditionally_approved"
	DecisionRejected              Decision = "rejected"
	DecisionEscalated             Decision = "escalated"
)

// Valid reports whether d is a known decision value.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionConditionallyApproved, DecisionRejected, DecisionEscalated:
		return true
	}
	return false
}

// Approving reports whether d advances the chain.
func (d Decision) Approving() bool {
	return d == DecisionApproved || d == DecisionConditionallyApproved
}

// WorkflowType selects which side-effect handler runs on terminal approval.
// The engine treats it as an opaque tag owned by the caller's domain.
type WorkflowType string

const (
	WorkflowTypeOnboarding      WorkflowType = "onboarding"
	WorkflowTypeTermination     WorkflowType = "termination"
	WorkflowTypeTierChange      WorkflowType = "tier_change"
	WorkflowTypeContractRenewal WorkflowType = "contract_renewal"
)

// ApprovalWorkflow is one subject entity moving through an ordered approval
// chain. The chain is immutable after creation; the workflow row mutates on
// every decision and carries an optimistic version counter.
type ApprovalWorkflow struct {
	ID             string         `json:"id"`
	SubjectID      string         `json:"subject_id"`
	OrganizationID string         `json:"organization_id"`
	WorkflowType   WorkflowType   `json:"workflow_type"`
	Status         WorkflowStatus `json:"status"`
	TotalSteps     int            `json:"total_steps"`
	CurrentStep    int            `json:"current_step"` // 1-based, earliest undecided step
	InitiatedBy    string         `json:"initiated_by"`
	Justification  *string        `json:"justification,omitempty"`
	InitiatedAt    time.Time      `json:"initiated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"` // set once, on terminal entry
	CancelledBy    *string        `json:"cancelled_by,omitempty"`
	CancelReason   *string        `json:"cancel_reason,omitempty"`
	Version        int64          `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	Steps []*ApprovalStep `json:"steps,omitempty"`
}

// ApprovalStep is a single decision point, identified by its 1-based order.
// Orders within a workflow are contiguous 1..N.
type ApprovalStep struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	StepOrder  int    `json:"step_order"`

	// Approver descriptor: a role, optionally narrowed to one identity.
	// Role-only steps are actionable by any holder of the role.
	ApproverRole string  `json:"approver_role"`
	ApproverID   *string `json:"approver_id,omitempty"`

	Decision   *Decision  `json:"decision,omitempty"` // nil until decided
	DecidedBy  *string    `json:"decided_by,omitempty"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	Comments   *string    `json:"comments,omitempty"`
	Conditions []string   `json:"conditions,omitempty"`

	// Non-repudiation bundle captured at decision time.
	SignatureToken   *string `json:"signature_token,omitempty"`
	OriginAddr       *string `json:"origin_addr,omitempty"`
	ClientDescriptor *string `json:"client_descriptor,omitempty"`

	RequiredAt *time.Time `json:"required_at,omitempty"` // advisory deadline only
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Open reports whether this step is the one awaiting decision.
func (s *ApprovalStep) Open(currentStep int) bool {
	return s.Decision == nil && s.StepOrder == currentStep
}

// AuditEntry is one immutable record in the approval audit trail.
type AuditEntry struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	StepID         *string        `json:"step_id,omitempty"`
	SubjectID      string         `json:"subject_id"`
	OrganizationID string         `json:"organization_id"`
	Action         string         `json:"action"` // initiated | approved | conditionally_approved | rejected | escalated | cancelled
	PerformedBy    string         `json:"performed_by"`
	PerformedAt    time.Time      `json:"performed_at"`
	StatusBefore   *string        `json:"status_before,omitempty"`
	StatusAfter    *string        `json:"status_after,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Statistics summarizes workflows for one organization.
type Statistics struct {
	Total              int                    `json:"total"`
	CountsByStatus     map[WorkflowStatus]int `json:"counts_by_status"`
	ApprovalRate       float64                `json:"approval_rate"`         // approved / terminal, 0 when no terminal workflows
	MeanTimeToDecision time.Duration          `json:"mean_time_to_decision"` // over terminal workflows
}
