package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-tprm-approvals/internal/errors"
	"github.com/pesio-ai/be-tprm-approvals/internal/idempotency"
	"github.com/pesio-ai/be-tprm-approvals/internal/logger"
	"github.com/pesio-ai/be-tprm-approvals/internal/repository"
	"github.com/pesio-ai/be-tprm-approvals/internal/saga"
)

// ApprovalWorkflowService drives a subject entity through an ordered chain
// of approval steps: create the immutable chain, accept decisions one at a
// time, and on terminal approval apply the registered side effect inside the
// same transaction scope. Decisions are conflict-retried by the store and
// optionally deduplicated by a caller-supplied idempotency key.
type ApprovalWorkflowService struct {
	store    repository.Store
	subjects SubjectDirectory
	handlers *HandlerRegistry
	audit    AuditLog
	notifier Notifier
	guard    *idempotency.Guard
	log      *logger.Logger
}

// NewApprovalWorkflowService wires the engine. audit, notifier and guard may
// be nil; the corresponding behavior is skipped.
func NewApprovalWorkflowService(
	store repository.Store,
	subjects SubjectDirectory,
	handlers *HandlerRegistry,
	audit AuditLog,
	notifier Notifier,
	guard *idempotency.Guard,
	log *logger.Logger,
) *ApprovalWorkflowService {
	return &ApprovalWorkflowService{
		store:    store,
		subjects: subjects,
		handlers: handlers,
		audit:    audit,
		notifier: notifier,
		guard:    guard,
		log:      log,
	}
}

// ── Workflow creation ─────────────────────────────────────────────────────────

// ChainEntry describes one approver in the requested chain, in order.
type ChainEntry struct {
	Role       string     `json:"role"`
	ApproverID *string    `json:"approver_id,omitempty"`
	RequiredAt *time.Time `json:"required_at,omitempty"`
}

// CreateWorkflowInput is the request to open a new approval workflow.
type CreateWorkflowInput struct {
	SubjectID      string                  `json:"subject_id"`
	OrganizationID string                  `json:"organization_id"`
	WorkflowType   repository.WorkflowType `json:"workflow_type"`
	Chain          []ChainEntry            `json:"chain"`
	InitiatedBy    string                  `json:"initiated_by"`
	Justification  *string                 `json:"justification,omitempty"`
}

func (in CreateWorkflowInput) validate() error {
	if in.SubjectID == "" {
		return errors.InvalidInput("subject_id", "must not be empty")
	}
	if in.OrganizationID == "" {
		return errors.InvalidInput("organization_id", "must not be empty")
	}
	if in.WorkflowType == "" {
		return errors.InvalidInput("workflow_type", "must not be empty")
	}
	if in.InitiatedBy == "" {
		return errors.InvalidInput("initiated_by", "must not be empty")
	}
	if len(in.Chain) == 0 {
		return errors.InvalidInput("chain", "approval chain must not be empty")
	}
	for i, entry := range in.Chain {
		if entry.Role == "" && entry.ApproverID == nil {
			return errors.InvalidInput("chain",
				fmt.Sprintf("entry %d must name an approver role or identity", i+1))
		}
	}
	return nil
}

// CreateWorkflow validates the chain, verifies the subject exists and
// persists the workflow plus all steps in one transaction scope.
func (s *ApprovalWorkflowService) CreateWorkflow(ctx context.Context, in CreateWorkflowInput) (*repository.ApprovalWorkflow, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	exists, err := s.subjects.Exists(ctx, in.SubjectID, in.OrganizationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "subject lookup failed")
	}
	if !exists {
		return nil, errors.NotFound("subject", in.SubjectID)
	}

	now := time.Now().UTC()
	wf := &repository.ApprovalWorkflow{
		ID:             uuid.NewString(),
		SubjectID:      in.SubjectID,
		OrganizationID: in.OrganizationID,
		WorkflowType:   in.WorkflowType,
		Status:         repository.WorkflowPending,
		TotalSteps:     len(in.Chain),
		CurrentStep:    1,
		InitiatedBy:    in.InitiatedBy,
		Justification:  in.Justification,
		InitiatedAt:    now,
	}

	steps := make([]*repository.ApprovalStep, 0, len(in.Chain))
	for i, entry := range in.Chain {
		steps = append(steps, &repository.ApprovalStep{
			ID:           uuid.NewString(),
			WorkflowID:   wf.ID,
			StepOrder:    i + 1,
			ApproverRole: entry.Role,
			ApproverID:   entry.ApproverID,
			RequiredAt:   entry.RequiredAt,
		})
	}

	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.InsertWorkflow(ctx, wf, steps)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("subject_id", wf.SubjectID).
		Str("workflow_type", string(wf.WorkflowType)).
		Int("total_steps", wf.TotalSteps).
		Msg("Approval workflow created")

	statusAfter := string(wf.Status)
	s.appendAudit(ctx, &repository.AuditEntry{
		WorkflowID:     wf.ID,
		SubjectID:      wf.SubjectID,
		OrganizationID: wf.OrganizationID,
		Action:         "initiated",
		PerformedBy:    in.InitiatedBy,
		StatusAfter:    &statusAfter,
		Metadata:       map[string]any{"total_steps": wf.TotalSteps},
	})
	s.notify(ctx, EventWorkflowInitiated, wf, in.InitiatedBy, []string{in.InitiatedBy}, nil)
	s.notify(ctx, EventApprovalRequired, wf, in.InitiatedBy, recipientsForStep(steps[0]), map[string]any{
		"step_order": 1,
	})

	return wf, nil
}

// ── Decide ────────────────────────────────────────────────────────────────────

// DecisionAudit is the non-repudiation bundle captured with a decision.
type DecisionAudit struct {
	SignatureToken   *string `json:"signature_token,omitempty"`
	OriginAddr       *string `json:"origin_addr,omitempty"`
	ClientDescriptor *string `json:"client_descriptor,omitempty"`
}

// DecideInput is one approver's decision on the workflow's current step.
type DecideInput struct {
	WorkflowID     string              `json:"workflow_id"`
	OrganizationID string              `json:"organization_id"`
	StepOrder      int                 `json:"step_order"`
	Decision       repository.Decision `json:"decision"`
	DecidedBy      string              `json:"decided_by"`
	Comments       *string             `json:"comments,omitempty"`
	Conditions     []string            `json:"conditions,omitempty"`
	Audit          *DecisionAudit      `json:"audit,omitempty"`

	// IdempotencyKey, when set, deduplicates network-level retries of the
	// same submission within the guard's TTL.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (in DecideInput) validate() error {
	if in.WorkflowID == "" {
		return errors.InvalidInput("workflow_id", "must not be empty")
	}
	if in.OrganizationID == "" {
		return errors.InvalidInput("organization_id", "must not be empty")
	}
	if in.StepOrder < 1 {
		return errors.InvalidInput("step_order", "must be a positive 1-based step index")
	}
	if !in.Decision.Valid() {
		return errors.InvalidInput("decision", fmt.Sprintf("unknown decision %q", in.Decision))
	}
	if in.DecidedBy == "" {
		return errors.InvalidInput("decided_by", "must not be empty")
	}
	return nil
}

// Decide records a decision on the workflow's current step and advances the
// state machine. Step mutation, workflow mutation and the terminal side
// effect commit in one transaction scope; conflicts are retried by the
// store; a caller-supplied idempotency key returns the original result for
// duplicate submissions.
func (s *ApprovalWorkflowService) Decide(ctx context.Context, in DecideInput) (*repository.ApprovalWorkflow, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" && s.guard != nil {
		return idempotency.Do(ctx, s.guard, in.IdempotencyKey,
			func(ctx context.Context) (*repository.ApprovalWorkflow, error) {
				return s.decide(ctx, in)
			})
	}
	return s.decide(ctx, in)
}

func (s *ApprovalWorkflowService) decide(ctx context.Context, in DecideInput) (*repository.ApprovalWorkflow, error) {
	var (
		wf           *repository.ApprovalWorkflow
		decidedStep  *repository.ApprovalStep
		statusBefore repository.WorkflowStatus
		sagaSteps    []saga.Step
	)

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		// Reset per attempt: the unit of work may run more than once.
		wf, decidedStep, sagaSteps = nil, nil, nil

		var err error
		wf, err = tx.GetWorkflowForUpdate(ctx, in.WorkflowID, in.OrganizationID)
		if err != nil {
			return err
		}
		statusBefore = wf.Status

		if wf.Status.Terminal() {
			return errors.New(errors.ErrCodeBusinessLogic, "workflow already completed")
		}
		if wf.Status == repository.WorkflowEscalated {
			return errors.New(errors.ErrCodeBusinessLogic,
				"workflow is escalated and requires administrative closure")
		}

		step := findStep(wf.Steps, in.StepOrder)
		if step == nil {
			return errors.NotFound("approval step", fmt.Sprintf("%s/%d", in.WorkflowID, in.StepOrder))
		}
		if step.Decision != nil {
			return errors.New(errors.ErrCodeBusinessLogic, "step already decided")
		}
		// Sequential invariant: only the single currently-open step may be
		// decided. Out-of-order submissions are rejected, not reordered.
		if in.StepOrder != wf.CurrentStep {
			return errors.InvalidInput("step_order",
				fmt.Sprintf("step %d is not the current step (current: %d)", in.StepOrder, wf.CurrentStep))
		}

		now := time.Now().UTC()
		decision := in.Decision
		step.Decision = &decision
		step.DecidedBy = &in.DecidedBy
		step.DecidedAt = &now
		step.Comments = in.Comments
		step.Conditions = in.Conditions
		if in.Audit != nil {
			step.SignatureToken = in.Audit.SignatureToken
			step.OriginAddr = in.Audit.OriginAddr
			step.ClientDescriptor = in.Audit.ClientDescriptor
		}
		if err := tx.RecordDecision(ctx, step); err != nil {
			return err
		}
		decidedStep = step

		switch {
		case decision == repository.DecisionRejected:
			wf.Status = repository.WorkflowRejected
			wf.CompletedAt = &now
		case decision == repository.DecisionEscalated:
			wf.Status = repository.WorkflowEscalated
		case in.StepOrder < wf.TotalSteps:
			wf.Status = repository.WorkflowInProgress
			wf.CurrentStep = in.StepOrder + 1
		default:
			wf.Status = repository.WorkflowApproved
			wf.CompletedAt = &now
		}

		if err := tx.UpdateWorkflow(ctx, wf); err != nil {
			return err
		}

		if wf.Status != repository.WorkflowApproved {
			return nil
		}

		// Terminal approval: dispatch the subject side effect.
		handler, ok := s.handlers.Resolve(wf.WorkflowType)
		if !ok {
			return errors.Newf(errors.ErrCodeInternal,
				"no side-effect handler registered for workflow type %q", wf.WorkflowType)
		}
		approval := s.approvalFor(wf, in.DecidedBy, now)

		if sagaHandler, isSaga := handler.(SagaHandler); isSaga {
			// Crosses storage boundaries: run after commit under the saga
			// coordinator instead of inside this transaction.
			sagaSteps = sagaHandler.SagaSteps(approval)
			return nil
		}
		if err := handler.ApplyApproval(tx.Context(ctx), approval); err != nil {
			return errors.Wrap(err, errors.ErrCodeSideEffect, "terminal side effect failed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("workflow_id", wf.ID).
		Int("step_order", in.StepOrder).
		Str("decision", string(in.Decision)).
		Str("status", string(wf.Status)).
		Msg("Approval decision recorded")

	var sagaErr error
	if len(sagaSteps) > 0 {
		sagaErr = saga.NewCoordinator(s.log.Logger, sagaSteps).Run(ctx)
	}

	s.auditDecision(ctx, wf, decidedStep, statusBefore, in)
	s.notifyDecision(ctx, wf, in)

	if sagaErr != nil {
		// The decision is committed; the cross-system side effect was
		// compensated. The caller may re-dispatch against the idempotent
		// handler.
		return nil, sagaErr
	}
	return wf, nil
}

// ── Cancel ────────────────────────────────────────────────────────────────────

// CancelInput is an explicit caller-driven termination of a workflow.
type CancelInput struct {
	WorkflowID     string  `json:"workflow_id"`
	OrganizationID string  `json:"organization_id"`
	CancelledBy    string  `json:"cancelled_by"`
	Reason         *string `json:"reason,omitempty"`
}

// Cancel halts a workflow from Pending, InProgress or Escalated.
// Cancellation is the administrative exit path for escalations.
func (s *ApprovalWorkflowService) Cancel(ctx context.Context, in CancelInput) (*repository.ApprovalWorkflow, error) {
	if in.WorkflowID == "" {
		return nil, errors.InvalidInput("workflow_id", "must not be empty")
	}
	if in.CancelledBy == "" {
		return nil, errors.InvalidInput("cancelled_by", "must not be empty")
	}

	var (
		wf           *repository.ApprovalWorkflow
		statusBefore repository.WorkflowStatus
	)
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		wf, err = tx.GetWorkflowForUpdate(ctx, in.WorkflowID, in.OrganizationID)
		if err != nil {
			return err
		}
		statusBefore = wf.Status

		if wf.Status.Terminal() {
			return errors.New(errors.ErrCodeBusinessLogic, "workflow already completed")
		}

		now := time.Now().UTC()
		wf.Status = repository.WorkflowCancelled
		wf.CompletedAt = &now
		wf.CancelledBy = &in.CancelledBy
		wf.CancelReason = in.Reason
		return tx.UpdateWorkflow(ctx, wf)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("cancelled_by", in.CancelledBy).
		Msg("Approval workflow cancelled")

	before, after := string(statusBefore), string(wf.Status)
	s.appendAudit(ctx, &repository.AuditEntry{
		WorkflowID:     wf.ID,
		SubjectID:      wf.SubjectID,
		OrganizationID: wf.OrganizationID,
		Action:         "cancelled",
		PerformedBy:    in.CancelledBy,
		StatusBefore:   &before,
		StatusAfter:    &after,
		Metadata:       cancelMetadata(in.Reason),
	})
	s.notify(ctx, EventWorkflowCancelled, wf, in.CancelledBy, []string{wf.InitiatedBy}, nil)

	return wf, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetWorkflow returns a workflow with all its steps.
func (s *ApprovalWorkflowService) GetWorkflow(ctx context.Context, id, orgID string) (*repository.ApprovalWorkflow, error) {
	if id == "" {
		return nil, errors.InvalidInput("workflow_id", "must not be empty")
	}
	return s.store.GetWorkflow(ctx, id, orgID)
}

// ListPendingApprovals returns all open steps the identity may act on within
// an organization, soonest deadline first.
func (s *ApprovalWorkflowService) ListPendingApprovals(ctx context.Context, orgID, identity string, roles []string) ([]*repository.ApprovalStep, error) {
	if identity == "" {
		return nil, errors.InvalidInput("identity", "must not be empty")
	}
	return s.store.ListPendingSteps(ctx, orgID, identity, roles)
}

// GetAuditTrail returns the workflow's decision trail, oldest first.
func (s *ApprovalWorkflowService) GetAuditTrail(ctx context.Context, id, orgID string) ([]*repository.AuditEntry, error) {
	if id == "" {
		return nil, errors.InvalidInput("workflow_id", "must not be empty")
	}
	if s.audit == nil {
		return nil, errors.New(errors.ErrCodeInternal, "audit log not configured")
	}
	// Scope check before reading the trail.
	if _, err := s.store.GetWorkflow(ctx, id, orgID); err != nil {
		return nil, err
	}
	return s.audit.ListByWorkflow(ctx, id)
}

// GetStatistics summarizes workflows for an organization, optionally bounded
// by initiation time.
func (s *ApprovalWorkflowService) GetStatistics(ctx context.Context, orgID string, from, to *time.Time) (*repository.Statistics, error) {
	if orgID == "" {
		return nil, errors.InvalidInput("organization_id", "must not be empty")
	}
	return s.store.Statistics(ctx, orgID, from, to)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

func (s *ApprovalWorkflowService) approvalFor(wf *repository.ApprovalWorkflow, approvedBy string, completedAt time.Time) Approval {
	return Approval{
		WorkflowID:     wf.ID,
		SubjectID:      wf.SubjectID,
		OrganizationID: wf.OrganizationID,
		WorkflowType:   wf.WorkflowType,
		InitiatedBy:    wf.InitiatedBy,
		ApprovedBy:     approvedBy,
		Justification:  wf.Justification,
		CompletedAt:    completedAt,
	}
}

func (s *ApprovalWorkflowService) auditDecision(ctx context.Context, wf *repository.ApprovalWorkflow, step *repository.ApprovalStep, statusBefore repository.WorkflowStatus, in DecideInput) {
	before, after := string(statusBefore), string(wf.Status)
	s.appendAudit(ctx, &repository.AuditEntry{
		WorkflowID:     wf.ID,
		StepID:         &step.ID,
		SubjectID:      wf.SubjectID,
		OrganizationID: wf.OrganizationID,
		Action:         string(in.Decision),
		PerformedBy:    in.DecidedBy,
		StatusBefore:   &before,
		StatusAfter:    &after,
		Metadata:       map[string]any{"step_order": in.StepOrder},
	})
}

func (s *ApprovalWorkflowService) notifyDecision(ctx context.Context, wf *repository.ApprovalWorkflow, in DecideInput) {
	payload := map[string]any{"step_order": in.StepOrder, "decision": string(in.Decision)}

	switch wf.Status {
	case repository.WorkflowRejected:
		s.notify(ctx, EventWorkflowRejected, wf, in.DecidedBy, []string{wf.InitiatedBy}, payload)
	case repository.WorkflowEscalated:
		s.notify(ctx, EventWorkflowEscalated, wf, in.DecidedBy, []string{wf.InitiatedBy}, payload)
	case repository.WorkflowApproved:
		s.notify(ctx, EventWorkflowApproved, wf, in.DecidedBy, []string{wf.InitiatedBy}, payload)
	case repository.WorkflowInProgress:
		next := findStep(wf.Steps, wf.CurrentStep)
		if next != nil {
			s.notify(ctx, EventApprovalRequired, wf, in.DecidedBy, recipientsForStep(next), map[string]any{
				"step_order": next.StepOrder,
			})
		}
	}
}

// appendAudit writes an audit entry and logs a warning on failure.
// Never fails the operation: the decision is already committed.
func (s *ApprovalWorkflowService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if s.audit == nil {
		return
	}
	entry.ID = uuid.NewString()
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("workflow_id", entry.WorkflowID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

func (s *ApprovalWorkflowService) notify(ctx context.Context, eventType string, wf *repository.ApprovalWorkflow, actorID string, recipients []string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishWorkflowEvent(ctx, eventType, wf, actorID, recipients, payload)
}

func findStep(steps []*repository.ApprovalStep, order int) *repository.ApprovalStep {
	for _, step := range steps {
		if step.StepOrder == order {
			return step
		}
	}
	return nil
}

func recipientsForStep(step *repository.ApprovalStep) []string {
	if step.ApproverID != nil {
		return []string{*step.ApproverID}
	}
	return []string{"role:" + step.ApproverRole}
}

func cancelMetadata(reason *string) map[string]any {
	if reason == nil {
		return nil
	}
	return map[string]any{"reason": *reason}
}
