package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-tprm-approvals/internal/database"
	"github.com/pesio-ai/be-tprm-approvals/internal/errors"
)

const stepColumns = `
	id, workflow_id, step_order,
	approver_role, approver_id,
	decision, decided_by, decided_at, comments, conditions,
	signature_token, origin_addr, client_descriptor,
	required_at, created_at, updated_at`

// ApprovalStepsRepository handles reads and the one-shot decision write on
// individual steps. Step creation happens in
// ApprovalWorkflowRepository.Insert, inside the same transaction as the
// workflow row.
type ApprovalStepsRepository struct {
	db *database.DB
}

// NewApprovalStepsRepository creates a new ApprovalStepsRepository.
func NewApprovalStepsRepository(db *database.DB) *ApprovalStepsRepository {
	return &ApprovalStepsRepository{db: db}
}

// ListByWorkflow returns all steps for a workflow ordered by step_order.
func (r *ApprovalStepsRepository) ListByWorkflow(ctx context.Context, q database.Querier, workflowID string) ([]*ApprovalStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM approval_steps
		WHERE workflow_id = $1
		ORDER BY step_order ASC
	`

	rows, err := q.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// RecordDecision writes the decision fields exactly once. The `decision IS
// NULL` guard makes the step immutable after the first write: a concurrent
// duplicate loses the race and gets a business-logic error, regardless of
// isolation level.
func (r *ApprovalStepsRepository) RecordDecision(ctx context.Context, q database.Querier, step *ApprovalStep) error {
	query := `
		UPDATE approval_steps
		SET decision          = $2::approval_decision,
		    decided_by        = $3,
		    decided_at        = $4,
		    comments          = $5,
		    conditions        = $6,
		    signature_token   = $7,
		    origin_addr       = $8,
		    client_descriptor = $9,
		    updated_at        = NOW()
		WHERE id = $1
		  AND decision IS NULL
		RETURNING updated_at
	`

	err := q.QueryRow(ctx, query,
		step.ID,
		step.Decision,
		step.DecidedBy,
		step.DecidedAt,
		step.Comments,
		step.Conditions,
		step.SignatureToken,
		step.OriginAddr,
		step.ClientDescriptor,
	).Scan(&step.UpdatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.New(errors.ErrCodeBusinessLogic, "step already decided")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to record step decision")
	}
	return nil
}

// ListPendingForApprover returns every open step the given identity may act
// on: steps at their workflow's current position, undecided, on a
// non-terminal workflow, where the identity matches directly or holds the
// step's role and the step is not narrowed to someone else.
// Ordered by deadline, soonest first, undated steps last.
func (r *ApprovalStepsRepository) ListPendingForApprover(ctx context.Context, orgID, identity string, roles []string) ([]*ApprovalStep, error) {
	query := `
		SELECT s.id, s.workflow_id, s.step_order,
		       s.approver_role, s.approver_id,
		       s.decision, s.decided_by, s.decided_at, s.comments, s.conditions,
		       s.signature_token, s.origin_addr, s.client_descriptor,
		       s.required_at, s.created_at, s.updated_at
		FROM approval_steps s
		JOIN approval_workflows w ON w.id = s.workflow_id
		WHERE w.organization_id = $1
		  AND w.status IN ('pending', 'in_progress')
		  AND s.step_order = w.current_step
		  AND s.decision IS NULL
		  AND (s.approver_id = $2
		       OR (s.approver_id IS NULL AND s.approver_role = ANY($3)))
		ORDER BY s.required_at ASC NULLS LAST, s.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, orgID, identity, roles)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *ApprovalStepsRepository) scanRows(rows pgx.Rows) ([]*ApprovalStep, error) {
	var steps []*ApprovalStep
	for rows.Next() {
		s := &ApprovalStep{}
		err := rows.Scan(
			&s.ID,
			&s.WorkflowID,
			&s.StepOrder,
			&s.ApproverRole,
			&s.ApproverID,
			&s.Decision,
			&s.DecidedBy,
			&s.DecidedAt,
			&s.Comments,
			&s.Conditions,
			&s.SignatureToken,
			&s.OriginAddr,
			&s.ClientDescriptor,
			&s.RequiredAt,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval steps")
	}
	return steps, nil
}
