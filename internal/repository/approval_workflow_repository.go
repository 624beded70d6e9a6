package repository

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-tprm-approvals/internal/database"
	"github.com/pesio-ai/be-tprm-approvals/internal/errors"
)

const workflowColumns = `
	id, subject_id, organization_id, workflow_type, status,
	total_steps, current_step,
	initiated_by, justification, initiated_at,
	completed_at, cancelled_by, cancel_reason,
	version, created_at, updated_at`

// ApprovalWorkflowRepository manages workflow instances. Methods take a
// Querier so the same statement can run against the pool or join an open
// transaction scope.
type ApprovalWorkflowRepository struct {
	db *database.DB
}

// NewApprovalWorkflowRepository creates a new ApprovalWorkflowRepository.
func NewApprovalWorkflowRepository(db *database.DB) *ApprovalWorkflowRepository {
	return &ApprovalWorkflowRepository{db: db}
}

// Insert persists a workflow and its full approval chain. The caller is
// expected to run this inside one transaction scope so workflow and steps
// become visible together.
func (r *ApprovalWorkflowRepository) Insert(ctx context.Context, q database.Querier, wf *ApprovalWorkflow, steps []*ApprovalStep) error {
	wfQuery := `
		INSERT INTO approval_workflows
		    (id, subject_id, organization_id, workflow_type, status,
		     total_steps, current_step,
		     initiated_by, justification, initiated_at, version)
		VALUES ($1, $2, $3, $4, $5::approval_workflow_status,
		        $6, $7,
		        $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err := q.QueryRow(ctx, wfQuery,
		wf.ID,
		wf.SubjectID,
		wf.OrganizationID,
		wf.WorkflowType,
		wf.Status,
		wf.TotalSteps,
		wf.CurrentStep,
		wf.InitiatedBy,
		wf.Justification,
		wf.InitiatedAt,
		wf.Version,
	).Scan(&wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval workflow")
	}

	stepQuery := `
		INSERT INTO approval_steps
		    (id, workflow_id, step_order,
		     approver_role, approver_id, required_at)
		VALUES ($1, $2, $3,
		        $4, $5, $6)
		RETURNING created_at, updated_at
	`

	for _, step := range steps {
		step.WorkflowID = wf.ID

		err := q.QueryRow(ctx, stepQuery,
			step.ID,
			step.WorkflowID,
			step.StepOrder,
			step.ApproverRole,
			step.ApproverID,
			step.RequiredAt,
		).Scan(&step.CreatedAt, &step.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval step")
		}
	}

	wf.Steps = steps
	return nil
}

// GetByID retrieves a workflow within an organization scope.
func (r *ApprovalWorkflowRepository) GetByID(ctx context.Context, q database.Querier, id, orgID string) (*ApprovalWorkflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM approval_workflows
		WHERE id = $1 AND organization_id = $2
	`

	wf, err := r.scanWorkflow(q.QueryRow(ctx, query, id, orgID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("approval workflow", id)
	}
	return wf, err
}

// GetForUpdate locks the workflow row for the duration of the surrounding
// transaction. Concurrent decisions on the same workflow serialize here.
func (r *ApprovalWorkflowRepository) GetForUpdate(ctx context.Context, tx database.Querier, id, orgID string) (*ApprovalWorkflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM approval_workflows
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE
	`

	wf, err := r.scanWorkflow(tx.QueryRow(ctx, query, id, orgID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("approval workflow", id)
	}
	return wf, err
}

// Update writes the mutable workflow fields guarded by the optimistic
// version check. A concurrent modification between read and write surfaces
// as a retryable conflict instead of a silent overwrite.
func (r *ApprovalWorkflowRepository) Update(ctx context.Context, q database.Querier, wf *ApprovalWorkflow) error {
	query := `
		UPDATE approval_workflows
		SET status        = $3::approval_workflow_status,
		    current_step  = $4,
		    completed_at  = $5,
		    cancelled_by  = $6,
		    cancel_reason = $7,
		    version       = version + 1,
		    updated_at    = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`

	err := q.QueryRow(ctx, query,
		wf.ID,
		wf.Version,
		wf.Status,
		wf.CurrentStep,
		wf.CompletedAt,
		wf.CancelledBy,
		wf.CancelReason,
	).Scan(&wf.Version, &wf.UpdatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.Conflict("approval workflow was modified concurrently")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval workflow")
	}
	return nil
}

// Statistics aggregates workflow counts, approval rate and mean
// time-to-decision for an organization, optionally bounded by initiation time.
func (r *ApprovalWorkflowRepository) Statistics(ctx context.Context, orgID string, from, to *time.Time) (*Statistics, error) {
	countQuery := `
		SELECT status, COUNT(*)
		FROM approval_workflows
		WHERE organization_id = $1
		  AND ($2::timestamptz IS NULL OR initiated_at >= $2)
		  AND ($3::timestamptz IS NULL OR initiated_at <= $3)
		GROUP BY status
	`

	rows, err := r.db.Query(ctx, countQuery, orgID, from, to)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to aggregate workflow counts")
	}
	defer rows.Close()

	stats := &Statistics{CountsByStatus: make(map[WorkflowStatus]int)}
	for rows.Next() {
		var status WorkflowStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow counts")
		}
		stats.CountsByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read workflow counts")
	}

	timingQuery := `
		SELECT COUNT(*),
		       COALESCE(AVG(EXTRACT(EPOCH FROM completed_at - initiated_at)), 0)
		FROM approval_workflows
		WHERE organization_id = $1
		  AND completed_at IS NOT NULL
		  AND ($2::timestamptz IS NULL OR initiated_at >= $2)
		  AND ($3::timestamptz IS NULL OR initiated_at <= $3)
	`

	var terminal int
	var meanSeconds float64
	err = r.db.QueryRow(ctx, timingQuery, orgID, from, to).Scan(&terminal, &meanSeconds)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to aggregate decision timing")
	}

	if terminal > 0 {
		stats.ApprovalRate = float64(stats.CountsByStatus[WorkflowApproved]) / float64(terminal)
		stats.MeanTimeToDecision = time.Duration(meanSeconds * float64(time.Second))
	}
	return stats, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type workflowScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalWorkflowRepository) scanWorkflow(row workflowScanner) (*ApprovalWorkflow, error) {
	wf := &ApprovalWorkflow{}
	err := row.Scan(
		&wf.ID,
		&wf.SubjectID,
		&wf.OrganizationID,
		&wf.WorkflowType,
		&wf.Status,
		&wf.TotalSteps,
		&wf.CurrentStep,
		&wf.InitiatedBy,
		&wf.Justification,
		&wf.InitiatedAt,
		&wf.CompletedAt,
		&wf.CancelledBy,
		&wf.CancelReason,
		&wf.Version,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return wf, nil
}
