package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-tprm-approvals/internal/database"
)

// PostgresStore composes the repositories behind the storage contract the
// approval service consumes. Every mutation path runs through InTx, which
// layers the retry policy over the transaction scope.
type PostgresStore struct {
	db        *database.DB
	retry     database.RetryPolicy
	workflows *ApprovalWorkflowRepository
	steps     *ApprovalStepsRepository
}

// NewPostgresStore wires the repositories over one pool.
func NewPostgresStore(db *database.DB, retry database.RetryPolicy) *PostgresStore {
	return &PostgresStore{
		db:        db,
		retry:     retry,
		workflows: NewApprovalWorkflowRepository(db),
		steps:     NewApprovalStepsRepository(db),
	}
}

// InTx runs fn inside a transaction scope wrapped by the retry policy. fn
// re-executes from the top on a classified conflict, so every precondition
// it checks is re-evaluated against fresh state on each attempt.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.InTransactionWithRetry(ctx, s.retry, func(tx pgx.Tx) error {
		return fn(&PostgresTx{store: s, tx: tx})
	})
}

// GetWorkflow loads a workflow with its steps, outside any transaction.
func (s *PostgresStore) GetWorkflow(ctx context.Context, id, orgID string) (*ApprovalWorkflow, error) {
	wf, err := s.workflows.GetByID(ctx, s.db, id, orgID)
	if err != nil {
		return nil, err
	}
	steps, err := s.steps.ListByWorkflow(ctx, s.db, wf.ID)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	return wf, nil
}

// ListPendingSteps returns the open steps the identity may act on.
func (s *PostgresStore) ListPendingSteps(ctx context.Context, orgID, identity string, roles []string) ([]*ApprovalStep, error) {
	return s.steps.ListPendingForApprover(ctx, orgID, identity, roles)
}

// Statistics aggregates workflow metrics for an organization.
func (s *PostgresStore) Statistics(ctx context.Context, orgID string, from, to *time.Time) (*Statistics, error) {
	return s.workflows.Statistics(ctx, orgID, from, to)
}

// PostgresTx exposes the mutations available inside one transaction scope.
type PostgresTx struct {
	store *PostgresStore
	tx    pgx.Tx
}

// Context binds the open transaction into ctx so side-effect handlers built
// on the same database package can join the scope via QuerierFor.
func (t *PostgresTx) Context(ctx context.Context) context.Context {
	return database.WithTx(ctx, t.tx)
}

// InsertWorkflow persists the workflow and its chain atomically.
func (t *PostgresTx) InsertWorkflow(ctx context.Context, wf *ApprovalWorkflow, steps []*ApprovalStep) error {
	return t.store.workflows.Insert(ctx, t.tx, wf, steps)
}

// GetWorkflowForUpdate row-locks the workflow and loads its steps.
func (t *PostgresTx) GetWorkflowForUpdate(ctx context.Context, id, orgID string) (*ApprovalWorkflow, error) {
	wf, err := t.store.workflows.GetForUpdate(ctx, t.tx, id, orgID)
	if err != nil {
		return nil, err
	}
	steps, err := t.store.steps.ListByWorkflow(ctx, t.tx, wf.ID)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	return wf, nil
}

// RecordDecision writes a step's decision exactly once.
func (t *PostgresTx) RecordDecision(ctx context.Context, step *ApprovalStep) error {
	return t.store.steps.RecordDecision(ctx, t.tx, step)
}

// UpdateWorkflow writes workflow state under the optimistic version check.
func (t *PostgresTx) UpdateWorkflow(ctx context.Context, wf *ApprovalWorkflow) error {
	return t.store.workflows.Update(ctx, t.tx, wf)
}
