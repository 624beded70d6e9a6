package repository

import (
	"context"
	"time"
)

// Store is the storage contract the approval service runs on. The Postgres
// implementation is authoritative; tests substitute an in-memory fake with
// the same transactional semantics.
type Store interface {
	// InTx executes fn inside one transaction scope wrapped by the retry
	// policy: all writes commit together or not at all, and classified
	// conflicts re-run fn against fresh state.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// GetWorkflow loads a workflow with its steps.
	GetWorkflow(ctx context.Context, id, orgID string) (*ApprovalWorkflow, error)

	// ListPendingSteps returns open steps the identity may act on, ordered
	// by deadline ascending, undated steps last.
	ListPendingSteps(ctx context.Context, orgID, identity string, roles []string) ([]*ApprovalStep, error)

	// Statistics aggregates workflow metrics for an organization.
	Statistics(ctx context.Context, orgID string, from, to *time.Time) (*Statistics, error)
}

// Tx is the set of mutations available inside one transaction scope.
type Tx interface {
	// Context binds the open storage transaction into ctx so collaborators
	// invoked inside the scope can join it.
	Context(ctx context.Context) context.Context

	// InsertWorkflow persists a workflow and its full chain atomically.
	InsertWorkflow(ctx context.Context, wf *ApprovalWorkflow, steps []*ApprovalStep) error

	// GetWorkflowForUpdate loads and locks a workflow with its steps.
	GetWorkflowForUpdate(ctx context.Context, id, orgID string) (*ApprovalWorkflow, error)

	// RecordDecision writes a step's decision exactly once; a second write
	// fails with a business-logic error.
	RecordDecision(ctx context.Context, step *ApprovalStep) error

	// UpdateWorkflow writes workflow state under the optimistic version
	// check; a concurrent modification surfaces as a retryable conflict.
	UpdateWorkflow(ctx context.Context, wf *ApprovalWorkflow) error
}
