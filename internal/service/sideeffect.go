package service

import (
	"context"
	"sync"
	"time"

	"github.com/pesio-ai/be-tprm-approvals/internal/errors"
	"github.com/pesio-ai/be-tprm-approvals/internal/repository"
	"github.com/pesio-ai/be-tprm-approvals/internal/saga"
)

// Approval is the payload handed to a side-effect handler when a workflow
// reaches terminal approval.
type Approval struct {
	WorkflowID     string
	SubjectID      string
	OrganizationID string
	WorkflowType   repository.WorkflowType
	InitiatedBy    string
	ApprovedBy     string // decider of the final step
	Justification  *string
	CompletedAt    time.Time
}

// SideEffectHandler applies the terminal side effect for one workflow type,
// mutating the subject entity's externally-owned state. It runs inside the
// decision's transaction scope (join it via database.QuerierFor on the
// handler's pool) and must be idempotent: a retry that committed the
// workflow mutation but failed afterwards will invoke it again.
type SideEffectHandler interface {
	ApplyApproval(ctx context.Context, approval Approval) error
}

// SideEffectFunc adapts a function to SideEffectHandler.
type SideEffectFunc func(ctx context.Context, approval Approval) error

func (f SideEffectFunc) ApplyApproval(ctx context.Context, approval Approval) error {
	return f(ctx, approval)
}

// SagaHandler marks a handler whose side effect crosses storage boundaries
// and therefore cannot join the decision transaction. The engine runs the
// returned steps through the saga coordinator after commit; its compensation
// logic, not a database rollback, governs partial failure.
type SagaHandler interface {
	SideEffectHandler
	SagaSteps(approval Approval) []saga.Step
}

// HandlerRegistry maps workflow types to their side-effect handlers.
// New workflow types are additive: register a handler, no dispatch code
// changes.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[repository.WorkflowType]SideEffectHandler
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[repository.WorkflowType]SideEffectHandler)}
}

// Register binds a handler to a workflow type. Exactly one handler per type.
func (r *HandlerRegistry) Register(workflowType repository.WorkflowType, handler SideEffectHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[workflowType]; exists {
		return errors.Newf(errors.ErrCodeValidation,
			"side-effect handler already registered for workflow type %q", workflowType)
	}
	r.handlers[workflowType] = handler
	return nil
}

// Resolve returns the handler for a workflow type.
func (r *HandlerRegistry) Resolve(workflowType repository.WorkflowType) (SideEffectHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[workflowType]
	return h, ok
}
