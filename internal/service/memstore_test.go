package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pesio-ai/be-tprm-approvals/internal/database"
	"github.com/pesio-ai/be-tprm-approvals/internal/errors"
	"github.com/pesio-ai/be-tprm-approvals/internal/repository"
)

// memStore is an in-memory repository.Store with the same transactional
// semantics as the Postgres store: a coarse lock stands in for the row lock,
// a snapshot restore stands in for rollback, version checks surface
// conflicts, and InTx re-runs the unit of work through the retry policy.
type memStore struct {
	mu  sync.Mutex
	wfs map[string]*repository.ApprovalWorkflow

	// injectConflicts makes the next N UpdateWorkflow calls fail with a
	// retryable conflict.
	injectConflicts int
	updateCalls     int
}

func newMemStore() *memStore {
	return &memStore{wfs: make(map[string]*repository.ApprovalWorkflow)}
}

func (m *memStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	policy := database.RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	return policy.Execute(ctx, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		snapshot := m.snapshotLocked()
		if err := fn(&memTx{s: m}); err != nil {
			m.wfs = snapshot
			return err
		}
		return nil
	})
}

func (m *memStore) GetWorkflow(_ context.Context, id, orgID string) (*repository.ApprovalWorkflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wf, ok := m.wfs[id]
	if !ok || wf.OrganizationID != orgID {
		return nil, errors.NotFound("approval workflow", id)
	}
	return cloneWorkflow(wf), nil
}

func (m *memStore) ListPendingSteps(_ context.Context, orgID, identity string, roles []string) ([]*repository.ApprovalStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roleSet := make(map[string]bool, len(roles))
	for _, r := range roles {
		roleSet[r] = true
	}

	var open []*repository.ApprovalStep
	for _, wf := range m.wfs {
		if wf.OrganizationID != orgID {
			continue
		}
		if wf.Status != repository.WorkflowPending && wf.Status != repository.WorkflowInProgress {
			continue
		}
		for _, step := range wf.Steps {
			if !step.Open(wf.CurrentStep) {
				continue
			}
			if step.ApproverID != nil {
				if *step.ApproverID == identity {
					open = append(open, cloneStep(step))
				}
			} else if roleSet[step.ApproverRole] {
				open = append(open, cloneStep(step))
			}
		}
	}

	sort.SliceStable(open, func(i, j int) bool {
		a, b := open[i].RequiredAt, open[j].RequiredAt
		switch {
		case a == nil && b == nil:
			return open[i].CreatedAt.Before(open[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return open, nil
}

func (m *memStore) Statistics(_ context.Context, orgID string, from, to *time.Time) (*repository.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &repository.Statistics{CountsByStatus: make(map[repository.WorkflowStatus]int)}
	var terminal int
	var totalDecision time.Duration
	for _, wf := range m.wfs {
		if wf.OrganizationID != orgID {
			continue
		}
		if from != nil && wf.InitiatedAt.Before(*from) {
			continue
		}
		if to != nil && wf.InitiatedAt.After(*to) {
			continue
		}
		stats.CountsByStatus[wf.Status]++
		stats.Total++
		if wf.CompletedAt != nil {
			terminal++
			totalDecision += wf.CompletedAt.Sub(wf.InitiatedAt)
		}
	}
	if terminal > 0 {
		stats.ApprovalRate = float64(stats.CountsByStatus[repository.WorkflowApproved]) / float64(terminal)
		stats.MeanTimeToDecision = totalDecision / time.Duration(terminal)
	}
	return stats, nil
}

func (m *memStore) snapshotLocked() map[string]*repository.ApprovalWorkflow {
	snap := make(map[string]*repository.ApprovalWorkflow, len(m.wfs))
	for id, wf := range m.wfs {
		snap[id] = cloneWorkflow(wf)
	}
	return snap
}

// mustGet reads the stored state directly, for assertions.
func (m *memStore) mustGet(id string) *repository.ApprovalWorkflow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneWorkflow(m.wfs[id])
}

// ── transaction view ──────────────────────────────────────────────────────────

type memTx struct {
	s *memStore
}

func (t *memTx) Context(ctx context.Context) context.Context { return ctx }

func (t *memTx) InsertWorkflow(_ context.Context, wf *repository.ApprovalWorkflow, steps []*repository.ApprovalStep) error {
	now := time.Now().UTC()
	stored := cloneWorkflow(wf)
	stored.CreatedAt, stored.UpdatedAt = now, now
	stored.Steps = make([]*repository.ApprovalStep, 0, len(steps))
	for _, step := range steps {
		sc := cloneStep(step)
		sc.CreatedAt, sc.UpdatedAt = now, now
		stored.Steps = append(stored.Steps, sc)
		step.CreatedAt, step.UpdatedAt = now, now
	}
	wf.CreatedAt, wf.UpdatedAt = now, now
	wf.Steps = steps
	t.s.wfs[wf.ID] = stored
	return nil
}

func (t *memTx) GetWorkflowForUpdate(_ context.Context, id, orgID string) (*repository.ApprovalWorkflow, error) {
	wf, ok := t.s.wfs[id]
	if !ok || wf.OrganizationID != orgID {
		return nil, errors.NotFound("approval workflow", id)
	}
	return cloneWorkflow(wf), nil
}

func (t *memTx) RecordDecision(_ context.Context, step *repository.ApprovalStep) error {
	wf, ok := t.s.wfs[step.WorkflowID]
	if !ok {
		return errors.NotFound("approval workflow", step.WorkflowID)
	}
	for _, stored := range wf.Steps {
		if stored.ID != step.ID {
			continue
		}
		if stored.Decision != nil {
			return errors.New(errors.ErrCodeBusinessLogic, "step already decided")
		}
		*stored = *cloneStep(step)
		stored.UpdatedAt = time.Now().UTC()
		return nil
	}
	return errors.NotFound("approval step", step.ID)
}

func (t *memTx) UpdateWorkflow(_ context.Context, wf *repository.ApprovalWorkflow) error {
	t.s.updateCalls++
	if t.s.injectConflicts > 0 {
		t.s.injectConflicts--
		return errors.Conflict("approval workflow was modified concurrently")
	}

	stored, ok := t.s.wfs[wf.ID]
	if !ok {
		return errors.NotFound("approval workflow", wf.ID)
	}
	if stored.Version != wf.Version {
		return errors.Conflict("approval workflow was modified concurrently")
	}

	stored.Status = wf.Status
	stored.CurrentStep = wf.CurrentStep
	stored.CompletedAt = wf.CompletedAt
	stored.CancelledBy = wf.CancelledBy
	stored.CancelReason = wf.CancelReason
	stored.Version++
	stored.UpdatedAt = time.Now().UTC()
	wf.Version = stored.Version
	wf.UpdatedAt = stored.UpdatedAt
	return nil
}

// ── clone helpers ─────────────────────────────────────────────────────────────

func cloneWorkflow(wf *repository.ApprovalWorkflow) *repository.ApprovalWorkflow {
	if wf == nil {
		return nil
	}
	c := *wf
	c.Steps = make([]*repository.ApprovalStep, 0, len(wf.Steps))
	for _, step := range wf.Steps {
		c.Steps = append(c.Steps, cloneStep(step))
	}
	sort.Slice(c.Steps, func(i, j int) bool { return c.Steps[i].StepOrder < c.Steps[j].StepOrder })
	return &c
}

func cloneStep(step *repository.ApprovalStep) *repository.ApprovalStep {
	c := *step
	if step.Conditions != nil {
		c.Conditions = append([]string(nil), step.Conditions...)
	}
	return &c
}
