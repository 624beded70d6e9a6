// Package saga sequences multi-system side effects that cannot join the
// storage transaction. Forward steps run strictly in order; on failure,
// completed steps are compensated in reverse order, best-effort.
package saga

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-tprm-approvals/internal/errors"
)

// Step pairs a forward action with its compensation. Compensate may be nil
// for steps that need no undo.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Coordinator runs a fixed sequence of steps.
type Coordinator struct {
	steps []Step
	log   zerolog.Logger
}

// NewCoordinator builds a coordinator over the given steps.
func NewCoordinator(log zerolog.Logger, steps []Step) *Coordinator {
	return &Coordinator{steps: steps, log: log}
}

// Run executes every step in order. When a step fails, compensations for the
// already-completed steps run in reverse order; compensation failures are
// logged but never override the original error. The coordinator attempts a
// full undo — it does not guarantee one.
func (c *Coordinator) Run(ctx context.Context) error {
	for i, step := range c.steps {
		if err := step.Execute(ctx); err != nil {
			c.log.Error().Err(err).
				Str("step", step.Name).
				Int("completed_steps", i).
				Msg("saga step failed; compensating")
			c.compensate(ctx, i-1)
			return errors.Wrap(err, errors.ErrCodeSideEffect,
				fmt.Sprintf("saga step %q failed", step.Name))
		}
	}
	return nil
}

func (c *Coordinator) compensate(ctx context.Context, from int) {
	for i := from; i >= 0; i-- {
		step := c.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			c.log.Warn().Err(err).
				Str("step", step.Name).
				Msg("saga compensation failed")
		}
	}
}
