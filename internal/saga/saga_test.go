package saga

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-tprm-approvals/internal/errors"
)

func step(name string, trace *[]string, execErr, compErr error) Step {
	return Step{
		Name: name,
		Execute: func(ctx context.Context) error {
			*trace = append(*trace, "exec:"+name)
			return execErr
		},
		Compensate: func(ctx context.Context) error {
			*trace = append(*trace, "comp:"+name)
			return compErr
		},
	}
}

func TestRunExecutesInOrder(t *testing.T) {
	var trace []string
	c := NewCoordinator(zerolog.Nop(), []Step{
		step("a", &trace, nil, nil),
		step("b", &trace, nil, nil),
		step("c", &trace, nil, nil),
	})

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"exec:a", "exec:b", "exec:c"}, trace)
}

func TestRunCompensatesInReverseOrder(t *testing.T) {
	var trace []string
	boom := stderrors.New("provisioning unavailable")
	c := NewCoordinator(zerolog.Nop(), []Step{
		step("a", &trace, nil, nil),
		step("b", &trace, nil, nil),
		step("c", &trace, boom, nil),
	})

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSideEffect, errors.CodeOf(err))
	assert.True(t, stderrors.Is(err, boom))

	// The failed step is not compensated; completed steps are, in reverse.
	assert.Equal(t, []string{"exec:a", "exec:b", "exec:c", "comp:b", "comp:a"}, trace)
}

func TestCompensationFailureDoesNotMaskOriginalError(t *testing.T) {
	var trace []string
	boom := stderrors.New("step failed")
	c := NewCoordinator(zerolog.Nop(), []Step{
		step("a", &trace, nil, stderrors.New("undo also failed")),
		step("b", &trace, boom, nil),
	})

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, boom))
	// Compensation of a was still attempted.
	assert.Contains(t, trace, "comp:a")
}

func TestNilCompensationSkipped(t *testing.T) {
	var trace []string
	c := NewCoordinator(zerolog.Nop(), []Step{
		{Name: "no-undo", Execute: func(ctx context.Context) error {
			trace = append(trace, "exec:no-undo")
			return nil
		}},
		step("b", &trace, stderrors.New("fail"), nil),
	})

	require.Error(t, c.Run(context.Background()))
	assert.Equal(t, []string{"exec:no-undo", "exec:b"}, trace)
}

func TestEmptySagaSucceeds(t *testing.T) {
	c := NewCoordinator(zerolog.Nop(), nil)
	require.NoError(t, c.Run(context.Background()))
}
