package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
)

// These tests drive temporalWorkflowContext through Temporal's own test
// environment rather than a live server, matching the SDK's own testing
// convention for workflow code (workflow.Context methods panic outside a
// running workflow, so they cannot be exercised by calling them directly).

func registerTestWorkflow(env *testsuite.TestWorkflowEnvironment, fn WorkflowFunc) {
	env.RegisterWorkflowWithOptions(func(ctx workflow.Context, input any) (any, error) {
		return fn(newTemporalWorkflowContext(ctx), input)
	}, workflow.RegisterOptions{Name: "kernel.testworkflow"})
}

func TestTemporalWorkflowContext_SleepAdvancesMockedClock(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()

	fn := func(ctx WorkflowContext, input any) (any, error) {
		before := ctx.Now()
		if err := ctx.Sleep(ctx.Context(), time.Hour); err != nil {
			return nil, err
		}
		after := ctx.Now()
		return after.Sub(before) >= time.Hour, nil
	}
	registerTestWorkflow(env, fn)

	env.ExecuteWorkflow("kernel.testworkflow", nil)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result any
	require.NoError(t, env.GetWorkflowResult(&result))
	require.True(t, result.(bool))
}

func TestTemporalWorkflowContext_ExecuteActivityReturnsRegisteredResult(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterActivityWithOptions(func(ctx context.Context, input any) (any, error) {
		return "activity-done", nil
	}, activity.RegisterOptions{Name: "step"})

	fn := func(ctx WorkflowContext, input any) (any, error) {
		return ctx.ExecuteActivity(ctx.Context(), "step", input)
	}
	registerTestWorkflow(env, fn)

	env.ExecuteWorkflow("kernel.testworkflow", "in")

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result any
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, "activity-done", result)
}

func TestTemporalWorkflowContext_SignalDeliversPayload(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()

	fn := func(ctx WorkflowContext, input any) (any, error) {
		ch := ctx.SignalChannel(SignalPause)
		var v any
		if err := ch.Receive(ctx.Context(), &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	registerTestWorkflow(env, fn)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPause, "resume-now")
	}, time.Millisecond)

	env.ExecuteWorkflow("kernel.testworkflow", nil)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result any
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, "resume-now", result)
}
