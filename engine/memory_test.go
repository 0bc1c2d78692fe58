package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartRun_ReturnsWorkflowResult(t *testing.T) {
	e := NewMemoryEngine()
	fn := func(ctx WorkflowContext, input any) (any, error) {
		return input.(string) + "-done", nil
	}

	handle, err := e.StartRun(context.Background(), "run1", fn, "goal")
	require.NoError(t, err)

	var result any
	require.NoError(t, handle.Wait(context.Background(), &result))
	require.Equal(t, "goal-done", result)
}

func TestStartRun_PropagatesWorkflowError(t *testing.T) {
	e := NewMemoryEngine()
	fn := func(ctx WorkflowContext, input any) (any, error) {
		return nil, context.DeadlineExceeded
	}

	handle, err := e.StartRun(context.Background(), "run1", fn, nil)
	require.NoError(t, err)

	var result any
	require.ErrorIs(t, handle.Wait(context.Background(), &result), context.DeadlineExceeded)
}

func TestExecuteActivity_ReturnsDescriptiveError(t *testing.T) {
	e := NewMemoryEngine()
	fn := func(ctx WorkflowContext, input any) (any, error) {
		return ctx.ExecuteActivity(ctx.Context(), "step", nil)
	}

	handle, err := e.StartRun(context.Background(), "run1", fn, nil)
	require.NoError(t, err)

	var result any
	require.Error(t, handle.Wait(context.Background(), &result))
}

func TestSignalChannel_SendAndReceive(t *testing.T) {
	e := NewMemoryEngine()
	var received any
	done := make(chan struct{})
	fn := func(ctx WorkflowContext, input any) (any, error) {
		ch := ctx.SignalChannel(SignalPause)
		go func() {
			var v any
			_ = ch.Receive(ctx.Context(), &v)
			received = v
			close(done)
		}()
		return nil, nil
	}

	handle, err := e.StartRun(context.Background(), "run1", fn, nil)
	require.NoError(t, err)
	require.NoError(t, handle.Signal(context.Background(), SignalPause, "pause-payload"))

	<-done
	require.Equal(t, "pause-payload", received)
}

func TestSignalChannel_ReceiveAsyncNonBlocking(t *testing.T) {
	e := NewMemoryEngine()
	var got bool
	fn := func(ctx WorkflowContext, input any) (any, error) {
		ch := ctx.SignalChannel(SignalResume)
		var v any
		got = ch.ReceiveAsync(&v)
		return nil, nil
	}

	handle, err := e.StartRun(context.Background(), "run1", fn, nil)
	require.NoError(t, err)
	var result any
	require.NoError(t, handle.Wait(context.Background(), &result))
	require.False(t, got)
}

func TestSleep_BlocksForDurationThenReturns(t *testing.T) {
	e := NewMemoryEngine()
	fn := func(ctx WorkflowContext, input any) (any, error) {
		start := time.Now()
		err := ctx.Sleep(ctx.Context(), 5*time.Millisecond)
		if err != nil {
			return nil, err
		}
		return time.Since(start) >= 5*time.Millisecond, nil
	}

	handle, err := e.StartRun(context.Background(), "run1", fn, nil)
	require.NoError(t, err)
	var result any
	require.NoError(t, handle.Wait(context.Background(), &result))
	require.True(t, result.(bool))
}
