package toolenvelope

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentkernel/kernel/ledger"
	"github.com/agentkernel/kernel/tools"
)

func echoTool() *tools.Func {
	return &tools.Func{
		IDValue: "echo",
		CallFunc: func(ctx context.Context, input any, idemKey string) (any, error) {
			return input, nil
		},
	}
}

func failingTool() *tools.Func {
	return &tools.Func{
		IDValue: "boom",
		CallFunc: func(ctx context.Context, input any, idemKey string) (any, error) {
			return nil, errors.New("kaboom")
		},
	}
}

func TestCall_EmitsStartAndCompleteOnSuccess(t *testing.T) {
	led := ledger.New(nil)
	w := Wrap(echoTool(), "t1", led)

	out, err := w.Call(context.Background(), map[string]any{"x": 1}, "")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"x": 1}, out)

	entries := led.GetEntriesByType(ledger.TypeToolCall)
	require.Len(t, entries, 2)
	require.Equal(t, "start", entries[0].Details["stage"])
	require.Equal(t, "complete", entries[1].Details["stage"])
}

func TestCall_EmitsStartAndErrorOnFailure(t *testing.T) {
	led := ledger.New(nil)
	w := Wrap(failingTool(), "t1", led)

	_, err := w.Call(context.Background(), nil, "")
	require.Error(t, err)

	entries := led.GetEntriesByType(ledger.TypeToolCall)
	require.Len(t, entries, 2)
	require.Equal(t, "start", entries[0].Details["stage"])
	require.Equal(t, "error", entries[1].Details["stage"])
}

func TestCall_WithNilLedgerDoesNotPanic(t *testing.T) {
	w := Wrap(echoTool(), "t1", nil)
	out, err := w.Call(context.Background(), "hi", "")
	require.NoError(t, err)
	require.Equal(t, "hi", out)
}

func TestCall_UsesIdemKeyAsEnvelopeID(t *testing.T) {
	led := ledger.New(nil)
	w := Wrap(echoTool(), "t1", led)

	_, err := w.Call(context.Background(), "hi", "fixed-key")
	require.NoError(t, err)

	entries := led.GetEntriesByType(ledger.TypeToolCall)
	env := entries[0].Details["envelope"].(map[string]any)
	require.Equal(t, "fixed-key", env["id"])
}

func TestDecoratorMethods_DelegateToInner(t *testing.T) {
	w := Wrap(echoTool(), "t1", nil)
	require.Equal(t, tools.ID("echo"), w.Name())
}
