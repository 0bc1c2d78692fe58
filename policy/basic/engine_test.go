package basic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentkernel/kernel/policy"
)

func TestEvaluate_BlockListDenies(t *testing.T) {
	e := New(Options{BlockCapabilities: []string{"danger"}})
	d, err := e.Evaluate(context.Background(), policy.ActionTaskPre, map[string]any{"capabilityRef": "danger"})
	require.NoError(t, err)
	require.False(t, d.Allow)
}

func TestEvaluate_AllowListDeniesUnlisted(t *testing.T) {
	e := New(Options{AllowCapabilities: []string{"safe"}})
	d, err := e.Evaluate(context.Background(), policy.ActionTaskPre, map[string]any{"capabilityRef": "other"})
	require.NoError(t, err)
	require.False(t, d.Allow)

	d, err = e.Evaluate(context.Background(), policy.ActionTaskPre, map[string]any{"capabilityRef": "safe"})
	require.NoError(t, err)
	require.True(t, d.Allow)
}

func TestEvaluate_PlanAdmitAlwaysAllowed(t *testing.T) {
	e := New(Options{BlockCapabilities: []string{"anything"}})
	d, err := e.Evaluate(context.Background(), policy.ActionPlanAdmit, map[string]any{"capabilityRef": "anything"})
	require.NoError(t, err)
	require.True(t, d.Allow)
}

func TestEvaluate_NoListsAllowsEverything(t *testing.T) {
	e := New(Options{})
	d, err := e.Evaluate(context.Background(), policy.ActionTaskPre, map[string]any{"capabilityRef": "whatever"})
	require.NoError(t, err)
	require.True(t, d.Allow)
}
