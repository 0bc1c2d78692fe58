package planner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentkernel/kernel/capability"
	"github.com/agentkernel/kernel/ledger"
	"github.com/agentkernel/kernel/model"
	"github.com/agentkernel/kernel/nucleus"
	"github.com/agentkernel/kernel/plan"
)

// scriptedClient returns successive canned text responses, clamping at the
// last once exhausted, and never requests tool calls so the Nucleus invoke
// loop finalizes on the first round.
type scriptedClient struct {
	responses []string
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	text := c.responses[c.calls]
	if c.calls < len(c.responses)-1 {
		c.calls++
	}
	return &model.Response{
		Content:    []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}}},
		StopReason: "end_turn",
	}, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func testCapabilities(t *testing.T) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry("v1")
	err := reg.Register("echo", nil, nil, false, capability.TaskFunc(
		func(ctx context.Context, rc capability.RunContext, input any) (any, error) {
			return input, nil
		},
	))
	require.NoError(t, err)
	return reg
}

func validPlanDoc(t *testing.T) string {
	t.Helper()
	doc := map[string]any{
		"tasks": []map[string]any{
			{"id": "t1", "capabilityRef": "echo", "input": map[string]any{"x": 1}},
		},
		"edges":     []map[string]any{},
		"rationale": "single echo step satisfies the goal",
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(raw)
}

func TestPlan_SelectsFirstValidCandidateByDefault(t *testing.T) {
	client := &scriptedClient{responses: []string{"thinking", validPlanDoc(t)}}
	nuc := nucleus.New(nucleus.DefaultConfig(8000), client, nil)
	p, err := New(nuc, nil)
	require.NoError(t, err)

	result, err := p.Plan(context.Background(), Input{
		Goal:         plan.Goal{Intent: "echo something"},
		Context:      plan.ContextPacket{Facts: map[string]any{"k": "v"}},
		Capabilities: testCapabilities(t),
	})
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)
	require.Equal(t, "echo", result.Tasks[0].CapabilityRef)
}

func TestPlan_RejectsUnknownCapabilityRef(t *testing.T) {
	doc := map[string]any{
		"tasks": []map[string]any{
			{"id": "t1", "capabilityRef": "nonexistent"},
		},
		"edges": []map[string]any{},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	client := &scriptedClient{responses: []string{"thinking", string(raw)}}
	nuc := nucleus.New(nucleus.DefaultConfig(8000), client, nil)
	p, err := New(nuc, nil)
	require.NoError(t, err)

	_, err = p.Plan(context.Background(), Input{
		Goal:         plan.Goal{Intent: "do something"},
		Context:      plan.ContextPacket{},
		Capabilities: testCapabilities(t),
	})
	require.Error(t, err)
}

func TestPlan_RejectsSchemaInvalidEmitDocument(t *testing.T) {
	client := &scriptedClient{responses: []string{"thinking", `{"not":"matching schema"}`}}
	nuc := nucleus.New(nucleus.DefaultConfig(8000), client, nil)
	p, err := New(nuc, nil)
	require.NoError(t, err)

	_, err = p.Plan(context.Background(), Input{
		Goal:         plan.Goal{Intent: "do something"},
		Context:      plan.ContextPacket{},
		Capabilities: testCapabilities(t),
	})
	require.Error(t, err)
}

func TestPlan_AppendsPlanSelectedLedgerEntry(t *testing.T) {
	client := &scriptedClient{responses: []string{"thinking", validPlanDoc(t)}}
	led := ledger.New(nil)
	nuc := nucleus.New(nucleus.DefaultConfig(8000), client, led)
	p, err := New(nuc, led)
	require.NoError(t, err)

	result, err := p.Plan(context.Background(), Input{
		Goal:         plan.Goal{Intent: "echo something"},
		Context:      plan.ContextPacket{Facts: map[string]any{"k": "v"}},
		Capabilities: testCapabilities(t),
	})
	require.NoError(t, err)

	entries := led.GetEntriesByType(ledger.TypePlanSelected)
	require.Len(t, entries, 1)
	require.Equal(t, result.ID, entries[0].Details["planId"])
}

func TestPlan_SelectorChoosesAmongMultipleCandidates(t *testing.T) {
	docA := validPlanDoc(t)
	docB := validPlanDoc(t)
	client := &scriptedClient{responses: []string{"thinking", docA, "thinking", docB}}
	nuc := nucleus.New(nucleus.DefaultConfig(8000), client, nil)
	p, err := New(nuc, nil)
	require.NoError(t, err)

	picked := -1
	_, err = p.Plan(context.Background(), Input{
		Goal:         plan.Goal{Intent: "echo something"},
		Context:      plan.ContextPacket{},
		Capabilities: testCapabilities(t),
		PlanCount:    2,
		Selector: func(candidates []plan.Plan) int {
			picked = 1
			return 1
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, picked)
}

func TestPlan_AllCandidatesRejectedReturnsError(t *testing.T) {
	client := &scriptedClient{responses: []string{"thinking", "not json at all"}}
	nuc := nucleus.New(nucleus.DefaultConfig(8000), client, nil)
	p, err := New(nuc, nil)
	require.NoError(t, err)

	_, err = p.Plan(context.Background(), Input{
		Goal:         plan.Goal{Intent: "do something"},
		Context:      plan.ContextPacket{},
		Capabilities: testCapabilities(t),
	})
	require.Error(t, err)
}
