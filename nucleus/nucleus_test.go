package nucleus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentkernel/kernel/ledger"
	"github.com/agentkernel/kernel/model"
	"github.com/agentkernel/kernel/tools"
)

// scriptedClient returns one canned Response per call, in order, clamping
// at the last once exhausted.
type scriptedClient struct {
	responses []*model.Response
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	resp := c.responses[c.calls]
	if c.calls < len(c.responses)-1 {
		c.calls++
	}
	return resp, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func textResponse(text string) *model.Response {
	return &model.Response{
		Content:    []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}}},
		StopReason: "end_turn",
	}
}

func toolCallResponse(name tools.ID, payload any) *model.Response {
	raw, _ := json.Marshal(payload)
	return &model.Response{
		ToolCalls:  []model.ToolCall{{Name: name, ID: "call-1", Payload: raw}},
		StopReason: "tool_use",
	}
}

func TestPreflight_DisabledAlwaysOK(t *testing.T) {
	n := New(DefaultConfig(1000), &scriptedClient{}, nil)
	result := n.Preflight(context.Background(), nil, nil, []string{"missing-key"})
	require.Equal(t, PreflightOK, result.Status)
}

func TestPreflight_EnabledReportsMissingKeys(t *testing.T) {
	cfg := DefaultConfig(1000)
	cfg.HooksPreflight = true
	n := New(cfg, &scriptedClient{}, nil)

	scope := NewScope()
	result := n.Preflight(context.Background(), scope, map[string]any{"present": 1}, []string{"present", "absent"})
	require.Equal(t, PreflightNeedsContext, result.Status)
	require.Equal(t, []string{"ctx:absent"}, result.Directives)
}

func TestPreflight_EnabledResolvesFromScopeOrFacts(t *testing.T) {
	cfg := DefaultConfig(1000)
	cfg.HooksPreflight = true
	n := New(cfg, &scriptedClient{}, nil)

	scope := NewScope()
	scope.Set("fromScope", 1)
	result := n.Preflight(context.Background(), scope, map[string]any{"fromFacts": 1}, []string{"fromScope", "fromFacts"})
	require.Equal(t, PreflightOK, result.Status)
}

func TestInvoke_FinalizesImmediatelyWithNoToolCalls(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{textResponse("final answer")}}
	n := New(DefaultConfig(8000), client, nil)

	result, err := n.Invoke(context.Background(), InvokeInput{
		TaskID:    "t1",
		Objective: "say something",
		Scope:     NewScope(),
	})
	require.NoError(t, err)
	require.Equal(t, "final answer", result.Output)
	require.Equal(t, 1, result.Rounds)
}

func TestInvoke_QueryContextToolResolvesFromScope(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{
		toolCallResponse(ToolQueryContext, map[string]any{"key": "x"}),
		textResponse("done"),
	}}
	n := New(DefaultConfig(8000), client, nil)

	scope := NewScope()
	scope.Set("x", 42)
	result, err := n.Invoke(context.Background(), InvokeInput{
		TaskID: "t1",
		Scope:  scope,
	})
	require.NoError(t, err)
	require.Equal(t, "done", result.Output)
}

func TestInvoke_ForcesFinalAtMaxQueryRounds(t *testing.T) {
	cfg := DefaultConfig(8000)
	cfg.MaxQueryRounds = 2
	toolResp := toolCallResponse(ToolQueryContext, map[string]any{"key": "x"})
	client := &scriptedClient{responses: []*model.Response{toolResp, toolResp, toolResp}}
	n := New(cfg, client, nil)

	result, err := n.Invoke(context.Background(), InvokeInput{
		TaskID: "t1",
		Scope:  NewScope(),
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Rounds)
}

func TestInvoke_RequestContextRetrievalUsesRetrievalFunc(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{
		toolCallResponse(ToolRequestContextRetrieval, map[string]any{"directive": "docs:x"}),
		textResponse("done"),
	}}
	n := New(DefaultConfig(8000), client, nil)

	called := false
	result, err := n.Invoke(context.Background(), InvokeInput{
		TaskID: "t1",
		Scope:  NewScope(),
		RetrievalFunc: func(ctx context.Context, directive string) (map[string]any, error) {
			called = true
			require.Equal(t, "docs:x", directive)
			return map[string]any{"body": "fetched"}, nil
		},
	})
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, "done", result.Output)
	require.Equal(t, 1, result.RetrievalRoundsUsed)
}

func TestInvoke_RetrievalUnavailableAfterMaxRoundsExhausted(t *testing.T) {
	cfg := DefaultConfig(8000)
	cfg.MaxRetrievalRounds = 1
	retrievalCall := toolCallResponse(ToolRequestContextRetrieval, map[string]any{"directive": "docs:x"})
	client := &scriptedClient{responses: []*model.Response{retrievalCall, retrievalCall, textResponse("done")}}
	n := New(cfg, client, nil)

	fetchCount := 0
	result, err := n.Invoke(context.Background(), InvokeInput{
		TaskID: "t1",
		Scope:  NewScope(),
		RetrievalFunc: func(ctx context.Context, directive string) (map[string]any, error) {
			fetchCount++
			return map[string]any{"body": "fetched"}, nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, "done", result.Output)
	require.Equal(t, 1, fetchCount)
	require.Equal(t, 1, result.RetrievalRoundsUsed)
}

func TestInvoke_DispatchesTaskToolsViaToolCaller(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{
		toolCallResponse("custom_tool", map[string]any{"a": 1}),
		textResponse("done"),
	}}
	n := New(DefaultConfig(8000), client, nil)

	var gotInput any
	result, err := n.Invoke(context.Background(), InvokeInput{
		TaskID:       "t1",
		Scope:        NewScope(),
		AllowedTools: []tools.ID{"custom_tool"},
		ToolCaller: func(ctx context.Context, name tools.ID, input any) (any, error) {
			gotInput = input
			return map[string]any{"ok": true}, nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, "done", result.Output)
	require.Equal(t, map[string]any{"a": float64(1)}, gotInput)
}

func TestInvoke_EmitsNucleusInferencePerRound(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{textResponse("done")}}
	led := ledger.New(nil)
	n := New(DefaultConfig(8000), client, led)

	_, err := n.Invoke(context.Background(), InvokeInput{TaskID: "t1", Scope: NewScope()})
	require.NoError(t, err)

	entries := led.GetEntriesByType(ledger.TypeNucleusInference)
	require.Len(t, entries, 1)
	require.Equal(t, "t1", entries[0].Details["taskId"])
}

func TestPostcheck_DisabledAlwaysComplete(t *testing.T) {
	n := New(DefaultConfig(1000), &scriptedClient{}, nil)
	result, err := n.Postcheck(context.Background(), func(ctx context.Context, output any) (PostcheckResult, error) {
		t.Fatal("postcheck func should not be called when disabled")
		return PostcheckResult{}, nil
	}, "output")
	require.NoError(t, err)
	require.Equal(t, PostcheckComplete, result.Status)
}

func TestPostcheck_EnabledDelegatesToFunc(t *testing.T) {
	cfg := DefaultConfig(1000)
	cfg.HooksPostcheck = true
	n := New(cfg, &scriptedClient{}, nil)

	result, err := n.Postcheck(context.Background(), func(ctx context.Context, output any) (PostcheckResult, error) {
		return PostcheckResult{Status: PostcheckEscalate, Reason: "needs review"}, nil
	}, "output")
	require.NoError(t, err)
	require.Equal(t, PostcheckEscalate, result.Status)
	require.Equal(t, "needs review", result.Reason)
}
