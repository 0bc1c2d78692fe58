package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func echoTool() *Func {
	return &Func{
		IDValue: "echo",
		Desc:    "echoes input",
		CallFunc: func(ctx context.Context, input any, idemKey string) (any, error) {
			return input, nil
		},
	}
}

func TestRegisterResolve_RoundTrips(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool()))

	tool, ok := reg.Resolve("echo")
	require.True(t, ok)
	out, err := tool.Call(context.Background(), "hi", "")
	require.NoError(t, err)
	require.Equal(t, "hi", out)
}

func TestRegister_DuplicateRejected(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool()))
	require.Error(t, reg.Register(echoTool()))
}

func TestValidateInput_UsesCompiledSchema(t *testing.T) {
	reg := NewRegistry()
	tool := &Func{
		IDValue:  "typed",
		InSchema: []byte(`{"type":"object","required":["x"],"properties":{"x":{"type":"number"}}}`),
		CallFunc: func(ctx context.Context, input any, idemKey string) (any, error) { return nil, nil },
	}
	require.NoError(t, reg.Register(tool))

	require.NoError(t, reg.ValidateInput("typed", map[string]any{"x": 1.0}))
	require.Error(t, reg.ValidateInput("typed", map[string]any{}))
}

func TestValidateInput_NoSchemaAlwaysPasses(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool()))
	require.NoError(t, reg.ValidateInput("echo", "anything"))
}

func TestRegister_MalformedSchemaFailsFast(t *testing.T) {
	reg := NewRegistry()
	tool := &Func{IDValue: "bad", InSchema: []byte(`{not json`)}
	err := reg.Register(tool)
	require.Error(t, err)
	require.False(t, reg.Has("bad"))
}
