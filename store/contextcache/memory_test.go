package contextcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory_GetMissingReturnsFalse(t *testing.T) {
	c := NewMemory()
	v, ok, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, v)
}

func TestMemory_SetThenGetRoundTrips(t *testing.T) {
	c := NewMemory()
	require.NoError(t, c.Set(context.Background(), "k1", map[string]any{"a": 1}))

	v, ok, err := c.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, map[string]any{"a": 1}, v)
}

func TestMemory_GetReturnsIndependentCopy(t *testing.T) {
	c := NewMemory()
	require.NoError(t, c.Set(context.Background(), "k1", map[string]any{"a": 1}))

	v, _, err := c.Get(context.Background(), "k1")
	require.NoError(t, err)
	v["a"] = 2

	v2, _, err := c.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, 1, v2["a"])
}
