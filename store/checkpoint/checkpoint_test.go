package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleCheckpoint(runID, id string, ts int64) Checkpoint {
	return Checkpoint{
		ID:      id,
		RunID:   runID,
		TS:      ts,
		Version: CurrentMajorVersion,
		State: State{
			Outputs:  map[string]any{"t1": "done"},
			Executed: []string{"t1"},
		},
	}
}

func testStores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory":     NewMemory(),
		"filesystem": NewFilesystem(t.TempDir()),
	}
}

func TestPutGet_RoundTrips(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cp := sampleCheckpoint("run1", "cp1", 100)
			require.NoError(t, store.Put(ctx, cp))

			got, err := store.Get(ctx, "run1", "cp1")
			require.NoError(t, err)
			require.Equal(t, cp.ID, got.ID)
			require.Equal(t, cp.State.Outputs, got.State.Outputs)
		})
	}
}

func TestGet_EmptyIDReturnsMostRecent(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Put(ctx, sampleCheckpoint("run1", "cp1", 100)))
			require.NoError(t, store.Put(ctx, sampleCheckpoint("run1", "cp2", 200)))

			got, err := store.Get(ctx, "run1", "")
			require.NoError(t, err)
			require.Equal(t, "cp2", got.ID)
		})
	}
}

func TestGet_MissingReturnsErrNotFound(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "missing-run", "")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestList_ReturnsAllCheckpointMetadata(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Put(ctx, sampleCheckpoint("run1", "cp1", 100)))
			require.NoError(t, store.Put(ctx, sampleCheckpoint("run1", "cp2", 200)))

			metas, err := store.List(ctx, "run1")
			require.NoError(t, err)
			require.Len(t, metas, 2)
		})
	}
}

func TestPrune_KeepsOnlyMostRecent(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Put(ctx, sampleCheckpoint("run1", "cp1", 100)))
			require.NoError(t, store.Put(ctx, sampleCheckpoint("run1", "cp2", 200)))
			require.NoError(t, store.Put(ctx, sampleCheckpoint("run1", "cp3", 300)))

			require.NoError(t, store.Prune(ctx, "run1", 1))

			metas, err := store.List(ctx, "run1")
			require.NoError(t, err)
			require.Len(t, metas, 1)
			require.Equal(t, "cp3", metas[0].ID)
		})
	}
}

func TestPut_RejectsIncompatibleVersion(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			cp := sampleCheckpoint("run1", "cp1", 100)
			cp.Version = CurrentMajorVersion + 1
			err := store.Put(context.Background(), cp)
			require.Error(t, err)
		})
	}
}

func TestPut_RejectsMissingRunID(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			cp := sampleCheckpoint("", "cp1", 100)
			err := store.Put(context.Background(), cp)
			require.Error(t, err)
		})
	}
}
