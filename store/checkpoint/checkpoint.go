// Package checkpoint implements the Checkpoint Store (C9): put/get/list/
// prune over versioned run snapshots, so a run can resume from its last
// durable point after a crash or caught error (§4.9).
//
// Grounded on runtime/agent/run/snapshot.go's framing of a snapshot as "a
// derived view... recomputed from the canonical append-only run log" —
// this kernel's Checkpoint.State plays that role directly, built from the
// scheduler's outputs/executed/ledger state rather than replayed Temporal
// history.
package checkpoint

import (
	"context"
	"fmt"

	"github.com/agentkernel/kernel/ledger"
	"github.com/agentkernel/kernel/plan"
)

// CurrentMajorVersion is the checkpoint schema's major version. A resume
// request against a checkpoint with a different major version is rejected
// (§4.9).
const CurrentMajorVersion = 1

// State is the serializable run state captured by a checkpoint.
type State struct {
	Goal     plan.Goal            `json:"goal"`
	Context  plan.ContextPacket   `json:"context"`
	Plan     plan.Plan            `json:"plan"`
	Outputs  map[string]any       `json:"outputs"`
	Executed []string             `json:"executed"`
	Ledger   []ledger.Entry       `json:"ledger"`
	Metrics  map[string]any       `json:"metrics"`
}

// Checkpoint is a single versioned snapshot of run state.
type Checkpoint struct {
	ID      string `json:"id"`
	RunID   string `json:"runId"`
	TS      int64  `json:"ts"`
	Version int    `json:"version"`
	State   State  `json:"state"`
}

// Validate rejects checkpoints missing required fields or carrying an
// incompatible major version.
func (c *Checkpoint) Validate() error {
	if c.RunID == "" {
		return fmt.Errorf("checkpoint: missing runId")
	}
	if c.ID == "" {
		return fmt.Errorf("checkpoint: missing id")
	}
	if c.Version != CurrentMajorVersion {
		return fmt.Errorf("checkpoint: incompatible version %d, expected %d", c.Version, CurrentMajorVersion)
	}
	return nil
}

// Metadata is the lightweight listing view returned by List.
type Metadata struct {
	ID    string
	RunID string
	TS    int64
}

// Store persists and retrieves checkpoints for a run.
type Store interface {
	Put(ctx context.Context, cp Checkpoint) error
	// Get returns the checkpoint with the given id, or the most recent one
	// for runID if id is empty.
	Get(ctx context.Context, runID, id string) (Checkpoint, error)
	List(ctx context.Context, runID string) ([]Metadata, error)
	// Prune removes all but the keepLast most recent checkpoints (by ts) for
	// runID.
	Prune(ctx context.Context, runID string, keepLast int) error
}

// ErrNotFound indicates no checkpoint matched the request.
var ErrNotFound = fmt.Errorf("checkpoint: not found")
