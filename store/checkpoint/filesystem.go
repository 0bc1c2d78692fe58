package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Filesystem is a Store backed by one JSON file per checkpoint, at
// <base>/<runId>/<checkpointId>.json (§4.9).
type Filesystem struct {
	base string
}

// NewFilesystem builds a Filesystem store rooted at base.
func NewFilesystem(base string) *Filesystem {
	return &Filesystem{base: base}
}

func (f *Filesystem) runDir(runID string) string {
	return filepath.Join(f.base, sanitize(runID))
}

func (f *Filesystem) path(runID, id string) string {
	return filepath.Join(f.runDir(runID), sanitize(id)+".json")
}

// Put validates and writes cp to its path.
func (f *Filesystem) Put(_ context.Context, cp Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(f.runDir(cp.RunID), 0o755); err != nil {
		return fmt.Errorf("checkpoint: creating run dir: %w", err)
	}
	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: encoding: %w", err)
	}
	return os.WriteFile(f.path(cp.RunID, cp.ID), raw, 0o644)
}

// Get reads the checkpoint with the given id, or the most recent one for
// runID if id is empty.
func (f *Filesystem) Get(ctx context.Context, runID, id string) (Checkpoint, error) {
	if id != "" {
		return f.readFile(f.path(runID, id))
	}
	metas, err := f.List(ctx, runID)
	if err != nil {
		return Checkpoint{}, err
	}
	if len(metas) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	best := metas[0]
	for _, m := range metas[1:] {
		if m.TS > best.TS {
			best = m
		}
	}
	return f.readFile(f.path(runID, best.ID))
}

func (f *Filesystem) readFile(path string) (Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: reading %s: %w", path, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: decoding %s: %w", path, err)
	}
	return cp, nil
}

// List returns metadata for every checkpoint file under runID's directory.
func (f *Filesystem) List(_ context.Context, runID string) ([]Metadata, error) {
	entries, err := os.ReadDir(f.runDir(runID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: listing %s: %w", runID, err)
	}
	var out []Metadata
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		cp, err := f.readFile(filepath.Join(f.runDir(runID), e.Name()))
		if err != nil {
			continue
		}
		out = append(out, Metadata{ID: cp.ID, RunID: cp.RunID, TS: cp.TS})
	}
	return out, nil
}

// Prune removes all but the keepLast most recent checkpoint files.
func (f *Filesystem) Prune(ctx context.Context, runID string, keepLast int) error {
	metas, err := f.List(ctx, runID)
	if err != nil {
		return err
	}
	if len(metas) <= keepLast {
		return nil
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].TS > metas[j].TS })
	for _, m := range metas[keepLast:] {
		if err := os.Remove(f.path(runID, m.ID)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func sanitize(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
}
