// Package replay implements the Replay Bundle Exporter (C10): it bundles
// a completed run's goal, context, plan(s), ledger, task I/O, and
// checkpoints into a portable, validatable directory (§4.10).
//
// Grounded on runtime/agent/run/snapshot.go's "derived view recomputed
// from the canonical append-only run log" framing (a bundle is exactly
// that derived view, persisted to disk instead of held in memory) and
// features/run/mongo/store.go's document-per-artifact persistence shape.
package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentkernel/kernel/ledger"
	"github.com/agentkernel/kernel/plan"
	"github.com/agentkernel/kernel/store/checkpoint"
)

// SchemaVersion is the bundle layout's own version, independent of
// checkpoint.CurrentMajorVersion.
const SchemaVersion = 1

// Run is everything a completed (or in-flight, for a partial export) run
// holds that the bundle needs to capture.
type Run struct {
	RunID       string
	Goal        plan.Goal
	Context     plan.ContextPacket
	Plans       []plan.Plan // all candidates; SelectedPlanID names the chosen one
	SelectedPlanID string
	Ledger      []ledger.Entry
	TaskIO      map[string]TaskIO // keyed by taskId
	Checkpoints []checkpoint.Checkpoint
	Planner     PlannerRecord
}

// TaskIO captures a single task's recorded input/output pair.
type TaskIO struct {
	Input  any `json:"input"`
	Output any `json:"output"`
}

// PlannerRecord captures the planner's own prompts/rationale/digests for
// the exported run, written to planner.json.
type PlannerRecord struct {
	ContextRef  string         `json:"contextRef"`
	Rationale   string         `json:"rationale,omitempty"`
	PromptDigests []string     `json:"promptDigests,omitempty"`
	Candidates  int            `json:"candidates"`
	Rejections  []string       `json:"rejections,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// manifest is written last, over the digests of every other file in the
// bundle, so validate(path) can detect partial or tampered exports.
type manifest struct {
	SchemaVersion int               `json:"schemaVersion"`
	RunID         string            `json:"runId"`
	Files         map[string]string `json:"files"` // relative path -> sha256 hex digest
	Digest        string            `json:"digest"`
}

// Export writes run's artifacts to a fresh directory tree rooted at path
// (§4.10 bundle layout), finishing with manifest.json.
func Export(path string, run Run) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("replay: creating bundle dir: %w", err)
	}

	files := map[string][]byte{}

	goalRaw, err := json.MarshalIndent(run.Goal, "", "  ")
	if err != nil {
		return fmt.Errorf("replay: encoding goal: %w", err)
	}
	files["goal.json"] = goalRaw

	ctxRaw, err := json.MarshalIndent(run.Context, "", "  ")
	if err != nil {
		return fmt.Errorf("replay: encoding context: %w", err)
	}
	files["context.json"] = ctxRaw

	for _, p := range run.Plans {
		raw, err := json.MarshalIndent(planRecord{Plan: p, Selected: p.ID == run.SelectedPlanID}, "", "  ")
		if err != nil {
			return fmt.Errorf("replay: encoding plan %s: %w", p.ID, err)
		}
		files[filepath.Join("plans", p.ID+".json")] = raw
	}

	plannerRaw, err := json.MarshalIndent(run.Planner, "", "  ")
	if err != nil {
		return fmt.Errorf("replay: encoding planner record: %w", err)
	}
	files["planner.json"] = plannerRaw

	ledgerRaw, err := ledger.WriteJSONL(run.Ledger)
	if err != nil {
		return fmt.Errorf("replay: encoding ledger: %w", err)
	}
	files["ledger.jsonl"] = ledgerRaw

	for taskID, io := range run.TaskIO {
		raw, err := json.MarshalIndent(io, "", "  ")
		if err != nil {
			return fmt.Errorf("replay: encoding task-io %s: %w", taskID, err)
		}
		files[filepath.Join("task-io", taskID+".json")] = raw
	}

	for _, cp := range run.Checkpoints {
		raw, err := json.MarshalIndent(cp, "", "  ")
		if err != nil {
			return fmt.Errorf("replay: encoding checkpoint %s: %w", cp.ID, err)
		}
		files[filepath.Join("checkpoints", cp.ID+".json")] = raw
	}

	digests := make(map[string]string, len(files))
	for rel, content := range files {
		full := filepath.Join(path, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("replay: creating dir for %s: %w", rel, err)
		}
		if err := os.WriteFile(full, content, 0o644); err != nil {
			return fmt.Errorf("replay: writing %s: %w", rel, err)
		}
		digests[rel] = digestOf(content)
	}

	m := manifest{SchemaVersion: SchemaVersion, RunID: run.RunID, Files: digests}
	m.Digest = manifestDigest(digests)
	mraw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("replay: encoding manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(path, "manifest.json"), mraw, 0o644)
}

type planRecord struct {
	plan.Plan
	Selected bool `json:"selected"`
}

// Validate checks that path holds a structurally complete, untampered
// bundle: every file the manifest names is present with a matching
// content digest, and the ledger's own digest chain checks out.
func Validate(path string) error {
	mraw, err := os.ReadFile(filepath.Join(path, "manifest.json"))
	if err != nil {
		return fmt.Errorf("replay: reading manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(mraw, &m); err != nil {
		return fmt.Errorf("replay: decoding manifest: %w", err)
	}
	if m.SchemaVersion != SchemaVersion {
		return fmt.Errorf("replay: unsupported bundle schema version %d", m.SchemaVersion)
	}
	if manifestDigest(m.Files) != m.Digest {
		return fmt.Errorf("replay: manifest digest mismatch, bundle tampered or corrupt")
	}
	for rel, want := range m.Files {
		raw, err := os.ReadFile(filepath.Join(path, rel))
		if err != nil {
			return fmt.Errorf("replay: missing file %s: %w", rel, err)
		}
		if got := digestOf(raw); got != want {
			return fmt.Errorf("replay: file %s digest mismatch", rel)
		}
	}

	ledgerRaw, err := os.ReadFile(filepath.Join(path, "ledger.jsonl"))
	if err != nil {
		return fmt.Errorf("replay: reading ledger: %w", err)
	}
	entries, err := ledger.ReadJSONL(ledgerRaw)
	if err != nil {
		return fmt.Errorf("replay: decoding ledger: %w", err)
	}
	led := ledger.New(nil)
	led.Restore(entries)
	if err := led.Validate(); err != nil {
		return fmt.Errorf("replay: ledger digest chain invalid: %w", err)
	}
	return nil
}

// Bundle is the in-memory reconstruction a Load produces.
type Bundle struct {
	Goal        plan.Goal
	Context     plan.ContextPacket
	Plans       []plan.Plan
	SelectedPlanID string
	Planner     PlannerRecord
	Ledger      []ledger.Entry
	TaskIO      map[string]TaskIO
	Checkpoints []checkpoint.Checkpoint
}

// Load reconstructs an in-memory Bundle from path without re-validating
// digests; call Validate first if integrity matters.
func Load(path string) (*Bundle, error) {
	b := &Bundle{TaskIO: map[string]TaskIO{}}

	if err := readJSON(filepath.Join(path, "goal.json"), &b.Goal); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(path, "context.json"), &b.Context); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(path, "planner.json"), &b.Planner); err != nil {
		return nil, err
	}

	planEntries, err := os.ReadDir(filepath.Join(path, "plans"))
	if err == nil {
		for _, e := range planEntries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			var pr planRecord
			if err := readJSON(filepath.Join(path, "plans", e.Name()), &pr); err != nil {
				return nil, err
			}
			b.Plans = append(b.Plans, pr.Plan)
			if pr.Selected {
				b.SelectedPlanID = pr.Plan.ID
			}
		}
	}

	ledgerRaw, err := os.ReadFile(filepath.Join(path, "ledger.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("replay: reading ledger: %w", err)
	}
	b.Ledger, err = ledger.ReadJSONL(ledgerRaw)
	if err != nil {
		return nil, fmt.Errorf("replay: decoding ledger: %w", err)
	}

	taskIOEntries, err := os.ReadDir(filepath.Join(path, "task-io"))
	if err == nil {
		for _, e := range taskIOEntries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			var io TaskIO
			if err := readJSON(filepath.Join(path, "task-io", e.Name()), &io); err != nil {
				return nil, err
			}
			b.TaskIO[strings.TrimSuffix(e.Name(), ".json")] = io
		}
	}

	cpEntries, err := os.ReadDir(filepath.Join(path, "checkpoints"))
	if err == nil {
		for _, e := range cpEntries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			var cp checkpoint.Checkpoint
			if err := readJSON(filepath.Join(path, "checkpoints", e.Name()), &cp); err != nil {
				return nil, err
			}
			b.Checkpoints = append(b.Checkpoints, cp)
		}
	}

	return b, nil
}

func readJSON(path string, dest any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("replay: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("replay: decoding %s: %w", path, err)
	}
	return nil
}

func digestOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// manifestDigest hashes a canonical sort of file paths and their content
// digests, per §6 "manifest.json.digest = hash over a canonical sort of
// file paths and their content digests."
func manifestDigest(files map[string]string) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write([]byte(files[p]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
