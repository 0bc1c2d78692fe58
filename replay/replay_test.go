package replay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentkernel/kernel/ledger"
	"github.com/agentkernel/kernel/plan"
	"github.com/agentkernel/kernel/store/checkpoint"
)

func sampleRun() Run {
	led := ledger.New(nil)
	led.Append(ledger.TypePlanSelected, map[string]any{"planId": "p1"}, true)
	led.Append(ledger.TypeTaskStart, map[string]any{"taskId": "t1"}, true)
	led.Append(ledger.TypeTaskEnd, map[string]any{"taskId": "t1"}, true)

	return Run{
		RunID:   "run-1",
		Goal:    plan.Goal{ID: "g1", Intent: "ship the feature"},
		Context: plan.ContextPacket{ID: "c1", Facts: map[string]any{"x": 1}},
		Plans: []plan.Plan{
			{ID: "p1", ContextRef: "ref1", CapabilityMapVersion: "v1", Tasks: []plan.Task{{ID: "t1", CapabilityRef: "echo"}}},
		},
		SelectedPlanID: "p1",
		Ledger:         led.GetEntries(),
		TaskIO: map[string]TaskIO{
			"t1": {Input: map[string]any{"x": 1}, Output: map[string]any{"echoed": 1}},
		},
		Checkpoints: []checkpoint.Checkpoint{
			{ID: "cp1", RunID: "run-1", TS: 1000, Version: checkpoint.CurrentMajorVersion, State: checkpoint.State{Goal: plan.Goal{ID: "g1"}}},
		},
		Planner: PlannerRecord{ContextRef: "ref1", Candidates: 1},
	}
}

func TestExportValidateLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle")
	run := sampleRun()

	require.NoError(t, Export(path, run))
	require.NoError(t, Validate(path))

	bundle, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, run.Goal, bundle.Goal)
	require.Equal(t, run.Context.ID, bundle.Context.ID)
	require.Len(t, bundle.Plans, 1)
	require.Equal(t, "p1", bundle.SelectedPlanID)
	require.Len(t, bundle.Ledger, 3)
	require.Contains(t, bundle.TaskIO, "t1")
	require.Len(t, bundle.Checkpoints, 1)
}

func TestValidate_DetectsTamperedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle")
	require.NoError(t, Export(path, sampleRun()))

	goalPath := filepath.Join(path, "goal.json")
	require.NoError(t, os.WriteFile(goalPath, []byte(`{"id":"tampered"}`), 0o644))

	err := Validate(path)
	require.Error(t, err)
}

func TestValidate_DetectsBrokenLedgerChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle")
	run := sampleRun()
	require.NoError(t, Export(path, run))

	ledgerPath := filepath.Join(path, "ledger.jsonl")
	raw, err := os.ReadFile(ledgerPath)
	require.NoError(t, err)
	entries, err := ledger.ReadJSONL(raw)
	require.NoError(t, err)
	entries[0].Details["planId"] = "tampered"
	tampered, err := ledger.WriteJSONL(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ledgerPath, tampered, 0o644))

	// Recompute the manifest digest over the unchanged other files so the
	// tamper is caught specifically by the ledger digest-chain check, not
	// the manifest digest check.
	mraw, err := os.ReadFile(filepath.Join(path, "manifest.json"))
	require.NoError(t, err)
	var m manifest
	require.NoError(t, json.Unmarshal(mraw, &m))
	m.Files["ledger.jsonl"] = digestOf(tampered)
	m.Digest = manifestDigest(m.Files)
	raw2, err := json.MarshalIndent(m, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "manifest.json"), raw2, 0o644))

	err = Validate(path)
	require.Error(t, err)
}
