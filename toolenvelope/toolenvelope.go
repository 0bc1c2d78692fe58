// Package toolenvelope implements the Tool-Call Envelope Wrapper (C6): a
// thin decorator around tools.Tool that emits digest, timing, and ledger
// TOOL_CALL entries around every call, matching the stage=start/complete/
// error sequence required by §4.6 and the invariant that every started
// envelope has exactly one matching completion (§8).
//
// Grounded on runtime/agent/runtime.go's wrapping of tool executors around
// raw tool implementations, and hooks/events.go's baseEvent-embedding
// tagged event convention (reused here for the envelope's own detail
// shape).
package toolenvelope

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentkernel/kernel/ledger"
	"github.com/agentkernel/kernel/tools"
)

// Wrapped is a tools.Tool decorated with envelope emission.
type Wrapped struct {
	inner  tools.Tool
	taskID string
	ledger *ledger.Ledger
	clock  func() time.Time
}

// Wrap decorates inner with envelope emission for the given task.
func Wrap(inner tools.Tool, taskID string, led *ledger.Ledger) *Wrapped {
	return &Wrapped{inner: inner, taskID: taskID, ledger: led, clock: time.Now}
}

func (w *Wrapped) Name() tools.ID            { return w.inner.Name() }
func (w *Wrapped) Description() string       { return w.inner.Description() }
func (w *Wrapped) InputSchema() []byte       { return w.inner.InputSchema() }
func (w *Wrapped) OutputSchema() []byte      { return w.inner.OutputSchema() }
func (w *Wrapped) SideEffects() bool         { return w.inner.SideEffects() }

// Call invokes the underlying tool, emitting TOOL_CALL{start}, then either
// TOOL_CALL{complete} or TOOL_CALL{error}, per §4.6.
func (w *Wrapped) Call(ctx context.Context, input any, idemKey string) (any, error) {
	id := envelopeID(w.taskID, string(w.inner.Name()), idemKey, w.clock())
	start := w.clock()
	w.emit(ledger.TypeToolCall, map[string]any{
		"stage": "start",
		"envelope": map[string]any{
			"id":   id,
			"name": string(w.inner.Name()),
			"input": input,
			"metadata": map[string]any{
				"timestamp": start.UnixMilli(),
				"digest":    digestOf(input),
			},
		},
	})

	output, err := w.inner.Call(ctx, input, idemKey)
	durationMs := w.clock().Sub(start).Milliseconds()

	if err != nil {
		w.emit(ledger.TypeToolCall, map[string]any{
			"stage": "error",
			"envelope": map[string]any{
				"id":   id,
				"name": string(w.inner.Name()),
				"error": map[string]any{
					"code":    "tool_call_failed",
					"message": err.Error(),
				},
			},
		})
		return nil, err
	}

	w.emit(ledger.TypeToolCall, map[string]any{
		"stage": "complete",
		"envelope": map[string]any{
			"id":          id,
			"name":        string(w.inner.Name()),
			"output":      output,
			"duration_ms": durationMs,
		},
	})
	return output, nil
}

func (w *Wrapped) emit(typ ledger.Type, details map[string]any) {
	if w.ledger == nil {
		return
	}
	w.ledger.Append(typ, details, true)
}

// envelopeID uses idemKey when provided, else taskId+toolName+ts+random
// (§4.6), the random component a uuid v4.
func envelopeID(taskID, toolName, idemKey string, ts time.Time) string {
	if idemKey != "" {
		return idemKey
	}
	return fmt.Sprintf("%s:%s:%d:%s", taskID, toolName, ts.UnixNano(), uuid.NewString())
}

func digestOf(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
