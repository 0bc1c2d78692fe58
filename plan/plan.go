// Package plan defines the shared data model (§3) for goals, context
// packets, and plan DAGs: the types the Planner (C7) emits and the
// Scheduler (C8) consumes. Keeping them in their own package (rather than
// inside planner or scheduler) avoids an import cycle between the two.
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Goal is the immutable caller-supplied intent for a run.
type Goal struct {
	ID          string         `json:"id"`
	Intent      string         `json:"intent"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

// ContextPacket is the immutable, content-addressable fact set a Plan is
// built and executed against.
type ContextPacket struct {
	ID          string         `json:"id"`
	Version     string         `json:"version,omitempty"`
	Facts       map[string]any `json:"facts"`
	Assumptions []string       `json:"assumptions,omitempty"`
}

// ContextRef computes the digest used to content-address a ContextPacket,
// over a deterministic (sorted-key) JSON encoding so semantically identical
// packets always produce the same reference.
func ContextRef(ctx ContextPacket) (string, error) {
	norm, err := normalize(ctx)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(norm)
	return hex.EncodeToString(sum[:]), nil
}

func normalize(ctx ContextPacket) ([]byte, error) {
	keys := make([]string, 0, len(ctx.Facts))
	for k := range ctx.Facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	orderedFacts := make([]struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}, len(keys))
	for i, k := range keys {
		orderedFacts[i].Key = k
		orderedFacts[i].Value = ctx.Facts[k]
	}
	canon := struct {
		ID          string `json:"id"`
		Version     string `json:"version"`
		Facts       any    `json:"facts"`
		Assumptions []string `json:"assumptions"`
	}{ctx.ID, ctx.Version, orderedFacts, ctx.Assumptions}
	return json.Marshal(canon)
}

// ErrorPolicy names the handling a failed task's outgoing edge requests.
type ErrorPolicy string

const (
	ErrorPolicyRetryable            ErrorPolicy = "RETRYABLE"
	ErrorPolicyFatal                ErrorPolicy = "FATAL"
	ErrorPolicyCompensationRequired ErrorPolicy = "COMPENSATION_REQUIRED"
)

// RetryPolicy describes attempt/backoff behavior for a task body.
type RetryPolicy struct {
	Attempts int    `json:"attempts"`
	Backoff  string `json:"backoff"` // "fixed" | "exp"
	BaseMs   int    `json:"baseMs"`
	Jitter   bool   `json:"jitter"`
}

// ToolRef names a tool a task body is permitted to call.
type ToolRef struct {
	Name string `json:"name"`
}

// Task is a single node in a Plan DAG.
type Task struct {
	ID              string         `json:"id"`
	CapabilityRef   string         `json:"capabilityRef"`
	Input           map[string]any `json:"input,omitempty"`
	Retry           *RetryPolicy   `json:"retry,omitempty"`
	Verification    []string       `json:"verification,omitempty"`
	Tools           []ToolRef      `json:"tools,omitempty"`
	Title           string         `json:"title,omitempty"`
	Objective       string         `json:"objective,omitempty"`
	SuccessCriteria []string       `json:"successCriteria,omitempty"`
}

// IdemKey derives the task-level idempotency key (§5 shared-resources) from
// contextRef, the task's id, and its input, so a retried or resumed
// execution of the same task against the same context reproduces the same
// key rather than minting a fresh one per attempt.
func (t Task) IdemKey(contextRef string) string {
	input, err := json.Marshal(t.Input)
	if err != nil {
		input = nil
	}
	h := sha256.New()
	h.Write([]byte(contextRef))
	h.Write([]byte{0})
	h.Write([]byte(t.ID))
	h.Write([]byte{0})
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}

// Edge is a dependency (and optional guard) between two tasks.
type Edge struct {
	From    string      `json:"from"`
	To      string      `json:"to"`
	Guard   string      `json:"guard,omitempty"`
	OnError ErrorPolicy `json:"onError,omitempty"`
}

// Plan is a DAG of tasks and edges selected by the Planner for execution.
type Plan struct {
	ID                   string   `json:"id"`
	ContextRef           string   `json:"contextRef"`
	CapabilityMapVersion string   `json:"capabilityMapVersion"`
	Tasks                []Task   `json:"tasks"`
	Edges                []Edge   `json:"edges"`
	Rationale            string   `json:"rationale,omitempty"`
}

// TaskByID returns the task with the given id, if present.
func (p *Plan) TaskByID(id string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Validate checks the structural invariants from §3: every edge endpoint
// exists, and the task/edge graph forms a DAG (no cycles).
func (p *Plan) Validate() error {
	ids := make(map[string]struct{}, len(p.Tasks))
	for _, t := range p.Tasks {
		if _, dup := ids[t.ID]; dup {
			return fmt.Errorf("plan: duplicate task id %q", t.ID)
		}
		ids[t.ID] = struct{}{}
	}
	for _, e := range p.Edges {
		if _, ok := ids[e.From]; !ok {
			return fmt.Errorf("plan: edge references missing task %q", e.From)
		}
		if _, ok := ids[e.To]; !ok {
			return fmt.Errorf("plan: edge references missing task %q", e.To)
		}
	}
	return detectCycle(p.Tasks, p.Edges)
}

// detectCycle runs a recursive DFS with a recursion-stack marker, grounded on
// Heikkila-Pty-Ltd-cortex/internal/graph/dag.go's cycle-detection shape
// (adapted from a SQL adjacency query to an in-memory adjacency map).
func detectCycle(tasks []Task, edges []Edge) error {
	adj := make(map[string][]string, len(tasks))
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				return fmt.Errorf("plan: cycle detected involving task %q", next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, t := range tasks {
		if color[t.ID] == white {
			if err := visit(t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadySet returns the IDs of tasks in pending whose every incoming edge's
// `from` is in executed (guard evaluation is the caller's responsibility;
// this only computes structural readiness per §4.8 step 1).
func ReadySet(p *Plan, pending, executed map[string]struct{}) []string {
	incoming := make(map[string][]Edge, len(p.Tasks))
	for _, e := range p.Edges {
		incoming[e.To] = append(incoming[e.To], e)
	}
	var ready []string
	for _, t := range p.Tasks {
		if _, isPending := pending[t.ID]; !isPending {
			continue
		}
		ok := true
		for _, e := range incoming[t.ID] {
			if _, done := executed[e.From]; !done {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t.ID)
		}
	}
	return ready
}
