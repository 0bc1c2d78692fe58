// Package planner implements the Planner (C7): a Nucleus-driven two-stage
// (Thinking, then Emit) prompt that turns a Goal and Context Packet into a
// validated candidate Plan DAG, with a deterministic selection rule over
// candidates.
//
// Grounded on runtime/agent/planner/planner.go's PlanInput/PlanResult/
// PlannerAnnotation shapes, adapted from per-turn tool-call planning (one
// tool call or final response per round) to DAG-emitting planning (one
// whole Plan document per candidate).
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentkernel/kernel/capability"
	"github.com/agentkernel/kernel/ledger"
	"github.com/agentkernel/kernel/nucleus"
	"github.com/agentkernel/kernel/plan"
)

// emitSchema is the JSON Schema the Emit stage's structured output must
// satisfy: {tasks, edges, rationale} (§4.7). Validated before the
// cycle/reference checks so a structurally malformed model response fails
// at the schema boundary with a precise path, not deep inside DAG
// construction.
const emitSchemaJSON = `{
  "type": "object",
  "required": ["tasks", "edges"],
  "properties": {
    "tasks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "capabilityRef"],
        "properties": {
          "id": {"type": "string"},
          "capabilityRef": {"type": "string"},
          "input": {"type": "object"},
          "objective": {"type": "string"},
          "successCriteria": {"type": "array", "items": {"type": "string"}},
          "tools": {"type": "array", "items": {"type": "object"}}
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "from": {"type": "string"},
          "to": {"type": "string"},
          "guard": {"type": "string"},
          "onError": {"type": "string"}
        }
      }
    },
    "rationale": {"type": "string"}
  }
}`

// emitDocument is the parsed shape of a single Emit-stage candidate.
type emitDocument struct {
	Tasks []plan.Task `json:"tasks"`
	Edges []plan.Edge `json:"edges"`
	Rationale string  `json:"rationale"`
}

// Input configures a single planning invocation.
type Input struct {
	Goal         plan.Goal
	Context      plan.ContextPacket
	Capabilities *capability.Registry
	PlanCount    int // number of candidates to request; default 1
	// Selector picks among valid candidates; nil means "first valid" (the
	// deterministic default per §4.7).
	Selector func(candidates []plan.Plan) int
}

// Planner drives the Nucleus through Thinking/Emit and validates the
// resulting candidates.
type Planner struct {
	nuc    *nucleus.Nucleus
	led    *ledger.Ledger
	schema *jsonschema.Schema
}

// New builds a Planner bound to a Nucleus instance and the run ledger.
func New(nuc *nucleus.Nucleus, led *ledger.Ledger) (*Planner, error) {
	schema, err := compileEmitSchema()
	if err != nil {
		return nil, fmt.Errorf("planner: compiling emit schema: %w", err)
	}
	return &Planner{nuc: nuc, led: led, schema: schema}, nil
}

// Plan runs the Thinking/Emit loop, validates candidates, selects one, and
// emits PLAN_SELECTED for the chosen plan.
func (p *Planner) Plan(ctx context.Context, in Input) (*plan.Plan, error) {
	contextRef, err := plan.ContextRef(in.Context)
	if err != nil {
		return nil, fmt.Errorf("planner: computing contextRef: %w", err)
	}

	count := in.PlanCount
	if count <= 0 {
		count = 1
	}

	var candidates []plan.Plan
	var rejections []string
	for i := 0; i < count; i++ {
		doc, err := p.thinkAndEmit(ctx, in, i)
		if err != nil {
			rejections = append(rejections, fmt.Sprintf("candidate %d: emit failed: %v", i, err))
			continue
		}
		candidate := plan.Plan{
			ID:                   uuid.NewString(),
			ContextRef:           contextRef,
			CapabilityMapVersion: in.Capabilities.Version(),
			Tasks:                doc.Tasks,
			Edges:                doc.Edges,
			Rationale:            doc.Rationale,
		}
		if err := p.validateCandidate(&candidate, in.Capabilities); err != nil {
			rejections = append(rejections, fmt.Sprintf("candidate %d: %v", i, err))
			continue
		}
		candidates = append(candidates, candidate)
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("planner: all %d candidate(s) rejected: %v", count, rejections)
	}

	idx := 0
	if in.Selector != nil {
		idx = in.Selector(candidates)
	}
	selected := candidates[idx]

	if p.led != nil {
		p.led.Append(ledger.TypePlanSelected, map[string]any{
			"planId":               selected.ID,
			"contextRef":           selected.ContextRef,
			"capabilityMapVersion": selected.CapabilityMapVersion,
			"candidateCount":       count,
			"rejections":           rejections,
		}, true)
	}
	return &selected, nil
}

// thinkAndEmit runs the Thinking stage (freeform reasoning over the goal)
// followed by the Emit stage (a schema-constrained plan document) as two
// Nucleus invocations, matching §4.7's "two-stage prompt".
func (p *Planner) thinkAndEmit(ctx context.Context, in Input, candidateIdx int) (*emitDocument, error) {
	thinkResult, err := p.nuc.Invoke(ctx, nucleus.InvokeInput{
		TaskID:          fmt.Sprintf("planner-think-%d", candidateIdx),
		Objective:       "Analyze the goal and constraints, reasoning freeform about a viable task decomposition: " + in.Goal.Intent,
		SuccessCriteria: []string{"identify a coherent set of capabilities and their dependencies"},
		Scope:           nucleus.NewScope(),
		ContextFacts:    in.Context.Facts,
	})
	if err != nil {
		return nil, fmt.Errorf("thinking stage: %w", err)
	}

	emitResult, err := p.nuc.Invoke(ctx, nucleus.InvokeInput{
		TaskID: fmt.Sprintf("planner-emit-%d", candidateIdx),
		Objective: fmt.Sprintf(
			"Given this reasoning: %v\nEmit a plan document as strict JSON matching the required schema: {tasks, edges, rationale}. Available capabilities: %v",
			thinkResult.Output, in.Capabilities.List(),
		),
		SuccessCriteria: []string{"valid JSON matching the plan schema"},
		Scope:           nucleus.NewScope(),
		ContextFacts:    in.Context.Facts,
	})
	if err != nil {
		return nil, fmt.Errorf("emit stage: %w", err)
	}

	raw, ok := emitResult.Output.(string)
	if !ok {
		return nil, fmt.Errorf("emit stage: non-string output")
	}

	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, fmt.Errorf("emit stage: invalid JSON: %w", err)
	}
	if err := p.schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("emit stage: schema validation: %w", err)
	}

	var doc emitDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("emit stage: decoding plan document: %w", err)
	}
	return &doc, nil
}

// validateCandidate enforces §3's Plan invariants: every capabilityRef
// resolves and the task/edge graph is a DAG. contextRef and
// capabilityMapVersion are stamped by Plan when it builds the candidate and
// are not checked here.
func (p *Planner) validateCandidate(candidate *plan.Plan, caps *capability.Registry) error {
	for _, t := range candidate.Tasks {
		if !caps.Has(capability.Name(t.CapabilityRef)) {
			return fmt.Errorf("unknown capabilityRef %q on task %q", t.CapabilityRef, t.ID)
		}
	}
	return candidate.Validate()
}

func compileEmitSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(emitSchemaJSON))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("planner#emit", doc); err != nil {
		return nil, err
	}
	return c.Compile("planner#emit")
}
