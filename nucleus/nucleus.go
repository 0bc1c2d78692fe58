// Package nucleus implements the per-task LLM-mediated controller (C4):
// preflight -> bounded tool-calling invoke loop -> postcheck, with token
// budget enforcement and anti-hallucination grounding prompt sections.
//
// Grounded on runtime/agent/model/model.go (the Client/Request/Response
// gateway contract, reused verbatim in shape as the kernel's model
// package) and runtime/agent/planner/planner.go (the per-round
// reasoning-loop and RetryHint conventions the Nucleus's own round/force-
// final logic follows).
package nucleus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"github.com/agentkernel/kernel/ledger"
	"github.com/agentkernel/kernel/model"
	"github.com/agentkernel/kernel/telemetry"
	"github.com/agentkernel/kernel/tools"
)

// Built-in context tools always offered to the model alongside
// task-declared tools (§4.4).
const (
	ToolQueryContext           tools.ID = "query_context"
	ToolRequestContextRetrieval tools.ID = "request_context_retrieval"
)

// Config configures a Nucleus instance for one task invocation.
type Config struct {
	// MaxContextTokens bounds cumulative estimated prompt tokens; exceeding
	// 85% forces a final answer.
	MaxContextTokens int
	// MaxQueryRounds bounds invoke() rounds. Default 3 (see SPEC_FULL.md §9
	// Open Question decision: picked over the source's earlier 25-round
	// default).
	MaxQueryRounds int
	// MaxRetrievalRounds bounds request_context_retrieval fulfillments.
	// Default 1.
	MaxRetrievalRounds int
	// HooksPreflight/HooksPostcheck enable the corresponding hooks. Both
	// default false; disabled hooks short-circuit to OK/COMPLETE.
	HooksPreflight bool
	HooksPostcheck bool
}

// DefaultConfig returns the documented per-run defaults.
func DefaultConfig(maxContextTokens int) Config {
	return Config{
		MaxContextTokens:   maxContextTokens,
		MaxQueryRounds:     3,
		MaxRetrievalRounds: 1,
		HooksPreflight:     false,
		HooksPostcheck:     false,
	}
}

// PreflightStatus is the outcome of Preflight.
type PreflightStatus string

const (
	PreflightOK           PreflightStatus = "OK"
	PreflightNeedsContext PreflightStatus = "NEEDS_CONTEXT"
)

// PreflightResult is returned by Preflight.
type PreflightResult struct {
	Status     PreflightStatus
	Directives []string
}

// PostcheckStatus is the outcome of Postcheck.
type PostcheckStatus string

const (
	PostcheckComplete           PostcheckStatus = "COMPLETE"
	PostcheckNeedsCompensation  PostcheckStatus = "NEEDS_COMPENSATION"
	PostcheckEscalate           PostcheckStatus = "ESCALATE"
)

// PostcheckResult is returned by Postcheck.
type PostcheckResult struct {
	Status PostcheckStatus
	Reason string
}

// Metrics is the Nucleus State (§3): {rounds, estimatedPromptTokens,
// budgetExhausted, retrievalRoundsUsed}.
type Metrics struct {
	Rounds                int
	EstimatedPromptTokens  int
	BudgetExhausted        bool
	RetrievalRoundsUsed    int
}

// ToolCaller invokes a task-declared (or scheduler-wrapped) tool by name.
type ToolCaller func(ctx context.Context, name tools.ID, input any) (any, error)

// RetrievalFunc fulfills a single retrieval directive, returning artifacts
// to promote into the task's internal scope. Wired by the scheduler to the
// External Context Provider Adapter (C5).
type RetrievalFunc func(ctx context.Context, directive string) (map[string]any, error)

// PostcheckFunc decides the postcheck outcome for a produced output. If nil,
// and hooks.postcheck is enabled, the Nucleus conservatively reports
// COMPLETE (a deployment wanting real postcheck behavior must supply one).
type PostcheckFunc func(ctx context.Context, output any) (PostcheckResult, error)

// InvokeInput configures a single invoke() loop.
type InvokeInput struct {
	TaskID          string
	Objective       string
	SuccessCriteria []string
	AllowedTools    []tools.ID
	ToolCaller      ToolCaller
	Scope           *Scope
	ContextFacts    map[string]any
	RetrievalFunc   RetrievalFunc
	RequiredContext []string // context keys this task's objective depends on
}

// InvokeResult is the result of invoke().
type InvokeResult struct {
	Output any
	Metrics
}

// Nucleus is a per-task LLM-mediated controller instance.
type Nucleus struct {
	cfg    Config
	client model.Client
	ledger *ledger.Ledger
	state  Metrics

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
}

// New constructs a Nucleus bound to a model gateway and run ledger. Logger/
// Metrics/Tracer default to Noop; set real implementations via
// WithTelemetry.
func New(cfg Config, client model.Client, led *ledger.Ledger) *Nucleus {
	if cfg.MaxQueryRounds <= 0 {
		cfg.MaxQueryRounds = 3
	}
	if cfg.MaxRetrievalRounds <= 0 {
		cfg.MaxRetrievalRounds = 1
	}
	return &Nucleus{
		cfg:     cfg,
		client:  client,
		ledger:  led,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		tracer:  telemetry.NewNoopTracer(),
	}
}

// WithTelemetry sets the Logger/Metrics/Tracer used to instrument Invoke's
// rounds; nil arguments are ignored. Returns n for chaining.
func (n *Nucleus) WithTelemetry(logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) *Nucleus {
	if logger != nil {
		n.logger = logger
	}
	if metrics != nil {
		n.metrics = metrics
	}
	if tracer != nil {
		n.tracer = tracer
	}
	return n
}

// Metrics returns the cumulative metrics observed so far by this Nucleus
// instance.
func (n *Nucleus) Metrics() Metrics { return n.state }

// Preflight inspects the task's internal scope plus Context Packet facts
// against the task's declared RequiredContext keys. Disabled by default
// (hooks.preflight=false), in which case it always reports OK.
func (n *Nucleus) Preflight(_ context.Context, scope *Scope, contextFacts map[string]any, requiredKeys []string) PreflightResult {
	if !n.cfg.HooksPreflight {
		return PreflightResult{Status: PreflightOK}
	}
	var missing []string
	for _, key := range requiredKeys {
		if _, ok := contextFacts[key]; ok {
			continue
		}
		if scope != nil && scope.Has(key) {
			continue
		}
		missing = append(missing, "ctx:"+key)
	}
	if len(missing) == 0 {
		return PreflightResult{Status: PreflightOK}
	}
	return PreflightResult{Status: PreflightNeedsContext, Directives: missing}
}

// Invoke runs the bounded tool-calling loop described in §4.4.
func (n *Nucleus) Invoke(ctx context.Context, in InvokeInput) (*InvokeResult, error) {
	ctx, span := n.tracer.Start(ctx, "nucleus.invoke")
	defer span.End()

	allowed := dedupeTools(in.AllowedTools)
	retrievalOffered := true
	var transcript []*model.Message
	transcript = append(transcript, &model.Message{
		Role:  model.ConversationRoleUser,
		Parts: []model.Part{model.TextPart{Text: n.buildPrompt(in)}},
	})

	for {
		n.state.Rounds++
		roundCtx, roundSpan := n.tracer.Start(ctx, "nucleus.round")
		offeredTools := n.offeredTools(allowed, retrievalOffered)
		promptText := renderTranscript(transcript)
		estimate := estimateTokens(promptText)
		n.state.EstimatedPromptTokens += estimate
		digest := digestOf(promptText)
		n.emitInference(in.TaskID, digest, n.state.Rounds)
		n.logger.Debug(roundCtx, "nucleus: round starting", "taskId", in.TaskID, "round", n.state.Rounds, "promptDigest", digest)
		n.metrics.IncCounter("nucleus.round", 1, "taskId", in.TaskID)

		forcedFinal := n.state.Rounds >= n.cfg.MaxQueryRounds
		if n.cfg.MaxContextTokens > 0 && n.state.EstimatedPromptTokens >= (n.cfg.MaxContextTokens*85)/100 {
			forcedFinal = true
			n.state.BudgetExhausted = true
		}

		req := &model.Request{
			Messages: transcript,
			Tools:    toolDefinitions(offeredTools),
		}
		if forcedFinal {
			req.ToolChoice = &model.ToolChoice{Mode: model.ToolChoiceModeNone}
		}

		resp, err := n.client.Complete(roundCtx, req)
		if err != nil {
			roundSpan.RecordError(err)
			roundSpan.SetStatus(codes.Error, "model complete failed")
			roundSpan.End()
			span.RecordError(err)
			span.SetStatus(codes.Error, "invoke failed")
			n.logger.Error(ctx, "nucleus: round failed", "taskId", in.TaskID, "round", n.state.Rounds, "err", err)
			return nil, fmt.Errorf("nucleus: invoke round %d: %w", n.state.Rounds, err)
		}
		roundSpan.SetStatus(codes.Ok, "ok")
		roundSpan.End()

		if forcedFinal || len(resp.ToolCalls) == 0 {
			span.SetStatus(codes.Ok, "ok")
			n.logger.Info(ctx, "nucleus: invoke finalized", "taskId", in.TaskID, "rounds", n.state.Rounds, "budgetExhausted", n.state.BudgetExhausted)
			return &InvokeResult{Output: finalText(resp), Metrics: n.state}, nil
		}

		for _, call := range resp.ToolCalls {
			result, isErr := n.dispatchToolCall(ctx, in, call, &retrievalOffered)
			transcript = append(transcript, &model.Message{
				Role: model.ConversationRoleUser,
				Parts: []model.Part{model.ToolResultPart{
					ToolUseID: call.ID,
					Content:   result,
					IsError:   isErr,
				}},
			})
		}
	}
}

// Postcheck evaluates the outcome of a completed task body. Disabled by
// default (hooks.postcheck=false), in which case it always reports COMPLETE.
func (n *Nucleus) Postcheck(ctx context.Context, fn PostcheckFunc, output any) (PostcheckResult, error) {
	if !n.cfg.HooksPostcheck || fn == nil {
		return PostcheckResult{Status: PostcheckComplete}, nil
	}
	return fn(ctx, output)
}

func (n *Nucleus) dispatchToolCall(ctx context.Context, in InvokeInput, call model.ToolCall, retrievalOffered *bool) (any, bool) {
	switch call.Name {
	case ToolQueryContext:
		var req struct {
			Key string `json:"key"`
		}
		_ = json.Unmarshal(call.Payload, &req)
		if v, ok := in.Scope.Get(req.Key); ok {
			return v, false
		}
		if v, ok := in.ContextFacts[req.Key]; ok {
			return v, false
		}
		return map[string]any{"error": "key not found: " + req.Key}, true
	case ToolRequestContextRetrieval:
		if n.state.RetrievalRoundsUsed >= n.cfg.MaxRetrievalRounds || in.RetrievalFunc == nil {
			*retrievalOffered = false
			return map[string]any{"error": "retrieval unavailable"}, true
		}
		var req struct {
			Directive string `json:"directive"`
		}
		_ = json.Unmarshal(call.Payload, &req)
		artifacts, err := in.RetrievalFunc(ctx, req.Directive)
		n.state.RetrievalRoundsUsed++
		*retrievalOffered = false
		if err != nil {
			return map[string]any{"error": err.Error()}, true
		}
		for k, v := range artifacts {
			in.Scope.Set(k, v)
		}
		return artifacts, false
	default:
		if in.ToolCaller == nil {
			return map[string]any{"error": "no tool caller configured"}, true
		}
		var payload any
		_ = json.Unmarshal(call.Payload, &payload)
		out, err := in.ToolCaller(ctx, call.Name, payload)
		if err != nil {
			return map[string]any{"error": err.Error()}, true
		}
		return out, false
	}
}

func (n *Nucleus) offeredTools(allowed []tools.ID, retrievalOffered bool) []tools.ID {
	offered := []tools.ID{ToolQueryContext}
	if retrievalOffered {
		offered = append(offered, ToolRequestContextRetrieval)
	}
	return append(offered, allowed...)
}

func (n *Nucleus) emitInference(taskID, digest string, round int) {
	if n.ledger == nil {
		return
	}
	n.ledger.Append(ledger.TypeNucleusInference, map[string]any{
		"taskId":      taskID,
		"round":       round,
		"promptDigest": digest,
	}, true)
}

// buildPrompt assembles the anti-hallucination grounding sections
// (GROUNDING RULES / VALIDATION RULES / GROUNDING CONSTRAINT) required by
// §4.4. These are pure prompt conventions; the runtime enforces only shape.
func (n *Nucleus) buildPrompt(in InvokeInput) string {
	keys := make([]string, 0, len(in.ContextFacts))
	for k := range in.ContextFacts {
		keys = append(keys, k)
	}
	return fmt.Sprintf(
		"OBJECTIVE: %s\nSUCCESS CRITERIA: %v\n\n"+
			"GROUNDING RULES: the available context keys are %v.\n"+
			"VALIDATION RULES: every factual claim must cite one of the available context keys.\n"+
			"GROUNDING CONSTRAINT: do not fabricate information not present in the cited context.\n",
		in.Objective, in.SuccessCriteria, keys,
	)
}

func dedupeTools(in []tools.ID) []tools.ID {
	seen := make(map[tools.ID]struct{}, len(in))
	out := make([]tools.ID, 0, len(in))
	for _, id := range in {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func toolDefinitions(ids []tools.ID) []*model.ToolDefinition {
	defs := make([]*model.ToolDefinition, 0, len(ids))
	for _, id := range ids {
		defs = append(defs, &model.ToolDefinition{Name: string(id)})
	}
	return defs
}

func renderTranscript(msgs []*model.Message) string {
	var out string
	for _, m := range msgs {
		for _, p := range m.Parts {
			if tp, ok := p.(model.TextPart); ok {
				out += tp.Text
			}
		}
	}
	return out
}

func finalText(resp *model.Response) string {
	var out string
	for _, msg := range resp.Content {
		for _, p := range msg.Parts {
			if tp, ok := p.(model.TextPart); ok {
				out += tp.Text
			}
		}
	}
	return out
}

// estimateTokens uses a flat character-per-token heuristic, per §4.4
// "Token accounting" (4 characters per token, at least 1 for non-empty
// text); code and prose are counted alike.
func estimateTokens(text string) int {
	const charsPerToken = 4
	if len(text) == 0 {
		return 0
	}
	n := len(text) / charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}

func digestOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
