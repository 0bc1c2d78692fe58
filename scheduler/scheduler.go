// Package scheduler implements the DAG Scheduler / Resumable Runtime (C8):
// topological readiness over a Plan, guard evaluation, and the per-task
// pipeline (resolve -> nucleus preflight -> context provider -> policy.pre
// -> tool-wrapped execute with retry/backoff -> policy.post -> verify ->
// nucleus postcheck -> checkpoint), §4.8 "the hard part".
//
// Grounded on runtime/agent/runtime/runtime.go's Runtime registry-and-run
// struct shape (Options, central registries, Options.Engine pluggability)
// and Heikkila-Pty-Ltd-cortex/internal/graph/dag.go's ready-nodes query
// (adapted from SQL to plan.ReadySet's in-memory adjacency traversal).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/agentkernel/kernel/capability"
	"github.com/agentkernel/kernel/contextprovider"
	"github.com/agentkernel/kernel/engine"
	"github.com/agentkernel/kernel/guard"
	"github.com/agentkernel/kernel/kernelerrors"
	"github.com/agentkernel/kernel/ledger"
	"github.com/agentkernel/kernel/nucleus"
	"github.com/agentkernel/kernel/plan"
	"github.com/agentkernel/kernel/policy"
	"github.com/agentkernel/kernel/store/checkpoint"
	"github.com/agentkernel/kernel/telemetry"
	"github.com/agentkernel/kernel/tools"
	"github.com/agentkernel/kernel/toolenvelope"
)

// NucleusFactory builds a per-task Nucleus instance (§4.8 step b). The
// scheduler passes the task ID and the tool IDs the task itself declares;
// they are not merged with any other tool list.
type NucleusFactory func(taskID string, allowedTools []tools.ID) *nucleus.Nucleus

// Options configures a Scheduler for the lifetime of the process; RunInput
// configures one specific run.
type Options struct {
	Capabilities    *capability.Registry
	Tools           *tools.Registry
	Policy          policy.Engine // defaults to policy.AllowAll{} if nil
	Guard           *guard.Evaluator
	NucleusFactory  NucleusFactory
	ContextProvider *contextprovider.Adapter // optional
	CheckpointStore checkpoint.Store          // optional; no checkpointing if nil
	Engine          engine.Engine             // defaults to engine.NewMemoryEngine()
	Rand            *rand.Rand                // jitter source; defaults to a process-local source

	// Logger/Metrics/Tracer instrument the run loop and per-task pipeline.
	// Noop implementations are substituted for nil fields, as in
	// runtime/agent/runtime/runtime.go's Options handling.
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// RunInput configures one scheduler run.
type RunInput struct {
	RunID              string
	Goal               plan.Goal
	Context            plan.ContextPacket
	Plan               *plan.Plan
	Ledger             *ledger.Ledger
	TaskScope          []string // nil means ALL
	CheckpointInterval int      // default 1
	ResumeFrom         string   // checkpoint id; "" means fresh start
}

// RunOutput is the result of a completed (or scope-exhausted) run.
type RunOutput struct {
	OutputsByTask map[string]any
	Executed      []string
	GoalSummary   string
}

// Scheduler runs Plan DAGs against the per-task pipeline.
type Scheduler struct {
	opts Options
}

// New builds a Scheduler. Options.Policy/Engine/Rand default when unset.
func New(opts Options) *Scheduler {
	if opts.Policy == nil {
		opts.Policy = policy.AllowAll{}
	}
	if opts.Engine == nil {
		opts.Engine = engine.NewMemoryEngine()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NewNoopTracer()
	}
	return &Scheduler{opts: opts}
}

// runState is the mutable state threaded through one run's main loop.
type runState struct {
	in          RunInput
	outputs     map[string]any
	executed    map[string]struct{}
	scope       map[string]struct{} // nil means ALL
	sinceCheckpoint int
}

// Run executes in.Plan to completion (or scope exhaustion / fatal error),
// passing the main loop to the configured Engine's StartRun. MemoryEngine
// runs it directly; TemporalEngine ignores it and starts only a workflow
// registered beforehand through RegisterWorkflow, which this package does
// not do.
func (s *Scheduler) Run(ctx context.Context, in RunInput) (*RunOutput, error) {
	if in.CheckpointInterval <= 0 {
		in.CheckpointInterval = 1
	}
	handle, err := s.opts.Engine.StartRun(ctx, in.RunID, s.workflowFunc(), in)
	if err != nil {
		return nil, fmt.Errorf("scheduler: starting run: %w", err)
	}
	var result any
	if err := handle.Wait(ctx, &result); err != nil {
		return nil, err
	}
	out, _ := result.(*RunOutput)
	return out, nil
}

func (s *Scheduler) workflowFunc() engine.WorkflowFunc {
	return func(wfCtx engine.WorkflowContext, input any) (any, error) {
		in := input.(RunInput)
		return s.run(wfCtx, in)
	}
}

func (s *Scheduler) run(wfCtx engine.WorkflowContext, in RunInput) (*RunOutput, error) {
	ctx, span := s.opts.Tracer.Start(wfCtx.Context(), "scheduler.run")
	defer span.End()
	s.opts.Logger.Info(ctx, "scheduler: run starting", "runId", in.RunID, "resumeFrom", in.ResumeFrom)

	out, err := s.runLoop(wfCtx, ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		s.opts.Logger.Error(ctx, "scheduler: run failed", "runId", in.RunID, "err", err)
		s.opts.Metrics.IncCounter("scheduler.run.failed", 1, "runId", in.RunID)
		return nil, err
	}
	span.SetStatus(codes.Ok, "ok")
	s.opts.Logger.Info(ctx, "scheduler: run completed", "runId", in.RunID, "executed", len(out.Executed))
	s.opts.Metrics.IncCounter("scheduler.run.completed", 1, "runId", in.RunID)
	return out, nil
}

func (s *Scheduler) runLoop(wfCtx engine.WorkflowContext, ctx context.Context, in RunInput) (*RunOutput, error) {
	st := &runState{in: in, outputs: map[string]any{}, executed: map[string]struct{}{}}
	if in.TaskScope != nil {
		st.scope = toSet(in.TaskScope)
	}

	if in.ResumeFrom != "" {
		if err := s.resume(ctx, st); err != nil {
			return nil, err
		}
	} else {
		in.Ledger.Append(ledger.TypePlanSelected, map[string]any{
			"planId":               in.Plan.ID,
			"contextRef":           in.Plan.ContextRef,
			"capabilityMapVersion": in.Plan.CapabilityMapVersion,
		}, true)
	}

	pending := make(map[string]struct{}, len(in.Plan.Tasks))
	for _, t := range in.Plan.Tasks {
		if _, done := st.executed[t.ID]; !done {
			pending[t.ID] = struct{}{}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		ready := plan.ReadySet(in.Plan, pending, st.executed)
		ready = s.filterByGuard(in, ready, st)
		if st.scope != nil {
			ready = intersect(ready, st.scope)
		}
		if len(ready) == 0 {
			break
		}
		if st.scope != nil && subsetOf(st.scope, st.executed) {
			break
		}

		for _, taskID := range orderByPlan(in.Plan, ready) {
			if err := s.runTask(wfCtx, in, st, taskID); err != nil {
				s.checkpointNow(ctx, in, st)
				return nil, err
			}
			delete(pending, taskID)
			st.sinceCheckpoint++
			if st.sinceCheckpoint >= in.CheckpointInterval {
				s.checkpointNow(ctx, in, st)
				st.sinceCheckpoint = 0
			}
		}
	}

	summary := s.goalSummary(ctx, in, st)
	in.Ledger.Append(ledger.TypeGoalSummary, map[string]any{
		"summary":  summary,
		"executed": keys(st.executed),
	}, true)

	return &RunOutput{
		OutputsByTask: st.outputs,
		Executed:      keys(st.executed),
		GoalSummary:   summary,
	}, nil
}

// filterByGuard evaluates each ready task's incoming edges' guards,
// emitting GUARD_EVAL per edge (§4.8 step 1). A task with any false guard
// on an incoming edge is dropped from the ready set for this round.
func (s *Scheduler) filterByGuard(in RunInput, ready []string, st *runState) []string {
	incoming := make(map[string][]plan.Edge, len(in.Plan.Edges))
	for _, e := range in.Plan.Edges {
		incoming[e.To] = append(incoming[e.To], e)
	}
	var out []string
	for _, taskID := range ready {
		ok := true
		for _, e := range incoming[taskID] {
			if e.Guard == "" {
				continue
			}
			result := true
			if s.opts.Guard != nil {
				result = s.opts.Guard.Evaluate(e.Guard, guard.Bindings{
					Context: in.Context.Facts,
					Outputs: st.outputs,
				})
			}
			in.Ledger.Append(ledger.TypeGuardEval, map[string]any{
				"edge":   fmt.Sprintf("%s->%s", e.From, e.To),
				"guard":  e.Guard,
				"result": result,
			}, true)
			if !result {
				ok = false
			}
		}
		if ok {
			out = append(out, taskID)
		}
	}
	return out
}

// runTask executes the full per-task pipeline (§4.8 a-k) for a single task.
func (s *Scheduler) runTask(wfCtx engine.WorkflowContext, in RunInput, st *runState, taskID string) error {
	ctx, span := s.opts.Tracer.Start(wfCtx.Context(), "scheduler.task")
	defer span.End()
	s.opts.Logger.Info(ctx, "scheduler: task starting", "taskId", taskID)
	start := time.Now()

	err := s.runTaskPipeline(wfCtx, ctx, in, st, taskID)

	s.opts.Metrics.RecordTimer("scheduler.task.duration", time.Since(start), "taskId", taskID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task failed")
		s.opts.Logger.Error(ctx, "scheduler: task failed", "taskId", taskID, "err", err)
		s.opts.Metrics.IncCounter("scheduler.task.failed", 1, "taskId", taskID)
		return err
	}
	span.SetStatus(codes.Ok, "ok")
	s.opts.Logger.Info(ctx, "scheduler: task completed", "taskId", taskID)
	s.opts.Metrics.IncCounter("scheduler.task.completed", 1, "taskId", taskID)
	return nil
}

func (s *Scheduler) runTaskPipeline(wfCtx engine.WorkflowContext, ctx context.Context, in RunInput, st *runState, taskID string) error {
	task, ok := in.Plan.TaskByID(taskID)
	if !ok {
		return fmt.Errorf("scheduler: plan references unknown task %q", taskID)
	}

	// a. Resolve.
	cap, ok := s.opts.Capabilities.Resolve(capability.Name(task.CapabilityRef))
	if !ok {
		return &kernelerrors.TaskFailed{TaskID: taskID, Stage: "resolve", Err: fmt.Errorf("capability %q not registered", task.CapabilityRef)}
	}

	in.Ledger.Append(ledger.TypeTaskStart, map[string]any{"taskId": taskID, "capabilityRef": task.CapabilityRef}, true)

	// b. Instantiate Nucleus, passing the task's declared tools.
	allowed := make([]tools.ID, 0, len(task.Tools))
	for _, tr := range task.Tools {
		allowed = append(allowed, tools.ID(tr.Name))
	}
	nuc := s.opts.NucleusFactory(taskID, allowed)
	nuc.WithTelemetry(s.opts.Logger, s.opts.Metrics, s.opts.Tracer)

	// c. Build RunContext.
	taskScope := nucleus.NewScope()
	rc := &RunContext{
		Goal:    in.Goal,
		Context: in.Context,
		Outputs: st.outputs,
		toolReg: s.opts.Tools,
		led:     in.Ledger,
		taskID:  taskID,
		idemKey: task.IdemKey(in.Plan.ContextRef),
	}

	// d. Preflight, optional context provider fulfillment, re-preflight.
	if err := s.preflightAndFulfill(ctx, nuc, taskScope, in, taskID); err != nil {
		return err
	}

	// e. Policy pre.
	prePayload := map[string]any{"taskId": taskID, "capabilityRef": task.CapabilityRef, "input": task.Input}
	preDecision, err := s.opts.Policy.Evaluate(ctx, policy.ActionTaskPre, prePayload)
	if err != nil {
		return &kernelerrors.TaskFailed{TaskID: taskID, Stage: "policy.pre", Err: err}
	}
	in.Ledger.Append(ledger.TypePolicyPre, map[string]any{"taskId": taskID, "decision": preDecision}, true)
	if !preDecision.Allow {
		return &kernelerrors.PolicyDenied{TaskID: taskID, Action: string(policy.ActionTaskPre), Reason: preDecision.Reason}
	}

	// f. Execute with retry.
	output, err := s.executeWithRetry(wfCtx, cap, rc, task)
	if err != nil {
		in.Ledger.Append(ledger.TypeError, map[string]any{"taskId": taskID, "stage": "execute", "reason": err.Error()}, true)
		return &kernelerrors.TaskFailed{TaskID: taskID, Stage: "execute", Err: err}
	}

	// g. Policy post.
	postDecision, err := s.opts.Policy.Evaluate(ctx, policy.ActionTaskPost, map[string]any{"taskId": taskID, "output": output})
	if err != nil {
		return &kernelerrors.TaskFailed{TaskID: taskID, Stage: "policy.post", Err: err}
	}
	in.Ledger.Append(ledger.TypePolicyPost, map[string]any{"taskId": taskID, "decision": postDecision}, true)
	if !postDecision.Allow {
		return &kernelerrors.PolicyDenied{TaskID: taskID, Action: string(policy.ActionTaskPost), Reason: postDecision.Reason}
	}

	// h. Verification.
	if len(task.Verification) > 0 && s.opts.Guard != nil {
		allPassed := true
		for _, expr := range task.Verification {
			result := s.opts.Guard.Evaluate(expr, guard.Bindings{Context: in.Context.Facts, Outputs: map[string]any{taskID: output}})
			if !result {
				allPassed = false
			}
		}
		in.Ledger.Append(ledger.TypeVerification, map[string]any{"taskId": taskID, "expressions": task.Verification, "result": allPassed}, true)
		if !allPassed {
			return &kernelerrors.VerificationFailed{TaskID: taskID, Expressions: task.Verification}
		}
	}

	// i. Nucleus postcheck.
	pc, err := nuc.Postcheck(ctx, nil, output)
	if err != nil {
		return &kernelerrors.TaskFailed{TaskID: taskID, Stage: "postcheck", Err: err}
	}
	if pc.Status != nucleus.PostcheckComplete {
		in.Ledger.Append(ledger.TypeError, map[string]any{"taskId": taskID, "stage": "NUCLEUS_POSTCHECK", "reason": pc.Reason, "status": pc.Status}, true)
		return &kernelerrors.TaskFailed{TaskID: taskID, Stage: "postcheck", Err: fmt.Errorf("nucleus postcheck: %s: %s", pc.Status, pc.Reason)}
	}

	// j. TASK_END.
	in.Ledger.Append(ledger.TypeTaskEnd, map[string]any{"taskId": taskID, "output": output}, true)
	st.outputs[taskID] = output
	st.executed[taskID] = struct{}{}
	return nil
}

// executeWithRetry invokes cap.Task.Execute, retrying per task.Retry's
// policy on error (§4.8 "Retry/backoff implementation"). Sleeps route
// through wfCtx.Sleep so a durable engine binding can persist/replay the
// wait rather than blocking a goroutine.
func (s *Scheduler) executeWithRetry(wfCtx engine.WorkflowContext, c *capability.Capability, rc *RunContext, task plan.Task) (any, error) {
	attempts := 1
	backoff := "fixed"
	baseMs := 1000
	jitter := false
	if task.Retry != nil {
		if task.Retry.Attempts > 0 {
			attempts = task.Retry.Attempts
		}
		if task.Retry.Backoff != "" {
			backoff = task.Retry.Backoff
		}
		if task.Retry.BaseMs > 0 {
			baseMs = task.Retry.BaseMs
		}
		jitter = task.Retry.Jitter
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(baseMs) * time.Millisecond
			if backoff == "exp" {
				delay = time.Duration(baseMs*(1<<uint(attempt-1))) * time.Millisecond
			}
			if jitter {
				factor := 0.5 + s.opts.Rand.Float64()*0.5
				delay = time.Duration(float64(delay) * factor)
			}
			if err := wfCtx.Sleep(wfCtx.Context(), delay); err != nil {
				return nil, err
			}
		}
		output, err := c.Task.Execute(wfCtx.Context(), rc, task.Input)
		if err == nil {
			return output, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// retryable reports whether err's taxonomy (§4.8 "Retry error taxonomy")
// permits another attempt. A *kernelerrors.ConfigError marks a fatal,
// non-retryable precondition failure; everything else from a task body is
// treated as transient.
func retryable(err error) bool {
	var cfgErr *kernelerrors.ConfigError
	return !errors.As(err, &cfgErr)
}

func (s *Scheduler) preflightAndFulfill(ctx context.Context, nuc *nucleus.Nucleus, scope *nucleus.Scope, in RunInput, taskID string) error {
	pre := nuc.Preflight(ctx, scope, in.Context.Facts, nil)
	if pre.Status == nucleus.PreflightOK {
		return nil
	}
	if s.opts.ContextProvider == nil {
		return &kernelerrors.ContextInsufficient{TaskID: taskID, Directives: pre.Directives}
	}
	unresolved := s.opts.ContextProvider.Fulfill(ctx, taskID, pre.Directives, func(key string, value any) {
		scope.Set(key, value)
	})
	_ = unresolved
	pre2 := nuc.Preflight(ctx, scope, in.Context.Facts, nil)
	if pre2.Status != nucleus.PreflightOK {
		if in.Ledger != nil {
			in.Ledger.Append(ledger.TypeContextInternalized, map[string]any{
				"taskId":     taskID,
				"directives": pre2.Directives,
				"status":     "failed",
			}, true)
		}
		return &kernelerrors.ContextInsufficient{TaskID: taskID, Directives: pre2.Directives}
	}
	return nil
}

func (s *Scheduler) goalSummary(ctx context.Context, in RunInput, st *runState) string {
	summarizer := s.opts.NucleusFactory("goal-summary", nil)
	summarizer.WithTelemetry(s.opts.Logger, s.opts.Metrics, s.opts.Tracer)
	result, err := summarizer.Invoke(ctx, nucleus.InvokeInput{
		TaskID:          "goal-summary",
		Objective:       fmt.Sprintf("Summarize the outcome of goal %q given task outputs.", in.Goal.Intent),
		SuccessCriteria: []string{"concise narrative of what was accomplished"},
		Scope:           nucleus.NewScope(),
		ContextFacts:    mergeFacts(in.Context.Facts, st.outputs),
	})
	if err != nil {
		return fmt.Sprintf("goal summary unavailable: %v", err)
	}
	text, _ := result.Output.(string)
	return text
}

func (s *Scheduler) checkpointNow(ctx context.Context, in RunInput, st *runState) {
	if s.opts.CheckpointStore == nil {
		return
	}
	cp := checkpoint.Checkpoint{
		ID:      fmt.Sprintf("%s-%d", in.RunID, time.Now().UnixNano()),
		RunID:   in.RunID,
		TS:      time.Now().UnixMilli(),
		Version: checkpoint.CurrentMajorVersion,
		State: checkpoint.State{
			Goal:     in.Goal,
			Context:  in.Context,
			Plan:     *in.Plan,
			Outputs:  st.outputs,
			Executed: keys(st.executed),
			Ledger:   in.Ledger.GetEntries(),
		},
	}
	_ = s.opts.CheckpointStore.Put(ctx, cp)
}

func (s *Scheduler) resume(ctx context.Context, st *runState) error {
	cp, err := s.opts.CheckpointStore.Get(ctx, st.in.RunID, st.in.ResumeFrom)
	if err != nil {
		return fmt.Errorf("scheduler: loading checkpoint: %w", err)
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("scheduler: resume rejected: %w", err)
	}
	if !structurallyCompatible(cp.State.Plan, *st.in.Plan) {
		return fmt.Errorf("scheduler: resume rejected: plan structure changed since checkpoint")
	}
	st.outputs = cp.State.Outputs
	st.executed = toSet(cp.State.Executed)
	st.in.Ledger.Restore(cp.State.Ledger)
	return nil
}

func structurallyCompatible(a, b plan.Plan) bool {
	if len(a.Tasks) != len(b.Tasks) {
		return false
	}
	ids := make(map[string]struct{}, len(a.Tasks))
	for _, t := range a.Tasks {
		ids[t.ID] = struct{}{}
	}
	for _, t := range b.Tasks {
		if _, ok := ids[t.ID]; !ok {
			return false
		}
	}
	return true
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func intersect(ids []string, set map[string]struct{}) []string {
	var out []string
	for _, id := range ids {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func subsetOf(scope map[string]struct{}, executed map[string]struct{}) bool {
	for id := range scope {
		if _, ok := executed[id]; !ok {
			return false
		}
	}
	return true
}

func orderByPlan(p *plan.Plan, ready []string) []string {
	readySet := toSet(ready)
	var out []string
	for _, t := range p.Tasks {
		if _, ok := readySet[t.ID]; ok {
			out = append(out, t.ID)
		}
	}
	return out
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func mergeFacts(facts map[string]any, outputs map[string]any) map[string]any {
	out := make(map[string]any, len(facts)+len(outputs))
	for k, v := range facts {
		out[k] = v
	}
	for k, v := range outputs {
		out["output:"+k] = v
	}
	return out
}

// RunContext is the concrete capability.RunContext implementation the
// scheduler supplies to task bodies, exposing a wrapped getTool so every
// tool call a task makes passes through the Tool-Call Envelope Wrapper
// (C6).
type RunContext struct {
	Goal    plan.Goal
	Context plan.ContextPacket
	Outputs map[string]any

	toolReg *tools.Registry
	led     *ledger.Ledger
	taskID  string
	idemKey string
}

// GetTool resolves name in the tool registry and wraps it with envelope
// emission scoped to this task.
func (rc *RunContext) GetTool(name string) (any, bool) {
	t, ok := rc.toolReg.Resolve(tools.ID(name))
	if !ok {
		return nil, false
	}
	return toolenvelope.Wrap(t, rc.taskID, rc.led), true
}

// IdemKey returns the task-level idempotency key computed for this task
// (§5 shared-resources), for task bodies to pass into a tool's Call.
func (rc *RunContext) IdemKey() string { return rc.idemKey }

var _ capability.RunContext = (*RunContext)(nil)
