// Package kernel is the Framework Façade (C11): it normalizes goal/context
// inputs, computes the contextRef, wires a Planner and Scheduler against
// shared registries and a Nucleus factory, and exposes Plan/Execute/
// PlanAndExecute as the single entry point a caller needs (§4.11).
//
// Grounded on runtime/agent/runtime/runtime.go's Runtime struct (a central
// registry-and-façade type constructed once per process via New, holding
// the capability/tool/policy/engine collaborators a run needs) — narrowed
// here from a multi-agent workflow registry to a single-kernel façade.
package kernel

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentkernel/kernel/capability"
	"github.com/agentkernel/kernel/contextprovider"
	"github.com/agentkernel/kernel/engine"
	"github.com/agentkernel/kernel/guard"
	"github.com/agentkernel/kernel/ledger"
	"github.com/agentkernel/kernel/model"
	"github.com/agentkernel/kernel/nucleus"
	"github.com/agentkernel/kernel/plan"
	"github.com/agentkernel/kernel/planner"
	"github.com/agentkernel/kernel/policy"
	"github.com/agentkernel/kernel/scheduler"
	"github.com/agentkernel/kernel/store/checkpoint"
	"github.com/agentkernel/kernel/telemetry"
	"github.com/agentkernel/kernel/tools"
)

// Options configures a Kernel for the lifetime of the process.
type Options struct {
	Capabilities    *capability.Registry
	Tools           *tools.Registry
	Model           model.Client
	Policy          policy.Engine // optional; defaults to policy.AllowAll{}
	ContextProvider *contextprovider.Adapter // optional
	CheckpointStore checkpoint.Store          // optional
	Engine          engine.Engine             // optional; defaults to in-memory
	NucleusConfig   nucleus.Config
	GuardLogger     func(expr string, err error) // optional; forwarded to guard.New

	// Logger/Metrics/Tracer instrument the run loop, per-task pipeline, and
	// Nucleus rounds. Noop implementations are substituted for nil fields,
	// as in runtime/agent/runtime/runtime.go's Options handling.
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Kernel is the single entry point wiring the Planner and Scheduler against
// shared collaborators.
type Kernel struct {
	opts  Options
	guard *guard.Evaluator
}

// New validates opts and constructs a Kernel.
func New(opts Options) (*Kernel, error) {
	if opts.Capabilities == nil {
		return nil, fmt.Errorf("kernel: Capabilities registry is required")
	}
	if opts.Tools == nil {
		return nil, fmt.Errorf("kernel: Tools registry is required")
	}
	if opts.Model == nil {
		return nil, fmt.Errorf("kernel: Model client is required")
	}
	if opts.Policy == nil {
		opts.Policy = policy.AllowAll{}
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
	ev, err := guard.New(opts.GuardLogger)
	if err != nil {
		return nil, fmt.Errorf("kernel: constructing guard evaluator: %w", err)
	}
	return &Kernel{opts: opts, guard: ev}, nil
}

// PlanInput configures a Plan call.
type PlanInput struct {
	Goal      plan.Goal
	Context   plan.ContextPacket
	PlanCount int // default 1
	Ledger    *ledger.Ledger
	Selector  func(candidates []plan.Plan) int
}

// PlanResult is the outcome of a Plan call.
type PlanResult struct {
	Plan   *plan.Plan
	Ledger *ledger.Ledger
}

// nucleusFactory builds the shared per-task Nucleus instances both the
// Planner and the Scheduler draw from, so every component in a run sees
// the same model client, config, and ledger. The taskID and allowed
// arguments are not used.
func (k *Kernel) nucleusFactory(led *ledger.Ledger) func(taskID string, allowed []tools.ID) *nucleus.Nucleus {
	return func(taskID string, allowed []tools.ID) *nucleus.Nucleus {
		nuc := nucleus.New(k.opts.NucleusConfig, k.opts.Model, led)
		return nuc.WithTelemetry(k.opts.Logger, k.opts.Metrics, k.opts.Tracer)
	}
}

// Plan normalizes in.Goal/in.Context, computes contextRef, and drives the
// Planner to produce a selected Plan DAG (§4.11 "plan").
func (k *Kernel) Plan(ctx context.Context, in PlanInput) (*PlanResult, error) {
	normalizeGoal(&in.Goal)
	normalizeContext(&in.Context)
	led := in.Ledger
	if led == nil {
		led = ledger.New(nil)
	}

	factory := k.nucleusFactory(led)
	nuc := factory("planner", nil)
	pl, err := planner.New(nuc, led)
	if err != nil {
		return nil, fmt.Errorf("kernel: constructing planner: %w", err)
	}

	count := in.PlanCount
	if count <= 0 {
		count = 1
	}
	p, err := pl.Plan(ctx, planner.Input{
		Goal:         in.Goal,
		Context:      in.Context,
		Capabilities: k.opts.Capabilities,
		PlanCount:    count,
		Selector:     in.Selector,
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: planning: %w", err)
	}
	return &PlanResult{Plan: p, Ledger: led}, nil
}

// ExecuteInput configures an Execute call.
type ExecuteInput struct {
	Goal               plan.Goal
	Context            plan.ContextPacket
	Plan               *plan.Plan // required, also on resume (it is checked against the checkpoint's plan)
	Ledger             *ledger.Ledger
	RunID              string
	TaskScope          []string
	ResumeFrom         string
	CheckpointStore    checkpoint.Store // overrides Options.CheckpointStore for this call
	CheckpointInterval int
}

// ExecuteResult is the outcome of an Execute call.
type ExecuteResult struct {
	Output *scheduler.RunOutput
	Ledger *ledger.Ledger
}

// Execute normalizes in.Goal/in.Context and drives the Scheduler over
// in.Plan (§4.11 "execute").
func (k *Kernel) Execute(ctx context.Context, in ExecuteInput) (*ExecuteResult, error) {
	normalizeGoal(&in.Goal)
	normalizeContext(&in.Context)
	led := in.Ledger
	if led == nil {
		led = ledger.New(nil)
	}
	runID := in.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	cpStore := in.CheckpointStore
	if cpStore == nil {
		cpStore = k.opts.CheckpointStore
	}

	s := scheduler.New(scheduler.Options{
		Capabilities:    k.opts.Capabilities,
		Tools:           k.opts.Tools,
		Policy:          k.opts.Policy,
		Guard:           k.guard,
		NucleusFactory:  k.nucleusFactory(led),
		ContextProvider: k.opts.ContextProvider,
		CheckpointStore: cpStore,
		Engine:          k.opts.Engine,
		Logger:          k.opts.Logger,
		Metrics:         k.opts.Metrics,
		Tracer:          k.opts.Tracer,
	})

	out, err := s.Run(ctx, scheduler.RunInput{
		RunID:              runID,
		Goal:               in.Goal,
		Context:            in.Context,
		Plan:               in.Plan,
		Ledger:             led,
		TaskScope:          in.TaskScope,
		CheckpointInterval: in.CheckpointInterval,
		ResumeFrom:         in.ResumeFrom,
	})
	if err != nil {
		return nil, err
	}
	return &ExecuteResult{Output: out, Ledger: led}, nil
}

// PlanAndExecuteInput combines PlanInput and the execution-only fields of
// ExecuteInput.
type PlanAndExecuteInput struct {
	Goal               plan.Goal
	Context            plan.ContextPacket
	PlanCount          int
	Ledger             *ledger.Ledger
	Selector           func(candidates []plan.Plan) int
	RunID              string
	TaskScope          []string
	CheckpointStore    checkpoint.Store
	CheckpointInterval int
}

// PlanAndExecuteResult bundles both phases' outcomes.
type PlanAndExecuteResult struct {
	Plan      *plan.Plan
	Execution *scheduler.RunOutput
	Ledger    *ledger.Ledger
}

// PlanAndExecute runs Plan then feeds its selected Plan straight into
// Execute, sharing one ledger across both phases (§4.11 "planAndExecute").
func (k *Kernel) PlanAndExecute(ctx context.Context, in PlanAndExecuteInput) (*PlanAndExecuteResult, error) {
	planResult, err := k.Plan(ctx, PlanInput{
		Goal:      in.Goal,
		Context:   in.Context,
		PlanCount: in.PlanCount,
		Ledger:    in.Ledger,
		Selector:  in.Selector,
	})
	if err != nil {
		return nil, err
	}

	execResult, err := k.Execute(ctx, ExecuteInput{
		Goal:               in.Goal,
		Context:            in.Context,
		Plan:               planResult.Plan,
		Ledger:             planResult.Ledger,
		RunID:              in.RunID,
		TaskScope:          in.TaskScope,
		CheckpointStore:    in.CheckpointStore,
		CheckpointInterval: in.CheckpointInterval,
	})
	if err != nil {
		return nil, err
	}

	return &PlanAndExecuteResult{
		Plan:      planResult.Plan,
		Execution: execResult.Output,
		Ledger:    execResult.Ledger,
	}, nil
}

func normalizeGoal(g *plan.Goal) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
}

func normalizeContext(c *plan.ContextPacket) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Facts == nil {
		c.Facts = map[string]any{}
	}
}
