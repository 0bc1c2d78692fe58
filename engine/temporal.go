package engine

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// TemporalEngine binds the scheduler's run loop to Temporal for durable,
// crash-resumable execution. Grounded on
// runtime/agent/engine/temporal/workflow_context.go's adaptation of a
// workflow.Context into engine.WorkflowContext, trimmed to this kernel's
// single-run (not multi-workflow-registry) scheduler shape.
type TemporalEngine struct {
	client         client.Client
	worker         worker.Worker
	taskQueue      string
	registeredName string
}

// NewTemporalEngine builds an Engine bound to an already-connected Temporal
// client and a worker listening on taskQueue. Callers register the
// scheduler's workflow function once via RegisterWorkflow before starting
// the worker.
func NewTemporalEngine(c client.Client, w worker.Worker, taskQueue string) *TemporalEngine {
	return &TemporalEngine{client: c, worker: w, taskQueue: taskQueue}
}

// RegisterWorkflow registers fn under name so StartRun can launch it.
// Temporal workflow functions must take workflow.Context directly, so this
// wraps fn to adapt workflow.Context into engine.WorkflowContext at
// invocation time.
func (e *TemporalEngine) RegisterWorkflow(name string, fn WorkflowFunc) {
	e.worker.RegisterWorkflowWithOptions(func(ctx workflow.Context, input any) (any, error) {
		wfCtx := newTemporalWorkflowContext(ctx)
		return fn(wfCtx, input)
	}, workflow.RegisterOptions{Name: name})
	e.registeredName = name
}

// RegisterActivity registers a named activity handler that workflow code
// reaches through WorkflowContext.ExecuteActivity. The scheduler's per-task
// pipeline does not call ExecuteActivity.
func (e *TemporalEngine) RegisterActivity(name string, fn func(ctx context.Context, input any) (any, error)) {
	e.worker.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

// StartRun launches the workflow previously bound via RegisterWorkflow. fn
// is accepted (rather than ignored outright) only to satisfy the Engine
// interface shared with MemoryEngine; Temporal requires workflows be
// registered by name ahead of worker start, so fn here is unused at call
// time. The scheduler package does not call RegisterWorkflow.
func (e *TemporalEngine) StartRun(ctx context.Context, runID string, _ WorkflowFunc, input any) (WorkflowHandle, error) {
	if e.registeredName == "" {
		return nil, fmt.Errorf("engine: StartRun called before RegisterWorkflow")
	}
	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        runID,
		TaskQueue: e.taskQueue,
	}, e.registeredName, input)
	if err != nil {
		return nil, fmt.Errorf("engine: starting temporal workflow: %w", err)
	}
	return &temporalHandle{client: e.client, run: run}, nil
}

type temporalWorkflowContext struct {
	ctx workflow.Context
}

func newTemporalWorkflowContext(ctx workflow.Context) *temporalWorkflowContext {
	return &temporalWorkflowContext{ctx: ctx}
}

func (w *temporalWorkflowContext) Context() context.Context {
	return context.Background()
}

func (w *temporalWorkflowContext) RunID() string {
	return workflow.GetInfo(w.ctx).WorkflowExecution.RunID
}

func (w *temporalWorkflowContext) ExecuteActivity(_ context.Context, name string, input any) (any, error) {
	actx := workflow.WithActivityOptions(w.ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &sdktemporal.RetryPolicy{
			MaximumAttempts: 1, // the scheduler's own task.retry governs application retries
		},
	})
	fut := workflow.ExecuteActivity(actx, name, input)
	var out any
	if err := fut.Get(actx, &out); err != nil {
		return nil, normalizeTemporalError(err)
	}
	return out, nil
}

func (w *temporalWorkflowContext) SignalChannel(name string) SignalChannel {
	return &temporalSignalChannel{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

func (w *temporalWorkflowContext) Now() time.Time {
	return workflow.Now(w.ctx)
}

func (w *temporalWorkflowContext) Sleep(_ context.Context, d time.Duration) error {
	return normalizeTemporalError(workflow.Sleep(w.ctx, d))
}

func normalizeTemporalError(err error) error {
	if err == nil {
		return nil
	}
	if sdktemporal.IsCanceledError(err) {
		return context.Canceled
	}
	return err
}

type temporalSignalChannel struct {
	ctx workflow.Context
	ch  workflow.ReceiveChannel
}

func (c *temporalSignalChannel) Receive(ctx context.Context, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.ch.Receive(c.ctx, dest)
	return nil
}

func (c *temporalSignalChannel) ReceiveAsync(dest any) bool {
	return c.ch.ReceiveAsync(dest)
}

type temporalHandle struct {
	client client.Client
	run    client.WorkflowRun
}

func (h *temporalHandle) Wait(ctx context.Context, result *any) error {
	return h.run.Get(ctx, result)
}

func (h *temporalHandle) Signal(ctx context.Context, name string, payload any) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload)
}

func (h *temporalHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}
