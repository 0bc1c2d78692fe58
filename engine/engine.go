// Package engine abstracts the durable execution backend the scheduler's
// per-run loop runs against, so the same scheduler code can run in-memory
// for tests and single-process deployments, or atop Temporal for
// crash-resumable production execution (§4.8 "Durable execution engine").
//
// Trimmed from runtime/agent/engine/engine.go's multi-workflow registry
// (this kernel's scheduler drives a single run per WorkflowContext, not a
// pool of named agent workflows) down to the primitives the scheduler
// loop actually needs: activity execution, signal channels for
// pause/resume, and a replay-safe clock.
package engine

import (
	"context"
	"time"
)

type (
	// Engine starts a run's workflow execution against a durability backend.
	Engine interface {
		// StartRun launches fn as a workflow execution identified by runID and
		// returns a handle for waiting on completion or sending signals.
		StartRun(ctx context.Context, runID string, fn WorkflowFunc, input any) (WorkflowHandle, error)
	}

	// WorkflowFunc is the scheduler's run loop, executed against a
	// WorkflowContext. It must be deterministic under replay: no direct
	// wall-clock reads, no unseeded randomness, no raw goroutines touching
	// shared state outside the activities it schedules.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to the run loop.
	WorkflowContext interface {
		Context() context.Context
		RunID() string

		// ExecuteActivity runs a single task-pipeline step as an activity (an
		// engine-tracked unit of work that may perform I/O), blocking until it
		// completes.
		ExecuteActivity(ctx context.Context, name string, input any) (any, error)

		// SignalChannel returns a channel for the named signal (pause/resume).
		SignalChannel(name string) SignalChannel

		// Now returns a replay-safe clock reading.
		Now() time.Time

		// Sleep blocks for d using the engine's replay-safe timer, never a raw
		// time.Sleep against wall time (§4.8 "Retry/backoff implementation").
		Sleep(ctx context.Context, d time.Duration) error
	}

	// WorkflowHandle interacts with a running workflow.
	WorkflowHandle interface {
		Wait(ctx context.Context, result *any) error
		Signal(ctx context.Context, name string, payload any) error
		Cancel(ctx context.Context) error
	}

	// SignalChannel delivers externally-sent signals (pause/resume/cancel)
	// into the deterministic workflow execution.
	SignalChannel interface {
		Receive(ctx context.Context, dest any) error
		ReceiveAsync(dest any) bool
	}

	// RetryPolicy shapes activity retry behavior at the engine level,
	// independent of the scheduler's own per-task retry/backoff (§4.8's
	// task.retry), which governs application-level retries rather than
	// engine transport retries.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}
)

const (
	// SignalPause names the pause-request signal. The scheduler's run loop
	// does not read it.
	SignalPause = "kernel.run.pause"
	// SignalResume names the resume signal. The scheduler's run loop does
	// not read it.
	SignalResume = "kernel.run.resume"
)
