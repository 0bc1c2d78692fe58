package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryEngine runs workflows synchronously in-process, for tests and
// single-process deployments with no crash-resume requirement.
type MemoryEngine struct{}

// NewMemoryEngine constructs an in-memory Engine.
func NewMemoryEngine() *MemoryEngine { return &MemoryEngine{} }

// StartRun executes fn synchronously and returns a handle over its already-
// completed result.
func (e *MemoryEngine) StartRun(ctx context.Context, runID string, fn WorkflowFunc, input any) (WorkflowHandle, error) {
	wfCtx := newMemoryContext(ctx, runID)
	result, err := fn(wfCtx, input)
	return &memoryHandle{result: result, err: err, signals: wfCtx.signals}, nil
}

type memoryContext struct {
	ctx     context.Context
	runID   string
	signals *memorySignalBus
}

func newMemoryContext(ctx context.Context, runID string) *memoryContext {
	return &memoryContext{ctx: ctx, runID: runID, signals: newMemorySignalBus()}
}

func (c *memoryContext) Context() context.Context { return c.ctx }
func (c *memoryContext) RunID() string            { return c.runID }

func (c *memoryContext) ExecuteActivity(ctx context.Context, name string, input any) (any, error) {
	// MemoryEngine has no activity handlers: this always returns an error,
	// and the scheduler invokes task bodies directly.
	return nil, fmt.Errorf("engine: ExecuteActivity(%q) has no registered handler in MemoryEngine; callers invoke task bodies directly", name)
}

func (c *memoryContext) SignalChannel(name string) SignalChannel {
	return c.signals.channel(name)
}

func (c *memoryContext) Now() time.Time { return time.Now() }

func (c *memoryContext) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type memoryHandle struct {
	result  any
	err     error
	signals *memorySignalBus
}

func (h *memoryHandle) Wait(ctx context.Context, result *any) error {
	*result = h.result
	return h.err
}

func (h *memoryHandle) Signal(ctx context.Context, name string, payload any) error {
	h.signals.channel(name).send(payload)
	return nil
}

func (h *memoryHandle) Cancel(ctx context.Context) error {
	return nil
}

type memorySignalBus struct {
	mu       sync.Mutex
	channels map[string]*memorySignalChannel
}

func newMemorySignalBus() *memorySignalBus {
	return &memorySignalBus{channels: make(map[string]*memorySignalChannel)}
}

func (b *memorySignalBus) channel(name string) *memorySignalChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[name]
	if !ok {
		ch = &memorySignalChannel{ch: make(chan any, 16)}
		b.channels[name] = ch
	}
	return ch
}

type memorySignalChannel struct {
	ch chan any
}

func (c *memorySignalChannel) send(payload any) {
	c.ch <- payload
}

func (c *memorySignalChannel) Receive(ctx context.Context, dest any) error {
	select {
	case v := <-c.ch:
		return assign(dest, v)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memorySignalChannel) ReceiveAsync(dest any) bool {
	select {
	case v := <-c.ch:
		_ = assign(dest, v)
		return true
	default:
		return false
	}
}

func assign(dest, v any) error {
	switch d := dest.(type) {
	case *any:
		*d = v
		return nil
	default:
		return fmt.Errorf("engine: unsupported signal destination type %T", dest)
	}
}
