// Package capability implements the typed capability catalog (C1):
// name -> {input schema, output schema, side-effect flag}. Capabilities are
// registered once per process and resolved to a Task implementation by the
// scheduler at execution time.
package capability

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Name uniquely identifies a capability within a registry.
type Name string

// Task is the executable implementation bound to a capability. Task bodies
// invoke tools via the RunContext's wrapped getTool and return an output
// value that flows into the plan's outputs map.
type Task interface {
	// Execute runs the task body for a single invocation of the capability.
	Execute(ctx context.Context, rc RunContext, input any) (any, error)
}

// TaskFunc adapts a plain function to the Task interface.
type TaskFunc func(ctx context.Context, rc RunContext, input any) (any, error)

// Execute calls f.
func (f TaskFunc) Execute(ctx context.Context, rc RunContext, input any) (any, error) {
	return f(ctx, rc, input)
}

// RunContext is the minimal view a capability Task needs of the scheduler's
// run-scoped state. The scheduler package supplies the concrete
// implementation; this interface exists so capability implementations do
// not import the scheduler package (avoiding an import cycle).
type RunContext interface {
	GetTool(name string) (any, bool)
	// IdemKey returns the current task's idempotency key, derived from
	// contextRef+taskId+input, for task bodies to pass into a tool's Call.
	IdemKey() string
}

// Capability is a named, schema-bound unit of work that a planner may target
// and the runtime can execute.
type Capability struct {
	Name         Name
	InputSchema  *jsonschema.Schema
	OutputSchema *jsonschema.Schema
	SideEffects  bool
	Task         Task
}

// Registry is a typed catalog of capabilities, indexed by unique name.
type Registry struct {
	mu      sync.RWMutex
	entries map[Name]*Capability
	version string
}

// NewRegistry constructs an empty registry stamped with the given capability
// map version. The planner copies it into Plan.CapabilityMapVersion; no
// component compares a plan's version with the registry's.
func NewRegistry(version string) *Registry {
	return &Registry{entries: make(map[Name]*Capability), version: version}
}

// Version returns the registry's capability map version.
func (r *Registry) Version() string { return r.version }

// Register adds a capability to the registry. Schemas, when provided as raw
// JSON Schema documents, are compiled once here so a malformed schema fails
// fast at registration rather than at first use.
func (r *Registry) Register(name Name, inputSchema, outputSchema []byte, sideEffects bool, task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("capability: %q already registered", name)
	}
	cap := &Capability{Name: name, SideEffects: sideEffects, Task: task}
	var err error
	if cap.InputSchema, err = compileSchema(string(name)+"#input", inputSchema); err != nil {
		return fmt.Errorf("capability %q: input schema: %w", name, err)
	}
	if cap.OutputSchema, err = compileSchema(string(name)+"#output", outputSchema); err != nil {
		return fmt.Errorf("capability %q: output schema: %w", name, err)
	}
	r.entries[name] = cap
	return nil
}

// Resolve looks up a capability by name. A missing capability is a fatal
// precondition error for the scheduler (§4.1).
func (r *Registry) Resolve(name Name) (*Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cap, ok := r.entries[name]
	return cap, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name Name) bool {
	_, ok := r.Resolve(name)
	return ok
}

// List returns the registered capability names in no particular order.
func (r *Registry) List() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]Name, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	return names
}

func compileSchema(resourceName string, raw []byte) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, doc); err != nil {
		return nil, err
	}
	return c.Compile(resourceName)
}
