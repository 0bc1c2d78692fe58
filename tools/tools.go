// Package tools implements the callable tool catalog (C1): name -> callable
// + schema. Tools are looked up by the scheduler's getTool and wrapped by
// toolenvelope before a task invokes them.
package tools

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ID is the strong type for tool identifiers, avoiding accidental mixing
// with free-form strings.
type ID string

// Tool is a callable capability exposed to task bodies and to the Nucleus's
// tool-calling loop.
type Tool interface {
	Name() ID
	Description() string
	InputSchema() []byte
	OutputSchema() []byte
	SideEffects() bool
	Call(ctx context.Context, input any, idemKey string) (any, error)
}

// Func adapts a plain function plus metadata into a Tool.
type Func struct {
	IDValue      ID
	Desc         string
	InSchema     []byte
	OutSchema    []byte
	HasSideEffects bool
	CallFunc     func(ctx context.Context, input any, idemKey string) (any, error)
}

func (f *Func) Name() ID               { return f.IDValue }
func (f *Func) Description() string    { return f.Desc }
func (f *Func) InputSchema() []byte    { return f.InSchema }
func (f *Func) OutputSchema() []byte   { return f.OutSchema }
func (f *Func) SideEffects() bool      { return f.HasSideEffects }
func (f *Func) Call(ctx context.Context, input any, idemKey string) (any, error) {
	return f.CallFunc(ctx, input, idemKey)
}

// Registry is a typed catalog of tools, indexed by unique ID.
type Registry struct {
	mu      sync.RWMutex
	entries map[ID]Tool
	schemas map[ID]*jsonschema.Schema
}

// NewRegistry constructs an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[ID]Tool), schemas: make(map[ID]*jsonschema.Schema)}
}

// Register adds a tool to the registry, compiling its input schema (if any)
// so malformed schemas fail fast.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[t.Name()]; exists {
		return fmt.Errorf("tools: %q already registered", t.Name())
	}
	if raw := t.InputSchema(); len(raw) > 0 {
		schema, err := compileSchema(string(t.Name())+"#input", raw)
		if err != nil {
			return fmt.Errorf("tools: %q: input schema: %w", t.Name(), err)
		}
		r.schemas[t.Name()] = schema
	}
	r.entries[t.Name()] = t
	return nil
}

// Resolve looks up a tool by ID.
func (r *Registry) Resolve(id ID) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.entries[id]
	return t, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id ID) bool {
	_, ok := r.Resolve(id)
	return ok
}

// List returns the registered tool IDs in no particular order.
func (r *Registry) List() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// ValidateInput validates input JSON against the compiled schema for id, if
// one was registered. A tool without a declared schema always validates.
func (r *Registry) ValidateInput(id ID, input any) error {
	r.mu.RLock()
	schema, ok := r.schemas[id]
	r.mu.RUnlock()
	if !ok || schema == nil {
		return nil
	}
	return schema.Validate(input)
}

func compileSchema(resourceName string, raw []byte) (*jsonschema.Schema, error) {
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
