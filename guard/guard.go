// Package guard implements the Guard Evaluator (C3): a deterministic,
// side-effect-free boolean expression evaluator over {context, outputs,
// policy}.
//
// This closes the injection vector the source spec explicitly calls out
// (§9 "Guard expressions -> safe mini-evaluator. Do NOT use host code
// evaluation."): expressions are compiled and run through cel-go's
// sandboxed CEL interpreter, which exposes no host functions, no I/O, and no
// reflection into Go types beyond the three declared bindings.
package guard

import (
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
)

// Bindings are the three values a guard expression may reference.
type Bindings struct {
	Context map[string]any
	Outputs map[string]any
	Policy  map[string]any
}

// Evaluator compiles and caches guard expressions, keyed by expression text.
type Evaluator struct {
	env   *cel.Env
	mu    sync.Mutex
	cache map[string]cel.Program
	log   func(expr string, err error)
}

// New constructs an Evaluator. onError, if non-nil, is invoked for every
// parse/compile/runtime error so callers can log it; the evaluator itself
// always treats an error as a false guard result, never as a panic.
func New(onError func(expr string, err error)) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("context", cel.DynType),
		cel.Variable("outputs", cel.DynType),
		cel.Variable("policy", cel.DynType),
	)
	if err != nil {
		return nil, err
	}
	if onError == nil {
		onError = func(string, error) {}
	}
	return &Evaluator{env: env, cache: make(map[string]cel.Program), log: onError}, nil
}

// Evaluate runs expr against bindings, returning false (never an error) on
// any parse, compile, type-check, or runtime failure, per §4.3.
func (e *Evaluator) Evaluate(expr string, b Bindings) bool {
	if expr == "" {
		return true
	}
	prg, err := e.compile(expr)
	if err != nil {
		e.log(expr, err)
		return false
	}
	out, _, err := prg.Eval(map[string]any{
		"context": toDyn(b.Context),
		"outputs": toDyn(b.Outputs),
		"policy":  toDyn(b.Policy),
	})
	if err != nil {
		e.log(expr, err)
		return false
	}
	return asBool(out)
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.cache[expr]; ok {
		return prg, nil
	}
	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, err
	}
	e.cache[expr] = prg
	return prg, nil
}

func toDyn(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func asBool(v ref.Val) bool {
	b, ok := v.Value().(bool)
	return ok && b
}
