// Package contextprovider implements the External Context Provider Adapter
// (C5): it resolves retrieval directives emitted by the Nucleus's preflight
// hook into concrete artifacts promoted into a task's internal scope, never
// into the shared Context Packet (§4.5).
//
// Grounded on runtime/agent/interrupt/controller.go's await/fulfillment
// signal pattern (Fulfill here plays the role of that package's
// WaitProvideToolResults: block on an external resolution, then hand results
// back into the run) and runtime/agent/memory/memory.go's event/store shape,
// adapted from conversational memory events to retrieval-cache entries.
package contextprovider

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentkernel/kernel/ledger"
)

// Cache backs retrieval results so repeated directives across runs, and
// across resumed checkpoints, do not re-fetch identical artifacts.
type Cache interface {
	Get(ctx context.Context, key string) (map[string]any, bool, error)
	Set(ctx context.Context, key string, value map[string]any) error
}

// Provider resolves one directive's payload (the part after "prefix:") into
// artifacts to promote into the task scope.
type Provider interface {
	Fetch(ctx context.Context, payload string) (map[string]any, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context, payload string) (map[string]any, error)

// Fetch calls f.
func (f ProviderFunc) Fetch(ctx context.Context, payload string) (map[string]any, error) {
	return f(ctx, payload)
}

// Adapter routes directives to registered providers by prefix, caches
// results, and emits CONTEXT_INTERNALIZED ledger entries for every
// promotion attempt.
type Adapter struct {
	providers map[string]Provider
	cache     Cache
	ledger    *ledger.Ledger
}

// New builds an Adapter. cache may be nil, in which case no caching occurs.
func New(led *ledger.Ledger, cache Cache) *Adapter {
	return &Adapter{providers: make(map[string]Provider), cache: cache, ledger: led}
}

// Register binds a provider to a directive prefix (the text before the
// first ':' in a directive string).
func (a *Adapter) Register(prefix string, p Provider) {
	a.providers[prefix] = p
}

// Directive splits a "prefix:payload" directive string.
type Directive struct {
	Prefix  string
	Payload string
	Raw     string
}

// ParseDirective parses the "prefix:payload" convention (§4.5). A directive
// with no ':' is invalid.
func ParseDirective(raw string) (Directive, error) {
	idx := strings.IndexByte(raw, ':')
	if idx < 0 {
		return Directive{}, fmt.Errorf("contextprovider: directive %q does not match prefix:payload", raw)
	}
	return Directive{Prefix: raw[:idx], Payload: raw[idx+1:], Raw: raw}, nil
}

// Fulfill resolves each directive in turn, writing resolved artifacts into
// the supplied sink (the task's internal scope) and emitting a
// CONTEXT_INTERNALIZED entry per directive. It returns the set of
// directives that could not be resolved (unknown prefix, parse failure, or
// provider error); a non-empty return does not stop processing of the
// remaining directives.
func (a *Adapter) Fulfill(ctx context.Context, taskID string, directives []string, sink func(key string, value any)) []string {
	var unresolved []string
	for _, raw := range directives {
		artifacts, err := a.resolveOne(ctx, raw)
		status := "resolved"
		if err != nil {
			status = "failed: " + err.Error()
			unresolved = append(unresolved, raw)
		} else {
			for k, v := range artifacts {
				sink(k, v)
			}
		}
		a.emit(taskID, raw, status)
	}
	return unresolved
}

func (a *Adapter) resolveOne(ctx context.Context, raw string) (map[string]any, error) {
	d, err := ParseDirective(raw)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		if cached, ok, cerr := a.cache.Get(ctx, raw); cerr == nil && ok {
			return cached, nil
		}
	}
	p, ok := a.providers[d.Prefix]
	if !ok {
		return nil, fmt.Errorf("contextprovider: no provider registered for prefix %q", d.Prefix)
	}
	artifacts, err := p.Fetch(ctx, d.Payload)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		_ = a.cache.Set(ctx, raw, artifacts)
	}
	return artifacts, nil
}

func (a *Adapter) emit(taskID, directive, status string) {
	if a.ledger == nil {
		return
	}
	a.ledger.Append(ledger.TypeContextInternalized, map[string]any{
		"taskId":    taskID,
		"directive": directive,
		"status":    status,
	}, true)
}
