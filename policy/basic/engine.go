// Package basic provides a simple policy.Engine implementation enforcing
// optional allow/block lists of capability names and tags, adapted from the
// teacher's features/policy/basic engine (which filtered per-turn tool
// allowlists) onto this kernel's coarser plan.admit/task.pre/task.post
// action model.
package basic

import (
	"context"
	"strings"

	"github.com/agentkernel/kernel/policy"
)

// Options configures the basic policy engine.
type Options struct {
	// AllowCapabilities restricts task.pre to these capability names. Empty
	// means no allowlist filter.
	AllowCapabilities []string
	// BlockCapabilities denies task.pre for these capability names.
	BlockCapabilities []string
	// Label annotates emitted allow decisions (deny decisions carry no
	// labels); defaults to "basic".
	Label string
}

// Engine implements policy.Engine with allow/block filtering by capability
// name, found in payload["capabilityRef"].
type Engine struct {
	allow map[string]struct{}
	block map[string]struct{}
	label string
}

// New builds a new Engine using the supplied options.
func New(opts Options) *Engine {
	label := strings.TrimSpace(opts.Label)
	if label == "" {
		label = "basic"
	}
	return &Engine{
		allow: toSet(opts.AllowCapabilities),
		block: toSet(opts.BlockCapabilities),
		label: label,
	}
}

// Evaluate applies the allow/block lists to task.pre only; plan.admit is
// always allowed (capability-map membership is enforced separately by the
// planner, §4.7), and task.post carries no capabilityRef to filter on (the
// scheduler's post payload is {taskId, output}), so it is always allowed too.
func (e *Engine) Evaluate(_ context.Context, action policy.Action, payload map[string]any) (policy.Decision, error) {
	if action != policy.ActionTaskPre {
		return policy.Decision{Allow: true, Labels: map[string]string{"policy_engine": e.label}}, nil
	}
	capRef, _ := payload["capabilityRef"].(string)
	if len(e.block) > 0 {
		if _, blocked := e.block[capRef]; blocked {
			return policy.Decision{Allow: false, Reason: "capability blocked: " + capRef}, nil
		}
	}
	if len(e.allow) > 0 {
		if _, ok := e.allow[capRef]; !ok {
			return policy.Decision{Allow: false, Reason: "capability not allowlisted: " + capRef}, nil
		}
	}
	return policy.Decision{Allow: true, Labels: map[string]string{"policy_engine": e.label}}, nil
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return set
}
