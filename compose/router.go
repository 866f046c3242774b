/*
 * Copyright 2025 Weave Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package compose

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"

	"github.com/weavegraph/weave/internal/gmap"
	"github.com/weavegraph/weave/internal/safe"
	"github.com/weavegraph/weave/schema"
)

// routeKind discriminates the closed RouteOutcome variant. The scheduler
// switches over it exhaustively; new outcome kinds extend the variant rather
// than sniffing value shapes.
type routeKind int

const (
	routeGoto routeKind = iota
	routeTerminal
	routeDispatch
)

// RouteOutcome is the decision a router returns after a node has run: go to
// a named node, end the run, or dispatch one or more subgraph invocations.
// Construct outcomes with Goto, Terminal, or Dispatch.
type RouteOutcome struct {
	kind        routeKind
	next        string
	fanout      []string
	invocations []*Invocation
}

// Invocation names a dispatch target together with the explicit payload for
// that invocation. The payload must conform to the subgraph's own state
// schema; it is constructed by the router, never inferred from parent state.
type Invocation struct {
	// Subgraph is the registered subgraph name.
	Subgraph string
	// Payload is the child's initial state.
	Payload schema.StateValue
}

// Goto routes to the named node. Goto(END) is equivalent to Terminal().
func Goto(nodeKey string) *RouteOutcome {
	if nodeKey == END {
		return Terminal()
	}
	return &RouteOutcome{kind: routeGoto, next: nodeKey}
}

// Terminal ends the current path; the run finishes once every live path has
// reached a terminal outcome.
func Terminal() *RouteOutcome {
	return &RouteOutcome{kind: routeTerminal}
}

// Dispatch invokes the named subgraphs with explicit payloads, one child run
// per invocation, merging their projected outputs back in invocation order.
// After all invocations complete, the dispatching node's router decides again
// on the merged state.
func Dispatch(invocations ...*Invocation) *RouteOutcome {
	return &RouteOutcome{kind: routeDispatch, invocations: invocations}
}

// RouterCondition decides the next step from a read-only view of the merged
// state. It must be synchronous and side-effect free.
type RouterCondition func(ctx context.Context, state schema.StateValue) (*RouteOutcome, error)

// Router is the decision point attached to a node. Goto targets are limited
// to the declared target set; dispatch targets are declared separately and
// resolved against registered subgraphs at compile time.
type Router struct {
	decide          RouterCondition
	targets         map[string]bool
	dispatchTargets map[string]bool
}

// RouterOption configures a Router.
type RouterOption func(r *Router)

// WithDispatchTargets declares the subgraph names the router may dispatch
// to. Each must be registered on the graph with AddSubgraph, checked at
// compile time.
func WithDispatchTargets(names ...string) RouterOption {
	return func(r *Router) {
		for _, name := range names {
			r.dispatchTargets[name] = true
		}
	}
}

// NewRouter creates a router from a condition and the set of node keys it
// may route to. END may be included to permit Terminal outcomes, e.g.
//
//	router := compose.NewRouter(func(ctx context.Context, state schema.StateValue) (*compose.RouteOutcome, error) {
//		if state["i"].(int) < 3 {
//			return compose.Goto("count"), nil
//		}
//		return compose.Terminal(), nil
//	}, map[string]bool{"count": true, compose.END: true})
func NewRouter(decide RouterCondition, targets map[string]bool, opts ...RouterOption) *Router {
	r := &Router{
		decide:          decide,
		targets:         gmap.Clone(targets),
		dispatchTargets: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// edgeRouter wraps static edges as a router that fans out to all edge
// targets unconditionally, so the scheduler routes every node the same way.
func edgeRouter(targets []string) *Router {
	ts := make(map[string]bool, len(targets))
	for _, t := range targets {
		ts[t] = true
	}
	return &Router{
		decide: func(ctx context.Context, state schema.StateValue) (*RouteOutcome, error) {
			if len(targets) == 1 {
				return Goto(targets[0]), nil
			}
			return gotoAll(targets), nil
		},
		targets:         ts,
		dispatchTargets: make(map[string]bool),
	}
}

// gotoAll is the internal fan-out outcome produced by multi-edge nodes.
func gotoAll(targets []string) *RouteOutcome {
	return &RouteOutcome{kind: routeGoto, fanout: targets}
}

func (r *Router) route(ctx context.Context, nodeKey string, state schema.StateValue) (*RouteOutcome, error) {
	outcome, err := r.runDecide(ctx, state)
	if err != nil {
		return nil, wrapNodeError(nodeKey, fmt.Errorf("router decision fail: %w", err))
	}
	if outcome == nil {
		return nil, wrapNodeError(nodeKey, fmt.Errorf("router returned no outcome"))
	}

	switch outcome.kind {
	case routeGoto:
		targets := outcome.gotoTargets()
		if len(targets) == 0 {
			return nil, wrapNodeError(nodeKey, fmt.Errorf("router returned an empty goto target"))
		}
		for _, next := range targets {
			if !r.targets[next] {
				return nil, wrapNodeError(nodeKey, fmt.Errorf("router returns unintended target node: %s, declared targets: %v",
					next, sortedKeys(r.targets)))
			}
		}
	case routeDispatch:
		if len(outcome.invocations) == 0 {
			return nil, wrapNodeError(nodeKey, fmt.Errorf("dispatch outcome carries no invocations"))
		}
		for _, inv := range outcome.invocations {
			if !r.dispatchTargets[inv.Subgraph] {
				return nil, wrapNodeError(nodeKey, fmt.Errorf("router dispatches to undeclared subgraph: %s, declared targets: %v",
					inv.Subgraph, sortedKeys(r.dispatchTargets)))
			}
		}
	case routeTerminal:
	}
	return outcome, nil
}

// runDecide runs the decision function under panic recovery.
func (r *Router) runDecide(ctx context.Context, state schema.StateValue) (outcome *RouteOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = safe.NewPanicErr(p, debug.Stack())
		}
	}()
	return r.decide(ctx, state)
}

func sortedKeys(set map[string]bool) []string {
	keys := gmap.Keys(set)
	sort.Strings(keys)
	return keys
}

func (o *RouteOutcome) gotoTargets() []string {
	if len(o.fanout) > 0 {
		return o.fanout
	}
	if o.next != "" {
		return []string{o.next}
	}
	return nil
}
