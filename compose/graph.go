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

// Package compose implements the workflow graph engine: graph building and
// validation, superstep scheduling over a shared typed state, routers,
// subgraph dispatch, and step budgets.
package compose

import (
	"context"
	"errors"
	"fmt"

	"github.com/weavegraph/weave/schema"
)

// START is the virtual entry of the graph. Add your first edge with START.
const START = "start"

// END is the virtual terminal of the graph. An edge to END, or a Terminal
// route outcome, ends a path.
const END = "end"

// NodeHandler is a node body: it receives a read-only view of the merged
// state and returns a partial update. The handler must be synchronous; any
// external I/O it performs is its own concern, including timeouts. Errors
// and panics abort the current run wrapped as NodeExecutionError.
type NodeHandler func(ctx context.Context, state schema.StateValue) (schema.StateValue, error)

// InputProjection translates a dispatch payload into the child graph's
// initial state. A nil projection passes the payload through unchanged. The
// result must conform strictly to the child's state schema.
type InputProjection func(ctx context.Context, payload schema.StateValue) (schema.StateValue, error)

// OutputProjection translates the child graph's terminal state into a
// partial update on the parent's schema. Keys the projection does not name
// never reach the parent.
type OutputProjection func(ctx context.Context, childFinal schema.StateValue) (schema.StateValue, error)

type subgraphSpec struct {
	name       string
	child      *Graph
	projectIn  InputProjection
	projectOut OutputProjection
}

// Graph collects nodes, edges, routers and subgraphs, then compiles them
// into an immutable Runnable. Build errors latch: the first one is returned
// by every subsequent call and by Compile.
type Graph struct {
	stateSchema *schema.StateSchema

	nodes     map[string]NodeHandler
	nodeOrder []string
	edges     map[string][]string
	routers   map[string]*Router
	subgraphs map[string]*subgraphSpec

	name string

	buildError error
	compiled   bool
}

// NewGraphOption configures a new graph.
type NewGraphOption func(g *Graph)

// WithGraphName names the graph; the name appears in RunInfo and errors.
func WithGraphName(name string) NewGraphOption {
	return func(g *Graph) {
		g.name = name
	}
}

// NewGraph creates a graph whose state conforms to s.
func NewGraph(s *schema.StateSchema, opts ...NewGraphOption) *Graph {
	g := &Graph{
		stateSchema: s,
		nodes:       make(map[string]NodeHandler),
		edges:       make(map[string][]string),
		routers:     make(map[string]*Router),
		subgraphs:   make(map[string]*subgraphSpec),
	}
	for _, opt := range opts {
		opt(g)
	}
	if s == nil {
		g.buildError = errors.New("graph requires a state schema")
	} else if s.Err() != nil {
		g.buildError = s.Err()
	}
	return g
}

func (g *Graph) latch(err error) error {
	if err != nil && g.buildError == nil {
		g.buildError = err
	}
	return err
}

// AddLambdaNode adds a node backed by the given handler, e.g.
//
//	g.AddLambdaNode("plan", func(ctx context.Context, state schema.StateValue) (schema.StateValue, error) {
//		return schema.StateValue{"log": "planned"}, nil
//	})
func (g *Graph) AddLambdaNode(key string, handler NodeHandler) error {
	if g.buildError != nil {
		return g.buildError
	}
	if g.compiled {
		return ErrGraphCompiled
	}
	if key == START || key == END {
		return g.latch(fmt.Errorf("node '%s' is reserved, cannot add manually", key))
	}
	if handler == nil {
		return g.latch(fmt.Errorf("node '%s' requires a handler", key))
	}
	if _, ok := g.nodes[key]; ok {
		return g.latch(newValidationError(ErrDuplicateName, key))
	}
	if _, ok := g.subgraphs[key]; ok {
		return g.latch(newValidationError(ErrDuplicateName, key))
	}

	g.nodes[key] = handler
	g.nodeOrder = append(g.nodeOrder, key)
	return nil
}

// AddPassthroughNode adds a node that emits no update. Useful as a fan-in
// join point ahead of a router.
func (g *Graph) AddPassthroughNode(key string) error {
	return g.AddLambdaNode(key, func(ctx context.Context, state schema.StateValue) (schema.StateValue, error) {
		return schema.StateValue{}, nil
	})
}

// AddEdge adds a static, unconditional edge. Several edges from one node fan
// out into parallel ready nodes. A node routed by a Router cannot also carry
// static edges.
func (g *Graph) AddEdge(from, to string) error {
	if g.buildError != nil {
		return g.buildError
	}
	if g.compiled {
		return ErrGraphCompiled
	}
	if from == END {
		return g.latch(errors.New("END cannot be a start node of an edge"))
	}
	if to == START {
		return g.latch(errors.New("START cannot be an end node of an edge"))
	}
	if _, ok := g.nodes[from]; !ok && from != START {
		return g.latch(fmt.Errorf("edge start node '%s' needs to be added to graph first", from))
	}
	if _, ok := g.nodes[to]; !ok && to != END {
		return g.latch(fmt.Errorf("edge end node '%s' needs to be added to graph first", to))
	}
	if _, ok := g.routers[from]; ok {
		return g.latch(fmt.Errorf("node '%s' already has a router, cannot add static edge", from))
	}
	for _, t := range g.edges[from] {
		if t == to {
			return g.latch(fmt.Errorf("edge [%s]-[%s] already added", from, to))
		}
	}

	g.edges[from] = append(g.edges[from], to)
	return nil
}

// AddRouter attaches a router to a node. At most one router per node.
func (g *Graph) AddRouter(from string, r *Router) error {
	if g.buildError != nil {
		return g.buildError
	}
	if g.compiled {
		return ErrGraphCompiled
	}
	if r == nil || r.decide == nil {
		return g.latch(fmt.Errorf("router for node '%s' requires a condition", from))
	}
	if _, ok := g.nodes[from]; !ok {
		return g.latch(fmt.Errorf("router start node '%s' needs to be added to graph first", from))
	}
	if _, ok := g.routers[from]; ok {
		return g.latch(fmt.Errorf("node '%s' already has a router", from))
	}
	if len(g.edges[from]) > 0 {
		return g.latch(fmt.Errorf("node '%s' already has static edges, cannot add router", from))
	}

	g.routers[from] = r
	return nil
}

// AddSubgraph registers child as a dispatch target under name, together with
// its projection pair. The output projection is mandatory: it is the only
// way child state reaches the parent. A nil input projection passes dispatch
// payloads through unchanged.
func (g *Graph) AddSubgraph(name string, child *Graph, in InputProjection, out OutputProjection) error {
	if g.buildError != nil {
		return g.buildError
	}
	if g.compiled {
		return ErrGraphCompiled
	}
	if name == START || name == END {
		return g.latch(fmt.Errorf("subgraph '%s' is reserved, cannot add manually", name))
	}
	if child == nil {
		return g.latch(fmt.Errorf("subgraph '%s' requires a child graph", name))
	}
	if child == g {
		return g.latch(fmt.Errorf("subgraph '%s' cannot be the graph itself", name))
	}
	if out == nil {
		return g.latch(fmt.Errorf("subgraph '%s' requires an output projection", name))
	}
	if _, ok := g.subgraphs[name]; ok {
		return g.latch(newValidationError(ErrDuplicateName, name))
	}
	if _, ok := g.nodes[name]; ok {
		return g.latch(newValidationError(ErrDuplicateName, name))
	}

	g.subgraphs[name] = &subgraphSpec{
		name:       name,
		child:      child,
		projectIn:  in,
		projectOut: out,
	}
	return nil
}

// Compile validates the graph and produces an immutable, reusable Runnable.
// Compilation is pure: node bodies are never executed. After a successful
// compile the graph rejects further modification.
func (g *Graph) Compile(ctx context.Context, opts ...GraphCompileOption) (Runnable, error) {
	return g.compile(ctx, newGraphCompileOptions(opts...))
}

func (g *Graph) compile(ctx context.Context, opt *graphCompileOptions) (*runner, error) {
	if g.buildError != nil {
		return nil, g.buildError
	}

	startTargets := g.edges[START]
	if len(startTargets) == 0 {
		return nil, errors.New("start node not set")
	}

	// every node needs an exit: an edge, or a router
	for _, key := range g.nodeOrder {
		if len(g.edges[key]) == 0 && g.routers[key] == nil {
			return nil, newValidationError(ErrNoExit, key)
		}
	}

	// router goto targets must exist; dispatch targets must be registered
	// subgraphs with their projection pair
	for _, key := range g.nodeOrder {
		r := g.routers[key]
		if r == nil {
			continue
		}
		for target := range r.targets {
			if _, ok := g.nodes[target]; !ok && target != END {
				return nil, fmt.Errorf("router of node '%s': target node '%s' needs to be added to graph first", key, target)
			}
		}
		for target := range r.dispatchTargets {
			if _, ok := g.subgraphs[target]; !ok {
				return nil, newValidationError(ErrUnresolvedSubgraph, target)
			}
		}
	}

	// reachability from START over edges and router targets
	reachable := make(map[string]bool)
	queue := append([]string{}, startTargets...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == END || reachable[cur] {
			continue
		}
		reachable[cur] = true
		queue = append(queue, g.edges[cur]...)
		if r := g.routers[cur]; r != nil {
			for target := range r.targets {
				queue = append(queue, target)
			}
		}
	}
	for _, key := range g.nodeOrder {
		if !reachable[key] {
			return nil, newValidationError(ErrOrphanNode, key)
		}
	}

	// compile dispatch targets recursively; children get their own budgets
	compiledSubgraphs := make(map[string]*compiledSubgraph, len(g.subgraphs))
	for name, spec := range g.subgraphs {
		childRunner, err := spec.child.compile(ctx, newGraphCompileOptions())
		if err != nil {
			return nil, fmt.Errorf("compile subgraph '%s' fail: %w", name, err)
		}
		compiledSubgraphs[name] = &compiledSubgraph{
			spec:   spec,
			runner: childRunner,
		}
	}

	maxSteps := opt.maxRunSteps
	if maxSteps == 0 {
		maxSteps = len(g.nodes) + 10
	}
	if maxSteps < 1 {
		return nil, errors.New("max run steps limit must be at least 1")
	}

	routers := make(map[string]*Router, len(g.nodeOrder))
	for _, key := range g.nodeOrder {
		if r := g.routers[key]; r != nil {
			routers[key] = r
			continue
		}
		routers[key] = edgeRouter(g.edges[key])
	}

	orderIndex := make(map[string]int, len(g.nodeOrder))
	for i, key := range g.nodeOrder {
		orderIndex[key] = i
	}

	g.compiled = true

	return &runner{
		name:        g.name,
		stateSchema: g.stateSchema,
		nodes:       g.nodes,
		nodeOrder:   g.nodeOrder,
		orderIndex:  orderIndex,
		routers:     routers,
		startNodes:  startTargets,
		subgraphs:   compiledSubgraphs,
		maxRunSteps: maxSteps,
	}, nil
}
