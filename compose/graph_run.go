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
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/weavegraph/weave/callbacks"
	"github.com/weavegraph/weave/internal/safe"
	"github.com/weavegraph/weave/internal/serialization"
	"github.com/weavegraph/weave/schema"
)

// Runnable is a compiled, immutable graph. It is safe for concurrent use;
// every Invoke or Run owns its state and trace exclusively.
type Runnable interface {
	// Invoke runs the graph to completion and returns the final state.
	Invoke(ctx context.Context, initial schema.StateValue, opts ...Option) (schema.StateValue, error)

	// Run is Invoke plus the full snapshot trace. The trace is returned even
	// when the run fails, covering every superstep that completed.
	Run(ctx context.Context, initial schema.StateValue, opts ...Option) (schema.StateValue, *schema.Trace, error)
}

// task is one unit of a superstep: a node execution, or a dispatch round
// (invs != nil) replaying the child invocations decided by the node's router.
type task struct {
	key  string
	invs []*Invocation
}

type runner struct {
	name        string
	stateSchema *schema.StateSchema
	nodes       map[string]NodeHandler
	nodeOrder   []string
	orderIndex  map[string]int
	routers     map[string]*Router
	startNodes  []string
	subgraphs   map[string]*compiledSubgraph
	maxRunSteps int
}

func (r *runner) Invoke(ctx context.Context, initial schema.StateValue, opts ...Option) (schema.StateValue, error) {
	final, _, err := r.Run(ctx, initial, opts...)
	return final, err
}

func (r *runner) Run(ctx context.Context, initial schema.StateValue, opts ...Option) (schema.StateValue, *schema.Trace, error) {
	opt := newRunOptions(opts...)
	limit := r.maxRunSteps
	if opt.maxRunSteps > 0 {
		limit = opt.maxRunSteps
	}

	info := &callbacks.RunInfo{
		RunID:     uuid.NewString(),
		GraphName: r.name,
		Depth:     0,
	}

	var stepCounter int64
	return r.run(ctx, initial, opt, info, &stepCounter, limit)
}

// run drives the superstep loop: execute every ready task, merge their
// updates in registration order, snapshot, then route each origin to build
// the next ready set. The run ends when the ready set drains. counter is
// shared with nested runs under WithSharedStepBudget and ticked atomically:
// parallel dispatch rounds run their child schedulers concurrently.
func (r *runner) run(ctx context.Context, initial schema.StateValue, opt *runOptions,
	info *callbacks.RunInfo, counter *int64, limit int) (schema.StateValue, *schema.Trace, error) {

	trace := &schema.Trace{}

	state, err := r.stateSchema.NewState(initial)
	if err != nil {
		err = newGraphRunError(err)
		r.onError(ctx, opt, info, err)
		return nil, trace, err
	}

	snap := schema.NewSnapshot(0, []string{START}, state)
	trace.Append(snap)
	for _, h := range opt.handlers {
		h.OnGraphStart(ctx, info, snap)
	}

	ready := make([]*task, 0, len(r.startNodes))
	for _, key := range r.startNodes {
		if key == END {
			continue
		}
		ready = append(ready, &task{key: key})
	}

	for len(ready) > 0 {
		if err = ctx.Err(); err != nil {
			err = newGraphRunError(err)
			r.onError(ctx, opt, info, err)
			return nil, trace, err
		}

		if atomic.AddInt64(counter, 1) > int64(limit) {
			err = &StepLimitExceededError{Limit: limit, LastSnapshot: trace.Last()}
			r.onError(ctx, opt, info, err)
			return nil, trace, err
		}

		updates, err := r.executeTasks(ctx, ready, state, opt, info, counter, limit)
		if err != nil {
			r.onError(ctx, opt, info, err)
			return nil, trace, err
		}

		state, err = applyUpdates(r.stateSchema, state, updates)
		if err != nil {
			r.onError(ctx, opt, info, err)
			return nil, trace, err
		}

		snap = schema.NewSnapshot(trace.Len(), taskKeys(ready), state)
		trace.Append(snap)
		for _, h := range opt.handlers {
			h.OnSuperstep(ctx, info, snap)
		}

		ready, err = r.routeNext(ctx, ready, state)
		if err != nil {
			r.onError(ctx, opt, info, err)
			return nil, trace, err
		}
	}

	for _, h := range opt.handlers {
		h.OnGraphEnd(ctx, info, serialization.DeepCopyMap(state))
	}
	return state, trace, nil
}

// executeTasks runs the superstep's tasks and returns their updates in task
// order, so the later merge is deterministic even under WithParallel.
func (r *runner) executeTasks(ctx context.Context, tasks []*task, state schema.StateValue,
	opt *runOptions, info *callbacks.RunInfo, counter *int64, limit int) ([]*nodeUpdate, error) {

	results := make([][]*nodeUpdate, len(tasks))
	errs := make([]error, len(tasks))

	runOne := func(i int, t *task) {
		if t.invs != nil {
			results[i], errs[i] = r.dispatch(ctx, t, opt, info, counter, limit)
			return
		}
		update, err := r.executeNode(ctx, t.key, serialization.DeepCopyMap(state))
		if err != nil {
			errs[i] = err
			return
		}
		results[i] = []*nodeUpdate{{nodeKey: t.key, update: update}}
	}

	if opt.parallel && len(tasks) > 1 {
		wg := sync.WaitGroup{}
		for i, t := range tasks {
			wg.Add(1)
			go func(i int, t *task) {
				defer wg.Done()
				runOne(i, t)
			}(i, t)
		}
		wg.Wait()
	} else {
		for i, t := range tasks {
			runOne(i, t)
		}
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	updates := make([]*nodeUpdate, 0, len(tasks))
	for _, result := range results {
		updates = append(updates, result...)
	}
	return updates, nil
}

// executeNode runs a node handler on its own deep copy of the state, under
// panic recovery.
func (r *runner) executeNode(ctx context.Context, key string, view schema.StateValue) (update schema.StateValue, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = wrapNodeError(key, safe.NewPanicErr(p, debug.Stack()))
		}
	}()

	update, err = r.nodes[key](ctx, view)
	if err != nil {
		return nil, wrapNodeError(key, err)
	}
	return update, nil
}

// routeNext asks each distinct origin's router for its outcome against the
// freshly merged state, and assembles the next ready set: goto targets
// deduplicated and ordered by node registration, dispatch rounds after them
// in origin order.
func (r *runner) routeNext(ctx context.Context, executed []*task, state schema.StateValue) ([]*task, error) {
	seenOrigin := make(map[string]bool, len(executed))
	seenNode := make(map[string]bool)
	var nextNodes []string
	var nextDispatches []*task

	for _, t := range executed {
		if seenOrigin[t.key] {
			continue
		}
		seenOrigin[t.key] = true

		outcome, err := r.routers[t.key].route(ctx, t.key, serialization.DeepCopyMap(state))
		if err != nil {
			return nil, err
		}

		switch outcome.kind {
		case routeTerminal:
		case routeGoto:
			for _, next := range outcome.gotoTargets() {
				if next == END || seenNode[next] {
					continue
				}
				seenNode[next] = true
				nextNodes = append(nextNodes, next)
			}
		case routeDispatch:
			nextDispatches = append(nextDispatches, &task{key: t.key, invs: outcome.invocations})
		}
	}

	sort.Slice(nextNodes, func(i, j int) bool {
		return r.orderIndex[nextNodes[i]] < r.orderIndex[nextNodes[j]]
	})

	ready := make([]*task, 0, len(nextNodes)+len(nextDispatches))
	for _, key := range nextNodes {
		ready = append(ready, &task{key: key})
	}
	return append(ready, nextDispatches...), nil
}

func (r *runner) onError(ctx context.Context, opt *runOptions, info *callbacks.RunInfo, err error) {
	for _, h := range opt.handlers {
		h.OnGraphError(ctx, info, err)
	}
}

func taskKeys(tasks []*task) []string {
	keys := make([]string, len(tasks))
	for i, t := range tasks {
		keys[i] = t.key
	}
	return keys
}
