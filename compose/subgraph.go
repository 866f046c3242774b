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

	"github.com/weavegraph/weave/callbacks"
	"github.com/weavegraph/weave/internal/safe"
	"github.com/weavegraph/weave/internal/serialization"
	"github.com/weavegraph/weave/schema"
)

// compiledSubgraph is a dispatch target bound to its compiled child runner.
// The child keeps its own state schema; the projection pair is the only
// channel between the two state spaces.
type compiledSubgraph struct {
	spec   *subgraphSpec
	runner *runner
}

// dispatch runs the invocations of a dispatch round sequentially, in the
// order the router returned them. Each child's projected output becomes one
// update; the round merges them like any other superstep. A child failure
// aborts the round with the origin node prepended to the error's node path.
func (r *runner) dispatch(ctx context.Context, t *task, opt *runOptions,
	info *callbacks.RunInfo, counter *int64, limit int) ([]*nodeUpdate, error) {

	updates := make([]*nodeUpdate, 0, len(t.invs))
	for _, inv := range t.invs {
		sg := r.subgraphs[inv.Subgraph]
		update, err := sg.invoke(ctx, inv.Payload, opt, info, counter, limit)
		if err != nil {
			return nil, wrapNodeError(t.key, err)
		}
		updates = append(updates, &nodeUpdate{nodeKey: inv.Subgraph, update: update})
	}
	return updates, nil
}

// invoke runs one child invocation: project the payload in, check it
// strictly against the child's schema before the child executes a single
// node, run the child, project the terminal state out. State is deep copied
// at both boundaries so neither side can alias the other's maps.
func (sg *compiledSubgraph) invoke(ctx context.Context, payload schema.StateValue, opt *runOptions,
	info *callbacks.RunInfo, counter *int64, limit int) (schema.StateValue, error) {

	childInitial := serialization.DeepCopyMap(payload)
	if sg.spec.projectIn != nil {
		projected, err := sg.projectInput(ctx, childInitial)
		if err != nil {
			return nil, fmt.Errorf("input projection of subgraph '%s' fail: %w", sg.spec.name, err)
		}
		childInitial = projected
	}

	if err := sg.runner.stateSchema.ValidateStrict(childInitial); err != nil {
		return nil, &SchemaViolationError{NodeKey: sg.spec.name, cause: err}
	}

	childInfo := &callbacks.RunInfo{
		RunID:     info.RunID,
		GraphName: sg.runner.name,
		Depth:     info.Depth + 1,
	}

	childCounter, childLimit := counter, limit
	if !opt.sharedStepBudget {
		var ownCounter int64
		childCounter, childLimit = &ownCounter, sg.runner.maxRunSteps
	}

	final, _, err := sg.runner.run(ctx, childInitial, opt, childInfo, childCounter, childLimit)
	if err != nil {
		return nil, fmt.Errorf("subgraph '%s' run fail: %w", sg.spec.name, err)
	}

	out, err := sg.projectOutput(ctx, final)
	if err != nil {
		return nil, fmt.Errorf("output projection of subgraph '%s' fail: %w", sg.spec.name, err)
	}
	return serialization.DeepCopyMap(out), nil
}

// projectInput runs the input projection under panic recovery.
func (sg *compiledSubgraph) projectInput(ctx context.Context, payload schema.StateValue) (out schema.StateValue, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = safe.NewPanicErr(p, debug.Stack())
		}
	}()
	return sg.spec.projectIn(ctx, payload)
}

// projectOutput runs the output projection under panic recovery.
func (sg *compiledSubgraph) projectOutput(ctx context.Context, final schema.StateValue) (out schema.StateValue, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = safe.NewPanicErr(p, debug.Stack())
		}
	}()
	return sg.spec.projectOut(ctx, final)
}
