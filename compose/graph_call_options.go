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
	"github.com/weavegraph/weave/callbacks"
)

// GraphCompileOption configures a graph at compile time.
type GraphCompileOption func(*graphCompileOptions)

type graphCompileOptions struct {
	maxRunSteps int
}

func newGraphCompileOptions(opts ...GraphCompileOption) *graphCompileOptions {
	opt := &graphCompileOptions{}
	for _, o := range opts {
		o(opt)
	}
	return opt
}

// WithMaxRunSteps sets the default superstep budget for runs of the compiled
// graph. Without it the budget defaults to node count + 10.
func WithMaxRunSteps(maxSteps int) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.maxRunSteps = maxSteps
	}
}

// Option configures a single run of a compiled graph.
type Option func(*runOptions)

type runOptions struct {
	handlers         []callbacks.Handler
	maxRunSteps      int
	parallel         bool
	sharedStepBudget bool
}

func newRunOptions(opts ...Option) *runOptions {
	opt := &runOptions{}
	for _, o := range opts {
		o(opt)
	}
	return opt
}

// WithCallbacks attaches handlers that observe this run.
func WithCallbacks(handlers ...callbacks.Handler) Option {
	return func(o *runOptions) {
		o.handlers = append(o.handlers, handlers...)
	}
}

// WithRuntimeMaxSteps overrides the compiled superstep budget for this run.
func WithRuntimeMaxSteps(maxSteps int) Option {
	return func(o *runOptions) {
		o.maxRunSteps = maxSteps
	}
}

// WithParallel executes the nodes of a superstep concurrently. Merge order
// stays deterministic: updates apply in node registration order regardless
// of completion order.
func WithParallel() Option {
	return func(o *runOptions) {
		o.parallel = true
	}
}

// WithSharedStepBudget charges subgraph supersteps against the parent's
// budget instead of giving each child run its own.
func WithSharedStepBudget() Option {
	return func(o *runOptions) {
		o.sharedStepBudget = true
	}
}
