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

// Package callbacks defines the observer interface the engine notifies during
// a run. Handlers observe snapshots and outcomes; they never mutate state and
// never affect control flow. There is no process-wide handler registry:
// handlers are injected per run.
package callbacks

import (
	"context"

	"github.com/weavegraph/weave/schema"
)

// RunInfo identifies the running graph instance a callback belongs to.
type RunInfo struct {
	// RunID is unique per run entry-point invocation and shared with nested
	// subgraph runs it spawns.
	RunID string
	// GraphName is the compiled graph's name, empty if not set.
	GraphName string
	// Depth is the nesting level: 0 for the top-level graph, incremented for
	// each subgraph boundary crossed.
	Depth int
}

// Handler receives run lifecycle notifications. All snapshot arguments are
// deep copies owned by the handler.
type Handler interface {
	// OnGraphStart is invoked once per run with the initial snapshot
	// (step index 0).
	OnGraphStart(ctx context.Context, info *RunInfo, initial *schema.Snapshot)

	// OnSuperstep is invoked once per completed superstep, after the
	// superstep's updates have been merged.
	OnSuperstep(ctx context.Context, info *RunInfo, snapshot *schema.Snapshot)

	// OnGraphEnd is invoked when the run reaches its terminal state.
	OnGraphEnd(ctx context.Context, info *RunInfo, final schema.StateValue)

	// OnGraphError is invoked when the run aborts.
	OnGraphError(ctx context.Context, info *RunInfo, err error)
}
