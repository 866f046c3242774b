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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavegraph/weave/callbacks"
	"github.com/weavegraph/weave/schema"
)

func appendLog(name string) NodeHandler {
	return func(ctx context.Context, state schema.StateValue) (schema.StateValue, error) {
		return schema.StateValue{"log": name}, nil
	}
}

func TestLinearPipeline(t *testing.T) {
	ctx := context.Background()

	g := NewGraph(testSchema())
	require.NoError(t, g.AddLambdaNode("a", appendLog("A")))
	require.NoError(t, g.AddLambdaNode("b", appendLog("B")))
	require.NoError(t, g.AddLambdaNode("c", appendLog("C")))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("c", END))

	r, err := g.Compile(ctx)
	require.NoError(t, err)

	final, trace, err := r.Run(ctx, schema.StateValue{})
	require.NoError(t, err)

	assert.Equal(t, []any{"A", "B", "C"}, final["log"])
	assert.Equal(t, 4, trace.Len())
	assert.Equal(t, []string{START}, trace.Snapshots[0].NodeKeys)
	assert.Equal(t, []string{"a"}, trace.Snapshots[1].NodeKeys)
	assert.Equal(t, []string{"b"}, trace.Snapshots[2].NodeKeys)
	assert.Equal(t, []string{"c"}, trace.Snapshots[3].NodeKeys)

	// snapshots are frozen per superstep
	assert.Equal(t, []any{}, trace.Snapshots[0].State["log"])
	assert.Equal(t, []any{"A"}, trace.Snapshots[1].State["log"])
	assert.Equal(t, []any{"A", "B"}, trace.Snapshots[2].State["log"])
}

func TestRunnableIsReusable(t *testing.T) {
	ctx := context.Background()

	g := NewGraph(testSchema())
	require.NoError(t, g.AddLambdaNode("a", appendLog("A")))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge("a", END))

	r, err := g.Compile(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		final, err := r.Invoke(ctx, schema.StateValue{})
		require.NoError(t, err)
		assert.Equal(t, []any{"A"}, final["log"])
	}
}

func TestBoundedCounterLoop(t *testing.T) {
	ctx := context.Background()

	g := NewGraph(testSchema())
	require.NoError(t, g.AddLambdaNode("count", func(ctx context.Context, state schema.StateValue) (schema.StateValue, error) {
		return schema.StateValue{"i": state["i"].(int) + 1}, nil
	}))
	require.NoError(t, g.AddEdge(START, "count"))
	require.NoError(t, g.AddRouter("count", NewRouter(func(ctx context.Context, state schema.StateValue) (*RouteOutcome, error) {
		if state["i"].(int) < 3 {
			return Goto("count"), nil
		}
		return Terminal(), nil
	}, map[string]bool{"count": true, END: true})))

	r, err := g.Compile(ctx)
	require.NoError(t, err)

	final, trace, err := r.Run(ctx, schema.StateValue{})
	require.NoError(t, err)

	assert.Equal(t, 3, final["i"])
	assert.Equal(t, 4, trace.Len()) // initial + exactly 3 supersteps
}

func TestStepLimitExceeded(t *testing.T) {
	ctx := context.Background()

	newLoop := func() *Graph {
		g := NewGraph(testSchema())
		_ = g.AddLambdaNode("loop", func(ctx context.Context, state schema.StateValue) (schema.StateValue, error) {
			return schema.StateValue{"i": state["i"].(int) + 1}, nil
		})
		_ = g.AddEdge(START, "loop")
		_ = g.AddRouter("loop", NewRouter(func(ctx context.Context, state schema.StateValue) (*RouteOutcome, error) {
			return Goto("loop"), nil
		}, map[string]bool{"loop": true}))
		return g
	}

	t.Run("runtime limit", func(t *testing.T) {
		r, err := newLoop().Compile(ctx)
		require.NoError(t, err)

		_, trace, err := r.Run(ctx, schema.StateValue{}, WithRuntimeMaxSteps(5))
		assert.True(t, errors.Is(err, ErrExceedMaxSteps))

		var sle *StepLimitExceededError
		require.True(t, errors.As(err, &sle))
		assert.Equal(t, 5, sle.Limit)

		// exactly limit supersteps completed before the guard fired
		assert.Equal(t, 6, trace.Len())
		assert.Equal(t, 5, sle.LastSnapshot.StepIndex)
		assert.Equal(t, 5, sle.LastSnapshot.State["i"])
	})

	t.Run("compile-time limit", func(t *testing.T) {
		r, err := newLoop().Compile(ctx, WithMaxRunSteps(2))
		require.NoError(t, err)

		_, trace, err := r.Run(ctx, schema.StateValue{})
		assert.True(t, errors.Is(err, ErrExceedMaxSteps))
		assert.Equal(t, 3, trace.Len())
	})

	t.Run("default limit bounds a stray loop", func(t *testing.T) {
		r, err := newLoop().Compile(ctx)
		require.NoError(t, err)

		_, _, err = r.Run(ctx, schema.StateValue{})
		assert.True(t, errors.Is(err, ErrExceedMaxSteps))
	})
}

func TestNodeFailureAbortsRun(t *testing.T) {
	ctx := context.Background()
	boom := fmt.Errorf("storage unavailable")

	g := NewGraph(testSchema())
	require.NoError(t, g.AddLambdaNode("a", appendLog("A")))
	require.NoError(t, g.AddLambdaNode("b", func(ctx context.Context, state schema.StateValue) (schema.StateValue, error) {
		return nil, boom
	}))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", END))

	r, err := g.Compile(ctx)
	require.NoError(t, err)

	_, trace, err := r.Run(ctx, schema.StateValue{})
	require.Error(t, err)

	var ne *NodeExecutionError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, []string{"b"}, ne.NodePath)
	assert.True(t, errors.Is(err, boom))

	// initial snapshot plus the one superstep that completed
	assert.Equal(t, 2, trace.Len())
}

func TestNodePanicIsCaptured(t *testing.T) {
	ctx := context.Background()

	g := NewGraph(testSchema())
	require.NoError(t, g.AddLambdaNode("a", func(ctx context.Context, state schema.StateValue) (schema.StateValue, error) {
		panic("node exploded")
	}))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge("a", END))

	r, err := g.Compile(ctx)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, schema.StateValue{})
	require.Error(t, err)

	var ne *NodeExecutionError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, []string{"a"}, ne.NodePath)
	assert.Contains(t, err.Error(), "node exploded")
}

func TestRouterPanicIsCaptured(t *testing.T) {
	ctx := context.Background()

	g := NewGraph(testSchema())
	require.NoError(t, g.AddLambdaNode("a", appendLog("A")))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddRouter("a", NewRouter(func(ctx context.Context, state schema.StateValue) (*RouteOutcome, error) {
		panic("router exploded")
	}, map[string]bool{END: true})))

	r, err := g.Compile(ctx)
	require.NoError(t, err)

	_, trace, err := r.Run(ctx, schema.StateValue{})
	require.Error(t, err)

	var ne *NodeExecutionError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, []string{"a"}, ne.NodePath)
	assert.Contains(t, err.Error(), "router exploded")

	// the node's superstep completed before the routing failure
	assert.Equal(t, 2, trace.Len())
}

func TestEmptyGotoTargetIsRoutingError(t *testing.T) {
	ctx := context.Background()

	g := NewGraph(testSchema())
	require.NoError(t, g.AddLambdaNode("a", appendLog("A")))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddRouter("a", NewRouter(func(ctx context.Context, state schema.StateValue) (*RouteOutcome, error) {
		return Goto(""), nil
	}, map[string]bool{END: true})))

	r, err := g.Compile(ctx)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, schema.StateValue{})
	require.Error(t, err)

	var ne *NodeExecutionError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, []string{"a"}, ne.NodePath)
	assert.Contains(t, err.Error(), "empty goto target")
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := NewGraph(testSchema())
	require.NoError(t, g.AddLambdaNode("a", func(ctx context.Context, state schema.StateValue) (schema.StateValue, error) {
		cancel()
		return schema.StateValue{"log": "A"}, nil
	}))
	require.NoError(t, g.AddLambdaNode("b", appendLog("B")))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", END))

	r, err := g.Compile(ctx)
	require.NoError(t, err)

	_, trace, err := r.Run(ctx, schema.StateValue{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 2, trace.Len())
}

func TestFanOutMergeOrderIsRegistrationOrder(t *testing.T) {
	ctx := context.Background()

	build := func() Runnable {
		g := NewGraph(testSchema())
		require.NoError(t, g.AddLambdaNode("fork", appendLog("fork")))
		require.NoError(t, g.AddLambdaNode("slow", func(ctx context.Context, state schema.StateValue) (schema.StateValue, error) {
			time.Sleep(20 * time.Millisecond)
			return schema.StateValue{"log": "slow"}, nil
		}))
		require.NoError(t, g.AddLambdaNode("fast", appendLog("fast")))
		require.NoError(t, g.AddEdge(START, "fork"))
		require.NoError(t, g.AddEdge("fork", "slow"))
		require.NoError(t, g.AddEdge("fork", "fast"))
		require.NoError(t, g.AddEdge("slow", END))
		require.NoError(t, g.AddEdge("fast", END))

		r, err := g.Compile(ctx)
		require.NoError(t, err)
		return r
	}

	sequential, _, err := build().Run(ctx, schema.StateValue{})
	require.NoError(t, err)

	parallel, trace, err := build().Run(ctx, schema.StateValue{}, WithParallel())
	require.NoError(t, err)

	// "slow" registered before "fast", so it merges first either way
	assert.Equal(t, []any{"fork", "slow", "fast"}, sequential["log"])
	assert.Equal(t, sequential["log"], parallel["log"])
	assert.Equal(t, 3, trace.Len())
	assert.Equal(t, []string{"slow", "fast"}, trace.Snapshots[2].NodeKeys)
}

func TestReplaceConflictAbortsRun(t *testing.T) {
	ctx := context.Background()

	s := schema.NewStateSchema(
		&schema.Field{Key: "winner", Type: schema.String},
	)
	g := NewGraph(s)
	require.NoError(t, g.AddLambdaNode("fork", func(ctx context.Context, state schema.StateValue) (schema.StateValue, error) {
		return schema.StateValue{}, nil
	}))
	require.NoError(t, g.AddLambdaNode("a", func(ctx context.Context, state schema.StateValue) (schema.StateValue, error) {
		return schema.StateValue{"winner": "a"}, nil
	}))
	require.NoError(t, g.AddLambdaNode("b", func(ctx context.Context, state schema.StateValue) (schema.StateValue, error) {
		return schema.StateValue{"winner": "b"}, nil
	}))
	require.NoError(t, g.AddEdge(START, "fork"))
	require.NoError(t, g.AddEdge("fork", "a"))
	require.NoError(t, g.AddEdge("fork", "b"))
	require.NoError(t, g.AddEdge("a", END))
	require.NoError(t, g.AddEdge("b", END))

	r, err := g.Compile(ctx)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, schema.StateValue{})

	var mc *MergeConflictError
	require.True(t, errors.As(err, &mc))
	assert.Equal(t, "winner", mc.Key)
	assert.Equal(t, []string{"a", "b"}, mc.Nodes)
}

func TestNodeSeesMergedStateOfPriorSupersteps(t *testing.T) {
	ctx := context.Background()

	g := NewGraph(testSchema())
	require.NoError(t, g.AddLambdaNode("a", func(ctx context.Context, state schema.StateValue) (schema.StateValue, error) {
		return schema.StateValue{"i": 42, "log": "a"}, nil
	}))
	require.NoError(t, g.AddLambdaNode("b", func(ctx context.Context, state schema.StateValue) (schema.StateValue, error) {
		if state["i"].(int) != 42 {
			return nil, fmt.Errorf("expected merged value, got %v", state["i"])
		}
		// mutating the view must not leak into engine state
		state["i"] = -1
		return schema.StateValue{"log": "b"}, nil
	}))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", END))

	r, err := g.Compile(ctx)
	require.NoError(t, err)

	final, err := r.Invoke(ctx, schema.StateValue{})
	require.NoError(t, err)
	assert.Equal(t, 42, final["i"])
	assert.Equal(t, []any{"a", "b"}, final["log"])
}

func TestUndeclaredSeedKeyRejected(t *testing.T) {
	ctx := context.Background()

	g := NewGraph(testSchema())
	require.NoError(t, g.AddLambdaNode("a", appendLog("A")))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge("a", END))

	r, err := g.Compile(ctx)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, schema.StateValue{"ghost": 1})
	assert.Error(t, err)
}

func TestRunCallbacks(t *testing.T) {
	ctx := context.Background()

	g := NewGraph(testSchema(), WithGraphName("pipeline"))
	require.NoError(t, g.AddLambdaNode("a", appendLog("A")))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge("a", END))

	r, err := g.Compile(ctx)
	require.NoError(t, err)

	var events []string
	var gotInfo *callbacks.RunInfo
	handler := callbacks.NewHandlerBuilder().
		OnGraphStartFn(func(ctx context.Context, info *callbacks.RunInfo, initial *schema.Snapshot) {
			gotInfo = info
			events = append(events, fmt.Sprintf("start:%d", initial.StepIndex))
		}).
		OnSuperstepFn(func(ctx context.Context, info *callbacks.RunInfo, snapshot *schema.Snapshot) {
			events = append(events, fmt.Sprintf("step:%d", snapshot.StepIndex))
		}).
		OnGraphEndFn(func(ctx context.Context, info *callbacks.RunInfo, final schema.StateValue) {
			events = append(events, "end")
		}).
		Build()

	_, err = r.Invoke(ctx, schema.StateValue{}, WithCallbacks(handler))
	require.NoError(t, err)

	assert.Equal(t, []string{"start:0", "step:1", "end"}, events)
	assert.NotEmpty(t, gotInfo.RunID)
	assert.Equal(t, "pipeline", gotInfo.GraphName)
	assert.Equal(t, 0, gotInfo.Depth)
}

func TestRunErrorCallback(t *testing.T) {
	ctx := context.Background()

	g := NewGraph(testSchema())
	require.NoError(t, g.AddLambdaNode("a", func(ctx context.Context, state schema.StateValue) (schema.StateValue, error) {
		return nil, fmt.Errorf("boom")
	}))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge("a", END))

	r, err := g.Compile(ctx)
	require.NoError(t, err)

	var gotErr error
	handler := callbacks.NewHandlerBuilder().
		OnGraphErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) {
			gotErr = err
		}).
		Build()

	_, err = r.Invoke(ctx, schema.StateValue{}, WithCallbacks(handler))
	require.Error(t, err)
	assert.Equal(t, err, gotErr)
}

func TestRouterRejectsUndeclaredTarget(t *testing.T) {
	ctx := context.Background()

	g := NewGraph(testSchema())
	require.NoError(t, g.AddLambdaNode("a", appendLog("A")))
	require.NoError(t, g.AddLambdaNode("b", appendLog("B")))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge(START, "b"))
	require.NoError(t, g.AddRouter("a", NewRouter(func(ctx context.Context, state schema.StateValue) (*RouteOutcome, error) {
		return Goto("b"), nil // "b" is not in the declared target set
	}, map[string]bool{END: true})))
	require.NoError(t, g.AddEdge("b", END))

	r, err := g.Compile(ctx)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, schema.StateValue{})
	require.Error(t, err)

	var ne *NodeExecutionError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, []string{"a"}, ne.NodePath)
	assert.Contains(t, err.Error(), "declared targets: [end]")
}
