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

// Package tracing provides ready-made run handlers: a Collector that
// accumulates the snapshot trace of a run, and a Printer that renders each
// snapshot through a template as it happens.
package tracing

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/weavegraph/weave/callbacks"
	"github.com/weavegraph/weave/schema"
)

// Collector accumulates the snapshots of a run into a schema.Trace. It keeps
// collecting up to the failing superstep when the run aborts, and records
// the abort error. Safe for concurrent runs is not a goal: use one Collector
// per run.
type Collector struct {
	mu    sync.Mutex
	trace schema.Trace
	final schema.StateValue
	err   error
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// OnGraphStart implements callbacks.Handler.
func (c *Collector) OnGraphStart(ctx context.Context, info *callbacks.RunInfo, initial *schema.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trace.Append(initial)
}

// OnSuperstep implements callbacks.Handler.
func (c *Collector) OnSuperstep(ctx context.Context, info *callbacks.RunInfo, snapshot *schema.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trace.Append(snapshot)
}

// OnGraphEnd implements callbacks.Handler.
func (c *Collector) OnGraphEnd(ctx context.Context, info *callbacks.RunInfo, final schema.StateValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.final = final
}

// OnGraphError implements callbacks.Handler.
func (c *Collector) OnGraphError(ctx context.Context, info *callbacks.RunInfo, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Trace returns the collected trace, covering every superstep that completed
// before the run ended or aborted.
func (c *Collector) Trace() *schema.Trace {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &c.trace
}

// Final returns the terminal state, nil if the run did not complete.
func (c *Collector) Final() schema.StateValue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.final
}

// Err returns the abort error, nil if the run completed.
func (c *Collector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Printer renders each snapshot through a template and writes it to an
// io.Writer, one line per superstep. The template sees the snapshot's state
// keys plus "step_index" and "node_keys", in the chosen format type:
//
//	p := tracing.NewPrinter(os.Stdout, "step {step_index}: log={log}", schema.FString)
type Printer struct {
	w          io.Writer
	template   string
	formatType schema.FormatType
}

// NewPrinter creates a Printer writing rendered snapshots to w.
func NewPrinter(w io.Writer, template string, formatType schema.FormatType) *Printer {
	return &Printer{
		w:          w,
		template:   template,
		formatType: formatType,
	}
}

func (p *Printer) print(snapshot *schema.Snapshot) {
	rendered, err := snapshot.Format(p.template, p.formatType)
	if err != nil {
		fmt.Fprintf(p.w, "format snapshot fail: %v\n", err)
		return
	}
	fmt.Fprintln(p.w, rendered)
}

// OnGraphStart implements callbacks.Handler.
func (p *Printer) OnGraphStart(ctx context.Context, info *callbacks.RunInfo, initial *schema.Snapshot) {
	p.print(initial)
}

// OnSuperstep implements callbacks.Handler.
func (p *Printer) OnSuperstep(ctx context.Context, info *callbacks.RunInfo, snapshot *schema.Snapshot) {
	p.print(snapshot)
}

// OnGraphEnd implements callbacks.Handler.
func (p *Printer) OnGraphEnd(ctx context.Context, info *callbacks.RunInfo, final schema.StateValue) {
}

// OnGraphError implements callbacks.Handler.
func (p *Printer) OnGraphError(ctx context.Context, info *callbacks.RunInfo, err error) {
	fmt.Fprintf(p.w, "graph run aborted: %v\n", err)
}
