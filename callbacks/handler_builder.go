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

package callbacks

import (
	"context"

	"github.com/weavegraph/weave/schema"
)

// HandlerBuilder constructs a Handler from individual callback functions.
// Unset functions are no-ops.
type HandlerBuilder struct {
	onGraphStartFn func(ctx context.Context, info *RunInfo, initial *schema.Snapshot)
	onSuperstepFn  func(ctx context.Context, info *RunInfo, snapshot *schema.Snapshot)
	onGraphEndFn   func(ctx context.Context, info *RunInfo, final schema.StateValue)
	onGraphErrorFn func(ctx context.Context, info *RunInfo, err error)
}

type handlerImpl struct {
	HandlerBuilder
}

func (hb *handlerImpl) OnGraphStart(ctx context.Context, info *RunInfo, initial *schema.Snapshot) {
	if hb.onGraphStartFn != nil {
		hb.onGraphStartFn(ctx, info, initial)
	}
}

func (hb *handlerImpl) OnSuperstep(ctx context.Context, info *RunInfo, snapshot *schema.Snapshot) {
	if hb.onSuperstepFn != nil {
		hb.onSuperstepFn(ctx, info, snapshot)
	}
}

func (hb *handlerImpl) OnGraphEnd(ctx context.Context, info *RunInfo, final schema.StateValue) {
	if hb.onGraphEndFn != nil {
		hb.onGraphEndFn(ctx, info, final)
	}
}

func (hb *handlerImpl) OnGraphError(ctx context.Context, info *RunInfo, err error) {
	if hb.onGraphErrorFn != nil {
		hb.onGraphErrorFn(ctx, info, err)
	}
}

// NewHandlerBuilder creates and returns a new HandlerBuilder instance.
func NewHandlerBuilder() *HandlerBuilder {
	return &HandlerBuilder{}
}

// OnGraphStartFn sets the handler for the run start timing.
func (hb *HandlerBuilder) OnGraphStartFn(
	fn func(ctx context.Context, info *RunInfo, initial *schema.Snapshot)) *HandlerBuilder {

	hb.onGraphStartFn = fn
	return hb
}

// OnSuperstepFn sets the handler for the per-superstep timing.
func (hb *HandlerBuilder) OnSuperstepFn(
	fn func(ctx context.Context, info *RunInfo, snapshot *schema.Snapshot)) *HandlerBuilder {

	hb.onSuperstepFn = fn
	return hb
}

// OnGraphEndFn sets the handler for the run end timing.
func (hb *HandlerBuilder) OnGraphEndFn(
	fn func(ctx context.Context, info *RunInfo, final schema.StateValue)) *HandlerBuilder {

	hb.onGraphEndFn = fn
	return hb
}

// OnGraphErrorFn sets the handler for the run error timing.
func (hb *HandlerBuilder) OnGraphErrorFn(
	fn func(ctx context.Context, info *RunInfo, err error)) *HandlerBuilder {

	hb.onGraphErrorFn = fn
	return hb
}

// Build returns a Handler with the functions set in the builder.
func (hb *HandlerBuilder) Build() Handler {
	return &handlerImpl{*hb}
}
