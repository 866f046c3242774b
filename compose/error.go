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
	"errors"
	"fmt"
	"strings"

	"github.com/weavegraph/weave/schema"
)

// ErrGraphCompiled is returned when attempting to modify a graph after it has
// been compiled.
var ErrGraphCompiled = errors.New("graph has been compiled, cannot be modified")

// ErrExceedMaxSteps indicates the run consumed its step budget without
// reaching a terminal state.
var ErrExceedMaxSteps = errors.New("exceeds max steps")

// Validation reasons, matchable with errors.Is against a compile error.
var (
	// ErrOrphanNode indicates a node unreachable from the entry.
	ErrOrphanNode = errors.New("orphan node")
	// ErrNoExit indicates a node with neither an edge nor a router.
	ErrNoExit = errors.New("node has no exit")
	// ErrDuplicateName indicates a node or subgraph name collision.
	ErrDuplicateName = errors.New("duplicate name")
	// ErrUnresolvedSubgraph indicates a dispatch target without a registered
	// subgraph and projection pair.
	ErrUnresolvedSubgraph = errors.New("unresolved subgraph")
)

// GraphValidationError reports a structural defect found at compile time.
// The compiled graph is never produced; validation errors are fatal and not
// retryable.
type GraphValidationError struct {
	// Reason is one of the validation sentinels above.
	Reason error
	// NodeKey is the offending node or subgraph name.
	NodeKey string
}

// Error implements the error interface.
func (e *GraphValidationError) Error() string {
	return fmt.Sprintf("graph validation: %s: %s", e.Reason.Error(), e.NodeKey)
}

// Unwrap returns the validation reason sentinel.
func (e *GraphValidationError) Unwrap() error {
	return e.Reason
}

func newValidationError(reason error, nodeKey string) error {
	return &GraphValidationError{Reason: reason, NodeKey: nodeKey}
}

// SchemaViolationError reports a state access outside the declared schema: a
// node emitted an undeclared key, or a dispatch payload did not conform to
// the target subgraph's schema.
type SchemaViolationError struct {
	// NodeKey is the node (or dispatch origin) that produced the violation.
	NodeKey string
	// Key is the offending state key, when a single key can be named.
	Key string

	cause error
}

// Error implements the error interface.
func (e *SchemaViolationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("schema violation at node '%s': key '%s': %s", e.NodeKey, e.Key, e.cause.Error())
	}
	return fmt.Sprintf("schema violation at node '%s': %s", e.NodeKey, e.cause.Error())
}

// Unwrap returns the underlying cause.
func (e *SchemaViolationError) Unwrap() error {
	return e.cause
}

// NodeExecutionError wraps a failure raised inside a node body, a router
// decision, or a projection. NodePath locates the failure across subgraph
// levels, outermost first.
type NodeExecutionError struct {
	// NodePath is the chain of node keys leading to the failure.
	NodePath []string

	origError error
}

// Error implements the error interface.
func (e *NodeExecutionError) Error() string {
	sb := strings.Builder{}
	sb.WriteString("node execution error: ")
	sb.WriteString(e.origError.Error())
	if len(e.NodePath) > 0 {
		sb.WriteString("\nnode path: [")
		sb.WriteString(strings.Join(e.NodePath, ", "))
		sb.WriteString("]")
	}
	return sb.String()
}

// Unwrap returns the original error raised by the node body.
func (e *NodeExecutionError) Unwrap() error {
	return e.origError
}

// wrapNodeError attributes err to nodeKey. If err is already a
// NodeExecutionError, nodeKey is prepended to its path, preserving the
// outermost-first order across subgraph boundaries.
func wrapNodeError(nodeKey string, err error) error {
	var ne *NodeExecutionError
	if errors.As(err, &ne) {
		ne.NodePath = append([]string{nodeKey}, ne.NodePath...)
		return ne
	}
	return &NodeExecutionError{
		NodePath:  []string{nodeKey},
		origError: err,
	}
}

// StepLimitExceededError reports a run halted by the step budget guard. The
// last emitted snapshot is preserved so callers can inspect how far the run
// progressed; the full trace remains available through any registered
// handler.
type StepLimitExceededError struct {
	// Limit is the configured step budget.
	Limit int
	// LastSnapshot is the snapshot of the last completed superstep.
	LastSnapshot *schema.Snapshot
}

// Error implements the error interface.
func (e *StepLimitExceededError) Error() string {
	return fmt.Sprintf("%s: limit %d", ErrExceedMaxSteps.Error(), e.Limit)
}

// Unwrap returns ErrExceedMaxSteps for errors.Is matching.
func (e *StepLimitExceededError) Unwrap() error {
	return ErrExceedMaxSteps
}

// MergeConflictError reports two nodes replacing the same Replace-policy key
// within one superstep. Silent last-write-wins on unordered parallel work is
// the nondeterminism the engine must refuse.
type MergeConflictError struct {
	// Key is the contested state key.
	Key string
	// Nodes are the conflicting writers, in merge order.
	Nodes []string
}

// Error implements the error interface.
func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict on key '%s': nodes [%s] both replace it in one superstep",
		e.Key, strings.Join(e.Nodes, ", "))
}

func newGraphRunError(err error) error {
	return fmt.Errorf("graph run: %w", err)
}
