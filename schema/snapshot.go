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

package schema

import (
	"github.com/weavegraph/weave/internal/serialization"
)

// Snapshot is an immutable deep copy of the full state after one superstep.
// StepIndex 0 is the initial state before any node has run.
type Snapshot struct {
	// StepIndex is the superstep this snapshot was taken after.
	StepIndex int `json:"step_index"`
	// NodeKeys are the nodes that executed in this superstep, in merge order.
	// Empty for the initial snapshot.
	NodeKeys []string `json:"node_keys,omitempty"`
	// State is a deep copy of the full state.
	State StateValue `json:"state"`
}

// NewSnapshot deep-copies state into a snapshot for the given superstep.
func NewSnapshot(stepIndex int, nodeKeys []string, state StateValue) *Snapshot {
	keys := make([]string, len(nodeKeys))
	copy(keys, nodeKeys)
	return &Snapshot{
		StepIndex: stepIndex,
		NodeKeys:  keys,
		State:     serialization.DeepCopyMap(state),
	}
}

// Trace is the ordered snapshot sequence of one run.
type Trace struct {
	Snapshots []*Snapshot `json:"snapshots"`
}

// Append adds a snapshot to the trace.
func (t *Trace) Append(s *Snapshot) {
	t.Snapshots = append(t.Snapshots, s)
}

// Len returns the number of snapshots recorded so far.
func (t *Trace) Len() int {
	return len(t.Snapshots)
}

// Last returns the most recent snapshot, or nil for an empty trace.
func (t *Trace) Last() *Snapshot {
	if len(t.Snapshots) == 0 {
		return nil
	}
	return t.Snapshots[len(t.Snapshots)-1]
}

// MarshalJSON encodes the trace as JSON.
func (t *Trace) MarshalJSON() ([]byte, error) {
	return serialization.Marshal(struct {
		Snapshots []*Snapshot `json:"snapshots"`
	}{Snapshots: t.Snapshots})
}

// Dump renders the trace as indented JSON for inspection.
func (t *Trace) Dump() (string, error) {
	data, err := serialization.MarshalIndent(struct {
		Snapshots []*Snapshot `json:"snapshots"`
	}{Snapshots: t.Snapshots})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
