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

// Package schema defines the state model shared by all graph levels: typed
// state schemas with per-key merge policies, state values, and execution
// snapshots.
package schema

import (
	"fmt"

	"github.com/eino-contrib/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DataType is the declared type of a state key.
// It must be one of the following values: "object", "number", "integer", "string",
// "array", "null", "boolean", which is the same as the type vocabulary of JSONSchema.
type DataType string

// Supported state key data types.
const (
	Object  DataType = "object"
	Number  DataType = "number"
	Integer DataType = "integer"
	String  DataType = "string"
	Array   DataType = "array"
	Null    DataType = "null"
	Boolean DataType = "boolean"
)

// MergePolicy determines how an update to a state key is merged into the
// value already stored under that key.
type MergePolicy int

const (
	// Replace overwrites the stored value with the new one. Two different
	// nodes replacing the same key within one superstep is a merge conflict.
	Replace MergePolicy = iota
	// Append concatenates the new value(s) onto the stored sequence, in the
	// order the contributing updates were merged.
	Append
	// Custom delegates the merge to the field's Reducer.
	Custom
)

// String returns the string representation of the merge policy.
func (p MergePolicy) String() string {
	switch p {
	case Replace:
		return "Replace"
	case Append:
		return "Append"
	case Custom:
		return "Custom"
	default:
		return fmt.Sprintf("MergePolicy(%d)", int(p))
	}
}

// Reducer merges the stored value and a new value into the value to store.
// Reducers must be pure: no side effects, deterministic for fixed inputs.
type Reducer func(old, new any) (any, error)

// StateValue is a concrete state mapping from key to value, conforming to a
// StateSchema. A StateValue is owned by exactly one scheduler instance and is
// never shared by reference across graph levels.
type StateValue = map[string]any

// Field declares one state key: its type, merge policy, and for Custom
// policy the reducer to apply.
type Field struct {
	// Key is the state key, unique within a schema.
	Key string
	// Type is the declared data type of values under Key.
	Type DataType
	// Policy is the merge policy for updates to Key.
	Policy MergePolicy
	// Reduce is required when Policy is Custom, ignored otherwise.
	Reduce Reducer
	// Default seeds the key when the caller's initial state omits it.
	// When nil, the zero value of Type is used.
	Default any
}

// StateSchema is an ordered set of field declarations. Field order is
// registration order, which the engine also uses as its merge order.
//
// A StateSchema is built once, attached to a graph, and must not be mutated
// after the graph compiles.
type StateSchema struct {
	fields *orderedmap.OrderedMap[string, *Field]

	buildError error
}

// NewStateSchema creates a schema from the given fields, preserving order.
func NewStateSchema(fields ...*Field) *StateSchema {
	s := &StateSchema{
		fields: orderedmap.New[string, *Field](),
	}
	for _, f := range fields {
		s.AddField(f)
	}
	return s
}

// AddField appends a field declaration. Re-declaring a key or declaring a
// Custom field without a reducer records a build error, surfaced when the
// owning graph compiles. Returns the schema for chaining.
func (s *StateSchema) AddField(f *Field) *StateSchema {
	if s.buildError != nil {
		return s
	}
	if f == nil || f.Key == "" {
		s.buildError = fmt.Errorf("state field requires a non-empty key")
		return s
	}
	if _, ok := s.fields.Get(f.Key); ok {
		s.buildError = fmt.Errorf("state key '%s' already declared", f.Key)
		return s
	}
	if f.Policy == Custom && f.Reduce == nil {
		s.buildError = fmt.Errorf("state key '%s' declares Custom policy without a reducer", f.Key)
		return s
	}
	s.fields.Set(f.Key, f)
	return s
}

// Err returns the accumulated build error, if any.
func (s *StateSchema) Err() error {
	return s.buildError
}

// Field returns the declaration for key.
func (s *StateSchema) Field(key string) (*Field, bool) {
	return s.fields.Get(key)
}

// Fields returns all field declarations in registration order.
func (s *StateSchema) Fields() []*Field {
	ret := make([]*Field, 0, s.fields.Len())
	for pair := s.fields.Oldest(); pair != nil; pair = pair.Next() {
		ret = append(ret, pair.Value)
	}
	return ret
}

// Len returns the number of declared fields.
func (s *StateSchema) Len() int {
	return s.fields.Len()
}

// NewState builds a fresh StateValue seeded from the given initial values.
// Keys absent from seed are filled from the field's Default, or the zero
// value of its type. A seed key not declared in the schema is an error; the
// caller (typically a node or the run entry point) is reported as origin.
func (s *StateSchema) NewState(seed StateValue) (StateValue, error) {
	for key := range seed {
		if _, ok := s.fields.Get(key); !ok {
			return nil, fmt.Errorf("state key '%s' is not declared in the schema", key)
		}
	}

	state := make(StateValue, s.fields.Len())
	for pair := s.fields.Oldest(); pair != nil; pair = pair.Next() {
		f := pair.Value
		if v, ok := seed[f.Key]; ok {
			state[f.Key] = v
			continue
		}
		state[f.Key] = f.zeroValue()
	}
	return state, nil
}

// ValidateStrict checks that v carries exactly the declared keys: every
// declared key present, no undeclared key. Used for dispatch payloads, where
// absent fields must fail at the call site rather than inside the child run.
func (s *StateSchema) ValidateStrict(v StateValue) error {
	for pair := s.fields.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := v[pair.Key]; !ok {
			return fmt.Errorf("state key '%s' is required but absent", pair.Key)
		}
	}
	for key := range v {
		if _, ok := s.fields.Get(key); !ok {
			return fmt.Errorf("state key '%s' is not declared in the schema", key)
		}
	}
	return nil
}

func (f *Field) zeroValue() any {
	if f.Default != nil {
		return f.Default
	}
	switch f.Type {
	case String:
		return ""
	case Integer:
		return 0
	case Number:
		return float64(0)
	case Boolean:
		return false
	case Array:
		return []any{}
	case Object:
		return map[string]any{}
	default:
		return nil
	}
}

// ToJSONSchema exports the state schema as a JSON Schema object with ordered
// properties, e.g. to document the payload contract of a dispatch target.
func (s *StateSchema) ToJSONSchema() *jsonschema.Schema {
	js := &jsonschema.Schema{
		Type:       string(Object),
		Properties: orderedmap.New[string, *jsonschema.Schema](),
	}
	for pair := s.fields.Oldest(); pair != nil; pair = pair.Next() {
		f := pair.Value
		js.Properties.Set(f.Key, &jsonschema.Schema{Type: string(f.Type)})
		js.Required = append(js.Required, f.Key)
	}
	return js
}
