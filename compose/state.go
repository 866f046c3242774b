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
	"fmt"
	"reflect"
	"runtime/debug"

	"github.com/weavegraph/weave/internal/safe"
	"github.com/weavegraph/weave/schema"
)

// nodeUpdate is one node's partial update, tagged with its origin for merge
// ordering and error attribution.
type nodeUpdate struct {
	nodeKey string
	update  schema.StateValue
}

// applyUpdates merges the supersteps's updates into state, in the order
// given (node registration order). All updates are validated against the
// schema before any merge happens, so a violation leaves the state of this
// superstep untouched. state is mutated and returned.
//
// Merge rules per key policy:
//   - Replace: the new value overwrites; two distinct nodes replacing the
//     same key in one superstep is a MergeConflictError.
//   - Append: the new value(s) are concatenated onto the stored sequence.
//   - Custom: the field's reducer merges old and new.
func applyUpdates(s *schema.StateSchema, state schema.StateValue, updates []*nodeUpdate) (schema.StateValue, error) {
	replaceWriters := make(map[string][]string)
	for _, u := range updates {
		for key := range u.update {
			f, ok := s.Field(key)
			if !ok {
				return nil, &SchemaViolationError{
					NodeKey: u.nodeKey,
					Key:     key,
					cause:   fmt.Errorf("key is not declared in the state schema"),
				}
			}
			if f.Policy == schema.Replace {
				writers := replaceWriters[key]
				if len(writers) == 0 || writers[len(writers)-1] != u.nodeKey {
					replaceWriters[key] = append(writers, u.nodeKey)
				}
			}
		}
	}
	for key, writers := range replaceWriters {
		if len(writers) > 1 {
			return nil, &MergeConflictError{Key: key, Nodes: writers}
		}
	}

	for _, u := range updates {
		for _, f := range s.Fields() {
			newValue, ok := u.update[f.Key]
			if !ok {
				continue
			}

			switch f.Policy {
			case schema.Replace:
				state[f.Key] = newValue
			case schema.Append:
				state[f.Key] = appendValues(state[f.Key], newValue)
			case schema.Custom:
				merged, err := reduce(f, state[f.Key], newValue)
				if err != nil {
					return nil, wrapNodeError(u.nodeKey, fmt.Errorf("reduce key '%s' fail: %w", f.Key, err))
				}
				state[f.Key] = merged
			}
		}
	}

	return state, nil
}

// reduce runs a custom reducer under panic recovery.
func reduce(f *schema.Field, old, new any) (merged any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = safe.NewPanicErr(p, debug.Stack())
		}
	}()
	return f.Reduce(old, new)
}

// appendValues concatenates newValue onto the sequence stored under an
// Append key. A slice contributes its elements in order, any other value
// contributes itself. The stored sequence is normalized to []any.
func appendValues(old, newValue any) []any {
	seq := toAnySlice(old)
	switch nv := newValue.(type) {
	case nil:
		return seq
	case []any:
		return append(seq, nv...)
	}

	rv := reflect.ValueOf(newValue)
	if rv.Kind() == reflect.Slice {
		for i := 0; i < rv.Len(); i++ {
			seq = append(seq, rv.Index(i).Interface())
		}
		return seq
	}

	return append(seq, newValue)
}

func toAnySlice(v any) []any {
	switch tv := v.(type) {
	case nil:
		return []any{}
	case []any:
		return tv
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		ret := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ret = append(ret, rv.Index(i).Interface())
		}
		return ret
	}

	return []any{v}
}
