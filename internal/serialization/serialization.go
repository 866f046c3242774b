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

// Package serialization provides JSON encoding and state copying for the
// engine. Encoding is backed by sonic.
package serialization

import (
	"reflect"

	"github.com/bytedance/sonic"
)

// Marshal encodes v as JSON.
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// MarshalIndent encodes v as indented JSON, for human-readable trace dumps.
func MarshalIndent(v any) ([]byte, error) {
	return sonic.MarshalIndent(v, "", "  ")
}

// Unmarshal decodes JSON data into v.
func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// DeepCopyMap returns a deep copy of m. Nested map[string]any values, []any
// values and typed slices are copied structurally, so the copy preserves the
// dynamic types of the original instead of flattening them through a JSON
// round trip. Scalar values and values of other kinds are copied as-is;
// callers must treat those as immutable.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	ret := make(map[string]any, len(m))
	for k, v := range m {
		ret[k] = DeepCopyValue(v)
	}
	return ret
}

// DeepCopyValue deep-copies maps and slices, returning other values unchanged.
func DeepCopyValue(v any) any {
	switch tv := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return DeepCopyMap(tv)
	case []any:
		ret := make([]any, len(tv))
		for i := range tv {
			ret[i] = DeepCopyValue(tv[i])
		}
		return ret
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		ret := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(ret, rv)
		return ret.Interface()
	}

	return v
}
