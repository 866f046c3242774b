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

package serialization

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeepCopyMap(t *testing.T) {
	src := map[string]any{
		"count": 3,
		"log":   []any{"a", "b"},
		"names": []string{"x", "y"},
		"nested": map[string]any{
			"inner": []any{1, 2},
		},
	}

	dst := DeepCopyMap(src)
	assert.Equal(t, src, dst)

	// mutations of the copy must not alias the original
	dst["count"] = 4
	dst["log"].([]any)[0] = "changed"
	dst["names"].([]string)[0] = "changed"
	dst["nested"].(map[string]any)["inner"].([]any)[0] = 99

	assert.Equal(t, 3, src["count"])
	assert.Equal(t, "a", src["log"].([]any)[0])
	assert.Equal(t, "x", src["names"].([]string)[0])
	assert.Equal(t, 1, src["nested"].(map[string]any)["inner"].([]any)[0])
}

func TestDeepCopyValuePreservesTypes(t *testing.T) {
	v := DeepCopyValue([]string{"a"})
	_, ok := v.([]string)
	assert.True(t, ok)

	assert.Equal(t, 7, DeepCopyValue(7))
	assert.Nil(t, DeepCopyValue(nil))
}

func TestMarshalRoundTrip(t *testing.T) {
	in := map[string]any{"k": "v"}
	data, err := Marshal(in)
	assert.NoError(t, err)

	var out map[string]any
	assert.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, "v", out["k"])
}
