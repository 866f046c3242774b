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
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStateSchema(t *testing.T) {
	Convey("state schema", t, func() {
		Convey("fields keep registration order", func() {
			s := NewStateSchema(
				&Field{Key: "b", Type: String},
				&Field{Key: "a", Type: Integer},
				&Field{Key: "c", Type: Array, Policy: Append},
			)
			So(s.Err(), ShouldBeNil)
			So(s.Len(), ShouldEqual, 3)

			fields := s.Fields()
			So(fields[0].Key, ShouldEqual, "b")
			So(fields[1].Key, ShouldEqual, "a")
			So(fields[2].Key, ShouldEqual, "c")
		})

		Convey("duplicate key latches a build error", func() {
			s := NewStateSchema(
				&Field{Key: "a", Type: String},
				&Field{Key: "a", Type: String},
			)
			So(s.Err(), ShouldNotBeNil)
		})

		Convey("custom policy requires a reducer", func() {
			s := NewStateSchema(&Field{Key: "a", Type: Integer, Policy: Custom})
			So(s.Err(), ShouldNotBeNil)

			s = NewStateSchema(&Field{Key: "a", Type: Integer, Policy: Custom,
				Reduce: func(old, new any) (any, error) { return new, nil }})
			So(s.Err(), ShouldBeNil)
		})

		Convey("empty key latches a build error", func() {
			s := NewStateSchema(&Field{Type: String})
			So(s.Err(), ShouldNotBeNil)
		})
	})
}

func TestNewState(t *testing.T) {
	Convey("new state", t, func() {
		s := NewStateSchema(
			&Field{Key: "log", Type: Array, Policy: Append},
			&Field{Key: "i", Type: Integer, Default: 7},
			&Field{Key: "name", Type: String},
			&Field{Key: "done", Type: Boolean},
			&Field{Key: "meta", Type: Object},
		)
		So(s.Err(), ShouldBeNil)

		Convey("seed values win, the rest fills from defaults and zero values", func() {
			state, err := s.NewState(StateValue{"name": "run-1"})
			So(err, ShouldBeNil)
			So(state["log"], ShouldResemble, []any{})
			So(state["i"], ShouldEqual, 7)
			So(state["name"], ShouldEqual, "run-1")
			So(state["done"], ShouldBeFalse)
			So(state["meta"], ShouldResemble, map[string]any{})
		})

		Convey("undeclared seed key is rejected", func() {
			_, err := s.NewState(StateValue{"nope": 1})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestValidateStrict(t *testing.T) {
	Convey("strict validation requires exactly the declared keys", t, func() {
		s := NewStateSchema(
			&Field{Key: "a", Type: String},
			&Field{Key: "b", Type: Integer},
		)

		So(s.ValidateStrict(StateValue{"a": "x", "b": 1}), ShouldBeNil)
		So(s.ValidateStrict(StateValue{"a": "x"}), ShouldNotBeNil)
		So(s.ValidateStrict(StateValue{"a": "x", "b": 1, "c": true}), ShouldNotBeNil)
	})
}

func TestToJSONSchema(t *testing.T) {
	Convey("json schema export keeps field order", t, func() {
		s := NewStateSchema(
			&Field{Key: "b", Type: String},
			&Field{Key: "a", Type: Integer},
		)

		js := s.ToJSONSchema()
		So(js.Type, ShouldEqual, "object")
		So(js.Required, ShouldResemble, []string{"b", "a"})

		pair := js.Properties.Oldest()
		So(pair.Key, ShouldEqual, "b")
		So(pair.Value.Type, ShouldEqual, "string")
		So(pair.Next().Key, ShouldEqual, "a")
		So(pair.Next().Value.Type, ShouldEqual, "integer")
	})
}
