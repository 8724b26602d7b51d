// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package remote

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestOrdered_PreservesKeyOrder(t *testing.T) {
	// Deliberately not alphabetical.
	data := `{"zebra": 1, "apple": 2, "mango": {"c": 1, "a": 2}, "banana": [1, "two"]}`

	o := &Ordered{}
	if err := json.Unmarshal([]byte(data), o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"zebra", "apple", "mango", "banana"}
	if !reflect.DeepEqual(o.Keys(), want) {
		t.Errorf("keys = %v, want %v", o.Keys(), want)
	}

	nested, ok := o.Get("mango")
	if !ok {
		t.Fatal("expected mango key")
	}
	inner, ok := nested.(*Ordered)
	if !ok {
		t.Fatalf("expected nested *Ordered, got %T", nested)
	}
	if !reflect.DeepEqual(inner.Keys(), []string{"c", "a"}) {
		t.Errorf("nested keys = %v", inner.Keys())
	}
}

func TestOrdered_DuplicateKeysKeepFirstPosition(t *testing.T) {
	o := &Ordered{}
	if err := json.Unmarshal([]byte(`{"a": 1, "b": 2, "a": 3}`), o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(o.Keys(), []string{"a", "b"}) {
		t.Errorf("keys = %v, want [a b]", o.Keys())
	}
	v, _ := o.Get("a")
	if v != json.Number("3") {
		t.Errorf("expected last value to win, got %v", v)
	}
}

func TestOrdered_RejectsNonObject(t *testing.T) {
	o := &Ordered{}
	if err := json.Unmarshal([]byte(`[1, 2]`), o); err == nil {
		t.Fatal("expected error for non-object")
	}
}

func TestOrdered_Map(t *testing.T) {
	o := &Ordered{}
	if err := json.Unmarshal([]byte(`{"n": 1.5, "s": "x", "o": {"k": 2}, "a": [3]}`), o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := o.Map()
	if m["n"] != 1.5 {
		t.Errorf("expected numbers converted to float64, got %T %v", m["n"], m["n"])
	}
	inner, ok := m["o"].(map[string]any)
	if !ok || inner["k"] != 2.0 {
		t.Errorf("expected nested plain map, got %v", m["o"])
	}
	arr, ok := m["a"].([]any)
	if !ok || arr[0] != 3.0 {
		t.Errorf("expected plain array, got %v", m["a"])
	}
}
