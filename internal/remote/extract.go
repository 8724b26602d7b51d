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
	"fmt"
	"strings"
)

// NoOutput is the sentinel written when a run yields no displayable output.
const NoOutput = "no output"

// reservedOutputKeys are run bookkeeping fields excluded from the joined
// output text.
var reservedOutputKeys = map[string]struct{}{
	"id":           {},
	"workflow_id":  {},
	"status":       {},
	"elapsed_time": {},
	"total_tokens": {},
	"total_steps":  {},
	"created_at":   {},
	"finished_at":  {},
	"error":        {},
}

// ExtractText derives the displayable result string from a run result.
//
// The rule: prefer the outputs object, else a top-level output field, else
// result; if outputs itself nests an outputs object, descend once; a map
// value joins its values in insertion order with newlines after filtering
// reserved keys; anything empty yields the NoOutput sentinel. Structured
// non-string values are flattened via their default string conversion.
func ExtractText(res *RunResult) string {
	if res == nil || res.Data == nil {
		return NoOutput
	}

	var value any
	for _, key := range []string{"outputs", "output", "result"} {
		if v, ok := res.Data.Get(key); ok && v != nil {
			value = v
			break
		}
	}
	if value == nil {
		return NoOutput
	}

	// Descend one nested outputs level.
	if obj, ok := value.(*Ordered); ok {
		if inner, found := obj.Get("outputs"); found {
			if innerObj, ok := inner.(*Ordered); ok {
				value = innerObj
			}
		}
	}

	text := flatten(value)
	if strings.TrimSpace(text) == "" {
		return NoOutput
	}
	return text
}

// flatten renders a decoded JSON value as display text. Objects join their
// non-reserved values in insertion order.
func flatten(value any) string {
	switch v := value.(type) {
	case *Ordered:
		var parts []string
		for _, key := range v.Keys() {
			if _, reserved := reservedOutputKeys[key]; reserved {
				continue
			}
			val, _ := v.Get(key)
			if val == nil {
				continue
			}
			part := flatten(val)
			if part != "" {
				parts = append(parts, part)
			}
		}
		return strings.Join(parts, "\n")
	case string:
		return v
	case []any:
		var parts []string
		for _, item := range v {
			part := flatten(item)
			if part != "" {
				parts = append(parts, part)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return fmt.Sprintf("%v", v)
	}
}
