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
	"bytes"
	"encoding/json"
	"fmt"
)

// Ordered is a JSON object that preserves key insertion order. The output
// extraction rule joins map values in the order the remote service emitted
// them, which a plain Go map cannot provide.
type Ordered struct {
	keys []string
	vals map[string]any
}

// Keys returns the object's keys in insertion order.
func (o *Ordered) Keys() []string {
	if o == nil {
		return nil
	}
	return o.keys
}

// Get returns the value for a key and whether it was present.
func (o *Ordered) Get(key string) (any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.vals[key]
	return v, ok
}

// Len returns the number of keys.
func (o *Ordered) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Map converts the object to a plain nested map, losing key order. Used
// where callers hand the data to expression engines that expect ordinary
// Go maps.
func (o *Ordered) Map() map[string]any {
	if o == nil {
		return nil
	}
	m := make(map[string]any, len(o.keys))
	for _, key := range o.keys {
		m[key] = plainValue(o.vals[key])
	}
	return m
}

func plainValue(v any) any {
	switch t := v.(type) {
	case *Ordered:
		return t.Map()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plainValue(item)
		}
		return out
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

// UnmarshalJSON decodes a JSON object preserving key order. Nested objects
// decode as *Ordered, arrays as []any, numbers as json.Number.
func (o *Ordered) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}

	parsed, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*o = *parsed
	return nil
}

// decodeObject reads object members until the closing brace. The opening
// brace must already be consumed.
func decodeObject(dec *json.Decoder) (*Ordered, error) {
	o := &Ordered{vals: make(map[string]any)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", keyTok)
		}

		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}

		if _, exists := o.vals[key]; !exists {
			o.keys = append(o.keys, key)
		}
		o.vals[key] = val
	}
	// Consume closing brace.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return o, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			var arr []any
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %v", t)
		}
	default:
		return tok, nil
	}
}
