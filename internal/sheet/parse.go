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

// Package sheet parses input workbooks into ordered rows and assembles
// result workbooks.
//
// Row filtering happens exactly once, here, at parse time. Every parsed row
// carries its absolute 0-based index in the original sheet, and the
// assembler writes results back by that index without re-filtering. Any
// other arrangement has historically produced off-by-N misalignment between
// inputs and results.
package sheet

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/tombee/batchflow/internal/workflow"
)

const (
	// DataSheetName is the single sheet the parser reads and the template
	// generator writes.
	DataSheetName = "batch_data"

	// ResultColumnName is the column the assembler appends.
	ResultColumnName = "execution_result"

	// requiredSuffix marks required parameters in template headers.
	requiredSuffix = " *"
)

// exampleMarkers identify example rows regardless of schema, compared
// case-insensitively.
var exampleMarkers = []string{"iphone", "example", "示例", "sample", "test"}

func isExampleMarker(value string) bool {
	lower := strings.ToLower(value)
	for _, m := range exampleMarkers {
		if lower == m {
			return true
		}
	}
	return false
}

// ParsedRow is one data row of the input sheet.
type ParsedRow struct {
	// SourceRowIndex is the row's 0-based position in the unmodified
	// sheet. Never reindexed.
	SourceRowIndex int

	// Inputs maps parameter name to the row's cell value. Empty cells are
	// omitted.
	Inputs map[string]string
}

// ParseError is returned when a workbook cannot be parsed at all.
type ParseError struct {
	Detail string
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sheet parse failed: %s: %v", e.Detail, e.Cause)
	}
	return fmt.Sprintf("sheet parse failed: %s", e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Parse reads the workbook's data sheet into ordered rows. The schema
// drives header matching and the description-row rule; it never influences
// which columns exist.
func Parse(data []byte, schema *workflow.Schema) ([]ParsedRow, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Detail: "open workbook", Cause: err}
	}
	defer f.Close()

	rows, err := f.GetRows(DataSheetName)
	if err != nil {
		return nil, &ParseError{Detail: fmt.Sprintf("sheet %q not found", DataSheetName), Cause: err}
	}
	if len(rows) == 0 {
		return nil, &ParseError{Detail: "sheet is empty"}
	}

	headers := headerNames(rows[0])
	if len(headers) == 0 {
		return nil, &ParseError{Detail: "header row has no columns"}
	}

	var parsed []ParsedRow
	for idx := 1; idx < len(rows); idx++ {
		cells := rows[idx]
		if isEmptyRow(cells) {
			continue
		}
		if idx == 1 && isDescriptionRow(cells, headers, schema) {
			continue
		}
		if idx == 2 && isExampleRow(cells, headers, schema) {
			continue
		}

		inputs := make(map[string]string)
		for col, name := range headers {
			if name == "" || name == ResultColumnName {
				continue
			}
			if col < len(cells) {
				value := strings.TrimSpace(cells[col])
				if value != "" {
					inputs[name] = value
				}
			}
		}
		parsed = append(parsed, ParsedRow{SourceRowIndex: idx, Inputs: inputs})
	}
	return parsed, nil
}

// headerNames maps column index to the cleaned parameter name, stripping
// the required-parameter suffix the template generator appends.
func headerNames(headerRow []string) map[int]string {
	headers := make(map[int]string)
	for col, cell := range headerRow {
		name := strings.TrimSpace(cell)
		name = strings.TrimSuffix(name, requiredSuffix)
		name = strings.TrimSpace(name)
		if name != "" {
			headers[col] = name
		}
	}
	return headers
}

func isEmptyRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// isDescriptionRow applies the row-1 rule: every non-empty cell is a prose
// descriptor and the row does not read as a typed data tuple. When the
// schema carries no typed parameter able to discriminate data from prose,
// the prose heuristic decides alone.
func isDescriptionRow(cells []string, headers map[int]string, schema *workflow.Schema) bool {
	nonEmpty := 0
	for _, c := range cells {
		value := strings.TrimSpace(c)
		if value == "" {
			continue
		}
		nonEmpty++
		if !isProse(value) {
			return false
		}
	}
	if nonEmpty == 0 {
		return false
	}
	return !isTypedDataTuple(cells, headers, schema)
}

// isProse reports whether a cell reads as a descriptor rather than data:
// longer than 12 characters or containing whitespace.
func isProse(value string) bool {
	if utf8.RuneCountInString(value) > 12 {
		return true
	}
	for _, r := range value {
		if unicode.IsSpace(r) {
			return true
		}
	}
	return false
}

// isTypedDataTuple reports whether the row's cells satisfy at least one
// discriminating (non-free-text) parameter of the schema. Free-text
// parameters accept any prose, so they cannot vote.
func isTypedDataTuple(cells []string, headers map[int]string, schema *workflow.Schema) bool {
	if schema == nil {
		return false
	}
	for col, name := range headers {
		param := schema.Parameter(name)
		if param == nil || col >= len(cells) {
			continue
		}
		value := strings.TrimSpace(cells[col])
		if value == "" {
			continue
		}
		switch param.Type {
		case workflow.ParameterNumber:
			if _, err := strconv.ParseFloat(value, 64); err == nil {
				return true
			}
		case workflow.ParameterSelect:
			for _, opt := range param.Options {
				if value == opt {
					return true
				}
			}
		}
	}
	return false
}

// isExampleRow applies the row-2 rule: cells match the known example
// markers or the template generator's example values for the schema.
func isExampleRow(cells []string, headers map[int]string, schema *workflow.Schema) bool {
	nonEmpty := 0
	for col, cell := range cells {
		value := strings.TrimSpace(cell)
		if value == "" {
			continue
		}
		nonEmpty++

		if isExampleMarker(value) {
			continue
		}
		if schema != nil {
			if name, ok := headers[col]; ok {
				if param := schema.Parameter(name); param != nil && value == ExampleValue(param) {
					continue
				}
			}
		}
		return false
	}
	return nonEmpty > 0
}
