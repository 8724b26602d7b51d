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

package sheet

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Assemble writes results into the original workbook by absolute source row
// index and returns the new workbook bytes.
//
// The output sheet is the original plus one appended execution_result
// column. Results may arrive in any order and may be incomplete; rows with
// no entry keep a blank result cell. No row filtering happens here: the
// source row index recorded at parse time is the only addressing used.
func Assemble(original []byte, results map[int]string) ([]byte, error) {
	f, err := excelize.OpenReader(bytes.NewReader(original))
	if err != nil {
		return nil, fmt.Errorf("open original workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(DataSheetName)
	if err != nil {
		return nil, fmt.Errorf("sheet %q not found: %w", DataSheetName, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", DataSheetName)
	}

	// The result column goes after the widest header cell, not the widest
	// row, so description rows longer than the header cannot shift it.
	resultCol := len(rows[0]) + 1

	headerCell, err := excelize.CoordinatesToCellName(resultCol, 1)
	if err != nil {
		return nil, fmt.Errorf("compute header cell: %w", err)
	}
	if err := f.SetCellValue(DataSheetName, headerCell, ResultColumnName); err != nil {
		return nil, fmt.Errorf("write result header: %w", err)
	}

	for sourceRowIndex, text := range results {
		if sourceRowIndex <= 0 {
			return nil, fmt.Errorf("result for invalid source row index %d", sourceRowIndex)
		}
		cell, err := excelize.CoordinatesToCellName(resultCol, sourceRowIndex+1)
		if err != nil {
			return nil, fmt.Errorf("compute result cell for row %d: %w", sourceRowIndex, err)
		}
		if err := f.SetCellValue(DataSheetName, cell, text); err != nil {
			return nil, fmt.Errorf("write result for row %d: %w", sourceRowIndex, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize result workbook: %w", err)
	}
	return buf.Bytes(), nil
}
