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
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/tombee/batchflow/internal/workflow"
)

// GenerateTemplate produces an input workbook for the given schema: a
// batch_data sheet whose header row carries the parameter names (required
// ones suffixed " *"), a description row from the parameter labels, and an
// example row the parser recognizes by the shared convention.
func GenerateTemplate(schema *workflow.Schema) ([]byte, error) {
	if schema == nil || len(schema.Parameters) == 0 {
		return nil, fmt.Errorf("schema has no parameters")
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(DataSheetName)
	if err != nil {
		return nil, fmt.Errorf("create data sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("remove default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for i, p := range schema.Parameters {
		col := i + 1

		header := p.Name
		if p.Required {
			header += requiredSuffix
		}
		if err := setCell(f, col, 1, header); err != nil {
			return nil, err
		}

		description := p.Description
		if description == "" {
			description = fmt.Sprintf("value for parameter %s", p.Name)
		}
		if err := setCell(f, col, 2, description); err != nil {
			return nil, err
		}

		if err := setCell(f, col, 3, ExampleValue(&schema.Parameters[i])); err != nil {
			return nil, err
		}

		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return nil, fmt.Errorf("compute column name: %w", err)
		}
		width := float64(len(p.Name)) * 1.5
		if width < 18 {
			width = 18
		}
		if width > 50 {
			width = 50
		}
		if err := f.SetColWidth(DataSheetName, name, name, width); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}

		headerCell, err := excelize.CoordinatesToCellName(col, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(DataSheetName, headerCell, headerCell, headerStyle); err != nil {
			return nil, fmt.Errorf("style header cell: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize template: %w", err)
	}
	return buf.Bytes(), nil
}

// ExampleValue returns the example-row value the template generator writes
// for a parameter. The parser recognizes these values when skipping row 2,
// so generator and parser must agree.
func ExampleValue(p *workflow.Parameter) string {
	if p.Default != "" {
		return p.Default
	}
	switch p.Type {
	case workflow.ParameterNumber:
		return "42"
	case workflow.ParameterSelect:
		if len(p.Options) > 0 {
			return p.Options[0]
		}
		return "example"
	case workflow.ParameterParagraph:
		return "sample"
	case workflow.ParameterFile:
		return "example"
	default:
		return "example"
	}
}

func setCell(f *excelize.File, col, row int, value string) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("compute cell: %w", err)
	}
	if err := f.SetCellValue(DataSheetName, cell, value); err != nil {
		return fmt.Errorf("write cell %s: %w", cell, err)
	}
	return nil
}
