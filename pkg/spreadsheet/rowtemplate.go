package spreadsheet

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// TemplateCell is one captured cell of the template's first data row.
type TemplateCell struct {
	HasFormula bool
	Formula    string
	Value      string
	Style      int
}

// rowTemplate is the captured first data row of a table, keyed by column
// offset from the table's first column.
type rowTemplate struct {
	sourceRow int
	cells     []TemplateCell
}

func captureRowTemplate(f *excelize.File, sheet string, row, firstCol, lastCol int) (rowTemplate, error) {
	rt := rowTemplate{sourceRow: row}
	for col := firstCol; col <= lastCol; col++ {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return rt, err
		}
		formula, err := f.GetCellFormula(sheet, cell)
		if err != nil {
			return rt, fmt.Errorf("failed to read formula of %s: %w", cell, err)
		}
		value, err := f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
		if err != nil {
			return rt, fmt.Errorf("failed to read value of %s: %w", cell, err)
		}
		style, err := f.GetCellStyle(sheet, cell)
		if err != nil {
			return rt, fmt.Errorf("failed to read style of %s: %w", cell, err)
		}
		rt.cells = append(rt.cells, TemplateCell{
			HasFormula: formula != "",
			Formula:    formula,
			Value:      value,
			Style:      style,
		})
	}
	return rt, nil
}

// restore writes the captured cells into row. Formulas are copied with
// references to the template row moved to row, other non-blank values are
// copied verbatim and the style is always copied.
func (rt rowTemplate) restore(f *excelize.File, sheet string, row, firstCol int) error {
	for i, tc := range rt.cells {
		cell, err := excelize.CoordinatesToCellName(firstCol+i, row)
		if err != nil {
			return err
		}
		switch {
		case tc.HasFormula:
			if err := f.SetCellFormula(sheet, cell, rebaseFormula(tc.Formula, rt.sourceRow, row)); err != nil {
				return fmt.Errorf("failed to restore formula of %s: %w", cell, err)
			}
		case tc.Value != "":
			if err := f.SetCellDefault(sheet, cell, tc.Value); err != nil {
				return fmt.Errorf("failed to restore value of %s: %w", cell, err)
			}
		}
		if err := f.SetCellStyle(sheet, cell, cell, tc.Style); err != nil {
			return fmt.Errorf("failed to restore style of %s: %w", cell, err)
		}
	}
	return nil
}

// clearRow removes formulas and values from the cells of row but keeps their
// styles.
func clearRow(f *excelize.File, sheet string, row, firstCol, lastCol int) error {
	for col := firstCol; col <= lastCol; col++ {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		if err := f.SetCellFormula(sheet, cell, ""); err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, nil); err != nil {
			return err
		}
	}
	return nil
}

// cellRefPattern matches A1 style references. The optional trailing "(" lets
// rebaseFormula skip function names such as LOG10(.
var cellRefPattern = regexp.MustCompile(`(\$?)([A-Za-z]{1,3})(\$?)([0-9]+)(\(?)`)

// rebaseFormula moves relative references to row from onto row to. Absolute
// rows, other rows, references into other sheets and anything inside string
// literals are left alone.
func rebaseFormula(formula string, from, to int) string {
	if from == to {
		return formula
	}
	var b strings.Builder
	parts := strings.Split(formula, `"`)
	for i, part := range parts {
		if i > 0 {
			b.WriteByte('"')
		}
		// odd parts are inside a string literal
		if i%2 == 1 {
			b.WriteString(part)
			continue
		}
		b.WriteString(rebasePart(part, from, to))
	}
	return b.String()
}

func rebasePart(s string, from, to int) string {
	matches := cellRefPattern.FindAllStringSubmatchIndex(s, -1)
	if matches == nil {
		return s
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		// a letter, digit, underscore or dot before the match means it is
		// part of a longer name, e.g. a sheet or defined name
		if start > 0 && isNameChar(s[start-1]) {
			continue
		}
		// sheet qualified, points outside the table row
		if start > 0 && s[start-1] == '!' {
			continue
		}
		if m[10] != m[11] || (end < len(s) && isNameChar(s[end])) {
			continue
		}
		rowAbs := m[6] != m[7]
		row, err := strconv.Atoi(s[m[8]:m[9]])
		if err != nil || rowAbs || row != from {
			continue
		}
		b.WriteString(s[last:m[8]])
		b.WriteString(strconv.Itoa(to))
		last = m[9]
	}
	b.WriteString(s[last:])
	return b.String()
}

func isNameChar(c byte) bool {
	return c == '_' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
