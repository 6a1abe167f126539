// Package spreadsheet fills an xlsx template with charge sessions.
package spreadsheet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/chargereport/chargereport/pkg/log"
	"github.com/chargereport/chargereport/pkg/types"
)

const (
	// fallbackOrigin is where data is written when the sheet has no table.
	fallbackOriginRow = 2
	fallbackOriginCol = 1

	sessionDateTimeFormat = "yyyy-mm-dd hh:mm"
)

// Render fills the template at templatePath with sessions and writes the
// workbook to outputPath. Nothing is left at outputPath when an error is
// returned.
func Render(ctx context.Context, sessions []types.ChargeSession, templatePath, outputPath string, rc types.ReportContext) error {
	f, err := render(ctx, sessions, templatePath, rc)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := writeAtomic(f, outputPath); err != nil {
		return &types.RenderError{Document: "spreadsheet", Path: outputPath, Err: err}
	}
	return nil
}

// RenderTo is like Render but writes the workbook to w.
func RenderTo(ctx context.Context, w io.Writer, sessions []types.ChargeSession, templatePath string, rc types.ReportContext) error {
	f, err := render(ctx, sessions, templatePath, rc)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return &types.RenderError{Document: "spreadsheet", Err: err}
	}
	return nil
}

func render(ctx context.Context, sessions []types.ChargeSession, templatePath string, rc types.ReportContext) (*excelize.File, error) {
	if _, err := os.Stat(templatePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &types.TemplateNotFoundError{Path: templatePath}
		}
		return nil, &types.RenderError{Document: "spreadsheet", Path: templatePath, Err: err}
	}

	f, err := excelize.OpenFile(templatePath)
	if err != nil {
		return nil, &types.RenderError{Document: "spreadsheet", Path: templatePath, Err: fmt.Errorf("failed to open template: %w", err)}
	}

	r := &renderer{
		f:      f,
		sheet:  f.GetSheetName(0),
		rc:     newRenderContext(rc, sessions),
		styles: map[styleKey]int{},
	}
	err = func() error {
		if r.sheet == "" {
			return errors.New("template has no worksheet")
		}
		if err := r.resolvePlaceholders(ctx); err != nil {
			return fmt.Errorf("failed to resolve placeholders: %w", err)
		}
		if err := r.populate(ctx, types.SortedByStart(sessions)); err != nil {
			return fmt.Errorf("failed to populate data: %w", err)
		}
		return r.finalize(ctx)
	}()
	if err != nil {
		f.Close()
		return nil, &types.RenderError{Document: "spreadsheet", Path: templatePath, Err: err}
	}
	return f, nil
}

type styleKey struct {
	base   int
	numFmt string
}

type renderer struct {
	f      *excelize.File
	sheet  string
	rc     renderContext
	styles map[styleKey]int
}

// resolvePlaceholders replaces {{KEY}} tags in the first worksheet and the
// cells referenced by workbook-level named ranges.
func (r *renderer) resolvePlaceholders(ctx context.Context) error {
	rows, err := r.f.GetRows(r.sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return err
	}
	for y, row := range rows {
		for x, text := range row {
			if !strings.Contains(text, "{{") {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(x+1, y+1)
			if err != nil {
				return err
			}
			formula, err := r.f.GetCellFormula(r.sheet, cell)
			if err != nil {
				return err
			}
			if formula != "" {
				continue
			}
			if key, p, ok := lookupTag(text); ok {
				log.Ctx(ctx).DebugContext(ctx, "resolved placeholder", slog.String("key", key), slog.String("cell", cell))
				if err := r.setPlaceholder(r.sheet, cell, p); err != nil {
					return err
				}
				continue
			}
			if replaced, ok := substituteTags(text, r.rc); ok {
				if err := r.f.SetCellStr(r.sheet, cell, replaced); err != nil {
					return err
				}
			}
		}
	}

	for _, dn := range r.f.GetDefinedName() {
		if dn.Scope != "Workbook" {
			continue
		}
		key, p, ok := lookupName(dn.Name)
		if !ok {
			continue
		}
		sheet, cell, ok := parseRefersTo(dn.RefersTo)
		if !ok {
			log.Ctx(ctx).DebugContext(ctx, "skipping named range", slog.String("name", dn.Name), slog.String("refersTo", dn.RefersTo))
			continue
		}
		if idx, err := r.f.GetSheetIndex(sheet); err != nil || idx < 0 {
			log.Ctx(ctx).DebugContext(ctx, "named range points at unknown sheet", slog.String("name", dn.Name), slog.String("sheet", sheet))
			continue
		}
		log.Ctx(ctx).DebugContext(ctx, "resolved named range", slog.String("key", key), slog.String("sheet", sheet), slog.String("cell", cell))
		if err := r.setPlaceholder(sheet, cell, p); err != nil {
			return fmt.Errorf("named range %s: %w", dn.Name, err)
		}
	}
	return nil
}

// setPlaceholder writes the typed value of p into cell and applies its
// number format on top of the cell's existing style.
func (r *renderer) setPlaceholder(sheet, cell string, p placeholder) error {
	base, err := r.f.GetCellStyle(sheet, cell)
	if err != nil {
		return err
	}
	v := p.value(r.rc)
	if v == nil {
		v = ""
	}
	if err := r.f.SetCellValue(sheet, cell, v); err != nil {
		return err
	}
	if v == "" || p.numFmt == "" {
		return r.f.SetCellStyle(sheet, cell, cell, base)
	}
	return r.setFormattedStyle(sheet, cell, base, p.numFmt)
}

// setFormattedStyle applies base with numFmt replacing its number format.
// Derived styles are cached so every cell sharing a base shares the result.
func (r *renderer) setFormattedStyle(sheet, cell string, base int, numFmt string) error {
	key := styleKey{base: base, numFmt: numFmt}
	id, ok := r.styles[key]
	if !ok {
		style, err := r.f.GetStyle(base)
		if err != nil {
			return err
		}
		style.NumFmt = 0
		style.DecimalPlaces = nil
		style.CustomNumFmt = &numFmt
		if id, err = r.f.NewStyle(style); err != nil {
			return err
		}
		r.styles[key] = id
	}
	return r.f.SetCellStyle(sheet, cell, cell, id)
}

// hasNumFmt reports whether the style already carries a number format.
func (r *renderer) hasNumFmt(styleID int) bool {
	style, err := r.f.GetStyle(styleID)
	if err != nil {
		return false
	}
	return style.NumFmt != 0 || style.CustomNumFmt != nil
}

// tableRegion is the geometry of the template's table.
type tableRegion struct {
	table     *excelize.Table
	headerRow int
	firstCol  int
	lastCol   int
	lastRow   int
}

func (r *renderer) findTable(ctx context.Context) (*tableRegion, error) {
	tables, err := r.f.GetTables(r.sheet)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, nil
	}
	t := tables[0]
	refs := strings.Split(t.Range, ":")
	if len(refs) != 2 {
		return nil, fmt.Errorf("invalid range %q of table %s", t.Range, t.Name)
	}
	x1, y1, err := excelize.CellNameToCoordinates(refs[0])
	if err != nil {
		return nil, err
	}
	x2, y2, err := excelize.CellNameToCoordinates(refs[1])
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).DebugContext(ctx, "found template table", slog.String("name", t.Name), slog.String("range", t.Range))
	return &tableRegion{
		table:     &t,
		headerRow: min(y1, y2),
		firstCol:  min(x1, x2),
		lastCol:   max(x1, x2),
		lastRow:   max(y1, y2),
	}, nil
}

// populate writes one row per session, keeping the table in step with the
// data and restoring the template row's formulas and styles on every row.
func (r *renderer) populate(ctx context.Context, sessions []types.ChargeSession) error {
	region, err := r.findTable(ctx)
	if err != nil {
		return err
	}

	originRow, originCol := fallbackOriginRow, fallbackOriginCol
	var rt *rowTemplate
	if region != nil {
		originRow, originCol = region.headerRow+1, region.firstCol
		dataRows := region.lastRow - region.headerRow
		if dataRows > 0 {
			captured, err := captureRowTemplate(r.f, r.sheet, originRow, region.firstCol, region.lastCol)
			if err != nil {
				return err
			}
			rt = &captured
		}

		// the table is removed while rows move and added back afterwards,
		// excelize drops a table that shrinks to its header row
		if err := r.f.DeleteTable(region.table.Name); err != nil {
			return fmt.Errorf("failed to detach table %s: %w", region.table.Name, err)
		}
		for i := 1; i < dataRows; i++ {
			if err := r.f.RemoveRow(r.sheet, originRow+1); err != nil {
				return err
			}
		}
		if dataRows == 0 {
			if err := r.f.InsertRows(r.sheet, originRow, 1); err != nil {
				return err
			}
		}
		if err := clearRow(r.f, r.sheet, originRow, region.firstCol, region.lastCol); err != nil {
			return err
		}
	}

	for i, s := range sessions {
		row := originRow + i
		if i > 0 && region != nil {
			if err := r.f.InsertRows(r.sheet, row, 1); err != nil {
				return err
			}
		}
		if rt != nil {
			if err := rt.restore(r.f, r.sheet, row, originCol); err != nil {
				return err
			}
		}
		if err := r.writeSession(row, originCol, s); err != nil {
			return fmt.Errorf("failed to write session %s: %w", s.ID, err)
		}
	}

	if region == nil {
		return nil
	}
	// an xlsx table always has at least one data row
	lastRow := region.headerRow + max(len(sessions), 1)
	ref, err := rangeRef(region.firstCol, region.headerRow, region.lastCol, lastRow)
	if err != nil {
		return err
	}
	t := region.table
	return r.f.AddTable(r.sheet, &excelize.Table{
		Range:             ref,
		Name:              t.Name,
		StyleName:         t.StyleName,
		ShowColumnStripes: t.ShowColumnStripes,
		ShowFirstColumn:   t.ShowFirstColumn,
		ShowHeaderRow:     t.ShowHeaderRow,
		ShowLastColumn:    t.ShowLastColumn,
		ShowRowStripes:    t.ShowRowStripes,
	})
}

// writeSession writes the standard columns: id, device id, start, end,
// HH:MM duration, energy and signed session.
func (r *renderer) writeSession(row, col int, s types.ChargeSession) error {
	values := []any{
		s.ID,
		s.DeviceID,
		s.StartDateTime,
		s.EndDateTime,
		types.FormatHoursMinutes(s.Duration()),
		s.Energy,
		s.SignedSession,
	}
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+i, row)
		if err != nil {
			return err
		}
		t, isTime := v.(time.Time)
		if !isTime {
			if err := r.f.SetCellValue(r.sheet, cell, v); err != nil {
				return err
			}
			continue
		}
		base, err := r.f.GetCellStyle(r.sheet, cell)
		if err != nil {
			return err
		}
		if err := r.f.SetCellValue(r.sheet, cell, t); err != nil {
			return err
		}
		// excelize forces its own date format on time values
		if r.hasNumFmt(base) {
			err = r.f.SetCellStyle(r.sheet, cell, cell, base)
		} else {
			err = r.setFormattedStyle(r.sheet, cell, base, sessionDateTimeFormat)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// finalize recalculates the formulas of the report sheet and stores their
// numeric results, then asks the spreadsheet application to recalculate
// everything on load.
func (r *renderer) finalize(ctx context.Context) error {
	if err := r.f.UpdateLinkedValue(); err != nil {
		return fmt.Errorf("failed to clear cached values: %w", err)
	}
	if err := r.calculate(ctx); err != nil {
		return fmt.Errorf("failed to calculate formulas: %w", err)
	}
	fullCalc := true
	if err := r.f.SetCalcProps(&excelize.CalcPropsOptions{FullCalcOnLoad: &fullCalc}); err != nil {
		return fmt.Errorf("failed to set calculation properties: %w", err)
	}
	return nil
}

type formulaCell struct {
	cell    string
	formula string
	value   float64
	numeric bool
}

// calculate evaluates every formula before touching any cell. excelize only
// keeps a cached value next to a formula when the value is written first, and
// writing a value drops the formula (for a shared formula, the whole group's),
// so all values are stored before the formulas are set again.
func (r *renderer) calculate(ctx context.Context) error {
	rows, err := r.f.GetRows(r.sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return err
	}
	var cells []formulaCell
	for y, row := range rows {
		for x := range row {
			cell, err := excelize.CoordinatesToCellName(x+1, y+1)
			if err != nil {
				return err
			}
			formula, err := r.f.GetCellFormula(r.sheet, cell)
			if err != nil {
				return err
			}
			if formula == "" {
				continue
			}
			fc := formulaCell{cell: cell, formula: formula}
			result, err := r.f.CalcCellValue(r.sheet, cell, excelize.Options{RawCellValue: true})
			if err != nil {
				log.Ctx(ctx).DebugContext(ctx, "formula left for the spreadsheet application",
					slog.String("cell", cell),
					slog.Any("error", err),
				)
			} else if v, err := strconv.ParseFloat(result, 64); err == nil {
				fc.value, fc.numeric = v, true
			}
			cells = append(cells, fc)
		}
	}

	for _, fc := range cells {
		if fc.numeric {
			err = r.f.SetCellFloat(r.sheet, fc.cell, fc.value, -1, 64)
		} else {
			err = r.f.SetCellFormula(r.sheet, fc.cell, "")
		}
		if err != nil {
			return err
		}
	}
	for _, fc := range cells {
		if err := r.f.SetCellFormula(r.sheet, fc.cell, fc.formula); err != nil {
			return err
		}
	}
	return nil
}

// writeAtomic writes f next to path and renames it into place.
func writeAtomic(f *excelize.File, path string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if err = f.Write(tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func rangeRef(x1, y1, x2, y2 int) (string, error) {
	from, err := excelize.CoordinatesToCellName(x1, y1)
	if err != nil {
		return "", err
	}
	to, err := excelize.CoordinatesToCellName(x2, y2)
	if err != nil {
		return "", err
	}
	return from + ":" + to, nil
}

// parseRefersTo returns the sheet and top-left cell of a defined name such as
// 'My Sheet'!$B$2 or Sheet1!$B$2:$C$3.
func parseRefersTo(refersTo string) (string, string, bool) {
	ref := strings.TrimPrefix(strings.TrimSpace(refersTo), "=")
	i := strings.LastIndex(ref, "!")
	if i <= 0 {
		return "", "", false
	}
	sheet, cells := ref[:i], ref[i+1:]
	if strings.HasPrefix(sheet, "'") && strings.HasSuffix(sheet, "'") && len(sheet) >= 2 {
		sheet = strings.ReplaceAll(sheet[1:len(sheet)-1], "''", "'")
	}
	cell := strings.ReplaceAll(strings.SplitN(cells, ":", 2)[0], "$", "")
	if _, _, err := excelize.CellNameToCoordinates(cell); err != nil {
		return "", "", false
	}
	return sheet, cell, true
}
