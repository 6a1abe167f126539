// Package pdf lays out the charging report as a landscape A4 document.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/chargereport/chargereport/pkg/common"
	"github.com/chargereport/chargereport/pkg/log"
	"github.com/chargereport/chargereport/pkg/types"
)

const (
	margin       = 40.0
	fontFamily   = "Helvetica"
	fontSize     = 10.0
	bodyFontSize = 8.0
	footerSize   = 8.0
	rowHeight    = 16.0
	summaryRow   = 14.0
	footerHeight = 20.0

	dateLayout      = "02.01.2006"
	dateTimeLayout  = "02.01.2006 15:04"
	sessionLayout   = "2006-01-02 15:04"
	defaultFooter   = "Generated by ChargeReport"
	ellipsis        = "..."
	pageNumberAlias = "{nb}"
)

type rgb struct{ r, g, b int }

var (
	titleBlue   = rgb{21, 101, 192}
	white       = rgb{255, 255, 255}
	black       = rgb{0, 0, 0}
	costGreen   = rgb{56, 142, 60}
	headerGrey  = rgb{224, 224, 224}
	borderGrey  = rgb{189, 189, 189}
	zebraGrey   = rgb{238, 238, 238}
	footerGrey  = rgb{117, 117, 117}
	columnNames = []string{"Sitzungs ID", "Geräte ID", "Start", "Ende", "Dauer", "Energie", "Kosten"}
	// relative widths of the body columns
	columnWeights = []float64{2, 1.5, 1.5, 1.5, 0.8, 0.8, 0.8}
	// relative widths of label, value, spacer, label, value in the summary
	summaryWeights = []float64{2, 3, 0.5, 2.5, 2}
)

// Summary holds the figures printed in the document header.
type Summary struct {
	Sessions int
	Energy   float64
	Cost     float64
	// Duration only counts sessions that have a device id.
	Duration time.Duration
}

// Summarize computes the header figures for sessions at the given price.
func Summarize(sessions []types.ChargeSession, pricing types.Pricing) Summary {
	s := Summary{Sessions: len(sessions)}
	s.Energy = types.TotalEnergy(sessions)
	s.Cost = pricing.Cost(s.Energy)
	for _, sess := range sessions {
		if sess.DeviceID != "" {
			s.Duration += sess.Duration()
		}
	}
	return s
}

// Composer builds charging report PDFs.
type Composer struct {
	pricing     types.Pricing
	info        types.ReportInfo
	now         func() time.Time
	compress    bool
	attribution string
}

// Option configures a Composer.
type Option func(*Composer)

// WithClock replaces time.Now for the export timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) {
		c.now = now
	}
}

// WithCompression toggles stream compression. It is on by default.
func WithCompression(compress bool) Option {
	return func(c *Composer) {
		c.compress = compress
	}
}

// WithAttribution replaces the footer text.
func WithAttribution(text string) Option {
	return func(c *Composer) {
		c.attribution = text
	}
}

// NewComposer returns a Composer that prices energy with pricing and prints
// info in the summary.
func NewComposer(pricing types.Pricing, info types.ReportInfo, opts ...Option) *Composer {
	c := &Composer{
		pricing:     pricing,
		info:        info,
		now:         time.Now,
		compress:    true,
		attribution: defaultFooter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose writes the report for sessions to outputPath. Nothing is left at
// outputPath when an error is returned.
func (c *Composer) Compose(ctx context.Context, sessions []types.ChargeSession, installationName string, from, to time.Time, outputPath string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), "."+filepath.Base(outputPath)+".*.tmp")
	if err != nil {
		return &types.RenderError{Document: "pdf", Path: outputPath, Err: err}
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = c.ComposeTo(ctx, tmp, sessions, installationName, from, to); err != nil {
		var re *types.RenderError
		if errors.As(err, &re) {
			re.Path = outputPath
		}
		return err
	}
	if err = tmp.Close(); err != nil {
		return &types.RenderError{Document: "pdf", Path: outputPath, Err: err}
	}
	if err = os.Rename(tmp.Name(), outputPath); err != nil {
		return &types.RenderError{Document: "pdf", Path: outputPath, Err: err}
	}
	return nil
}

// ComposeTo writes the report for sessions to w.
func (c *Composer) ComposeTo(ctx context.Context, w io.Writer, sessions []types.ChargeSession, installationName string, from, to time.Time) error {
	exported := c.now()
	summary := Summarize(sessions, c.pricing)
	log.Ctx(ctx).DebugContext(
		ctx,
		"composing pdf",
		slog.Int("sessions", summary.Sessions),
		slog.Float64("energy", summary.Energy),
		slog.Duration("duration", summary.Duration),
	)

	doc := &document{
		pdf:      fpdf.New("L", "pt", "A4", ""),
		c:        c,
		summary:  summary,
		exported: exported,
		from:     from,
		to:       to,
	}
	doc.tr = doc.pdf.UnicodeTranslatorFromDescriptor("")
	doc.build(installationName, sessions)

	if err := doc.pdf.Error(); err != nil {
		return &types.RenderError{Document: "pdf", Err: err}
	}
	if err := doc.pdf.Output(w); err != nil {
		return &types.RenderError{Document: "pdf", Err: err}
	}
	return nil
}

// document holds the state of one render.
type document struct {
	pdf      *fpdf.Fpdf
	tr       func(string) string
	c        *Composer
	summary  Summary
	exported time.Time
	from     time.Time
	to       time.Time
}

func (d *document) build(installationName string, sessions []types.ChargeSession) {
	p := d.pdf
	title := "Ladebericht"
	if installationName != "" {
		title += " " + installationName
	}
	p.SetTitle(title, true)
	p.SetSubject(fmt.Sprintf("%s - %s", formatDate(d.from), formatDate(d.to)), true)
	p.SetAuthor(d.c.info.Employee, true)
	p.SetCreator(common.UserAgent(), true)
	p.SetCreationDate(d.exported)
	p.SetModificationDate(d.exported)
	p.SetCompression(d.c.compress)

	p.SetMargins(margin, margin, margin)
	p.SetAutoPageBreak(true, margin+footerHeight)
	p.AliasNbPages(pageNumberAlias)
	p.SetHeaderFuncMode(func() {
		d.header()
		d.columnHeader()
	}, false)
	p.SetFooterFunc(d.footer)

	p.AddPage()
	for i, s := range sessions {
		d.sessionRow(i, s)
	}
}

func (d *document) contentWidth() float64 {
	w, _ := d.pdf.GetPageSize()
	return w - 2*margin
}

func (d *document) widths(weights []float64) []float64 {
	var total float64
	for _, w := range weights {
		total += w
	}
	out := make([]float64, len(weights))
	for i, w := range weights {
		out[i] = d.contentWidth() * w / total
	}
	return out
}

func (d *document) setFill(c rgb) { d.pdf.SetFillColor(c.r, c.g, c.b) }
func (d *document) setText(c rgb) { d.pdf.SetTextColor(c.r, c.g, c.b) }
func (d *document) setDraw(c rgb) { d.pdf.SetDrawColor(c.r, c.g, c.b) }

// header draws the title band and the summary grid.
func (d *document) header() {
	p := d.pdf
	p.SetXY(margin, margin)
	width := d.contentWidth()

	d.setFill(titleBlue)
	d.setText(white)
	p.SetFont(fontFamily, "B", 18)
	p.CellFormat(width/2, 36, d.tr(" Ladebericht"), "", 0, "LM", true, 0, "")
	p.SetFont(fontFamily, "", fontSize)
	p.CellFormat(width/2, 36, d.tr(d.exported.Format(dateTimeLayout)+" "), "", 1, "RM", true, 0, "")
	p.Ln(12)

	info := d.c.info
	rows := [][4]string{
		{"Mitarbeiter:", info.Employee, "Exportdatum:", d.exported.Format(dateTimeLayout)},
		{"Adresse:", info.Address, "Abfrage-Zeitraum:", formatDate(d.from) + " - " + formatDate(d.to)},
		{"Kennzeichen:", info.VehicleLicensePlate, "Anzahl Ladesitzungen:", fmt.Sprintf("%d", d.summary.Sessions)},
		{"Fahrzeug-Modell:", info.VehicleModel, "Gesamtladeleistung (kWh):", fmt.Sprintf("%.2f", d.summary.Energy)},
		{"", "", "Strompreis pro kWh (brutto):", fmt.Sprintf("%.3f €", d.c.pricing.CostPerKWH)},
		{"", "", "Gesamtkosten (brutto):", fmt.Sprintf("%.2f €", d.summary.Cost)},
	}
	cols := d.widths(summaryWeights)
	for i, row := range rows {
		highlight := i == len(rows)-1
		d.setText(black)
		p.SetFont(fontFamily, "B", fontSize)
		p.CellFormat(cols[0], summaryRow, d.tr(row[0]), "", 0, "L", false, 0, "")
		p.SetFont(fontFamily, "", fontSize)
		p.CellFormat(cols[1], summaryRow, d.fit(row[1], cols[1]), "", 0, "L", false, 0, "")
		p.CellFormat(cols[2], summaryRow, "", "", 0, "L", false, 0, "")
		p.SetFont(fontFamily, "B", fontSize)
		p.CellFormat(cols[3], summaryRow, d.tr(row[2]), "", 0, "L", false, 0, "")
		if highlight {
			d.setText(costGreen)
		} else {
			p.SetFont(fontFamily, "", fontSize)
		}
		p.CellFormat(cols[4], summaryRow, d.tr(row[3]), "", 1, "L", false, 0, "")
	}
	d.setText(black)

	p.Ln(8)
	d.setDraw(borderGrey)
	p.SetLineWidth(1)
	y := p.GetY()
	p.Line(margin, y, margin+width, y)
	p.Ln(10)
}

// columnHeader draws the body table header, repeated on every page.
func (d *document) columnHeader() {
	p := d.pdf
	p.SetFont(fontFamily, "B", bodyFontSize+1)
	d.setFill(headerGrey)
	d.setDraw(borderGrey)
	d.setText(black)
	p.SetLineWidth(0.5)
	cols := d.widths(columnWeights)
	for i, name := range columnNames {
		ln := 0
		if i == len(columnNames)-1 {
			ln = 1
		}
		p.CellFormat(cols[i], rowHeight+2, d.tr(name), "1", ln, "LM", true, 0, "")
	}
}

// sessionRow draws one body row. Odd rows are shaded.
func (d *document) sessionRow(i int, s types.ChargeSession) {
	p := d.pdf
	p.SetFont(fontFamily, "", bodyFontSize)
	d.setText(black)
	d.setDraw(borderGrey)
	if i%2 == 0 {
		d.setFill(white)
	} else {
		d.setFill(zebraGrey)
	}
	cols := d.widths(columnWeights)
	cells := []struct {
		text  string
		align string
	}{
		{s.ID, "LM"},
		{s.DeviceID, "LM"},
		{s.StartDateTime.Format(sessionLayout), "LM"},
		{s.EndDateTime.Format(sessionLayout), "LM"},
		{types.FormatHoursMinutes(s.Duration()) + " h", "LM"},
		{fmt.Sprintf("%.2f kWh", s.Energy), "RM"},
		{fmt.Sprintf("%.2f €", d.c.pricing.Cost(s.Energy)), "RM"},
	}
	for j, cell := range cells {
		ln := 0
		if j == len(cells)-1 {
			ln = 1
		}
		p.CellFormat(cols[j], rowHeight, d.fit(cell.text, cols[j]), "1", ln, cell.align, true, 0, "")
	}
}

// footer draws the attribution and page numbers.
func (d *document) footer() {
	p := d.pdf
	_, h := p.GetPageSize()
	width := d.contentWidth()
	p.SetXY(margin, h-margin-footerSize)
	p.SetFont(fontFamily, "", footerSize)
	d.setText(footerGrey)
	p.CellFormat(width/2, footerSize, d.tr(d.c.attribution), "", 0, "L", false, 0, "")
	p.CellFormat(width/2, footerSize, fmt.Sprintf("Page %d / %s", p.PageNo(), pageNumberAlias), "", 0, "R", false, 0, "")
	d.setText(black)
}

// fit translates s and shortens it until it fits into a cell of width w.
func (d *document) fit(s string, w float64) string {
	s = d.tr(s)
	// leave room for the cell margins
	limit := w - 4
	if d.pdf.GetStringWidth(s) <= limit {
		return s
	}
	for len(s) > 0 && d.pdf.GetStringWidth(s+ellipsis) > limit {
		s = strings.TrimRight(s[:len(s)-1], " ")
	}
	return s + ellipsis
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
