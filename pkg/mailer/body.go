package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/chargereport/chargereport/pkg/types"
)

// DefaultSubject is used when no subject template is configured.
const DefaultSubject = "Zaptec Usage Report - {0:MMMM yyyy}"

var indexedPlaceholder = regexp.MustCompile(`\{0(?::([^}]*))?\}`)

// Subject renders a subject template for a report starting at from. The
// template may contain {month}, {year} or a {0:<format>} placeholder using
// MMMM, MMM, MM, yyyy, yy, dd tokens.
func Subject(tmpl string, from time.Time) string {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultSubject
	}
	out := indexedPlaceholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := indexedPlaceholder.FindStringSubmatch(m)
		if sub[1] == "" {
			return from.Format("2006-01-02")
		}
		return from.Format(goLayout(sub[1]))
	})
	out = strings.ReplaceAll(out, "{month}", from.Format("January"))
	out = strings.ReplaceAll(out, "{year}", from.Format("2006"))
	return out
}

var layoutTokens = []struct{ token, layout string }{
	{"yyyy", "2006"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"MM", "01"},
	{"yy", "06"},
	{"dd", "02"},
	{"HH", "15"},
	{"mm", "04"},
}

func goLayout(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); {
		matched := false
		for _, t := range layoutTokens {
			if strings.HasPrefix(format[i:], t.token) {
				b.WriteString(t.layout)
				i += len(t.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(format[i])
			i++
		}
	}
	return b.String()
}

// Summary is what a report e-mail tells the recipient.
type Summary struct {
	InstallationName string
	From, To         time.Time
	Sessions         int
	Energy           float64
	Duration         time.Duration
	HasSpreadsheet   bool
	HasPDF           bool
}

// Summarize builds a Summary from the fetched sessions.
func Summarize(rc types.ReportContext, sessions []types.ChargeSession) Summary {
	return Summary{
		InstallationName: rc.InstallationName,
		From:             rc.From,
		To:               rc.To,
		Sessions:         len(sessions),
		Energy:           types.TotalEnergy(sessions),
		Duration:         types.TotalDuration(sessions),
	}
}

// FormatDuration renders d as d.hh:mm:ss.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%d.%02d:%02d:%02d", days, hours, minutes, seconds)
}

func (s Summary) attachments() string {
	var parts []string
	if s.HasSpreadsheet {
		parts = append(parts, "Excel")
	}
	if s.HasPDF {
		parts = append(parts, "PDF")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

var htmlBody = template.Must(template.New("body").Parse(`<html><body>
<h2>Charging report</h2>
<table>
<tr><td>Installation</td><td>{{.Name}}</td></tr>
<tr><td>Period</td><td>{{.From}} - {{.To}}</td></tr>
<tr><td>Sessions</td><td>{{.Sessions}}</td></tr>
<tr><td>Total energy</td><td>{{.Energy}} kWh</td></tr>
<tr><td>Total duration</td><td>{{.Duration}}</td></tr>
<tr><td>Attachments</td><td>{{.Attachments}}</td></tr>
</table>
</body></html>
`))

// ReportBody returns the plain text and HTML body of a report e-mail.
func ReportBody(s Summary) (string, string, error) {
	data := struct {
		Name, From, To, Energy, Duration, Attachments string
		Sessions                                      int
	}{
		Name:        s.InstallationName,
		From:        s.From.Format(time.DateOnly),
		To:          s.To.Format(time.DateOnly),
		Energy:      fmt.Sprintf("%.2f", s.Energy),
		Duration:    FormatDuration(s.Duration),
		Attachments: s.attachments(),
		Sessions:    s.Sessions,
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Charging report for %s\n\n", data.Name)
	fmt.Fprintf(&text, "Period: %s - %s\n", data.From, data.To)
	fmt.Fprintf(&text, "Sessions: %d\n", data.Sessions)
	fmt.Fprintf(&text, "Total energy: %s kWh\n", data.Energy)
	fmt.Fprintf(&text, "Total duration: %s\n", data.Duration)
	fmt.Fprintf(&text, "Attachments: %s\n", data.Attachments)

	var html bytes.Buffer
	if err := htmlBody.Execute(&html, data); err != nil {
		return "", "", fmt.Errorf("failed to render html body: %w", err)
	}
	return text.String(), html.String(), nil
}
