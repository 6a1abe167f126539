package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chargereport/chargereport/pkg/types"
)

const (
	dateFormat     = "dd.mm.yyyy"
	dateTimeFormat = "dd.mm.yyyy hh:mm"
	decimalFormat  = "0.00"

	// Go layouts matching dateFormat and dateTimeFormat for text substitution
	dateLayout     = "02.01.2006"
	dateTimeLayout = "02.01.2006 15:04"
)

// renderContext is everything a placeholder can resolve against.
type renderContext struct {
	types.ReportContext
	SessionCount  int
	TotalEnergy   float64
	TotalDuration time.Duration
}

func newRenderContext(rc types.ReportContext, sessions []types.ChargeSession) renderContext {
	if rc.ExportedAt.IsZero() {
		rc.ExportedAt = time.Now()
	}
	return renderContext{
		ReportContext: rc,
		SessionCount:  len(sessions),
		TotalEnergy:   types.TotalEnergy(sessions),
		TotalDuration: types.TotalDuration(sessions),
	}
}

// placeholder resolves one key. value returns the typed cell value, nil when
// the context has nothing for it, and text returns the string used when the
// key is embedded in longer text. numFmt is applied when the whole cell is
// replaced.
type placeholder struct {
	aliases []string
	value   func(renderContext) any
	text    func(renderContext) string
	numFmt  string
}

// placeholders maps every recognized key to its resolver. Keys and aliases
// are matched case-insensitively, as {{KEY}} in cell text and as the bare
// key for workbook-level named ranges.
var placeholders = map[string]placeholder{
	"EXPORT_DATE": {
		aliases: []string{"EXPORTDATE", "EXPORTED_AT"},
		value:   func(rc renderContext) any { return rc.ExportedAt },
		text:    func(rc renderContext) string { return rc.ExportedAt.Format(dateTimeLayout) },
		numFmt:  dateTimeFormat,
	},
	"FROM_DATE": {
		aliases: []string{"FROMDATE", "START_DATE"},
		value:   func(rc renderContext) any { return optionalTime(rc.From) },
		text:    func(rc renderContext) string { return formatDate(rc.From) },
		numFmt:  dateFormat,
	},
	"TO_DATE": {
		aliases: []string{"TODATE", "END_DATE"},
		value:   func(rc renderContext) any { return optionalTime(rc.To) },
		text:    func(rc renderContext) string { return formatDate(rc.To) },
		numFmt:  dateFormat,
	},
	"DATE_RANGE": {
		aliases: []string{"DATERANGE", "PERIOD"},
		value:   func(rc renderContext) any { return dateRange(rc) },
		text:    dateRange,
	},
	"INSTALLATION_NAME": {
		aliases: []string{"INSTALLATIONNAME", "INSTALLATION"},
		value:   func(rc renderContext) any { return rc.InstallationName },
		text:    func(rc renderContext) string { return rc.InstallationName },
	},
	"SESSION_COUNT": {
		aliases: []string{"SESSIONCOUNT", "SESSIONS"},
		value:   func(rc renderContext) any { return rc.SessionCount },
		text:    func(rc renderContext) string { return strconv.Itoa(rc.SessionCount) },
	},
	"TOTAL_ENERGY": {
		aliases: []string{"TOTALENERGY", "TOTAL_KWH"},
		value:   func(rc renderContext) any { return round2(rc.TotalEnergy) },
		text:    func(rc renderContext) string { return fmt.Sprintf("%.2f", rc.TotalEnergy) },
		numFmt:  decimalFormat,
	},
	"TOTAL_DURATION": {
		aliases: []string{"TOTALDURATION", "TOTAL_HOURS"},
		value:   func(rc renderContext) any { return round2(rc.TotalDuration.Hours()) },
		text:    func(rc renderContext) string { return fmt.Sprintf("%.2f", rc.TotalDuration.Hours()) },
		numFmt:  decimalFormat,
	},
}

// placeholderIndex maps every upper-cased key and alias to its canonical key.
var placeholderIndex = func() map[string]string {
	idx := make(map[string]string, len(placeholders)*3)
	for key, p := range placeholders {
		idx[key] = key
		for _, alias := range p.aliases {
			idx[strings.ToUpper(alias)] = key
		}
	}
	return idx
}()

// lookupName resolves a bare key or alias.
func lookupName(name string) (string, placeholder, bool) {
	key, ok := placeholderIndex[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return "", placeholder{}, false
	}
	return key, placeholders[key], true
}

// lookupTag resolves text that is exactly one {{KEY}} tag.
func lookupTag(text string) (string, placeholder, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{{") || !strings.HasSuffix(text, "}}") {
		return "", placeholder{}, false
	}
	return lookupName(text[2 : len(text)-2])
}

// substituteTags replaces every recognized {{KEY}} tag inside text and
// leaves everything else, including unknown tags, untouched.
func substituteTags(text string, rc renderContext) (string, bool) {
	var b strings.Builder
	var changed bool
	rest := text
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start+2:], "}}")
		if end < 0 {
			break
		}
		end += start + 2
		b.WriteString(rest[:start])
		if _, p, ok := lookupName(rest[start+2 : end]); ok {
			b.WriteString(p.text(rc))
			changed = true
			rest = rest[end+2:]
			continue
		}
		// keep the unknown opening braces and rescan after them so a known
		// tag nested in unknown text is still found
		b.WriteString("{{")
		rest = rest[start+2:]
	}
	b.WriteString(rest)
	return b.String(), changed
}

func optionalTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func dateRange(rc renderContext) string {
	from, to := formatDate(rc.From), formatDate(rc.To)
	switch {
	case from == "" && to == "":
		return ""
	case to == "":
		return from
	case from == "":
		return to
	}
	return from + " to " + to
}

func round2(f float64) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(f, 'f', 2, 64), 64)
	return v
}
