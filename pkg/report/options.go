package report

import (
	"fmt"
	"strings"
)

// Kind selects which API view a run fetches.
type Kind string

const (
	// KindSummary prints the per-user rollup. No documents are produced.
	KindSummary Kind = "summary"
	// KindDetailed fetches every session and renders documents from them.
	KindDetailed Kind = "detailed"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindDetailed, nil
	case KindSummary, KindDetailed:
		return k, nil
	}
	return "", fmt.Errorf("invalid report kind %q: expected summary or detailed", s)
}

// Format selects which documents a run renders.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
	FormatBoth Format = "both"
	FormatNone Format = "none"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatBoth, nil
	case "excel":
		return FormatXLSX, nil
	case FormatXLSX, FormatPDF, FormatBoth, FormatNone:
		return f, nil
	}
	return "", fmt.Errorf("invalid format %q: expected xlsx, pdf, both or none", s)
}

func (f Format) wantsXLSX() bool { return f == FormatXLSX || f == FormatBoth }
func (f Format) wantsPDF() bool  { return f == FormatPDF || f == FormatBoth }
