package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	now := time.Date(2025, time.March, 15, 10, 30, 0, 0, time.UTC)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		in   string
		now  time.Time
		key  string
		from time.Time
		to   time.Time
	}{
		{"last-month", now, "2025-02", day(2025, 2, 1), day(2025, 2, 28)},
		{"", now, "2025-02", day(2025, 2, 1), day(2025, 2, 28)},
		{"current-month", now, "2025-03", day(2025, 3, 1), day(2025, 3, 15)},
		{"2024-02", now, "2024-02", day(2024, 2, 1), day(2024, 2, 29)},
		{"2024-12", now, "2024-12", day(2024, 12, 1), day(2024, 12, 31)},
		{"last-month", time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC), "2024-12", day(2024, 12, 1), day(2024, 12, 31)},
		{"LAST-MONTH", time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC), "2025-04", day(2025, 4, 1), day(2025, 4, 30)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePeriod(tt.in, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.key, p.Key)
			assert.Equal(t, tt.from, p.From)
			assert.Equal(t, tt.to, p.To)
		})
	}

	t.Run("Invalid", func(t *testing.T) {
		for _, in := range []string{"2025-13", "March", "2025/02"} {
			_, err := ParsePeriod(in, now)
			assert.Error(t, err, in)
		}
	})
}

func TestPeriodString(t *testing.T) {
	p := MonthPeriod(2025, time.February, time.UTC)
	assert.Equal(t, "2025-02 (2025-02-01 - 2025-02-28)", p.String())
}

func TestParseKindFormat(t *testing.T) {
	k, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindDetailed, k)
	k, err = ParseKind("Summary")
	require.NoError(t, err)
	assert.Equal(t, KindSummary, k)
	_, err = ParseKind("weekly")
	assert.Error(t, err)

	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatBoth, f)
	f, err = ParseFormat("excel")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
	f, err = ParseFormat("PDF")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)
	_, err = ParseFormat("docx")
	assert.Error(t, err)

	assert.True(t, FormatBoth.wantsXLSX())
	assert.True(t, FormatBoth.wantsPDF())
	assert.False(t, FormatPDF.wantsXLSX())
	assert.False(t, FormatNone.wantsPDF())
}
