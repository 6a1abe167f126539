package report

import (
	"fmt"
	"strings"
	"time"
)

const (
	CurrentMonth = "current-month"
	LastMonth    = "last-month"

	periodLayout = "2006-01"
)

// Period is a date range a report covers. Key identifies the month it belongs
// to and is what deliveries are recorded under.
type Period struct {
	Key  string
	From time.Time
	To   time.Time
}

func (p Period) String() string {
	return fmt.Sprintf("%s (%s - %s)", p.Key, p.From.Format(time.DateOnly), p.To.Format(time.DateOnly))
}

// MonthPeriod covers a whole calendar month.
func MonthPeriod(year int, month time.Month, loc *time.Location) Period {
	from := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return Period{
		Key:  from.Format(periodLayout),
		From: from,
		To:   from.AddDate(0, 1, -1),
	}
}

// PreviousMonth is the last complete month before now.
func PreviousMonth(now time.Time) Period {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	prev := first.AddDate(0, -1, 0)
	return MonthPeriod(prev.Year(), prev.Month(), now.Location())
}

// ParsePeriod understands current-month (1st of the month up to today),
// last-month and YYYY-MM. An empty string means last-month.
func ParsePeriod(s string, now time.Time) (Period, error) {
	switch s = strings.TrimSpace(strings.ToLower(s)); s {
	case "", LastMonth:
		return PreviousMonth(now), nil
	case CurrentMonth:
		from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return Period{
			Key:  from.Format(periodLayout),
			From: from,
			To:   time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
		}, nil
	}
	t, err := time.ParseInLocation(periodLayout, s, now.Location())
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: expected %s, %s or YYYY-MM", s, CurrentMonth, LastMonth)
	}
	return MonthPeriod(t.Year(), t.Month(), now.Location()), nil
}
