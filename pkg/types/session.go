package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// apiTimeLayouts are tried in order when decoding timestamps from the Zaptec
// API. Most timestamps are sent without a zone and are kept as wall clock
// values in UTC.
var apiTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseAPITime parses a timestamp as returned by the Zaptec API.
func ParseAPITime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range apiTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, lastErr)
}

// ChargeSession is one completed charging event.
type ChargeSession struct {
	ID               string    `json:"Id"`
	DeviceID         string    `json:"DeviceId"`
	DeviceName       string    `json:"DeviceName"`
	StartDateTime    time.Time `json:"StartDateTime"`
	EndDateTime      time.Time `json:"EndDateTime"`
	Energy           float64   `json:"Energy"`
	UserID           string    `json:"UserId"`
	UserFullName     string    `json:"UserFullName"`
	UserEmail        string    `json:"UserEmail"`
	CommitMetadata   float64   `json:"CommitMetadata"`
	SignedSession    string    `json:"SignedSession"`
	ChargerID        string    `json:"ChargerId"`
	ChargerName      string    `json:"ChargerName"`
	InstallationID   string    `json:"InstallationId"`
	InstallationName string    `json:"InstallationName"`
}

// UnmarshalJSON decodes the zone-less timestamps the API sends.
func (s *ChargeSession) UnmarshalJSON(b []byte) error {
	type alias ChargeSession
	aux := struct {
		*alias
		StartDateTime string `json:"StartDateTime"`
		EndDateTime   string `json:"EndDateTime"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	var err error
	if aux.StartDateTime != "" {
		if s.StartDateTime, err = ParseAPITime(aux.StartDateTime); err != nil {
			return fmt.Errorf("StartDateTime: %w", err)
		}
	}
	if aux.EndDateTime != "" {
		if s.EndDateTime, err = ParseAPITime(aux.EndDateTime); err != nil {
			return fmt.Errorf("EndDateTime: %w", err)
		}
	}
	return nil
}

// Validate checks that the session ends after it starts and has non-negative
// energy.
func (s ChargeSession) Validate() error {
	if s.EndDateTime.Before(s.StartDateTime) {
		return fmt.Errorf("session %s ends (%s) before it starts (%s)", s.ID, s.EndDateTime.Format(time.DateTime), s.StartDateTime.Format(time.DateTime))
	}
	if s.Energy < 0 {
		return fmt.Errorf("session %s has negative energy %f", s.ID, s.Energy)
	}
	return nil
}

// Duration returns the time between start and end.
func (s ChargeSession) Duration() time.Duration {
	return s.EndDateTime.Sub(s.StartDateTime)
}

// FormatHoursMinutes formats d as zero padded hours and minutes, e.g. 02:30.
// Hours are not wrapped at 24.
func FormatHoursMinutes(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%02d:%02d", h, m)
}

// SortedByStart returns a copy of sessions ordered by ascending start time.
// Sessions with equal start times keep their relative order.
func SortedByStart(sessions []ChargeSession) []ChargeSession {
	sorted := make([]ChargeSession, len(sessions))
	copy(sorted, sessions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartDateTime.Before(sorted[j].StartDateTime)
	})
	return sorted
}

// TotalEnergy sums the energy of all sessions in kWh.
func TotalEnergy(sessions []ChargeSession) float64 {
	var total float64
	for _, s := range sessions {
		total += s.Energy
	}
	return total
}

// TotalDuration sums the duration of all sessions.
func TotalDuration(sessions []ChargeSession) time.Duration {
	var total time.Duration
	for _, s := range sessions {
		total += s.Duration()
	}
	return total
}

// ValidateSessions validates every session and joins the failures.
func ValidateSessions(sessions []ChargeSession) error {
	var errs []error
	for _, s := range sessions {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
