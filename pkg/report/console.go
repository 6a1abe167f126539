package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chargereport/chargereport/pkg/mailer"
	"github.com/chargereport/chargereport/pkg/types"
)

var rule = strings.Repeat("-", 65)

func printInstallationReport(w io.Writer, r types.InstallationReport) {
	fmt.Fprintf(w, "\nInstallation: %s\n", r.InstallationName)
	fmt.Fprintf(w, "Address: %s, %s %s\n", r.InstallationAddress, r.InstallationZipCode, r.InstallationCity)
	fmt.Fprintf(w, "Time Zone: %s\n", r.InstallationTimeZone)
	fmt.Fprintf(w, "Report Period: %s to %s\n", reportDate(r.FromDate), reportDate(r.EndDate))
	fmt.Fprintf(w, "\nUser Charge Sessions:\n%s\n", rule)

	if len(r.TotalUserChargerReportModel) == 0 {
		fmt.Fprintln(w, "No charge sessions found in this period.")
		return
	}
	for _, u := range r.TotalUserChargerReportModel {
		email := "N/A"
		if u.UserDetails != nil && u.UserDetails.Email != "" {
			email = u.UserDetails.Email
		}
		fmt.Fprintf(w, "\nUser: %s (%s)\n", u.Name(), email)
		fmt.Fprintf(w, "  Sessions: %g\n", u.TotalChargeSessionCount)
		fmt.Fprintf(w, "  Energy: %.2f kWh\n", u.TotalChargeSessionEnergy)
		fmt.Fprintf(w, "  Duration: %s\n", mailer.FormatDuration(seconds(u.TotalChargeSessionDuration)))
	}

	t := r.Totals()
	fmt.Fprintf(w, "\n%s\n", rule)
	fmt.Fprintf(w, "Total Sessions: %g\n", t.Sessions)
	fmt.Fprintf(w, "Total Energy: %.2f kWh\n", t.Energy)
	fmt.Fprintf(w, "Total Duration: %s\n", mailer.FormatDuration(t.Duration))
}

func printSessions(w io.Writer, sessions []types.ChargeSession) {
	fmt.Fprintf(w, "\nFound %d charge session(s)\n%s\n", len(sessions), rule)
	for _, s := range sessions {
		fmt.Fprintf(w, "Session: %s\n", s.ID)
		fmt.Fprintf(w, "  User: %s (%s)\n", s.UserFullName, s.UserEmail)
		fmt.Fprintf(w, "  Charger: %s (%s)\n", s.ChargerName, s.DeviceName)
		fmt.Fprintf(w, "  Start: %s\n", s.StartDateTime.Format(time.DateTime))
		fmt.Fprintf(w, "  End: %s\n", s.EndDateTime.Format(time.DateTime))
		fmt.Fprintf(w, "  Duration: %s\n", mailer.FormatDuration(s.Duration()))
		fmt.Fprintf(w, "  Energy: %.2f kWh\n", s.Energy)
		fmt.Fprintln(w, rule)
	}
	fmt.Fprintf(w, "\nTotal Sessions: %d\n", len(sessions))
	fmt.Fprintf(w, "Total Energy: %.2f kWh\n", types.TotalEnergy(sessions))
	fmt.Fprintf(w, "Total Duration: %s\n", mailer.FormatDuration(types.TotalDuration(sessions)))
}

// reportDate trims the time part the API appends to report dates.
func reportDate(s string) string {
	if t, err := types.ParseAPITime(s); err == nil {
		return t.Format(time.DateOnly)
	}
	return s
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
