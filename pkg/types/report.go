package types

import "time"

// InstallationReport is the per-user rollup the API computes for a period.
type InstallationReport struct {
	InstallationName            string             `json:"InstallationName"`
	InstallationAddress         string             `json:"InstallationAddress"`
	InstallationZipCode         string             `json:"InstallationZipCode"`
	InstallationCity            string             `json:"InstallationCity"`
	InstallationTimeZone        string             `json:"InstallationTimeZone"`
	GroupedBy                   string             `json:"GroupedBy"`
	FromDate                    string             `json:"FromDate"`
	EndDate                     string             `json:"EndDate"`
	TotalUserChargerReportModel []UserChargeReport `json:"TotalUserChargerReportModel"`
}

// UserChargeReport is the rollup of one user.
type UserChargeReport struct {
	GroupAsString              string       `json:"GroupAsString"`
	UserDetails                *UserDetails `json:"UserDetails"`
	TotalChargeSessionCount    float64      `json:"TotalChargeSessionCount"`
	TotalChargeSessionEnergy   float64      `json:"TotalChargeSessionEnergy"`
	TotalChargeSessionDuration float64      `json:"TotalChargeSessionDuration"`
}

// UserDetails identifies the user a rollup belongs to.
type UserDetails struct {
	ID       string `json:"Id"`
	Email    string `json:"Email"`
	FullName string `json:"FullName"`
}

// ReportTotals is the sum of all user rollups in a report.
type ReportTotals struct {
	Sessions float64
	Energy   float64
	Duration time.Duration
}

// Totals sums the rollups of every user.
func (r InstallationReport) Totals() ReportTotals {
	var t ReportTotals
	var seconds float64
	for _, u := range r.TotalUserChargerReportModel {
		t.Sessions += u.TotalChargeSessionCount
		t.Energy += u.TotalChargeSessionEnergy
		seconds += u.TotalChargeSessionDuration
	}
	t.Duration = time.Duration(seconds * float64(time.Second))
	return t
}

// Name returns the user's full name or a fallback when the API omitted it.
func (u UserChargeReport) Name() string {
	if u.UserDetails == nil || u.UserDetails.FullName == "" {
		return "Unknown"
	}
	return u.UserDetails.FullName
}
