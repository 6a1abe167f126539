package types

import "time"

// ReportContext holds the values placeholders in a report are resolved against.
// Zero values mean the value is unknown.
type ReportContext struct {
	From             time.Time
	To               time.Time
	InstallationName string
	ExportedAt       time.Time
}

// Pricing holds the tariff used to compute costs.
type Pricing struct {
	CostPerKWH float64 `json:"costPerKwh"`
}

// Cost returns the cost of the given energy in kWh.
func (p Pricing) Cost(kwh float64) float64 {
	return kwh * p.CostPerKWH
}

// ReportInfo is the static metadata printed on the PDF summary.
type ReportInfo struct {
	Employee            string `json:"employee"`
	Address             string `json:"address"`
	VehicleLicensePlate string `json:"vehicleLicensePlate"`
	VehicleModel        string `json:"vehicleModel"`
}

// Delivery records that a report for a period was generated and sent.
type Delivery struct {
	RunID          string    `json:"runID" firestore:"runID"`
	InstallationID string    `json:"installationID" firestore:"installationID"`
	Period         string    `json:"period" firestore:"period"`
	From           time.Time `json:"from" firestore:"from"`
	To             time.Time `json:"to" firestore:"to"`
	SessionCount   int       `json:"sessionCount" firestore:"sessionCount"`
	TotalEnergyKWH float64   `json:"totalEnergyKWH" firestore:"totalEnergyKWH"`
	Attachments    []string  `json:"attachments" firestore:"attachments"`
	Recipients     []string  `json:"recipients" firestore:"recipients"`
	DeliveredAt    time.Time `json:"deliveredAt" firestore:"deliveredAt"`
}
