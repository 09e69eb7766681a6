package vehicle

import (
	"time"

	"github.com/shopspring/decimal"
)

// RegisterVehicleRequest is the body of POST /vehicles
type RegisterVehicleRequest struct {
	Make            string  `json:"make" validate:"required,max=50"`
	Model           string  `json:"model" validate:"required,max=50"`
	Year            int     `json:"year" validate:"required,gte=2000,lte=2100"`
	BatteryCapacity float64 `json:"battery_capacity" validate:"required,gte=10,lte=200"`
	LicensePlate    string  `json:"license_plate" validate:"required,max=20"`
	VIN             string  `json:"vin" validate:"omitempty,len=17"`
	Color           string  `json:"color" validate:"omitempty,max=30"`
}

// TripInput is one trip to record, from JSON or a parsed file row
type TripInput struct {
	StartTime      time.Time `json:"start_time" validate:"required"`
	EndTime        time.Time `json:"end_time" validate:"required"`
	Distance       float64   `json:"distance_km" validate:"gte=0.1,lte=10000"`
	EnergyConsumed *float64  `json:"energy_consumed_kwh,omitempty" validate:"omitempty,gte=0"`
	StartLocation  *Location `json:"start_location,omitempty"`
	EndLocation    *Location `json:"end_location,omitempty"`
	Notes          string    `json:"notes,omitempty" validate:"max=500"`

	// Row is the source file row, zero for JSON input.
	Row int `json:"-"`
}

// ImportTripsRequest is the JSON form of a trip import
type ImportTripsRequest struct {
	Trips []TripInput `json:"trips"`
}

// RowError reports a rejected import row
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// AddTripResult is returned by AddTrip
type AddTripResult struct {
	Trip        Trip        `json:"trip"`
	Calculation Calculation `json:"calculation"`
	Totals      Totals      `json:"vehicle_totals"`
}

// ImportResult is returned by ImportTrips
type ImportResult struct {
	Replayed   bool       `json:"-"`
	Message    string     `json:"message"`
	Imported   int        `json:"imported"`
	Duplicates int        `json:"duplicates"`
	Invalid    []RowError `json:"invalid,omitempty"`
	Totals     Totals     `json:"vehicle_totals"`
}

// ListTripsParams controls trip pagination
type ListTripsParams struct {
	Page  int
	Limit int
	// Sort is "start_time" (ascending) or "-start_time" (descending).
	Sort string
}

// TripPage is one page of trips
type TripPage struct {
	Trips []Trip `json:"trips"`
	Total int    `json:"-"`
	Page  int    `json:"-"`
	Limit int    `json:"-"`
}

// SavingsQuery selects the CO2 savings window
type SavingsQuery struct {
	Period string `validate:"omitempty,oneof=monthly yearly all"`
	Year   int    `validate:"omitempty,gte=2000,lte=2100"`
	Month  int    `validate:"omitempty,gte=1,lte=12"`
}

// SavingsStatistics aggregates trips in a window
type SavingsStatistics struct {
	TotalTrips           int     `json:"total_trips"`
	TotalDistance        float64 `json:"total_distance_km"`
	TotalCO2Saved        float64 `json:"total_co2_saved_kg"`
	GasolineEquivalentKg float64 `json:"gasoline_equivalent_kg"`
	ReductionPercentage  string  `json:"co2_reduction_percentage"`
	AvgDistancePerTrip   float64 `json:"avg_distance_per_trip_km"`
	AvgCO2PerTrip        float64 `json:"avg_co2_saved_per_trip_kg"`
}

// MonthSavings is one row of a yearly breakdown
type MonthSavings struct {
	Month      int     `json:"month"`
	MonthLabel string  `json:"month_label"`
	Trips      int     `json:"trips"`
	Distance   float64 `json:"distance_km"`
	CO2Saved   float64 `json:"co2_saved_kg"`
}

// SavingsReport is returned by CO2Savings
type SavingsReport struct {
	Period           string            `json:"period"`
	PeriodType       string            `json:"period_type"`
	VehicleID        string            `json:"vehicle_id"`
	Statistics       SavingsStatistics `json:"statistics"`
	MonthlyBreakdown []MonthSavings    `json:"monthly_breakdown,omitempty"`
	Lifetime         Totals            `json:"lifetime_totals"`
}

// GenerateCreditsRequest optionally limits the trips counted
type GenerateCreditsRequest struct {
	From           *time.Time `json:"from,omitempty"`
	To             *time.Time `json:"to,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

// GenerateCreditsResult is returned by GenerateCredits
type GenerateCreditsResult struct {
	Replayed        bool            `json:"replayed"`
	CreditRequestID string          `json:"credit_request_id,omitempty"`
	VehicleID       string          `json:"vehicle_id"`
	CO2Amount       decimal.Decimal `json:"co2_amount"`
	CreditsAmount   decimal.Decimal `json:"credits_amount"`
	TripsCount      int             `json:"trips_count"`
}
