package vehicle

import (
	"time"

	"github.com/evcarbon/carbon-credit-api/internal/domain/idempotency"
)

// Location is a GPS point
type Location struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
}

// Trip is one recorded drive. Trips are immutable once appended.
type Trip struct {
	ID             string    `bson:"id" json:"id"`
	StartTime      time.Time `bson:"start_time" json:"start_time"`
	EndTime        time.Time `bson:"end_time" json:"end_time"`
	Distance       float64   `bson:"distance_km" json:"distance_km"`
	EnergyConsumed *float64  `bson:"energy_consumed_kwh,omitempty" json:"energy_consumed_kwh,omitempty"`
	CO2Saved       float64   `bson:"co2_saved_kg" json:"co2_saved_kg"`
	StartLocation  *Location `bson:"start_location,omitempty" json:"start_location,omitempty"`
	EndLocation    *Location `bson:"end_location,omitempty" json:"end_location,omitempty"`
	Notes          string    `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}

// Vehicle is the trip ledger aggregate
type Vehicle struct {
	ID              string    `bson:"_id" json:"id"`
	OwnerID         string    `bson:"user_id" json:"user_id"`
	Make            string    `bson:"make" json:"make"`
	Model           string    `bson:"model" json:"model"`
	Year            int       `bson:"year" json:"year"`
	BatteryCapacity float64   `bson:"battery_capacity" json:"battery_capacity"`
	LicensePlate    string    `bson:"license_plate" json:"license_plate"`
	VIN             string    `bson:"vin,omitempty" json:"vin,omitempty"`
	Color           string    `bson:"color,omitempty" json:"color,omitempty"`
	Trips           []Trip    `bson:"trips" json:"trips,omitempty"`
	TotalDistance   float64   `bson:"total_distance_km" json:"total_distance_km"`
	TotalCO2Saved   float64   `bson:"total_co2_saved_kg" json:"total_co2_saved_kg"`
	TripsCount      int       `bson:"trips_count" json:"trips_count"`

	ImportKeys        []idempotency.Entry `bson:"import_keys" json:"-"`
	CreditRequestKeys []idempotency.Entry `bson:"credit_request_keys" json:"-"`

	// Version guards read-modify-write of trips and key lists.
	Version   int64     `bson:"version" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Totals is the running summary returned after trip mutations
type Totals struct {
	TotalTrips    int     `json:"total_trips"`
	TotalDistance float64 `json:"total_distance_km"`
	TotalCO2Saved float64 `json:"total_co2_saved_kg"`
}

func (v *Vehicle) Totals() Totals {
	return Totals{
		TotalTrips:    v.TripsCount,
		TotalDistance: round2(v.TotalDistance),
		TotalCO2Saved: round3(v.TotalCO2Saved),
	}
}

// IsOwnedBy reports whether userID owns the vehicle
func (v *Vehicle) IsOwnedBy(userID string) bool {
	return v.OwnerID == userID
}
