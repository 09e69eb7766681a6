package vehicle

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// CO2SavedPerKm is the kg of CO2 an EV saves per km against a gasoline car.
	CO2SavedPerKm = 0.10
	// GasolineBaselinePerKm is a gasoline car's kg of CO2 per km.
	GasolineBaselinePerKm = 0.12
	// KgPerCredit: one credit is one metric ton.
	KgPerCredit = 1000

	MinTripDistance = 0.1
	MaxTripDistance = 10000

	duplicateStartWindow    = time.Second
	duplicateDistanceWindow = 0.001
)

func round3(x float64) float64 { return math.Round(x*1000) / 1000 }
func round2(x float64) float64 { return math.Round(x*100) / 100 }

// CO2SavedKg returns the CO2 saved for distance km, rounded to 3 decimals.
func CO2SavedKg(distance float64) float64 {
	return round3(distance * CO2SavedPerKm)
}

// GasolineEquivalentKg is what a gasoline car would have emitted.
func GasolineEquivalentKg(distance float64) float64 {
	return round3(distance * GasolineBaselinePerKm)
}

// ReductionPercentage formats saved/gasoline as "83.33%".
func ReductionPercentage(saved, gasoline float64) string {
	if gasoline <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", saved/gasoline*100)
}

// CreditsFor returns whole credits for kg of CO2.
func CreditsFor(kg decimal.Decimal) decimal.Decimal {
	return kg.Div(decimal.NewFromInt(KgPerCredit)).Floor()
}

// Formula describes the calculation for API responses.
func Formula(distance, saved float64) string {
	return fmt.Sprintf("CO2_saved = %.2f kg/km × %g km = %.3f kg", CO2SavedPerKm, distance, saved)
}

// Calculation is the per-trip breakdown returned by AddTrip
type Calculation struct {
	Distance             float64 `json:"distance_km"`
	CO2Saved             float64 `json:"co2_saved_kg"`
	GasolineEquivalentKg float64 `json:"gasoline_equivalent_kg"`
	ReductionPercentage  string  `json:"co2_reduction_percentage"`
	Formula              string  `json:"formula"`
}

func calculate(distance float64) Calculation {
	saved := CO2SavedKg(distance)
	gas := GasolineEquivalentKg(distance)
	return Calculation{
		Distance:             distance,
		CO2Saved:             saved,
		GasolineEquivalentKg: gas,
		ReductionPercentage:  ReductionPercentage(saved, gas),
		Formula:              Formula(distance, saved),
	}
}

// isDuplicate matches a candidate against existing trips: start within one
// second and distance within a meter.
func isDuplicate(existing []Trip, c Trip) bool {
	for _, t := range existing {
		dt := t.StartTime.Sub(c.StartTime)
		if dt < 0 {
			dt = -dt
		}
		if dt <= duplicateStartWindow && math.Abs(t.Distance-c.Distance) <= duplicateDistanceWindow {
			return true
		}
	}
	return false
}

// sumCO2 totals co2 over trips whose start falls in [from, to]. Nil bounds are open.
func sumCO2(trips []Trip, from, to *time.Time) (decimal.Decimal, int) {
	total := decimal.Zero
	n := 0
	for _, t := range trips {
		if from != nil && t.StartTime.Before(*from) {
			continue
		}
		if to != nil && t.StartTime.After(*to) {
			continue
		}
		total = total.Add(decimal.NewFromFloat(t.CO2Saved))
		n++
	}
	return total.Round(3), n
}
