package creditrequest

import "github.com/shopspring/decimal"

const (
	DefaultStartEmission  = 120.0 // g/km, gasoline reference
	DefaultTargetEmission = 20.0  // g/km, EV grid share
)

// CalculateRequest is the body of POST /calculate/co2
type CalculateRequest struct {
	Distance       *float64 `json:"distance"`
	StartEmission  *float64 `json:"startEmission,omitempty"`
	TargetEmission *float64 `json:"targetEmission,omitempty"`
}

// Calculation is the emission delta for a distance. One credit is one metric ton.
type Calculation struct {
	Distance       float64         `json:"distance"`
	StartEmission  float64         `json:"startEmission"`
	TargetEmission float64         `json:"targetEmission"`
	Grams          decimal.Decimal `json:"grams"`
	Kg             decimal.Decimal `json:"co2_reduced_kg"`
	Tons           decimal.Decimal `json:"tons"`
	Credits        decimal.Decimal `json:"credits"`
}

// CalculateCO2 converts distance in km and two emission factors in g/km into
// the CO2 avoided.
func CalculateCO2(req CalculateRequest) (*Calculation, error) {
	if req.Distance == nil || *req.Distance < 0 {
		return nil, ErrInvalidDistance
	}
	start, target := DefaultStartEmission, DefaultTargetEmission
	if req.StartEmission != nil {
		start = *req.StartEmission
	}
	if req.TargetEmission != nil {
		target = *req.TargetEmission
	}

	grams := decimal.NewFromFloat(start - target).Mul(decimal.NewFromFloat(*req.Distance))
	tons := grams.Div(decimal.NewFromInt(1_000_000))
	return &Calculation{
		Distance:       *req.Distance,
		StartEmission:  start,
		TargetEmission: target,
		Grams:          grams,
		Kg:             grams.Div(decimal.NewFromInt(1000)).Round(3),
		Tons:           tons,
		Credits:        tons,
	}, nil
}
