package validator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type sampleRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Method string          `json:"method" validate:"required,withdrawal_method"`
	Notes  string          `json:"notes" validate:"max=5"`
}

func TestValidateUsesJSONNamesAndCustomTags(t *testing.T) {
	errs := Validate(sampleRequest{
		Amount: decimal.Zero,
		Method: "cash",
		Notes:  "too long",
	})

	assert.Contains(t, errs, "amount")
	assert.Contains(t, errs["method"], "bank_transfer")
	assert.Contains(t, errs, "notes")
}

func TestValidatePasses(t *testing.T) {
	errs := Validate(sampleRequest{
		Amount: decimal.NewFromFloat(10.5),
		Method: "bank_transfer",
	})
	assert.Nil(t, errs)
}

type scaledRequest struct {
	Credits decimal.Decimal `json:"credits" validate:"gt=0,decimal_scale=3"`
}

func TestDecimalScale(t *testing.T) {
	errs := Validate(&scaledRequest{Credits: decimal.RequireFromString("0.0004")})
	assert.Equal(t, "At most 3 decimal places allowed", errs["credits"])

	errs = Validate(&scaledRequest{Credits: decimal.RequireFromString("12.3456")})
	assert.Contains(t, errs, "credits")

	assert.Nil(t, Validate(&scaledRequest{Credits: decimal.RequireFromString("1.500")}))
	assert.Nil(t, Validate(scaledRequest{Credits: decimal.RequireFromString("7.125")}))
}
