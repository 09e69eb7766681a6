package creditrequest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateCO2Defaults(t *testing.T) {
	d := 10000.0
	calc, err := CalculateCO2(CalculateRequest{Distance: &d})
	require.NoError(t, err)

	assert.Equal(t, "1000000", calc.Grams.String())
	assert.Equal(t, "1000", calc.Kg.String())
	assert.Equal(t, "1", calc.Tons.String())
	assert.Equal(t, "1", calc.Credits.String())
}

func TestCalculateCO2CustomFactors(t *testing.T) {
	d, start, target := 500.0, 150.0, 0.0
	calc, err := CalculateCO2(CalculateRequest{Distance: &d, StartEmission: &start, TargetEmission: &target})
	require.NoError(t, err)

	assert.Equal(t, "75", calc.Kg.String())
	assert.Equal(t, "0.075", calc.Tons.String())
}

func TestCalculateCO2RejectsNegative(t *testing.T) {
	d := -1.0
	_, err := CalculateCO2(CalculateRequest{Distance: &d})
	assert.ErrorIs(t, err, ErrInvalidDistance)

	_, err = CalculateCO2(CalculateRequest{})
	assert.ErrorIs(t, err, ErrInvalidDistance)
}
