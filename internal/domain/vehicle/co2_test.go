package vehicle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCO2SavedKg(t *testing.T) {
	assert.Equal(t, 1000.0, CO2SavedKg(10000))
	assert.Equal(t, 4.25, CO2SavedKg(42.5))
	assert.Equal(t, 0.012, CO2SavedKg(0.123))
}

func TestCreditsForFloorsToWholeTons(t *testing.T) {
	cases := map[string]int64{
		"999.999":  0,
		"1000":     1,
		"1000.000": 1,
		"2999.5":   2,
	}
	for kg, want := range cases {
		got := CreditsFor(decimal.RequireFromString(kg))
		assert.True(t, decimal.NewFromInt(want).Equal(got), "kg=%s got=%s", kg, got)
	}
}

func TestCalculate(t *testing.T) {
	c := calculate(100)

	assert.Equal(t, 10.0, c.CO2Saved)
	assert.Equal(t, 12.0, c.GasolineEquivalentKg)
	assert.Equal(t, "83.33%", c.ReductionPercentage)
	assert.Contains(t, c.Formula, "10.000 kg")
}

func TestSumCO2Bounds(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }
	trips := []Trip{
		{StartTime: day(1), CO2Saved: 1.5},
		{StartTime: day(10), CO2Saved: 2.25},
		{StartTime: day(20), CO2Saved: 4},
	}

	total, n := sumCO2(trips, nil, nil)
	assert.Equal(t, "7.75", total.String())
	assert.Equal(t, 3, n)

	from, to := day(10), day(20)
	total, n = sumCO2(trips, &from, &to)
	assert.Equal(t, "6.25", total.String())
	assert.Equal(t, 2, n)
}

func TestIsDuplicate(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	existing := []Trip{{StartTime: start, Distance: 12.3}}

	assert.True(t, isDuplicate(existing, Trip{StartTime: start.Add(time.Second), Distance: 12.3}))
	assert.False(t, isDuplicate(existing, Trip{StartTime: start.Add(2 * time.Second), Distance: 12.3}))
	assert.False(t, isDuplicate(existing, Trip{StartTime: start, Distance: 12.4}))
}
