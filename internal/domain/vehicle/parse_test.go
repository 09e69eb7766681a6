package vehicle

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseCSVAliasesAndRowErrors(t *testing.T) {
	data := "\ufeffStart,End,km,energy_kwh,notes\n" +
		"2026-03-01 08:00:00,2026-03-01 09:00:00,42.5,7.1,commute\n" +
		"not-a-time,2026-03-01 09:00:00,10,,\n" +
		"2026-03-02T08:00:00Z,2026-03-02T08:30:00Z,abc,,\n" +
		"2026-03-03T08:00:00Z,2026-03-03T08:30:00Z,5,,\n"

	trips, rowErrs, err := ParseCSV(strings.NewReader(data))
	require.NoError(t, err)

	require.Len(t, trips, 2)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), trips[0].StartTime)
	assert.Equal(t, 42.5, trips[0].Distance)
	require.NotNil(t, trips[0].EnergyConsumed)
	assert.Equal(t, 7.1, *trips[0].EnergyConsumed)
	assert.Equal(t, "commute", trips[0].Notes)
	assert.Equal(t, 2, trips[0].Row)
	assert.Equal(t, 5, trips[1].Row)

	require.Len(t, rowErrs, 2)
	assert.Equal(t, 3, rowErrs[0].Row)
	assert.Contains(t, rowErrs[0].Message, "start_time")
	assert.Equal(t, 4, rowErrs[1].Row)
}

func TestParseCSVMissingColumn(t *testing.T) {
	_, _, err := ParseCSV(strings.NewReader("start_time,distance_km\n2026-03-01 08:00:00,4\n"))
	assert.ErrorIs(t, err, ErrInvalidFile)
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"start_time", "end_time", "distance_km", "start_lat", "start_lng"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"2026-03-01 08:00:00", "2026-03-01 09:00:00", "12.5", "43.2", "76.9"}))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	trips, rowErrs, err := ParseXLSX(buf)
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, trips, 1)
	assert.Equal(t, 12.5, trips[0].Distance)
	require.NotNil(t, trips[0].StartLocation)
	assert.Equal(t, 43.2, trips[0].StartLocation.Latitude)
}

func TestParseXLSXRejectsGarbage(t *testing.T) {
	_, _, err := ParseXLSX(strings.NewReader("not a workbook"))
	assert.ErrorIs(t, err, ErrInvalidFile)
}
