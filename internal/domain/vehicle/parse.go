package vehicle

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// header aliases accepted in trip files
var columnAliases = map[string][]string{
	"start_time": {"start_time", "start", "starttime"},
	"end_time":   {"end_time", "end", "endtime"},
	"distance":   {"distance_km", "distance", "km"},
	"energy":     {"energy_consumed", "energy_consumed_kwh", "energy_kwh"},
	"notes":      {"notes", "comment"},
	"start_lat":  {"start_lat"},
	"start_long": {"start_long", "start_lng"},
	"end_lat":    {"end_lat"},
	"end_long":   {"end_long", "end_lng"},
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04",
}

// ParseCSV reads trips from a delimited file with a header row.
func ParseCSV(r io.Reader) ([]TripInput, []RowError, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	return rowsToTrips(records)
}

// ParseXLSX reads trips from the first sheet of a workbook.
func ParseXLSX(r io.Reader) ([]TripInput, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidFile)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	return rowsToTrips(rows)
}

func rowsToTrips(rows [][]string) ([]TripInput, []RowError, error) {
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%w: file is empty", ErrInvalidFile)
	}

	index := headerIndex(rows[0])
	for _, required := range []string{"start_time", "end_time", "distance"} {
		if _, ok := index[required]; !ok {
			return nil, nil, fmt.Errorf("%w: missing %s column", ErrInvalidFile, required)
		}
	}

	var trips []TripInput
	var rowErrs []RowError
	for i, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		rowNum := i + 2 // 1-based, after header
		t, err := rowToTrip(index, row)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: rowNum, Message: err.Error()})
			continue
		}
		t.Row = rowNum
		trips = append(trips, t)
	}
	return trips, rowErrs, nil
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int)
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		for canonical, aliases := range columnAliases {
			if _, seen := idx[canonical]; seen {
				continue
			}
			for _, a := range aliases {
				if name == a {
					idx[canonical] = i
				}
			}
		}
	}
	return idx
}

func cell(index map[string]int, row []string, col string) string {
	i, ok := index[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func rowToTrip(index map[string]int, row []string) (TripInput, error) {
	var t TripInput
	var err error

	if t.StartTime, err = parseTime(cell(index, row, "start_time")); err != nil {
		return t, fmt.Errorf("start_time: %w", err)
	}
	if t.EndTime, err = parseTime(cell(index, row, "end_time")); err != nil {
		return t, fmt.Errorf("end_time: %w", err)
	}
	if t.Distance, err = strconv.ParseFloat(cell(index, row, "distance"), 64); err != nil {
		return t, errors.New("distance_km: not a number")
	}
	if v := cell(index, row, "energy"); v != "" {
		e, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return t, errors.New("energy_consumed: not a number")
		}
		t.EnergyConsumed = &e
	}
	t.StartLocation = parseLocation(cell(index, row, "start_lat"), cell(index, row, "start_long"))
	t.EndLocation = parseLocation(cell(index, row, "end_lat"), cell(index, row, "end_long"))
	t.Notes = cell(index, row, "notes")
	return t, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func parseLocation(lat, long string) *Location {
	if lat == "" || long == "" {
		return nil
	}
	la, err1 := strconv.ParseFloat(lat, 64)
	lo, err2 := strconv.ParseFloat(long, 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	return &Location{Latitude: la, Longitude: lo}
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
