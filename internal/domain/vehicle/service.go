package vehicle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/evcarbon/carbon-credit-api/internal/domain/idempotency"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/svcclient"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/validator"
)

const (
	maxUpdateAttempts = 3
	defaultTripLimit  = 20
	maxTripLimit      = 100
)

// CreditRequester submits a credit claim to the credit service
type CreditRequester interface {
	RequestCredits(ctx context.Context, p svcclient.CreditRequestPayload) (*svcclient.CreditRequestResult, error)
}

// KeyStore reserves idempotency keys ahead of side effects
type KeyStore interface {
	Reserve(ctx context.Context, aggregateID string, class idempotency.Class, key string) (idempotency.Reservation, error)
	Complete(ctx context.Context, aggregateID string, class idempotency.Class, key string) error
	Release(ctx context.Context, aggregateID string, class idempotency.Class, key string) error
}

// Service handles vehicle and trip ledger business logic
type Service struct {
	repo    Repository
	keys    KeyStore
	credits CreditRequester
	now     func() time.Time
}

// NewService creates vehicle service
func NewService(repo Repository, keys KeyStore, credits CreditRequester) *Service {
	return &Service{
		repo:    repo,
		keys:    keys,
		credits: credits,
		now:     time.Now,
	}
}

// RegisterVehicle creates a vehicle for ownerID
func (s *Service) RegisterVehicle(ctx context.Context, ownerID string, req *RegisterVehicleRequest) (*Vehicle, error) {
	now := s.now().UTC()
	v := &Vehicle{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Make:            strings.TrimSpace(req.Make),
		Model:           strings.TrimSpace(req.Model),
		Year:            req.Year,
		BatteryCapacity: req.BatteryCapacity,
		LicensePlate:    strings.ToUpper(strings.TrimSpace(req.LicensePlate)),
		VIN:             strings.ToUpper(strings.TrimSpace(req.VIN)),
		Color:           strings.TrimSpace(req.Color),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Create(ctx, v); err != nil {
		return nil, err
	}

	log.Info().Str("vehicle_id", v.ID).Str("user_id", ownerID).Str("plate", v.LicensePlate).Msg("Vehicle registered")
	return v, nil
}

// GetVehicle returns a vehicle owned by ownerID. Other owners get not found.
func (s *Service) GetVehicle(ctx context.Context, ownerID, vehicleID string) (*Vehicle, error) {
	v, err := s.repo.GetByID(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if !v.IsOwnedBy(ownerID) {
		return nil, ErrVehicleNotFound
	}
	return v, nil
}

// ListVehicles returns the owner's vehicles, newest first
func (s *Service) ListVehicles(ctx context.Context, ownerID string) ([]*Vehicle, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

func (s *Service) newTrip(in TripInput, now time.Time) (Trip, error) {
	if errs := validator.Validate(in); errs != nil {
		return Trip{}, ErrInvalidTrip.WithDetails(errs)
	}
	if !in.EndTime.After(in.StartTime) {
		return Trip{}, ErrInvalidTrip.WithDetails(map[string]string{"end_time": "end_time must be after start_time"})
	}

	return Trip{
		ID:             uuid.NewString(),
		StartTime:      in.StartTime.UTC(),
		EndTime:        in.EndTime.UTC(),
		Distance:       in.Distance,
		EnergyConsumed: in.EnergyConsumed,
		CO2Saved:       CO2SavedKg(in.Distance),
		StartLocation:  in.StartLocation,
		EndLocation:    in.EndLocation,
		Notes:          strings.TrimSpace(in.Notes),
		CreatedAt:      now,
	}, nil
}

// AddTrip records a single trip and returns the CO2 calculation
func (s *Service) AddTrip(ctx context.Context, ownerID, vehicleID string, in TripInput) (*AddTripResult, error) {
	trip, err := s.newTrip(in, s.now().UTC())
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		v, err := s.GetVehicle(ctx, ownerID, vehicleID)
		if err != nil {
			return nil, err
		}

		err = s.repo.AppendTrips(ctx, v, []Trip{trip}, nil)
		if errors.Is(err, ErrConcurrentUpdate) && attempt < maxUpdateAttempts {
			continue
		}
		if err != nil {
			return nil, err
		}

		return &AddTripResult{
			Trip:        trip,
			Calculation: calculate(trip.Distance),
			Totals:      v.Totals(),
		}, nil
	}
}

func replayedImport(v *Vehicle) *ImportResult {
	return &ImportResult{
		Replayed: true,
		Message:  "Import previously processed",
		Totals:   v.Totals(),
	}
}

// ImportTrips appends a batch of trips. Candidates matching an existing trip
// are skipped, invalid ones are reported back. A key that was already
// recorded turns the call into a no-op returning the current totals.
func (s *Service) ImportTrips(ctx context.Context, ownerID, vehicleID string, inputs []TripInput, rowErrs []RowError, key string) (*ImportResult, error) {
	if len(inputs) == 0 && len(rowErrs) == 0 {
		return nil, ErrNoTrips
	}

	v, err := s.GetVehicle(ctx, ownerID, vehicleID)
	if err != nil {
		return nil, err
	}
	if idempotency.HasProcessed(v.ImportKeys, key) {
		return replayedImport(v), nil
	}

	reservation, err := s.keys.Reserve(ctx, vehicleID, idempotency.ClassImport, key)
	if err != nil {
		return nil, err
	}
	switch reservation {
	case idempotency.AlreadyDone:
		return replayedImport(v), nil
	case idempotency.InFlight:
		return nil, ErrRequestInFlight
	}

	completed := false
	defer func() {
		if !completed {
			s.release(ctx, vehicleID, idempotency.ClassImport, key)
		}
	}()

	now := s.now().UTC()
	invalid := append([]RowError(nil), rowErrs...)
	var valid []Trip
	for i, in := range inputs {
		t, err := s.newTrip(in, now)
		if err != nil {
			row := in.Row
			if row == 0 {
				row = i + 1
			}
			invalid = append(invalid, RowError{Row: row, Message: describe(err)})
			continue
		}
		valid = append(valid, t)
	}

	if len(valid) == 0 {
		details := make(map[string]string, len(invalid))
		for _, e := range invalid {
			details[fmt.Sprintf("row_%d", e.Row)] = e.Message
		}
		return nil, ErrInvalidTrip.WithDetails(details)
	}

	for attempt := 1; ; attempt++ {
		var fresh []Trip
		duplicates := 0
		for _, t := range valid {
			if isDuplicate(v.Trips, t) || isDuplicate(fresh, t) {
				duplicates++
				continue
			}
			fresh = append(fresh, t)
		}

		var keys []idempotency.Entry
		if key != "" {
			keys = idempotency.RecordProcessed(v.ImportKeys, key, now)
		}

		if len(fresh) > 0 || keys != nil {
			err = s.repo.AppendTrips(ctx, v, fresh, keys)
			if errors.Is(err, ErrConcurrentUpdate) && attempt < maxUpdateAttempts {
				if v, err = s.GetVehicle(ctx, ownerID, vehicleID); err != nil {
					return nil, err
				}
				if idempotency.HasProcessed(v.ImportKeys, key) {
					return replayedImport(v), nil
				}
				continue
			}
			if err != nil {
				return nil, err
			}
		}

		if err := s.keys.Complete(ctx, vehicleID, idempotency.ClassImport, key); err != nil {
			log.Warn().Err(err).Str("vehicle_id", vehicleID).Msg("Failed to complete import key reservation")
		}
		completed = true

		log.Info().
			Str("vehicle_id", vehicleID).
			Int("imported", len(fresh)).
			Int("duplicates", duplicates).
			Int("invalid", len(invalid)).
			Msg("Trips imported")

		return &ImportResult{
			Message:    "Trips imported",
			Imported:   len(fresh),
			Duplicates: duplicates,
			Invalid:    invalid,
			Totals:     v.Totals(),
		}, nil
	}
}

func describe(err error) string {
	var msgs []string
	if ae, ok := apperr.As(err); ok && len(ae.Details) > 0 {
		for field, msg := range ae.Details {
			msgs = append(msgs, field+": "+msg)
		}
		sort.Strings(msgs)
		return strings.Join(msgs, "; ")
	}
	return err.Error()
}

// ListTrips returns one page of trips sorted by start time
func (s *Service) ListTrips(ctx context.Context, ownerID, vehicleID string, params ListTripsParams) (*TripPage, error) {
	v, err := s.GetVehicle(ctx, ownerID, vehicleID)
	if err != nil {
		return nil, err
	}

	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 {
		params.Limit = defaultTripLimit
	}
	if params.Limit > maxTripLimit {
		params.Limit = maxTripLimit
	}

	trips := make([]Trip, len(v.Trips))
	copy(trips, v.Trips)
	asc := params.Sort == "start_time"
	sort.SliceStable(trips, func(i, j int) bool {
		if asc {
			return trips[i].StartTime.Before(trips[j].StartTime)
		}
		return trips[i].StartTime.After(trips[j].StartTime)
	})

	start := (params.Page - 1) * params.Limit
	if start > len(trips) {
		start = len(trips)
	}
	end := start + params.Limit
	if end > len(trips) {
		end = len(trips)
	}

	return &TripPage{
		Trips: trips[start:end],
		Total: len(trips),
		Page:  params.Page,
		Limit: params.Limit,
	}, nil
}

// CO2Savings aggregates trips for a month, a year or all time
func (s *Service) CO2Savings(ctx context.Context, ownerID, vehicleID string, q SavingsQuery) (*SavingsReport, error) {
	if errs := validator.Validate(q); errs != nil {
		return nil, ErrInvalidRange.WithDetails(errs)
	}
	if q.Period == "" {
		q.Period = "all"
	}
	if q.Period == "monthly" && (q.Year == 0 || q.Month == 0) {
		return nil, ErrInvalidRange.WithDetails(map[string]string{"month": "year and month are required for monthly period"})
	}
	if q.Period == "yearly" && q.Year == 0 {
		return nil, ErrInvalidRange.WithDetails(map[string]string{"year": "year is required for yearly period"})
	}

	v, err := s.GetVehicle(ctx, ownerID, vehicleID)
	if err != nil {
		return nil, err
	}

	report := &SavingsReport{
		Period:     "All Time",
		PeriodType: q.Period,
		VehicleID:  v.ID,
		Lifetime:   v.Totals(),
	}

	trips := v.Trips
	switch q.Period {
	case "monthly":
		from := time.Date(q.Year, time.Month(q.Month), 1, 0, 0, 0, 0, time.UTC)
		trips = tripsBetween(v.Trips, from, from.AddDate(0, 1, 0))
		report.Period = fmt.Sprintf("%d-%02d", q.Year, q.Month)
	case "yearly":
		from := time.Date(q.Year, 1, 1, 0, 0, 0, 0, time.UTC)
		trips = tripsBetween(v.Trips, from, from.AddDate(1, 0, 0))
		report.Period = fmt.Sprintf("%d", q.Year)
		for m := 1; m <= 12; m++ {
			ms := time.Date(q.Year, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
			monthTrips := tripsBetween(trips, ms, ms.AddDate(0, 1, 0))
			dist, co2 := totals(monthTrips)
			report.MonthlyBreakdown = append(report.MonthlyBreakdown, MonthSavings{
				Month:      m,
				MonthLabel: fmt.Sprintf("%d-%02d", q.Year, m),
				Trips:      len(monthTrips),
				Distance:   round2(dist),
				CO2Saved:   round3(co2),
			})
		}
	}

	dist, co2 := totals(trips)
	gas := GasolineEquivalentKg(dist)
	stats := SavingsStatistics{
		TotalTrips:           len(trips),
		TotalDistance:        round2(dist),
		TotalCO2Saved:        round3(co2),
		GasolineEquivalentKg: gas,
		ReductionPercentage:  ReductionPercentage(co2, gas),
	}
	if len(trips) > 0 {
		stats.AvgDistancePerTrip = round2(dist / float64(len(trips)))
		stats.AvgCO2PerTrip = round3(co2 / float64(len(trips)))
	}
	report.Statistics = stats
	return report, nil
}

func tripsBetween(trips []Trip, from, to time.Time) []Trip {
	var out []Trip
	for _, t := range trips {
		if !t.StartTime.Before(from) && t.StartTime.Before(to) {
			out = append(out, t)
		}
	}
	return out
}

func totals(trips []Trip) (dist, co2 float64) {
	for _, t := range trips {
		dist += t.Distance
		co2 += t.CO2Saved
	}
	return dist, co2
}

// GenerateCredits turns the vehicle's saved CO2 into a credit request. With
// a key, the request reaches the credit service at most once: the key is
// reserved before the remote call and sent downstream as
// "<vehicle_id>:<key>" so the credit service dedups as well.
func (s *Service) GenerateCredits(ctx context.Context, ownerID, vehicleID string, req GenerateCreditsRequest) (*GenerateCreditsResult, error) {
	if req.From != nil && req.To != nil && req.From.After(*req.To) {
		return nil, ErrInvalidRange
	}

	v, err := s.GetVehicle(ctx, ownerID, vehicleID)
	if err != nil {
		return nil, err
	}

	co2, tripsCount := sumCO2(v.Trips, req.From, req.To)
	credits := CreditsFor(co2)
	result := &GenerateCreditsResult{
		VehicleID:     v.ID,
		CO2Amount:     co2,
		CreditsAmount: credits,
		TripsCount:    tripsCount,
	}

	key := req.IdempotencyKey
	if idempotency.HasProcessed(v.CreditRequestKeys, key) {
		result.Replayed = true
		return result, nil
	}

	reservation, err := s.keys.Reserve(ctx, vehicleID, idempotency.ClassCreditRequest, key)
	if err != nil {
		return nil, err
	}
	switch reservation {
	case idempotency.AlreadyDone:
		result.Replayed = true
		return result, nil
	case idempotency.InFlight:
		return nil, ErrRequestInFlight
	}

	if credits.LessThan(decimal.NewFromInt(1)) {
		s.release(ctx, vehicleID, idempotency.ClassCreditRequest, key)
		return nil, ErrInsufficientCO2.WithDetails(map[string]string{
			"co2_saved_kg": co2.StringFixed(3),
			"required_kg":  fmt.Sprintf("%d", KgPerCredit),
		})
	}

	downstreamKey := ""
	if key != "" {
		downstreamKey = vehicleID + ":" + key
	}

	out, err := s.credits.RequestCredits(ctx, svcclient.CreditRequestPayload{
		UserID:         v.OwnerID,
		VehicleID:      v.ID,
		CO2Amount:      co2,
		CreditsAmount:  credits,
		TripsCount:     tripsCount,
		IdempotencyKey: downstreamKey,
	})
	if err != nil {
		s.release(ctx, vehicleID, idempotency.ClassCreditRequest, key)
		return nil, fmt.Errorf("submit credit request: %w", err)
	}
	result.CreditRequestID = out.ID

	if key != "" {
		s.recordCreditKey(ctx, ownerID, v, key)
		if err := s.keys.Complete(ctx, vehicleID, idempotency.ClassCreditRequest, key); err != nil {
			log.Warn().Err(err).Str("vehicle_id", vehicleID).Msg("Failed to complete credit key reservation")
		}
	}

	log.Info().
		Str("vehicle_id", vehicleID).
		Str("credit_request_id", out.ID).
		Str("co2_kg", co2.String()).
		Str("credits", credits.String()).
		Bool("downstream_replay", out.Replayed).
		Msg("Credit request submitted")

	return result, nil
}

// recordCreditKey appends key to the embedded list. The request already
// reached the credit service, so failures here are logged and not returned;
// the Redis reservation and the downstream key still dedup retries.
func (s *Service) recordCreditKey(ctx context.Context, ownerID string, v *Vehicle, key string) {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		keys := idempotency.RecordProcessed(v.CreditRequestKeys, key, s.now().UTC())
		err := s.repo.SetKeys(ctx, v, idempotency.Prune(v.ImportKeys, s.now().UTC()), keys)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrConcurrentUpdate) {
			log.Error().Err(err).Str("vehicle_id", v.ID).Msg("Failed to record credit request key")
			return
		}
		fresh, err := s.GetVehicle(ctx, ownerID, v.ID)
		if err != nil {
			log.Error().Err(err).Str("vehicle_id", v.ID).Msg("Failed to reload vehicle for credit key")
			return
		}
		*v = *fresh
	}
	log.Error().Str("vehicle_id", v.ID).Msg("Gave up recording credit request key after concurrent updates")
}

// PruneKeys drops stale idempotency keys on every vehicle. It returns how
// many vehicles changed.
func (s *Service) PruneKeys(ctx context.Context) (int, error) {
	holders, err := s.repo.ListKeyHolders(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	changed := 0
	for _, v := range holders {
		imports := idempotency.Prune(v.ImportKeys, now)
		credits := idempotency.Prune(v.CreditRequestKeys, now)
		if len(imports) == len(v.ImportKeys) && len(credits) == len(v.CreditRequestKeys) {
			continue
		}
		if err := s.repo.SetKeys(ctx, v, imports, credits); err != nil {
			// a concurrent writer prunes on its own insert
			log.Warn().Err(err).Str("vehicle_id", v.ID).Msg("Skipped key prune")
			continue
		}
		changed++
	}

	log.Info().Int("vehicles", len(holders)).Int("pruned", changed).Msg("Idempotency key prune finished")
	return changed, nil
}

func (s *Service) release(ctx context.Context, vehicleID string, class idempotency.Class, key string) {
	if err := s.keys.Release(context.WithoutCancel(ctx), vehicleID, class, key); err != nil {
		log.Warn().Err(err).Str("vehicle_id", vehicleID).Str("class", string(class)).Msg("Failed to release idempotency key")
	}
}
