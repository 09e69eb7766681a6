package vehicle

import "github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"

var (
	ErrVehicleNotFound  = apperr.NotFound("VEHICLE_NOT_FOUND", "Vehicle not found")
	ErrDuplicatePlate   = apperr.Conflict("LICENSE_PLATE_EXISTS", "License plate already registered")
	ErrInvalidTrip      = apperr.Validation("INVALID_TRIP", "Trip is invalid")
	ErrNoTrips          = apperr.Validation("NO_TRIPS", "No trips supplied")
	ErrInvalidFile      = apperr.Validation("INVALID_FILE", "Trip file could not be parsed")
	ErrInvalidRange     = apperr.Validation("INVALID_RANGE", "from must be before to")
	ErrInsufficientCO2  = apperr.InsufficientResource("INSUFFICIENT_CO2", "Not enough CO2 saved to generate a credit")
	ErrRequestInFlight  = apperr.Conflict("REQUEST_IN_PROGRESS", "A request with this idempotency key is in progress")
	ErrConcurrentUpdate = apperr.Conflict("CONCURRENT_UPDATE", "Vehicle was modified concurrently, retry the request")
)
