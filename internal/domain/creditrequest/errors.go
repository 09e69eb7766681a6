package creditrequest

import "github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"

var (
	ErrNotFound        = apperr.NotFound("CREDIT_REQUEST_NOT_FOUND", "Credit request not found")
	ErrInvalidDistance = apperr.Validation("INVALID_DISTANCE", "distance must be a positive number")
)
