package verification

import "github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"

var (
	ErrNotFound            = apperr.NotFound("VERIFICATION_NOT_FOUND", "Verification not found")
	ErrCertificateNotFound = apperr.NotFound("CERTIFICATE_NOT_FOUND", "Certificate not found")
	ErrAlreadyProcessed    = apperr.Conflict("VERIFICATION_ALREADY_PROCESSED", "Verification already processed")
	ErrCommentRequired     = apperr.Validation("COMMENT_REQUIRED", "A rejection comment is required")
	ErrInvalidCredits      = apperr.Validation("INVALID_CREDITS_AMOUNT", "credits_amount must be positive with at most 3 decimal places")
	ErrForbidden           = apperr.Forbidden("FORBIDDEN", "Not allowed to access this certificate")
)
