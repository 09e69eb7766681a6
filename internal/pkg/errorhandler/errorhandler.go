package errorhandler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/logger"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/response"
)

// HandleError logs err with the request context and writes the mapped error envelope.
// Client errors are logged at warn level, everything else at error level.
func HandleError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	status := response.StatusOf(err)

	l := logger.FromContext(ctx)
	var event *zerolog.Event
	if status >= http.StatusInternalServerError {
		event = l.Error()
	} else {
		event = l.Warn()
	}

	event = event.
		Str("request_id", logger.RequestID(ctx)).
		Str("operation", operation).
		Int("status_code", status).
		Err(err)

	if appErr, ok := apperr.As(err); ok {
		event = event.Str("error_code", appErr.Code).Str("error_kind", string(appErr.Kind))
		if appErr.Details != nil {
			event = event.Interface("error_details", appErr.Details)
		}
	}

	event.Msg("Request error")

	response.FromError(w, err)
}

// HandleValidation logs field errors and writes a 400 with details.
func HandleValidation(ctx context.Context, w http.ResponseWriter, fieldErrors map[string]string) {
	LogValidationError(ctx, fieldErrors)
	response.ErrorWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", fieldErrors)
}

// HandlePanicError logs a recovered panic with its stack trace and writes a 500.
func HandlePanicError(ctx context.Context, w http.ResponseWriter, panicErr interface{}, stackTrace string) {
	logger.FromContext(ctx).Error().
		Str("request_id", logger.RequestID(ctx)).
		Interface("panic_error", panicErr).
		Str("panic_stack", stackTrace).
		Msg("Request panic error")

	response.Error(w, http.StatusInternalServerError, "PANIC_ERROR", "Internal server panic")
}

// LogDatabaseError logs database errors with context
func LogDatabaseError(ctx context.Context, operation string, err error, query string) {
	logger.FromContext(ctx).Error().
		Str("request_id", logger.RequestID(ctx)).
		Str("operation", operation).
		Str("query", truncateString(query, 500)).
		Err(err).
		Msg("Database error")
}

// LogValidationError logs validation errors with details
func LogValidationError(ctx context.Context, fieldErrors map[string]string) {
	errJSON, _ := json.Marshal(fieldErrors)
	logger.FromContext(ctx).Warn().
		Str("request_id", logger.RequestID(ctx)).
		RawJSON("validation_errors", errJSON).
		Msg("Validation error")
}

// LogExternalServiceError logs errors from calls to other services
func LogExternalServiceError(ctx context.Context, service string, endpoint string, statusCode int, err error, body string) {
	logger.FromContext(ctx).Error().
		Str("request_id", logger.RequestID(ctx)).
		Str("external_service", service).
		Str("endpoint", endpoint).
		Int("status_code", statusCode).
		Bool("retryable", apperr.IsRetryable(err)).
		Err(err).
		Str("response_body", truncateString(body, 1000)).
		Msg("External service error")
}

func truncateString(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "...<truncated>"
	}
	return s
}
