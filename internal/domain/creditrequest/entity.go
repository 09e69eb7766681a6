package creditrequest

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status tracks the hand-off to verification
type Status string

const (
	StatusPending       Status = "pending"
	StatusForwarded     Status = "forwarded"
	StatusForwardFailed Status = "forward_failed"
)

// CreditRequest is a claim for credits awaiting verification
type CreditRequest struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	UserID         string          `db:"user_id" json:"userId"`
	VehicleID      sql.NullString  `db:"vehicle_id" json:"-"`
	CO2Amount      decimal.Decimal `db:"co2_amount" json:"co2Amount"`
	CreditsAmount  decimal.Decimal `db:"credits_amount" json:"creditsAmount"`
	IdempotencyKey sql.NullString  `db:"idempotency_key" json:"-"`
	Status         Status          `db:"status" json:"status"`
	VerificationID sql.NullString  `db:"verification_id" json:"-"`
	LastError      sql.NullString  `db:"last_error" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updatedAt"`
}

// CreditRequestResponse is the API shape of a CreditRequest
type CreditRequestResponse struct {
	ID             uuid.UUID       `json:"id"`
	UserID         string          `json:"userId"`
	VehicleID      string          `json:"vehicle_id,omitempty"`
	CO2Amount      decimal.Decimal `json:"co2Amount"`
	CreditsAmount  decimal.Decimal `json:"creditsAmount"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Status         Status          `json:"status"`
	VerificationID string          `json:"verification_id,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func ResponseFromEntity(cr *CreditRequest) *CreditRequestResponse {
	return &CreditRequestResponse{
		ID:             cr.ID,
		UserID:         cr.UserID,
		VehicleID:      cr.VehicleID.String,
		CO2Amount:      cr.CO2Amount,
		CreditsAmount:  cr.CreditsAmount,
		IdempotencyKey: cr.IdempotencyKey.String,
		Status:         cr.Status,
		VerificationID: cr.VerificationID.String,
		CreatedAt:      cr.CreatedAt,
	}
}

// CreateRequest is the body of POST /credits/request
type CreateRequest struct {
	UserID         string          `json:"userId" validate:"required,max=64"`
	VehicleID      string          `json:"vehicle_id" validate:"max=64"`
	CO2Amount      decimal.Decimal `json:"co2Amount" validate:"gt=0,decimal_scale=3"`
	CreditsAmount  decimal.Decimal `json:"creditsAmount" validate:"gt=0,decimal_scale=3"`
	TripsCount     int             `json:"trips_count" validate:"gte=0"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=256"`
	EmissionData   json.RawMessage `json:"emission_data,omitempty"`
	TripDetails    json.RawMessage `json:"trip_details,omitempty"`
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
