package verification

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the verification lifecycle state
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// WalletStatus tells whether a certificate's credits reached the wallet
type WalletStatus string

const (
	WalletIssued  WalletStatus = "issued"
	WalletPending WalletStatus = "pending_issue"
)

// Verification is a credit claim under auditor review
type Verification struct {
	ID              uuid.UUID           `db:"id" json:"id"`
	CreditRequestID uuid.NullUUID       `db:"credit_request_id" json:"credit_request_id"`
	UserID          string              `db:"user_id" json:"user_id"`
	VehicleID       string              `db:"vehicle_id" json:"vehicle_id"`
	CO2Amount       decimal.Decimal     `db:"co2_amount" json:"co2_amount"`
	TripsCount      int                 `db:"trips_count" json:"trips_count"`
	EmissionData    *json.RawMessage    `db:"emission_data" json:"emission_data,omitempty"`
	TripDetails     *json.RawMessage    `db:"trip_details" json:"trip_details,omitempty"`
	Status          Status              `db:"status" json:"status"`
	CVAID           sql.NullString      `db:"cva_id" json:"-"`
	CreditsIssued   decimal.NullDecimal `db:"credits_issued" json:"credits_issued"`
	Notes           sql.NullString      `db:"notes" json:"-"`
	RejectionReason sql.NullString      `db:"rejection_reason" json:"-"`
	ReviewedAt      sql.NullTime        `db:"reviewed_at" json:"-"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// Certificate is the proof of an approval, issued whether or not the
// credits reached the wallet yet
type Certificate struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	UserID            string          `db:"user_id" json:"user_id"`
	VerificationID    uuid.UUID       `db:"verification_id" json:"verification_id"`
	CertificateNumber string          `db:"certificate_number" json:"certificate_number"`
	CO2Amount         decimal.Decimal `db:"co2_amount" json:"co2_amount"`
	CreditsAmount     decimal.Decimal `db:"credits_amount" json:"credits_amount"`
	IssuedBy          string          `db:"issued_by" json:"issued_by"`
	WalletStatus      WalletStatus    `db:"wallet_status" json:"wallet_status"`
	DocumentKey       sql.NullString  `db:"document_key" json:"-"`
	IssuedAt          time.Time       `db:"issued_at" json:"issued_at"`
}

// SubmitRequest is the body of POST /credits/verify
type SubmitRequest struct {
	CreditRequestID string          `json:"credit_request_id" validate:"omitempty,uuid"`
	UserID          string          `json:"user_id" validate:"required,max=64"`
	VehicleID       string          `json:"vehicle_id" validate:"required,max=64"`
	CO2Amount       decimal.Decimal `json:"co2_amount" validate:"gt=0,decimal_scale=3"`
	TripsCount      int             `json:"trips_count" validate:"gte=0"`
	EmissionData    json.RawMessage `json:"emission_data,omitempty"`
	TripDetails     json.RawMessage `json:"trip_details,omitempty"`
}

// SubmitResult is returned to the submitter
type SubmitResult struct {
	VerificationID uuid.UUID       `json:"verification_id"`
	Status         Status          `json:"status"`
	CO2Amount      decimal.Decimal `json:"co2_amount"`
	SubmittedAt    time.Time       `json:"submitted_at"`
}

// ApproveRequest is the body of POST /verification/approve
type ApproveRequest struct {
	VerificationID string              `json:"verification_id" validate:"required,uuid"`
	CVAID          string              `json:"cva_id"`
	Notes          string              `json:"notes" validate:"max=2000"`
	CreditsAmount  decimal.NullDecimal `json:"credits_amount"`
}

// ApproveResult reports the approval and whether the wallet accepted the mint
type ApproveResult struct {
	VerificationID    uuid.UUID       `json:"verification_id"`
	Status            Status          `json:"status"`
	CreditsIssued     decimal.Decimal `json:"credits_issued"`
	CertificateID     uuid.UUID       `json:"certificate_id"`
	CertificateNumber string          `json:"certificate_number"`
	WalletSuccess     bool            `json:"wallet_success"`
}

// RejectRequest is the body of POST /verification/reject
type RejectRequest struct {
	VerificationID string `json:"verification_id" validate:"required,uuid"`
	CVAID          string `json:"cva_id"`
	Comment        string `json:"comment" validate:"max=2000"`
}

// RejectResult reports a rejection
type RejectResult struct {
	VerificationID uuid.UUID `json:"verification_id"`
	Status         Status    `json:"status"`
	ReviewedAt     time.Time `json:"reviewed_at"`
}

// IssueJob is the outbox payload for a wallet issuance that failed at approval
type IssueJob struct {
	CertificateID  uuid.UUID       `json:"certificate_id"`
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	VerificationID uuid.UUID       `json:"verification_id"`
	CO2Amount      decimal.Decimal `json:"co2_amount"`
	Description    string          `json:"description"`
}
