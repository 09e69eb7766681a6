package payment

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents payment status
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusReleased   Status = "released"
	StatusRefunded   Status = "refunded"
)

// Type separates plain payments from escrow-backed ones
type Type string

const (
	TypePayment Type = "payment"
	TypeEscrow  Type = "escrow"
)

type EscrowStatus string

const (
	EscrowCreated  EscrowStatus = "created"
	EscrowFunded   EscrowStatus = "funded"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
	EscrowDisputed EscrowStatus = "disputed"
)

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
	WithdrawalCancelled  WithdrawalStatus = "cancelled"
)

// Withdrawal methods
const (
	MethodBankTransfer = "bank_transfer"
	MethodStripe       = "stripe"
	MethodPayPal       = "paypal"
)

var (
	DefaultEscrowFee    = decimal.RequireFromString("2.5")
	bankTransferFeeRate = decimal.RequireFromString("0.02")
	otherFeeRate        = decimal.RequireFromString("0.03")
)

// JSONRawMessage handles NULL json fields from DB
type JSONRawMessage []byte

func (j *JSONRawMessage) Scan(src any) error {
	if src == nil {
		*j = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = []byte(v)
	default:
		return fmt.Errorf("unsupported type: %T", src)
	}
	return nil
}

func (j JSONRawMessage) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

func (j JSONRawMessage) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// Payment is money collected from a user, directly or into escrow
type Payment struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	UserID       string          `db:"user_id" json:"user_id"`
	OrderID      *string         `db:"order_id" json:"order_id,omitempty"`
	Type         Type            `db:"type" json:"type"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Currency     string          `db:"currency" json:"currency"`
	Status       Status          `db:"status" json:"status"`
	Provider     string          `db:"provider" json:"provider"`
	ExternalID   *string         `db:"external_id" json:"external_id,omitempty"`
	ClientSecret *string         `db:"client_secret" json:"-"`
	Description  *string         `db:"description" json:"description,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Escrow holds a buyer's payment until it is released to the seller
type Escrow struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	PaymentID     uuid.UUID       `db:"payment_id" json:"payment_id"`
	OrderID       *string         `db:"order_id" json:"order_id,omitempty"`
	BuyerID       string          `db:"buyer_id" json:"buyer_id"`
	SellerID      string          `db:"seller_id" json:"seller_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	FeePercentage decimal.Decimal `db:"fee_percentage" json:"fee_percentage"`
	FeeAmount     decimal.Decimal `db:"fee_amount" json:"fee_amount"`
	Status        EscrowStatus    `db:"status" json:"status"`
	ReleasedAt    *time.Time      `db:"released_at" json:"released_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// IsParticipant reports whether userID is the buyer or the seller
func (e *Escrow) IsParticipant(userID string) bool {
	return e.BuyerID == userID || e.SellerID == userID
}

type Withdrawal struct {
	ID             uuid.UUID        `db:"id" json:"id"`
	UserID         string           `db:"user_id" json:"user_id"`
	Amount         decimal.Decimal  `db:"amount" json:"amount"`
	Fee            decimal.Decimal  `db:"fee" json:"fee"`
	NetAmount      decimal.Decimal  `db:"net_amount" json:"net_amount"`
	Method         string           `db:"method" json:"method"`
	AccountDetails JSONRawMessage   `db:"account_details" json:"account_details,omitempty"`
	Status         WithdrawalStatus `db:"status" json:"status"`
	TransactionID  *string          `db:"transaction_id" json:"transaction_id,omitempty"`
	FailureReason  *string          `db:"failure_reason" json:"failure_reason,omitempty"`
	ProcessedAt    *time.Time       `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// payoutAccount is the part of account_details a Stripe payout needs
type payoutAccount struct {
	AccountID string `json:"account_id"`
}

// WithdrawalFee is 2% for bank transfers and 3% for everything else
func WithdrawalFee(method string, amount decimal.Decimal) decimal.Decimal {
	rate := otherFeeRate
	if method == MethodBankTransfer {
		rate = bankTransferFeeRate
	}
	return amount.Mul(rate).Round(2)
}

// ===== Requests / results =====

type CreatePaymentRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"gt=0,decimal_scale=2"`
	Currency    string          `json:"currency" validate:"payment_currency"`
	OrderID     string          `json:"order_id" validate:"omitempty,max=100"`
	Description string          `json:"description" validate:"omitempty,max=500"`
}

type CreateEscrowRequest struct {
	SellerID      string              `json:"seller_id" validate:"required"`
	Amount        decimal.Decimal     `json:"amount" validate:"gt=0,decimal_scale=2"`
	FeePercentage decimal.NullDecimal `json:"fee_percentage"`
	OrderID       string              `json:"order_id" validate:"omitempty,max=100"`
	Currency      string              `json:"currency" validate:"payment_currency"`
	CreateIntent  bool                `json:"create_intent"`
}

type CreateWithdrawalRequest struct {
	Amount         decimal.Decimal `json:"amount" validate:"gt=0,decimal_scale=2"`
	Method         string          `json:"method" validate:"required,withdrawal_method"`
	AccountDetails json.RawMessage `json:"account_details"`
}

type ProcessWithdrawalRequest struct {
	WithdrawalID string `json:"withdrawal_id" validate:"required,uuid"`
}

type ProcessWithdrawalResponse struct {
	WithdrawalID  uuid.UUID        `json:"withdrawal_id"`
	Status        WithdrawalStatus `json:"status"`
	TransactionID *string          `json:"transaction_id,omitempty"`
	ProcessedAt   *time.Time       `json:"processed_at,omitempty"`
}

// PaymentResult carries the client secret only on creation
type PaymentResult struct {
	Payment      *Payment `json:"payment"`
	ClientSecret string   `json:"client_secret,omitempty"`
}

type EscrowResult struct {
	Escrow       *Escrow  `json:"escrow"`
	Payment      *Payment `json:"payment"`
	ClientSecret string   `json:"client_secret,omitempty"`
}

type History struct {
	Payments    []*Payment    `json:"payments"`
	Withdrawals []*Withdrawal `json:"withdrawals"`
}
