package wallet

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeMint     TransactionType = "MINT"
	TransactionTypeTransfer TransactionType = "TRANSFER"
	TransactionTypeBurn     TransactionType = "BURN"
)

type Wallet struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"user_id"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Transaction is one ledger row. A mint has no source wallet, a burn no
// destination.
type Transaction struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	FromWalletID uuid.NullUUID   `db:"from_wallet_id" json:"from_wallet_id"`
	ToWalletID   uuid.NullUUID   `db:"to_wallet_id" json:"to_wallet_id"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Type         TransactionType `db:"type" json:"type"`
	ReferenceID  sql.NullString  `db:"reference_id" json:"-"`
	Description  sql.NullString  `db:"description" json:"-"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Movement describes a single balance change. FromUserID is empty for a
// mint, ToUserID for a burn.
type Movement struct {
	Type        TransactionType
	FromUserID  string
	ToUserID    string
	Amount      decimal.Decimal
	Reference   string
	Description string
}

// Applied is the outcome of a movement. Replayed is set when the reference
// was already booked and nothing changed.
type Applied struct {
	Transaction *Transaction
	Replayed    bool
}

// Summary is the owner's view of a wallet
type Summary struct {
	Wallet      *Wallet            `json:"wallet"`
	TotalEarned decimal.Decimal    `json:"totalEarned"`
	TotalSpent  decimal.Decimal    `json:"totalSpent"`
	Incoming    []*TransactionView `json:"incoming"`
	Outgoing    []*TransactionView `json:"outgoing"`
}

// TransactionView flattens the nullable columns for JSON
type TransactionView struct {
	ID           uuid.UUID       `json:"id"`
	FromWalletID *uuid.UUID      `json:"from_wallet_id,omitempty"`
	ToWalletID   *uuid.UUID      `json:"to_wallet_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Type         TransactionType `json:"type"`
	ReferenceID  string          `json:"reference_id,omitempty"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func ViewFromEntity(t *Transaction) *TransactionView {
	v := &TransactionView{
		ID:          t.ID,
		Amount:      t.Amount,
		Type:        t.Type,
		ReferenceID: t.ReferenceID.String,
		Description: t.Description.String,
		CreatedAt:   t.CreatedAt,
	}
	if t.FromWalletID.Valid {
		id := t.FromWalletID.UUID
		v.FromWalletID = &id
	}
	if t.ToWalletID.Valid {
		id := t.ToWalletID.UUID
		v.ToWalletID = &id
	}
	return v
}

func views(items []*Transaction) []*TransactionView {
	out := make([]*TransactionView, len(items))
	for i, t := range items {
		out[i] = ViewFromEntity(t)
	}
	return out
}

// IssueCreditsRequest is the body of POST /wallet/credits/issue
type IssueCreditsRequest struct {
	UserID         string          `json:"user_id" validate:"required,max=64"`
	Amount         decimal.Decimal `json:"amount" validate:"gt=0,decimal_scale=3"`
	VerificationID string          `json:"verification_id" validate:"required,max=64"`
	CO2Amount      decimal.Decimal `json:"co2_amount"`
	Description    string          `json:"description" validate:"max=500"`
}

// TransferRequest is the body of POST /wallet/transfer
type TransferRequest struct {
	FromUserID  string          `json:"fromUserId" validate:"required,max=64"`
	ToUserID    string          `json:"toUserId" validate:"required,max=64"`
	Amount      decimal.Decimal `json:"amount" validate:"gt=0,decimal_scale=3"`
	Reference   string          `json:"reference" validate:"max=200"`
	Description string          `json:"description" validate:"max=500"`
}

// BurnRequest retires credits from the caller's wallet
type BurnRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"gt=0,decimal_scale=3"`
	Reference   string          `json:"reference" validate:"max=200"`
	Description string          `json:"description" validate:"max=500"`
}

// MutationResult answers issue and transfer calls
type MutationResult struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Balance       decimal.Decimal `json:"balance"`
	Replayed      bool            `json:"replayed,omitempty"`
}
