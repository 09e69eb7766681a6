package svcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

const userAgent = "carbon-credit-api/1.0"

// Upstream paths, relative to each service's base URL.
const (
	PathCreditRequest = "/api/v1/credits/request"
	PathVerify        = "/api/v1/credits/verify"
	PathWalletIssue   = "/api/v1/wallet/credits/issue"
	PathWalletXfer    = "/api/v1/wallet/transfer"
)

// CreditRequestPayload is the claim the trip ledger sends to the credit service.
type CreditRequestPayload struct {
	UserID         string          `json:"userId"`
	VehicleID      string          `json:"vehicle_id"`
	CO2Amount      decimal.Decimal `json:"co2Amount"`
	CreditsAmount  decimal.Decimal `json:"creditsAmount"`
	TripsCount     int             `json:"trips_count,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// CreditRequestResult is the stored credit request echoed back.
type CreditRequestResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	// Replayed is true when the credit service answered 200 for a known key.
	Replayed bool `json:"-"`
}

// CreditClient calls the credit request service.
type CreditClient struct{ c *Client }

func NewCreditClient(baseURL, token string, timeout time.Duration) *CreditClient {
	return &CreditClient{c: NewClient("credit-service", baseURL, token, timeout, userAgent)}
}

func (cc *CreditClient) RequestCredits(ctx context.Context, p CreditRequestPayload) (*CreditRequestResult, error) {
	var out CreditRequestResult
	status, err := cc.c.PostJSON(ctx, PathCreditRequest, p, &out)
	if err != nil {
		return nil, err
	}
	out.Replayed = status == http.StatusOK
	return &out, nil
}

// VerificationPayload is the claim forwarded for third-party verification.
type VerificationPayload struct {
	CreditRequestID string          `json:"credit_request_id,omitempty"`
	UserID          string          `json:"user_id"`
	VehicleID       string          `json:"vehicle_id"`
	CO2Amount       decimal.Decimal `json:"co2_amount"`
	TripsCount      int             `json:"trips_count"`
	EmissionData    json.RawMessage `json:"emission_data,omitempty"`
	TripDetails     json.RawMessage `json:"trip_details,omitempty"`
}

// VerificationResult is the pending verification created upstream.
type VerificationResult struct {
	VerificationID string          `json:"verification_id"`
	Status         string          `json:"status"`
	CO2Amount      decimal.Decimal `json:"co2_amount"`
}

// VerificationClient calls the verification service.
type VerificationClient struct{ c *Client }

func NewVerificationClient(baseURL, token string, timeout time.Duration) *VerificationClient {
	return &VerificationClient{c: NewClient("verification-service", baseURL, token, timeout, userAgent)}
}

func (vc *VerificationClient) Submit(ctx context.Context, p VerificationPayload) (*VerificationResult, error) {
	var out VerificationResult
	if _, err := vc.c.PostJSON(ctx, PathVerify, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IssueCreditsPayload asks the wallet service to mint verified credits.
type IssueCreditsPayload struct {
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	VerificationID string          `json:"verification_id"`
	CO2Amount      decimal.Decimal `json:"co2_amount"`
	Description    string          `json:"description"`
}

// TransferPayload moves credits between two users' wallets. Reference makes
// the transfer idempotent on the wallet side.
type TransferPayload struct {
	FromUserID  string          `json:"fromUserId"`
	ToUserID    string          `json:"toUserId"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference,omitempty"`
	Description string          `json:"description,omitempty"`
}

// WalletMutation is the wallet service's answer to issue and transfer calls.
type WalletMutation struct {
	TransactionID string          `json:"transaction_id"`
	Balance       decimal.Decimal `json:"balance"`
}

// WalletClient calls the wallet service.
type WalletClient struct{ c *Client }

func NewWalletClient(baseURL, token string, timeout time.Duration) *WalletClient {
	return &WalletClient{c: NewClient("wallet-service", baseURL, token, timeout, userAgent)}
}

func (wc *WalletClient) IssueCredits(ctx context.Context, p IssueCreditsPayload) (*WalletMutation, error) {
	var out WalletMutation
	if _, err := wc.c.PostJSON(ctx, PathWalletIssue, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (wc *WalletClient) Transfer(ctx context.Context, p TransferPayload) (*WalletMutation, error) {
	var out WalletMutation
	if _, err := wc.c.PostJSON(ctx, PathWalletXfer, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
