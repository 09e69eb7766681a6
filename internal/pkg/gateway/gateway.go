// Package gateway abstracts the fiat payment provider used for escrow
// funding and withdrawal payouts.
package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Provider names
const (
	ProviderStripe = "stripe"
	ProviderMock   = "mock"
)

// Gateway defines what the payment service needs from a provider.
type Gateway interface {
	// CreateIntent starts collecting amount from a customer.
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)

	// ConfirmIntent confirms a previously created intent.
	ConfirmIntent(ctx context.Context, intentID string) (*Intent, error)

	// Payout sends amount to a connected account.
	Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)

	// Name returns the provider identifier
	Name() string
}

// IntentRequest is a standardized payment intent request
type IntentRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	Metadata    map[string]string
}

// Intent is a standardized payment intent
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

// PayoutRequest is a standardized payout request
type PayoutRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Destination string // provider account id
	Reference   string
}

// PayoutResult carries the provider's transfer id
type PayoutResult struct {
	TransferID string
}

// MinorUnits converts a decimal amount to the provider's integer minor units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// MockGateway succeeds every call with synthetic ids.
type MockGateway struct {
	now func() time.Time
}

func NewMockGateway() *MockGateway {
	return &MockGateway{now: time.Now}
}

func (m *MockGateway) Name() string { return ProviderMock }

func (m *MockGateway) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	id := "mock_pi_" + strconv.FormatInt(m.now().UnixMilli(), 10)
	return &Intent{ID: id, ClientSecret: id + "_secret", Status: "requires_confirmation"}, nil
}

func (m *MockGateway) ConfirmIntent(_ context.Context, intentID string) (*Intent, error) {
	if intentID == "" {
		return nil, fmt.Errorf("intent id is empty")
	}
	return &Intent{ID: intentID, Status: "succeeded"}, nil
}

func (m *MockGateway) Payout(_ context.Context, _ PayoutRequest) (*PayoutResult, error) {
	return &PayoutResult{TransferID: "mock_tr_" + strconv.FormatInt(m.now().UnixMilli(), 10)}, nil
}
