package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/transfer"
)

// StripeGateway talks to Stripe PaymentIntents and Transfers.
type StripeGateway struct {
	currency string
}

// NewStripeGateway sets the process-wide Stripe key.
func NewStripeGateway(secretKey, currency string) *StripeGateway {
	stripe.Key = secretKey
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeGateway{currency: strings.ToLower(currency)}
}

func (g *StripeGateway) Name() string { return ProviderStripe }

func (g *StripeGateway) cur(c string) string {
	if c == "" {
		return g.currency
	}
	return strings.ToLower(c)
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(MinorUnits(req.Amount)),
		Currency: stripe.String(g.cur(req.Currency)),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, err
	}
	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

func (g *StripeGateway) ConfirmIntent(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx

	pi, err := paymentintent.Confirm(intentID, params)
	if err != nil {
		return nil, err
	}
	return &Intent{ID: pi.ID, Status: string(pi.Status)}, nil
}

func (g *StripeGateway) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	if req.Destination == "" {
		return nil, errors.New("payout destination account is required")
	}
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(MinorUnits(req.Amount)),
		Currency:    stripe.String(g.cur(req.Currency)),
		Destination: stripe.String(req.Destination),
	}
	if req.Reference != "" {
		params.TransferGroup = stripe.String(req.Reference)
		params.SetIdempotencyKey(req.Reference)
	}
	params.Context = ctx

	tr, err := transfer.New(params)
	if err != nil {
		return nil, err
	}
	return &PayoutResult{TransferID: tr.ID}, nil
}

// New returns the mock gateway when mock mode is on or no key is configured.
func New(secretKey, currency string, mock bool) Gateway {
	if mock || secretKey == "" {
		return NewMockGateway()
	}
	return NewStripeGateway(secretKey, currency)
}
