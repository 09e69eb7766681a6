package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/gateway"
)

const gatewayService = "payment-gateway"

var hundred = decimal.NewFromInt(100)

// Service handles payments, escrows and withdrawals
type Service struct {
	repo      Repository
	gateway   gateway.Gateway
	currency  string
	escrowFee decimal.Decimal
	now       func() time.Time
}

// NewService creates payment service
func NewService(repo Repository, gw gateway.Gateway, currency string) *Service {
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		repo:      repo,
		gateway:   gw,
		currency:  strings.ToLower(currency),
		escrowFee: DefaultEscrowFee,
		now:       time.Now,
	}
}

// SetDefaultEscrowFee overrides the fee percentage used when a request has none
func (s *Service) SetDefaultEscrowFee(pct float64) {
	if pct >= 0 && pct < 100 {
		s.escrowFee = decimal.NewFromFloat(pct)
	}
}

func (s *Service) cur(c string) string {
	if c == "" {
		return s.currency
	}
	return strings.ToLower(c)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// CreatePayment opens a gateway intent and records a pending payment
func (s *Service) CreatePayment(ctx context.Context, userID string, req *CreatePaymentRequest) (*PaymentResult, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	now := s.now().UTC()
	p := &Payment{
		ID:          uuid.New(),
		UserID:      userID,
		OrderID:     optional(req.OrderID),
		Type:        TypePayment,
		Amount:      req.Amount.Round(2),
		Currency:    s.cur(req.Currency),
		Status:      StatusPending,
		Provider:    s.gateway.Name(),
		Description: optional(req.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	secret, err := s.attachIntent(ctx, p, req.Description)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	log.Info().Str("payment_id", p.ID.String()).Str("user_id", userID).Str("amount", p.Amount.String()).Str("provider", p.Provider).Msg("Payment created")
	return &PaymentResult{Payment: p, ClientSecret: secret}, nil
}

func (s *Service) attachIntent(ctx context.Context, p *Payment, description string) (string, error) {
	intent, err := s.gateway.CreateIntent(ctx, gateway.IntentRequest{
		Amount:      p.Amount,
		Currency:    p.Currency,
		Description: description,
		Metadata:    map[string]string{"payment_id": p.ID.String(), "user_id": p.UserID},
	})
	if err != nil {
		return "", apperr.Retryable(gatewayService, err)
	}
	p.ExternalID = optional(intent.ID)
	p.ClientSecret = optional(intent.ClientSecret)
	return intent.ClientSecret, nil
}

// GetPayment returns a payment to its owner
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID, userID string, isAdmin bool) (*Payment, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID && !isAdmin {
		return nil, ErrPaymentNotFound
	}
	return p, nil
}

// ConfirmPayment confirms the gateway intent. A succeeded intent completes
// the payment and funds its escrow when there is one.
func (s *Service) ConfirmPayment(ctx context.Context, id uuid.UUID, userID string) (*Payment, error) {
	p, err := s.GetPayment(ctx, id, userID, false)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending && p.Status != StatusProcessing {
		return nil, ErrPaymentState
	}
	if p.ExternalID == nil {
		return nil, ErrPaymentState.WithDetails(map[string]string{"external_id": "payment has no gateway intent"})
	}

	intent, err := s.gateway.ConfirmIntent(ctx, *p.ExternalID)
	if err != nil {
		return nil, apperr.Retryable(gatewayService, err)
	}

	switch intent.Status {
	case "succeeded":
		if p.Type == TypeEscrow {
			e, err := s.repo.GetEscrowByPayment(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			if _, err := s.repo.TransitionEscrow(ctx, e.ID, []EscrowStatus{EscrowCreated}, EscrowFunded, StatusCompleted); err != nil {
				return nil, err
			}
			return s.repo.GetPayment(ctx, p.ID)
		}
		return s.repo.TransitionPayment(ctx, p.ID, []Status{StatusPending, StatusProcessing}, StatusCompleted)
	case "processing", "requires_action", "requires_confirmation":
		return s.repo.TransitionPayment(ctx, p.ID, []Status{StatusPending, StatusProcessing}, StatusProcessing)
	default:
		log.Warn().Str("payment_id", p.ID.String()).Str("intent_status", intent.Status).Msg("Payment intent not confirmed")
		return s.repo.TransitionPayment(ctx, p.ID, []Status{StatusPending, StatusProcessing}, StatusFailed)
	}
}

// CreateEscrow records a Payment + Escrow pair. fee_amount is
// amount × fee_percentage / 100, 2.5 unless configured otherwise.
func (s *Service) CreateEscrow(ctx context.Context, buyerID string, req *CreateEscrowRequest) (*EscrowResult, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.SellerID == buyerID {
		return nil, ErrSameParty
	}
	fee := s.escrowFee
	if req.FeePercentage.Valid {
		fee = req.FeePercentage.Decimal
	}
	if fee.IsNegative() || fee.GreaterThanOrEqual(hundred) {
		return nil, ErrInvalidFee
	}

	now := s.now().UTC()
	amount := req.Amount.Round(2)
	p := &Payment{
		ID:        uuid.New(),
		UserID:    buyerID,
		OrderID:   optional(req.OrderID),
		Type:      TypeEscrow,
		Amount:    amount,
		Currency:  s.cur(req.Currency),
		Status:    StatusPending,
		Provider:  s.gateway.Name(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	e := &Escrow{
		ID:            uuid.New(),
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		BuyerID:       buyerID,
		SellerID:      req.SellerID,
		Amount:        amount,
		FeePercentage: fee,
		FeeAmount:     amount.Mul(fee).Div(hundred).Round(2),
		Status:        EscrowCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var secret string
	if req.CreateIntent {
		var err error
		if secret, err = s.attachIntent(ctx, p, "Escrow "+e.ID.String()); err != nil {
			return nil, err
		}
	}

	if err := s.repo.CreateEscrow(ctx, p, e); err != nil {
		return nil, fmt.Errorf("create escrow: %w", err)
	}

	log.Info().
		Str("escrow_id", e.ID.String()).
		Str("buyer_id", buyerID).
		Str("seller_id", req.SellerID).
		Str("amount", amount.String()).
		Str("fee_amount", e.FeeAmount.String()).
		Msg("Escrow created")
	return &EscrowResult{Escrow: e, Payment: p, ClientSecret: secret}, nil
}

// GetEscrow returns an escrow to its buyer, seller or an admin
func (s *Service) GetEscrow(ctx context.Context, id uuid.UUID, userID string, isAdmin bool) (*Escrow, error) {
	e, err := s.repo.GetEscrow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !e.IsParticipant(userID) {
		return nil, ErrEscrowNotFound
	}
	return e, nil
}

// escrowMove describes who may trigger an escrow transition and from where
type escrowMove struct {
	name      string
	from      []EscrowStatus
	to        EscrowStatus
	paymentTo Status
	allowed   func(e *Escrow, userID string) bool
}

var (
	fundMove = escrowMove{
		name: "funded", from: []EscrowStatus{EscrowCreated}, to: EscrowFunded, paymentTo: StatusCompleted,
		allowed: func(e *Escrow, userID string) bool { return e.BuyerID == userID },
	}
	releaseMove = escrowMove{
		name: "released", from: []EscrowStatus{EscrowFunded}, to: EscrowReleased, paymentTo: StatusReleased,
		allowed: func(e *Escrow, userID string) bool { return e.BuyerID == userID },
	}
	refundMove = escrowMove{
		name: "refunded", from: []EscrowStatus{EscrowCreated, EscrowFunded}, to: EscrowRefunded, paymentTo: StatusRefunded,
		allowed: func(e *Escrow, userID string) bool { return e.SellerID == userID },
	}
	disputeMove = escrowMove{
		name: "disputed", from: []EscrowStatus{EscrowFunded}, to: EscrowDisputed,
		allowed: (*Escrow).IsParticipant,
	}
)

func (s *Service) moveEscrow(ctx context.Context, id uuid.UUID, userID string, isAdmin bool, m escrowMove) (*Escrow, error) {
	e, err := s.repo.GetEscrow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !m.allowed(e, userID) {
		return nil, ErrNotParticipant
	}

	updated, err := s.repo.TransitionEscrow(ctx, id, m.from, m.to, m.paymentTo)
	if err != nil {
		return nil, err
	}
	log.Info().Str("escrow_id", id.String()).Str("actor_id", userID).Msg("Escrow " + m.name)
	return updated, nil
}

// FundEscrow marks a created escrow as funded by its buyer
func (s *Service) FundEscrow(ctx context.Context, id uuid.UUID, userID string, isAdmin bool) (*Escrow, error) {
	return s.moveEscrow(ctx, id, userID, isAdmin, fundMove)
}

// ReleaseEscrow pays a funded escrow out to the seller
func (s *Service) ReleaseEscrow(ctx context.Context, id uuid.UUID, userID string, isAdmin bool) (*Escrow, error) {
	return s.moveEscrow(ctx, id, userID, isAdmin, releaseMove)
}

// RefundEscrow returns the money to the buyer
func (s *Service) RefundEscrow(ctx context.Context, id uuid.UUID, userID string, isAdmin bool) (*Escrow, error) {
	return s.moveEscrow(ctx, id, userID, isAdmin, refundMove)
}

// DisputeEscrow freezes a funded escrow
func (s *Service) DisputeEscrow(ctx context.Context, id uuid.UUID, userID string, isAdmin bool) (*Escrow, error) {
	return s.moveEscrow(ctx, id, userID, isAdmin, disputeMove)
}

// CreateWithdrawal records a pending payout request. Credit balances are not
// checked here; the amount is fiat.
func (s *Service) CreateWithdrawal(ctx context.Context, userID string, req *CreateWithdrawalRequest) (*Withdrawal, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	switch req.Method {
	case MethodBankTransfer, MethodStripe, MethodPayPal:
	default:
		return nil, ErrInvalidMethod
	}
	var details JSONRawMessage
	if len(req.AccountDetails) > 0 && string(req.AccountDetails) != "null" {
		var obj map[string]any
		if err := json.Unmarshal(req.AccountDetails, &obj); err != nil {
			return nil, ErrInvalidDetails
		}
		details = JSONRawMessage(req.AccountDetails)
	}

	now := s.now().UTC()
	amount := req.Amount.Round(2)
	fee := WithdrawalFee(req.Method, amount)
	w := &Withdrawal{
		ID:             uuid.New(),
		UserID:         userID,
		Amount:         amount,
		Fee:            fee,
		NetAmount:      amount.Sub(fee),
		Method:         req.Method,
		AccountDetails: details,
		Status:         WithdrawalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateWithdrawal(ctx, w); err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}

	log.Info().Str("withdrawal_id", w.ID.String()).Str("user_id", userID).Str("method", w.Method).Str("net_amount", w.NetAmount.String()).Msg("Withdrawal requested")
	return w, nil
}

// ProcessWithdrawal claims a pending withdrawal and pays it out. Stripe
// withdrawals go through the gateway; other methods get a mock transaction id.
func (s *Service) ProcessWithdrawal(ctx context.Context, id uuid.UUID) (*Withdrawal, error) {
	w, err := s.repo.TransitionWithdrawal(ctx, id, WithdrawalPending, WithdrawalProcessing)
	if err != nil {
		return nil, err
	}

	txID, payErr := s.payout(ctx, w)
	if payErr != nil {
		if _, err := s.repo.FailWithdrawal(ctx, id, payErr.Error()); err != nil {
			log.Error().Err(err).Str("withdrawal_id", id.String()).Msg("Failed to record withdrawal failure")
		}
		log.Error().Err(payErr).Str("withdrawal_id", id.String()).Msg("Withdrawal payout failed")
		return nil, payErr
	}

	done, err := s.repo.CompleteWithdrawal(ctx, id, txID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("withdrawal_id", id.String()).Str("transaction_id", txID).Msg("Withdrawal completed")
	return done, nil
}

func (s *Service) payout(ctx context.Context, w *Withdrawal) (string, error) {
	if w.Method != MethodStripe {
		return "mock_tr_" + strconv.FormatInt(s.now().UnixMilli(), 10), nil
	}

	var dest payoutAccount
	if len(w.AccountDetails) > 0 {
		_ = json.Unmarshal(w.AccountDetails, &dest)
	}
	if dest.AccountID == "" && s.gateway.Name() == gateway.ProviderStripe {
		return "", ErrPayoutDestination
	}

	out, err := s.gateway.Payout(ctx, gateway.PayoutRequest{
		Amount:      w.NetAmount,
		Currency:    s.currency,
		Destination: dest.AccountID,
		Reference:   "withdrawal:" + w.ID.String(),
	})
	if err != nil {
		return "", apperr.Fatal(gatewayService, err)
	}
	return out.TransferID, nil
}

// CancelWithdrawal cancels a pending withdrawal of the caller
func (s *Service) CancelWithdrawal(ctx context.Context, id uuid.UUID, userID string, isAdmin bool) (*Withdrawal, error) {
	w, err := s.repo.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.UserID != userID && !isAdmin {
		return nil, ErrWithdrawalNotFound
	}
	return s.repo.TransitionWithdrawal(ctx, id, WithdrawalPending, WithdrawalCancelled)
}

// History lists the user's payments and withdrawals, newest first
func (s *Service) History(ctx context.Context, userID string, page, limit int) (*History, error) {
	offset := (page - 1) * limit
	payments, err := s.repo.ListPayments(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	withdrawals, err := s.repo.ListWithdrawals(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &History{Payments: payments, Withdrawals: withdrawals}, nil
}
