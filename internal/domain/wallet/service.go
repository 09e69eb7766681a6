package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/evcarbon/carbon-credit-api/internal/pkg/metrics"
)

const (
	summaryListLimit = 20
	// amountScale matches the NUMERIC(20,3) ledger columns
	amountScale = 3
)

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(amountScale)) {
		return ErrAmountPrecision
	}
	return nil
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateWallet returns the user's wallet, creating an empty one if needed
func (s *Service) CreateWallet(ctx context.Context, userID string) (*Wallet, error) {
	return s.repo.GetOrCreate(ctx, userID)
}

// GetWallet returns balance, lifetime totals and the latest movements
func (s *Service) GetWallet(ctx context.Context, userID string) (*Summary, error) {
	w, err := s.repo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	earned, spent, err := s.repo.Totals(ctx, w.ID)
	if err != nil {
		return nil, fmt.Errorf("wallet totals: %w", err)
	}
	incoming, err := s.repo.ListIncoming(ctx, w.ID, summaryListLimit)
	if err != nil {
		return nil, err
	}
	outgoing, err := s.repo.ListOutgoing(ctx, w.ID, summaryListLimit)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Wallet:      w,
		TotalEarned: earned,
		TotalSpent:  spent,
		Incoming:    views(incoming),
		Outgoing:    views(outgoing),
	}, nil
}

// Mint creates credits in the user's wallet
func (s *Service) Mint(ctx context.Context, userID string, amount decimal.Decimal, reference, description string) (*MutationResult, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	applied, err := s.repo.Apply(ctx, Movement{
		Type:        TransactionTypeMint,
		ToUserID:    userID,
		Amount:      amount,
		Reference:   reference,
		Description: description,
	})
	if err != nil {
		return nil, err
	}
	if !applied.Replayed {
		f, _ := amount.Float64()
		metrics.CreditsMinted.Add(f)
		log.Info().Str("user_id", userID).Str("amount", amount.String()).Str("reference_id", reference).Msg("credits minted")
	}
	return s.result(ctx, userID, applied)
}

// IssueCredits mints credits for an approved verification. The
// verification id is the reference, so a retried issue mints once.
func (s *Service) IssueCredits(ctx context.Context, req *IssueCreditsRequest) (*MutationResult, error) {
	desc := req.Description
	if desc == "" {
		desc = fmt.Sprintf("Carbon credits for %skg CO2 reduction", req.CO2Amount.String())
	}
	return s.Mint(ctx, req.UserID, req.Amount, req.VerificationID, desc)
}

// Transfer moves credits between two users. On InsufficientBalance neither
// balance changes.
func (s *Service) Transfer(ctx context.Context, req *TransferRequest) (*MutationResult, error) {
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.FromUserID == req.ToUserID {
		return nil, ErrSameWallet
	}

	applied, err := s.repo.Apply(ctx, Movement{
		Type:        TransactionTypeTransfer,
		FromUserID:  req.FromUserID,
		ToUserID:    req.ToUserID,
		Amount:      req.Amount,
		Reference:   req.Reference,
		Description: req.Description,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			metrics.CreditTransfers.WithLabelValues("insufficient").Inc()
		default:
			metrics.CreditTransfers.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	if applied.Replayed {
		metrics.CreditTransfers.WithLabelValues("replayed").Inc()
	} else {
		metrics.CreditTransfers.WithLabelValues("success").Inc()
		log.Info().
			Str("from_user_id", req.FromUserID).
			Str("to_user_id", req.ToUserID).
			Str("amount", req.Amount.String()).
			Str("reference_id", req.Reference).
			Msg("credits transferred")
	}
	return s.result(ctx, req.FromUserID, applied)
}

// Burn retires credits from the user's wallet
func (s *Service) Burn(ctx context.Context, userID string, req *BurnRequest) (*MutationResult, error) {
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	applied, err := s.repo.Apply(ctx, Movement{
		Type:        TransactionTypeBurn,
		FromUserID:  userID,
		Amount:      req.Amount,
		Reference:   req.Reference,
		Description: req.Description,
	})
	if err != nil {
		return nil, err
	}
	if !applied.Replayed {
		log.Info().Str("user_id", userID).Str("amount", req.Amount.String()).Msg("credits burned")
	}
	return s.result(ctx, userID, applied)
}

// ListTransactions pages through every movement touching the user's wallet
func (s *Service) ListTransactions(ctx context.Context, userID string, page, limit int) ([]*TransactionView, int, error) {
	w, err := s.repo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	items, total, err := s.repo.ListTransactions(ctx, w.ID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	return views(items), total, nil
}

func (s *Service) result(ctx context.Context, userID string, applied *Applied) (*MutationResult, error) {
	w, err := s.repo.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &MutationResult{
		TransactionID: applied.Transaction.ID,
		Balance:       w.Balance,
		Replayed:      applied.Replayed,
	}, nil
}
