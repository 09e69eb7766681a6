package wallet

import "github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"

var (
	ErrInvalidAmount       = apperr.Validation("INVALID_AMOUNT", "Amount must be greater than zero")
	ErrAmountPrecision     = apperr.Validation("AMOUNT_PRECISION", "Amount supports at most 3 decimal places")
	ErrSameWallet          = apperr.Validation("SAME_WALLET", "Cannot transfer to the same wallet")
	ErrInsufficientBalance = apperr.InsufficientResource("INSUFFICIENT_BALANCE", "Insufficient wallet balance")
	ErrReferenceConflict   = apperr.Conflict("REFERENCE_CONFLICT", "Reference already used with a different amount")
	ErrWalletNotFound      = apperr.NotFound("WALLET_NOT_FOUND", "Wallet not found")
)
