package payment

import "github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"

var (
	ErrPaymentNotFound    = apperr.NotFound("PAYMENT_NOT_FOUND", "Payment not found")
	ErrEscrowNotFound     = apperr.NotFound("ESCROW_NOT_FOUND", "Escrow not found")
	ErrWithdrawalNotFound = apperr.NotFound("WITHDRAWAL_NOT_FOUND", "Withdrawal not found")
	ErrInvalidAmount      = apperr.Validation("INVALID_AMOUNT", "Amount must be positive")
	ErrInvalidFee         = apperr.Validation("INVALID_FEE", "Fee percentage must be between 0 and 100")
	ErrInvalidMethod      = apperr.Validation("INVALID_METHOD", "Unsupported withdrawal method")
	ErrInvalidDetails     = apperr.Validation("INVALID_ACCOUNT_DETAILS", "Account details must be a JSON object")
	ErrSameParty          = apperr.Validation("SAME_PARTY", "Buyer and seller must differ")
	ErrPaymentState       = apperr.Conflict("INVALID_PAYMENT_STATE", "Payment cannot change from its current status")
	ErrEscrowState        = apperr.Conflict("INVALID_ESCROW_STATE", "Escrow cannot change from its current status")
	ErrWithdrawalState    = apperr.Conflict("INVALID_WITHDRAWAL_STATE", "Withdrawal cannot change from its current status")
	ErrNotParticipant     = apperr.Forbidden("NOT_PARTICIPANT", "Not allowed to act on this record")
	ErrPayoutDestination  = apperr.Validation("PAYOUT_DESTINATION_REQUIRED", "account_details.account_id is required for Stripe payouts")
)
