package marketplace

import "github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"

var (
	ErrListingNotFound    = apperr.NotFound("LISTING_NOT_FOUND", "Listing not found")
	ErrOrderNotFound      = apperr.NotFound("ORDER_NOT_FOUND", "Order not found")
	ErrListingSold        = apperr.Conflict("LISTING_SOLD", "Listing already sold")
	ErrListingUnavailable = apperr.Conflict("LISTING_UNAVAILABLE", "Listing is no longer open for this amount")
	ErrOwnListing         = apperr.Validation("OWN_LISTING", "Cannot buy or bid on your own listing")
	ErrInvalidQuantity    = apperr.Validation("INVALID_AMOUNT", "Amount must be positive and not exceed the listing")
	ErrAuctionListing     = apperr.Validation("AUCTION_LISTING", "Auction listings are sold by closing the auction")
	ErrNotAuction         = apperr.Validation("NOT_AUCTION", "Listing does not accept bids")
	ErrNoBids             = apperr.Validation("NO_BIDS", "Auction has no bids")
	ErrNotSeller          = apperr.Forbidden("NOT_SELLER", "Only the seller can do this")
	ErrOrderFinal         = apperr.Conflict("ORDER_FINAL", "Order is already in a final status")
	ErrSellerInsufficient = apperr.InsufficientResource("INSUFFICIENT_BALANCE", "Seller no longer holds enough credits")
)
