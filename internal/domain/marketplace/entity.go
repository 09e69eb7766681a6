package marketplace

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ListingStatus string

const (
	ListingOpen      ListingStatus = "OPEN"
	ListingSold      ListingStatus = "SOLD"
	ListingCancelled ListingStatus = "CANCELLED"
)

type ListingType string

const (
	ListingFixed   ListingType = "fixed"
	ListingAuction ListingType = "auction"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderAccepted  OrderStatus = "ACCEPTED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// IsFinal reports whether no further transition is allowed
func (s OrderStatus) IsFinal() bool {
	return s == OrderRejected || s == OrderCompleted || s == OrderCancelled
}

// Listing offers credits for sale. A partial purchase leaves it OPEN with
// the remaining amount.
type Listing struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	UserID         string          `db:"user_id" json:"userId"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	PricePerCredit decimal.Decimal `db:"price_per_credit" json:"pricePerCredit"`
	Type           ListingType     `db:"type" json:"type"`
	Status         ListingStatus   `db:"status" json:"status"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updatedAt"`
}

type Order struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	ListingID      uuid.UUID       `db:"listing_id" json:"listingId"`
	BuyerID        string          `db:"buyer_id" json:"buyerId"`
	SellerID       string          `db:"seller_id" json:"sellerId"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	PricePerCredit decimal.Decimal `db:"price_per_credit" json:"pricePerCredit"`
	TotalPrice     decimal.Decimal `db:"total_price" json:"totalPrice"`
	Status         OrderStatus     `db:"status" json:"status"`
	TransferRef    sql.NullString  `db:"transfer_ref" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updatedAt"`
}

// Bid is a price per credit offered on an auction listing
type Bid struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	ListingID uuid.UUID       `db:"listing_id" json:"listingId"`
	BidderID  string          `db:"bidder_id" json:"bidderId"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

type CreateListingRequest struct {
	Amount         decimal.Decimal `json:"amount" validate:"gt=0,decimal_scale=3"`
	PricePerCredit decimal.Decimal `json:"pricePerCredit" validate:"gt=0,decimal_scale=2"`
	Type           ListingType     `json:"type" validate:"omitempty,oneof=fixed auction"`
}

// PurchaseRequest buys the whole listing unless Amount is set
type PurchaseRequest struct {
	BuyerID string              `json:"buyerId"`
	Amount  decimal.NullDecimal `json:"amount"`
}

type PurchaseResult struct {
	Listing *Listing `json:"listing"`
	Order   *Order   `json:"order"`
}

type PlaceBidRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0,decimal_scale=2"`
}

type UpdateOrderStatusRequest struct {
	Status OrderStatus `json:"status" validate:"required,order_status"`
}

// Event is published to the broker and pushed to websocket clients
type Event struct {
	Type      string    `json:"type"`
	ListingID uuid.UUID `json:"listingId"`
	OrderID   uuid.UUID `json:"orderId,omitempty"`
	Data      any       `json:"data,omitempty"`
	At        time.Time `json:"at"`
}

// Routing keys
const (
	EventListingCreated   = "listing.created"
	EventListingCancelled = "listing.cancelled"
	EventOrderCreated     = "order.created"
	EventOrderUpdated     = "order.updated"
	EventBidPlaced        = "bid.placed"
	EventAuctionClosed    = "auction.closed"
)

// PublishJob is the outbox payload for an event the broker did not accept
type PublishJob struct {
	RoutingKey string          `json:"routing_key"`
	Body       json.RawMessage `json:"body"`
}
