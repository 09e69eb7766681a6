package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/metrics"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/outbox"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/rabbitmq"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/svcclient"
)

const (
	publishTimeout    = 3 * time.Second
	compensateTimeout = 5 * time.Second
)

// CreditTransferer moves credits between wallets
type CreditTransferer interface {
	Transfer(ctx context.Context, p svcclient.TransferPayload) (*svcclient.WalletMutation, error)
}

// Notifier pushes live events to connected clients
type Notifier interface {
	Broadcast(event *Event)
	SendToUser(userID string, event *Event)
}

// Service runs listings, purchases and auctions
type Service struct {
	repo   Repository
	wallet CreditTransferer
	events rabbitmq.Publisher
	outbox outbox.Enqueuer
	live   Notifier
	now    func() time.Time
}

// NewService creates marketplace service
func NewService(repo Repository, wallet CreditTransferer, events rabbitmq.Publisher, jobs outbox.Enqueuer, live Notifier) *Service {
	return &Service{
		repo:   repo,
		wallet: wallet,
		events: events,
		outbox: jobs,
		live:   live,
		now:    time.Now,
	}
}

// CreateListing opens a listing for the seller
func (s *Service) CreateListing(ctx context.Context, sellerID string, req *CreateListingRequest) (*Listing, error) {
	if !req.Amount.IsPositive() || !req.PricePerCredit.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	kind := req.Type
	if kind == "" {
		kind = ListingFixed
	}

	now := s.now().UTC()
	l := &Listing{
		ID:             uuid.New(),
		UserID:         sellerID,
		Amount:         req.Amount,
		PricePerCredit: req.PricePerCredit,
		Type:           kind,
		Status:         ListingOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateListing(ctx, l); err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}

	log.Info().Str("listing_id", l.ID.String()).Str("seller_id", sellerID).Str("amount", l.Amount.String()).Msg("Listing created")
	s.emit(ctx, EventListingCreated, &Event{ListingID: l.ID, Data: l}, "")
	return l, nil
}

// GetListing returns one listing
func (s *Service) GetListing(ctx context.Context, id uuid.UUID) (*Listing, error) {
	return s.repo.GetListing(ctx, id)
}

// ListListings filters by status when one is given
func (s *Service) ListListings(ctx context.Context, status ListingStatus, page, limit int) ([]*Listing, int, error) {
	return s.repo.ListListings(ctx, status, limit, (page-1)*limit)
}

// CancelListing withdraws an OPEN listing
func (s *Service) CancelListing(ctx context.Context, id uuid.UUID, sellerID string) (*Listing, error) {
	l, err := s.repo.CancelListing(ctx, id, sellerID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventListingCancelled, &Event{ListingID: l.ID, Data: l}, "")
	return l, nil
}

// BuyListing moves the credits from seller to buyer first and only then
// records the sale. If the local commit fails the transfer is reversed.
func (s *Service) BuyListing(ctx context.Context, listingID uuid.UUID, buyerID string, amount decimal.NullDecimal) (*PurchaseResult, error) {
	l, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if err := checkOpen(l); err != nil {
		return nil, err
	}
	if l.Type == ListingAuction {
		return nil, ErrAuctionListing
	}
	if l.UserID == buyerID {
		return nil, ErrOwnListing
	}

	qty := l.Amount
	if amount.Valid {
		qty = amount.Decimal
	}
	if !qty.IsPositive() || qty.GreaterThan(l.Amount) {
		return nil, ErrInvalidQuantity
	}

	return s.settle(ctx, l, buyerID, qty, l.PricePerCredit)
}

func checkOpen(l *Listing) error {
	switch l.Status {
	case ListingOpen:
		return nil
	case ListingSold:
		return ErrListingSold
	default:
		return ErrListingUnavailable
	}
}

func (s *Service) settle(ctx context.Context, l *Listing, buyerID string, qty, price decimal.Decimal) (*PurchaseResult, error) {
	// every attempt books its own transfer so a compensated attempt is never replayed
	ref := fmt.Sprintf("purchase:%s:%s:%d", l.ID, buyerID, s.now().UnixNano())
	transfer := svcclient.TransferPayload{
		FromUserID:  l.UserID,
		ToUserID:    buyerID,
		Amount:      qty,
		Reference:   ref,
		Description: fmt.Sprintf("Purchase of %s credits from listing %s", qty.String(), l.ID),
	}

	if _, err := s.wallet.Transfer(ctx, transfer); err != nil {
		metrics.MarketplacePurchases.WithLabelValues("transfer_failed").Inc()
		if errors.Is(err, svcclient.ErrInsufficientBalance) {
			return nil, ErrSellerInsufficient.WithCause(err)
		}
		return nil, fmt.Errorf("transfer credits: %w", err)
	}

	now := s.now().UTC()
	order := &Order{
		ID:             uuid.New(),
		ListingID:      l.ID,
		BuyerID:        buyerID,
		SellerID:       l.UserID,
		Amount:         qty,
		PricePerCredit: price,
		TotalPrice:     qty.Mul(price).Round(2),
		Status:         OrderPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	order.TransferRef.String, order.TransferRef.Valid = ref, true

	updated, err := s.repo.CommitPurchase(ctx, l.ID, qty, order)
	if err != nil {
		metrics.MarketplacePurchases.WithLabelValues("compensated").Inc()
		log.Error().Err(err).Str("listing_id", l.ID.String()).Str("reference", ref).Msg("Purchase commit failed after transfer, compensating")
		s.compensate(ctx, transfer)
		return nil, err
	}

	metrics.MarketplacePurchases.WithLabelValues("success").Inc()
	log.Info().
		Str("listing_id", l.ID.String()).
		Str("order_id", order.ID.String()).
		Str("buyer_id", buyerID).
		Str("amount", qty.String()).
		Str("total_price", order.TotalPrice.String()).
		Msg("Listing purchased")

	s.emit(ctx, EventOrderCreated, &Event{ListingID: l.ID, OrderID: order.ID, Data: order}, l.UserID)
	return &PurchaseResult{Listing: updated, Order: order}, nil
}

// compensate reverses a transfer whose purchase could not be recorded. When
// the reversal itself fails it is queued for the worker.
func (s *Service) compensate(ctx context.Context, original svcclient.TransferPayload) {
	reverse := svcclient.TransferPayload{
		FromUserID:  original.ToUserID,
		ToUserID:    original.FromUserID,
		Amount:      original.Amount,
		Reference:   "compensate:" + original.Reference,
		Description: "Reversal of " + original.Reference,
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	_, err := s.wallet.Transfer(ctx, reverse)
	if err == nil {
		metrics.SagaCompensations.WithLabelValues("applied").Inc()
		log.Warn().Str("reference", reverse.Reference).Msg("Purchase transfer reversed")
		return
	}

	if qErr := s.outbox.Enqueue(ctx, outbox.KindWalletCompensate, reverse); qErr != nil {
		metrics.SagaCompensations.WithLabelValues("failed").Inc()
		log.Error().Err(qErr).AnErr("transfer_error", err).Str("reference", reverse.Reference).
			Msg("Compensation failed and could not be queued")
		return
	}
	metrics.SagaCompensations.WithLabelValues("queued").Inc()
	log.Warn().Err(err).Str("reference", reverse.Reference).Msg("Compensation queued for retry")
}

// HandleCompensateJob retries a queued reverse transfer. The reference makes
// a reversal that already landed a no-op.
func (s *Service) HandleCompensateJob(ctx context.Context, raw json.RawMessage) error {
	var p svcclient.TransferPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperr.Fatal("outbox", fmt.Errorf("decode compensate job: %w", err))
	}
	if _, err := s.wallet.Transfer(ctx, p); err != nil {
		return err
	}
	metrics.SagaCompensations.WithLabelValues("applied").Inc()
	log.Info().Str("reference", p.Reference).Msg("Queued compensation applied")
	return nil
}

// emit publishes to the broker, falling back to the outbox, and pushes the
// event live. notify limits the push to one user; empty broadcasts.
func (s *Service) emit(ctx context.Context, routingKey string, event *Event, notify string) {
	event.Type = routingKey
	event.At = s.now().UTC()

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.events.Publish(pubCtx, routingKey, event); err != nil {
		log.Warn().Err(err).Str("routing_key", routingKey).Msg("Event publish failed, queueing")
		body, mErr := json.Marshal(event)
		if mErr == nil {
			mErr = s.outbox.Enqueue(pubCtx, outbox.KindEventPublish, PublishJob{RoutingKey: routingKey, Body: body})
		}
		if mErr != nil {
			log.Error().Err(mErr).Str("routing_key", routingKey).Msg("Failed to queue event")
		}
	}

	if s.live == nil {
		return
	}
	if notify != "" {
		s.live.SendToUser(notify, event)
		return
	}
	s.live.Broadcast(event)
}

// HandlePublishJob republishes an event the broker rejected earlier
func (s *Service) HandlePublishJob(ctx context.Context, raw json.RawMessage) error {
	var job PublishJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return apperr.Fatal("outbox", fmt.Errorf("decode publish job: %w", err))
	}
	if err := s.events.Publish(ctx, job.RoutingKey, job.Body); err != nil {
		return apperr.Retryable("rabbitmq", err)
	}
	return nil
}

// PlaceBid records a price per credit on an open auction
func (s *Service) PlaceBid(ctx context.Context, listingID uuid.UUID, bidderID string, amount decimal.Decimal) (*Bid, error) {
	l, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if err := checkOpen(l); err != nil {
		return nil, err
	}
	if l.Type != ListingAuction {
		return nil, ErrNotAuction
	}
	if l.UserID == bidderID {
		return nil, ErrOwnListing
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	b := &Bid{ID: uuid.New(), ListingID: l.ID, BidderID: bidderID, Amount: amount, CreatedAt: s.now().UTC()}
	if err := s.repo.InsertBid(ctx, b); err != nil {
		return nil, fmt.Errorf("insert bid: %w", err)
	}

	log.Info().Str("listing_id", l.ID.String()).Str("bidder_id", bidderID).Str("amount", amount.String()).Msg("Bid placed")
	s.emit(ctx, EventBidPlaced, &Event{ListingID: l.ID, Data: b}, l.UserID)
	return b, nil
}

// GetBids returns bids highest first
func (s *Service) GetBids(ctx context.Context, listingID uuid.UUID) ([]*Bid, error) {
	if _, err := s.repo.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	return s.repo.ListBids(ctx, listingID)
}

// CloseAuction sells the whole listing to the highest bidder at their price
func (s *Service) CloseAuction(ctx context.Context, listingID uuid.UUID, sellerID string) (*PurchaseResult, error) {
	l, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.UserID != sellerID {
		return nil, ErrNotSeller
	}
	if err := checkOpen(l); err != nil {
		return nil, err
	}
	if l.Type != ListingAuction {
		return nil, ErrNotAuction
	}

	bids, err := s.repo.ListBids(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	if len(bids) == 0 {
		return nil, ErrNoBids
	}
	winner := bids[0]

	res, err := s.settle(ctx, l, winner.BidderID, l.Amount, winner.Amount)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventAuctionClosed, &Event{ListingID: l.ID, OrderID: res.Order.ID, Data: winner}, "")
	return res, nil
}

// ListOrders returns orders where the user is buyer or seller
func (s *Service) ListOrders(ctx context.Context, userID string) ([]*Order, error) {
	return s.repo.ListOrders(ctx, userID)
}

// UpdateOrderStatus lets the seller move a non-final order
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, actorID string, status OrderStatus) (*Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.SellerID != actorID {
		return nil, ErrNotSeller
	}
	if o.Status.IsFinal() {
		return nil, ErrOrderFinal
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, orderID, status)
	if err != nil {
		return nil, err
	}

	log.Info().Str("order_id", orderID.String()).Str("status", string(status)).Msg("Order status updated")
	s.emit(ctx, EventOrderUpdated, &Event{ListingID: updated.ListingID, OrderID: updated.ID, Data: updated}, updated.BuyerID)
	return updated, nil
}
