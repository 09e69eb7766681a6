package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evcarbon/carbon-credit-api/internal/middleware"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/svcclient"
)

type memRepo struct {
	mu        sync.Mutex
	listings  map[uuid.UUID]*Listing
	orders    map[uuid.UUID]*Order
	bids      []*Bid
	commitErr error
}

func newMemRepo() *memRepo {
	return &memRepo{listings: map[uuid.UUID]*Listing{}, orders: map[uuid.UUID]*Order{}}
}

func (r *memRepo) CreateListing(_ context.Context, l *Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *l
	r.listings[l.ID] = &cp
	return nil
}

func (r *memRepo) GetListing(_ context.Context, id uuid.UUID) (*Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *memRepo) ListListings(_ context.Context, status ListingStatus, limit, offset int) ([]*Listing, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Listing
	for _, l := range r.listings {
		if status == "" || l.Status == status {
			out = append(out, l)
		}
	}
	return out, len(out), nil
}

func (r *memRepo) CancelListing(_ context.Context, id uuid.UUID, sellerID string) (*Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	if l.UserID != sellerID {
		return nil, ErrNotSeller
	}
	if l.Status != ListingOpen {
		return nil, ErrListingUnavailable
	}
	l.Status = ListingCancelled
	cp := *l
	return &cp, nil
}

func (r *memRepo) CommitPurchase(_ context.Context, listingID uuid.UUID, qty decimal.Decimal, order *Order) (*Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return nil, r.commitErr
	}
	l := r.listings[listingID]
	if l.Status != ListingOpen || l.Amount.LessThan(qty) {
		return nil, ErrListingUnavailable
	}
	if l.Amount.Equal(qty) {
		l.Status = ListingSold
	} else {
		l.Amount = l.Amount.Sub(qty)
	}
	cp := *order
	r.orders[order.ID] = &cp
	out := *l
	return &out, nil
}

func (r *memRepo) InsertBid(_ context.Context, b *Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bids = append(r.bids, b)
	return nil
}

func (r *memRepo) ListBids(_ context.Context, listingID uuid.UUID) ([]*Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Bid
	for _, b := range r.bids {
		if b.ListingID == listingID {
			out = append(out, b)
		}
	}
	// highest first
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Amount.GreaterThan(out[j-1].Amount); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (r *memRepo) GetOrder(_ context.Context, id uuid.UUID) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) ListOrders(_ context.Context, userID string) ([]*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Order
	for _, o := range r.orders {
		if o.BuyerID == userID || o.SellerID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateOrderStatus(_ context.Context, id uuid.UUID, status OrderStatus) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.orders[id]
	if o.Status.IsFinal() {
		return nil, ErrOrderFinal
	}
	o.Status = status
	cp := *o
	return &cp, nil
}

// fakeWallet keeps balances so transfers and reversals can be checked
type fakeWallet struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	calls    []svcclient.TransferPayload
	failNext []error
}

func (w *fakeWallet) Transfer(_ context.Context, p svcclient.TransferPayload) (*svcclient.WalletMutation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, p)
	if len(w.failNext) > 0 {
		err := w.failNext[0]
		w.failNext = w.failNext[1:]
		if err != nil {
			return nil, err
		}
	}
	if w.balances[p.FromUserID].LessThan(p.Amount) {
		return nil, svcclient.ErrInsufficientBalance
	}
	w.balances[p.FromUserID] = w.balances[p.FromUserID].Sub(p.Amount)
	w.balances[p.ToUserID] = w.balances[p.ToUserID].Add(p.Amount)
	return &svcclient.WalletMutation{Balance: w.balances[p.FromUserID]}, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, routingKey)
	return nil
}

type fakeOutbox struct {
	kinds    []string
	payloads []any
}

func (f *fakeOutbox) Enqueue(_ context.Context, kind string, payload any) error {
	f.kinds = append(f.kinds, kind)
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	direct map[string][]string
	all    []string
}

func (n *fakeNotifier) Broadcast(e *Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.all = append(n.all, e.Type)
}

func (n *fakeNotifier) SendToUser(userID string, e *Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.direct[userID] = append(n.direct[userID], e.Type)
}

type fixture struct {
	svc    *Service
	repo   *memRepo
	wallet *fakeWallet
	events *fakePublisher
	jobs   *fakeOutbox
	live   *fakeNotifier
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   newMemRepo(),
		wallet: &fakeWallet{balances: map[string]decimal.Decimal{"seller": decimal.NewFromInt(100)}},
		events: &fakePublisher{},
		jobs:   &fakeOutbox{},
		live:   &fakeNotifier{direct: map[string][]string{}},
	}
	f.svc = NewService(f.repo, f.wallet, f.events, f.jobs, f.live)
	return f
}

func (f *fixture) listing(t *testing.T, amount, price int64, kind ListingType) *Listing {
	t.Helper()
	l, err := f.svc.CreateListing(context.Background(), "seller", &CreateListingRequest{
		Amount:         decimal.NewFromInt(amount),
		PricePerCredit: decimal.NewFromInt(price),
		Type:           kind,
	})
	require.NoError(t, err)
	return l
}

func TestBuyListingTransfersAndRecordsOrder(t *testing.T) {
	f := setup(t)
	l := f.listing(t, 10, 2, "")

	res, err := f.svc.BuyListing(context.Background(), l.ID, "buyer", decimal.NullDecimal{})
	require.NoError(t, err)

	assert.Equal(t, ListingSold, res.Listing.Status)
	assert.True(t, res.Order.TotalPrice.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, OrderPending, res.Order.Status)
	assert.Len(t, f.repo.orders, 1)

	require.Len(t, f.wallet.calls, 1)
	assert.True(t, strings.HasPrefix(f.wallet.calls[0].Reference, "purchase:"+l.ID.String()+":buyer:"))
	assert.True(t, f.wallet.balances["buyer"].Equal(decimal.NewFromInt(10)))
	assert.True(t, f.wallet.balances["seller"].Equal(decimal.NewFromInt(90)))

	assert.Equal(t, []string{EventListingCreated, EventOrderCreated}, f.events.keys)
	assert.Equal(t, []string{EventOrderCreated}, f.live.direct["seller"])

	_, err = f.svc.BuyListing(context.Background(), l.ID, "buyer-2", decimal.NullDecimal{})
	assert.ErrorIs(t, err, ErrListingSold)
	assert.Len(t, f.wallet.calls, 1)
}

func TestBuyListingPartial(t *testing.T) {
	f := setup(t)
	l := f.listing(t, 10, 3, "")

	res, err := f.svc.BuyListing(context.Background(), l.ID, "buyer", decimal.NewNullDecimal(decimal.NewFromInt(4)))
	require.NoError(t, err)
	assert.Equal(t, ListingOpen, res.Listing.Status)
	assert.True(t, res.Listing.Amount.Equal(decimal.NewFromInt(6)))
	assert.True(t, res.Order.TotalPrice.Equal(decimal.NewFromInt(12)))

	_, err = f.svc.BuyListing(context.Background(), l.ID, "buyer", decimal.NewNullDecimal(decimal.NewFromInt(7)))
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestBuyListingRejectsOwnListing(t *testing.T) {
	f := setup(t)
	l := f.listing(t, 1, 1, "")

	_, err := f.svc.BuyListing(context.Background(), l.ID, "seller", decimal.NullDecimal{})
	assert.ErrorIs(t, err, ErrOwnListing)
	assert.Empty(t, f.wallet.calls)
}

func TestBuyListingTransferFailureAbortsBeforeCommit(t *testing.T) {
	f := setup(t)
	f.wallet.balances["seller"] = decimal.NewFromInt(5)
	l := f.listing(t, 10, 2, "")

	_, err := f.svc.BuyListing(context.Background(), l.ID, "buyer", decimal.NullDecimal{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientResource, apperr.KindOf(err))

	f.wallet.failNext = []error{apperr.Retryable("wallet-service", errors.New("503 service unavailable"))}
	_, err = f.svc.BuyListing(context.Background(), l.ID, "buyer", decimal.NewNullDecimal(decimal.NewFromInt(1)))
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))

	assert.Empty(t, f.repo.orders)
	stored, _ := f.repo.GetListing(context.Background(), l.ID)
	assert.Equal(t, ListingOpen, stored.Status)
	assert.True(t, stored.Amount.Equal(decimal.NewFromInt(10)))
}

func TestBuyListingCommitFailureCompensates(t *testing.T) {
	f := setup(t)
	l := f.listing(t, 10, 2, "")
	f.repo.commitErr = errors.New("connection reset")

	_, err := f.svc.BuyListing(context.Background(), l.ID, "buyer", decimal.NullDecimal{})
	require.Error(t, err)

	require.Len(t, f.wallet.calls, 2)
	reverse := f.wallet.calls[1]
	assert.Equal(t, "buyer", reverse.FromUserID)
	assert.Equal(t, "seller", reverse.ToUserID)
	assert.Equal(t, "compensate:"+f.wallet.calls[0].Reference, reverse.Reference)
	assert.True(t, f.wallet.balances["seller"].Equal(decimal.NewFromInt(100)))
	assert.True(t, f.wallet.balances["buyer"].IsZero())
	assert.Empty(t, f.jobs.kinds)
}

func TestCompensationFailureIsQueued(t *testing.T) {
	f := setup(t)
	l := f.listing(t, 10, 2, "")
	f.repo.commitErr = errors.New("connection reset")
	f.wallet.failNext = []error{nil, apperr.Retryable("wallet-service", errors.New("timeout"))}

	_, err := f.svc.BuyListing(context.Background(), l.ID, "buyer", decimal.NullDecimal{})
	require.Error(t, err)

	require.Equal(t, []string{"wallet.compensate"}, f.jobs.kinds)
	job := f.jobs.payloads[0].(svcclient.TransferPayload)
	assert.Equal(t, "buyer", job.FromUserID)

	raw, _ := json.Marshal(job)
	require.NoError(t, f.svc.HandleCompensateJob(context.Background(), raw))
	assert.True(t, f.wallet.balances["seller"].Equal(decimal.NewFromInt(100)))
}

func TestPublishFailureFallsBackToOutbox(t *testing.T) {
	f := setup(t)
	f.events.err = errors.New("channel closed")
	f.listing(t, 1, 1, "")

	require.Equal(t, []string{"event.publish"}, f.jobs.kinds)
	job := f.jobs.payloads[0].(PublishJob)
	assert.Equal(t, EventListingCreated, job.RoutingKey)

	raw, _ := json.Marshal(job)
	err := f.svc.HandlePublishJob(context.Background(), raw)
	assert.True(t, apperr.IsRetryable(err))

	f.events.err = nil
	require.NoError(t, f.svc.HandlePublishJob(context.Background(), raw))
	assert.Equal(t, []string{EventListingCreated}, f.events.keys)
}

func TestAuctionClosesToHighestBid(t *testing.T) {
	f := setup(t)
	l := f.listing(t, 5, 1, ListingAuction)
	ctx := context.Background()

	_, err := f.svc.BuyListing(ctx, l.ID, "buyer", decimal.NullDecimal{})
	assert.ErrorIs(t, err, ErrAuctionListing)

	_, err = f.svc.CloseAuction(ctx, l.ID, "seller")
	assert.ErrorIs(t, err, ErrNoBids)

	_, err = f.svc.PlaceBid(ctx, l.ID, "seller", decimal.NewFromInt(3))
	assert.ErrorIs(t, err, ErrOwnListing)

	_, err = f.svc.PlaceBid(ctx, l.ID, "alice", decimal.RequireFromString("2.5"))
	require.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, l.ID, "bob", decimal.NewFromInt(4))
	require.NoError(t, err)

	bids, err := f.svc.GetBids(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, "bob", bids[0].BidderID)

	_, err = f.svc.CloseAuction(ctx, l.ID, "alice")
	assert.ErrorIs(t, err, ErrNotSeller)

	res, err := f.svc.CloseAuction(ctx, l.ID, "seller")
	require.NoError(t, err)
	assert.Equal(t, "bob", res.Order.BuyerID)
	assert.True(t, res.Order.TotalPrice.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, ListingSold, res.Listing.Status)
	assert.Contains(t, f.events.keys, EventAuctionClosed)
}

func TestUpdateOrderStatus(t *testing.T) {
	f := setup(t)
	l := f.listing(t, 2, 1, "")
	res, err := f.svc.BuyListing(context.Background(), l.ID, "buyer", decimal.NullDecimal{})
	require.NoError(t, err)

	_, err = f.svc.UpdateOrderStatus(context.Background(), res.Order.ID, "buyer", OrderCompleted)
	assert.ErrorIs(t, err, ErrNotSeller)

	o, err := f.svc.UpdateOrderStatus(context.Background(), res.Order.ID, "seller", OrderCompleted)
	require.NoError(t, err)
	assert.Equal(t, OrderCompleted, o.Status)
	assert.Contains(t, f.live.direct["buyer"], EventOrderUpdated)

	_, err = f.svc.UpdateOrderStatus(context.Background(), res.Order.ID, "seller", OrderCancelled)
	assert.ErrorIs(t, err, ErrOrderFinal)
}

func TestPurchaseEndpoint(t *testing.T) {
	f := setup(t)
	l := f.listing(t, 10, 2, "")

	asBuyer := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithUser(r.Context(), "buyer", "buyer")))
		})
	}
	router := NewHandler(f.svc, nil, nil).ListingRoutes(asBuyer)

	req := httptest.NewRequest(http.MethodPost, "/"+l.ID.String()+"/purchase", bytes.NewBufferString(`{"buyerId":"someone-else"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/"+l.ID.String()+"/purchase", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"SOLD"`)
	assert.Contains(t, rec.Body.String(), `"totalPrice":"20"`)

	req = httptest.NewRequest(http.MethodPost, "/"+l.ID.String()+"/purchase", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHubDeliversBroadcastAndDirect(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Shutdown()

	alice := &Connection{UserID: "alice", Send: make(chan []byte, 4)}
	bob := &Connection{UserID: "bob", Send: make(chan []byte, 4)}
	hub.Register(alice)
	hub.Register(bob)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(&Event{Type: EventListingCreated})
	hub.SendToUser("bob", &Event{Type: EventOrderCreated})

	assert.Len(t, alice.Send, 1)
	assert.Len(t, bob.Send, 2)

	hub.Unregister(alice)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHubCallsReturnAfterShutdown(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	conn := &Connection{UserID: "alice", Send: make(chan []byte, 1)}
	require.True(t, hub.Register(conn))
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Shutdown()

	done := make(chan bool)
	go func() {
		hub.Unregister(conn)
		done <- hub.Register(&Connection{UserID: "bob", Send: make(chan []byte, 1)})
	}()
	select {
	case registered := <-done:
		assert.False(t, registered)
	case <-time.After(time.Second):
		t.Fatal("hub blocked after shutdown")
	}
}
