package marketplace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Repository defines marketplace data access
type Repository interface {
	CreateListing(ctx context.Context, l *Listing) error
	GetListing(ctx context.Context, id uuid.UUID) (*Listing, error)
	ListListings(ctx context.Context, status ListingStatus, limit, offset int) ([]*Listing, int, error)
	CancelListing(ctx context.Context, id uuid.UUID, sellerID string) (*Listing, error)

	// CommitPurchase takes qty off an OPEN listing and inserts the order in
	// one transaction. It returns ErrListingUnavailable when the listing was
	// sold, cancelled or shrank below qty in the meantime.
	CommitPurchase(ctx context.Context, listingID uuid.UUID, qty decimal.Decimal, order *Order) (*Listing, error)

	InsertBid(ctx context.Context, b *Bid) error
	ListBids(ctx context.Context, listingID uuid.UUID) ([]*Bid, error)

	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, userID string) ([]*Order, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status OrderStatus) (*Order, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates marketplace repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const listingColumns = `id, user_id, amount, price_per_credit, type, status, created_at, updated_at`

const orderColumns = `id, listing_id, buyer_id, seller_id, amount, price_per_credit, total_price,
	status, transfer_ref, created_at, updated_at`

func (r *repository) CreateListing(ctx context.Context, l *Listing) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES (:id, :user_id, :amount, :price_per_credit, :type, :status, :created_at, :updated_at)
	`, l)
	return err
}

func (r *repository) GetListing(ctx context.Context, id uuid.UUID) (*Listing, error) {
	var l Listing
	err := r.db.GetContext(ctx, &l, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repository) ListListings(ctx context.Context, status ListingStatus, limit, offset int) ([]*Listing, int, error) {
	where, args := "", []interface{}{}
	if status != "" {
		where = " WHERE status = $1"
		args = append(args, status)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM listings`+where, args...); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM listings%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		listingColumns, where, n+1, n+2)
	items := []*Listing{}
	err := r.db.SelectContext(ctx, &items, query, append(args, limit, offset)...)
	return items, total, err
}

func (r *repository) CancelListing(ctx context.Context, id uuid.UUID, sellerID string) (*Listing, error) {
	var l Listing
	err := r.db.GetContext(ctx, &l, `
		UPDATE listings SET status = 'CANCELLED', updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status = 'OPEN'
		RETURNING `+listingColumns, id, sellerID)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := r.GetListing(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.UserID != sellerID {
			return nil, ErrNotSeller
		}
		return nil, ErrListingUnavailable
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repository) CommitPurchase(ctx context.Context, listingID uuid.UUID, qty decimal.Decimal, order *Order) (*Listing, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// a full purchase keeps the amount so the sold listing still shows it
	var l Listing
	err = tx.GetContext(ctx, &l, `
		UPDATE listings
		SET status = CASE WHEN amount = $2 THEN 'SOLD' ELSE 'OPEN' END,
			amount = CASE WHEN amount = $2 THEN amount ELSE amount - $2 END,
			updated_at = now()
		WHERE id = $1 AND status = 'OPEN' AND amount >= $2
		RETURNING `+listingColumns, listingID, qty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingUnavailable
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (:id, :listing_id, :buyer_id, :seller_id, :amount, :price_per_credit, :total_price,
			:status, :transfer_ref, :created_at, :updated_at)
	`, order); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repository) InsertBid(ctx context.Context, b *Bid) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO bids (id, listing_id, bidder_id, amount, created_at)
		VALUES (:id, :listing_id, :bidder_id, :amount, :created_at)
	`, b)
	return err
}

func (r *repository) ListBids(ctx context.Context, listingID uuid.UUID) ([]*Bid, error) {
	items := []*Bid{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT id, listing_id, bidder_id, amount, created_at
		FROM bids WHERE listing_id = $1
		ORDER BY amount DESC, created_at ASC
	`, listingID)
	return items, err
}

func (r *repository) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	var o Order
	err := r.db.GetContext(ctx, &o, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repository) ListOrders(ctx context.Context, userID string) ([]*Order, error) {
	items := []*Order{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+orderColumns+` FROM orders
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
	`, userID)
	return items, err
}

func (r *repository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status OrderStatus) (*Order, error) {
	var o Order
	err := r.db.GetContext(ctx, &o, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ('REJECTED', 'COMPLETED', 'CANCELLED')
		RETURNING `+orderColumns, id, status)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetOrder(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrOrderFinal
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
