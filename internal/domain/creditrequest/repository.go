package creditrequest

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// Repository defines credit request data access
type Repository interface {
	// Insert stores cr unless its idempotency key already exists. It reports
	// whether a row was written.
	Insert(ctx context.Context, cr *CreditRequest) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*CreditRequest, error)
	GetByKey(ctx context.Context, key string) (*CreditRequest, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*CreditRequest, int, error)
	UpdateForward(ctx context.Context, id uuid.UUID, status Status, verificationID, lastErr string) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates credit request repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const selectColumns = `
	SELECT id, user_id, vehicle_id, co2_amount, credits_amount, idempotency_key,
		status, verification_id, last_error, created_at, updated_at
	FROM credit_requests`

func (r *repository) Insert(ctx context.Context, cr *CreditRequest) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO credit_requests (
			id, user_id, vehicle_id, co2_amount, credits_amount, idempotency_key,
			status, created_at, updated_at
		) VALUES (
			:id, :user_id, :vehicle_id, :co2_amount, :credits_amount, :idempotency_key,
			:status, :created_at, :updated_at
		)
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING`

	res, err := r.db.NamedExecContext(ctx, query, cr)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*CreditRequest, error) {
	var cr CreditRequest
	err := r.db.GetContext(ctx, &cr, selectColumns+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cr, nil
}

func (r *repository) GetByKey(ctx context.Context, key string) (*CreditRequest, error) {
	var cr CreditRequest
	err := r.db.GetContext(ctx, &cr, selectColumns+` WHERE idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cr, nil
}

func (r *repository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*CreditRequest, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM credit_requests WHERE user_id = $1`, userID); err != nil {
		return nil, 0, err
	}

	var items []*CreditRequest
	err := r.db.SelectContext(ctx, &items,
		selectColumns+` WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repository) UpdateForward(ctx context.Context, id uuid.UUID, status Status, verificationID, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE credit_requests
		SET status = $2,
			verification_id = COALESCE($3::uuid, verification_id),
			last_error = $4,
			updated_at = now()
		WHERE id = $1
	`, id, status, nullable(verificationID), nullable(lastErr))
	return err
}
