package payment

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Repository defines payment data access. Every state change is a
// conditional update on the expected current statuses.
type Repository interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	TransitionPayment(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Payment, error)
	ListPayments(ctx context.Context, userID string, limit, offset int) ([]*Payment, error)

	// CreateEscrow inserts the escrow and its payment together
	CreateEscrow(ctx context.Context, p *Payment, e *Escrow) error
	GetEscrow(ctx context.Context, id uuid.UUID) (*Escrow, error)
	GetEscrowByPayment(ctx context.Context, paymentID uuid.UUID) (*Escrow, error)
	// TransitionEscrow moves the escrow and, when paymentTo is set, its payment
	TransitionEscrow(ctx context.Context, id uuid.UUID, from []EscrowStatus, to EscrowStatus, paymentTo Status) (*Escrow, error)

	CreateWithdrawal(ctx context.Context, w *Withdrawal) error
	GetWithdrawal(ctx context.Context, id uuid.UUID) (*Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, id uuid.UUID, from, to WithdrawalStatus) (*Withdrawal, error)
	CompleteWithdrawal(ctx context.Context, id uuid.UUID, transactionID string) (*Withdrawal, error)
	FailWithdrawal(ctx context.Context, id uuid.UUID, reason string) (*Withdrawal, error)
	ListWithdrawals(ctx context.Context, userID string, limit, offset int) ([]*Withdrawal, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates payment repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const paymentColumns = `id, user_id, order_id, type, amount, currency, status, provider,
	external_id, client_secret, description, created_at, updated_at`

const escrowColumns = `id, payment_id, order_id, buyer_id, seller_id, amount, fee_percentage,
	fee_amount, status, released_at, created_at, updated_at`

const withdrawalColumns = `id, user_id, amount, fee, net_amount, method, account_details, status,
	transaction_id, failure_reason, processed_at, created_at, updated_at`

const insertPayment = `
	INSERT INTO payments (` + paymentColumns + `)
	VALUES (:id, :user_id, :order_id, :type, :amount, :currency, :status, :provider,
		:external_id, :client_secret, :description, :created_at, :updated_at)
`

func (r *repository) CreatePayment(ctx context.Context, p *Payment) error {
	_, err := r.db.NamedExecContext(ctx, insertPayment, p)
	return err
}

func (r *repository) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var p Payment
	err := r.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) TransitionPayment(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Payment, error) {
	var p Payment
	err := r.db.GetContext(ctx, &p, `
		UPDATE payments SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+paymentColumns, id, to, pq.Array(statusStrings(from)))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetPayment(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrPaymentState
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) ListPayments(ctx context.Context, userID string, limit, offset int) ([]*Payment, error) {
	items := []*Payment{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+paymentColumns+` FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return items, err
}

func (r *repository) CreateEscrow(ctx context.Context, p *Payment, e *Escrow) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, insertPayment, p); err != nil {
		return err
	}
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO escrows (`+escrowColumns+`)
		VALUES (:id, :payment_id, :order_id, :buyer_id, :seller_id, :amount, :fee_percentage,
			:fee_amount, :status, :released_at, :created_at, :updated_at)
	`, e); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *repository) GetEscrow(ctx context.Context, id uuid.UUID) (*Escrow, error) {
	return r.getEscrow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
}

func (r *repository) GetEscrowByPayment(ctx context.Context, paymentID uuid.UUID) (*Escrow, error) {
	return r.getEscrow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE payment_id = $1`, paymentID)
}

func (r *repository) getEscrow(ctx context.Context, query string, arg interface{}) (*Escrow, error) {
	var e Escrow
	err := r.db.GetContext(ctx, &e, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repository) TransitionEscrow(ctx context.Context, id uuid.UUID, from []EscrowStatus, to EscrowStatus, paymentTo Status) (*Escrow, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	fromStrings := make([]string, len(from))
	for i, s := range from {
		fromStrings[i] = string(s)
	}

	var e Escrow
	err = tx.GetContext(ctx, &e, `
		UPDATE escrows
		SET status = $2,
			released_at = CASE WHEN $2 = 'released' THEN now() ELSE released_at END,
			updated_at = now()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+escrowColumns, id, to, pq.Array(fromStrings))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetEscrow(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrEscrowState
	}
	if err != nil {
		return nil, err
	}

	if paymentTo != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE payments SET status = $2, updated_at = now() WHERE id = $1
		`, e.PaymentID, paymentTo); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repository) CreateWithdrawal(ctx context.Context, w *Withdrawal) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO withdrawals (`+withdrawalColumns+`)
		VALUES (:id, :user_id, :amount, :fee, :net_amount, :method, :account_details, :status,
			:transaction_id, :failure_reason, :processed_at, :created_at, :updated_at)
	`, w)
	return err
}

func (r *repository) GetWithdrawal(ctx context.Context, id uuid.UUID) (*Withdrawal, error) {
	var w Withdrawal
	err := r.db.GetContext(ctx, &w, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *repository) updateWithdrawal(ctx context.Context, id uuid.UUID, query string, args ...interface{}) (*Withdrawal, error) {
	var w Withdrawal
	err := r.db.GetContext(ctx, &w, query+` RETURNING `+withdrawalColumns, append([]interface{}{id}, args...)...)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetWithdrawal(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrWithdrawalState
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *repository) TransitionWithdrawal(ctx context.Context, id uuid.UUID, from, to WithdrawalStatus) (*Withdrawal, error) {
	return r.updateWithdrawal(ctx, id, `
		UPDATE withdrawals SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, from, to)
}

func (r *repository) CompleteWithdrawal(ctx context.Context, id uuid.UUID, transactionID string) (*Withdrawal, error) {
	return r.updateWithdrawal(ctx, id, `
		UPDATE withdrawals
		SET status = 'completed', transaction_id = $2, processed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing'`, transactionID)
}

func (r *repository) FailWithdrawal(ctx context.Context, id uuid.UUID, reason string) (*Withdrawal, error) {
	return r.updateWithdrawal(ctx, id, `
		UPDATE withdrawals
		SET status = 'failed', failure_reason = $2, processed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing'`, reason)
}

func (r *repository) ListWithdrawals(ctx context.Context, userID string, limit, offset int) ([]*Withdrawal, error) {
	items := []*Withdrawal{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return items, err
}

func statusStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
