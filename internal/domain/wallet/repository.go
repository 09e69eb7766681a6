package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/evcarbon/carbon-credit-api/internal/pkg/database"
)

const queryTimeout = 5 * time.Second

type Repository interface {
	GetOrCreate(ctx context.Context, userID string) (*Wallet, error)
	GetByUser(ctx context.Context, userID string) (*Wallet, error)
	// Apply books m in a single transaction. Wallets are locked in id order
	// and the source is debited with a conditional decrement.
	Apply(ctx context.Context, m Movement) (*Applied, error)
	Totals(ctx context.Context, walletID uuid.UUID) (earned, spent decimal.Decimal, err error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*Transaction, int, error)
	ListIncoming(ctx context.Context, walletID uuid.UUID, limit int) ([]*Transaction, error)
	ListOutgoing(ctx context.Context, walletID uuid.UUID, limit int) ([]*Transaction, error)
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const walletColumns = `SELECT id, user_id, balance, created_at, updated_at FROM wallets`

const transactionColumns = `
	SELECT id, from_wallet_id, to_wallet_id, amount, type, reference_id, description, created_at
	FROM wallet_transactions`

func ensureWallet(ctx context.Context, ex sqlx.ExecerContext, userID string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, balance)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New(), userID)
	return err
}

func (r *repository) GetOrCreate(ctx context.Context, userID string) (*Wallet, error) {
	if err := ensureWallet(ctx, r.db, userID); err != nil {
		return nil, err
	}
	return r.GetByUser(ctx, userID)
}

func (r *repository) GetByUser(ctx context.Context, userID string) (*Wallet, error) {
	var w Wallet
	err := r.db.GetContext(ctx, &w, walletColumns+` WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *repository) Apply(ctx context.Context, m Movement) (*Applied, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// only the recipient is get-or-create; a sender must already hold a wallet
	users := make([]string, 0, 2)
	if m.FromUserID != "" {
		users = append(users, m.FromUserID)
	}
	if m.ToUserID != "" {
		if err := ensureWallet(ctx, tx, m.ToUserID); err != nil {
			return nil, err
		}
		users = append(users, m.ToUserID)
	}

	// lock order is by wallet id so opposite transfers cannot deadlock
	var locked []Wallet
	if err := tx.SelectContext(ctx, &locked, walletColumns+`
		WHERE user_id = ANY($1) ORDER BY id FOR UPDATE`, pq.Array(users)); err != nil {
		return nil, err
	}
	ids := make(map[string]uuid.UUID, len(locked))
	for _, w := range locked {
		ids[w.UserID] = w.ID
	}
	if _, ok := ids[m.FromUserID]; m.FromUserID != "" && !ok {
		return nil, ErrWalletNotFound
	}

	if m.Reference != "" {
		existing, err := transactionByReference(ctx, tx, m.Type, m.Reference)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if !existing.Amount.Equal(m.Amount) {
				return nil, ErrReferenceConflict
			}
			return &Applied{Transaction: existing, Replayed: true}, nil
		}
	}

	t := &Transaction{
		ID:          uuid.New(),
		Amount:      m.Amount,
		Type:        m.Type,
		ReferenceID: sql.NullString{String: m.Reference, Valid: m.Reference != ""},
		Description: sql.NullString{String: m.Description, Valid: m.Description != ""},
		CreatedAt:   time.Now().UTC(),
	}

	if m.FromUserID != "" {
		from := ids[m.FromUserID]
		res, err := tx.ExecContext(ctx, `
			UPDATE wallets SET balance = balance - $2, updated_at = now()
			WHERE id = $1 AND balance >= $2
		`, from, m.Amount)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrInsufficientBalance
		}
		t.FromWalletID = uuid.NullUUID{UUID: from, Valid: true}
	}

	if m.ToUserID != "" {
		to := ids[m.ToUserID]
		if _, err := tx.ExecContext(ctx, `
			UPDATE wallets SET balance = balance + $2, updated_at = now() WHERE id = $1
		`, to, m.Amount); err != nil {
			return nil, err
		}
		t.ToWalletID = uuid.NullUUID{UUID: to, Valid: true}
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO wallet_transactions (id, from_wallet_id, to_wallet_id, amount, type, reference_id, description, created_at)
		VALUES (:id, :from_wallet_id, :to_wallet_id, :amount, :type, :reference_id, :description, :created_at)
	`, t)
	if err != nil {
		if database.IsUniqueViolation(err) {
			// a concurrent call booked the same reference on other wallets
			return nil, ErrReferenceConflict
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Applied{Transaction: t}, nil
}

func transactionByReference(ctx context.Context, tx *sqlx.Tx, txType TransactionType, ref string) (*Transaction, error) {
	var t Transaction
	err := tx.GetContext(ctx, &t, transactionColumns+` WHERE type = $1 AND reference_id = $2`, txType, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repository) Totals(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	var totals struct {
		Earned decimal.Decimal `db:"earned"`
		Spent  decimal.Decimal `db:"spent"`
	}
	err := r.db.GetContext(ctx, &totals, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE to_wallet_id = $1), 0) AS earned,
			COALESCE(SUM(amount) FILTER (WHERE from_wallet_id = $1), 0) AS spent
		FROM wallet_transactions
		WHERE to_wallet_id = $1 OR from_wallet_id = $1
	`, walletID)
	return totals.Earned, totals.Spent, err
}

func (r *repository) ListTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*Transaction, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM wallet_transactions WHERE to_wallet_id = $1 OR from_wallet_id = $1
	`, walletID); err != nil {
		return nil, 0, err
	}

	items := []*Transaction{}
	err := r.db.SelectContext(ctx, &items, transactionColumns+`
		WHERE to_wallet_id = $1 OR from_wallet_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, walletID, limit, offset)
	return items, total, err
}

func (r *repository) ListIncoming(ctx context.Context, walletID uuid.UUID, limit int) ([]*Transaction, error) {
	items := []*Transaction{}
	err := r.db.SelectContext(ctx, &items, transactionColumns+`
		WHERE to_wallet_id = $1 ORDER BY created_at DESC LIMIT $2`, walletID, limit)
	return items, err
}

func (r *repository) ListOutgoing(ctx context.Context, walletID uuid.UUID, limit int) ([]*Transaction, error) {
	items := []*Transaction{}
	err := r.db.SelectContext(ctx, &items, transactionColumns+`
		WHERE from_wallet_id = $1 ORDER BY created_at DESC LIMIT $2`, walletID, limit)
	return items, err
}
