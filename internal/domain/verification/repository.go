package verification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Repository defines verification and certificate data access
type Repository interface {
	// Insert stores v. When v carries a credit request id that was already
	// submitted, the existing verification is returned with false.
	Insert(ctx context.Context, v *Verification) (*Verification, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Verification, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Verification, int, error)
	ListByUser(ctx context.Context, userID string) ([]*Verification, error)

	// Approve and Reject only move a pending verification. They return
	// ErrAlreadyProcessed when it was not pending.
	Approve(ctx context.Context, id uuid.UUID, cvaID, notes string, credits decimal.Decimal, at time.Time) (*Verification, error)
	Reject(ctx context.Context, id uuid.UUID, cvaID, comment string, at time.Time) (*Verification, error)

	InsertCertificate(ctx context.Context, c *Certificate) error
	GetCertificate(ctx context.Context, id uuid.UUID) (*Certificate, error)
	ListCertificates(ctx context.Context, userID string) ([]*Certificate, error)
	SetWalletStatus(ctx context.Context, certID uuid.UUID, status WalletStatus) error
	SetDocumentKey(ctx context.Context, certID uuid.UUID, key string) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates verification repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const verificationColumns = `
	id, credit_request_id, user_id, vehicle_id, co2_amount, trips_count, emission_data,
	trip_details, status, cva_id, credits_issued, notes, rejection_reason, reviewed_at,
	created_at, updated_at`

func jsonParam(raw *json.RawMessage) interface{} {
	if raw == nil || len(*raw) == 0 {
		return nil
	}
	return string(*raw)
}

func (r *repository) Insert(ctx context.Context, v *Verification) (*Verification, bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO verifications (
			id, credit_request_id, user_id, vehicle_id, co2_amount, trips_count,
			emission_data, trip_details, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (credit_request_id) WHERE credit_request_id IS NOT NULL DO NOTHING
	`, v.ID, v.CreditRequestID, v.UserID, v.VehicleID, v.CO2Amount, v.TripsCount,
		jsonParam(v.EmissionData), jsonParam(v.TripDetails), v.Status, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return nil, false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 1 {
		return v, true, nil
	}

	var existing Verification
	err = r.db.GetContext(ctx, &existing,
		`SELECT`+verificationColumns+` FROM verifications WHERE credit_request_id = $1`, v.CreditRequestID)
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Verification, error) {
	var v Verification
	err := r.db.GetContext(ctx, &v, `SELECT`+verificationColumns+` FROM verifications WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *repository) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Verification, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM verifications WHERE status = $1`, status); err != nil {
		return nil, 0, err
	}

	items := []*Verification{}
	err := r.db.SelectContext(ctx, &items, `SELECT`+verificationColumns+`
		FROM verifications WHERE status = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	return items, total, err
}

func (r *repository) ListByUser(ctx context.Context, userID string) ([]*Verification, error) {
	items := []*Verification{}
	err := r.db.SelectContext(ctx, &items, `SELECT`+verificationColumns+`
		FROM verifications WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	return items, err
}

// transition runs a guarded status update and tells a missing row apart from
// one that already left pending.
func (r *repository) transition(ctx context.Context, id uuid.UUID, query string, args ...interface{}) (*Verification, error) {
	var v Verification
	err := r.db.GetContext(ctx, &v, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrAlreadyProcessed
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *repository) Approve(ctx context.Context, id uuid.UUID, cvaID, notes string, credits decimal.Decimal, at time.Time) (*Verification, error) {
	return r.transition(ctx, id, `
		UPDATE verifications
		SET status = 'approved', cva_id = $2, notes = NULLIF($3, ''), credits_issued = $4,
			reviewed_at = $5, updated_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING`+verificationColumns, id, cvaID, notes, credits, at)
}

func (r *repository) Reject(ctx context.Context, id uuid.UUID, cvaID, comment string, at time.Time) (*Verification, error) {
	return r.transition(ctx, id, `
		UPDATE verifications
		SET status = 'rejected', cva_id = $2, notes = $3, rejection_reason = $3,
			reviewed_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING`+verificationColumns, id, cvaID, comment, at)
}

func (r *repository) InsertCertificate(ctx context.Context, c *Certificate) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO certificates (
			id, user_id, verification_id, certificate_number, co2_amount, credits_amount,
			issued_by, wallet_status, issued_at
		) VALUES (
			:id, :user_id, :verification_id, :certificate_number, :co2_amount, :credits_amount,
			:issued_by, :wallet_status, :issued_at
		)`, c)
	return err
}

const certificateColumns = `
	SELECT id, user_id, verification_id, certificate_number, co2_amount, credits_amount,
		issued_by, wallet_status, document_key, issued_at
	FROM certificates`

func (r *repository) GetCertificate(ctx context.Context, id uuid.UUID) (*Certificate, error) {
	var c Certificate
	err := r.db.GetContext(ctx, &c, certificateColumns+` WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCertificateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repository) ListCertificates(ctx context.Context, userID string) ([]*Certificate, error) {
	items := []*Certificate{}
	err := r.db.SelectContext(ctx, &items, certificateColumns+` WHERE user_id = $1 ORDER BY issued_at DESC`, userID)
	return items, err
}

func (r *repository) SetWalletStatus(ctx context.Context, certID uuid.UUID, status WalletStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE certificates SET wallet_status = $2 WHERE id = $1`, certID, status)
	return err
}

func (r *repository) SetDocumentKey(ctx context.Context, certID uuid.UUID, key string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE certificates SET document_key = $2 WHERE id = $1`, certID, key)
	return err
}
