// Package outbox is a durable retry queue for cross-service side effects that
// failed after the local state change committed.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Job kinds.
const (
	KindVerificationSubmit = "verification.submit"
	KindWalletIssue        = "wallet.issue"
	KindWalletCompensate   = "wallet.compensate"
	KindEventPublish       = "event.publish"
)

// Job statuses.
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusDead    = "dead"
)

const (
	baseBackoff = 30 * time.Second
	maxBackoff  = time.Hour
	// claimLease keeps a claimed job invisible to other dispatchers while it runs.
	claimLease = 5 * time.Minute
)

// Job is one queued side effect.
type Job struct {
	ID            uuid.UUID       `db:"id"`
	Kind          string          `db:"kind"`
	Payload       json.RawMessage `db:"payload"`
	Status        string          `db:"status"`
	Attempts      int             `db:"attempts"`
	MaxAttempts   int             `db:"max_attempts"`
	NextAttemptAt time.Time       `db:"next_attempt_at"`
	LastError     sql.NullString  `db:"last_error"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// Enqueuer is what domain services depend on to schedule a retry.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any) error
}

// Store persists jobs in the outbox_jobs table.
type Store struct {
	db          *sqlx.DB
	maxAttempts int
}

func NewStore(db *sqlx.DB, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Store{db: db, maxAttempts: maxAttempts}
}

// Enqueue schedules a job for immediate dispatch.
func (s *Store) Enqueue(ctx context.Context, kind string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outbox_jobs (id, kind, payload, max_attempts)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), kind, string(body), s.maxAttempts)
	return err
}

// Claim returns up to limit due jobs and pushes their next_attempt_at forward
// by a lease so concurrent dispatchers skip them.
func (s *Store) Claim(ctx context.Context, limit int) ([]Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var jobs []Job
	err = tx.SelectContext(ctx, &jobs, `
		SELECT id, kind, payload, status, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at
		FROM outbox_jobs
		WHERE status = 'pending' AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	query, args, err := sqlx.In(`UPDATE outbox_jobs SET next_attempt_at = ?, updated_at = now() WHERE id IN (?)`,
		time.Now().Add(claimLease), ids)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return nil, err
	}

	return jobs, tx.Commit()
}

func (s *Store) MarkDone(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_jobs SET status = 'done', attempts = attempts + 1, last_error = NULL, updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (s *Store) MarkRetry(ctx context.Context, id uuid.UUID, next time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_jobs SET attempts = attempts + 1, next_attempt_at = $2, last_error = $3, updated_at = now()
		WHERE id = $1
	`, id, next, lastErr)
	return err
}

func (s *Store) MarkDead(ctx context.Context, id uuid.UUID, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_jobs SET status = 'dead', attempts = attempts + 1, last_error = $2, updated_at = now()
		WHERE id = $1
	`, id, lastErr)
	return err
}

// Backoff returns the delay before the next attempt after attempts failures.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := baseBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
