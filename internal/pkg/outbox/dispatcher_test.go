package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"
)

type fakeQueue struct {
	jobs    []Job
	done    []uuid.UUID
	dead    map[uuid.UUID]string
	retries map[uuid.UUID]time.Time
}

func newFakeQueue(jobs ...Job) *fakeQueue {
	return &fakeQueue{jobs: jobs, dead: map[uuid.UUID]string{}, retries: map[uuid.UUID]time.Time{}}
}

func (q *fakeQueue) Claim(_ context.Context, limit int) ([]Job, error) {
	if len(q.jobs) > limit {
		return q.jobs[:limit], nil
	}
	return q.jobs, nil
}

func (q *fakeQueue) MarkDone(_ context.Context, id uuid.UUID) error {
	q.done = append(q.done, id)
	return nil
}

func (q *fakeQueue) MarkRetry(_ context.Context, id uuid.UUID, next time.Time, _ string) error {
	q.retries[id] = next
	return nil
}

func (q *fakeQueue) MarkDead(_ context.Context, id uuid.UUID, lastErr string) error {
	q.dead[id] = lastErr
	return nil
}

func job(kind string, attempts int) Job {
	return Job{ID: uuid.New(), Kind: kind, Payload: json.RawMessage(`{}`), Status: StatusPending, Attempts: attempts, MaxAttempts: 3}
}

func TestDispatcherOutcomes(t *testing.T) {
	ok := job(KindEventPublish, 0)
	retry := job(KindWalletIssue, 1)
	exhausted := job(KindWalletIssue, 2)
	fatal := job(KindVerificationSubmit, 0)
	unknown := job("mystery", 0)

	q := newFakeQueue(ok, retry, exhausted, fatal, unknown)
	d := NewDispatcher(q, 10)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	d.Register(KindEventPublish, func(context.Context, json.RawMessage) error { return nil })
	d.Register(KindWalletIssue, func(context.Context, json.RawMessage) error {
		return apperr.Retryable("wallet-service", errors.New("503"))
	})
	d.Register(KindVerificationSubmit, func(context.Context, json.RawMessage) error {
		return apperr.Fatal("verification-service", errors.New("422"))
	})

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []uuid.UUID{ok.ID}, q.done)
	assert.Equal(t, now.Add(60*time.Second), q.retries[retry.ID])
	assert.Contains(t, q.dead, exhausted.ID)
	assert.Contains(t, q.dead, fatal.ID)
	assert.Contains(t, q.dead, unknown.ID)
	assert.Len(t, q.retries, 1)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 30*time.Second, Backoff(0))
	assert.Equal(t, 60*time.Second, Backoff(1))
	assert.Equal(t, 4*time.Minute, Backoff(3))
	assert.Equal(t, time.Hour, Backoff(7))
	assert.Equal(t, time.Hour, Backoff(40))
}
