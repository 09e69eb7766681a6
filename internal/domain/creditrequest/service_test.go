package creditrequest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evcarbon/carbon-credit-api/internal/middleware"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/svcclient"
)

type memRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*CreditRequest
}

func newMemRepo() *memRepo { return &memRepo{rows: map[uuid.UUID]*CreditRequest{}} }

func (r *memRepo) Insert(_ context.Context, cr *CreditRequest) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rows {
		if cr.IdempotencyKey.Valid && existing.IdempotencyKey == cr.IdempotencyKey {
			return false, nil
		}
	}
	cp := *cr
	r.rows[cr.ID] = &cp
	return true, nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*CreditRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cr, ok := r.rows[id]; ok {
		cp := *cr
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (r *memRepo) GetByKey(_ context.Context, key string) (*CreditRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cr := range r.rows {
		if cr.IdempotencyKey.String == key {
			cp := *cr
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]*CreditRequest, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*CreditRequest
	for _, cr := range r.rows {
		if cr.UserID == userID {
			out = append(out, cr)
		}
	}
	return out, len(out), nil
}

func (r *memRepo) UpdateForward(_ context.Context, id uuid.UUID, status Status, verificationID, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cr := r.rows[id]
	cr.Status = status
	if verificationID != "" {
		cr.VerificationID = nullable(verificationID)
	}
	cr.LastError = nullable(lastErr)
	return nil
}

type fakeVerifier struct {
	calls int
	err   error
}

func (f *fakeVerifier) Submit(_ context.Context, p svcclient.VerificationPayload) (*svcclient.VerificationResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &svcclient.VerificationResult{VerificationID: "8d4f1c9e-0000-4000-8000-000000000001", Status: "pending", CO2Amount: p.CO2Amount}, nil
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

func newRequest(key string) *CreateRequest {
	return &CreateRequest{
		UserID:         "user-1",
		VehicleID:      "veh-1",
		CO2Amount:      decimal.RequireFromString("1200.5"),
		CreditsAmount:  decimal.NewFromInt(1),
		TripsCount:     3,
		IdempotencyKey: key,
	}
}

func TestCreateForwardsToVerification(t *testing.T) {
	repo, verifier, jobs := newMemRepo(), &fakeVerifier{}, &fakeOutbox{}
	svc := NewService(repo, verifier, jobs)

	cr, created, err := svc.Create(context.Background(), newRequest(""))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusForwarded, cr.Status)
	assert.Equal(t, 1, verifier.calls)
	assert.Empty(t, jobs.kinds)

	stored, _ := repo.GetByID(context.Background(), cr.ID)
	assert.Equal(t, StatusForwarded, stored.Status)
	assert.True(t, stored.VerificationID.Valid)
}

func TestCreateReturnsExistingForKnownKey(t *testing.T) {
	repo, verifier := newMemRepo(), &fakeVerifier{}
	svc := NewService(repo, verifier, &fakeOutbox{})

	first, created, err := svc.Create(context.Background(), newRequest("veh-1:gen-1"))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := svc.Create(context.Background(), newRequest("veh-1:gen-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, verifier.calls)
}

func TestCreateQueuesRetryableForwardFailure(t *testing.T) {
	repo := newMemRepo()
	verifier := &fakeVerifier{err: apperr.Retryable("verification-service", errors.New("503"))}
	jobs := &fakeOutbox{}
	svc := NewService(repo, verifier, jobs)

	cr, created, err := svc.Create(context.Background(), newRequest("k"))
	require.NoError(t, err, "forward failures are not surfaced")
	assert.True(t, created)
	assert.Equal(t, StatusForwardFailed, cr.Status)
	require.Equal(t, []string{"verification.submit"}, jobs.kinds)

	job := jobs.payloads[0].(ForwardJob)
	assert.Equal(t, cr.ID, job.CreditRequestID)
	assert.Equal(t, cr.ID.String(), job.Payload.CreditRequestID)

	// the worker replays the job once verification is back
	verifier.err = nil
	raw, _ := json.Marshal(job)
	require.NoError(t, svc.HandleForwardJob(context.Background(), raw))

	stored, _ := repo.GetByID(context.Background(), cr.ID)
	assert.Equal(t, StatusForwarded, stored.Status)
}

func TestCreateDoesNotQueueFatalForwardFailure(t *testing.T) {
	repo := newMemRepo()
	verifier := &fakeVerifier{err: apperr.Fatal("verification-service", errors.New("400"))}
	jobs := &fakeOutbox{}
	svc := NewService(repo, verifier, jobs)

	cr, _, err := svc.Create(context.Background(), newRequest(""))
	require.NoError(t, err)
	assert.Equal(t, StatusForwardFailed, cr.Status)
	assert.Empty(t, jobs.kinds)
}

func TestGetHidesOtherUsers(t *testing.T) {
	svc := NewService(newMemRepo(), &fakeVerifier{}, &fakeOutbox{})
	cr, _, err := svc.Create(context.Background(), newRequest(""))
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), cr.ID, "user-2", false)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := svc.Get(context.Background(), cr.ID, "", true)
	require.NoError(t, err)
	assert.Equal(t, cr.ID, got.ID)
}

func TestCreateHandlerStatusCodes(t *testing.T) {
	svc := NewService(newMemRepo(), &fakeVerifier{}, &fakeOutbox{})
	router := NewHandler(svc).Routes(
		func(next http.Handler) http.Handler { return next },
		middleware.ServiceAuth("svc-secret"),
	)

	post := func(token string) *httptest.ResponseRecorder {
		body := `{"userId":"user-1","co2Amount":1500,"creditsAmount":1,"vehicle_id":"veh-1","idempotency_key":"veh-1:abc"}`
		req := httptest.NewRequest(http.MethodPost, "/request", bytes.NewBufferString(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, post("wrong").Code)
	assert.Equal(t, http.StatusCreated, post("svc-secret").Code)
	assert.Equal(t, http.StatusOK, post("svc-secret").Code)
}

func TestCreateHandlerValidation(t *testing.T) {
	svc := NewService(newMemRepo(), &fakeVerifier{}, &fakeOutbox{})
	router := NewHandler(svc).Routes(
		func(next http.Handler) http.Handler { return next },
		middleware.ServiceAuth("svc-secret"),
	)

	req := httptest.NewRequest(http.MethodPost, "/request", bytes.NewBufferString(`{"co2Amount":0}`))
	req.Header.Set("Authorization", "Bearer svc-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "userId")
}
