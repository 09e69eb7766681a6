package creditrequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/outbox"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/svcclient"
)

// VerificationSubmitter forwards a claim to the verification service
type VerificationSubmitter interface {
	Submit(ctx context.Context, p svcclient.VerificationPayload) (*svcclient.VerificationResult, error)
}

// ForwardJob is the outbox payload for a retried verification submit
type ForwardJob struct {
	CreditRequestID uuid.UUID                     `json:"credit_request_id"`
	Payload         svcclient.VerificationPayload `json:"payload"`
}

// Service handles credit request business logic
type Service struct {
	repo     Repository
	verifier VerificationSubmitter
	outbox   outbox.Enqueuer
	now      func() time.Time
}

// NewService creates credit request service
func NewService(repo Repository, verifier VerificationSubmitter, jobs outbox.Enqueuer) *Service {
	return &Service{
		repo:     repo,
		verifier: verifier,
		outbox:   jobs,
		now:      time.Now,
	}
}

// Create stores a credit request and forwards it for verification. The
// second return value is false when an earlier request with the same
// idempotency key was returned instead. Forwarding failures never fail the
// call: the request is kept with status forward_failed, and retryable ones
// are queued for the worker.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*CreditRequest, bool, error) {
	if req.IdempotencyKey != "" {
		existing, err := s.repo.GetByKey(ctx, req.IdempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	now := s.now().UTC()
	cr := &CreditRequest{
		ID:             uuid.New(),
		UserID:         req.UserID,
		VehicleID:      nullable(req.VehicleID),
		CO2Amount:      req.CO2Amount,
		CreditsAmount:  req.CreditsAmount,
		IdempotencyKey: nullable(req.IdempotencyKey),
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	inserted, err := s.repo.Insert(ctx, cr)
	if err != nil {
		return nil, false, fmt.Errorf("insert credit request: %w", err)
	}
	if !inserted {
		// lost the race to a concurrent request with the same key
		existing, err := s.repo.GetByKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	log.Info().
		Str("credit_request_id", cr.ID.String()).
		Str("user_id", cr.UserID).
		Str("co2_amount", cr.CO2Amount.String()).
		Str("credits_amount", cr.CreditsAmount.String()).
		Msg("Credit request created")

	payload := svcclient.VerificationPayload{
		CreditRequestID: cr.ID.String(),
		UserID:          req.UserID,
		VehicleID:       req.VehicleID,
		CO2Amount:       req.CO2Amount,
		TripsCount:      req.TripsCount,
		EmissionData:    req.EmissionData,
		TripDetails:     req.TripDetails,
	}
	s.forward(ctx, cr, payload)

	return cr, true, nil
}

func (s *Service) forward(ctx context.Context, cr *CreditRequest, payload svcclient.VerificationPayload) {
	res, err := s.verifier.Submit(ctx, payload)
	if err == nil {
		cr.Status = StatusForwarded
		cr.VerificationID = nullable(res.VerificationID)
		if err := s.repo.UpdateForward(ctx, cr.ID, StatusForwarded, res.VerificationID, ""); err != nil {
			log.Error().Err(err).Str("credit_request_id", cr.ID.String()).Msg("Failed to record forwarded status")
		}
		return
	}

	cr.Status = StatusForwardFailed
	cr.LastError = nullable(err.Error())
	event := log.Warn().Err(err).Str("credit_request_id", cr.ID.String()).Bool("retryable", apperr.IsRetryable(err))

	if apperr.IsRetryable(err) {
		job := ForwardJob{CreditRequestID: cr.ID, Payload: payload}
		if qerr := s.outbox.Enqueue(context.WithoutCancel(ctx), outbox.KindVerificationSubmit, job); qerr != nil {
			log.Error().Err(qerr).Str("credit_request_id", cr.ID.String()).Msg("Failed to queue verification submit")
		}
	}
	event.Msg("Verification forward failed")

	if err := s.repo.UpdateForward(context.WithoutCancel(ctx), cr.ID, StatusForwardFailed, "", err.Error()); err != nil {
		log.Error().Err(err).Str("credit_request_id", cr.ID.String()).Msg("Failed to record forward failure")
	}
}

// HandleForwardJob retries a queued verification submit. The returned error
// decides the job's fate in the dispatcher.
func (s *Service) HandleForwardJob(ctx context.Context, raw json.RawMessage) error {
	var job ForwardJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return apperr.Fatal("outbox", fmt.Errorf("decode forward job: %w", err))
	}

	res, err := s.verifier.Submit(ctx, job.Payload)
	if err != nil {
		if uerr := s.repo.UpdateForward(ctx, job.CreditRequestID, StatusForwardFailed, "", err.Error()); uerr != nil {
			log.Error().Err(uerr).Str("credit_request_id", job.CreditRequestID.String()).Msg("Failed to record forward failure")
		}
		return err
	}

	log.Info().
		Str("credit_request_id", job.CreditRequestID.String()).
		Str("verification_id", res.VerificationID).
		Msg("Verification submit retried successfully")
	return s.repo.UpdateForward(ctx, job.CreditRequestID, StatusForwarded, res.VerificationID, "")
}

// Get returns a credit request. Owners see their own, service callers see all.
func (s *Service) Get(ctx context.Context, id uuid.UUID, userID string, service bool) (*CreditRequest, error) {
	cr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !service && cr.UserID != userID {
		return nil, ErrNotFound
	}
	return cr, nil
}

// ListByUser returns a page of the user's credit requests, newest first
func (s *Service) ListByUser(ctx context.Context, userID string, page, limit int) ([]*CreditRequest, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByUser(ctx, userID, limit, (page-1)*limit)
}
