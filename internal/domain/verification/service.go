package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/jwt"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/outbox"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/storage"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/svcclient"
)

// WalletIssuer mints verified credits into the owner's wallet
type WalletIssuer interface {
	IssueCredits(ctx context.Context, p svcclient.IssueCreditsPayload) (*svcclient.WalletMutation, error)
}

// creditsScale matches the wallet's NUMERIC(20,3) balances
const creditsScale = 3

// Service handles the verification state machine
type Service struct {
	repo         Repository
	wallet       WalletIssuer
	outbox       outbox.Enqueuer
	docs         storage.Storage
	issueTimeout time.Duration
	now          func() time.Time
}

// NewService creates verification service
func NewService(repo Repository, wallet WalletIssuer, jobs outbox.Enqueuer, docs storage.Storage, issueTimeout time.Duration) *Service {
	if issueTimeout <= 0 {
		issueTimeout = 10 * time.Second
	}
	return &Service{
		repo:         repo,
		wallet:       wallet,
		outbox:       jobs,
		docs:         docs,
		issueTimeout: issueTimeout,
		now:          time.Now,
	}
}

func rawPtr(raw json.RawMessage) *json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return &raw
}

// Submit records a claim as pending. Resubmitting the same credit request
// returns the verification created the first time.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*Verification, error) {
	now := s.now().UTC()
	v := &Verification{
		ID:           uuid.New(),
		UserID:       req.UserID,
		VehicleID:    req.VehicleID,
		CO2Amount:    req.CO2Amount,
		TripsCount:   req.TripsCount,
		EmissionData: rawPtr(req.EmissionData),
		TripDetails:  rawPtr(req.TripDetails),
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.CreditRequestID != "" {
		id, err := uuid.Parse(req.CreditRequestID)
		if err != nil {
			return nil, apperr.Validation("INVALID_CREDIT_REQUEST_ID", "credit_request_id must be a UUID")
		}
		v.CreditRequestID = uuid.NullUUID{UUID: id, Valid: true}
	}

	stored, created, err := s.repo.Insert(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("insert verification: %w", err)
	}
	if created {
		log.Info().
			Str("verification_id", stored.ID.String()).
			Str("user_id", stored.UserID).
			Str("co2_amount", stored.CO2Amount.String()).
			Msg("Verification submitted")
	}
	return stored, nil
}

func certificateNumber(id uuid.UUID, at time.Time) string {
	return fmt.Sprintf("CC-%d-%s", at.UnixMilli(), id.String()[:8])
}

// Approve moves a pending verification to approved, mints the credits and
// always issues a certificate. A failed mint is reported through
// WalletSuccess and queued for the worker; the certificate stays
// pending_issue until the retry lands.
func (s *Service) Approve(ctx context.Context, req *ApproveRequest) (*ApproveResult, error) {
	id, err := uuid.Parse(req.VerificationID)
	if err != nil {
		return nil, ErrNotFound
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusPending {
		return nil, ErrAlreadyProcessed
	}

	credits := current.CO2Amount
	if req.CreditsAmount.Valid {
		if d := req.CreditsAmount.Decimal; !d.IsPositive() || !d.Equal(d.Truncate(creditsScale)) {
			return nil, ErrInvalidCredits
		}
		credits = req.CreditsAmount.Decimal
	}

	now := s.now().UTC()
	v, err := s.repo.Approve(ctx, id, req.CVAID, strings.TrimSpace(req.Notes), credits, now)
	if err != nil {
		return nil, err
	}

	issue := IssueJob{
		UserID:         v.UserID,
		Amount:         credits,
		VerificationID: v.ID,
		CO2Amount:      v.CO2Amount,
		Description:    fmt.Sprintf("Carbon credits for %skg CO2 reduction", v.CO2Amount.String()),
	}
	walletErr := s.issue(ctx, issue)

	cert := &Certificate{
		ID:                uuid.New(),
		UserID:            v.UserID,
		VerificationID:    v.ID,
		CertificateNumber: certificateNumber(v.ID, now),
		CO2Amount:         v.CO2Amount,
		CreditsAmount:     credits,
		IssuedBy:          req.CVAID,
		WalletStatus:      WalletIssued,
		IssuedAt:          now,
	}
	if walletErr != nil {
		cert.WalletStatus = WalletPending
	}
	if err := s.repo.InsertCertificate(context.WithoutCancel(ctx), cert); err != nil {
		return nil, fmt.Errorf("insert certificate: %w", err)
	}

	if walletErr != nil {
		issue.CertificateID = cert.ID
		if err := s.outbox.Enqueue(context.WithoutCancel(ctx), outbox.KindWalletIssue, issue); err != nil {
			log.Error().Err(err).Str("verification_id", v.ID.String()).Msg("Failed to queue wallet issuance")
		}
		log.Warn().Err(walletErr).
			Str("verification_id", v.ID.String()).
			Str("certificate_id", cert.ID.String()).
			Msg("Wallet issuance failed, certificate pending issue")
	}

	log.Info().
		Str("verification_id", v.ID.String()).
		Str("cva_id", req.CVAID).
		Str("credits", credits.String()).
		Bool("wallet_success", walletErr == nil).
		Msg("Verification approved")

	return &ApproveResult{
		VerificationID:    v.ID,
		Status:            v.Status,
		CreditsIssued:     credits,
		CertificateID:     cert.ID,
		CertificateNumber: cert.CertificateNumber,
		WalletSuccess:     walletErr == nil,
	}, nil
}

func (s *Service) issue(ctx context.Context, job IssueJob) error {
	ctx, cancel := context.WithTimeout(ctx, s.issueTimeout)
	defer cancel()

	_, err := s.wallet.IssueCredits(ctx, svcclient.IssueCreditsPayload{
		UserID:         job.UserID,
		Amount:         job.Amount,
		VerificationID: job.VerificationID.String(),
		CO2Amount:      job.CO2Amount,
		Description:    job.Description,
	})
	return err
}

// HandleIssueJob retries a wallet issuance queued by Approve. The wallet
// dedups on the verification id, so a mint that landed before a timeout is
// not repeated.
func (s *Service) HandleIssueJob(ctx context.Context, raw json.RawMessage) error {
	var job IssueJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return apperr.Fatal("outbox", fmt.Errorf("decode issue job: %w", err))
	}
	if err := s.issue(ctx, job); err != nil {
		return err
	}
	if err := s.repo.SetWalletStatus(ctx, job.CertificateID, WalletIssued); err != nil {
		return apperr.Retryable("verification-db", err)
	}
	log.Info().
		Str("certificate_id", job.CertificateID.String()).
		Str("verification_id", job.VerificationID.String()).
		Msg("Deferred wallet issuance completed")
	return nil
}

// Reject closes a pending verification. The comment is mandatory.
func (s *Service) Reject(ctx context.Context, req *RejectRequest) (*RejectResult, error) {
	comment := strings.TrimSpace(req.Comment)
	if comment == "" {
		return nil, ErrCommentRequired
	}
	id, err := uuid.Parse(req.VerificationID)
	if err != nil {
		return nil, ErrNotFound
	}

	v, err := s.repo.Reject(ctx, id, req.CVAID, comment, s.now().UTC())
	if err != nil {
		return nil, err
	}

	log.Info().Str("verification_id", v.ID.String()).Str("cva_id", req.CVAID).Msg("Verification rejected")
	return &RejectResult{VerificationID: v.ID, Status: v.Status, ReviewedAt: v.ReviewedAt.Time}, nil
}

// Get returns one verification
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Verification, error) {
	return s.repo.GetByID(ctx, id)
}

// ListPending returns the review queue, newest first
func (s *Service) ListPending(ctx context.Context, page, limit int) ([]*Verification, int, error) {
	return s.repo.ListByStatus(ctx, StatusPending, limit, (page-1)*limit)
}

// ListByUser returns every verification of a user
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*Verification, error) {
	return s.repo.ListByUser(ctx, userID)
}

// ListCertificates returns a user's certificates
func (s *Service) ListCertificates(ctx context.Context, userID string) ([]*Certificate, error) {
	return s.repo.ListCertificates(ctx, userID)
}

func certificateKey(c *Certificate) string {
	return "certificates/" + c.UserID + "/" + c.CertificateNumber + ".pdf"
}

// CertificateDocument returns the certificate PDF, rendering and storing it
// on first access. Only the owner, auditors and admins may read it.
func (s *Service) CertificateDocument(ctx context.Context, certID uuid.UUID, userID, role string) (*Certificate, []byte, error) {
	c, err := s.repo.GetCertificate(ctx, certID)
	if err != nil {
		return nil, nil, err
	}
	if c.UserID != userID && role != jwt.RoleCVA && role != jwt.RoleAdmin {
		return nil, nil, ErrForbidden
	}

	if c.DocumentKey.Valid {
		rc, err := s.docs.Get(ctx, c.DocumentKey.String)
		if err == nil {
			defer rc.Close()
			body, err := io.ReadAll(rc)
			if err != nil {
				return nil, nil, fmt.Errorf("read certificate document: %w", err)
			}
			return c, body, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("open certificate document: %w", err)
		}
		log.Warn().Str("certificate_id", c.ID.String()).Msg("Certificate document missing, re-rendering")
	}

	v, err := s.repo.GetByID(ctx, c.VerificationID)
	if err != nil {
		return nil, nil, err
	}
	body, err := renderCertificate(c, v)
	if err != nil {
		return nil, nil, err
	}

	key := certificateKey(c)
	if err := s.docs.Save(ctx, key, bytes.NewReader(body), "application/pdf"); err != nil {
		// serve the rendered copy anyway, it is re-rendered next time
		log.Error().Err(err).Str("certificate_id", c.ID.String()).Msg("Failed to store certificate document")
		return c, body, nil
	}
	if err := s.repo.SetDocumentKey(ctx, c.ID, key); err != nil {
		log.Error().Err(err).Str("certificate_id", c.ID.String()).Msg("Failed to record certificate document key")
	}
	return c, body, nil
}
