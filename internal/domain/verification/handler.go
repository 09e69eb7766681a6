package verification

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/evcarbon/carbon-credit-api/internal/middleware"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/errorhandler"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/jwt"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/response"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/validator"
)

// Handler handles verification HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates verification handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the /verification router. Submit is mounted separately
// under /credits/verify behind service auth.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/", h.ListMine)
	r.Get("/certificates", h.ListCertificates)
	r.Get("/certificates/{id}/document", h.CertificateDocument)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireVerifier())
		r.Get("/pending", h.ListPending)
		r.Post("/approve", h.Approve)
		r.Post("/reject", h.Reject)
	})

	r.Get("/{id}", h.Get)

	return r
}

// Submit handles POST /credits/verify
// @Summary Submit a credit claim for verification
// @Tags Verification
// @Security ServiceAuth
// @Success 201 {object} response.Response{data=SubmitResult}
// @Router /credits/verify [post]
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	v, err := h.service.Submit(r.Context(), &req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "submit_verification", err)
		return
	}
	response.Created(w, SubmitResult{
		VerificationID: v.ID,
		Status:         v.Status,
		CO2Amount:      v.CO2Amount,
		SubmittedAt:    v.CreatedAt,
	})
}

// Approve handles POST /verification/approve
// @Summary Approve a pending verification and mint credits
// @Tags Verification
// @Security BearerAuth
// @Success 200 {object} response.Response{data=ApproveResult}
// @Failure 409 {object} response.Response
// @Router /verification/approve [post]
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}
	req.CVAID = reviewerID(r.Context(), req.CVAID)

	res, err := h.service.Approve(r.Context(), &req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "approve_verification", err)
		return
	}
	response.OK(w, res)
}

// reviewerID is the caller's own id. Only an admin may record the decision
// under another reviewer.
func reviewerID(ctx context.Context, requested string) string {
	if requested != "" && middleware.GetRole(ctx) == jwt.RoleAdmin {
		return requested
	}
	return middleware.GetUserID(ctx)
}

// Reject handles POST /verification/reject
// @Summary Reject a pending verification
// @Tags Verification
// @Security BearerAuth
// @Router /verification/reject [post]
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}
	req.CVAID = reviewerID(r.Context(), req.CVAID)

	res, err := h.service.Reject(r.Context(), &req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "reject_verification", err)
		return
	}
	response.OK(w, res)
}

// ListPending handles GET /verification/pending
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	items, total, err := h.service.ListPending(r.Context(), page, limit)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "list_pending_verifications", err)
		return
	}
	response.WithMeta(w, items, response.NewMeta(total, page, limit))
}

// ListMine handles GET /verification
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListByUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "list_verifications", err)
		return
	}
	response.OK(w, items)
}

// Get handles GET /verification/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid verification ID")
		return
	}

	ctx := r.Context()
	v, err := h.service.Get(ctx, id)
	if err != nil {
		errorhandler.HandleError(ctx, w, "get_verification", err)
		return
	}
	role := middleware.GetRole(ctx)
	if v.UserID != middleware.GetUserID(ctx) && role != jwt.RoleCVA && role != jwt.RoleAdmin {
		errorhandler.HandleError(ctx, w, "get_verification", ErrNotFound)
		return
	}
	response.OK(w, v)
}

// ListCertificates handles GET /verification/certificates
func (h *Handler) ListCertificates(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListCertificates(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "list_certificates", err)
		return
	}
	response.OK(w, items)
}

// CertificateDocument handles GET /verification/certificates/{id}/document
// @Summary Download a certificate as PDF
// @Tags Verification
// @Produce application/pdf
// @Router /verification/certificates/{id}/document [get]
func (h *Handler) CertificateDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid certificate ID")
		return
	}

	ctx := r.Context()
	c, body, err := h.service.CertificateDocument(ctx, id, middleware.GetUserID(ctx), middleware.GetRole(ctx))
	if err != nil {
		errorhandler.HandleError(ctx, w, "certificate_document", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+c.CertificateNumber+`.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
