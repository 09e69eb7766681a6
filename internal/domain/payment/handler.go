package payment

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

// Handler handles payment HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates payment handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the /payments router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/", h.CreatePayment)
	r.Get("/history", h.History)
	r.Get("/{id}", h.GetPayment)
	r.Post("/{id}/confirm", h.ConfirmPayment)

	r.Post("/escrows", h.CreateEscrow)
	r.Get("/escrows/{id}", h.GetEscrow)
	r.Post("/escrows/{id}/fund", h.escrowAction("fund_escrow", h.service.FundEscrow))
	r.Post("/escrows/{id}/release", h.escrowAction("release_escrow", h.service.ReleaseEscrow))
	r.Post("/escrows/{id}/refund", h.escrowAction("refund_escrow", h.service.RefundEscrow))
	r.Post("/escrows/{id}/dispute", h.escrowAction("dispute_escrow", h.service.DisputeEscrow))

	return r
}

// WithdrawalRoutes returns the /withdrawal router
func (h *Handler) WithdrawalRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/", h.CreateWithdrawal)
	r.With(middleware.RequireAdmin()).Post("/process", h.ProcessWithdrawal)
	r.Post("/{id}/cancel", h.CancelWithdrawal)

	return r
}

func parseUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid ID")
		return uuid.Nil, false
	}
	return id, true
}

func caller(r *http.Request) (string, bool) {
	ctx := r.Context()
	return middleware.GetUserID(ctx), middleware.GetRole(ctx) == jwt.RoleAdmin
}

// CreatePayment handles POST /payments
// @Summary Start a payment
// @Description Creates a gateway intent (Stripe PaymentIntent or mock) and a pending payment
// @Tags Payment
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreatePaymentRequest true "Payment"
// @Success 201 {object} response.Response{data=PaymentResult}
// @Failure 400 {object} response.Response
// @Failure 502 {object} response.Response
// @Router /payments [post]
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	out, err := h.service.CreatePayment(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "create_payment", err)
		return
	}
	response.Created(w, out)
}

// GetPayment handles GET /payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r)
	if !ok {
		return
	}
	userID, isAdmin := caller(r)
	p, err := h.service.GetPayment(r.Context(), id, userID, isAdmin)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "get_payment", err)
		return
	}
	response.OK(w, p)
}

// ConfirmPayment handles POST /payments/{id}/confirm
// @Summary Confirm a payment intent
// @Tags Payment
// @Security BearerAuth
// @Success 200 {object} response.Response{data=Payment}
// @Failure 409 {object} response.Response
// @Router /payments/{id}/confirm [post]
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r)
	if !ok {
		return
	}
	p, err := h.service.ConfirmPayment(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "confirm_payment", err)
		return
	}
	response.OK(w, p)
}

// History handles GET /payments/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	out, err := h.service.History(r.Context(), middleware.GetUserID(r.Context()), page, limit)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "payment_history", err)
		return
	}
	response.OK(w, out)
}

// CreateEscrow handles POST /payments/escrows
// @Summary Hold a buyer payment in escrow
// @Tags Payment
// @Security BearerAuth
// @Param request body CreateEscrowRequest true "Escrow"
// @Success 201 {object} response.Response{data=EscrowResult}
// @Router /payments/escrows [post]
func (h *Handler) CreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req CreateEscrowRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	out, err := h.service.CreateEscrow(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "create_escrow", err)
		return
	}
	response.Created(w, out)
}

// GetEscrow handles GET /payments/escrows/{id}
func (h *Handler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r)
	if !ok {
		return
	}
	userID, isAdmin := caller(r)
	e, err := h.service.GetEscrow(r.Context(), id, userID, isAdmin)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "get_escrow", err)
		return
	}
	response.OK(w, e)
}

type escrowFunc func(ctx context.Context, id uuid.UUID, userID string, isAdmin bool) (*Escrow, error)

func (h *Handler) escrowAction(op string, fn escrowFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, r)
		if !ok {
			return
		}
		userID, isAdmin := caller(r)
		e, err := fn(r.Context(), id, userID, isAdmin)
		if err != nil {
			errorhandler.HandleError(r.Context(), w, op, err)
			return
		}
		response.OK(w, e)
	}
}

// CreateWithdrawal handles POST /withdrawal
// @Summary Request a payout
// @Description Fee is 2% for bank_transfer and 3% for stripe or paypal
// @Tags Payment
// @Security BearerAuth
// @Param request body CreateWithdrawalRequest true "Withdrawal"
// @Success 201 {object} response.Response{data=Withdrawal}
// @Router /withdrawal [post]
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req CreateWithdrawalRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	out, err := h.service.CreateWithdrawal(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "create_withdrawal", err)
		return
	}
	response.Created(w, out)
}

// ProcessWithdrawal handles POST /withdrawal/process
// @Summary Pay out a pending withdrawal
// @Tags Payment
// @Security BearerAuth
// @Param request body ProcessWithdrawalRequest true "Withdrawal"
// @Success 200 {object} response.Response{data=ProcessWithdrawalResponse}
// @Failure 409 {object} response.Response
// @Failure 502 {object} response.Response
// @Router /withdrawal/process [post]
func (h *Handler) ProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req ProcessWithdrawalRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}
	id, err := uuid.Parse(req.WithdrawalID)
	if err != nil {
		response.BadRequest(w, "Invalid withdrawal_id")
		return
	}

	out, err := h.service.ProcessWithdrawal(r.Context(), id)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "process_withdrawal", err)
		return
	}
	response.OK(w, ProcessWithdrawalResponse{
		WithdrawalID:  out.ID,
		Status:        out.Status,
		TransactionID: out.TransactionID,
		ProcessedAt:   out.ProcessedAt,
	})
}

// CancelWithdrawal handles POST /withdrawal/{id}/cancel
func (h *Handler) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r)
	if !ok {
		return
	}
	userID, isAdmin := caller(r)
	out, err := h.service.CancelWithdrawal(r.Context(), id, userID, isAdmin)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "cancel_withdrawal", err)
		return
	}
	response.OK(w, out)
}
