package wallet

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/evcarbon/carbon-credit-api/internal/middleware"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/errorhandler"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/response"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes returns the /wallet router. Issue and transfer are called by the
// other services with the service secret.
func (h *Handler) Routes(authMiddleware, serviceAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.With(serviceAuth).Post("/credits/issue", h.IssueCredits)
	r.With(serviceAuth).Post("/transfer", h.Transfer)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", h.Get)
		r.Post("/", h.Create)
		r.Get("/transactions", h.ListTransactions)
		r.Post("/burn", h.Burn)
	})
	return r
}

// Get handles GET /wallet
// @Summary Wallet balance, totals and recent movements
// @Tags Wallet
// @Security BearerAuth
// @Success 200 {object} response.Response{data=Summary}
// @Router /wallet [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.GetWallet(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "get_wallet", err)
		return
	}
	response.OK(w, summary)
}

// Create handles POST /wallet
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.svc.CreateWallet(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "create_wallet", err)
		return
	}
	response.Created(w, wallet)
}

// IssueCredits handles POST /wallet/credits/issue
// @Summary Mint credits for an approved verification
// @Tags Wallet
// @Security ServiceAuth
// @Success 201 {object} response.Response{data=MutationResult}
// @Router /wallet/credits/issue [post]
func (h *Handler) IssueCredits(w http.ResponseWriter, r *http.Request) {
	var req IssueCreditsRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	res, err := h.svc.IssueCredits(r.Context(), &req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "issue_credits", err)
		return
	}
	if res.Replayed {
		response.OK(w, res)
		return
	}
	response.Created(w, res)
}

// Transfer handles POST /wallet/transfer
// @Summary Move credits between two users
// @Tags Wallet
// @Security ServiceAuth
// @Success 200 {object} response.Response{data=MutationResult}
// @Failure 400 {object} response.Response "INSUFFICIENT_BALANCE"
// @Router /wallet/transfer [post]
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	res, err := h.svc.Transfer(r.Context(), &req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "transfer_credits", err)
		return
	}
	response.OK(w, res)
}

// Burn handles POST /wallet/burn
func (h *Handler) Burn(w http.ResponseWriter, r *http.Request) {
	var req BurnRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	res, err := h.svc.Burn(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "burn_credits", err)
		return
	}
	response.OK(w, res)
}

// ListTransactions handles GET /wallet/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	items, total, err := h.svc.ListTransactions(r.Context(), middleware.GetUserID(r.Context()), page, limit)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "list_transactions", err)
		return
	}
	response.WithMeta(w, items, response.NewMeta(total, page, limit))
}
