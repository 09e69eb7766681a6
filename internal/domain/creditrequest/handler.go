package creditrequest

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/evcarbon/carbon-credit-api/internal/middleware"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/errorhandler"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/response"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/validator"
)

// Handler handles credit request HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates credit request handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the /credits router. Creation is a service-to-service call.
func (h *Handler) Routes(authMiddleware, serviceAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.With(serviceAuth).Post("/request", h.Create)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/requests", h.ListMine)
		r.Get("/requests/{id}", h.Get)
	})

	return r
}

// Create handles POST /credits/request
// @Summary Create a credit request and forward it for verification
// @Tags Credits
// @Security ServiceAuth
// @Success 200,201 {object} response.Response{data=CreditRequestResponse}
// @Failure 400 {object} response.Response
// @Router /credits/request [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	cr, created, err := h.service.Create(r.Context(), &req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "create_credit_request", err)
		return
	}
	if !created {
		response.OK(w, ResponseFromEntity(cr))
		return
	}
	response.Created(w, ResponseFromEntity(cr))
}

// Get handles GET /credits/requests/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid credit request ID")
		return
	}

	ctx := r.Context()
	cr, err := h.service.Get(ctx, id, middleware.GetUserID(ctx), middleware.IsServiceCall(ctx))
	if err != nil {
		errorhandler.HandleError(ctx, w, "get_credit_request", err)
		return
	}
	response.OK(w, ResponseFromEntity(cr))
}

// ListMine handles GET /credits/requests
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	items, total, err := h.service.ListByUser(r.Context(), middleware.GetUserID(r.Context()), page, limit)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "list_credit_requests", err)
		return
	}

	out := make([]*CreditRequestResponse, len(items))
	for i, cr := range items {
		out[i] = ResponseFromEntity(cr)
	}
	response.WithMeta(w, out, response.NewMeta(total, page, limit))
}

// CalculateCO2 handles POST /calculate/co2
func (h *Handler) CalculateCO2(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	calc, err := CalculateCO2(req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "calculate_co2", err)
		return
	}
	response.OK(w, calc)
}
