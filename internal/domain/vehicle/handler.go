package vehicle

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/evcarbon/carbon-credit-api/internal/middleware"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/errorhandler"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/response"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/validator"
)

const (
	maxUploadSize       = 10 << 20
	idempotencyHeader   = "Idempotency-Key"
	maxIdempotencyKeyLn = 128
)

// Handler handles vehicle and trip HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates vehicle handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns vehicle router. Every route requires an authenticated owner.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/", h.Register)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)

	r.Post("/{id}/trips", h.AddTrip)
	r.Get("/{id}/trips", h.ListTrips)
	r.Post("/{id}/trips/import", h.ImportTrips)

	r.Get("/{id}/co2-savings", h.CO2Savings)
	r.Post("/{id}/credits/generate", h.GenerateCredits)

	return r
}

// Register handles POST /vehicles
// @Summary Register a vehicle
// @Tags Vehicle
// @Security BearerAuth
// @Success 201 {object} response.Response{data=Vehicle}
// @Failure 400,409 {object} response.Response
// @Router /vehicles [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterVehicleRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	v, err := h.service.RegisterVehicle(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "register_vehicle", err)
		return
	}
	response.Created(w, v)
}

// List handles GET /vehicles
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.service.ListVehicles(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "list_vehicles", err)
		return
	}
	response.OK(w, vehicles)
}

// Get handles GET /vehicles/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.GetVehicle(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "get_vehicle", err)
		return
	}
	v.Trips = nil
	response.OK(w, v)
}

// AddTrip handles POST /vehicles/{id}/trips
// @Summary Record a trip and calculate saved CO2
// @Tags Vehicle
// @Security BearerAuth
// @Success 201 {object} response.Response{data=AddTripResult}
// @Failure 400,404 {object} response.Response
// @Router /vehicles/{id}/trips [post]
func (h *Handler) AddTrip(w http.ResponseWriter, r *http.Request) {
	var in TripInput
	if err := response.DecodeJSON(r.Body, &in); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	res, err := h.service.AddTrip(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "add_trip", err)
		return
	}
	response.Created(w, res)
}

// ListTrips handles GET /vehicles/{id}/trips
func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	res, err := h.service.ListTrips(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), ListTripsParams{
		Page:  page,
		Limit: limit,
		Sort:  q.Get("sort"),
	})
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "list_trips", err)
		return
	}
	response.WithMeta(w, res.Trips, response.NewMeta(res.Total, res.Page, res.Limit))
}

// ImportTrips handles POST /vehicles/{id}/trips/import. It accepts a
// multipart "file" (CSV or XLSX) or a JSON body with a trips array.
// @Summary Import trips in bulk
// @Tags Vehicle
// @Security BearerAuth
// @Param Idempotency-Key header string false "Deduplicates retried imports"
// @Success 200,201 {object} response.Response{data=ImportResult}
// @Failure 400,404,409 {object} response.Response
// @Router /vehicles/{id}/trips/import [post]
func (h *Handler) ImportTrips(w http.ResponseWriter, r *http.Request) {
	var (
		trips   []TripInput
		rowErrs []RowError
		key     = strings.TrimSpace(r.Header.Get(idempotencyHeader))
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			response.BadRequest(w, "File too large or invalid form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			response.BadRequest(w, "file is required")
			return
		}
		defer file.Close()

		if key == "" {
			key = strings.TrimSpace(r.FormValue("idempotency_key"))
		}
		trips, rowErrs, err = parseUpload(file, header.Filename)
		if err != nil {
			errorhandler.HandleError(r.Context(), w, "import_trips", err)
			return
		}
	} else {
		var req struct {
			ImportTripsRequest
			IdempotencyKey string `json:"idempotency_key"`
		}
		if err := response.DecodeJSON(r.Body, &req); err != nil {
			response.BadRequest(w, "Invalid JSON body")
			return
		}
		trips = req.Trips
		if key == "" {
			key = strings.TrimSpace(req.IdempotencyKey)
		}
	}

	if len(key) > maxIdempotencyKeyLn {
		response.ValidationError(w, map[string]string{"idempotency_key": "must be at most 128 characters"})
		return
	}

	res, err := h.service.ImportTrips(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), trips, rowErrs, key)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "import_trips", err)
		return
	}
	if res.Replayed {
		response.OK(w, res)
		return
	}
	response.Created(w, res)
}

func parseUpload(file io.Reader, filename string) ([]TripInput, []RowError, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return ParseXLSX(file)
	default:
		return ParseCSV(file)
	}
}

// CO2Savings handles GET /vehicles/{id}/co2-savings?period=monthly|yearly|all
func (h *Handler) CO2Savings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, _ := strconv.Atoi(q.Get("year"))
	month, _ := strconv.Atoi(q.Get("month"))

	res, err := h.service.CO2Savings(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), SavingsQuery{
		Period: q.Get("period"),
		Year:   year,
		Month:  month,
	})
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "co2_savings", err)
		return
	}
	response.OK(w, res)
}

// GenerateCredits handles POST /vehicles/{id}/credits/generate
// @Summary Request carbon credits for saved CO2
// @Tags Vehicle
// @Security BearerAuth
// @Param Idempotency-Key header string false "Deduplicates retried requests"
// @Success 200,201 {object} response.Response{data=GenerateCreditsResult}
// @Failure 400,404,409,502 {object} response.Response
// @Router /vehicles/{id}/credits/generate [post]
func (h *Handler) GenerateCredits(w http.ResponseWriter, r *http.Request) {
	var req GenerateCreditsRequest
	if r.ContentLength != 0 {
		if err := response.DecodeJSON(r.Body, &req); err != nil && err != io.EOF {
			response.BadRequest(w, "Invalid JSON body")
			return
		}
	}
	if key := strings.TrimSpace(r.Header.Get(idempotencyHeader)); key != "" {
		req.IdempotencyKey = key
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLn {
		response.ValidationError(w, map[string]string{"idempotency_key": "must be at most 128 characters"})
		return
	}

	res, err := h.service.GenerateCredits(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "generate_credits", err)
		return
	}
	if res.Replayed {
		response.OK(w, res)
		return
	}
	response.Created(w, res)
}
