package marketplace

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/evcarbon/carbon-credit-api/internal/middleware"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/errorhandler"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/jwt"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/response"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/validator"
)

// WebSocket constants
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Handler handles marketplace HTTP requests
type Handler struct {
	service  *Service
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler creates marketplace handler
func NewHandler(service *Service, hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(allowedOrigins) == 0 {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				log.Warn().Str("origin", origin).Msg("WebSocket origin rejected")
				return false
			},
		},
	}
}

// ListingRoutes returns the /listings router
func (h *Handler) ListingRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListListings)
	r.Get("/{id}", h.GetListing)
	r.Get("/{id}/bids", h.GetBids)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/", h.CreateListing)
		r.Post("/{id}/cancel", h.CancelListing)
		r.Post("/{id}/purchase", h.Purchase)
		r.Post("/{id}/bids", h.PlaceBid)
		r.Post("/{id}/close", h.CloseAuction)
	})
	return r
}

// OrderRoutes returns the /orders router
func (h *Handler) OrderRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.ListOrders)
	r.Patch("/{id}/status", h.UpdateOrderStatus)
	return r
}

func parseID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid "+what+" ID")
		return uuid.Nil, false
	}
	return id, true
}

// CreateListing handles POST /listings
// @Summary Offer credits for sale
// @Tags Marketplace
// @Security BearerAuth
// @Success 201 {object} response.Response{data=Listing}
// @Router /listings [post]
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req CreateListingRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	l, err := h.service.CreateListing(r.Context(), middleware.GetUserID(r.Context()), &req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "create_listing", err)
		return
	}
	response.Created(w, l)
}

// ListListings handles GET /listings
func (h *Handler) ListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	status := ListingStatus(q.Get("status"))
	switch status {
	case "", ListingOpen, ListingSold, ListingCancelled:
	default:
		response.BadRequest(w, "Invalid status filter")
		return
	}

	items, total, err := h.service.ListListings(r.Context(), status, page, limit)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "list_listings", err)
		return
	}
	response.WithMeta(w, items, response.NewMeta(total, page, limit))
}

// GetListing handles GET /listings/{id}
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "listing")
	if !ok {
		return
	}
	l, err := h.service.GetListing(r.Context(), id)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "get_listing", err)
		return
	}
	response.OK(w, l)
}

// CancelListing handles POST /listings/{id}/cancel
func (h *Handler) CancelListing(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "listing")
	if !ok {
		return
	}
	l, err := h.service.CancelListing(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "cancel_listing", err)
		return
	}
	response.OK(w, l)
}

// Purchase handles POST /listings/{id}/purchase
// @Summary Buy a listing, whole or in part
// @Tags Marketplace
// @Security BearerAuth
// @Success 200 {object} response.Response{data=PurchaseResult}
// @Failure 400 {object} response.Response "INSUFFICIENT_BALANCE"
// @Failure 409 {object} response.Response "LISTING_SOLD"
// @Failure 502 {object} response.Response
// @Router /listings/{id}/purchase [post]
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "listing")
	if !ok {
		return
	}

	var req PurchaseRequest
	if r.ContentLength != 0 {
		if err := response.DecodeJSON(r.Body, &req); err != nil {
			response.BadRequest(w, "Invalid JSON body")
			return
		}
	}

	ctx := r.Context()
	buyerID := middleware.GetUserID(ctx)
	if req.BuyerID != "" && req.BuyerID != buyerID {
		if middleware.GetRole(ctx) != jwt.RoleAdmin {
			response.Forbidden(w, "Cannot buy on behalf of another user")
			return
		}
		buyerID = req.BuyerID
	}

	res, err := h.service.BuyListing(ctx, id, buyerID, req.Amount)
	if err != nil {
		errorhandler.HandleError(ctx, w, "purchase_listing", err)
		return
	}
	response.OK(w, res)
}

// PlaceBid handles POST /listings/{id}/bids
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "listing")
	if !ok {
		return
	}
	var req PlaceBidRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	b, err := h.service.PlaceBid(r.Context(), id, middleware.GetUserID(r.Context()), req.Amount)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "place_bid", err)
		return
	}
	response.Created(w, b)
}

// GetBids handles GET /listings/{id}/bids
func (h *Handler) GetBids(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "listing")
	if !ok {
		return
	}
	bids, err := h.service.GetBids(r.Context(), id)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "get_bids", err)
		return
	}
	response.OK(w, bids)
}

// CloseAuction handles POST /listings/{id}/close
func (h *Handler) CloseAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "listing")
	if !ok {
		return
	}
	res, err := h.service.CloseAuction(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "close_auction", err)
		return
	}
	response.OK(w, res)
}

// ListOrders handles GET /orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "list_orders", err)
		return
	}
	response.OK(w, orders)
}

// UpdateOrderStatus handles PATCH /orders/{id}/status
// @Summary Seller moves an order to ACCEPTED, REJECTED, COMPLETED or CANCELLED
// @Tags Marketplace
// @Security BearerAuth
// @Router /orders/{id}/status [patch]
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "order")
	if !ok {
		return
	}
	var req UpdateOrderStatusRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.HandleValidation(r.Context(), w, errs)
		return
	}

	o, err := h.service.UpdateOrderStatus(r.Context(), id, middleware.GetUserID(r.Context()), req.Status)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, "update_order_status", err)
		return
	}
	response.OK(w, o)
}

// WebSocket handles WS /marketplace/ws
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "Authentication required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Connection{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 64),
	}
	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go h.wsReader(client)
	go h.wsWriter(client)
}

// wsReader only drains control frames; the feed is one-way
func (h *Handler) wsReader(client *Connection) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", client.UserID).Msg("WebSocket read error")
			}
			return
		}
	}
}

func (h *Handler) wsWriter(client *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
