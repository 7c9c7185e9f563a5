package orders

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/teleswap/exchange-desk/internal/domain"
	"github.com/teleswap/exchange-desk/internal/pkg/httputil"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrOrderNotFound, Status: http.StatusNotFound},
	{Error: ErrForbidden, Status: http.StatusForbidden},
	{Error: ErrInvalidTransition, Status: http.StatusConflict},
	{Error: ErrUnsupportedPair, Status: http.StatusUnprocessableEntity},
}

// Handler handles HTTP requests for the orders module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new orders handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers authenticated user routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.ListMine)
		r.Get("/{id}", h.Get)
	})
}

// RegisterAdminRoutes registers admin-only routes.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/orders", h.ListAll)
	r.Patch("/orders/{id}/status", h.UpdateStatus)
}

// CreateRequest represents the order creation request body.
type CreateRequest struct {
	FromCurrency string `json:"from_currency" validate:"required,alpha,len=3|len=4"`
	ToCurrency   string `json:"to_currency" validate:"required,alpha,len=3|len=4"`
	AmountFrom   string `json:"amount_from" validate:"required"`
	Comment      string `json:"comment" validate:"max=500"`
}

// UpdateStatusRequest represents the status transition request body.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed processing completed cancelled"`
}

type orderView struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	FromCurrency string    `json:"from_currency"`
	ToCurrency   string    `json:"to_currency"`
	AmountFrom   string    `json:"amount_from"`
	AmountTo     string    `json:"amount_to"`
	Rate         string    `json:"rate"`
	Status       string    `json:"status"`
	Comment      string    `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toOrderView(order *domain.Order) orderView {
	return orderView{
		ID:           order.ID,
		UserID:       order.UserID,
		Username:     order.Username,
		FromCurrency: order.FromCurrency,
		ToCurrency:   order.ToCurrency,
		AmountFrom:   order.AmountFrom.String(),
		AmountTo:     order.AmountTo.String(),
		Rate:         order.Rate.String(),
		Status:       string(order.Status),
		Comment:      order.Comment,
		CreatedAt:    order.CreatedAt,
		UpdatedAt:    order.UpdatedAt,
	}
}

func toOrderViews(list []*domain.Order) []orderView {
	views := make([]orderView, 0, len(list))
	for _, order := range list {
		views = append(views, toOrderView(order))
	}
	return views
}

// Create handles POST /orders.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	amount, err := decimal.NewFromString(req.AmountFrom)
	if err != nil || !amount.IsPositive() {
		httputil.Error(w, http.StatusBadRequest, "amount_from must be a positive decimal")
		return
	}

	order, err := h.service.Create(r.Context(), CreateInput{
		UserID:       httputil.GetUserID(r.Context()),
		FromCurrency: req.FromCurrency,
		ToCurrency:   req.ToCurrency,
		AmountFrom:   amount,
		Comment:      req.Comment,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, toOrderView(order))
}

// ListMine handles GET /orders.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)

	list, err := h.service.ListForUser(r.Context(), httputil.GetUserID(r.Context()), limit, offset)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, toOrderViews(list))
}

// Get handles GET /orders/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.Get(r.Context(),
		chi.URLParam(r, "id"),
		httputil.GetUserID(r.Context()),
		httputil.GetRole(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, toOrderView(order))
}

// ListAll handles GET /admin/orders.
func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)

	var status *domain.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := domain.OrderStatus(s)
		status = &st
	}

	list, err := h.service.ListAll(r.Context(), status, limit, offset)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, toOrderViews(list))
}

// UpdateStatus handles PATCH /admin/orders/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	order, err := h.service.UpdateStatus(r.Context(),
		chi.URLParam(r, "id"), domain.OrderStatus(req.Status))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, toOrderView(order))
}

func paginationParams(r *http.Request) (limit, offset int) {
	limit = defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			offset = parsed
		}
	}

	return limit, offset
}
