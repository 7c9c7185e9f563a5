package identity

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/teleswap/exchange-desk/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrInvalidInitData, Status: http.StatusUnauthorized},
	{Error: ErrInitDataExpired, Status: http.StatusUnauthorized},
	{Error: ErrUserNotFound, Status: http.StatusNotFound},
}

// Handler handles HTTP requests for the identity module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new identity handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers public identity routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/telegram", h.Authenticate)
}

// RegisterProtectedRoutes registers routes that require authentication.
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/me", h.Me)
}

// AuthRequest represents the authentication request body.
type AuthRequest struct {
	InitData string `json:"init_data" validate:"required"`
}

type userView struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	Role         string `json:"role"`
}

// Authenticate handles POST /auth/telegram.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, err := h.service.Authenticate(r.Context(), req.InitData)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"token": result.Token,
		"user": userView{
			ID:           result.User.ID,
			FirstName:    result.User.FirstName,
			Username:     result.User.Username,
			LanguageCode: result.User.LanguageCode,
			Role:         string(result.User.Role),
		},
	})
}

// Me handles GET /me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, userView{
		ID:           user.ID,
		FirstName:    user.FirstName,
		Username:     user.Username,
		LanguageCode: user.LanguageCode,
		Role:         string(user.Role),
	})
}
