package rates

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/teleswap/exchange-desk/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrPairUnavailable, Status: http.StatusNotFound},
}

// Handler handles HTTP requests for the rates module.
type Handler struct {
	service *Service
}

// NewHandler creates a new rates handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers rate routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/rates/{from}/{to}", h.GetRate)
}

// GetRate handles GET /rates/{from}/{to}.
func (h *Handler) GetRate(w http.ResponseWriter, r *http.Request) {
	from := strings.ToUpper(chi.URLParam(r, "from"))
	to := strings.ToUpper(chi.URLParam(r, "to"))

	rate, err := h.service.GetRate(r.Context(), from, to)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{
		"from": from,
		"to":   to,
		"rate": rate.String(),
	})
}
