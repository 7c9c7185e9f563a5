package notifications

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teleswap/exchange-desk/internal/pkg/httputil"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrJobNotFound, Status: http.StatusNotFound, Message: "notification job not found"},
	{Error: ErrJobNotDeadLettered, Status: http.StatusConflict, Message: "job is not dead-lettered"},
}

// Handler exposes operator endpoints for queue inspection.
type Handler struct {
	service *Service
}

// NewHandler creates a new notifications handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterAdminRoutes registers queue inspection routes (admin only).
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Get("/stats", h.GetStats)
		r.Get("/dead-letters", h.ListDeadLetters)
		r.Post("/dead-letters/{id}/requeue", h.RequeueDeadLetter)
	})
}

// GetStats handles GET /admin/queue/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.QueueStats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// deadLetterView is the JSON shape of a dead-lettered job.
type deadLetterView struct {
	ID          string    `json:"id"`
	RecipientID int64     `json:"recipient_id"`
	MessageType string    `json:"message_type"`
	Priority    string    `json:"priority"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error"`
	CreatedAt   time.Time `json:"created_at"`
	FailedAt    time.Time `json:"failed_at"`
}

// ListDeadLetters handles GET /admin/queue/dead-letters.
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeadLetterLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxDeadLetterLimit {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	jobs, err := h.service.ListDeadLetters(r.Context(), limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	views := make([]deadLetterView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, deadLetterView{
			ID:          job.ID,
			RecipientID: job.RecipientID,
			MessageType: string(job.MessageType),
			Priority:    string(job.Priority),
			Attempts:    job.Attempts,
			MaxAttempts: job.MaxAttempts,
			LastError:   job.LastError,
			CreatedAt:   job.CreatedAt,
			FailedAt:    job.UpdatedAt,
		})
	}

	httputil.Success(w, http.StatusOK, views)
}

// RequeueDeadLetter handles POST /admin/queue/dead-letters/{id}/requeue.
func (h *Handler) RequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.RequeueDeadLetter(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"message": "job requeued"})
}
