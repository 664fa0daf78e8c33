package consolidation

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bottleops/bottleops/internal/orders"
	"github.com/bottleops/bottleops/internal/platform/httpx"
)

// Handler serves consolidated views as JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers consolidation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{orderID}", h.show)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}
	view, err := h.service.View(r.Context(), id)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, view)
	case errors.Is(err, ErrNotFulfillmentPhase):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, orders.ErrOrderNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("consolidated view", slog.Any("error", err), slog.String("order_id", id.String()))
		httpx.RespondError(w, err)
	}
}
