package orders

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bottleops/bottleops/internal/platform/httpx"
	"github.com/bottleops/bottleops/internal/pricing"
	"github.com/bottleops/bottleops/internal/shared"
)

// Handler exposes order endpoints as JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Delete("/", h.deleteDraft)
		r.Put("/lines", h.replaceLines)
		r.Post("/transitions", h.transition)
		r.Post("/release", h.release)
		r.Post("/deposits", h.recordDeposit)
		r.Get("/history", h.history)
		r.Get("/addons", h.addOns)
	})
}

type transitionRequest struct {
	Target          Status `json:"target" validate:"required"`
	Reason          string `json:"reason"`
	ExpectedVersion *int64 `json:"expected_version"`
}

type linesRequest struct {
	Lines []LineInput `json:"lines" validate:"dive"`
}

type depositRequest struct {
	Amount pricing.Money `json:"amount" validate:"gt=0"`
}

type transitionResponse struct {
	From    Status   `json:"from"`
	To      Status   `json:"to"`
	NoOp    bool     `json:"no_op"`
	Order   Order    `json:"order"`
	Intents []Intent `json:"intents,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	if s := q.Get("status"); s != "" {
		status := Status(s)
		if !status.IsValid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status "+s)
			return
		}
		filter.Status = &status
	}
	if p := q.Get("parent_id"); p != "" {
		id, err := uuid.Parse(p)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid parent_id")
			return
		}
		filter.ParentID = &id
	}
	list, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": list, "pagination": page})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateOrderInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.Actor = shared.ActorFromContext(r.Context())
	order, err := h.service.CreateOrder(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) replaceLines(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req linesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.service.ReplaceLines(r.Context(), id, req.Lines, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.service.Transition(r.Context(), id, TransitionRequest{
		Target:          req.Target,
		Actor:           shared.ActorFromContext(r.Context()),
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transitionResponse{From: res.From, To: res.To, NoOp: res.NoOp, Order: res.Order, Intents: res.Intents})
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	res, err := h.service.ReleaseHold(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transitionResponse{From: res.From, To: res.To, NoOp: res.NoOp, Order: res.Order, Intents: res.Intents})
}

func (h *Handler) recordDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.service.RecordDeposit(r.Context(), id, req.Amount, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) deleteDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteDraft(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	records, err := h.service.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": records})
}

func (h *Handler) addOns(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListAddOns(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"add_ons": list})
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return uuid.Nil, false
	}
	return id, true
}

// fail translates order errors and falls back to httpx.RespondError.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Type:   "invalid-transition",
			Title:  "Invalid Transition",
			Status: http.StatusConflict,
			Detail: invalid.Error(),
			Context: map[string]any{
				"order_id": invalid.OrderID,
				"from":     invalid.From,
				"to":       invalid.To,
				"allowed":  invalid.From.Targets(),
			},
		})
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, pricing.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrOrderNotEditable), errors.Is(err, ErrHardDeleteNotAllowed), errors.Is(err, ErrDepositNotRequired):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrHoldReasonRequired), errors.Is(err, ErrInvalidLine),
		errors.Is(err, ErrInvalidDeposit), errors.Is(err, ErrInvalidParent):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		if !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, shared.ErrConcurrentModification) {
			h.logger.Error("orders request", slog.Any("error", err), slog.String("path", r.URL.Path))
		}
		httpx.RespondError(w, err)
	}
}
