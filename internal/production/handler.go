package production

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bottleops/bottleops/internal/orders"
	"github.com/bottleops/bottleops/internal/platform/httpx"
	"github.com/bottleops/bottleops/internal/pricing"
	"github.com/bottleops/bottleops/internal/shared"
)

// IdempotencyHeader carries the optional plan idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes batch endpoints as JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers batch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/plan", h.plan)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.show)
		r.Post("/split", h.split)
		r.Post("/merge", h.merge)
		r.Post("/steps/{kind}/advance", h.advance)
		r.Post("/output", h.output)
		r.Post("/hold", h.hold)
		r.Post("/resume", h.resume)
	})
}

type splitRequest struct {
	Quantities []int `json:"quantities" validate:"required,min=2"`
}

type mergeRequest struct {
	SourceIDs []uuid.UUID `json:"source_ids" validate:"required,min=1"`
}

type outputRequest struct {
	Good  int `json:"good" validate:"min=0"`
	Scrap int `json:"scrap" validate:"min=0"`
}

type holdRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var filter BatchFilter
	if v := r.URL.Query().Get("order_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order_id")
			return
		}
		filter.OrderID = &id
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := BatchStatus(v)
		if !status.IsValid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status "+v)
			return
		}
		filter.Status = &status
	}
	batches, err := h.service.ListBatches(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (h *Handler) plan(w http.ResponseWriter, r *http.Request) {
	var cmd PlanCommand
	if err := httpx.DecodeJSON(r, &cmd); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(cmd); err != nil {
		h.fail(w, r, err)
		return
	}
	cmd.Actor = shared.ActorFromContext(r.Context())
	cmd.IdempotencyKey = r.Header.Get(IdempotencyHeader)
	batches, err := h.service.PlanBatches(r.Context(), cmd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"batches": batches})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	b, err := h.service.GetBatch(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) split(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req splitRequest
	if !h.decode(w, r, &req) {
		return
	}
	batches, err := h.service.SplitBatch(r.Context(), id, req.Quantities, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"batches": batches})
}

func (h *Handler) merge(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req mergeRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.service.MergeBatches(r.Context(), id, req.SourceIDs, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	kind := StepKind(chi.URLParam(r, "kind"))
	res, err := h.service.AdvanceStep(r.Context(), id, kind, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"batch":        res.Batch,
		"step":         res.Step,
		"out_of_order": res.OutOfOrder,
	})
}

func (h *Handler) output(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req outputRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.service.RecordOutput(r.Context(), id, req.Good, req.Scrap, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) hold(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req holdRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.service.HoldBatch(r.Context(), id, req.Reason, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	b, err := h.service.ResumeBatch(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		h.fail(w, r, err)
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		h.fail(w, r, err)
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid batch id")
		return uuid.Nil, false
	}
	return id, true
}

// fail translates production errors and falls back to httpx.RespondError.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		over  *OverAllocationError
		cv    *ConservationViolationError
		state *InvalidBatchStateError
	)
	switch {
	case errors.As(err, &over):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Type: "over-allocation", Title: "Over Allocation", Status: http.StatusUnprocessableEntity, Detail: over.Error(),
			Context: map[string]any{"line_id": over.LineID, "requested": over.Requested, "remaining": over.Remaining, "bottle_qty": over.BottleQty},
		})
	case errors.As(err, &cv):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Type: "conservation-violation", Title: "Conservation Violation", Status: http.StatusUnprocessableEntity, Detail: cv.Error(),
			Context: map[string]any{"batch_id": cv.BatchID, "expected": cv.Expected, "actual": cv.Actual},
		})
	case errors.As(err, &state):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Type: "invalid-batch-state", Title: "Invalid Batch State", Status: http.StatusConflict, Detail: state.Error(),
			Context: map[string]any{"batch_id": state.BatchID, "status": state.Status, "allowed": state.Allowed},
		})
	case errors.Is(err, ErrInvalidStepTransition), errors.Is(err, ErrOrderNotPlannable):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrBatchNotFound), errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, pricing.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidPlan), errors.Is(err, ErrInvalidSplit), errors.Is(err, ErrInvalidMerge), errors.Is(err, ErrInvalidOutput):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		if !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, shared.ErrConcurrentModification) && !errors.Is(err, shared.ErrIdempotencyConflict) {
			h.logger.Error("production request", slog.Any("error", err), slog.String("path", r.URL.Path))
		}
		httpx.RespondError(w, err)
	}
}
