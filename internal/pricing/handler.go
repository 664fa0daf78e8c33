package pricing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bottleops/bottleops/internal/platform/httpx"
)

const maxCatalogBytes = 4 << 20

// CatalogStore reads and writes the product catalog.
type CatalogStore interface {
	ListProducts(ctx context.Context) ([]Product, error)
	GetProductByCode(ctx context.Context, code string) (Product, error)
	UpsertProducts(ctx context.Context, products []Product) ([]Product, error)
}

// Handler exposes catalog and quote endpoints.
type Handler struct {
	logger    *slog.Logger
	store     CatalogStore
	calc      *Calculator
	formatter *Formatter
	validate  *validator.Validate
}

// NewHandler builds Handler instance. formatter may be nil.
func NewHandler(logger *slog.Logger, store CatalogStore, calc *Calculator, formatter *Formatter) *Handler {
	return &Handler{logger: logger, store: store, calc: calc, formatter: formatter, validate: validator.New()}
}

// MountRoutes registers pricing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/products/import", h.importCatalog)
	r.Post("/quote", h.quote)
}

type quoteRequest struct {
	ProductCode string   `json:"product_code" validate:"required"`
	SellMode    SellMode `json:"sell_mode" validate:"required,oneof=kit piece"`
	Quantity    int      `json:"quantity" validate:"min=1"`
}

type quoteResponse struct {
	ProductCode string   `json:"product_code"`
	SellMode    SellMode `json:"sell_mode"`
	Quantity    int      `json:"quantity"`
	UnitPrice   Money    `json:"unit_price"`
	BottleQty   int      `json:"bottle_qty"`
	Subtotal    Money    `json:"subtotal"`
	Fallback    bool     `json:"tier_fallback"`
	Clamped     bool     `json:"clamped"`
	Display     string   `json:"display"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListProducts(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handler) importCatalog(w http.ResponseWriter, r *http.Request) {
	products, err := LoadCatalog(http.MaxBytesReader(w, r.Body, maxCatalogBytes))
	if err != nil {
		h.fail(w, err)
		return
	}
	saved, err := h.store.UpsertProducts(r.Context(), products)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.logger.Info("catalog imported", slog.Int("products", len(saved)))
	httpx.JSON(w, http.StatusOK, map[string]any{"products": saved})
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.fail(w, err)
		return
	}
	p, err := h.store.GetProductByCode(r.Context(), req.ProductCode)
	if err != nil {
		h.fail(w, err)
		return
	}
	totals, err := h.calc.Line(p, req.SellMode, req.Quantity)
	if err != nil {
		h.fail(w, err)
		return
	}
	if totals.Fallback {
		h.logger.Warn("tier gap fallback", slog.String("product", p.Code), slog.Int("quantity", totals.Quantity))
	}
	httpx.JSON(w, http.StatusOK, quoteResponse{
		ProductCode: p.Code,
		SellMode:    req.SellMode,
		Quantity:    totals.Quantity,
		UnitPrice:   totals.UnitPrice,
		BottleQty:   totals.BottleQty,
		Subtotal:    totals.Subtotal,
		Fallback:    totals.Fallback,
		Clamped:     totals.Clamped,
		Display:     h.formatter.Format(totals.Subtotal),
	})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidTiers), errors.Is(err, ErrInvalidProduct),
		errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidSellMode):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) && !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("pricing request", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}
