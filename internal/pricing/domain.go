package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Money stores amounts in minor currency units (cents).
type Money int64

// Times multiplies the amount by a quantity.
func (m Money) Times(qty int) Money {
	return m * Money(qty)
}

// Major returns the amount in major units for display.
func (m Money) Major() float64 {
	return float64(m) / 100
}

// String renders the amount as a plain decimal.
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// SellMode describes how an order line is sold.
type SellMode string

const (
	// SellModeKit sells bundles of PackSize bottles.
	SellModeKit SellMode = "kit"
	// SellModePiece sells individual bottles.
	SellModePiece SellMode = "piece"
)

// IsValid reports whether the sell mode is known.
func (m SellMode) IsValid() bool {
	return m == SellModeKit || m == SellModePiece
}

// Tier is a quantity band with its own unit price. MaxQuantity nil means unbounded.
type Tier struct {
	MinQuantity int   `json:"min_quantity"`
	MaxQuantity *int  `json:"max_quantity,omitempty"`
	UnitPrice   Money `json:"unit_price"`
}

// Contains reports whether qty falls inside the tier band.
func (t Tier) Contains(qty int) bool {
	if qty < t.MinQuantity {
		return false
	}
	return t.MaxQuantity == nil || qty <= *t.MaxQuantity
}

// Product is the pricing view of a catalog item.
type Product struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	PackSize    int       `json:"pack_size"`
	BatchPrefix string    `json:"batch_prefix"`
	KitPrice    Money     `json:"kit_price"`
	PiecePrice  Money     `json:"piece_price"`
	Tiered      bool      `json:"tiered"`
	Tiers       []Tier    `json:"tiers,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var (
	// ErrInvalidQuantity is returned for quantities below one.
	ErrInvalidQuantity = errors.New("pricing: quantity must be at least 1")
	// ErrInvalidSellMode is returned for unknown sell modes.
	ErrInvalidSellMode = errors.New("pricing: unknown sell mode")
	// ErrInvalidTiers flags an unusable tier table.
	ErrInvalidTiers = errors.New("pricing: invalid tier table")
	// ErrInvalidProduct flags incomplete catalog data.
	ErrInvalidProduct = errors.New("pricing: invalid product")
	// ErrProductNotFound is returned by catalog lookups.
	ErrProductNotFound = errors.New("pricing: product not found")
)
