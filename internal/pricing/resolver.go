package pricing

import (
	"fmt"
	"sort"
)

// DefaultKitMOQ is the smallest kit quantity accepted on an order line.
const DefaultKitMOQ = 1

// Resolution is the outcome of a price lookup.
type Resolution struct {
	UnitPrice Money
	// Quantity is the quantity the price applies to, after MOQ clamping.
	Quantity int
	Tier     *Tier
	// Fallback is set when tiers exist but none covers the quantity.
	Fallback bool
	Clamped  bool
}

// Resolver maps a product and quantity to a unit price.
type Resolver struct {
	kitMOQ int
}

// NewResolver builds a resolver enforcing the kit minimum order quantity.
func NewResolver(kitMOQ int) Resolver {
	if kitMOQ < 1 {
		kitMOQ = DefaultKitMOQ
	}
	return Resolver{kitMOQ: kitMOQ}
}

// KitMOQ returns the configured kit minimum.
func (r Resolver) KitMOQ() int {
	if r.kitMOQ < 1 {
		return DefaultKitMOQ
	}
	return r.kitMOQ
}

// Resolve returns the unit price for qty of product sold in mode.
// Tiers must be sorted by MinQuantity; catalog loading guarantees it.
func (r Resolver) Resolve(p Product, mode SellMode, qty int) (Resolution, error) {
	if !mode.IsValid() {
		return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidSellMode, mode)
	}
	if qty < 1 {
		return Resolution{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, qty)
	}
	if mode == SellModePiece {
		return Resolution{UnitPrice: p.PiecePrice, Quantity: qty}, nil
	}

	res := Resolution{Quantity: qty}
	if moq := r.KitMOQ(); qty < moq {
		res.Quantity = moq
		res.Clamped = true
	}
	if !p.Tiered || len(p.Tiers) == 0 {
		res.UnitPrice = p.KitPrice
		return res, nil
	}
	for i := range p.Tiers {
		if p.Tiers[i].Contains(res.Quantity) {
			tier := p.Tiers[i]
			res.UnitPrice = tier.UnitPrice
			res.Tier = &tier
			return res, nil
		}
	}
	res.UnitPrice = p.KitPrice
	res.Fallback = true
	return res, nil
}

// SortTiers orders tiers ascending by MinQuantity.
func SortTiers(tiers []Tier) {
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].MinQuantity < tiers[j].MinQuantity
	})
}

// ValidateTiers checks that tiers are sorted, non-overlapping and priced.
// Gaps between tiers are allowed and resolve to the flat kit price.
func ValidateTiers(tiers []Tier) error {
	for i, t := range tiers {
		if t.MinQuantity < 1 {
			return fmt.Errorf("%w: tier %d min quantity %d below 1", ErrInvalidTiers, i, t.MinQuantity)
		}
		if t.MaxQuantity != nil && *t.MaxQuantity < t.MinQuantity {
			return fmt.Errorf("%w: tier %d max %d below min %d", ErrInvalidTiers, i, *t.MaxQuantity, t.MinQuantity)
		}
		if t.UnitPrice <= 0 {
			return fmt.Errorf("%w: tier %d price must be positive", ErrInvalidTiers, i)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if prev.MaxQuantity == nil {
			return fmt.Errorf("%w: tier %d follows an unbounded tier", ErrInvalidTiers, i)
		}
		if t.MinQuantity <= *prev.MaxQuantity {
			return fmt.Errorf("%w: tier %d overlaps tier %d", ErrInvalidTiers, i, i-1)
		}
	}
	return nil
}
