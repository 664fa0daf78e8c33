package consolidation

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/bottleops/bottleops/internal/orders"
	"github.com/bottleops/bottleops/internal/pricing"
)

// ErrNotFulfillmentPhase indicates the parent order has not entered fulfillment.
var ErrNotFulfillmentPhase = errors.New("consolidation: order is not in a fulfillment phase")

// View merges a parent order with its approved add-ons.
type View struct {
	ParentID     uuid.UUID     `json:"parent_id"`
	ParentNumber string        `json:"parent_number"`
	OrderIDs     []uuid.UUID   `json:"order_ids"`
	Lines        []SourcedLine `json:"lines"`
	Groups       []Group       `json:"groups"`
	TotalBottles int           `json:"total_bottles"`
	TotalValue   pricing.Money `json:"total_value"`
	Display      string        `json:"display"`
}

// SourcedLine is an order line tagged with the order it came from.
type SourcedLine struct {
	SourceOrderID uuid.UUID        `json:"source_order_id"`
	SourceNumber  string           `json:"source_number"`
	AddOn         bool             `json:"add_on"`
	LineID        uuid.UUID        `json:"line_id"`
	ProductID     uuid.UUID        `json:"product_id"`
	ProductCode   string           `json:"product_code"`
	SellMode      pricing.SellMode `json:"sell_mode"`
	Quantity      int              `json:"quantity"`
	BottleQty     int              `json:"bottle_qty"`
	UnitPrice     pricing.Money    `json:"unit_price"`
	Subtotal      pricing.Money    `json:"subtotal"`
}

// Group totals every line of one product and sell mode across contributing orders.
type Group struct {
	ProductID   uuid.UUID        `json:"product_id"`
	ProductCode string           `json:"product_code"`
	SellMode    pricing.SellMode `json:"sell_mode"`
	Quantity    int              `json:"quantity"`
	BottleQty   int              `json:"bottle_qty"`
	Subtotal    pricing.Money    `json:"subtotal"`
	OrderIDs    []uuid.UUID      `json:"order_ids"`
}

type groupKey struct {
	product uuid.UUID
	mode    pricing.SellMode
}

// Consolidate builds the combined view. Add-ons that are not approved or that
// belong to another parent are left out entirely. The formatter may be nil.
func Consolidate(parent orders.Order, addOns []orders.Order, f *pricing.Formatter) (View, error) {
	if !parent.InFulfillment() {
		return View{}, fmt.Errorf("%w: %s is %s", ErrNotFulfillmentPhase, parent.Number, parent.Status)
	}

	included := make([]orders.Order, 0, len(addOns))
	for _, a := range addOns {
		if a.ParentID == nil || *a.ParentID != parent.ID || !a.IsApproved() {
			continue
		}
		included = append(included, a)
	}
	sort.SliceStable(included, func(i, j int) bool { return included[i].Number < included[j].Number })

	view := View{
		ParentID:     parent.ID,
		ParentNumber: parent.Number,
		OrderIDs:     []uuid.UUID{parent.ID},
		Lines:        []SourcedLine{},
		Groups:       []Group{},
	}
	groups := make(map[groupKey]*Group)
	add := func(o orders.Order, addOn bool) {
		lines := append([]orders.Line(nil), o.Lines...)
		sort.SliceStable(lines, func(i, j int) bool { return lines[i].Position < lines[j].Position })
		for _, l := range lines {
			view.Lines = append(view.Lines, SourcedLine{
				SourceOrderID: o.ID,
				SourceNumber:  o.Number,
				AddOn:         addOn,
				LineID:        l.ID,
				ProductID:     l.ProductID,
				ProductCode:   l.ProductCode,
				SellMode:      l.SellMode,
				Quantity:      l.Quantity,
				BottleQty:     l.BottleQty,
				UnitPrice:     l.UnitPrice,
				Subtotal:      l.Subtotal,
			})
			view.TotalBottles += l.BottleQty
			view.TotalValue += l.Subtotal

			k := groupKey{product: l.ProductID, mode: l.SellMode}
			g, ok := groups[k]
			if !ok {
				g = &Group{ProductID: l.ProductID, ProductCode: l.ProductCode, SellMode: l.SellMode}
				groups[k] = g
			}
			g.Quantity += l.Quantity
			g.BottleQty += l.BottleQty
			g.Subtotal += l.Subtotal
			if len(g.OrderIDs) == 0 || g.OrderIDs[len(g.OrderIDs)-1] != o.ID {
				g.OrderIDs = append(g.OrderIDs, o.ID)
			}
		}
	}
	add(parent, false)
	for _, a := range included {
		view.OrderIDs = append(view.OrderIDs, a.ID)
		add(a, true)
	}

	for _, g := range groups {
		view.Groups = append(view.Groups, *g)
	}
	sort.Slice(view.Groups, func(i, j int) bool {
		a, b := view.Groups[i], view.Groups[j]
		if a.ProductCode != b.ProductCode {
			return a.ProductCode < b.ProductCode
		}
		return a.SellMode < b.SellMode
	})
	view.Display = f.Format(view.TotalValue)
	return view, nil
}
