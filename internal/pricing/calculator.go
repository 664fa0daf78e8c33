package pricing

import "fmt"

// DefaultDepositPercent applies when no deposit percentage is configured.
const DefaultDepositPercent = 50

// Config groups pricing business constants.
type Config struct {
	KitMOQ         int
	DepositPercent int
}

// LineTotals is the recomputed state of a single order line.
type LineTotals struct {
	Quantity  int
	UnitPrice Money
	BottleQty int
	Subtotal  Money
	Fallback  bool
	Clamped   bool
}

// OrderTotals aggregates line subtotals and the deposit due.
type OrderTotals struct {
	Subtotal Money
	Deposit  Money
}

// Calculator derives line and order totals.
type Calculator struct {
	resolver       Resolver
	depositPercent int
}

// NewCalculator builds a calculator from config.
func NewCalculator(cfg Config) *Calculator {
	pct := cfg.DepositPercent
	if pct <= 0 || pct > 100 {
		pct = DefaultDepositPercent
	}
	return &Calculator{resolver: NewResolver(cfg.KitMOQ), depositPercent: pct}
}

// Resolver exposes the underlying price resolver.
func (c *Calculator) Resolver() Resolver {
	return c.resolver
}

// Line prices one order line.
func (c *Calculator) Line(p Product, mode SellMode, qty int) (LineTotals, error) {
	res, err := c.resolver.Resolve(p, mode, qty)
	if err != nil {
		return LineTotals{}, err
	}
	bottles := res.Quantity
	if mode == SellModeKit {
		if p.PackSize < 1 {
			return LineTotals{}, fmt.Errorf("%w: %s has no pack size", ErrInvalidProduct, p.Code)
		}
		bottles = res.Quantity * p.PackSize
	}
	return LineTotals{
		Quantity:  res.Quantity,
		UnitPrice: res.UnitPrice,
		BottleQty: bottles,
		Subtotal:  res.UnitPrice.Times(res.Quantity),
		Fallback:  res.Fallback,
		Clamped:   res.Clamped,
	}, nil
}

// Totals sums line subtotals and computes the deposit.
func (c *Calculator) Totals(subtotals []Money, depositRequired bool) OrderTotals {
	var sum Money
	for _, s := range subtotals {
		sum += s
	}
	out := OrderTotals{Subtotal: sum}
	if depositRequired {
		out.Deposit = c.Deposit(sum)
	}
	return out
}

// Deposit returns subtotal × percent rounded half up, never above subtotal.
func (c *Calculator) Deposit(subtotal Money) Money {
	if subtotal <= 0 {
		return 0
	}
	dep := (subtotal*Money(c.depositPercent) + 50) / 100
	if dep > subtotal {
		return subtotal
	}
	return dep
}
