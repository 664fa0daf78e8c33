package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/bottleops/bottleops/internal/pricing"
)

// DepositStatus tracks deposit collection.
type DepositStatus string

const (
	DepositUnpaid  DepositStatus = "unpaid"
	DepositPartial DepositStatus = "partial"
	DepositPaid    DepositStatus = "paid"
)

// Source records the channel an order came from.
type Source string

const (
	SourceStaff          Source = "staff"
	SourceCustomerPortal Source = "customer_portal"
	SourceAPI            Source = "api"
)

// IsValid checks if the source is known.
func (s Source) IsValid() bool {
	return s == SourceStaff || s == SourceCustomerPortal || s == SourceAPI
}

// Order is a customer purchase request.
type Order struct {
	ID              uuid.UUID     `json:"id"`
	Number          string        `json:"number"`
	CustomerRef     string        `json:"customer_ref,omitempty"`
	Status          Status        `json:"status"`
	Subtotal        pricing.Money `json:"subtotal"`
	DepositRequired bool          `json:"deposit_required"`
	DepositAmount   pricing.Money `json:"deposit_amount"`
	DepositPaid     pricing.Money `json:"deposit_paid"`
	DepositStatus   DepositStatus `json:"deposit_status"`
	LabelRequired   bool          `json:"label_required"`
	ParentID        *uuid.UUID    `json:"parent_id,omitempty"`
	Internal        bool          `json:"internal"`
	Source          Source        `json:"source"`
	PreHoldStatus   *Status       `json:"pre_hold_status,omitempty"`
	HoldReason      *string       `json:"hold_reason,omitempty"`
	Version         int64         `json:"version"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Lines           []Line        `json:"lines,omitempty"`
}

// Line is one product line of an order.
type Line struct {
	ID           uuid.UUID        `json:"id"`
	OrderID      uuid.UUID        `json:"order_id"`
	Position     int              `json:"position"`
	ProductID    uuid.UUID        `json:"product_id"`
	ProductCode  string           `json:"product_code"`
	SellMode     pricing.SellMode `json:"sell_mode"`
	Quantity     int              `json:"quantity"`
	UnitPrice    pricing.Money    `json:"unit_price"`
	BottleQty    int              `json:"bottle_qty"`
	Subtotal     pricing.Money    `json:"subtotal"`
	TierFallback bool             `json:"tier_fallback"`
}

// IsAddOn reports whether the order supplements a parent order.
func (o Order) IsAddOn() bool {
	return o.ParentID != nil
}

// InFulfillment reports whether the order has entered fulfillment,
// looking through a hold to the status it paused.
func (o Order) InFulfillment() bool {
	if o.Status.IsHold() && o.PreHoldStatus != nil {
		return o.PreHoldStatus.IsFulfillmentPhase()
	}
	return o.Status.IsFulfillmentPhase()
}

// IsApproved reports whether the order counts as approved, looking through a
// hold to the status it paused.
func (o Order) IsApproved() bool {
	if o.Status.IsHold() {
		return o.PreHoldStatus != nil && o.PreHoldStatus.IsApproved()
	}
	return o.Status.IsApproved()
}

// LinesSubtotal sums line subtotals.
func (o Order) LinesSubtotal() pricing.Money {
	var sum pricing.Money
	for _, l := range o.Lines {
		sum += l.Subtotal
	}
	return sum
}

// DepositStatusFor derives the deposit status from amounts.
func DepositStatusFor(required bool, amount, paid pricing.Money) DepositStatus {
	switch {
	case !required:
		return DepositPaid
	case paid <= 0:
		return DepositUnpaid
	case paid >= amount:
		return DepositPaid
	default:
		return DepositPartial
	}
}

// TransitionRecord is an append-only audit row for a status change.
type TransitionRecord struct {
	ID      int64     `json:"id,omitempty"`
	OrderID uuid.UUID `json:"order_id"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	Actor   string    `json:"actor"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// IntentKind names the external collaborator an intent targets.
type IntentKind string

const (
	IntentNotify  IntentKind = "notify"
	IntentInvoice IntentKind = "invoice"
)

// Intent asks an external collaborator to act. The engine never performs the I/O itself.
type Intent struct {
	Kind     IntentKind     `json:"kind"`
	OrderID  uuid.UUID      `json:"order_id"`
	Template string         `json:"template"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// LineInput describes a requested order line.
type LineInput struct {
	ProductID uuid.UUID        `json:"product_id" validate:"required"`
	SellMode  pricing.SellMode `json:"sell_mode" validate:"required,oneof=kit piece"`
	Quantity  int              `json:"quantity" validate:"min=1"`
}

// CreateOrderInput captures a new order.
type CreateOrderInput struct {
	CustomerRef     string      `json:"customer_ref"`
	Source          Source      `json:"source" validate:"omitempty,oneof=staff customer_portal api"`
	DepositRequired bool        `json:"deposit_required"`
	LabelRequired   bool        `json:"label_required"`
	Internal        bool        `json:"internal"`
	ParentID        *uuid.UUID  `json:"parent_id"`
	Lines           []LineInput `json:"lines" validate:"dive"`
	Actor           string      `json:"-"`
}

// TransitionRequest asks the machine to move an order to Target.
type TransitionRequest struct {
	Target Status
	Actor  string
	// Reason is mandatory when Target is a hold state.
	Reason string
	// ExpectedVersion, when set, must match the stored order version.
	ExpectedVersion *int64
}

// ListFilter narrows order listings.
type ListFilter struct {
	Status   *Status
	ParentID *uuid.UUID
	Page     int
	PerPage  int
}
