package orders

// Status is the lifecycle state of an order.
type Status string

const (
	StatusDraft            Status = "draft"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusQuoted           Status = "quoted"
	StatusDepositDue       Status = "deposit_due"
	StatusInQueue          Status = "in_queue"
	StatusInProduction     Status = "in_production"
	StatusInLabeling       Status = "in_labeling"
	StatusInPacking        Status = "in_packing"
	StatusPacked           Status = "packed"
	StatusAwaitingInvoice  Status = "awaiting_invoice"
	StatusInvoiced         Status = "invoiced"
	StatusPaymentDue       Status = "payment_due"
	StatusAwaitingPayment  Status = "awaiting_payment"
	StatusReadyToShip      Status = "ready_to_ship"
	StatusShipped          Status = "shipped"
	StatusReadyToStock     Status = "ready_to_stock"
	StatusStocked          Status = "stocked"
	StatusOnHoldCustomer   Status = "on_hold_customer"
	StatusOnHoldInternal   Status = "on_hold_internal"
	StatusOnHoldMaterials  Status = "on_hold_materials"
	StatusCancelled        Status = "cancelled"
)

// allStatuses lists every state in rough fulfillment order.
var allStatuses = []Status{
	StatusDraft, StatusAwaitingApproval, StatusQuoted, StatusDepositDue,
	StatusInQueue, StatusInProduction, StatusInLabeling, StatusInPacking, StatusPacked,
	StatusAwaitingInvoice, StatusInvoiced, StatusPaymentDue, StatusAwaitingPayment,
	StatusReadyToShip, StatusShipped, StatusReadyToStock, StatusStocked,
	StatusOnHoldCustomer, StatusOnHoldInternal, StatusOnHoldMaterials, StatusCancelled,
}

// allowedTransitions is the single source of truth for regular edges.
// Cancellation, hold entry and hold release are handled by the machine.
var allowedTransitions = map[Status][]Status{
	StatusDraft:            {StatusQuoted, StatusAwaitingApproval, StatusDepositDue, StatusInQueue},
	StatusAwaitingApproval: {StatusDraft, StatusQuoted, StatusDepositDue, StatusInQueue},
	StatusQuoted:           {StatusDraft, StatusDepositDue, StatusInQueue},
	StatusDepositDue:       {StatusInQueue},
	StatusInQueue:          {StatusInProduction},
	StatusInProduction:     {StatusInLabeling, StatusInPacking},
	StatusInLabeling:       {StatusInPacking},
	StatusInPacking:        {StatusPacked},
	StatusPacked:           {StatusAwaitingInvoice, StatusInvoiced, StatusReadyToStock},
	StatusAwaitingInvoice:  {StatusInvoiced},
	StatusInvoiced:         {StatusPaymentDue, StatusAwaitingPayment, StatusReadyToShip},
	StatusPaymentDue:       {StatusAwaitingPayment, StatusReadyToShip},
	StatusAwaitingPayment:  {StatusReadyToShip},
	StatusReadyToShip:      {StatusShipped},
	StatusReadyToStock:     {StatusStocked},
	StatusStocked:          {StatusReadyToShip},
}

// Statuses returns every known status.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	for _, st := range allStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusShipped || s == StatusCancelled
}

// IsHold reports whether the status pauses the order.
func (s Status) IsHold() bool {
	switch s {
	case StatusOnHoldCustomer, StatusOnHoldInternal, StatusOnHoldMaterials:
		return true
	default:
		return false
	}
}

// IsQuotationPhase reports statuses before the order enters the queue.
func (s Status) IsQuotationPhase() bool {
	switch s {
	case StatusDraft, StatusAwaitingApproval, StatusQuoted, StatusDepositDue:
		return true
	default:
		return false
	}
}

// IsFulfillmentPhase reports statuses from in_queue onward, excluding holds and cancellation.
func (s Status) IsFulfillmentPhase() bool {
	return s.IsValid() && !s.IsQuotationPhase() && !s.IsHold() && s != StatusCancelled
}

// CanEditLines reports whether order lines may be replaced.
func (s Status) CanEditLines() bool {
	return s == StatusDraft || s == StatusQuoted
}

// CanPlanBatches reports whether production batches may be created.
func (s Status) CanPlanBatches() bool {
	switch s {
	case StatusInQueue, StatusInProduction, StatusInLabeling, StatusInPacking:
		return true
	default:
		return false
	}
}

// IsApproved reports whether an add-on in this status counts as approved.
// Holds are not approved on their own; see Order.IsApproved.
func (s Status) IsApproved() bool {
	if s.IsHold() {
		return false
	}
	switch s {
	case StatusDraft, StatusAwaitingApproval, StatusQuoted, StatusCancelled:
		return false
	default:
		return s.IsValid()
	}
}

// Targets returns the regular edges out of s.
func (s Status) Targets() []Status {
	out := make([]Status, len(allowedTransitions[s]))
	copy(out, allowedTransitions[s])
	return out
}

func edgeAllowed(from, to Status) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
