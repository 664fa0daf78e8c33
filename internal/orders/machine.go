package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/bottleops/bottleops/internal/shared"
)

// Result is the outcome of a transition request.
type Result struct {
	From    Status
	To      Status
	Order   Order
	Intents []Intent
	Record  *TransitionRecord
	// NoOp is set when the order already had the requested status.
	NoOp bool
}

// Machine validates and applies order status transitions. It performs no I/O.
type Machine struct {
	now func() time.Time
}

// NewMachine builds a Machine using the wall clock.
func NewMachine() *Machine {
	return &Machine{now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the clock, used in tests.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	if now != nil {
		m.now = now
	}
	return m
}

// Transition moves o to req.Target when the edge is allowed.
func (m *Machine) Transition(o Order, req TransitionRequest) (Result, error) {
	target := req.Target
	if !target.IsValid() {
		return Result{}, invalidTransition(o, target, "unknown status")
	}
	if o.Status == target {
		return Result{From: o.Status, To: target, Order: o, NoOp: true}, nil
	}
	if strings.TrimSpace(req.Actor) == "" {
		return Result{}, shared.ErrActorRequired
	}
	if o.Status.IsTerminal() {
		return Result{}, invalidTransition(o, target, "order is in a terminal state")
	}
	reason := strings.TrimSpace(req.Reason)
	if err := m.check(o, target, reason); err != nil {
		return Result{}, err
	}

	from := o.Status
	next := o
	next.Status = target
	switch {
	case target.IsHold():
		if !from.IsHold() {
			pre := from
			next.PreHoldStatus = &pre
		}
		next.HoldReason = &reason
	case from.IsHold():
		next.PreHoldStatus = nil
		next.HoldReason = nil
	}

	at := m.now()
	next.UpdatedAt = at
	record := &TransitionRecord{OrderID: o.ID, From: from, To: target, Actor: req.Actor, Reason: reason, At: at}
	return Result{
		From:    from,
		To:      target,
		Order:   next,
		Intents: intentsFor(next, from, target, reason),
		Record:  record,
	}, nil
}

// Release computes the request that lifts a hold.
func (m *Machine) Release(o Order, actor string) (TransitionRequest, error) {
	if !o.Status.IsHold() || o.PreHoldStatus == nil {
		return TransitionRequest{}, invalidTransition(o, o.Status, "order is not on hold")
	}
	return TransitionRequest{Target: *o.PreHoldStatus, Actor: actor}, nil
}

func (m *Machine) check(o Order, target Status, reason string) error {
	switch {
	case target == StatusCancelled:
		return nil
	case target.IsHold():
		if reason == "" {
			return fmt.Errorf("%w: entering %s", ErrHoldReasonRequired, target)
		}
		return nil
	case o.Status.IsHold():
		if o.PreHoldStatus == nil || *o.PreHoldStatus != target {
			return invalidTransition(o, target, fmt.Sprintf("hold releases only to %s", preHold(o)))
		}
		return nil
	}
	if !edgeAllowed(o.Status, target) {
		return invalidTransition(o, target, "")
	}
	switch target {
	case StatusDepositDue:
		if !o.DepositRequired {
			return invalidTransition(o, target, "deposit not required")
		}
	case StatusInQueue:
		if o.DepositRequired && o.DepositStatus == DepositUnpaid {
			return invalidTransition(o, target, "deposit unpaid")
		}
	case StatusInPacking:
		if o.Status == StatusInProduction && o.LabelRequired {
			return invalidTransition(o, target, "labeling required")
		}
	case StatusReadyToStock:
		if !o.Internal {
			return invalidTransition(o, target, "only internal orders are stocked")
		}
	}
	return nil
}

func preHold(o Order) string {
	if o.PreHoldStatus == nil {
		return "unknown"
	}
	return string(*o.PreHoldStatus)
}

var notifyTemplates = map[Status]string{
	StatusQuoted:       "quote_ready",
	StatusDepositDue:   "deposit_requested",
	StatusInQueue:      "order_queued",
	StatusInProduction: "production_started",
	StatusPacked:       "order_packed",
	StatusPaymentDue:   "payment_due",
	StatusReadyToShip:  "ready_to_ship",
	StatusShipped:      "order_shipped",
	StatusCancelled:    "order_cancelled",
}

func intentsFor(o Order, from, to Status, reason string) []Intent {
	base := map[string]any{
		"order_number": o.Number,
		"from":         string(from),
		"to":           string(to),
	}
	var intents []Intent
	switch to {
	case StatusDepositDue:
		intents = append(intents, Intent{Kind: IntentInvoice, OrderID: o.ID, Template: "deposit",
			Payload: withValues(base, "amount", int64(o.DepositAmount))})
	case StatusInvoiced:
		intents = append(intents, Intent{Kind: IntentInvoice, OrderID: o.ID, Template: "final",
			Payload: withValues(base, "amount", int64(o.Subtotal-o.DepositPaid))})
	}
	if o.Internal {
		return intents
	}
	template, ok := notifyTemplates[to]
	switch {
	case to.IsHold():
		template, ok = "order_on_hold", true
	case from.IsHold() && to != StatusCancelled:
		template, ok = "hold_released", true
	}
	if ok {
		payload := base
		if reason != "" {
			payload = withValues(base, "reason", reason)
		}
		intents = append(intents, Intent{Kind: IntentNotify, OrderID: o.ID, Template: template, Payload: payload})
	}
	return intents
}

func withValues(base map[string]any, kv ...any) map[string]any {
	out := make(map[string]any, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}
