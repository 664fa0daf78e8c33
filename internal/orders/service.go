package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bottleops/bottleops/internal/observability"
	"github.com/bottleops/bottleops/internal/pricing"
	"github.com/bottleops/bottleops/internal/sequence"
	"github.com/bottleops/bottleops/internal/shared"
)

// OrderNumberPrefix scopes order numbers; the scope is the creation year.
const OrderNumberPrefix = "SO"

// ApprovalModule tags add-on approvals in the approvals log.
const ApprovalModule = "orders.addon"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id uuid.UUID) (Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, int, error)
	ListAddOns(ctx context.Context, parentID uuid.UUID) ([]Order, error)
	History(ctx context.Context, orderID uuid.UUID) ([]TransitionRecord, error)
}

// CatalogPort resolves products for line pricing.
type CatalogPort interface {
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]pricing.Product, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records add-on approvals.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// IntentPublisher hands side-effect intents to external collaborators.
type IntentPublisher interface {
	Publish(ctx context.Context, intents []Intent) error
}

// LockPort serialises concurrent requests per order.
type LockPort interface {
	WithLocks(ctx context.Context, keys []string, fn func(context.Context) error) error
}

// ProductionGate reports whether production has reached the point a target status needs.
// An empty reason means ready.
type ProductionGate interface {
	Readiness(ctx context.Context, o Order, target Status) (reason string, err error)
}

// ChangeListener is told about committed order changes, used for cache invalidation.
type ChangeListener interface {
	OrderChanged(ctx context.Context, o Order) error
}

// ServiceDeps groups collaborators; only Catalog and Calculator are required.
type ServiceDeps struct {
	Catalog    CatalogPort
	Calculator *pricing.Calculator
	Audit      AuditPort
	Approvals  ApprovalPort
	Intents    IntentPublisher
	Locker     LockPort
	Listener   ChangeListener
	Metrics    *observability.DomainMetrics
	Logger     *slog.Logger
}

// Service coordinates order operations.
type Service struct {
	repo    RepositoryPort
	deps    ServiceDeps
	machine *Machine
	gate    ProductionGate
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, deps ServiceDeps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Calculator == nil {
		deps.Calculator = pricing.NewCalculator(pricing.Config{})
	}
	now := func() time.Time { return time.Now().UTC() }
	return &Service{repo: repo, deps: deps, machine: NewMachine(), now: now}
}

// WithClock overrides the clock, used in tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.machine.WithClock(now)
	return s
}

// SetProductionGate wires the production readiness check.
func (s *Service) SetProductionGate(gate ProductionGate) {
	s.gate = gate
}

// ============================================================================
// QUERIES
// ============================================================================

// Get returns an order with lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// List returns a page of orders.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Order, shared.Pagination, error) {
	list, total, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// ListAddOns returns every add-on of a parent order.
func (s *Service) ListAddOns(ctx context.Context, parentID uuid.UUID) ([]Order, error) {
	return s.repo.ListAddOns(ctx, parentID)
}

// History returns the append-only transition log.
func (s *Service) History(ctx context.Context, orderID uuid.UUID) ([]TransitionRecord, error) {
	return s.repo.History(ctx, orderID)
}

// ============================================================================
// ORDER LIFECYCLE
// ============================================================================

// CreateOrder prices the lines and stores a new order in draft or awaiting_approval.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (Order, error) {
	if strings.TrimSpace(in.Actor) == "" {
		return Order{}, shared.ErrActorRequired
	}
	if in.Source == "" {
		in.Source = SourceStaff
	}
	if !in.Source.IsValid() {
		return Order{}, fmt.Errorf("%w: unknown source %q", ErrInvalidLine, in.Source)
	}
	if in.ParentID != nil {
		parent, err := s.repo.GetOrder(ctx, *in.ParentID)
		if err != nil {
			return Order{}, err
		}
		if parent.IsAddOn() || parent.Status == StatusCancelled {
			return Order{}, fmt.Errorf("%w: %s", ErrInvalidParent, parent.Number)
		}
	}

	now := s.now()
	o := Order{
		ID:              uuid.New(),
		CustomerRef:     strings.TrimSpace(in.CustomerRef),
		Status:          StatusDraft,
		DepositRequired: in.DepositRequired,
		LabelRequired:   in.LabelRequired,
		ParentID:        in.ParentID,
		Internal:        in.Internal,
		Source:          in.Source,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.Source == SourceCustomerPortal {
		o.Status = StatusAwaitingApproval
	}
	lines, err := s.priceLines(ctx, o.ID, in.Lines)
	if err != nil {
		return Order{}, err
	}
	s.applyLines(&o, lines)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		num, err := s.orderNumbers(tx).Next(ctx, sequence.Key{Prefix: OrderNumberPrefix, Scope: strconv.Itoa(now.Year())})
		if err != nil {
			return err
		}
		o.Number = num.Formatted
		if err := tx.InsertOrder(ctx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return tx.AppendHistory(ctx, TransitionRecord{OrderID: o.ID, To: o.Status, Actor: in.Actor, Reason: "created", At: now})
	})
	if err != nil {
		return Order{}, err
	}
	s.audit(ctx, in.Actor, "order.create", o, map[string]any{"status": o.Status, "subtotal": int64(o.Subtotal)})
	if o.IsAddOn() && o.Status == StatusAwaitingApproval && s.deps.Approvals != nil {
		if err := s.deps.Approvals.Record(ctx, shared.ApprovalLog{Module: ApprovalModule, RefID: o.ID, Actor: in.Actor, Action: shared.ApprovalSubmit}); err != nil {
			s.deps.Logger.Warn("record add-on submit", slog.Any("error", err), slog.String("order_id", o.ID.String()))
		}
	}
	s.changed(ctx, o)
	return o, nil
}

// ReplaceLines deletes and recreates the order's lines and recomputes totals.
func (s *Service) ReplaceLines(ctx context.Context, orderID uuid.UUID, inputs []LineInput, actor string) (Order, error) {
	if strings.TrimSpace(actor) == "" {
		return Order{}, shared.ErrActorRequired
	}
	lines, err := s.priceLines(ctx, orderID, inputs)
	if err != nil {
		return Order{}, err
	}
	var out Order
	err = s.locked(ctx, orderID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			o, err := tx.LockOrder(ctx, orderID)
			if err != nil {
				return err
			}
			if !o.Status.CanEditLines() {
				return fmt.Errorf("%w: order %s is %s", ErrOrderNotEditable, o.Number, o.Status)
			}
			s.applyLines(&o, lines)
			o.UpdatedAt = s.now()
			if err := tx.ReplaceLines(ctx, o.ID, o.Lines); err != nil {
				return fmt.Errorf("replace lines: %w", err)
			}
			version, err := tx.UpdateOrder(ctx, o)
			if err != nil {
				return err
			}
			o.Version = version
			out = o
			return nil
		})
	})
	if err != nil {
		return Order{}, err
	}
	s.audit(ctx, actor, "order.lines.replace", out, map[string]any{"lines": len(out.Lines), "subtotal": int64(out.Subtotal)})
	s.changed(ctx, out)
	return out, nil
}

// Transition applies a status change and publishes the resulting intents after commit.
func (s *Service) Transition(ctx context.Context, orderID uuid.UUID, req TransitionRequest) (Result, error) {
	return s.transition(ctx, orderID, req.Actor, func(Order) (TransitionRequest, error) { return req, nil })
}

// ReleaseHold returns a held order to the status it had before the hold.
func (s *Service) ReleaseHold(ctx context.Context, orderID uuid.UUID, actor string) (Result, error) {
	return s.transition(ctx, orderID, actor, func(o Order) (TransitionRequest, error) {
		return s.machine.Release(o, actor)
	})
}

func (s *Service) transition(ctx context.Context, orderID uuid.UUID, actor string, build func(Order) (TransitionRequest, error)) (Result, error) {
	var res Result
	err := s.locked(ctx, orderID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			o, err := tx.LockOrder(ctx, orderID)
			if err != nil {
				return err
			}
			req, err := build(o)
			if err != nil {
				return err
			}
			if req.ExpectedVersion != nil && *req.ExpectedVersion != o.Version {
				return fmt.Errorf("%w: order %s is at version %d, expected %d", shared.ErrConcurrentModification, o.Number, o.Version, *req.ExpectedVersion)
			}
			res, err = s.machine.Transition(o, req)
			if err != nil || res.NoOp {
				return err
			}
			if err := s.checkGate(ctx, o, req.Target); err != nil {
				return err
			}
			version, err := tx.UpdateOrder(ctx, res.Order)
			if err != nil {
				return err
			}
			res.Order.Version = version
			return tx.AppendHistory(ctx, *res.Record)
		})
	})
	if err != nil {
		return Result{}, err
	}
	if res.NoOp {
		return res, nil
	}

	s.deps.Metrics.ObserveTransition(string(res.From), string(res.To))
	s.audit(ctx, actor, "order.transition", res.Order, map[string]any{"from": res.From, "to": res.To, "reason": res.Record.Reason})
	if res.Order.IsAddOn() && res.From == StatusAwaitingApproval && !res.To.IsHold() && s.deps.Approvals != nil {
		action := shared.ApprovalApprove
		if res.To == StatusCancelled || res.To == StatusDraft {
			action = shared.ApprovalReject
		}
		if err := s.deps.Approvals.Record(ctx, shared.ApprovalLog{Module: ApprovalModule, RefID: res.Order.ID, Actor: actor, Action: action}); err != nil {
			s.deps.Logger.Warn("record add-on approval", slog.Any("error", err), slog.String("order_id", res.Order.ID.String()))
		}
	}
	s.publish(ctx, res.Intents)
	s.changed(ctx, res.Order)
	return res, nil
}

func (s *Service) checkGate(ctx context.Context, o Order, target Status) error {
	if s.gate == nil || o.Status.IsHold() {
		return nil
	}
	switch target {
	case StatusInLabeling, StatusInPacking, StatusPacked:
	default:
		return nil
	}
	reason, err := s.gate.Readiness(ctx, o, target)
	if err != nil {
		return err
	}
	if reason != "" {
		return invalidTransition(o, target, reason)
	}
	return nil
}

// RecordDeposit registers a deposit payment and updates the deposit status.
func (s *Service) RecordDeposit(ctx context.Context, orderID uuid.UUID, amount pricing.Money, actor string) (Order, error) {
	if strings.TrimSpace(actor) == "" {
		return Order{}, shared.ErrActorRequired
	}
	if amount <= 0 {
		return Order{}, fmt.Errorf("%w: amount must be positive", ErrInvalidDeposit)
	}
	var out Order
	err := s.locked(ctx, orderID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			o, err := tx.LockOrder(ctx, orderID)
			if err != nil {
				return err
			}
			if !o.DepositRequired {
				return fmt.Errorf("%w: %s", ErrDepositNotRequired, o.Number)
			}
			if o.Status == StatusCancelled {
				return invalidTransition(o, o.Status, "order cancelled")
			}
			if o.DepositPaid+amount > o.Subtotal {
				return fmt.Errorf("%w: paid %s + %s exceeds subtotal %s", ErrInvalidDeposit, o.DepositPaid, amount, o.Subtotal)
			}
			o.DepositPaid += amount
			o.DepositStatus = DepositStatusFor(true, o.DepositAmount, o.DepositPaid)
			o.UpdatedAt = s.now()
			version, err := tx.UpdateOrder(ctx, o)
			if err != nil {
				return err
			}
			o.Version = version
			out = o
			return nil
		})
	})
	if err != nil {
		return Order{}, err
	}
	s.audit(ctx, actor, "order.deposit", out, map[string]any{"amount": int64(amount), "deposit_status": out.DepositStatus})
	s.changed(ctx, out)
	return out, nil
}

// DeleteDraft hard-deletes a draft order that has no batches.
func (s *Service) DeleteDraft(ctx context.Context, orderID uuid.UUID, actor string) error {
	if strings.TrimSpace(actor) == "" {
		return shared.ErrActorRequired
	}
	var deleted Order
	err := s.locked(ctx, orderID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			o, err := tx.LockOrder(ctx, orderID)
			if err != nil {
				return err
			}
			if o.Status != StatusDraft {
				return fmt.Errorf("%w: order %s is %s", ErrHardDeleteNotAllowed, o.Number, o.Status)
			}
			n, err := tx.CountBatches(ctx, orderID)
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: order %s has %d batches", ErrHardDeleteNotAllowed, o.Number, n)
			}
			deleted = o
			return tx.DeleteOrder(ctx, orderID)
		})
	})
	if err != nil {
		return err
	}
	s.audit(ctx, actor, "order.delete", deleted, nil)
	s.changed(ctx, deleted)
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Service) priceLines(ctx context.Context, orderID uuid.UUID, inputs []LineInput) ([]Line, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.ProductID)
	}
	products, err := s.deps.Catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	lines := make([]Line, 0, len(inputs))
	for i, in := range inputs {
		p, ok := products[in.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidLine, i+1, pricing.ErrProductNotFound)
		}
		totals, err := s.deps.Calculator.Line(p, in.SellMode, in.Quantity)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidLine, i+1, err)
		}
		if totals.Fallback {
			s.deps.Logger.Warn("tier gap fallback",
				slog.String("order_id", orderID.String()),
				slog.String("product", p.Code),
				slog.Int("quantity", totals.Quantity),
				slog.String("unit_price", totals.UnitPrice.String()))
			s.deps.Metrics.ObserveTierFallback(p.Code)
		}
		lines = append(lines, Line{
			ID:           uuid.New(),
			OrderID:      orderID,
			Position:     i + 1,
			ProductID:    p.ID,
			ProductCode:  p.Code,
			SellMode:     in.SellMode,
			Quantity:     totals.Quantity,
			UnitPrice:    totals.UnitPrice,
			BottleQty:    totals.BottleQty,
			Subtotal:     totals.Subtotal,
			TierFallback: totals.Fallback,
		})
	}
	return lines, nil
}

// applyLines sets lines and recomputes subtotal, deposit and deposit status.
func (s *Service) applyLines(o *Order, lines []Line) {
	subtotals := make([]pricing.Money, 0, len(lines))
	for i := range lines {
		lines[i].OrderID = o.ID
		subtotals = append(subtotals, lines[i].Subtotal)
	}
	totals := s.deps.Calculator.Totals(subtotals, o.DepositRequired)
	o.Lines = lines
	o.Subtotal = totals.Subtotal
	o.DepositAmount = totals.Deposit
	o.DepositStatus = DepositStatusFor(o.DepositRequired, o.DepositAmount, o.DepositPaid)
}

func (s *Service) orderNumbers(tx TxRepository) *sequence.Allocator {
	return sequence.NewAllocator(tx.Sequences(), sequence.WithFormat(OrderNumberPrefix, sequence.Format{Pad: 6, IncludeScope: true}))
}

func (s *Service) locked(ctx context.Context, orderID uuid.UUID, fn func(context.Context) error) error {
	if s.deps.Locker == nil {
		return fn(ctx)
	}
	return s.deps.Locker.WithLocks(ctx, []string{shared.OrderLockKey(orderID)}, fn)
}

// publish forwards intents; failures never undo the committed change.
func (s *Service) publish(ctx context.Context, intents []Intent) {
	if s.deps.Intents == nil || len(intents) == 0 {
		return
	}
	if err := s.deps.Intents.Publish(ctx, intents); err != nil {
		s.deps.Logger.Error("publish intents", slog.Any("error", err),
			slog.String("order_id", intents[0].OrderID.String()), slog.Int("count", len(intents)))
		for _, in := range intents {
			s.deps.Metrics.ObserveIntentFailure(string(in.Kind))
		}
	}
}

func (s *Service) audit(ctx context.Context, actor, action string, o Order, meta map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = o.Number
	if err := s.deps.Audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: "order", EntityID: o.ID.String(), Meta: meta, At: s.now()}); err != nil {
		s.deps.Logger.Warn("audit record", slog.Any("error", err), slog.String("action", action))
	}
}

func (s *Service) changed(ctx context.Context, o Order) {
	if s.deps.Listener == nil {
		return
	}
	if err := s.deps.Listener.OrderChanged(ctx, o); err != nil && !errors.Is(err, context.Canceled) {
		s.deps.Logger.Warn("order change listener", slog.Any("error", err), slog.String("order_id", o.ID.String()))
	}
}
