package production

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bottleops/bottleops/internal/observability"
	"github.com/bottleops/bottleops/internal/orders"
	"github.com/bottleops/bottleops/internal/pricing"
	"github.com/bottleops/bottleops/internal/sequence"
	"github.com/bottleops/bottleops/internal/shared"
)

// IdempotencyScope scopes plan idempotency keys.
const IdempotencyScope = "production.plan"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBatch(ctx context.Context, id uuid.UUID) (Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
	BatchesForOrder(ctx context.Context, orderID uuid.UUID) ([]Batch, error)
}

// CatalogPort resolves products for batch numbering.
type CatalogPort interface {
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]pricing.Product, error)
}

// LockPort serialises concurrent requests per order and batch.
type LockPort interface {
	WithLocks(ctx context.Context, keys []string, fn func(context.Context) error) error
}

// Service coordinates batch planning, restructuring and workflow tracking.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	locker  LockPort
	metrics *observability.DomainMetrics
	logger  *slog.Logger
	tracker *Tracker
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, catalog CatalogPort, locker LockPort, metrics *observability.DomainMetrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	now := func() time.Time { return time.Now().UTC() }
	return &Service{repo: repo, catalog: catalog, locker: locker, metrics: metrics, logger: logger, tracker: NewTracker(now), now: now}
}

// WithClock overrides the clock, used in tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.tracker = NewTracker(now)
	return s
}

// ============================================================================
// QUERIES
// ============================================================================

// GetBatch returns a batch with allocations and steps.
func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (Batch, error) {
	return s.repo.GetBatch(ctx, id)
}

// ListBatches returns batches matching filter.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	return s.repo.ListBatches(ctx, filter)
}

// Readiness implements the order transition gate: every batch of the order must
// have finished the step target depends on. An empty reason means ready.
func (s *Service) Readiness(ctx context.Context, o orders.Order, target orders.Status) (string, error) {
	if _, gated := RequiredStep(target, o.LabelRequired); !gated {
		return "", nil
	}
	batches, err := s.repo.BatchesForOrder(ctx, o.ID)
	if err != nil {
		return "", err
	}
	if len(batches) == 0 {
		return "no production batches planned", nil
	}
	for _, b := range batches {
		ok, kind := ReadyFor(b.Steps, target, o.LabelRequired)
		if !ok {
			return fmt.Sprintf("batch %s has not finished %s", b.Number, kind), nil
		}
	}
	return "", nil
}

// ============================================================================
// PLANNING
// ============================================================================

// PlanBatches creates one batch per request after re-validating allocations under lock.
func (s *Service) PlanBatches(ctx context.Context, cmd PlanCommand) ([]Batch, error) {
	if strings.TrimSpace(cmd.Actor) == "" {
		return nil, shared.ErrActorRequired
	}
	var created []Batch
	err := s.locked(ctx, []string{shared.OrderLockKey(cmd.OrderID)}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if cmd.IdempotencyKey != "" {
				if err := tx.ClaimIdempotency(ctx, cmd.IdempotencyKey, IdempotencyScope); err != nil {
					return err
				}
			}
			order, err := tx.LockOrder(ctx, cmd.OrderID)
			if err != nil {
				return err
			}
			existing, err := tx.OrderAllocations(ctx, cmd.OrderID)
			if err != nil {
				return err
			}
			products, err := s.productsFor(ctx, order.Lines)
			if err != nil {
				return err
			}
			planner := NewPlanner(sequence.NewAllocator(tx.Sequences()), s.now)
			batches, err := planner.Plan(ctx, PlanInput{Order: order, Existing: existing, Requests: cmd.Requests, Products: products})
			if err != nil {
				return err
			}
			for _, b := range batches {
				if err := tx.InsertBatch(ctx, b); err != nil {
					return err
				}
				if err := tx.RecordAudit(ctx, s.auditLog(cmd.Actor, "batch.plan", b, map[string]any{
					"order": order.Number, "planned_qty": b.PlannedQty,
				})); err != nil {
					return err
				}
			}
			created = batches
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.AddBatchesPlanned("plan", len(created))
	s.logger.Info("batches planned", slog.String("order_id", cmd.OrderID.String()), slog.Int("count", len(created)))
	return created, nil
}

// SplitBatch replaces a queued batch with new batches of the given quantities.
func (s *Service) SplitBatch(ctx context.Context, batchID uuid.UUID, quantities []int, actor string) ([]Batch, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, shared.ErrActorRequired
	}
	var created []Batch
	err := s.locked(ctx, []string{shared.BatchLockKey(batchID)}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			locked, err := tx.LockBatches(ctx, []uuid.UUID{batchID})
			if err != nil {
				return err
			}
			original := locked[0]
			product, err := s.product(ctx, original.ProductID)
			if err != nil {
				return err
			}
			parts, err := Split(ctx, sequence.NewAllocator(tx.Sequences()), original, product, quantities, s.now())
			if err != nil {
				return err
			}
			if err := tx.DeleteBatch(ctx, original.ID); err != nil {
				return err
			}
			numbers := make([]string, 0, len(parts))
			for _, b := range parts {
				if err := tx.InsertBatch(ctx, b); err != nil {
					return err
				}
				numbers = append(numbers, b.Number)
			}
			created = parts
			return tx.RecordAudit(ctx, s.auditLog(actor, "batch.split", original, map[string]any{
				"quantities": quantities, "into": numbers,
			}))
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.AddBatchesPlanned("split", len(created))
	return created, nil
}

// MergeBatches folds queued source batches into target.
func (s *Service) MergeBatches(ctx context.Context, targetID uuid.UUID, sourceIDs []uuid.UUID, actor string) (Batch, error) {
	if strings.TrimSpace(actor) == "" {
		return Batch{}, shared.ErrActorRequired
	}
	ids := append([]uuid.UUID{targetID}, sourceIDs...)
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, shared.BatchLockKey(id))
	}
	var merged Batch
	err := s.locked(ctx, keys, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if len(sourceIDs) == 0 {
				return fmt.Errorf("%w: no source batches", ErrInvalidMerge)
			}
			seen := make(map[uuid.UUID]struct{}, len(ids))
			for _, id := range ids {
				if _, dup := seen[id]; dup {
					return fmt.Errorf("%w: batch %s listed twice or as its own source", ErrInvalidMerge, id)
				}
				seen[id] = struct{}{}
			}
			locked, err := tx.LockBatches(ctx, ids)
			if err != nil {
				return err
			}
			target, sources := locked[0], locked[1:]
			result, err := Merge(target, sources, s.now())
			if err != nil {
				return err
			}
			numbers := make([]string, 0, len(sources))
			for _, src := range sources {
				if err := tx.DeleteBatch(ctx, src.ID); err != nil {
					return err
				}
				numbers = append(numbers, src.Number)
			}
			if err := tx.ReplaceAllocations(ctx, result.ID, result.Allocations); err != nil {
				return err
			}
			version, err := tx.UpdateBatch(ctx, result)
			if err != nil {
				return err
			}
			result.Version = version
			merged = result
			return tx.RecordAudit(ctx, s.auditLog(actor, "batch.merge", result, map[string]any{
				"sources": numbers, "planned_before": target.PlannedQty, "planned_after": result.PlannedQty,
			}))
		})
	})
	if err != nil {
		return Batch{}, err
	}
	return merged, nil
}

// ============================================================================
// WORKFLOW
// ============================================================================

// AdvanceStep moves one workflow step forward and applies the batch effects.
func (s *Service) AdvanceStep(ctx context.Context, batchID uuid.UUID, kind StepKind, operator string) (AdvanceResult, error) {
	if strings.TrimSpace(operator) == "" {
		return AdvanceResult{}, shared.ErrActorRequired
	}
	var res AdvanceResult
	err := s.locked(ctx, []string{shared.BatchLockKey(batchID)}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			locked, err := tx.LockBatches(ctx, []uuid.UUID{batchID})
			if err != nil {
				return err
			}
			res, err = s.tracker.Advance(locked[0], kind, operator)
			if err != nil {
				return err
			}
			if err := tx.UpdateStep(ctx, res.Step); err != nil {
				return err
			}
			version, err := tx.UpdateBatch(ctx, res.Batch)
			if err != nil {
				return err
			}
			res.Batch.Version = version
			meta := map[string]any{"step": kind, "from": res.From, "to": res.Step.Status}
			if err := tx.RecordAudit(ctx, s.auditLog(operator, "workflow.step.advance", res.Batch, meta)); err != nil {
				return err
			}
			if res.OutOfOrder {
				return tx.RecordAudit(ctx, s.auditLog(operator, "workflow.step.deviation", res.Batch, meta))
			}
			return nil
		})
	})
	if err != nil {
		return AdvanceResult{}, err
	}
	if res.OutOfOrder {
		s.metrics.ObserveDeviation(string(kind))
		s.logger.Warn("workflow step out of order",
			slog.String("batch", res.Batch.Number),
			slog.String("step", string(kind)),
			slog.String("operator", operator))
	}
	return res, nil
}

// RecordOutput stores good and scrap counts for a started batch.
func (s *Service) RecordOutput(ctx context.Context, batchID uuid.UUID, good, scrap int, actor string) (Batch, error) {
	return s.mutate(ctx, batchID, actor, "batch.output", map[string]any{"good": good, "scrap": scrap}, func(b Batch) (Batch, error) {
		return s.tracker.RecordOutput(b, good, scrap)
	})
}

// HoldBatch pauses a queued or wip batch.
func (s *Service) HoldBatch(ctx context.Context, batchID uuid.UUID, reason, actor string) (Batch, error) {
	return s.mutate(ctx, batchID, actor, "batch.hold", map[string]any{"reason": reason}, func(b Batch) (Batch, error) {
		return s.tracker.Hold(b, reason)
	})
}

// ResumeBatch restores a held batch to its previous status.
func (s *Service) ResumeBatch(ctx context.Context, batchID uuid.UUID, actor string) (Batch, error) {
	return s.mutate(ctx, batchID, actor, "batch.resume", nil, s.tracker.Resume)
}

func (s *Service) mutate(ctx context.Context, batchID uuid.UUID, actor, action string, meta map[string]any, fn func(Batch) (Batch, error)) (Batch, error) {
	if strings.TrimSpace(actor) == "" {
		return Batch{}, shared.ErrActorRequired
	}
	var out Batch
	err := s.locked(ctx, []string{shared.BatchLockKey(batchID)}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			locked, err := tx.LockBatches(ctx, []uuid.UUID{batchID})
			if err != nil {
				return err
			}
			next, err := fn(locked[0])
			if err != nil {
				return err
			}
			version, err := tx.UpdateBatch(ctx, next)
			if err != nil {
				return err
			}
			next.Version = version
			out = next
			return tx.RecordAudit(ctx, s.auditLog(actor, action, next, meta))
		})
	})
	return out, err
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Service) productsFor(ctx context.Context, lines []orders.Line) (map[uuid.UUID]pricing.Product, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	return s.catalog.GetProducts(ctx, ids)
}

func (s *Service) product(ctx context.Context, id uuid.UUID) (pricing.Product, error) {
	products, err := s.catalog.GetProducts(ctx, []uuid.UUID{id})
	if err != nil {
		return pricing.Product{}, err
	}
	p, ok := products[id]
	if !ok {
		return pricing.Product{}, fmt.Errorf("%w: %s", pricing.ErrProductNotFound, id)
	}
	return p, nil
}

func (s *Service) locked(ctx context.Context, keys []string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLocks(ctx, keys, fn)
}

func (s *Service) auditLog(actor, action string, b Batch, meta map[string]any) shared.AuditLog {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = b.Number
	return shared.AuditLog{Actor: actor, Action: action, Entity: "batch", EntityID: b.ID.String(), Meta: meta, At: s.now()}
}
