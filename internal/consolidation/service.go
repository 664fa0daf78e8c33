package consolidation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bottleops/bottleops/internal/orders"
	"github.com/bottleops/bottleops/internal/pricing"
)

// buildTimeout bounds a shared build once it is detached from the caller.
const buildTimeout = 30 * time.Second

// OrderSource loads orders with their lines.
type OrderSource interface {
	Get(ctx context.Context, id uuid.UUID) (orders.Order, error)
	ListAddOns(ctx context.Context, parentID uuid.UUID) ([]orders.Order, error)
}

// Service serves cached consolidated views and invalidates them on order changes.
type Service struct {
	orders    OrderSource
	cache     *Cache
	formatter *pricing.Formatter
	logger    *slog.Logger
	group     singleflight.Group
}

// NewService wires the order source with a cache helper. cache and formatter may be nil.
func NewService(source OrderSource, cache *Cache, formatter *pricing.Formatter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{orders: source, cache: cache, formatter: formatter, logger: logger}
}

// SetOrderSource wires the order source after construction, used when the
// order service itself needs this service as its change listener.
func (s *Service) SetOrderSource(source OrderSource) {
	s.orders = source
}

// View returns the consolidated view of a parent order.
func (s *Service) View(ctx context.Context, orderID uuid.UUID) (View, error) {
	key, err := s.cache.BuildKey(ctx, orderID)
	if err != nil {
		return View{}, err
	}
	ch := s.group.DoChan(key, func() (any, error) {
		// Waiters share this build, so one caller going away must not cancel it.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), buildTimeout)
		defer cancel()
		var view View
		err := s.cache.FetchJSON(flightCtx, key, &view, func(ctx context.Context) (any, error) {
			return s.build(ctx, orderID)
		})
		return view, err
	})
	select {
	case <-ctx.Done():
		return View{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return View{}, res.Err
		}
		return res.Val.(View), nil
	}
}

func (s *Service) build(ctx context.Context, orderID uuid.UUID) (View, error) {
	var (
		parent orders.Order
		addOns []orders.Order
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		parent, err = s.orders.Get(gctx, orderID)
		return err
	})
	g.Go(func() error {
		var err error
		addOns, err = s.orders.ListAddOns(gctx, orderID)
		return err
	})
	if err := g.Wait(); err != nil {
		return View{}, err
	}
	view, err := Consolidate(parent, addOns, s.formatter)
	if err != nil {
		return View{}, err
	}
	s.logger.Debug("consolidated view built", slog.String("order_id", orderID.String()), slog.Int("orders", len(view.OrderIDs)))
	return view, nil
}

// OrderChanged invalidates the view an order contributes to.
func (s *Service) OrderChanged(ctx context.Context, o orders.Order) error {
	parentID := o.ID
	if o.ParentID != nil {
		parentID = *o.ParentID
	}
	return s.cache.Bump(ctx, parentID)
}
