package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gocart/internal/clock"
	"github.com/smallbiznis/gocart/internal/config"
	obslogger "github.com/smallbiznis/gocart/internal/observability/logger"
	"github.com/smallbiznis/gocart/internal/observability/metrics"
	"github.com/smallbiznis/gocart/internal/settlement/domain"
	"github.com/smallbiznis/gocart/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Orders  domain.OrderRepository
	Retries domain.RetryRepository
	Clock   clock.Clock
	GenID   *snowflake.Node
	Cfg     *config.SettlementConfigHolder
	Metrics *metrics.SettlementMetrics `optional:"true"`
}

// Engine applies a verified settlement event to orders and the cart.
type Engine struct {
	db      *gorm.DB
	log     *zap.Logger
	orders  domain.OrderRepository
	retries domain.RetryRepository
	clock   clock.Clock
	genID   *snowflake.Node
	cfg     *config.SettlementConfigHolder
	metrics *metrics.SettlementMetrics
}

func New(p Params) *Engine {
	return &Engine{
		db:      p.DB,
		log:     p.Log.Named("settlement.engine"),
		orders:  p.Orders,
		retries: p.Retries,
		clock:   p.Clock,
		genID:   p.GenID,
		cfg:     p.Cfg,
		metrics: p.Metrics,
	}
}

func (e *Engine) Apply(ctx context.Context, event *domain.SettlementEvent) (domain.SettlementResult, error) {
	if event == nil {
		return domain.SettlementResult{}, domain.Malformed("event is nil")
	}
	if len(event.OrderIDs) == 0 || event.UserID == "" {
		return domain.SettlementResult{}, domain.Malformed("event carries no orders or user")
	}

	start := e.clock.Now()
	defer func() {
		e.metrics.ObserveApply(event.Provider, string(event.Outcome), e.clock.Now().Sub(start))
	}()

	switch event.Outcome {
	case domain.OutcomeSucceeded:
		return e.settlePaid(ctx, event)
	case domain.OutcomeFailed:
		return e.settleFailed(ctx, event)
	default:
		return domain.SettlementResult{}, domain.Malformed("outcome %q cannot be applied", event.Outcome)
	}
}

// settlePaid marks every listed order paid in one transaction, then clears
// the paying user's cart. A cart failure never undoes the order writes; it
// is queued for the retry worker instead.
func (e *Engine) settlePaid(ctx context.Context, event *domain.SettlementEvent) (domain.SettlementResult, error) {
	log := obslogger.WithContext(ctx, e.log)
	result := domain.SettlementResult{
		Outcome: domain.OutcomeSucceeded,
		Orders:  domain.OrdersResult{Failed: map[string]error{}},
	}

	err := e.withTimeout(ctx, func(ctx context.Context) error {
		return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			orders, err := e.orders.ListByIDs(ctx, tx, event.OrderIDs, true)
			if err != nil {
				return err
			}
			byID := make(map[string]domain.Order, len(orders))
			for _, order := range orders {
				byID[order.ID] = order
			}

			applied := []string{}
			missing := []string{}
			failed := map[string]error{}
			now := e.clock.Now()
			for _, id := range event.OrderIDs {
				order, ok := byID[id]
				switch {
				case !ok:
					missing = append(missing, id)
				case order.UserID != event.UserID:
					failed[id] = domain.ErrOrderOwnership
				case order.Status == domain.OrderStatusCancelled:
					failed[id] = domain.ErrOrderCancelled
				case order.IsPaid:
					applied = append(applied, id)
				default:
					if err := e.orders.MarkPaid(ctx, tx, id, now); err != nil {
						return err
					}
					applied = append(applied, id)
				}
			}
			result.Orders.Applied = applied
			result.Orders.Missing = missing
			result.Orders.Failed = failed
			return nil
		})
	})
	if err != nil {
		return domain.SettlementResult{}, e.storageError(metrics.StageApply, err)
	}

	for _, id := range result.Orders.Missing {
		log.Warn("settlement_order_not_found", zap.String("order_id", id))
	}

	if len(result.Orders.Applied) > 0 {
		result.Cart = e.clearCart(ctx, event)
	} else {
		result.Cart = domain.CartResult{Status: domain.CartSkipped}
	}

	if len(result.Orders.Failed) > 0 {
		return result, &domain.PartialApplicationError{Outcome: domain.OutcomeSucceeded, Failures: result.Orders.Failed}
	}
	return result, nil
}

func (e *Engine) clearCart(ctx context.Context, event *domain.SettlementEvent) domain.CartResult {
	log := obslogger.WithContext(ctx, e.log)
	now := e.clock.Now()

	err := e.withTimeout(ctx, func(ctx context.Context) error {
		return e.orders.ClearCart(ctx, e.db, event.UserID, now)
	})
	if err == nil {
		return domain.CartResult{Status: domain.CartCleared}
	}

	e.metrics.IncStorageError(metrics.StageCart, db.Reason(err))
	log.Warn("settlement_cart_clear_deferred", zap.Error(err))

	retry := &domain.CartClearRetry{
		ID:            e.genID.Generate(),
		UserID:        event.UserID,
		EventKey:      event.Key(),
		LastError:     err.Error(),
		NextAttemptAt: now.Add(e.cfg.Get().Retry.BaseBackoff),
		CreatedAt:     now,
	}
	enqueueErr := e.withTimeout(context.WithoutCancel(ctx), func(ctx context.Context) error {
		return e.retries.Enqueue(ctx, e.db, retry)
	})
	if enqueueErr != nil {
		log.Error("settlement_cart_retry_enqueue_failed", zap.Error(enqueueErr))
		return domain.CartResult{Status: domain.CartDeferred, Err: errors.Join(err, enqueueErr)}
	}
	return domain.CartResult{Status: domain.CartDeferred, Err: err}
}

// settleFailed removes each unpaid order independently so that one order
// failing to delete does not block the rest. Paid orders are left alone.
func (e *Engine) settleFailed(ctx context.Context, event *domain.SettlementEvent) (domain.SettlementResult, error) {
	log := obslogger.WithContext(ctx, e.log)
	result := domain.SettlementResult{
		Outcome: domain.OutcomeFailed,
		Orders:  domain.OrdersResult{Applied: []string{}, Missing: []string{}, Failed: map[string]error{}},
		Cart:    domain.CartResult{Status: domain.CartSkipped},
	}

	for _, id := range event.OrderIDs {
		removed, err := e.removeOrder(ctx, event.UserID, id)
		switch {
		case err != nil:
			if !errors.Is(err, domain.ErrOrderAlreadyPaid) && !errors.Is(err, domain.ErrOrderOwnership) {
				err = e.storageError(metrics.StageApply, err)
			}
			log.Warn("settlement_order_delete_failed", zap.String("order_id", id), zap.Error(err))
			result.Orders.Failed[id] = err
		case removed:
			result.Orders.Applied = append(result.Orders.Applied, id)
		default:
			result.Orders.Missing = append(result.Orders.Missing, id)
		}
	}

	if len(result.Orders.Failed) > 0 {
		return result, &domain.PartialApplicationError{Outcome: domain.OutcomeFailed, Failures: result.Orders.Failed}
	}
	return result, nil
}

func (e *Engine) removeOrder(ctx context.Context, userID, id string) (bool, error) {
	removed := false
	err := e.withTimeout(ctx, func(ctx context.Context) error {
		return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			orders, err := e.orders.ListByIDs(ctx, tx, []string{id}, true)
			if err != nil {
				return err
			}
			if len(orders) == 0 {
				return nil
			}
			order := orders[0]
			if order.UserID != userID {
				return domain.ErrOrderOwnership
			}
			if order.IsPaid {
				return domain.ErrOrderAlreadyPaid
			}
			if err := e.orders.DeleteWithItems(ctx, tx, id); err != nil {
				return err
			}
			removed = true
			return nil
		})
	})
	return removed, err
}

func (e *Engine) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Get().StorageTimeout)
	defer cancel()
	return fn(ctx)
}

// storageError tags errors a later redelivery can overcome.
func (e *Engine) storageError(stage string, err error) error {
	e.metrics.IncStorageError(stage, db.Reason(err))
	if db.IsTransient(err) {
		return fmt.Errorf("%w: %v", domain.ErrStorageTransient, err)
	}
	return err
}

var _ domain.Engine = (*Engine)(nil)
