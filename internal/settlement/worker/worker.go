package worker

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/gocart/internal/clock"
	"github.com/smallbiznis/gocart/internal/config"
	"github.com/smallbiznis/gocart/internal/lock"
	"github.com/smallbiznis/gocart/internal/observability/metrics"
	"github.com/smallbiznis/gocart/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const leaderKey = "settlement:cart-retry"

var ErrInvalidConfig = errors.New("invalid_worker_config")

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Orders  domain.OrderRepository
	Retries domain.RetryRepository
	Clock   clock.Clock
	Cfg     *config.SettlementConfigHolder
	Locker  lock.Locker                 `optional:"true"`
	Metrics *metrics.SettlementMetrics `optional:"true"`
}

// Worker finishes cart clears that a successful settlement had to defer.
type Worker struct {
	db      *gorm.DB
	log     *zap.Logger
	orders  domain.OrderRepository
	retries domain.RetryRepository
	clock   clock.Clock
	cfg     *config.SettlementConfigHolder
	locker  lock.Locker
	metrics *metrics.SettlementMetrics
}

func New(p Params) (*Worker, error) {
	if p.DB == nil || p.Log == nil || p.Orders == nil || p.Retries == nil || p.Clock == nil || p.Cfg == nil {
		return nil, ErrInvalidConfig
	}
	return &Worker{
		db:      p.DB,
		log:     p.Log.Named("settlement.worker").With(zap.String("component", "cart_retry")),
		orders:  p.Orders,
		retries: p.Retries,
		clock:   p.Clock,
		cfg:     p.Cfg,
		locker:  p.Locker,
		metrics: p.Metrics,
	}, nil
}

func (w *Worker) RunForever(ctx context.Context) {
	interval := w.cfg.Get().Retry.Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("cart retry run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if next := w.cfg.Get().Retry.Interval; next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}
}

// RunOnce processes one batch of due retries and returns how many carts
// were cleared.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	cfg := w.cfg.Get()

	release, ok := w.lead(ctx, cfg.Retry.Interval)
	if !ok {
		return 0, nil
	}
	defer release()

	var due []domain.CartClearRetry
	err := w.withTimeout(ctx, cfg, func(ctx context.Context) error {
		var err error
		due, err = w.retries.ListDue(ctx, w.db, w.clock.Now(), cfg.Retry.BatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, item := range due {
		if ctx.Err() != nil {
			return cleared, ctx.Err()
		}
		ok, err := w.process(ctx, cfg, item)
		if err != nil {
			w.log.Warn("cart retry bookkeeping failed",
				zap.String("retry_id", item.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if ok {
			cleared++
		}
	}
	return cleared, nil
}

// lead takes the cross-replica leader lock when a locker is configured.
// A locker outage lets this replica run anyway; claims keep rows exclusive.
func (w *Worker) lead(ctx context.Context, ttl time.Duration) (func(), bool) {
	noop := func() {}
	if w.locker == nil {
		return noop, true
	}
	token, ok, err := w.locker.TryLock(ctx, leaderKey, ttl)
	if err != nil {
		w.log.Warn("cart retry leader lock unavailable", zap.Error(err))
		return noop, true
	}
	if !ok {
		return noop, false
	}
	return func() {
		if err := w.locker.Release(context.WithoutCancel(ctx), leaderKey, token); err != nil {
			w.log.Warn("cart retry leader lock release failed", zap.Error(err))
		}
	}, true
}

func (w *Worker) process(ctx context.Context, cfg config.SettlementConfig, item domain.CartClearRetry) (bool, error) {
	log := w.log.With(
		zap.String("retry_id", item.ID.String()),
		zap.String("event_key", item.EventKey),
	)
	now := w.clock.Now()

	var claimed bool
	err := w.withTimeout(ctx, cfg, func(ctx context.Context) error {
		var err error
		claimed, err = w.retries.Claim(ctx, w.db, item.ID, item.Attempts, now.Add(cfg.LeaseTTL))
		return err
	})
	if err != nil || !claimed {
		return false, err
	}
	attempt := item.Attempts + 1

	// The cart may only be cleared while it still holds what was paid for.
	var cleared bool
	clearErr := w.withTimeout(ctx, cfg, func(ctx context.Context) error {
		var err error
		cleared, err = w.orders.ClearCartIfUnchangedSince(ctx, w.db, item.UserID, item.CreatedAt, now)
		return err
	})
	if clearErr == nil {
		if cleared {
			w.metrics.IncCartRetry(metrics.CartRetryResultCleared)
			log.Info("settlement_cart_cleared_on_retry", zap.Int("attempt", attempt))
		} else {
			w.metrics.IncCartRetry(metrics.CartRetryResultSuperseded)
			log.Info("settlement_cart_retry_superseded",
				zap.Int("attempt", attempt),
				zap.Time("settled_at", item.CreatedAt),
			)
		}
		return cleared, w.withTimeout(ctx, cfg, func(ctx context.Context) error {
			return w.retries.MarkCompleted(ctx, w.db, item.ID, now)
		})
	}

	if attempt >= cfg.Retry.MaxAttempts {
		w.metrics.IncCartRetry(metrics.CartRetryResultAbandoned)
		log.Error("settlement_cart_clear_abandoned",
			zap.Int("attempt", attempt),
			zap.Error(clearErr),
		)
		return false, w.withTimeout(ctx, cfg, func(ctx context.Context) error {
			return w.retries.Abandon(ctx, w.db, item.ID, now, clearErr.Error())
		})
	}

	next := now.Add(Backoff(cfg.Retry, attempt))
	w.metrics.IncCartRetry(metrics.CartRetryResultRescheduled)
	log.Warn("settlement_cart_clear_rescheduled",
		zap.Int("attempt", attempt),
		zap.Time("next_attempt_at", next),
		zap.Error(clearErr),
	)
	return false, w.withTimeout(ctx, cfg, func(ctx context.Context) error {
		return w.retries.Reschedule(ctx, w.db, item.ID, next, clearErr.Error())
	})
}

// Backoff doubles the base delay per attempt, capped at MaxBackoff.
func Backoff(cfg config.RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	if delay > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return delay
}

func (w *Worker) withTimeout(ctx context.Context, cfg config.SettlementConfig, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.StorageTimeout)
	defer cancel()
	return fn(ctx)
}
