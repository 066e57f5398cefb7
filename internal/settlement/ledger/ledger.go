package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/gocart/internal/clock"
	"github.com/smallbiznis/gocart/internal/config"
	"github.com/smallbiznis/gocart/internal/lock"
	obslogger "github.com/smallbiznis/gocart/internal/observability/logger"
	"github.com/smallbiznis/gocart/internal/observability/metrics"
	"github.com/smallbiznis/gocart/internal/settlement/domain"
	"github.com/smallbiznis/gocart/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.LedgerRepository
	Clock   clock.Clock
	GenID   *snowflake.Node
	Cfg     *config.SettlementConfigHolder
	Locker  lock.Locker                 `optional:"true"`
	Metrics *metrics.SettlementMetrics `optional:"true"`
}

// Ledger records which provider events have been applied. A row is first
// reserved under a lease and then committed once the engine has run. A
// reservation whose lease expired without a commit belongs to a delivery
// that was interrupted and may be taken over by the next one.
type Ledger struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.LedgerRepository
	clock   clock.Clock
	genID   *snowflake.Node
	cfg     *config.SettlementConfigHolder
	locker  lock.Locker
	metrics *metrics.SettlementMetrics
}

func New(p Params) *Ledger {
	return &Ledger{
		db:      p.DB,
		log:     p.Log.Named("settlement.ledger"),
		repo:    p.Repo,
		clock:   p.Clock,
		genID:   p.GenID,
		cfg:     p.Cfg,
		locker:  p.Locker,
		metrics: p.Metrics,
	}
}

func lockKey(provider, eventID string) string {
	return fmt.Sprintf("settlement:lock:%s:%s", provider, eventID)
}

func (l *Ledger) Reserve(ctx context.Context, event *domain.SettlementEvent) (*domain.Reservation, error) {
	if event == nil || event.Provider == "" || event.EventID == "" {
		return nil, domain.Malformed("event key is empty")
	}
	log := obslogger.WithContext(ctx, l.log)
	cfg := l.cfg.Get()

	lockToken, err := l.acquire(ctx, event, cfg.LeaseTTL)
	if err != nil {
		return nil, err
	}
	reservation, err := l.reserve(ctx, event, cfg)
	if err != nil || reservation.Applied {
		l.release(ctx, event.Provider, event.EventID, lockToken)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case reservation.Applied:
		l.metrics.IncLedger(event.Provider, metrics.LedgerResultDuplicate)
		log.Info("settlement_duplicate_event")
	case reservation.Resumed:
		l.metrics.IncLedger(event.Provider, metrics.LedgerResultResumed)
		log.Warn("settlement_resumed_after_interrupt",
			zap.Time("previous_reserved_at", reservation.Record.ReservedAt),
		)
	default:
		l.metrics.IncLedger(event.Provider, metrics.LedgerResultFresh)
	}
	if !reservation.Applied {
		reservation.LockToken = lockToken
	}
	return reservation, nil
}

// acquire takes the optional cross-replica lock. A lock backend outage is
// logged and tolerated because the ledger row alone still guarantees
// exclusivity.
func (l *Ledger) acquire(ctx context.Context, event *domain.SettlementEvent, ttl time.Duration) (string, error) {
	if l.locker == nil {
		return "", nil
	}
	token, ok, err := l.locker.TryLock(ctx, lockKey(event.Provider, event.EventID), ttl)
	if err != nil {
		obslogger.WithContext(ctx, l.log).Warn("settlement_lock_unavailable", zap.Error(err))
		return "", nil
	}
	if !ok {
		l.metrics.IncLedger(event.Provider, metrics.LedgerResultInFlight)
		return "", domain.ErrEventInFlight
	}
	return token, nil
}

func (l *Ledger) release(ctx context.Context, provider, eventID, token string) {
	if l.locker == nil || token == "" {
		return
	}
	if err := l.locker.Release(context.WithoutCancel(ctx), lockKey(provider, eventID), token); err != nil {
		obslogger.WithContext(ctx, l.log).Warn("settlement_lock_release_failed", zap.Error(err))
	}
}

func (l *Ledger) reserve(ctx context.Context, event *domain.SettlementEvent, cfg config.SettlementConfig) (*domain.Reservation, error) {
	orderIDs, err := json.Marshal(event.OrderIDs)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now()
	record := &domain.EventRecord{
		ID:            l.genID.Generate(),
		Provider:      event.Provider,
		EventID:       event.EventID,
		EventType:     event.EventType,
		TransactionID: event.TransactionID,
		Outcome:       event.Outcome,
		Source:        event.Source,
		UserID:        event.UserID,
		OrderIDs:      datatypes.JSON(orderIDs),
		Status:        domain.RecordStatusReserved,
		LeaseToken:    uuid.NewString(),
		ReservedAt:    now,
	}
	if json.Valid(event.RawPayload) {
		record.Payload = datatypes.JSON(event.RawPayload)
	}

	inserted, err := l.withTimeout(ctx, cfg, func(ctx context.Context) (bool, error) {
		return l.repo.InsertEvent(ctx, l.db, record)
	})
	if err != nil {
		return nil, l.storageError(metrics.StageReserve, err)
	}
	if inserted {
		return &domain.Reservation{Record: record}, nil
	}

	var stored *domain.EventRecord
	_, err = l.withTimeout(ctx, cfg, func(ctx context.Context) (bool, error) {
		var findErr error
		stored, findErr = l.repo.FindEvent(ctx, l.db, event.Provider, event.EventID)
		return stored != nil, findErr
	})
	if err != nil {
		return nil, l.storageError(metrics.StageReserve, err)
	}
	if stored == nil {
		return nil, domain.ErrEventInFlight
	}
	if stored.Status == domain.RecordStatusApplied {
		return &domain.Reservation{Record: stored, Applied: true}, nil
	}
	if now.Sub(stored.ReservedAt) < cfg.LeaseTTL {
		l.metrics.IncLedger(event.Provider, metrics.LedgerResultInFlight)
		return nil, domain.ErrEventInFlight
	}

	token := uuid.NewString()
	taken, err := l.withTimeout(ctx, cfg, func(ctx context.Context) (bool, error) {
		return l.repo.TakeOverLease(ctx, l.db, stored.ID, stored.LeaseToken, token, now)
	})
	if err != nil {
		return nil, l.storageError(metrics.StageReserve, err)
	}
	if !taken {
		l.metrics.IncLedger(event.Provider, metrics.LedgerResultInFlight)
		return nil, domain.ErrEventInFlight
	}

	resumed := *stored
	resumed.LeaseToken = token
	return &domain.Reservation{Record: &resumed, Resumed: true}, nil
}

// Commit marks the reservation applied and stores what the engine did.
func (l *Ledger) Commit(ctx context.Context, reservation *domain.Reservation, summary domain.ResultSummary) error {
	if reservation == nil || reservation.Record == nil {
		return errors.New("reservation is empty")
	}
	record := reservation.Record
	defer l.release(ctx, record.Provider, record.EventID, reservation.LockToken)

	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	cfg := l.cfg.Get()
	now := l.clock.Now()
	committed, err := l.withTimeout(ctx, cfg, func(ctx context.Context) (bool, error) {
		return l.repo.MarkApplied(ctx, l.db, record.ID, record.LeaseToken, now, payload)
	})
	if err != nil {
		return l.storageError(metrics.StageCommit, err)
	}
	if !committed {
		// Another delivery took the lease over; it re-applies the same
		// idempotent writes and commits on its own.
		obslogger.WithContext(ctx, l.log).Warn("settlement_lease_lost_on_commit")
		return domain.ErrLeaseLost
	}

	record.Status = domain.RecordStatusApplied
	record.AppliedAt = &now
	record.ResultSummary = datatypes.JSON(payload)
	return nil
}

// Release gives up a reservation after the engine failed without mutating
// anything, so a redelivery can take it over immediately.
func (l *Ledger) Release(ctx context.Context, reservation *domain.Reservation) error {
	if reservation == nil || reservation.Record == nil || reservation.Applied {
		return nil
	}
	record := reservation.Record
	defer l.release(ctx, record.Provider, record.EventID, reservation.LockToken)

	cfg := l.cfg.Get()
	expiredAt := l.clock.Now().Add(-cfg.LeaseTTL)
	_, err := l.withTimeout(context.WithoutCancel(ctx), cfg, func(ctx context.Context) (bool, error) {
		return true, l.repo.ExpireLease(ctx, l.db, record.ID, record.LeaseToken, expiredAt)
	})
	if err != nil {
		return l.storageError(metrics.StageReserve, err)
	}
	return nil
}

func (l *Ledger) Find(ctx context.Context, provider string, eventID string) (*domain.EventRecord, error) {
	var record *domain.EventRecord
	_, err := l.withTimeout(ctx, l.cfg.Get(), func(ctx context.Context) (bool, error) {
		var findErr error
		record, findErr = l.repo.FindEvent(ctx, l.db, provider, eventID)
		return record != nil, findErr
	})
	if err != nil {
		return nil, l.storageError(metrics.StageReserve, err)
	}
	return record, nil
}

func (l *Ledger) withTimeout(ctx context.Context, cfg config.SettlementConfig, fn func(ctx context.Context) (bool, error)) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.StorageTimeout)
	defer cancel()
	return fn(ctx)
}

func (l *Ledger) storageError(stage string, err error) error {
	reason := db.Reason(err)
	l.metrics.IncStorageError(stage, reason)
	if db.IsTransient(err) {
		return fmt.Errorf("%w: %s: %v", domain.ErrStorageTransient, stage, err)
	}
	return fmt.Errorf("ledger %s: %w", stage, err)
}

var _ domain.Ledger = (*Ledger)(nil)
