package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/gocart/internal/clock"
	"github.com/smallbiznis/gocart/internal/config"
	"github.com/smallbiznis/gocart/internal/lock"
	"github.com/smallbiznis/gocart/internal/settlement/domain"
	"github.com/smallbiznis/gocart/internal/settlement/repository"
	"github.com/smallbiznis/gocart/internal/settlement/settlementtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestLedger(t *testing.T, db *gorm.DB, fake *clock.FakeClock, locker lock.Locker) *Ledger {
	t.Helper()
	return New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Repo:   repository.ProvideLedger(),
		Clock:  fake,
		GenID:  settlementtest.Node(t),
		Cfg:    config.NewStaticSettlementConfigHolder(config.DefaultSettlementConfig()),
		Locker: locker,
	})
}

func testEvent(eventID string) *domain.SettlementEvent {
	return &domain.SettlementEvent{
		Provider:      "stripe",
		EventID:       eventID,
		EventType:     "payment_intent.succeeded",
		TransactionID: "pi_1",
		Outcome:       domain.OutcomeSucceeded,
		OrderIDs:      []string{"O1"},
		UserID:        "U1",
		Source:        domain.SourceWebhook,
		RawPayload:    []byte(`{"id":"` + eventID + `"}`),
	}
}

func TestReserveCommitThenDuplicate(t *testing.T) {
	db := settlementtest.OpenDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(t, db, fake, nil)
	ctx := context.Background()

	reservation, err := ledger.Reserve(ctx, testEvent("evt_1"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reservation.Applied || reservation.Resumed {
		t.Fatalf("expected fresh reservation, got %+v", reservation)
	}

	summary := domain.ResultSummary{Outcome: domain.OutcomeSucceeded, Applied: []string{"O1"}, Cart: domain.CartCleared}
	if err := ledger.Commit(ctx, reservation, summary); err != nil {
		t.Fatalf("commit: %v", err)
	}

	duplicate, err := ledger.Reserve(ctx, testEvent("evt_1"))
	if err != nil {
		t.Fatalf("reserve duplicate: %v", err)
	}
	if !duplicate.Applied {
		t.Fatalf("expected duplicate to be reported as applied")
	}
	if duplicate.Record.ResultSummary == nil {
		t.Fatalf("expected stored result summary")
	}

	settlementtest.AssertCount(t, db, `SELECT COUNT(*) FROM settlement_events WHERE provider = ? AND event_id = ?`, 1, "stripe", "evt_1")

	record, err := ledger.Find(ctx, "stripe", "evt_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if record == nil || record.Status != domain.RecordStatusApplied || record.AppliedAt == nil {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestReserveSameEventWhileInFlight(t *testing.T) {
	db := settlementtest.OpenDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(t, db, fake, nil)
	ctx := context.Background()

	if _, err := ledger.Reserve(ctx, testEvent("evt_1")); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	fake.Advance(30 * time.Second)
	if _, err := ledger.Reserve(ctx, testEvent("evt_1")); !errors.Is(err, domain.ErrEventInFlight) {
		t.Fatalf("expected in-flight error, got %v", err)
	}
}

func TestReserveTakesOverExpiredLease(t *testing.T) {
	db := settlementtest.OpenDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(t, db, fake, nil)
	ctx := context.Background()

	interrupted, err := ledger.Reserve(ctx, testEvent("evt_1"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	fake.Advance(config.DefaultSettlementConfig().LeaseTTL + time.Second)
	resumed, err := ledger.Reserve(ctx, testEvent("evt_1"))
	if err != nil {
		t.Fatalf("reserve after expiry: %v", err)
	}
	if !resumed.Resumed {
		t.Fatalf("expected resumed reservation")
	}
	if resumed.Record.LeaseToken == interrupted.Record.LeaseToken {
		t.Fatalf("expected a new lease token")
	}

	if err := ledger.Commit(ctx, interrupted, domain.ResultSummary{}); !errors.Is(err, domain.ErrLeaseLost) {
		t.Fatalf("expected stale commit to lose the lease, got %v", err)
	}
	if err := ledger.Commit(ctx, resumed, domain.ResultSummary{Outcome: domain.OutcomeSucceeded}); err != nil {
		t.Fatalf("commit resumed: %v", err)
	}
}

func TestReleaseAllowsImmediateRetry(t *testing.T) {
	db := settlementtest.OpenDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(t, db, fake, nil)
	ctx := context.Background()

	reservation, err := ledger.Reserve(ctx, testEvent("evt_1"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := ledger.Release(ctx, reservation); err != nil {
		t.Fatalf("release: %v", err)
	}

	retry, err := ledger.Reserve(ctx, testEvent("evt_1"))
	if err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
	if !retry.Resumed {
		t.Fatalf("expected released reservation to be taken over")
	}
}

func TestConcurrentReserveHasSingleWinner(t *testing.T) {
	db := settlementtest.OpenDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ledger := newTestLedger(t, db, fake, nil)
	ctx := context.Background()

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		inFlight int
		other    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Reserve(ctx, testEvent("evt_race"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, domain.ErrEventInFlight):
				inFlight++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if winners != 1 || inFlight != workers-1 {
		t.Fatalf("expected 1 winner and %d in-flight, got %d and %d", workers-1, winners, inFlight)
	}
}

func TestReserveRespectsDistributedLock(t *testing.T) {
	db := settlementtest.OpenDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	locker := lock.NewMemoryLocker(fake.Now)
	ledger := newTestLedger(t, db, fake, locker)
	ctx := context.Background()

	if _, ok, _ := locker.TryLock(ctx, lockKey("stripe", "evt_1"), time.Minute); !ok {
		t.Fatalf("expected to hold lock")
	}
	if _, err := ledger.Reserve(ctx, testEvent("evt_1")); !errors.Is(err, domain.ErrEventInFlight) {
		t.Fatalf("expected in-flight error while lock is held, got %v", err)
	}
	settlementtest.AssertCount(t, db, `SELECT COUNT(*) FROM settlement_events`, 0)
}

func TestCommitReleasesDistributedLock(t *testing.T) {
	db := settlementtest.OpenDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	locker := lock.NewMemoryLocker(fake.Now)
	ledger := newTestLedger(t, db, fake, locker)
	ctx := context.Background()

	reservation, err := ledger.Reserve(ctx, testEvent("evt_1"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := ledger.Commit(ctx, reservation, domain.ResultSummary{}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, ok, _ := locker.TryLock(ctx, lockKey("stripe", "evt_1"), time.Minute); !ok {
		t.Fatalf("expected lock to be released after commit")
	}
}

type failingRepo struct {
	domain.LedgerRepository
	err error
}

func (r failingRepo) InsertEvent(context.Context, *gorm.DB, *domain.EventRecord) (bool, error) {
	return false, r.err
}

func TestReserveClassifiesStorageErrors(t *testing.T) {
	db := settlementtest.OpenDB(t)
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	newLedger := func(repoErr error) *Ledger {
		return New(Params{
			DB:    db,
			Log:   zap.NewNop(),
			Repo:  failingRepo{err: repoErr},
			Clock: clock.NewFakeClock(time.Now()),
			GenID: node,
			Cfg:   config.NewStaticSettlementConfigHolder(config.DefaultSettlementConfig()),
		})
	}

	_, err = newLedger(&pgconn.PgError{Code: "40001"}).Reserve(context.Background(), testEvent("evt_1"))
	if !errors.Is(err, domain.ErrStorageTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}

	_, err = newLedger(errors.New("no such table")).Reserve(context.Background(), testEvent("evt_1"))
	if err == nil || errors.Is(err, domain.ErrStorageTransient) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
