package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/gocart/internal/clock"
	"github.com/smallbiznis/gocart/internal/config"
	obscontext "github.com/smallbiznis/gocart/internal/observability/context"
	obslogger "github.com/smallbiznis/gocart/internal/observability/logger"
	"github.com/smallbiznis/gocart/internal/observability/tracing"
	"github.com/smallbiznis/gocart/internal/settlement/adapters"
	"github.com/smallbiznis/gocart/internal/settlement/domain"
	"github.com/smallbiznis/gocart/pkg/db"
	"github.com/smallbiznis/gocart/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const confirmationProvider = "razorpay"

const inFlightPollInterval = 50 * time.Millisecond

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Adapters   *adapters.Registry
	Ledger     domain.Ledger
	Engine     domain.Engine
	Orders     domain.OrderRepository
	Clock      clock.Clock
	Cfg        config.Config
	Settlement *config.SettlementConfigHolder
}

// Service runs provider events and client confirmations through
// verification, the ledger and the engine.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	adapters   *adapters.Registry
	ledger     domain.Ledger
	engine     domain.Engine
	orders     domain.OrderRepository
	clock      clock.Clock
	cfg        config.Config
	settlement *config.SettlementConfigHolder
	tracer     trace.Tracer
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("settlement.webhook"),
		adapters:   p.Adapters,
		ledger:     p.Ledger,
		engine:     p.Engine,
		orders:     p.Orders,
		clock:      p.Clock,
		cfg:        p.Cfg,
		settlement: p.Settlement,
		tracer:     otel.Tracer("gocart/settlement"),
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (settlement *domain.Settlement, err error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return nil, domain.ErrProviderNotFound
	}

	ctx, _ = correlation.EnsureCorrelationID(ctx)
	ctx, span := s.tracer.Start(ctx, "settlement.ingest_webhook",
		trace.WithAttributes(tracing.SafeAttributes(attribute.String("provider", provider))...))
	defer func() { endSpan(span, settlement, err) }()

	adapter, err := s.adapter(provider)
	if err != nil {
		return nil, err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("settlement_signature_rejected",
			zap.String("provider", provider),
			zap.Error(err),
		)
		return nil, err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		return nil, err
	}
	event.Provider = provider
	ctx = obscontext.WithSettlement(ctx, provider, event.EventID)
	if event.UserID != "" {
		ctx = obscontext.WithUserID(ctx, event.UserID)
	}
	log := obslogger.WithContext(ctx, s.log)
	settlement = &domain.Settlement{Event: event}

	if expected := strings.TrimSpace(s.cfg.AppID); event.AppID != expected {
		log.Info("settlement_foreign_application",
			zap.String("app_id", event.AppID),
			zap.String("expected_app_id", expected),
			zap.String("event_type", event.EventType),
		)
		settlement.Ignored = domain.IgnoreForeignApplication
		return settlement, nil
	}

	if event.Outcome == domain.OutcomeNoop {
		log.Info("unhandled_event_type", zap.String("event_type", event.EventType))
		settlement.Ignored = domain.IgnoreUnhandledType
		return settlement, s.recordNoop(ctx, settlement)
	}

	if err := s.checkOwnership(ctx, event); err != nil {
		return settlement, err
	}
	return settlement, s.settle(ctx, settlement)
}

func (s *Service) Confirm(ctx context.Context, identity domain.Identity, req domain.ConfirmationRequest) (settlement *domain.Settlement, err error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return nil, domain.ErrConfirmationRejected
	}
	if method := strings.TrimSpace(req.PaymentMethod); method != "" && !strings.EqualFold(method, string(domain.PaymentMethodRazorpay)) {
		return nil, domain.Malformed("payment method %q cannot be confirmed by the client", method)
	}

	ctx, _ = correlation.EnsureCorrelationID(ctx)
	ctx = obscontext.WithUserID(ctx, identity.UserID)
	ctx, span := s.tracer.Start(ctx, "settlement.confirm",
		trace.WithAttributes(tracing.SafeAttributes(attribute.String("provider", confirmationProvider))...))
	defer func() { endSpan(span, settlement, err) }()

	adapter, err := s.adapter(confirmationProvider)
	if err != nil {
		return nil, err
	}
	verifier, ok := adapter.(domain.ConfirmationVerifier)
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	if err := verifier.VerifyConfirmation(ctx, req); err != nil {
		return nil, err
	}

	orders, err := s.ordersForConfirmation(ctx, req.ProviderOrderID)
	if err != nil {
		return nil, err
	}
	orderIDs := make([]string, 0, len(orders))
	for _, order := range orders {
		if order.UserID != identity.UserID {
			obslogger.WithContext(ctx, s.log).Warn("settlement_confirmation_foreign_order",
				zap.String("order_id", order.ID),
			)
			return nil, domain.ErrConfirmationRejected
		}
		orderIDs = append(orderIDs, order.ID)
	}

	raw, err := json.Marshal(map[string]string{
		"razorpayOrderId":   strings.TrimSpace(req.ProviderOrderID),
		"razorpayPaymentId": strings.TrimSpace(req.PaymentID),
	})
	if err != nil {
		return nil, err
	}
	paymentID := strings.TrimSpace(req.PaymentID)
	event := &domain.SettlementEvent{
		Provider:      confirmationProvider,
		EventID:       "confirm:" + paymentID,
		EventType:     "checkout.confirmation",
		TransactionID: paymentID,
		Outcome:       domain.OutcomeSucceeded,
		OrderIDs:      orderIDs,
		UserID:        identity.UserID,
		AppID:         s.cfg.AppID,
		OccurredAt:    s.clock.Now(),
		Source:        domain.SourceConfirmation,
		RawPayload:    raw,
	}
	ctx = obscontext.WithSettlement(ctx, event.Provider, event.EventID)
	settlement = &domain.Settlement{Event: event}
	err = s.settle(ctx, settlement)
	if errors.Is(err, domain.ErrEventInFlight) {
		err = s.awaitApplied(ctx, settlement)
	}
	return settlement, err
}

func (s *Service) Lookup(ctx context.Context, provider string, eventID string) (*domain.EventRecord, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	eventID = strings.TrimSpace(eventID)
	if provider == "" || eventID == "" {
		return nil, domain.ErrEventNotFound
	}
	record, err := s.ledger.Find(ctx, provider, eventID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrEventNotFound
	}
	return record, nil
}

// settle reserves the event, applies it and commits the result. Failures
// that left nothing worth keeping release the reservation so the provider's
// redelivery can retry at once.
func (s *Service) settle(ctx context.Context, settlement *domain.Settlement) error {
	log := obslogger.WithContext(ctx, s.log)
	event := settlement.Event

	reservation, err := s.ledger.Reserve(ctx, event)
	if err != nil {
		return err
	}
	if reservation.Applied {
		settlement.Duplicate = true
		settlement.Previous = previousSummary(reservation.Record)
		return nil
	}
	settlement.Resumed = reservation.Resumed

	result, applyErr := s.engine.Apply(ctx, event)
	settlement.Result = result
	if applyErr != nil {
		var partial *domain.PartialApplicationError
		if !errors.As(applyErr, &partial) || partial.Transient() {
			if err := s.ledger.Release(ctx, reservation); err != nil {
				log.Warn("settlement_release_failed", zap.Error(err))
			}
			return applyErr
		}
		log.Warn("settlement_partially_applied",
			zap.Strings("failed_orders", partial.FailedOrderIDs()),
			zap.Error(applyErr),
		)
	}

	if err := s.ledger.Commit(ctx, reservation, result.Summary()); err != nil {
		if !errors.Is(err, domain.ErrLeaseLost) {
			return err
		}
	}

	log.Info("settlement_applied",
		zap.String("outcome", string(event.Outcome)),
		zap.Strings("applied_orders", result.Orders.Applied),
		zap.Strings("missing_orders", result.Orders.Missing),
		zap.String("cart", string(result.Cart.Status)),
		zap.Bool("resumed", settlement.Resumed),
	)
	return applyErr
}

// awaitApplied waits up to the storage timeout for the holder of an
// in-flight confirmation to commit, then reports its result as a duplicate.
func (s *Service) awaitApplied(ctx context.Context, settlement *domain.Settlement) error {
	ctx, cancel := context.WithTimeout(ctx, s.settlement.Get().StorageTimeout)
	defer cancel()

	ticker := time.NewTicker(inFlightPollInterval)
	defer ticker.Stop()

	event := settlement.Event
	for {
		select {
		case <-ctx.Done():
			obslogger.WithContext(ctx, s.log).Info("settlement_confirmation_still_in_flight")
			return domain.ErrEventInFlight
		case <-ticker.C:
		}

		record, err := s.ledger.Find(ctx, event.Provider, event.EventID)
		if err != nil {
			if ctx.Err() != nil {
				return domain.ErrEventInFlight
			}
			return err
		}
		if record != nil && record.Status == domain.RecordStatusApplied {
			settlement.Duplicate = true
			settlement.Previous = previousSummary(record)
			return nil
		}
	}
}

// recordNoop keeps an audit row for events that change nothing.
func (s *Service) recordNoop(ctx context.Context, settlement *domain.Settlement) error {
	reservation, err := s.ledger.Reserve(ctx, settlement.Event)
	if err != nil {
		return err
	}
	if reservation.Applied {
		settlement.Duplicate = true
		settlement.Previous = previousSummary(reservation.Record)
		return nil
	}
	settlement.Result = domain.SettlementResult{
		Outcome: domain.OutcomeNoop,
		Cart:    domain.CartResult{Status: domain.CartSkipped},
	}
	if err := s.ledger.Commit(ctx, reservation, settlement.Result.Summary()); err != nil && !errors.Is(err, domain.ErrLeaseLost) {
		return err
	}
	return nil
}

// checkOwnership rejects events naming an existing order that belongs to
// someone other than the paying user. Missing orders are left to the engine.
func (s *Service) checkOwnership(ctx context.Context, event *domain.SettlementEvent) error {
	orders, err := s.listOrders(ctx, func(ctx context.Context) ([]domain.Order, error) {
		return s.orders.ListByIDs(ctx, s.db, event.OrderIDs, false)
	})
	if err != nil {
		return err
	}
	for _, order := range orders {
		if order.UserID != event.UserID {
			obslogger.WithContext(ctx, s.log).Warn("settlement_order_ownership_mismatch",
				zap.String("order_id", order.ID),
			)
			return domain.Malformed("order %s does not belong to the paying user", order.ID)
		}
	}
	return nil
}

func (s *Service) ordersForConfirmation(ctx context.Context, providerOrderID string) ([]domain.Order, error) {
	orders, err := s.listOrders(ctx, func(ctx context.Context) ([]domain.Order, error) {
		return s.orders.ListByProviderOrderID(ctx, s.db, strings.TrimSpace(providerOrderID))
	})
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, domain.ErrConfirmationRejected
	}
	return orders, nil
}

func (s *Service) listOrders(ctx context.Context, fn func(ctx context.Context) ([]domain.Order, error)) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.settlement.Get().StorageTimeout)
	defer cancel()
	orders, err := fn(ctx)
	if err != nil {
		if db.IsTransient(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrStorageTransient, err)
		}
		return nil, err
	}
	return orders, nil
}

func (s *Service) adapter(provider string) (domain.Adapter, error) {
	cfg := domain.AdapterConfig{
		AppID:              s.cfg.AppID,
		SignatureTolerance: s.settlement.Get().SignatureTolerance,
	}
	switch provider {
	case "stripe":
		cfg.WebhookSecret = s.cfg.Stripe.WebhookSecret
		cfg.APISecret = s.cfg.Stripe.SecretKey
	case "razorpay":
		cfg.WebhookSecret = s.cfg.Razorpay.WebhookSecret
		cfg.APISecret = s.cfg.Razorpay.KeySecret
	}
	return s.adapters.NewAdapter(provider, cfg)
}

func previousSummary(record *domain.EventRecord) *domain.ResultSummary {
	if record == nil || len(record.ResultSummary) == 0 {
		return nil
	}
	var summary domain.ResultSummary
	if err := json.Unmarshal(record.ResultSummary, &summary); err != nil {
		return nil
	}
	return &summary
}

func endSpan(span trace.Span, settlement *domain.Settlement, err error) {
	if settlement != nil && settlement.Event != nil {
		span.SetAttributes(tracing.SafeAttributes(
			attribute.String("outcome", string(settlement.Event.Outcome)),
			attribute.Bool("duplicate", settlement.Duplicate),
			attribute.String("ignored", string(settlement.Ignored)),
		)...)
	}
	if err != nil {
		safe := tracing.SafeError(err)
		span.RecordError(safe)
		span.SetStatus(codes.Error, safe.Error())
	}
	span.End()
}

var _ domain.Service = (*Service)(nil)
