package reporter

import (
	"context"
	"errors"
	"net/http"

	"github.com/smallbiznis/gocart/internal/config"
	obslogger "github.com/smallbiznis/gocart/internal/observability/logger"
	"github.com/smallbiznis/gocart/internal/observability/metrics"
	"github.com/smallbiznis/gocart/internal/providers/slack"
	"github.com/smallbiznis/gocart/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultIgnored   = "ignored"
	ResultPartial   = "partial"
	ResultRejected  = "rejected"
	ResultRetry     = "retry"
	ResultError     = "error"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      *config.SettlementConfigHolder
	Slack    slack.Provider             `optional:"true"`
	Metrics  *metrics.SettlementMetrics `optional:"true"`
	Recorder *metrics.Metrics           `optional:"true"`
}

// Ack is the response handed back to the provider. Retry marks responses
// the provider is expected to redeliver.
type Ack struct {
	Status int
	Body   map[string]any
	Retry  bool
	Result string
}

type Reporter struct {
	log      *zap.Logger
	cfg      *config.SettlementConfigHolder
	notifier *Notifier
	metrics  *metrics.SettlementMetrics
	recorder *metrics.Metrics
}

func New(p Params) *Reporter {
	return &Reporter{
		log:      p.Log.Named("settlement.reporter"),
		cfg:      p.Cfg,
		notifier: NewNotifier(p.Slack),
		metrics:  p.Metrics,
		recorder: p.Recorder,
	}
}

// Report turns the pipeline result for a webhook delivery into the
// provider acknowledgement.
func (r *Reporter) Report(ctx context.Context, provider string, settlement *domain.Settlement, err error) Ack {
	ack := Classify(settlement, err)
	r.record(ctx, provider, settlement, err, ack)
	r.notify(ctx, settlement, err)
	return ack
}

// ReportConfirmation answers a client confirmation with a success flag and
// the page the checkout should land on. Retryable failures carry no redirect
// since the payment may still settle.
func (r *Reporter) ReportConfirmation(ctx context.Context, settlement *domain.Settlement, err error) Ack {
	ack := Classify(settlement, err)
	r.record(ctx, "razorpay", settlement, err, ack)
	r.notify(ctx, settlement, err)

	success := err == nil
	body := map[string]any{"success": success}
	if orderID := firstOrderID(settlement); orderID != "" {
		switch {
		case success:
			body["redirect"] = "/order-success/" + orderID
		case !ack.Retry:
			body["redirect"] = "/order-failed/" + orderID
		}
	}
	if code, ok := ack.Body["error"]; ok {
		body["error"] = code
	}
	status := ack.Status
	if !success && ack.Result == ResultPartial {
		status = http.StatusConflict
	}
	return Ack{Status: status, Body: body, Retry: ack.Retry, Result: ack.Result}
}

// Classify maps a settlement and its error to a status code and body. A
// partial application is checked first because its causes unwrap to the
// per-order errors.
func Classify(settlement *domain.Settlement, err error) Ack {
	if err == nil {
		result := ResultApplied
		if settlement != nil {
			switch {
			case settlement.Duplicate:
				result = ResultDuplicate
			case settlement.Ignored != domain.IgnoreNone:
				result = ResultIgnored
			}
		}
		return received(result)
	}

	var partial *domain.PartialApplicationError
	if errors.As(err, &partial) {
		if partial.Transient() {
			return retry(http.StatusServiceUnavailable, "storage_unavailable")
		}
		ack := received(ResultPartial)
		ack.Body["partial"] = true
		ack.Body["failed_orders"] = partial.FailedOrderIDs()
		return ack
	}

	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		return reject(http.StatusBadRequest, "invalid_signature")
	case errors.Is(err, domain.ErrMalformedEvent):
		return reject(http.StatusBadRequest, "malformed_event")
	case errors.Is(err, domain.ErrConfirmationRejected):
		return reject(http.StatusBadRequest, "confirmation_rejected")
	case errors.Is(err, domain.ErrInvalidProvider), errors.Is(err, domain.ErrProviderNotFound):
		return reject(http.StatusNotFound, "provider_not_found")
	case errors.Is(err, domain.ErrInvalidConfig):
		return retry(http.StatusServiceUnavailable, "provider_not_configured")
	case errors.Is(err, domain.ErrEventInFlight):
		return retry(http.StatusServiceUnavailable, "event_in_flight")
	case errors.Is(err, domain.ErrProviderUnavailable):
		return retry(http.StatusServiceUnavailable, "provider_unavailable")
	case errors.Is(err, domain.ErrStorageTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return retry(http.StatusServiceUnavailable, "storage_unavailable")
	}
	return Ack{
		Status: http.StatusInternalServerError,
		Body:   map[string]any{"received": false, "error": "internal_error"},
		Retry:  true,
		Result: ResultError,
	}
}

func received(result string) Ack {
	return Ack{Status: http.StatusOK, Body: map[string]any{"received": true}, Result: result}
}

func reject(status int, code string) Ack {
	return Ack{Status: status, Body: map[string]any{"received": false, "error": code}, Result: ResultRejected}
}

func retry(status int, code string) Ack {
	return Ack{Status: status, Body: map[string]any{"received": false, "error": code}, Retry: true, Result: ResultRetry}
}

func (r *Reporter) record(ctx context.Context, provider string, settlement *domain.Settlement, err error, ack Ack) {
	outcome := "unknown"
	if settlement != nil && settlement.Event != nil {
		outcome = string(settlement.Event.Outcome)
	}
	r.metrics.IncAck(provider, outcome, ack.Status)
	r.recorder.RecordSettlementEvent(ctx, provider, outcome, ack.Result)

	if settlement != nil && (ack.Result == ResultApplied || ack.Result == ResultPartial) {
		orders := settlement.Result.Orders
		r.recorder.RecordOrders(ctx, outcome, "applied", len(orders.Applied))
		r.recorder.RecordOrders(ctx, outcome, "missing", len(orders.Missing))
		r.recorder.RecordOrders(ctx, outcome, "failed", len(orders.Failed))
		if settlement.Result.Cart.Status == domain.CartDeferred {
			r.recorder.RecordCartDeferred(ctx, provider)
		}
	}

	log := obslogger.WithContext(ctx, r.log)
	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.String("result", ack.Result),
		zap.Int("status_code", ack.Status),
	}
	switch {
	case ack.Status >= http.StatusInternalServerError:
		log.Error("settlement_acknowledged", append(fields, zap.Error(err))...)
	case err != nil:
		log.Warn("settlement_acknowledged", append(fields, zap.Error(err))...)
	default:
		log.Info("settlement_acknowledged", fields...)
	}
}

func (r *Reporter) notify(ctx context.Context, settlement *domain.Settlement, err error) {
	if settlement == nil || settlement.Event == nil || settlement.Duplicate || settlement.Ignored != domain.IgnoreNone {
		return
	}
	if settlement.Event.Outcome == domain.OutcomeNoop {
		return
	}

	var partial *domain.PartialApplicationError
	if err != nil && !errors.As(err, &partial) {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Get().NotifyTimeout)
	defer cancel()

	var notifyErr error
	switch {
	case partial != nil:
		notifyErr = r.notifier.SettlementDegraded(ctx, settlement, DegradedPartial)
	case settlement.Result.Cart.Status == domain.CartDeferred:
		notifyErr = r.notifier.SettlementDegraded(ctx, settlement, DegradedCartDeferred)
	default:
		notifyErr = r.notifier.SettlementApplied(ctx, settlement)
	}
	if notifyErr != nil {
		obslogger.WithContext(ctx, r.log).Warn("settlement_notify_failed", zap.Error(notifyErr))
	}
}

func firstOrderID(settlement *domain.Settlement) string {
	if settlement == nil || settlement.Event == nil || len(settlement.Event.OrderIDs) == 0 {
		return ""
	}
	return settlement.Event.OrderIDs[0]
}
