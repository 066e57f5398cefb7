package reporter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/smallbiznis/gocart/internal/config"
	"github.com/smallbiznis/gocart/internal/settlement/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSlack struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (r *recordingSlack) PostMessage(ctx context.Context, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return r.err
}

func newTestReporter(slack *recordingSlack) *Reporter {
	return New(Params{
		Log:   zap.NewNop(),
		Cfg:   config.NewStaticSettlementConfigHolder(config.DefaultSettlementConfig()),
		Slack: slack,
	})
}

func settled(outcome domain.Outcome, orderIDs ...string) *domain.Settlement {
	return &domain.Settlement{
		Event: &domain.SettlementEvent{
			Provider: "stripe",
			EventID:  "evt_1",
			Outcome:  outcome,
			OrderIDs: orderIDs,
			UserID:   "U1",
		},
		Result: domain.SettlementResult{
			Outcome: outcome,
			Orders:  domain.OrdersResult{Applied: orderIDs, Failed: map[string]error{}},
			Cart:    domain.CartResult{Status: domain.CartCleared},
		},
	}
}

func TestClassify(t *testing.T) {
	transientPartial := &domain.PartialApplicationError{
		Outcome:  domain.OutcomeFailed,
		Failures: map[string]error{"O1": fmt.Errorf("%w: lock timeout", domain.ErrStorageTransient)},
	}
	permanentPartial := &domain.PartialApplicationError{
		Outcome:  domain.OutcomeSucceeded,
		Failures: map[string]error{"O3": domain.ErrOrderCancelled, "O2": domain.ErrOrderOwnership},
	}

	cases := []struct {
		name       string
		settlement *domain.Settlement
		err        error
		status     int
		errCode    string
		retry      bool
		result     string
	}{
		{name: "applied", settlement: settled(domain.OutcomeSucceeded, "O1"), status: http.StatusOK, result: ResultApplied},
		{name: "duplicate", settlement: &domain.Settlement{Duplicate: true}, status: http.StatusOK, result: ResultDuplicate},
		{name: "foreign app", settlement: &domain.Settlement{Ignored: domain.IgnoreForeignApplication}, status: http.StatusOK, result: ResultIgnored},
		{name: "invalid signature", err: domain.ErrInvalidSignature, status: http.StatusBadRequest, errCode: "invalid_signature", result: ResultRejected},
		{name: "malformed", err: domain.Malformed("missing userId"), status: http.StatusBadRequest, errCode: "malformed_event", result: ResultRejected},
		{name: "unknown provider", err: domain.ErrProviderNotFound, status: http.StatusNotFound, errCode: "provider_not_found", result: ResultRejected},
		{name: "in flight", err: domain.ErrEventInFlight, status: http.StatusServiceUnavailable, errCode: "event_in_flight", retry: true, result: ResultRetry},
		{name: "storage transient", err: fmt.Errorf("%w: deadlock", domain.ErrStorageTransient), status: http.StatusServiceUnavailable, errCode: "storage_unavailable", retry: true, result: ResultRetry},
		{name: "deadline", err: context.DeadlineExceeded, status: http.StatusServiceUnavailable, errCode: "storage_unavailable", retry: true, result: ResultRetry},
		{name: "provider unavailable", err: domain.ErrProviderUnavailable, status: http.StatusServiceUnavailable, errCode: "provider_unavailable", retry: true, result: ResultRetry},
		{name: "transient partial", err: transientPartial, status: http.StatusServiceUnavailable, errCode: "storage_unavailable", retry: true, result: ResultRetry},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, errCode: "internal_error", retry: true, result: ResultError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack := Classify(tc.settlement, tc.err)
			assert.Equal(t, tc.status, ack.Status)
			assert.Equal(t, tc.retry, ack.Retry)
			assert.Equal(t, tc.result, ack.Result)
			if tc.errCode == "" {
				assert.Equal(t, true, ack.Body["received"])
				assert.NotContains(t, ack.Body, "error")
			} else {
				assert.Equal(t, false, ack.Body["received"])
				assert.Equal(t, tc.errCode, ack.Body["error"])
			}
		})
	}

	t.Run("permanent partial", func(t *testing.T) {
		ack := Classify(nil, permanentPartial)
		assert.Equal(t, http.StatusOK, ack.Status)
		assert.Equal(t, true, ack.Body["received"])
		assert.Equal(t, true, ack.Body["partial"])
		assert.Equal(t, []string{"O2", "O3"}, ack.Body["failed_orders"])
	})
}

func TestReportNotifiesAppliedSettlement(t *testing.T) {
	slack := &recordingSlack{}
	reporter := newTestReporter(slack)

	ack := reporter.Report(context.Background(), "stripe", settled(domain.OutcomeSucceeded, "O1"), nil)

	assert.Equal(t, http.StatusOK, ack.Status)
	require.Len(t, slack.messages, 1)
	assert.Contains(t, slack.messages[0], "evt_1")
	assert.Contains(t, slack.messages[0], "O1")
}

func TestReportNotifiesDegradedSettlement(t *testing.T) {
	slack := &recordingSlack{}
	reporter := newTestReporter(slack)

	deferred := settled(domain.OutcomeSucceeded, "O1")
	deferred.Result.Cart = domain.CartResult{Status: domain.CartDeferred, Err: errors.New("timeout")}
	reporter.Report(context.Background(), "stripe", deferred, nil)

	partial := settled(domain.OutcomeSucceeded, "O1")
	partial.Result.Orders.Failed = map[string]error{"O3": domain.ErrOrderCancelled}
	reporter.Report(context.Background(), "stripe", partial, &domain.PartialApplicationError{
		Outcome:  domain.OutcomeSucceeded,
		Failures: partial.Result.Orders.Failed,
	})

	require.Len(t, slack.messages, 2)
	assert.Contains(t, slack.messages[0], string(DegradedCartDeferred))
	assert.Contains(t, slack.messages[0], "U1")
	assert.Contains(t, slack.messages[1], string(DegradedPartial))
	assert.Contains(t, slack.messages[1], "failed: O3")
}

func TestReportSkipsNotificationForQuietResults(t *testing.T) {
	slack := &recordingSlack{}
	reporter := newTestReporter(slack)

	reporter.Report(context.Background(), "stripe", &domain.Settlement{Event: &domain.SettlementEvent{}, Duplicate: true}, nil)
	reporter.Report(context.Background(), "stripe", &domain.Settlement{Ignored: domain.IgnoreForeignApplication}, nil)
	reporter.Report(context.Background(), "stripe", settled(domain.OutcomeNoop), nil)
	reporter.Report(context.Background(), "stripe", settled(domain.OutcomeSucceeded, "O1"), domain.ErrEventInFlight)
	reporter.Report(context.Background(), "stripe", nil, domain.ErrInvalidSignature)

	assert.Empty(t, slack.messages)
}

func TestReportToleratesNotifierFailure(t *testing.T) {
	slack := &recordingSlack{err: errors.New("slack down")}
	reporter := newTestReporter(slack)

	ack := reporter.Report(context.Background(), "stripe", settled(domain.OutcomeFailed, "O2"), nil)
	assert.Equal(t, http.StatusOK, ack.Status)
	assert.Len(t, slack.messages, 1)
}

func TestReportConfirmation(t *testing.T) {
	reporter := newTestReporter(&recordingSlack{})

	ack := reporter.ReportConfirmation(context.Background(), settled(domain.OutcomeSucceeded, "O1"), nil)
	assert.Equal(t, http.StatusOK, ack.Status)
	assert.Equal(t, map[string]any{"success": true, "redirect": "/order-success/O1"}, ack.Body)

	ack = reporter.ReportConfirmation(context.Background(), settled(domain.OutcomeSucceeded, "O1"), domain.ErrInvalidSignature)
	assert.Equal(t, http.StatusBadRequest, ack.Status)
	assert.Equal(t, false, ack.Body["success"])
	assert.Equal(t, "/order-failed/O1", ack.Body["redirect"])
	assert.Equal(t, "invalid_signature", ack.Body["error"])

	ack = reporter.ReportConfirmation(context.Background(), nil, domain.ErrConfirmationRejected)
	assert.Equal(t, http.StatusBadRequest, ack.Status)
	assert.NotContains(t, ack.Body, "redirect")

	cancelled := settled(domain.OutcomeSucceeded, "O3")
	cancelled.Result.Orders.Applied = nil
	ack = reporter.ReportConfirmation(context.Background(), cancelled, &domain.PartialApplicationError{
		Outcome:  domain.OutcomeSucceeded,
		Failures: map[string]error{"O3": domain.ErrOrderCancelled},
	})
	assert.Equal(t, http.StatusConflict, ack.Status)
	assert.True(t, strings.HasPrefix(ack.Body["redirect"].(string), "/order-failed/"))
}

func TestReportConfirmationInFlightKeepsCheckoutPending(t *testing.T) {
	reporter := newTestReporter(&recordingSlack{})

	ack := reporter.ReportConfirmation(context.Background(), settled(domain.OutcomeSucceeded, "O5"), domain.ErrEventInFlight)
	assert.Equal(t, http.StatusServiceUnavailable, ack.Status)
	assert.True(t, ack.Retry)
	assert.Equal(t, false, ack.Body["success"])
	assert.Equal(t, "event_in_flight", ack.Body["error"])
	assert.NotContains(t, ack.Body, "redirect")
}
