package reporter

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/gocart/internal/providers/slack"
	"github.com/smallbiznis/gocart/internal/settlement/domain"
)

type DegradedReason string

const (
	DegradedPartial      DegradedReason = "partial_application"
	DegradedCartDeferred DegradedReason = "cart_clear_deferred"
)

// Notifier posts settlement summaries to the ops channel.
type Notifier struct {
	provider slack.Provider
}

func NewNotifier(provider slack.Provider) *Notifier {
	if provider == nil {
		provider = &slack.NoOpProvider{}
	}
	return &Notifier{provider: provider}
}

func (n *Notifier) SettlementApplied(ctx context.Context, settlement *domain.Settlement) error {
	event := settlement.Event
	message := fmt.Sprintf(":white_check_mark: %s %s %s applied to orders %s",
		event.Provider,
		event.EventID,
		event.Outcome,
		joinOrNone(settlement.Result.Orders.Applied),
	)
	if settlement.Resumed {
		message += " (resumed after interrupted delivery)"
	}
	return n.provider.PostMessage(ctx, message)
}

func (n *Notifier) SettlementDegraded(ctx context.Context, settlement *domain.Settlement, reason DegradedReason) error {
	event := settlement.Event
	var b strings.Builder
	fmt.Fprintf(&b, ":warning: %s %s %s (%s)", event.Provider, event.EventID, event.Outcome, reason)
	fmt.Fprintf(&b, "\napplied: %s", joinOrNone(settlement.Result.Orders.Applied))
	if failed := settlement.Result.FailedOrderIDs(); len(failed) > 0 {
		fmt.Fprintf(&b, "\nfailed: %s", strings.Join(failed, ", "))
	}
	if settlement.Result.Cart.Status == domain.CartDeferred {
		fmt.Fprintf(&b, "\ncart clear for user %s queued for retry", event.UserID)
	}
	return n.provider.PostMessage(ctx, b.String())
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}
