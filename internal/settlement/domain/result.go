package domain

import "sort"

type CartStatus string

const (
	CartCleared  CartStatus = "cleared"
	CartDeferred CartStatus = "deferred"
	CartSkipped  CartStatus = "skipped"
)

type OrdersResult struct {
	Applied []string
	Missing []string
	Failed  map[string]error
}

type CartResult struct {
	Status CartStatus
	Err    error
}

// SettlementResult is what the engine did for one event. Orders and cart
// are reported separately because the cart step may succeed or be deferred
// independently of the order writes.
type SettlementResult struct {
	Outcome Outcome
	Orders  OrdersResult
	Cart    CartResult
}

// ResultSummary is the persisted form of a SettlementResult.
type ResultSummary struct {
	Outcome Outcome           `json:"outcome"`
	Applied []string          `json:"applied,omitempty"`
	Missing []string          `json:"missing,omitempty"`
	Failed  map[string]string `json:"failed,omitempty"`
	Cart    CartStatus        `json:"cart,omitempty"`
}

func (r SettlementResult) Summary() ResultSummary {
	summary := ResultSummary{
		Outcome: r.Outcome,
		Applied: r.Orders.Applied,
		Missing: r.Orders.Missing,
		Cart:    r.Cart.Status,
	}
	if len(r.Orders.Failed) > 0 {
		summary.Failed = make(map[string]string, len(r.Orders.Failed))
		for id, err := range r.Orders.Failed {
			summary.Failed[id] = err.Error()
		}
	}
	return summary
}

func (r SettlementResult) FailedOrderIDs() []string {
	ids := make([]string, 0, len(r.Orders.Failed))
	for id := range r.Orders.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type IgnoreReason string

const (
	IgnoreNone               IgnoreReason = ""
	IgnoreForeignApplication IgnoreReason = "foreign_application"
	IgnoreUnhandledType      IgnoreReason = "unhandled_event_type"
)

// Settlement is the pipeline's account of one ingested event, handed to the
// outcome reporter together with any error.
type Settlement struct {
	Event     *SettlementEvent
	Result    SettlementResult
	Duplicate bool
	Resumed   bool
	Ignored   IgnoreReason
	Previous  *ResultSummary
}
