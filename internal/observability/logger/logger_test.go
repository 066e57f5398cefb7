package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/gocart/internal/observability/context"
	"github.com/smallbiznis/gocart/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithSettlement(ctx, "stripe", "evt_1")
	ctx = correlation.ContextWithCorrelationID(ctx, "01HZX")

	WithContext(ctx, base).Info("settlement_applied")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" || fields["event_id"] != "evt_1" || fields["provider"] != "stripe" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if fields["correlation_id"] != "01HZX" {
		t.Fatalf("expected correlation id, got %v", fields["correlation_id"])
	}
	if _, ok := fields["user_id"]; ok {
		t.Fatalf("unset user id must be omitted")
	}
}

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM orders":               "SELECT",
		"  update orders set is_paid = true": "UPDATE",
		"WITH due AS (SELECT 1) SELECT *":    "SELECT",
		"DELETE FROM order_items":            "DELETE",
		"":                                   "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}
