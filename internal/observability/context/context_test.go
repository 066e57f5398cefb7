package context

import (
	"context"
	"testing"
)

func TestContextValues(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithUserID(ctx, "U1")
	ctx = WithSettlement(ctx, "stripe", "evt_1")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("unexpected request id %q", got)
	}
	if got := UserIDFromContext(ctx); got != "U1" {
		t.Fatalf("unexpected user id %q", got)
	}
	settlement, ok := SettlementFromContext(ctx)
	if !ok || settlement.Provider != "stripe" || settlement.EventID != "evt_1" {
		t.Fatalf("unexpected settlement %+v", settlement)
	}

	if WithUserID(context.Background(), "") != context.Background() {
		t.Fatalf("empty user id must not wrap the context")
	}
}
