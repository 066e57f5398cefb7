package tracing

import (
	"errors"
	"fmt"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsCustomerData(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/stripe"),
		attribute.String("user_id", "U1"),
		attribute.String("order_ids", "O1,O2"),
	)
	if len(attrs) != 1 || attrs[0].Key != "http.route" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestSafeErrorKeepsOutermostMessage(t *testing.T) {
	err := fmt.Errorf("storage_transient: %w", errors.New("UPDATE orders SET is_paid = true WHERE id = 'O1'"))
	if got := SafeError(err).Error(); got != "storage_transient" {
		t.Fatalf("unexpected safe error %q", got)
	}
	if SafeError(nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
}
