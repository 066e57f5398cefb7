package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"testing"

	"github.com/smallbiznis/gocart/internal/settlement/domain"
)

func sign(secret string, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	adapter := &Adapter{webhookSecret: "rzp_whsec", keySecret: "rzp_key"}
	payload := []byte(`{"event":"payment.captured"}`)

	headers := http.Header{}
	headers.Set("X-Razorpay-Signature", sign("rzp_whsec", string(payload)))
	if err := adapter.Verify(context.Background(), payload, headers); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	headers.Set("X-Razorpay-Signature", sign("rzp_key", string(payload)))
	if err := adapter.Verify(context.Background(), payload, headers); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestVerifyConfirmation(t *testing.T) {
	adapter := &Adapter{keySecret: "rzp_key"}
	req := domain.ConfirmationRequest{
		ProviderOrderID: "order_1",
		PaymentID:       "pay_1",
		Signature:       sign("rzp_key", "order_1|pay_1"),
	}
	if err := adapter.VerifyConfirmation(context.Background(), req); err != nil {
		t.Fatalf("expected valid confirmation, got %v", err)
	}

	req.PaymentID = "pay_2"
	if err := adapter.VerifyConfirmation(context.Background(), req); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	req.Signature = ""
	if err := adapter.VerifyConfirmation(context.Background(), req); !errors.Is(err, domain.ErrMalformedEvent) {
		t.Fatalf("expected malformed confirmation, got %v", err)
	}
}

func TestParseCapturedPayment(t *testing.T) {
	payload := []byte(`{
		"entity":"event",
		"event":"payment.captured",
		"created_at":1700000000,
		"payload":{"payment":{"entity":{
			"id":"pay_1","order_id":"order_1","amount":50000,"currency":"inr","status":"captured",
			"notes":{"orderIds":"O1,O2","userId":"U1","appId":"gocart"}
		}}}
	}`)

	event, err := (&Adapter{webhookSecret: "x"}).Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Outcome != domain.OutcomeSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", event.Outcome)
	}
	if event.EventID != "payment.captured:pay_1" {
		t.Fatalf("unexpected event id %s", event.EventID)
	}
	if len(event.OrderIDs) != 2 || event.UserID != "U1" || event.AppID != "gocart" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Currency != "INR" || event.Amount != 50000 {
		t.Fatalf("unexpected amount %d %s", event.Amount, event.Currency)
	}
}

func TestParseUsesOrderNotes(t *testing.T) {
	payload := []byte(`{
		"event":"order.paid",
		"payload":{
			"payment":{"entity":{"id":"pay_9","order_id":"order_9","notes":[]}},
			"order":{"entity":{"id":"order_9","notes":{"orderIds":"O9","userId":"U9","appId":"gocart"}}}
		}
	}`)

	event, err := (&Adapter{webhookSecret: "x"}).Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Outcome != domain.OutcomeSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", event.Outcome)
	}
	if event.EventID != "order.paid:pay_9" {
		t.Fatalf("unexpected event id %s", event.EventID)
	}
	if len(event.OrderIDs) != 1 || event.OrderIDs[0] != "O9" || event.UserID != "U9" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestParseFailedPaymentIsNoop(t *testing.T) {
	payload := []byte(`{
		"event":"payment.failed",
		"payload":{"payment":{"entity":{"id":"pay_7","order_id":"order_7","notes":{"orderIds":"O7","userId":"U7","appId":"gocart"}}}}
	}`)

	event, err := (&Adapter{webhookSecret: "x"}).Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Outcome != domain.OutcomeNoop {
		t.Fatalf("expected NOOP for a failed attempt, got %s", event.Outcome)
	}
	if len(event.OrderIDs) != 0 {
		t.Fatalf("failed attempt must not target orders, got %v", event.OrderIDs)
	}
	if event.AppID != "gocart" {
		t.Fatalf("expected app id from notes, got %q", event.AppID)
	}
}

func TestParseUnhandledAndMalformed(t *testing.T) {
	adapter := &Adapter{webhookSecret: "x"}

	event, err := adapter.Parse(context.Background(), []byte(`{"event":"refund.created","payload":{"payment":{"entity":{"id":"pay_1"}}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Outcome != domain.OutcomeNoop {
		t.Fatalf("expected NOOP, got %s", event.Outcome)
	}

	_, err = adapter.Parse(context.Background(), []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1"}}}}`))
	if !errors.Is(err, domain.ErrMalformedEvent) {
		t.Fatalf("expected malformed event, got %v", err)
	}

	_, err = adapter.Parse(context.Background(), []byte(`not json`))
	if !errors.Is(err, domain.ErrMalformedEvent) {
		t.Fatalf("expected malformed event, got %v", err)
	}
}
