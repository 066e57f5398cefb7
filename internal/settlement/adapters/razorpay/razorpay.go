package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/gocart/internal/settlement/domain"
)

const providerName = "razorpay"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	keySecret := strings.TrimSpace(cfg.APISecret)
	if webhookSecret == "" && keySecret == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Adapter{
		webhookSecret: webhookSecret,
		keySecret:     keySecret,
	}, nil
}

// Adapter verifies razorpay webhooks with the webhook secret and client
// checkout confirmations with the API key secret.
type Adapter struct {
	webhookSecret string
	keySecret     string
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return domain.ErrInvalidSignature
	}
	signature := strings.TrimSpace(headers.Get("X-Razorpay-Signature"))
	if signature == "" {
		return domain.ErrInvalidSignature
	}
	if !validSignature(a.webhookSecret, payload, signature) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) VerifyConfirmation(ctx context.Context, req domain.ConfirmationRequest) error {
	orderID := strings.TrimSpace(req.ProviderOrderID)
	paymentID := strings.TrimSpace(req.PaymentID)
	signature := strings.TrimSpace(req.Signature)
	if orderID == "" || paymentID == "" || signature == "" {
		return domain.Malformed("confirmation requires order id, payment id and signature")
	}
	if a.keySecret == "" {
		return domain.ErrInvalidSignature
	}
	if !validSignature(a.keySecret, []byte(orderID+"|"+paymentID), signature) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.SettlementEvent, error) {
	var event razorpayEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.Malformed("invalid json")
	}
	eventType := strings.TrimSpace(event.Event)
	if eventType == "" {
		return nil, domain.Malformed("missing event type")
	}

	var outcome domain.Outcome
	switch eventType {
	case "payment.captured", "order.paid":
		outcome = domain.OutcomeSucceeded
	default:
		// payment.failed is a single declined attempt; the order stays payable.
		outcome = domain.OutcomeNoop
	}

	payment := event.Payload.Payment.Entity
	order := event.Payload.Order.Entity
	reference := payment.ID
	if reference == "" {
		reference = order.ID
	}
	if reference == "" {
		return nil, domain.Malformed("event %s carries no payment or order entity", eventType)
	}

	settlement := &domain.SettlementEvent{
		Provider:      providerName,
		EventID:       eventType + ":" + reference,
		EventType:     eventType,
		TransactionID: payment.ID,
		Outcome:       outcome,
		Amount:        payment.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(payment.Currency)),
		OccurredAt:    timestamp(event.CreatedAt),
		Source:        domain.SourceWebhook,
		RawPayload:    payload,
	}
	notes := payment.Notes.merge(order.Notes)
	settlement.AppID = notes["appId"]
	if outcome == domain.OutcomeNoop {
		return settlement, nil
	}

	settlement.OrderIDs = splitOrderIDs(notes["orderIds"])
	settlement.UserID = notes["userId"]
	if len(settlement.OrderIDs) == 0 {
		return nil, domain.Malformed("notes orderIds is empty")
	}
	if settlement.UserID == "" {
		return nil, domain.Malformed("notes userId is empty")
	}
	return settlement, nil
}

type razorpayEvent struct {
	Event     string          `json:"event"`
	CreatedAt int64           `json:"created_at"`
	Payload   razorpayPayload `json:"payload"`
}

type razorpayPayload struct {
	Payment struct {
		Entity razorpayPayment `json:"entity"`
	} `json:"payment"`
	Order struct {
		Entity razorpayOrder `json:"entity"`
	} `json:"order"`
}

type razorpayPayment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Notes    notes  `json:"notes"`
}

type razorpayOrder struct {
	ID    string `json:"id"`
	Notes notes  `json:"notes"`
}

// notes decodes razorpay notes, which arrive as an empty array when unset.
type notes map[string]string

func (n *notes) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" || strings.HasPrefix(trimmed, "[") {
		*n = notes{}
		return nil
	}
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := notes{}
	for key, value := range raw {
		if str, ok := value.(string); ok {
			out[key] = strings.TrimSpace(str)
		}
	}
	*n = out
	return nil
}

func (n notes) merge(fallback notes) map[string]string {
	out := map[string]string{}
	for key, value := range fallback {
		out[key] = value
	}
	for key, value := range n {
		if value != "" {
			out[key] = value
		}
	}
	return out
}

func validSignature(secret string, message []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(message)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

func splitOrderIDs(raw string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func timestamp(value int64) time.Time {
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
