package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/gocart/internal/settlement/domain"
)

const providerName = "stripe"

const (
	metadataOrderIDs = "orderIds"
	metadataUserID   = "userId"
	metadataAppID    = "appId"
)

type Factory struct {
	sessions SessionClient
}

// NewFactory builds the stripe factory. sessions may be nil, in which case
// events whose payment intent carries no order metadata are rejected.
func NewFactory(sessions SessionClient) *Factory {
	return &Factory{sessions: sessions}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}

	return &Adapter{
		webhookSecret: secret,
		tolerance:     cfg.SignatureTolerance,
		sessions:      f.sessions,
		now:           time.Now,
	}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	sessions      SessionClient
	now           func() time.Time
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	if a.tolerance > 0 {
		signedAt, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return domain.ErrInvalidSignature
		}
		age := a.now().Sub(time.Unix(signedAt, 0))
		if age > a.tolerance || age < -a.tolerance {
			return domain.ErrInvalidSignature
		}
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.SettlementEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.Malformed("invalid json")
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.Malformed("missing event id")
	}

	eventType := strings.TrimSpace(event.Type)
	switch eventType {
	case "payment_intent.succeeded":
		return a.parsePaymentIntent(ctx, event, payload, domain.OutcomeSucceeded)
	case "payment_intent.canceled":
		return a.parsePaymentIntent(ctx, event, payload, domain.OutcomeFailed)
	default:
		// payment_intent.payment_failed lands here: the intent returns to
		// requires_payment_method and the customer may still pay it.
		return &domain.SettlementEvent{
			Provider:   providerName,
			EventID:    event.ID,
			EventType:  eventType,
			Outcome:    domain.OutcomeNoop,
			AppID:      objectAppID(event.Data.Object),
			OccurredAt: timestamp(event.Created, 0),
			Source:     domain.SourceWebhook,
			RawPayload: payload,
		}, nil
	}
}

// objectAppID reads the app id from whatever object an unhandled event
// carries. Objects without metadata yield "".
func objectAppID(raw json.RawMessage) string {
	var object struct {
		Metadata map[string]any `json:"metadata"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &object) != nil {
		return ""
	}
	return readMetadataValue(object.Metadata, metadataAppID)
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID             string         `json:"id"`
	Amount         int64          `json:"amount"`
	AmountReceived int64          `json:"amount_received"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
}

func (a *Adapter) parsePaymentIntent(ctx context.Context, event stripeEvent, payload []byte, outcome domain.Outcome) (*domain.SettlementEvent, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, domain.Malformed("invalid payment intent")
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, domain.Malformed("missing payment intent id")
	}

	metadata, err := a.resolveMetadata(ctx, intent)
	if err != nil {
		return nil, err
	}
	orderIDs := splitOrderIDs(metadata[metadataOrderIDs])
	if len(orderIDs) == 0 {
		return nil, domain.Malformed("metadata %s is empty", metadataOrderIDs)
	}
	userID := metadata[metadataUserID]
	if userID == "" {
		return nil, domain.Malformed("metadata %s is empty", metadataUserID)
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}

	return &domain.SettlementEvent{
		Provider:      providerName,
		EventID:       event.ID,
		EventType:     strings.TrimSpace(event.Type),
		TransactionID: intent.ID,
		Outcome:       outcome,
		OrderIDs:      orderIDs,
		UserID:        userID,
		AppID:         metadata[metadataAppID],
		Amount:        amount,
		Currency:      strings.ToUpper(strings.TrimSpace(intent.Currency)),
		OccurredAt:    timestamp(intent.Created, event.Created),
		Source:        domain.SourceWebhook,
		RawPayload:    payload,
	}, nil
}

// resolveMetadata prefers metadata on the intent itself and falls back to
// the checkout session that created it.
func (a *Adapter) resolveMetadata(ctx context.Context, intent stripePaymentIntent) (map[string]string, error) {
	metadata := map[string]string{
		metadataOrderIDs: readMetadataValue(intent.Metadata, metadataOrderIDs),
		metadataUserID:   readMetadataValue(intent.Metadata, metadataUserID),
		metadataAppID:    readMetadataValue(intent.Metadata, metadataAppID),
	}
	if metadata[metadataOrderIDs] != "" {
		return metadata, nil
	}
	if a.sessions == nil {
		return nil, domain.Malformed("payment intent %s has no order metadata", intent.ID)
	}

	session, err := a.sessions.FindByPaymentIntent(ctx, intent.ID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, domain.Malformed("no checkout session for payment intent %s", intent.ID)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	for _, key := range []string{metadataOrderIDs, metadataUserID, metadataAppID} {
		metadata[key] = strings.TrimSpace(session.Metadata[key])
	}
	return metadata, nil
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

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}
