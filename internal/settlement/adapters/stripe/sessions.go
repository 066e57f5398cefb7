package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrSessionNotFound = errors.New("checkout_session_not_found")

const defaultBaseURL = "https://api.stripe.com"

type CheckoutSession struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
}

// SessionClient looks up the checkout session that produced a payment intent.
type SessionClient interface {
	FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*CheckoutSession, error)
}

type sessionList struct {
	Data []CheckoutSession `json:"data"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type HTTPSessionClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewSessionClient(apiKey string) *HTTPSessionClient {
	return &HTTPSessionClient{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 12 * time.Second},
	}
}

func (c *HTTPSessionClient) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*CheckoutSession, error) {
	if c.apiKey == "" {
		return nil, errors.New("stripe_api_key_missing")
	}
	values := url.Values{}
	values.Set("payment_intent", paymentIntentID)
	values.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/checkout/sessions?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return nil, errors.New("stripe_request_failed")
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			message = "stripe_request_failed"
		}
		return nil, errors.New(message)
	}

	var list sessionList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, ErrSessionNotFound
	}
	return &list.Data[0], nil
}
