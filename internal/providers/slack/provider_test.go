package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/gocart/internal/config"
	"go.uber.org/zap"
)

func TestWebhookProviderPostsText(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	provider := NewWebhookProvider(srv.URL, srv.Client())
	if err := provider.PostMessage(context.Background(), "settled"); err != nil {
		t.Fatalf("post message: %v", err)
	}
	if got["text"] != "settled" {
		t.Fatalf("expected text to be forwarded, got %v", got)
	}
}

func TestWebhookProviderReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	provider := NewWebhookProvider(srv.URL, srv.Client())
	if err := provider.PostMessage(context.Background(), "settled"); err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}

func TestNewFromConfigWithoutURLIsNoop(t *testing.T) {
	provider := NewFromConfig(config.Config{}, zap.NewNop())
	if _, ok := provider.(*NoOpProvider); !ok {
		t.Fatalf("expected no-op provider, got %T", provider)
	}
}
