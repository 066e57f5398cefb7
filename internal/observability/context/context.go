package context

import "context"

type requestIDKey struct{}

type userIDKey struct{}

type settlementKey struct{}

// Settlement identifies the provider event a request is working on.
type Settlement struct {
	Provider string
	EventID  string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey{}, userID)
}

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(userIDKey{}).(string)
	return value
}

func WithSettlement(ctx context.Context, provider, eventID string) context.Context {
	return context.WithValue(ctx, settlementKey{}, Settlement{Provider: provider, EventID: eventID})
}

func SettlementFromContext(ctx context.Context) (Settlement, bool) {
	if ctx == nil {
		return Settlement{}, false
	}
	value, ok := ctx.Value(settlementKey{}).(Settlement)
	return value, ok
}
