package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// AdapterConfig carries the secrets a provider adapter needs.
type AdapterConfig struct {
	AppID              string
	WebhookSecret      string
	APISecret          string
	SignatureTolerance time.Duration
}

type Adapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*SettlementEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

// ConfirmationRequest is a client-submitted payment confirmation.
type ConfirmationRequest struct {
	ProviderOrderID string `json:"razorpayOrderId"`
	PaymentID       string `json:"razorpayPaymentId"`
	Signature       string `json:"razorpaySignature"`
	PaymentMethod   string `json:"paymentMethod"`
}

// ConfirmationVerifier is implemented by adapters whose provider completes
// payment on the client and hands back a signed confirmation.
type ConfirmationVerifier interface {
	VerifyConfirmation(ctx context.Context, req ConfirmationRequest) error
}

// Reservation is a ledger claim on one event. Applied means an earlier
// delivery already committed it.
type Reservation struct {
	Record    *EventRecord
	Applied   bool
	Resumed   bool
	LockToken string
}

type Ledger interface {
	Reserve(ctx context.Context, event *SettlementEvent) (*Reservation, error)
	Commit(ctx context.Context, reservation *Reservation, summary ResultSummary) error
	Release(ctx context.Context, reservation *Reservation) error
	Find(ctx context.Context, provider string, eventID string) (*EventRecord, error)
}

type Engine interface {
	Apply(ctx context.Context, event *SettlementEvent) (SettlementResult, error)
}

type Identity struct {
	UserID string
	Admin  bool
}

type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*Settlement, error)
	Confirm(ctx context.Context, identity Identity, req ConfirmationRequest) (*Settlement, error)
	Lookup(ctx context.Context, provider string, eventID string) (*EventRecord, error)
}

type OrderRepository interface {
	ListByIDs(ctx context.Context, db *gorm.DB, ids []string, forUpdate bool) ([]Order, error)
	ListByProviderOrderID(ctx context.Context, db *gorm.DB, providerOrderID string) ([]Order, error)
	MarkPaid(ctx context.Context, db *gorm.DB, id string, updatedAt time.Time) error
	DeleteWithItems(ctx context.Context, db *gorm.DB, id string) error
	ClearCart(ctx context.Context, db *gorm.DB, userID string, updatedAt time.Time) error
	// ClearCartIfUnchangedSince clears the cart only when it was last written
	// at or before settledAt. It reports whether a row was cleared.
	ClearCartIfUnchangedSince(ctx context.Context, db *gorm.DB, userID string, settledAt, updatedAt time.Time) (bool, error)
}

type LedgerRepository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, record *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, eventID string) (*EventRecord, error)
	TakeOverLease(ctx context.Context, db *gorm.DB, id snowflake.ID, staleToken string, token string, reservedAt time.Time) (bool, error)
	ExpireLease(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, expiredAt time.Time) error
	MarkApplied(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, appliedAt time.Time, summary []byte) (bool, error)
}

type RetryRepository interface {
	Enqueue(ctx context.Context, db *gorm.DB, retry *CartClearRetry) error
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]CartClearRetry, error)
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, seenAttempts int, leaseUntil time.Time) (bool, error)
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, completedAt time.Time) error
	Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, nextAttemptAt time.Time, lastError string) error
	Abandon(ctx context.Context, db *gorm.DB, id snowflake.ID, abandonedAt time.Time, lastError string) error
}
