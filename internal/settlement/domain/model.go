package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeNoop      Outcome = "NOOP"
)

type Source string

const (
	SourceWebhook      Source = "webhook"
	SourceConfirmation Source = "confirmation"
)

// SettlementEvent is the provider-neutral event produced by adapters after
// verification. Everything downstream of the adapters reads only this type.
type SettlementEvent struct {
	Provider      string
	EventID       string
	EventType     string
	TransactionID string
	Outcome       Outcome
	OrderIDs      []string
	UserID        string
	AppID         string
	Amount        int64
	Currency      string
	OccurredAt    time.Time
	Source        Source
	RawPayload    []byte
}

// Key identifies the event inside the idempotency ledger.
func (e *SettlementEvent) Key() string {
	return e.Provider + ":" + e.EventID
}

type OrderStatus string

const (
	OrderStatusOrderPlaced OrderStatus = "ORDER_PLACED"
	OrderStatusProcessing  OrderStatus = "PROCESSING"
	OrderStatusShipped     OrderStatus = "SHIPPED"
	OrderStatusDelivered   OrderStatus = "DELIVERED"
	OrderStatusCancelled   OrderStatus = "CANCELLED"
)

type PaymentMethod string

const (
	PaymentMethodCOD      PaymentMethod = "COD"
	PaymentMethodStripe   PaymentMethod = "STRIPE"
	PaymentMethodRazorpay PaymentMethod = "RAZORPAY"
)

type Order struct {
	ID              string          `json:"id" gorm:"primaryKey;type:text"`
	UserID          string          `json:"user_id" gorm:"type:text;not null;index"`
	StoreID         string          `json:"store_id" gorm:"type:text;not null"`
	AddressID       string          `json:"address_id" gorm:"type:text"`
	Total           decimal.Decimal `json:"total" gorm:"type:numeric(12,2);not null"`
	Status          OrderStatus     `json:"status" gorm:"type:text;not null"`
	IsPaid          bool            `json:"is_paid" gorm:"not null;default:false"`
	PaymentMethod   PaymentMethod   `json:"payment_method" gorm:"type:text;not null"`
	ProviderOrderID *string         `json:"provider_order_id,omitempty" gorm:"type:text;index"`
	IsCouponUsed    bool            `json:"is_coupon_used" gorm:"not null;default:false"`
	Coupon          datatypes.JSON  `json:"coupon,omitempty"`
	CreatedAt       time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"not null"`
	Items           []OrderItem     `json:"items,omitempty" gorm:"foreignKey:OrderID"`
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	OrderID   string          `json:"order_id" gorm:"primaryKey;type:text"`
	ProductID string          `json:"product_id" gorm:"primaryKey;type:text"`
	Quantity  int             `json:"quantity" gorm:"not null"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null"`
}

func (OrderItem) TableName() string { return "order_items" }

// Cart holds the pending purchase of a user as a product id to quantity map.
type Cart struct {
	UserID    string            `json:"user_id" gorm:"primaryKey;type:text"`
	Items     datatypes.JSONMap `json:"items" gorm:"not null"`
	UpdatedAt time.Time         `json:"updated_at" gorm:"not null"`
}

func (Cart) TableName() string { return "carts" }

type Coupon struct {
	Code        string          `json:"code" gorm:"primaryKey;type:text"`
	Description string          `json:"description" gorm:"type:text"`
	Discount    decimal.Decimal `json:"discount" gorm:"type:numeric(5,2);not null"`
	ForNewUser  bool            `json:"for_new_user"`
	ForMember   bool            `json:"for_member"`
	IsPublic    bool            `json:"is_public"`
	ExpiresAt   time.Time       `json:"expires_at" gorm:"not null"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null"`
}

func (Coupon) TableName() string { return "coupons" }

type RecordStatus string

const (
	RecordStatusReserved RecordStatus = "reserved"
	RecordStatusApplied  RecordStatus = "applied"
)

// EventRecord is the idempotency ledger row for one provider event.
type EventRecord struct {
	ID            snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider      string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_settlement_events_provider_event"`
	EventID       string         `json:"event_id" gorm:"type:text;not null;uniqueIndex:ux_settlement_events_provider_event"`
	EventType     string         `json:"event_type" gorm:"type:text;not null"`
	TransactionID string         `json:"transaction_id" gorm:"type:text"`
	Outcome       Outcome        `json:"outcome" gorm:"type:text;not null"`
	Source        Source         `json:"source" gorm:"type:text;not null"`
	UserID        string         `json:"user_id" gorm:"type:text;not null"`
	OrderIDs      datatypes.JSON `json:"order_ids" gorm:"not null"`
	Payload       datatypes.JSON `json:"payload,omitempty"`
	Status        RecordStatus   `json:"status" gorm:"type:text;not null"`
	LeaseToken    string         `json:"-" gorm:"type:text;not null"`
	ReservedAt    time.Time      `json:"reserved_at" gorm:"not null"`
	AppliedAt     *time.Time     `json:"applied_at,omitempty"`
	ResultSummary datatypes.JSON `json:"result_summary,omitempty"`
}

func (EventRecord) TableName() string { return "settlement_events" }

// CartClearRetry is a deferred cart clear left behind by a successful
// settlement whose cart update did not go through.
type CartClearRetry struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID        string       `json:"user_id" gorm:"type:text;not null;index"`
	EventKey      string       `json:"event_key" gorm:"type:text;not null"`
	Attempts      int          `json:"attempts" gorm:"not null;default:0"`
	LastError     string       `json:"last_error" gorm:"type:text"`
	NextAttemptAt time.Time    `json:"next_attempt_at" gorm:"not null;index"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

func (CartClearRetry) TableName() string { return "cart_clear_retries" }
