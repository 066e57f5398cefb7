// Package settlementtest holds fixtures shared by the settlement package tests.
package settlementtest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/gocart/internal/settlement/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbCounter atomic.Int64

// OpenDB returns an isolated in-memory database with the settlement schema.
// The pool is capped at one connection so concurrent tests serialize
// instead of failing with shared-cache table locks.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&domain.Order{},
		&domain.OrderItem{},
		&domain.Cart{},
		&domain.Coupon{},
		&domain.EventRecord{},
		&domain.CartClearRetry{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

// SeedOrder inserts an unpaid order with a single line item.
func SeedOrder(t *testing.T, db *gorm.DB, id, userID string, mutate ...func(*domain.Order)) domain.Order {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:            id,
		UserID:        userID,
		StoreID:       "store-1",
		AddressID:     "addr-1",
		Total:         decimal.RequireFromString("49.90"),
		Status:        domain.OrderStatusOrderPlaced,
		PaymentMethod: domain.PaymentMethodStripe,
		CreatedAt:     now,
		UpdatedAt:     now,
		Items: []domain.OrderItem{{
			OrderID:   id,
			ProductID: "prod-" + id,
			Quantity:  1,
			Price:     decimal.RequireFromString("49.90"),
		}},
	}
	for _, fn := range mutate {
		fn(&order)
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order %s: %v", id, err)
	}
	return order
}

func SeedCart(t *testing.T, db *gorm.DB, userID string, items map[string]any) {
	t.Helper()
	cart := domain.Cart{
		UserID:    userID,
		Items:     datatypes.JSONMap(items),
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := db.Create(&cart).Error; err != nil {
		t.Fatalf("seed cart: %v", err)
	}
}

func FindOrder(t *testing.T, db *gorm.DB, id string) *domain.Order {
	t.Helper()
	var order domain.Order
	res := db.Where("id = ?", id).Limit(1).Find(&order)
	if res.Error != nil {
		t.Fatalf("find order %s: %v", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	return &order
}

func CartItems(t *testing.T, db *gorm.DB, userID string) map[string]any {
	t.Helper()
	var cart domain.Cart
	if err := db.Where("user_id = ?", userID).First(&cart).Error; err != nil {
		t.Fatalf("find cart: %v", err)
	}
	return map[string]any(cart.Items)
}

func AssertCount(t *testing.T, db *gorm.DB, query string, want int64, args ...any) {
	t.Helper()
	var got int64
	if err := db.Raw(query, args...).Scan(&got).Error; err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if got != want {
		t.Fatalf("expected %d rows, got %d (%s)", want, got, query)
	}
}
