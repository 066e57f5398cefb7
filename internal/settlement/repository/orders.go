package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/gocart/internal/settlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type orderRepo struct{}

func ProvideOrders() domain.OrderRepository {
	return &orderRepo{}
}

func (r *orderRepo) ListByIDs(ctx context.Context, db *gorm.DB, ids []string, forUpdate bool) ([]domain.Order, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := db.WithContext(ctx).Where("id IN ?", ids)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var orders []domain.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *orderRepo) ListByProviderOrderID(ctx context.Context, db *gorm.DB, providerOrderID string) ([]domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).
		Where("provider_order_id = ?", providerOrderID).
		Order("id").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *orderRepo) MarkPaid(ctx context.Context, db *gorm.DB, id string, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET is_paid = ?, updated_at = ?
		 WHERE id = ? AND is_paid = ?`,
		true,
		updatedAt,
		id,
		false,
	).Error
}

func (r *orderRepo) DeleteWithItems(ctx context.Context, db *gorm.DB, id string) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM order_items WHERE order_id = ?`,
		id,
	).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(
		`DELETE FROM orders WHERE id = ?`,
		id,
	).Error
}

func (r *orderRepo) ClearCart(ctx context.Context, db *gorm.DB, userID string, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE carts
		 SET items = ?, updated_at = ?
		 WHERE user_id = ?`,
		"{}",
		updatedAt,
		userID,
	).Error
}

func (r *orderRepo) ClearCartIfUnchangedSince(ctx context.Context, db *gorm.DB, userID string, settledAt, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE carts
		 SET items = ?, updated_at = ?
		 WHERE user_id = ? AND updated_at <= ?`,
		"{}",
		updatedAt,
		userID,
		settledAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
