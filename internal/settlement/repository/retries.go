package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gocart/internal/settlement/domain"
	"gorm.io/gorm"
)

type retryRepo struct{}

func ProvideRetries() domain.RetryRepository {
	return &retryRepo{}
}

func (r *retryRepo) Enqueue(ctx context.Context, db *gorm.DB, retry *domain.CartClearRetry) error {
	return db.WithContext(ctx).Create(retry).Error
}

func (r *retryRepo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.CartClearRetry, error) {
	var items []domain.CartClearRetry
	err := db.WithContext(ctx).
		Where("completed_at IS NULL AND next_attempt_at <= ?", now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Claim bumps the attempt counter so two workers that listed the same row
// cannot both run it.
func (r *retryRepo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, seenAttempts int, leaseUntil time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE cart_clear_retries
		 SET attempts = attempts + 1, next_attempt_at = ?
		 WHERE id = ? AND attempts = ? AND completed_at IS NULL`,
		leaseUntil,
		id,
		seenAttempts,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *retryRepo) MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, completedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE cart_clear_retries
		 SET completed_at = ?, last_error = ''
		 WHERE id = ?`,
		completedAt,
		id,
	).Error
}

func (r *retryRepo) Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, nextAttemptAt time.Time, lastError string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE cart_clear_retries
		 SET next_attempt_at = ?, last_error = ?
		 WHERE id = ?`,
		nextAttemptAt,
		lastError,
		id,
	).Error
}

// Abandon closes a retry that ran out of attempts and keeps its last error.
func (r *retryRepo) Abandon(ctx context.Context, db *gorm.DB, id snowflake.ID, abandonedAt time.Time, lastError string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE cart_clear_retries
		 SET completed_at = ?, last_error = ?
		 WHERE id = ?`,
		abandonedAt,
		lastError,
		id,
	).Error
}
