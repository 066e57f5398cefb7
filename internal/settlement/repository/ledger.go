package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gocart/internal/settlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ledgerRepo struct{}

func ProvideLedger() domain.LedgerRepository {
	return &ledgerRepo{}
}

// InsertEvent reports true only when this call created the row.
func (r *ledgerRepo) InsertEvent(ctx context.Context, db *gorm.DB, record *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *ledgerRepo) FindEvent(ctx context.Context, db *gorm.DB, provider string, eventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	res := db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Limit(1).
		Find(&item)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *ledgerRepo) TakeOverLease(ctx context.Context, db *gorm.DB, id snowflake.ID, staleToken string, token string, reservedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE settlement_events
		 SET lease_token = ?, reserved_at = ?
		 WHERE id = ? AND lease_token = ? AND status = ?`,
		token,
		reservedAt,
		id,
		staleToken,
		domain.RecordStatusReserved,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *ledgerRepo) ExpireLease(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, expiredAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE settlement_events
		 SET reserved_at = ?
		 WHERE id = ? AND lease_token = ? AND status = ?`,
		expiredAt,
		id,
		token,
		domain.RecordStatusReserved,
	).Error
}

func (r *ledgerRepo) MarkApplied(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, appliedAt time.Time, summary []byte) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE settlement_events
		 SET status = ?, applied_at = ?, result_summary = ?
		 WHERE id = ? AND lease_token = ? AND status = ?`,
		domain.RecordStatusApplied,
		appliedAt,
		string(summary),
		id,
		token,
		domain.RecordStatusReserved,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
