package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

var subscriptionColumns = []string{"plan_id", "status", "end_at", "payment_ref", "version", "active_slot", "cancelled_at", "updated_at"}

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func slotTaken(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Wrap(apperr.CodeSubscriptionActive, "user already has an active subscription", err)
	}
	return err
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *models.Subscription, usage *models.PaymentUsage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if sub.Version == 0 {
			sub.Version = 1
		}
		if err := tx.Create(sub).Error; err != nil {
			return slotTaken(err)
		}
		return createUsage(tx, usage, sub.ID)
	})
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		return nil, notFound(err, "subscription")
	}
	return &sub, nil
}

func (r *subscriptionRepository) FindByActiveSlot(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("active_slot = ?", userID).First(&sub).Error; err != nil {
		return nil, notFound(err, "subscription")
	}
	return &sub, nil
}

func (r *subscriptionRepository) Latest(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").First(&sub).Error; err != nil {
		return nil, notFound(err, "subscription")
	}
	return &sub, nil
}

func (r *subscriptionRepository) SaveIfVersion(ctx context.Context, sub *models.Subscription, expectedVersion int, usage *models.PaymentUsage) (bool, error) {
	saved := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub.Version = expectedVersion + 1
		res := tx.Model(&models.Subscription{}).
			Where("id = ? AND version = ?", sub.ID, expectedVersion).
			Select(subscriptionColumns).
			Updates(sub)
		if res.Error != nil {
			return slotTaken(res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		saved = true
		return createUsage(tx, usage, sub.ID)
	})
	if err != nil || !saved {
		sub.Version = expectedVersion
		return false, err
	}
	return true, nil
}

func (r *subscriptionRepository) ExpireBefore(ctx context.Context, now time.Time, limit int) (int64, error) {
	var ids []uint
	db := r.db.WithContext(ctx)
	if err := db.Model(&models.Subscription{}).
		Where("status = ? AND end_at < ?", models.SubscriptionStatusActive, now).
		Order("end_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.Model(&models.Subscription{}).
		Where("id IN ? AND status = ? AND end_at < ?", ids, models.SubscriptionStatusActive, now).
		Updates(map[string]interface{}{
			"status":      models.SubscriptionStatusExpired,
			"active_slot": nil,
			"version":     gorm.Expr("version + 1"),
			"updated_at":  now,
		})
	return res.RowsAffected, res.Error
}

func (r *subscriptionRepository) CountLiveByPlan(ctx context.Context, planID uint, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("plan_id = ? AND status = ? AND end_at >= ?", planID, models.SubscriptionStatusActive, now).
		Count(&count).Error
	return count, err
}
