package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

// rentalColumns are the mutable columns written by SaveIfVersion.
var rentalColumns = []string{"plan_id", "status", "end_at", "payment_ref", "version", "live_slot", "returned_at", "cancelled_at", "cancel_reason", "updated_at"}

func liveSlotTaken(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Wrap(apperr.CodeStateConflict, "book already has a live rental for this user", err)
	}
	return err
}

// rentalRepository implements the RentalRepository interface
type rentalRepository struct {
	db *gorm.DB
}

// NewRentalRepository creates a new rental repository instance
func NewRentalRepository(db *gorm.DB) RentalRepository {
	return &rentalRepository{db: db}
}

func (r *rentalRepository) Create(ctx context.Context, rental *models.Rental, usage *models.PaymentUsage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rental.Version == 0 {
			rental.Version = 1
		}
		if err := tx.Create(rental).Error; err != nil {
			return liveSlotTaken(err)
		}
		return createUsage(tx, usage, rental.ID)
	})
}

func (r *rentalRepository) GetByID(ctx context.Context, id uint) (*models.Rental, error) {
	var rental models.Rental
	if err := r.db.WithContext(ctx).First(&rental, id).Error; err != nil {
		return nil, notFound(err, "rental")
	}
	return &rental, nil
}

func (r *rentalRepository) ListByUser(ctx context.Context, userID string) ([]models.Rental, error) {
	var rentals []models.Rental
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&rentals).Error
	return rentals, err
}

func (r *rentalRepository) ListByUserAndBook(ctx context.Context, userID string, bookID uint) ([]models.Rental, error) {
	var rentals []models.Rental
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND book_id = ?", userID, bookID).
		Order("id DESC").
		Find(&rentals).Error
	return rentals, err
}

func (r *rentalRepository) SaveIfVersion(ctx context.Context, rental *models.Rental, expectedVersion int, usage *models.PaymentUsage) (bool, error) {
	saved := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rental.Version = expectedVersion + 1
		res := tx.Model(&models.Rental{}).
			Where("id = ? AND version = ?", rental.ID, expectedVersion).
			Select(rentalColumns).
			Updates(rental)
		if res.Error != nil {
			return liveSlotTaken(res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		saved = true
		return createUsage(tx, usage, rental.ID)
	})
	if err != nil || !saved {
		rental.Version = expectedVersion
		return false, err
	}
	return true, nil
}

func (r *rentalRepository) ExpireBefore(ctx context.Context, now time.Time, limit int) (int64, error) {
	var ids []uint
	db := r.db.WithContext(ctx)
	if err := db.Model(&models.Rental{}).
		Where("status = ? AND end_at < ?", models.RentalStatusActive, now).
		Order("end_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	// Status guard keeps concurrent returns and renewals from being overwritten.
	res := db.Model(&models.Rental{}).
		Where("id IN ? AND status = ? AND end_at < ?", ids, models.RentalStatusActive, now).
		Updates(map[string]interface{}{
			"status":     models.RentalStatusExpired,
			"live_slot":  nil,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *rentalRepository) CountLiveByPlan(ctx context.Context, planID uint, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Rental{}).
		Where("plan_id = ? AND status = ? AND end_at >= ?", planID, models.RentalStatusActive, now).
		Count(&count).Error
	return count, err
}
