package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Bookfox/app/models"
)

// planRepository implements the PlanRepository interface
type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) CreateRentalPlan(ctx context.Context, plan *models.RentalPlan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *planRepository) GetRentalPlan(ctx context.Context, id uint) (*models.RentalPlan, error) {
	var plan models.RentalPlan
	if err := r.db.WithContext(ctx).First(&plan, id).Error; err != nil {
		return nil, notFound(err, "rental plan")
	}
	return &plan, nil
}

// ListActiveRentalPlans lists active plans; bookID 0 means all books.
func (r *planRepository) ListActiveRentalPlans(ctx context.Context, bookID uint) ([]models.RentalPlan, error) {
	var plans []models.RentalPlan
	q := r.db.WithContext(ctx).Where("is_active = ?", true)
	if bookID != 0 {
		q = q.Where("book_id = ?", bookID)
	}
	err := q.Order("book_id ASC, duration_days ASC, id ASC").Find(&plans).Error
	return plans, err
}

func (r *planRepository) SetRentalPlanActive(ctx context.Context, id uint, active bool) error {
	res := r.db.WithContext(ctx).Model(&models.RentalPlan{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// MySQL reports 0 rows when the value did not change, so check existence.
		_, err := r.GetRentalPlan(ctx, id)
		return err
	}
	return nil
}

func (r *planRepository) DeleteRentalPlan(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.RentalPlan{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "rental plan")
	}
	return nil
}

func (r *planRepository) CreateSubscriptionPlan(ctx context.Context, plan *models.SubscriptionPlan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *planRepository) GetSubscriptionPlan(ctx context.Context, id uint) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := r.db.WithContext(ctx).First(&plan, id).Error; err != nil {
		return nil, notFound(err, "subscription plan")
	}
	return &plan, nil
}

func (r *planRepository) ListActiveSubscriptionPlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("duration_days ASC, id ASC").Find(&plans).Error
	return plans, err
}

func (r *planRepository) SetSubscriptionPlanActive(ctx context.Context, id uint, active bool) error {
	res := r.db.WithContext(ctx).Model(&models.SubscriptionPlan{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		_, err := r.GetSubscriptionPlan(ctx, id)
		return err
	}
	return nil
}

func (r *planRepository) DeleteSubscriptionPlan(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.SubscriptionPlan{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "subscription plan")
	}
	return nil
}
