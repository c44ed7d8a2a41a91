package billing

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/Bookfox/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	HasConfirmation(ctx context.Context, transactionRef string) (bool, error)
	CreateConfirmationIfNotExists(ctx context.Context, c *models.PaymentConfirmation) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) HasConfirmation(ctx context.Context, transactionRef string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PaymentConfirmation{}).
		Where("transaction_ref = ?", transactionRef).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) CreateConfirmationIfNotExists(ctx context.Context, c *models.PaymentConfirmation) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_ref"}},
		DoNothing: true,
	}).Create(c)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
