package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Bookfox/app/models"
)

type bookRepository struct {
	db *gorm.DB
}

// NewBookRepository creates a read-only view of the catalog books table
func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) GetByID(ctx context.Context, id uint) (*models.CatalogBook, error) {
	var book models.CatalogBook
	if err := r.db.WithContext(ctx).First(&book, id).Error; err != nil {
		return nil, notFound(err, "book")
	}
	return &book, nil
}
