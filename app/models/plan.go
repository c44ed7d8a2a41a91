package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// RentalPlan is a purchasable time-boxed rental of a single book.
// Plans are deactivated rather than deleted once rentals reference them.
type RentalPlan struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	BookID       uint      `gorm:"not null;index:idx_rental_plans_book_active,priority:1" json:"book_id" validate:"required"`
	Name         string    `gorm:"type:varchar(100);not null" json:"name" validate:"required,max=100"`
	DurationDays int       `gorm:"not null" json:"duration_days" validate:"required,min=1,max=3650"`
	PriceCents   int64     `gorm:"not null;default:0" json:"price_cents" validate:"min=0"`
	Currency     string    `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency" validate:"omitempty,len=3"`
	IsActive     bool      `gorm:"not null;default:true;index:idx_rental_plans_book_active,priority:2" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *RentalPlan) Validate() error {
	return validator.New().Struct(p)
}

// Duration returns the access window one purchase of this plan adds.
func (p *RentalPlan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// SubscriptionPlan grants access to every subscription-eligible book.
type SubscriptionPlan struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(100);not null" json:"name" validate:"required,max=100"`
	DurationDays int       `gorm:"not null" json:"duration_days" validate:"required,min=1,max=3650"`
	PriceCents   int64     `gorm:"not null;default:0" json:"price_cents" validate:"min=0"`
	Currency     string    `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency" validate:"omitempty,len=3"`
	IsActive     bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *SubscriptionPlan) Validate() error {
	return validator.New().Struct(p)
}

func (p *SubscriptionPlan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}
