package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

// ErrPaymentRefUsed is returned when a payment reference already funded an entitlement.
var ErrPaymentRefUsed = apperr.New(apperr.CodeValidation, "payment reference already used")

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.CodeNotFound, what+" not found", err)
	}
	return err
}

func createUsage(tx *gorm.DB, usage *models.PaymentUsage, entitlementID uint) error {
	if usage == nil {
		return nil
	}
	usage.EntitlementID = entitlementID
	if err := tx.Create(usage).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrPaymentRefUsed
		}
		return err
	}
	return nil
}
