package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

type RentRequest struct {
	BookID     uint   `json:"book_id" validate:"required"`
	PlanID     uint   `json:"plan_id" validate:"required"`
	PaymentRef string `json:"payment_ref" validate:"required,max=191"`
}

type RenewRequest struct {
	PlanID     uint   `json:"plan_id" validate:"required"`
	PaymentRef string `json:"payment_ref" validate:"required,max=191"`
}

type SubscribeRequest struct {
	PlanID     uint   `json:"plan_id" validate:"required"`
	PaymentRef string `json:"payment_ref" validate:"required,max=191"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

type CreateRentalPlanRequest struct {
	BookID       uint   `json:"book_id" validate:"required"`
	Name         string `json:"name" validate:"required,max=100"`
	DurationDays int    `json:"duration_days" validate:"required,min=1,max=3650"`
	PriceCents   int64  `json:"price_cents" validate:"min=0"`
	Currency     string `json:"currency" validate:"omitempty,len=3"`
}

type CreateSubscriptionPlanRequest struct {
	Name         string `json:"name" validate:"required,max=100"`
	DurationDays int    `json:"duration_days" validate:"required,min=1,max=3650"`
	PriceCents   int64  `json:"price_cents" validate:"min=0"`
	Currency     string `json:"currency" validate:"omitempty,len=3"`
}

// bind parses the JSON body into req and validates it.
func (s *APIServer) bind(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "malformed request body", err)
	}
	if err := s.validate.Struct(req); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "invalid request", err)
	}
	return nil
}
