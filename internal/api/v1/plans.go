package apiv1

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Bookfox/app/models"
)

// GetRentalPlans lists active rental plans, optionally for one book.
func (s *APIServer) GetRentalPlans(c *fiber.Ctx) error {
	ctx := requestContext(c)
	var (
		plans []models.RentalPlan
		err   error
	)
	if raw := c.Query("book_id"); raw != "" {
		bookID, perr := strconv.ParseUint(raw, 10, 64)
		if perr != nil || bookID == 0 {
			return badRequest(c, "book_id must be a positive integer")
		}
		plans, err = s.svc.Catalog.ListActiveForBook(ctx, uint(bookID))
	} else {
		plans, err = s.svc.Catalog.ListActive(ctx)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

func (s *APIServer) GetSubscriptionPlans(c *fiber.Ctx) error {
	plans, err := s.svc.Catalog.ListActiveSubscriptionPlans(requestContext(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

func currencyOrDefault(currency string) string {
	if currency == "" {
		return "EUR"
	}
	return strings.ToUpper(currency)
}

func (s *APIServer) PostRentalPlan(c *fiber.Ctx) error {
	var req CreateRentalPlanRequest
	if err := s.bind(c, &req); err != nil {
		return respondError(c, err)
	}
	plan := &models.RentalPlan{
		BookID:       req.BookID,
		Name:         req.Name,
		DurationDays: req.DurationDays,
		PriceCents:   req.PriceCents,
		Currency:     currencyOrDefault(req.Currency),
	}
	if err := s.svc.Catalog.Create(requestContext(c), plan); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(plan)
}

func (s *APIServer) PostSubscriptionPlan(c *fiber.Ctx) error {
	var req CreateSubscriptionPlanRequest
	if err := s.bind(c, &req); err != nil {
		return respondError(c, err)
	}
	plan := &models.SubscriptionPlan{
		Name:         req.Name,
		DurationDays: req.DurationDays,
		PriceCents:   req.PriceCents,
		Currency:     currencyOrDefault(req.Currency),
	}
	if err := s.svc.Catalog.CreateSubscriptionPlan(requestContext(c), plan); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(plan)
}

func (s *APIServer) PostDeactivateRentalPlan(c *fiber.Ctx) error {
	id, err := uintParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := s.svc.Catalog.Deactivate(requestContext(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteRentalPlan fails with plan_in_use while a live rental references the plan.
func (s *APIServer) DeleteRentalPlan(c *fiber.Ctx) error {
	id, err := uintParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := s.svc.Catalog.Delete(requestContext(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *APIServer) PostDeactivateSubscriptionPlan(c *fiber.Ctx) error {
	id, err := uintParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := s.svc.Catalog.DeactivateSubscriptionPlan(requestContext(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *APIServer) DeleteSubscriptionPlan(c *fiber.Ctx) error {
	id, err := uintParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := s.svc.Catalog.DeleteSubscriptionPlan(requestContext(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
