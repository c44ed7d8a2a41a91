package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Bookfox/internal/pkg/usercontext"
)

// PostRental rents a book for the caller.
func (s *APIServer) PostRental(c *fiber.Ctx) error {
	var req RentRequest
	if err := s.bind(c, &req); err != nil {
		return respondError(c, err)
	}
	rental, err := s.svc.Entitlements.CreateRental(requestContext(c), usercontext.GetUserID(c), req.BookID, req.PlanID, req.PaymentRef)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rental)
}

// GetRentals lists the caller's rentals with their effective status.
func (s *APIServer) GetRentals(c *fiber.Ctx) error {
	rentals, err := s.svc.Entitlements.ListRentals(requestContext(c), usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"rentals": rentals})
}

func (s *APIServer) GetRental(c *fiber.Ctx) error {
	id, err := uintParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	rental, err := s.svc.Entitlements.GetRental(requestContext(c), usercontext.GetUserID(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rental)
}

// PostRenewRental extends an active rental or starts a new one after expiry.
func (s *APIServer) PostRenewRental(c *fiber.Ctx) error {
	id, err := uintParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req RenewRequest
	if err := s.bind(c, &req); err != nil {
		return respondError(c, err)
	}
	rental, err := s.svc.Entitlements.RenewRental(requestContext(c), usercontext.GetUserID(c), id, req.PlanID, req.PaymentRef)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rental)
}

// PostReturnRental ends a rental early.
func (s *APIServer) PostReturnRental(c *fiber.Ctx) error {
	id, err := uintParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	rental, err := s.svc.Entitlements.ReturnRental(requestContext(c), usercontext.GetUserID(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rental)
}
