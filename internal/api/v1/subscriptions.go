package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Bookfox/internal/pkg/usercontext"
)

func (s *APIServer) PostSubscription(c *fiber.Ctx) error {
	var req SubscribeRequest
	if err := s.bind(c, &req); err != nil {
		return respondError(c, err)
	}
	sub, err := s.svc.Entitlements.Subscribe(requestContext(c), usercontext.GetUserID(c), req.PlanID, req.PaymentRef)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

func (s *APIServer) GetCurrentSubscription(c *fiber.Ctx) error {
	sub, err := s.svc.Entitlements.GetActiveSubscription(requestContext(c), usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

func (s *APIServer) PostRenewSubscription(c *fiber.Ctx) error {
	var req SubscribeRequest
	if err := s.bind(c, &req); err != nil {
		return respondError(c, err)
	}
	sub, err := s.svc.Entitlements.RenewSubscription(requestContext(c), usercontext.GetUserID(c), req.PlanID, req.PaymentRef)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

// PostCancelSubscription ends the caller's subscription immediately.
func (s *APIServer) PostCancelSubscription(c *fiber.Ctx) error {
	sub, err := s.svc.Entitlements.CancelSubscription(requestContext(c), usercontext.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}
